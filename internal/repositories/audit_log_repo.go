package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/keystone/internal/database"
	"github.com/BradenHooton/keystone/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// AuditLogRepository writes audit entries on the pool, outside any business
// transaction, so an entry survives a rollback of the operation it describes.
type AuditLogRepository struct {
	q database.DBTX
}

// NewAuditLogRepository creates a new AuditLogRepository
func NewAuditLogRepository(db *database.DB) *AuditLogRepository {
	return &AuditLogRepository{q: db.Pool}
}

func scanAuditLogRow(row rowScanner) (*models.AuditLog, error) {
	var log models.AuditLog

	err := row.Scan(
		&log.ID, &log.Action, &log.ActorID, &log.TargetID, &log.Success, &log.Severity,
		&log.FailureReason, &log.Description, &log.IPAddress, &log.UserAgent, &log.Metadata,
		&log.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &log, nil
}

func scanAuditLogRows(rows pgx.Rows) ([]*models.AuditLog, error) {
	defer rows.Close()

	logs := make([]*models.AuditLog, 0)

	for rows.Next() {
		log, err := scanAuditLogRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		logs = append(logs, log)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit log rows: %w", err)
	}

	return logs, nil
}

// Append inserts an audit entry
func (r *AuditLogRepository) Append(ctx context.Context, log *models.AuditLog) error {
	if log.ID == "" {
		log.ID = uuid.New().String()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO audit_logs (
			id, action, actor_id, target_id, success, severity, failure_reason,
			description, ip_address, user_agent, metadata, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := r.q.Exec(ctx, query,
		log.ID, log.Action, log.ActorID, log.TargetID, log.Success, string(log.Severity), log.FailureReason,
		log.Description, log.IPAddress, log.UserAgent, log.Metadata, log.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	return nil
}

// ListByActor returns the newest entries recorded for an actor
func (r *AuditLogRepository) ListByActor(ctx context.Context, actorID string, limit int) ([]*models.AuditLog, error) {
	query := `
		SELECT id, action, actor_id, target_id, success, severity, failure_reason,
		       description, ip_address, user_agent, metadata, created_at
		FROM audit_logs
		WHERE actor_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.q.Query(ctx, query, actorID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit logs: %w", err)
	}
	return scanAuditLogRows(rows)
}
