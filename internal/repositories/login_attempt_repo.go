package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/keystone/internal/database"
	"github.com/BradenHooton/keystone/internal/models"
	"github.com/google/uuid"
)

type loginAttemptRepo struct {
	q database.DBTX
}

func (r *loginAttemptRepo) Record(ctx context.Context, attempt *models.LoginAttempt) error {
	if attempt.ID == "" {
		attempt.ID = uuid.New().String()
	}

	query := `
		INSERT INTO login_attempts (id, user_id, success, failure_reason, ip_address, user_agent, attempted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.q.Exec(ctx, query,
		attempt.ID,
		attempt.UserID,
		attempt.Success,
		attempt.FailureReason,
		attempt.IPAddress,
		attempt.UserAgent,
		attempt.AttemptedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record login attempt: %w", database.MapPostgresError(err))
	}
	return nil
}

// CountFailuresSince returns failed attempts for a user at or after since
func (r *loginAttemptRepo) CountFailuresSince(ctx context.Context, userID string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM login_attempts
		WHERE user_id = $1 AND success = false AND attempted_at >= $2
	`

	var count int
	if err := r.q.QueryRow(ctx, query, userID, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count login failures: %w", err)
	}
	return count, nil
}
