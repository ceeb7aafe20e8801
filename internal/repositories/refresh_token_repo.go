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

type refreshTokenRepo struct {
	q database.DBTX
}

const refreshTokenColumns = `id, user_id, token, purpose, mfa_asserted, user_agent, ip_address,
	created_at, expires_at, is_revoked, revoked_at, revocation_reason, replaced_by_token`

func scanRefreshTokenRow(scanner rowScanner) (*models.RefreshToken, error) {
	var t models.RefreshToken

	err := scanner.Scan(
		&t.ID, &t.UserID, &t.Token, &t.Purpose, &t.MFAAsserted, &t.UserAgent, &t.IPAddress,
		&t.CreatedAt, &t.ExpiresAt, &t.IsRevoked, &t.RevokedAt, &t.RevocationReason, &t.ReplacedByToken,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &t, nil
}

func scanRefreshTokenRows(rows pgx.Rows) ([]*models.RefreshToken, error) {
	defer rows.Close()

	tokens := make([]*models.RefreshToken, 0)
	for rows.Next() {
		t, err := scanRefreshTokenRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan refresh token: %w", err)
		}
		tokens = append(tokens, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating refresh token rows: %w", err)
	}
	return tokens, nil
}

func (r *refreshTokenRepo) Create(ctx context.Context, token *models.RefreshToken) error {
	if token.ID == "" {
		token.ID = uuid.New().String()
	}

	query := `INSERT INTO refresh_tokens (` + refreshTokenColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := r.q.Exec(ctx, query,
		token.ID, token.UserID, token.Token, token.Purpose, token.MFAAsserted, token.UserAgent, token.IPAddress,
		token.CreatedAt, token.ExpiresAt, token.IsRevoked, token.RevokedAt, token.RevocationReason, token.ReplacedByToken,
	)
	if err != nil {
		return fmt.Errorf("failed to create refresh token: %w", database.MapPostgresError(err))
	}
	return nil
}

func (r *refreshTokenRepo) GetByToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	query := `SELECT ` + refreshTokenColumns + ` FROM refresh_tokens WHERE token = $1`
	return scanRefreshTokenRow(r.q.QueryRow(ctx, query, token))
}

// TryRevokeAndChain is the single serialization point for rotation: concurrent
// callers on the same row block on the row lock and all but one see zero rows.
func (r *refreshTokenRepo) TryRevokeAndChain(ctx context.Context, id string, replacedBy *string, reason string, at time.Time) (bool, error) {
	query := `
		UPDATE refresh_tokens
		SET is_revoked = true, revoked_at = $2, revocation_reason = $3, replaced_by_token = $4
		WHERE id = $1 AND is_revoked = false
	`

	result, err := r.q.Exec(ctx, query, id, at, reason, replacedBy)
	if err != nil {
		return false, fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

func (r *refreshTokenRepo) RevokeAllForUser(ctx context.Context, userID, reason string, at time.Time) (int64, error) {
	query := `
		UPDATE refresh_tokens
		SET is_revoked = true, revoked_at = $2, revocation_reason = $3
		WHERE user_id = $1 AND is_revoked = false AND expires_at > $2
	`

	result, err := r.q.Exec(ctx, query, userID, at, reason)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke user sessions: %w", err)
	}
	return result.RowsAffected(), nil
}

func (r *refreshTokenRepo) ListActiveForUser(ctx context.Context, userID string, now time.Time) ([]*models.RefreshToken, error) {
	query := `SELECT ` + refreshTokenColumns + ` FROM refresh_tokens
		WHERE user_id = $1 AND purpose = $2 AND is_revoked = false AND expires_at > $3
		ORDER BY created_at DESC`

	rows, err := r.q.Query(ctx, query, userID, models.TokenPurposeRefresh, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return scanRefreshTokenRows(rows)
}
