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

type mfaRepo struct {
	q database.DBTX
}

func (r *mfaRepo) GetSecret(ctx context.Context, userID string) (*models.MFASecret, error) {
	query := `
		SELECT user_id, encrypted_secret, is_verified, is_enabled, last_used_at, created_at, updated_at
		FROM mfa_secrets WHERE user_id = $1
	`

	var s models.MFASecret
	err := r.q.QueryRow(ctx, query, userID).Scan(
		&s.UserID, &s.EncryptedSecret, &s.IsVerified, &s.IsEnabled, &s.LastUsedAt, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &s, nil
}

// UpsertSecret stores a new secret, resetting verification on conflict
func (r *mfaRepo) UpsertSecret(ctx context.Context, secret *models.MFASecret) error {
	query := `
		INSERT INTO mfa_secrets (user_id, encrypted_secret, is_verified, is_enabled, last_used_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id) DO UPDATE SET
			encrypted_secret = EXCLUDED.encrypted_secret,
			is_verified = EXCLUDED.is_verified,
			is_enabled = EXCLUDED.is_enabled,
			last_used_at = EXCLUDED.last_used_at,
			updated_at = EXCLUDED.updated_at
	`

	_, err := r.q.Exec(ctx, query,
		secret.UserID, secret.EncryptedSecret, secret.IsVerified, secret.IsEnabled,
		secret.LastUsedAt, secret.CreatedAt, secret.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to store MFA secret: %w", database.MapPostgresError(err))
	}
	return nil
}

func (r *mfaRepo) UpdateSecretState(ctx context.Context, userID string, verified, enabled bool, at time.Time) error {
	query := `UPDATE mfa_secrets SET is_verified = $2, is_enabled = $3, updated_at = $4 WHERE user_id = $1`

	result, err := r.q.Exec(ctx, query, userID, verified, enabled, at)
	if err != nil {
		return fmt.Errorf("failed to update MFA secret: %w", database.MapPostgresError(err))
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (r *mfaRepo) TouchSecret(ctx context.Context, userID string, at time.Time) error {
	query := `UPDATE mfa_secrets SET last_used_at = $2 WHERE user_id = $1`

	if _, err := r.q.Exec(ctx, query, userID, at); err != nil {
		return fmt.Errorf("failed to update MFA last use: %w", err)
	}
	return nil
}

func (r *mfaRepo) DeleteSecret(ctx context.Context, userID string) error {
	if _, err := r.q.Exec(ctx, `DELETE FROM mfa_recovery_codes WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to delete recovery codes: %w", err)
	}
	if _, err := r.q.Exec(ctx, `DELETE FROM mfa_secrets WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to delete MFA secret: %w", err)
	}
	return nil
}

// ReplaceRecoveryCodes swaps the user's whole code set
func (r *mfaRepo) ReplaceRecoveryCodes(ctx context.Context, userID string, codeHashes []string, at time.Time) error {
	if _, err := r.q.Exec(ctx, `DELETE FROM mfa_recovery_codes WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to clear recovery codes: %w", err)
	}

	if len(codeHashes) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, h := range codeHashes {
		batch.Queue(
			`INSERT INTO mfa_recovery_codes (id, user_id, code_hash, created_at) VALUES ($1, $2, $3, $4)`,
			uuid.New().String(), userID, h, at,
		)
	}

	results := r.q.SendBatch(ctx, batch)
	defer results.Close()

	for range codeHashes {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to insert recovery code: %w", database.MapPostgresError(err))
		}
	}
	return nil
}

func (r *mfaRepo) GetRecoveryCode(ctx context.Context, userID, codeHash string) (*models.RecoveryCode, error) {
	query := `
		SELECT id, user_id, code_hash, used_at, created_at
		FROM mfa_recovery_codes WHERE user_id = $1 AND code_hash = $2
	`

	var c models.RecoveryCode
	err := r.q.QueryRow(ctx, query, userID, codeHash).Scan(&c.ID, &c.UserID, &c.CodeHash, &c.UsedAt, &c.CreatedAt)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &c, nil
}

// ConsumeRecoveryCode marks a code used iff it is still unused
func (r *mfaRepo) ConsumeRecoveryCode(ctx context.Context, userID, codeHash string, at time.Time) (bool, error) {
	query := `
		UPDATE mfa_recovery_codes SET used_at = $3
		WHERE user_id = $1 AND code_hash = $2 AND used_at IS NULL
	`

	result, err := r.q.Exec(ctx, query, userID, codeHash, at)
	if err != nil {
		return false, fmt.Errorf("failed to consume recovery code: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

func (r *mfaRepo) CountUnusedRecoveryCodes(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.q.QueryRow(ctx,
		`SELECT COUNT(*) FROM mfa_recovery_codes WHERE user_id = $1 AND used_at IS NULL`, userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count recovery codes: %w", err)
	}
	return count, nil
}
