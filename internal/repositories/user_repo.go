package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/keystone/internal/database"
	"github.com/BradenHooton/keystone/internal/models"
	"github.com/google/uuid"
)

type userRepo struct {
	q database.DBTX
}

// NewUserRepository returns a Users repository bound to the pool
func NewUserRepository(db *database.DB) Users {
	return &userRepo{q: db.Pool}
}

const userColumns = `id, email, password_hash, name, roles, tenant_id, mfa_enabled,
	is_locked, lockout_end_at, created_at, updated_at`

func scanUserRow(scanner rowScanner) (*models.User, error) {
	var user models.User

	err := scanner.Scan(
		&user.ID, &user.Email, &user.PasswordHash, &user.Name, &user.Roles, &user.TenantID,
		&user.MFAEnabled, &user.IsLocked, &user.LockoutEndAt, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &user, nil
}

func (r *userRepo) GetByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUserRow(r.q.QueryRow(ctx, query, id))
}

func (r *userRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE lower(email) = lower($1)`
	return scanUserRow(r.q.QueryRow(ctx, query, email))
}

func (r *userRepo) Create(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	if user.Roles == nil {
		user.Roles = []string{}
	}
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = user.CreatedAt

	query := `
		INSERT INTO users (` + userColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := r.q.Exec(ctx, query,
		user.ID, user.Email, user.PasswordHash, user.Name, user.Roles, user.TenantID,
		user.MFAEnabled, user.IsLocked, user.LockoutEndAt, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", database.MapPostgresError(err))
	}
	return nil
}

func (r *userRepo) UpdateLockout(ctx context.Context, userID string, isLocked bool, lockoutEnd *time.Time, at time.Time) error {
	query := `UPDATE users SET is_locked = $2, lockout_end_at = $3, updated_at = $4 WHERE id = $1`

	result, err := r.q.Exec(ctx, query, userID, isLocked, lockoutEnd, at)
	if err != nil {
		return fmt.Errorf("failed to update lockout: %w", err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (r *userRepo) SetMFAEnabled(ctx context.Context, userID string, enabled bool, at time.Time) error {
	query := `UPDATE users SET mfa_enabled = $2, updated_at = $3 WHERE id = $1`

	result, err := r.q.Exec(ctx, query, userID, enabled, at)
	if err != nil {
		return fmt.Errorf("failed to update mfa flag: %w", err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// ReleaseExpiredLockouts clears lock flags whose end time has passed
func (r *userRepo) ReleaseExpiredLockouts(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE users SET is_locked = false, lockout_end_at = NULL, updated_at = $1
		WHERE is_locked AND lockout_end_at <= $1
	`

	result, err := r.q.Exec(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("failed to release expired lockouts: %w", err)
	}
	return result.RowsAffected(), nil
}
