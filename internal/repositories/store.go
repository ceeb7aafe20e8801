package repositories

import (
	"context"
	"time"

	"github.com/BradenHooton/keystone/internal/database"
	"github.com/BradenHooton/keystone/internal/models"
	"github.com/jackc/pgx/v5"
)

// Users persists accounts and their lockout state
type Users interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	UpdateLockout(ctx context.Context, userID string, isLocked bool, lockoutEnd *time.Time, at time.Time) error
	SetMFAEnabled(ctx context.Context, userID string, enabled bool, at time.Time) error
	ReleaseExpiredLockouts(ctx context.Context, now time.Time) (int64, error)
}

// LoginAttempts is an append-only log of password checks
type LoginAttempts interface {
	Record(ctx context.Context, attempt *models.LoginAttempt) error
	CountFailuresSince(ctx context.Context, userID string, since time.Time) (int, error)
}

// MFAAttempts is an append-only log of answers to MFA challenges
type MFAAttempts interface {
	Record(ctx context.Context, attempt *models.MFAAttempt) error
	CountFailuresSince(ctx context.Context, userID string, since time.Time) (int, error)
}

// RefreshTokens persists device sessions and MFA challenges. Rows are never
// deleted; the only mutation is the conditional revoke.
type RefreshTokens interface {
	Create(ctx context.Context, token *models.RefreshToken) error
	GetByToken(ctx context.Context, token string) (*models.RefreshToken, error)
	// TryRevokeAndChain revokes the row iff it is still unrevoked, recording
	// the reason and successor token in the same write. It returns false when
	// another caller revoked it first.
	TryRevokeAndChain(ctx context.Context, id string, replacedBy *string, reason string, at time.Time) (bool, error)
	RevokeAllForUser(ctx context.Context, userID, reason string, at time.Time) (int64, error)
	ListActiveForUser(ctx context.Context, userID string, now time.Time) ([]*models.RefreshToken, error)
}

// MFASecrets persists TOTP secrets and recovery codes
type MFASecrets interface {
	GetSecret(ctx context.Context, userID string) (*models.MFASecret, error)
	UpsertSecret(ctx context.Context, secret *models.MFASecret) error
	UpdateSecretState(ctx context.Context, userID string, verified, enabled bool, at time.Time) error
	TouchSecret(ctx context.Context, userID string, at time.Time) error
	DeleteSecret(ctx context.Context, userID string) error
	ReplaceRecoveryCodes(ctx context.Context, userID string, codeHashes []string, at time.Time) error
	GetRecoveryCode(ctx context.Context, userID, codeHash string) (*models.RecoveryCode, error)
	ConsumeRecoveryCode(ctx context.Context, userID, codeHash string, at time.Time) (bool, error)
	CountUnusedRecoveryCodes(ctx context.Context, userID string) (int, error)
}

// Permissions reads the role catalog
type Permissions interface {
	GetRolePermissions(ctx context.Context, role string) ([]string, error)
	GrantPermission(ctx context.Context, role, permission string) error
}

// Store is the unit-of-work facade. Repositories obtained from the tx argument
// of WithinTx share one transaction.
type Store interface {
	Users() Users
	LoginAttempts() LoginAttempts
	RefreshTokens() RefreshTokens
	MFASecrets() MFASecrets
	MFAAttempts() MFAAttempts
	Permissions() Permissions
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}

// rowScanner is implemented by pgx.Row and pgx.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// PostgresStore implements Store on pgx
type PostgresStore struct {
	db   *database.DB
	q    database.DBTX
	inTx bool
}

// NewPostgresStore creates a store bound to the pool
func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{db: db, q: db.Pool}
}

func (s *PostgresStore) Users() Users                 { return &userRepo{q: s.q} }
func (s *PostgresStore) LoginAttempts() LoginAttempts { return &loginAttemptRepo{q: s.q} }
func (s *PostgresStore) RefreshTokens() RefreshTokens { return &refreshTokenRepo{q: s.q} }
func (s *PostgresStore) MFASecrets() MFASecrets       { return &mfaRepo{q: s.q} }
func (s *PostgresStore) MFAAttempts() MFAAttempts     { return &mfaAttemptRepo{q: s.q} }

// Permissions reads the role catalog on the store's connection. Inside
// WithinTx the reads join the transaction.
func (s *PostgresStore) Permissions() Permissions { return &permissionRepo{q: s.q} }

// WithinTx runs fn in a transaction. Nested calls join the outer transaction.
func (s *PostgresStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	if s.inTx {
		return fn(ctx, s)
	}
	return s.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		return fn(ctx, &PostgresStore{db: s.db, q: tx, inTx: true})
	})
}
