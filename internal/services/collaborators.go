package services

import (
	"context"
	"time"

	"github.com/BradenHooton/keystone/internal/auth"
	"github.com/BradenHooton/keystone/internal/models"
)

// Clock is the injectable source of now
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// PasswordHasher hashes and checks passwords
type PasswordHasher interface {
	Hash(ctx context.Context, plain string) (string, error)
	Verify(ctx context.Context, plain, hash string) (bool, error)
}

// TOTPPrimitive generates and checks one-time codes
type TOTPPrimitive interface {
	GenerateSecret(accountName string) (*auth.TOTPKey, error)
	VerifyCode(ctx context.Context, secret, code string, windowSteps int) (bool, error)
	GenerateRecoveryCodes(count int) ([]string, error)
}

// SecretSealer encrypts TOTP secrets at rest
type SecretSealer interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(sealed []byte) ([]byte, error)
}

// QRCodeRenderer turns a provisioning URL into an image data URL
type QRCodeRenderer interface {
	QRCodeDataURL(provisioningURL string) (string, error)
}

// TokenSigner signs and validates access tokens
type TokenSigner interface {
	Sign(claims *models.TokenClaims, expiresAt time.Time) (string, error)
	Validate(token string) (*models.TokenClaims, error)
}

// AuditSink persists audit entries
type AuditSink interface {
	Append(ctx context.Context, entry *models.AuditLog) error
}

// SecurityNotifier tells account owners about security events
type SecurityNotifier interface {
	NotifyAccountLocked(ctx context.Context, user *models.User, until time.Time, rc models.RequestContext) error
	NotifyTokenReuse(ctx context.Context, user *models.User, revokedSessions int64, rc models.RequestContext) error
}
