package models

import "time"

// Token purposes stored on refresh_tokens rows
const (
	TokenPurposeRefresh      = "refresh"
	TokenPurposeMFAChallenge = "mfa_challenge"
)

// Revocation reasons
const (
	RevocationReasonRotated       = "rotated"
	RevocationReasonMFAVerified   = "mfa-verified"
	RevocationReasonReuseDetected = "reuse-detected"
	RevocationReasonLogout        = "logout"
	RevocationReasonLogoutAll     = "logout-all"
	RevocationReasonAdmin         = "admin"
	RevocationReasonMFAAttempts   = "mfa-attempts-exceeded"
)

// RefreshToken is one issued opaque token: a device session when Purpose is
// refresh, or a one-time MFA challenge when Purpose is mfa_challenge.
// Rows are only ever mutated by a conditional revoke and are never deleted.
type RefreshToken struct {
	ID               string     `db:"id"`
	UserID           string     `db:"user_id"`
	Token            string     `db:"token"`
	Purpose          string     `db:"purpose"`
	MFAAsserted      bool       `db:"mfa_asserted"`
	UserAgent        string     `db:"user_agent"`
	IPAddress        string     `db:"ip_address"`
	CreatedAt        time.Time  `db:"created_at"`
	ExpiresAt        time.Time  `db:"expires_at"`
	IsRevoked        bool       `db:"is_revoked"`
	RevokedAt        *time.Time `db:"revoked_at"`
	RevocationReason *string    `db:"revocation_reason"`
	ReplacedByToken  *string    `db:"replaced_by_token"`
}

// IsExpired reports whether the token expired at or before now
func (t *RefreshToken) IsExpired(now time.Time) bool {
	return !t.ExpiresAt.After(now)
}

// IsActive reports whether the token is neither revoked nor expired
func (t *RefreshToken) IsActive(now time.Time) bool {
	return !t.IsRevoked && !t.IsExpired(now)
}
