package models

import (
	"time"
)

// MFAState tracks where a login sits in the second-factor flow
type MFAState string

const (
	MFAStateNotRequired MFAState = "not_required"
	MFAStateChallenged  MFAState = "challenged"
	MFAStateVerified    MFAState = "verified"
	MFAStateFailed      MFAState = "failed"
)

// MFASecret holds a user's sealed TOTP secret.
// IsEnabled must never be true while IsVerified is false.
type MFASecret struct {
	UserID          string     `db:"user_id"`
	EncryptedSecret []byte     `db:"encrypted_secret"` // nonce || AES-GCM ciphertext
	IsVerified      bool       `db:"is_verified"`
	IsEnabled       bool       `db:"is_enabled"`
	LastUsedAt      *time.Time `db:"last_used_at"`
	CreatedAt       time.Time  `db:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at"`
}

// RecoveryCode is a single-use backup credential, stored hashed
type RecoveryCode struct {
	ID        string     `db:"id"`
	UserID    string     `db:"user_id"`
	CodeHash  string     `db:"code_hash"`
	UsedAt    *time.Time `db:"used_at"`
	CreatedAt time.Time  `db:"created_at"`
}

// IsUsed reports whether the code has already been consumed
func (c *RecoveryCode) IsUsed() bool {
	return c.UsedAt != nil
}
