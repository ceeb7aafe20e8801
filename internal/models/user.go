package models

import (
	"time"
)

// User is the account a credential check runs against
type User struct {
	ID           string
	Email        string
	PasswordHash string
	Name         string
	Roles        []string
	TenantID     *string // optional organization claim
	MFAEnabled   bool
	IsLocked     bool
	LockoutEndAt *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// LockedAt reports whether the account is under an unexpired lockout at now
func (u *User) LockedAt(now time.Time) bool {
	return u.IsLocked && u.LockoutEndAt != nil && u.LockoutEndAt.After(now)
}

// HasRole checks role membership
func (u *User) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}
