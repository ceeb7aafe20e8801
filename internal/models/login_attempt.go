package models

import "time"

// LoginAttempt is an immutable record of a single password check
type LoginAttempt struct {
	ID            string    `db:"id"`
	UserID        string    `db:"user_id"`
	Success       bool      `db:"success"`
	FailureReason *string   `db:"failure_reason"`
	IPAddress     string    `db:"ip_address"`
	UserAgent     string    `db:"user_agent"`
	AttemptedAt   time.Time `db:"attempted_at"`
}

// MFAAttempt is an immutable record of one answer to an MFA challenge
type MFAAttempt struct {
	ID            string    `db:"id"`
	UserID        string    `db:"user_id"`
	ChallengeID   string    `db:"challenge_id"`
	Method        string    `db:"method"`
	Success       bool      `db:"success"`
	FailureReason *string   `db:"failure_reason"`
	IPAddress     string    `db:"ip_address"`
	UserAgent     string    `db:"user_agent"`
	AttemptedAt   time.Time `db:"attempted_at"`
}
