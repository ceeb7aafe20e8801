package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/keystone/internal/models"
	"github.com/BradenHooton/keystone/internal/repositories"
)

// LockoutPolicy controls when repeated failures lock an account
type LockoutPolicy struct {
	Threshold int           // failures in Window that trigger a lock
	Window    time.Duration // look-back window for counting failures
	Duration  time.Duration // how long a lock lasts
}

// DefaultLockoutPolicy is five failures in fifteen minutes, locked for thirty
var DefaultLockoutPolicy = LockoutPolicy{
	Threshold: 5,
	Window:    15 * time.Minute,
	Duration:  30 * time.Minute,
}

// VerifyOutcome is the result of one password check
type VerifyOutcome struct {
	Success        bool
	Locked         bool
	JustLocked     bool // this attempt crossed the threshold
	LockoutEnd     *time.Time
	FailedAttempts int
}

// CredentialVerifier checks passwords, records every attempt and applies lockout
type CredentialVerifier struct {
	hasher PasswordHasher
	policy LockoutPolicy
	clock  Clock
	logger *slog.Logger
}

// NewCredentialVerifier creates a new CredentialVerifier
func NewCredentialVerifier(hasher PasswordHasher, policy LockoutPolicy, clock Clock, logger *slog.Logger) *CredentialVerifier {
	if policy.Threshold <= 0 {
		policy.Threshold = DefaultLockoutPolicy.Threshold
	}
	if policy.Window <= 0 {
		policy.Window = DefaultLockoutPolicy.Window
	}
	if policy.Duration <= 0 {
		policy.Duration = DefaultLockoutPolicy.Duration
	}

	return &CredentialVerifier{
		hasher: hasher,
		policy: policy,
		clock:  clock,
		logger: logger,
	}
}

// VerifyAndRecord checks password against user and persists the attempt and
// any lockout change through store. It never commits on its own.
// A currently locked account fails fast without touching the hash.
func (v *CredentialVerifier) VerifyAndRecord(ctx context.Context, store repositories.Store, user *models.User, password string, rc models.RequestContext) (VerifyOutcome, error) {
	now := v.clock.Now()

	if user.LockedAt(now) {
		return VerifyOutcome{Locked: true, LockoutEnd: user.LockoutEndAt}, nil
	}

	ok, err := v.hasher.Verify(ctx, password, user.PasswordHash)
	if err != nil {
		return VerifyOutcome{}, fmt.Errorf("failed to verify password: %w", err)
	}

	attempt := &models.LoginAttempt{
		UserID:      user.ID,
		Success:     ok,
		IPAddress:   rc.IPAddress,
		UserAgent:   rc.UserAgent,
		AttemptedAt: now,
	}
	if !ok {
		reason := string(models.FailureInvalidCredentials)
		attempt.FailureReason = &reason
	}
	if err := store.LoginAttempts().Record(ctx, attempt); err != nil {
		return VerifyOutcome{}, fmt.Errorf("failed to record login attempt: %w", err)
	}

	if ok {
		if user.IsLocked || user.LockoutEndAt != nil {
			if err := store.Users().UpdateLockout(ctx, user.ID, false, nil, now); err != nil {
				return VerifyOutcome{}, fmt.Errorf("failed to clear lockout: %w", err)
			}
			user.IsLocked = false
			user.LockoutEndAt = nil
		}
		return VerifyOutcome{Success: true}, nil
	}

	failures, err := store.LoginAttempts().CountFailuresSince(ctx, user.ID, now.Add(-v.policy.Window))
	if err != nil {
		return VerifyOutcome{}, fmt.Errorf("failed to count login failures: %w", err)
	}

	outcome := VerifyOutcome{FailedAttempts: failures}
	if failures < v.policy.Threshold {
		return outcome, nil
	}

	end := now.Add(v.policy.Duration)
	if err := store.Users().UpdateLockout(ctx, user.ID, true, &end, now); err != nil {
		return VerifyOutcome{}, fmt.Errorf("failed to lock account: %w", err)
	}
	user.IsLocked = true
	user.LockoutEndAt = &end

	v.logger.Warn("account locked after repeated failures",
		slog.String("user_id", user.ID),
		slog.Int("failed_attempts", failures),
		slog.Time("lockout_end", end))

	outcome.Locked = true
	outcome.JustLocked = true
	outcome.LockoutEnd = &end
	return outcome, nil
}
