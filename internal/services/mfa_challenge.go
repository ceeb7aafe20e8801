package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/keystone/internal/auth"
	"github.com/BradenHooton/keystone/internal/models"
	"github.com/BradenHooton/keystone/internal/repositories"
	pkgauth "github.com/BradenHooton/keystone/pkg/auth"
)

// MFAChallengeConfig tunes the second-factor step
type MFAChallengeConfig struct {
	ChallengeTTL         time.Duration
	WindowSteps          int // accepted TOTP drift in periods, each direction
	RecoveryCodeLowWater int
	MaxFailedAttempts    int           // wrong answers per user in AttemptWindow before verification is refused
	AttemptWindow        time.Duration // look-back window for MaxFailedAttempts
}

// DefaultMFAChallengeConfig is a five minute challenge, ±1 step, warn at two
// codes left, five wrong answers per fifteen minutes
var DefaultMFAChallengeConfig = MFAChallengeConfig{
	ChallengeTTL:         5 * time.Minute,
	WindowSteps:          1,
	RecoveryCodeLowWater: 2,
	MaxFailedAttempts:    5,
	AttemptWindow:        15 * time.Minute,
}

// MFAMethod selects how a challenge is answered
type MFAMethod string

const (
	MFAMethodTOTP     MFAMethod = "totp"
	MFAMethodRecovery MFAMethod = "recovery_code"
)

// MFAChallenge is the short-lived token handed out in place of a session
type MFAChallenge struct {
	Token     string    `json:"mfa_token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// MFAVerification is the outcome of answering a challenge
type MFAVerification struct {
	State                  models.MFAState
	Failure                models.FailureReason
	Method                 MFAMethod
	User                   *models.User
	ChallengeID            string
	RemainingRecoveryCodes int
	LowRecoveryCodes       bool
}

// MFAChallengeEngine issues and verifies second-factor challenges
type MFAChallengeEngine struct {
	totp   TOTPPrimitive
	sealer SecretSealer
	config MFAChallengeConfig
	clock  Clock
	logger *slog.Logger
}

// NewMFAChallengeEngine creates a new MFAChallengeEngine
func NewMFAChallengeEngine(totp TOTPPrimitive, sealer SecretSealer, config MFAChallengeConfig, clock Clock, logger *slog.Logger) *MFAChallengeEngine {
	if config.ChallengeTTL <= 0 {
		config.ChallengeTTL = DefaultMFAChallengeConfig.ChallengeTTL
	}
	if config.WindowSteps < 0 {
		config.WindowSteps = 0
	}
	if config.MaxFailedAttempts <= 0 {
		config.MaxFailedAttempts = DefaultMFAChallengeConfig.MaxFailedAttempts
	}
	if config.AttemptWindow <= 0 {
		config.AttemptWindow = DefaultMFAChallengeConfig.AttemptWindow
	}
	return &MFAChallengeEngine{
		totp:   totp,
		sealer: sealer,
		config: config,
		clock:  clock,
		logger: logger,
	}
}

// RequiresChallenge reports whether user must pass a second factor
func (e *MFAChallengeEngine) RequiresChallenge(user *models.User) bool {
	return user.MFAEnabled
}

// IssueChallenge persists a one-time challenge row for user
func (e *MFAChallengeEngine) IssueChallenge(ctx context.Context, store repositories.Store, user *models.User, rc models.RequestContext) (*MFAChallenge, error) {
	value, err := pkgauth.GenerateOpaqueToken()
	if err != nil {
		return nil, err
	}

	now := e.clock.Now()
	row := &models.RefreshToken{
		UserID:    user.ID,
		Token:     value,
		Purpose:   models.TokenPurposeMFAChallenge,
		UserAgent: rc.UserAgent,
		IPAddress: rc.IPAddress,
		CreatedAt: now,
		ExpiresAt: now.Add(e.config.ChallengeTTL),
	}
	if err := store.RefreshTokens().Create(ctx, row); err != nil {
		return nil, fmt.Errorf("failed to store MFA challenge: %w", err)
	}

	return &MFAChallenge{Token: value, ExpiresAt: row.ExpiresAt}, nil
}

// VerifyTOTP answers a challenge with an authenticator code. A wrong code
// leaves the challenge usable until it expires or RecordFailure revokes it.
func (e *MFAChallengeEngine) VerifyTOTP(ctx context.Context, store repositories.Store, challengeToken, code string, rc models.RequestContext) (*MFAVerification, error) {
	challenge, user, failure, err := e.resolveChallenge(ctx, store, challengeToken)
	if err != nil {
		return nil, err
	}
	if failure != models.FailureNone {
		return e.failed(MFAMethodTOTP, challenge, user, failure), nil
	}

	secret, err := store.MFASecrets().GetSecret(ctx, user.ID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return e.failed(MFAMethodTOTP, challenge, user, models.FailureMFANotConfigured), nil
		}
		return nil, fmt.Errorf("failed to load MFA secret: %w", err)
	}
	if !secret.IsEnabled {
		return e.failed(MFAMethodTOTP, challenge, user, models.FailureMFANotConfigured), nil
	}

	plain, err := e.sealer.Open(secret.EncryptedSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to open MFA secret: %w", err)
	}

	valid, err := e.totp.VerifyCode(ctx, string(plain), code, e.config.WindowSteps)
	if err != nil {
		return nil, err
	}
	if !valid {
		return e.failed(MFAMethodTOTP, challenge, user, models.FailureInvalidMFACode), nil
	}

	now := e.clock.Now()
	won, err := store.RefreshTokens().TryRevokeAndChain(ctx, challenge.ID, nil, models.RevocationReasonMFAVerified, now)
	if err != nil {
		return nil, fmt.Errorf("failed to consume MFA challenge: %w", err)
	}
	if !won {
		return e.failed(MFAMethodTOTP, challenge, user, models.FailureInvalidMFAChallenge), nil
	}

	if err := store.MFASecrets().TouchSecret(ctx, user.ID, now); err != nil {
		return nil, fmt.Errorf("failed to update MFA secret: %w", err)
	}
	if err := e.recordAttempt(ctx, store, challenge, user, MFAMethodTOTP, models.FailureNone, rc); err != nil {
		return nil, err
	}

	return &MFAVerification{State: models.MFAStateVerified, Method: MFAMethodTOTP, User: user, ChallengeID: challenge.ID}, nil
}

// VerifyRecoveryCode answers a challenge with a single-use recovery code
func (e *MFAChallengeEngine) VerifyRecoveryCode(ctx context.Context, store repositories.Store, challengeToken, code string, rc models.RequestContext) (*MFAVerification, error) {
	challenge, user, failure, err := e.resolveChallenge(ctx, store, challengeToken)
	if err != nil {
		return nil, err
	}
	if failure != models.FailureNone {
		return e.failed(MFAMethodRecovery, challenge, user, failure), nil
	}

	hash := auth.HashRecoveryCode(code)
	stored, err := store.MFASecrets().GetRecoveryCode(ctx, user.ID, hash)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return e.failed(MFAMethodRecovery, challenge, user, models.FailureInvalidMFACode), nil
		}
		return nil, fmt.Errorf("failed to load recovery code: %w", err)
	}
	if stored.IsUsed() {
		return e.failed(MFAMethodRecovery, challenge, user, models.FailureInvalidMFACode), nil
	}

	now := e.clock.Now()
	won, err := store.RefreshTokens().TryRevokeAndChain(ctx, challenge.ID, nil, models.RevocationReasonMFAVerified, now)
	if err != nil {
		return nil, fmt.Errorf("failed to consume MFA challenge: %w", err)
	}
	if !won {
		return e.failed(MFAMethodRecovery, challenge, user, models.FailureInvalidMFAChallenge), nil
	}

	consumed, err := store.MFASecrets().ConsumeRecoveryCode(ctx, user.ID, hash, now)
	if err != nil {
		return nil, fmt.Errorf("failed to consume recovery code: %w", err)
	}
	if !consumed {
		// another request spent the code between lookup and update
		return e.failed(MFAMethodRecovery, challenge, user, models.FailureInvalidMFACode), nil
	}
	if err := e.recordAttempt(ctx, store, challenge, user, MFAMethodRecovery, models.FailureNone, rc); err != nil {
		return nil, err
	}

	remaining, err := store.MFASecrets().CountUnusedRecoveryCodes(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to count recovery codes: %w", err)
	}

	low := remaining <= e.config.RecoveryCodeLowWater
	if low {
		e.logger.Info("recovery codes running low",
			slog.String("user_id", user.ID),
			slog.Int("remaining", remaining))
	}

	return &MFAVerification{
		State:                  models.MFAStateVerified,
		Method:                 MFAMethodRecovery,
		User:                   user,
		ChallengeID:            challenge.ID,
		RemainingRecoveryCodes: remaining,
		LowRecoveryCodes:       low,
	}, nil
}

// resolveChallenge loads an active challenge row and its MFA-enabled owner
func (e *MFAChallengeEngine) resolveChallenge(ctx context.Context, store repositories.Store, value string) (*models.RefreshToken, *models.User, models.FailureReason, error) {
	if value == "" {
		return nil, nil, models.FailureInvalidMFAChallenge, nil
	}

	challenge, err := store.RefreshTokens().GetByToken(ctx, value)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, nil, models.FailureInvalidMFAChallenge, nil
		}
		return nil, nil, models.FailureNone, fmt.Errorf("failed to load MFA challenge: %w", err)
	}
	if challenge.Purpose != models.TokenPurposeMFAChallenge || !challenge.IsActive(e.clock.Now()) {
		return nil, nil, models.FailureInvalidMFAChallenge, nil
	}

	user, err := store.Users().GetByID(ctx, challenge.UserID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, nil, models.FailureUserNotFound, nil
		}
		return nil, nil, models.FailureNone, fmt.Errorf("failed to load user: %w", err)
	}
	if !user.MFAEnabled {
		return nil, user, models.FailureMFANotConfigured, nil
	}

	failures, err := store.MFAAttempts().CountFailuresSince(ctx, user.ID, e.clock.Now().Add(-e.config.AttemptWindow))
	if err != nil {
		return nil, nil, models.FailureNone, fmt.Errorf("failed to count MFA failures: %w", err)
	}
	if failures >= e.config.MaxFailedAttempts {
		e.logger.Warn("MFA attempt limit reached",
			slog.String("user_id", user.ID),
			slog.Int("failed_attempts", failures))
		return challenge, user, models.FailureMFAAttemptsExceeded, nil
	}

	return challenge, user, models.FailureNone, nil
}

// RecordFailure appends a wrong answer for v's challenge owner and revokes
// the challenge once the owner reaches MaxFailedAttempts inside the window.
// It reports whether the challenge was revoked.
func (e *MFAChallengeEngine) RecordFailure(ctx context.Context, store repositories.Store, v *MFAVerification, rc models.RequestContext) (bool, error) {
	if v == nil || v.User == nil || v.ChallengeID == "" {
		return false, nil
	}

	challenge := &models.RefreshToken{ID: v.ChallengeID}
	if err := e.recordAttempt(ctx, store, challenge, v.User, v.Method, v.Failure, rc); err != nil {
		return false, err
	}

	now := e.clock.Now()
	failures, err := store.MFAAttempts().CountFailuresSince(ctx, v.User.ID, now.Add(-e.config.AttemptWindow))
	if err != nil {
		return false, fmt.Errorf("failed to count MFA failures: %w", err)
	}
	if failures < e.config.MaxFailedAttempts {
		return false, nil
	}

	revoked, err := store.RefreshTokens().TryRevokeAndChain(ctx, v.ChallengeID, nil, models.RevocationReasonMFAAttempts, now)
	if err != nil {
		return false, fmt.Errorf("failed to revoke MFA challenge: %w", err)
	}
	if revoked {
		e.logger.Warn("MFA challenge revoked after repeated wrong answers",
			slog.String("user_id", v.User.ID),
			slog.Int("failed_attempts", failures))
	}
	return revoked, nil
}

func (e *MFAChallengeEngine) recordAttempt(ctx context.Context, store repositories.Store, challenge *models.RefreshToken, user *models.User, method MFAMethod, failure models.FailureReason, rc models.RequestContext) error {
	attempt := &models.MFAAttempt{
		UserID:      user.ID,
		ChallengeID: challenge.ID,
		Method:      string(method),
		Success:     failure == models.FailureNone,
		IPAddress:   rc.IPAddress,
		UserAgent:   rc.UserAgent,
		AttemptedAt: e.clock.Now(),
	}
	if failure != models.FailureNone {
		reason := string(failure)
		attempt.FailureReason = &reason
	}
	if err := store.MFAAttempts().Record(ctx, attempt); err != nil {
		return fmt.Errorf("failed to record MFA attempt: %w", err)
	}
	return nil
}

func (e *MFAChallengeEngine) failed(method MFAMethod, challenge *models.RefreshToken, user *models.User, failure models.FailureReason) *MFAVerification {
	v := &MFAVerification{
		State:   models.MFAStateFailed,
		Failure: failure,
		Method:  method,
		User:    user,
	}
	if challenge != nil {
		v.ChallengeID = challenge.ID
	}
	return v
}
