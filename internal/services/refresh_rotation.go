package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/BradenHooton/keystone/internal/models"
	"github.com/BradenHooton/keystone/internal/repositories"
)

// RotationResult is the outcome of presenting a refresh token
type RotationResult struct {
	Failure         models.FailureReason
	UserID          string
	User            *models.User
	Issued          *IssuedSession
	RevokedSessions int64
}

// RefreshRotationEngine exchanges refresh tokens one-for-one and treats any
// second presentation of a consumed token as theft
type RefreshRotationEngine struct {
	issuer *TokenIssuer
	clock  Clock
	logger *slog.Logger
}

// NewRefreshRotationEngine creates a new RefreshRotationEngine
func NewRefreshRotationEngine(issuer *TokenIssuer, clock Clock, logger *slog.Logger) *RefreshRotationEngine {
	return &RefreshRotationEngine{
		issuer: issuer,
		clock:  clock,
		logger: logger,
	}
}

// Rotate must run inside the caller's transaction. The conditional revoke is
// the only serialization point: whoever loses it is handled as reuse.
func (e *RefreshRotationEngine) Rotate(ctx context.Context, store repositories.Store, presented string, rc models.RequestContext) (*RotationResult, error) {
	if presented == "" {
		return &RotationResult{Failure: models.FailureInvalidRefreshToken}, nil
	}

	current, err := store.RefreshTokens().GetByToken(ctx, presented)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return &RotationResult{Failure: models.FailureInvalidRefreshToken}, nil
		}
		return nil, fmt.Errorf("failed to load refresh token: %w", err)
	}
	if current.Purpose != models.TokenPurposeRefresh {
		return &RotationResult{Failure: models.FailureInvalidRefreshToken}, nil
	}

	if current.IsRevoked {
		return e.compromised(ctx, store, current)
	}

	now := e.clock.Now()
	if current.IsExpired(now) {
		return &RotationResult{Failure: models.FailureRefreshTokenExpired, UserID: current.UserID}, nil
	}

	user, err := store.Users().GetByID(ctx, current.UserID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return &RotationResult{Failure: models.FailureUserNotFound, UserID: current.UserID}, nil
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	issued, err := e.issuer.Issue(ctx, user, IssueOptions{
		MFAAsserted:    current.MFAAsserted,
		RequestContext: rc,
		Catalog:        store.Permissions(),
	})
	if err != nil {
		return nil, err
	}

	won, err := store.RefreshTokens().TryRevokeAndChain(ctx, current.ID, &issued.Tokens.RefreshToken, models.RevocationReasonRotated, now)
	if err != nil {
		return nil, fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	if !won {
		return e.compromised(ctx, store, current)
	}

	if err := store.RefreshTokens().Create(ctx, issued.Session); err != nil {
		return nil, fmt.Errorf("failed to store refresh token: %w", err)
	}

	return &RotationResult{UserID: user.ID, User: user, Issued: issued}, nil
}

// compromised revokes every active session of the token's owner
func (e *RefreshRotationEngine) compromised(ctx context.Context, store repositories.Store, token *models.RefreshToken) (*RotationResult, error) {
	revoked, err := store.RefreshTokens().RevokeAllForUser(ctx, token.UserID, models.RevocationReasonReuseDetected, e.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to revoke sessions after reuse: %w", err)
	}

	e.logger.Error("refresh token reuse detected",
		slog.String("user_id", token.UserID),
		slog.String("token_id", token.ID),
		slog.Int64("revoked_sessions", revoked))

	result := &RotationResult{
		Failure:         models.FailureRefreshTokenCompromised,
		UserID:          token.UserID,
		RevokedSessions: revoked,
	}

	user, err := store.Users().GetByID(ctx, token.UserID)
	switch {
	case err == nil:
		result.User = user
	case !errors.Is(err, models.ErrNotFound):
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return result, nil
}
