package services

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/keystone/internal/models"
	"github.com/BradenHooton/keystone/internal/repositories"
	pkgauth "github.com/BradenHooton/keystone/pkg/auth"
)

const (
	DefaultAccessTokenTTL  = 15 * time.Minute
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour
)

// TokenPair is what a client receives after a successful login or refresh
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// IssuedSession is a freshly minted pair plus the session row the caller must persist
type IssuedSession struct {
	Tokens  *TokenPair
	Session *models.RefreshToken
}

// IssueOptions qualifies a token issue
type IssueOptions struct {
	MFAAsserted    bool
	RequestContext models.RequestContext
	// Catalog, when set, serves permission cache misses. Callers inside a
	// store transaction pass tx.Permissions().
	Catalog repositories.Permissions
}

// TokenIssuer mints access tokens and opaque refresh tokens. It does not persist anything.
type TokenIssuer struct {
	signer      TokenSigner
	permissions *PermissionResolver
	accessTTL   time.Duration
	refreshTTL  time.Duration
	clock       Clock
}

// NewTokenIssuer creates a new TokenIssuer; zero TTLs fall back to the defaults
func NewTokenIssuer(signer TokenSigner, permissions *PermissionResolver, accessTTL, refreshTTL time.Duration, clock Clock) *TokenIssuer {
	if accessTTL <= 0 {
		accessTTL = DefaultAccessTokenTTL
	}
	if refreshTTL <= 0 {
		refreshTTL = DefaultRefreshTokenTTL
	}
	return &TokenIssuer{
		signer:      signer,
		permissions: permissions,
		accessTTL:   accessTTL,
		refreshTTL:  refreshTTL,
		clock:       clock,
	}
}

// Issue signs an access token for user and generates a refresh token row
func (ti *TokenIssuer) Issue(ctx context.Context, user *models.User, opts IssueOptions) (*IssuedSession, error) {
	now := ti.clock.Now()

	permissions, err := ti.permissions.ResolveFrom(ctx, opts.Catalog, user.Roles)
	if err != nil {
		return nil, err
	}

	claims := &models.TokenClaims{
		Email:       user.Email,
		Roles:       user.Roles,
		Permissions: permissions,
		MFA:         opts.MFAAsserted,
	}
	claims.Subject = user.ID
	if user.TenantID != nil {
		claims.TenantID = *user.TenantID
	}

	accessExpiresAt := now.Add(ti.accessTTL)
	accessToken, err := ti.signer.Sign(claims, accessExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("failed to sign access token: %w", err)
	}

	refreshToken, err := pkgauth.GenerateOpaqueToken()
	if err != nil {
		return nil, err
	}

	session := &models.RefreshToken{
		UserID:      user.ID,
		Token:       refreshToken,
		Purpose:     models.TokenPurposeRefresh,
		MFAAsserted: opts.MFAAsserted,
		UserAgent:   opts.RequestContext.UserAgent,
		IPAddress:   opts.RequestContext.IPAddress,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ti.refreshTTL),
	}

	return &IssuedSession{
		Tokens: &TokenPair{
			AccessToken:      accessToken,
			RefreshToken:     refreshToken,
			TokenType:        "Bearer",
			AccessExpiresAt:  accessExpiresAt,
			RefreshExpiresAt: session.ExpiresAt,
		},
		Session: session,
	}, nil
}
