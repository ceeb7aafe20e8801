package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/BradenHooton/keystone/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenManager signs and validates HS256 access tokens
type TokenManager struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewTokenManager creates a new TokenManager
func NewTokenManager(secret, issuer string) *TokenManager {
	return &TokenManager{
		secret: []byte(secret),
		issuer: issuer,
		now:    time.Now,
	}
}

// SetClock overrides the time source used for iat/nbf and validation
func (tm *TokenManager) SetClock(now func() time.Time) {
	tm.now = now
}

// Sign fills the registered claims and returns the compact JWT
func (tm *TokenManager) Sign(claims *models.TokenClaims, expiresAt time.Time) (string, error) {
	if claims.Subject == "" {
		return "", fmt.Errorf("failed to sign token: missing subject")
	}

	now := tm.now()
	if claims.ID == "" {
		claims.ID = uuid.New().String()
	}
	if claims.Type == "" {
		claims.Type = models.TokenTypeAccess
	}
	claims.Issuer = tm.issuer
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.NotBefore = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(expiresAt)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := token.SignedString(tm.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, nil
}

// Validate verifies signature, issuer and expiry and returns the claims
func (tm *TokenManager) Validate(tokenString string) (*models.TokenClaims, error) {
	claims := &models.TokenClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return tm.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tm.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(tm.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: expired", models.ErrInvalidToken)
		}
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidToken, err)
	}

	if !token.Valid {
		return nil, models.ErrInvalidToken
	}

	if claims.Type != models.TokenTypeAccess {
		return nil, fmt.Errorf("%w: unexpected token type %q", models.ErrInvalidToken, claims.Type)
	}

	return claims, nil
}
