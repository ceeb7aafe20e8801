package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/BradenHooton/keystone/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func subject(id string) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{Subject: id}
}

func TestTokenManager_SignAndValidate(t *testing.T) {
	tm := NewTokenManager("token-test-secret-of-32-characters", "keystone")
	tenant := "acme"

	token, err := tm.Sign(&models.TokenClaims{
		Email:            "user@example.com",
		Roles:            []string{"member"},
		Permissions:      []string{"sessions:read"},
		MFA:              true,
		TenantID:         tenant,
		RegisteredClaims: subject("user-1"),
	}, time.Now().Add(15*time.Minute))
	require.NoError(t, err)

	claims, err := tm.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID())
	assert.Equal(t, "user@example.com", claims.Email)
	assert.Equal(t, []string{"member"}, claims.Roles)
	assert.Equal(t, []string{"sessions:read"}, claims.Permissions)
	assert.True(t, claims.MFA)
	assert.Equal(t, "acme", claims.TenantID)
	assert.Equal(t, models.TokenTypeAccess, claims.Type)
	assert.NotEmpty(t, claims.ID)
	assert.Equal(t, "keystone", claims.Issuer)
}

func TestTokenManager_Sign_RequiresSubject(t *testing.T) {
	tm := NewTokenManager("token-test-secret-of-32-characters", "keystone")
	_, err := tm.Sign(&models.TokenClaims{}, time.Now().Add(time.Minute))
	assert.Error(t, err)
}

func TestTokenManager_Validate_Expired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tm := NewTokenManager("token-test-secret-of-32-characters", "keystone")
	tm.SetClock(func() time.Time { return now })

	token, err := tm.Sign(&models.TokenClaims{RegisteredClaims: subject("user-1")}, now.Add(15*time.Minute))
	require.NoError(t, err)

	tm.SetClock(func() time.Time { return now.Add(16 * time.Minute) })
	_, err = tm.Validate(token)
	assert.ErrorIs(t, err, models.ErrInvalidToken)
	assert.Contains(t, err.Error(), "expired")
}

func TestTokenManager_Validate_WrongSecretOrIssuer(t *testing.T) {
	signer := NewTokenManager("token-test-secret-of-32-characters", "keystone")
	token, err := signer.Sign(&models.TokenClaims{RegisteredClaims: subject("user-1")}, time.Now().Add(time.Minute))
	require.NoError(t, err)

	_, err = NewTokenManager("another-secret-of-32-characters!!", "keystone").Validate(token)
	assert.ErrorIs(t, err, models.ErrInvalidToken)

	_, err = NewTokenManager("token-test-secret-of-32-characters", "someone-else").Validate(token)
	assert.ErrorIs(t, err, models.ErrInvalidToken)
}

func TestTokenManager_Validate_RejectsNoneAlgorithm(t *testing.T) {
	tm := NewTokenManager("token-test-secret-of-32-characters", "keystone")
	claims := &models.TokenClaims{Type: models.TokenTypeAccess, RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "user-1",
		Issuer:    "keystone",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}}
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = tm.Validate(unsigned)
	assert.ErrorIs(t, err, models.ErrInvalidToken)
}

func TestTokenManager_Validate_RejectsTamperedPayload(t *testing.T) {
	tm := NewTokenManager("token-test-secret-of-32-characters", "keystone")
	token, err := tm.Sign(&models.TokenClaims{RegisteredClaims: subject("user-1")}, time.Now().Add(time.Minute))
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)
	parts[1] = parts[1][:len(parts[1])-2] + "AA"

	_, err = tm.Validate(strings.Join(parts, "."))
	assert.ErrorIs(t, err, models.ErrInvalidToken)
}
