package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// Token types carried in the typ claim
const (
	TokenTypeAccess = "access"
)

// TokenClaims are the claims of a signed access token
type TokenClaims struct {
	Type        string   `json:"typ"`
	Email       string   `json:"email,omitempty"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	MFA         bool     `json:"mfa"`
	TenantID    string   `json:"tenant_id,omitempty"`
	jwt.RegisteredClaims
}

// UserID returns the subject claim
func (c *TokenClaims) UserID() string {
	return c.Subject
}
