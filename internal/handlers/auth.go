package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/BradenHooton/keystone/internal/auth"
	"github.com/BradenHooton/keystone/internal/models"
	"github.com/BradenHooton/keystone/internal/services"
	pkghttp "github.com/BradenHooton/keystone/pkg/http"
)

// AuthServiceInterface defines the interface for auth business logic
type AuthServiceInterface interface {
	Login(ctx context.Context, cmd services.LoginCommand, rc models.RequestContext) (*services.LoginResult, error)
	VerifyMFA(ctx context.Context, cmd services.VerifyMFACommand, rc models.RequestContext) (*services.LoginResult, error)
	Refresh(ctx context.Context, cmd services.RefreshCommand, rc models.RequestContext) (*services.RefreshResult, error)
	Logout(ctx context.Context, cmd services.LogoutCommand, rc models.RequestContext) (*services.SessionResult, error)
	LogoutAll(ctx context.Context, cmd services.LogoutAllCommand, rc models.RequestContext) (*services.SessionResult, error)
	ListSessions(ctx context.Context, userID string) ([]*models.RefreshToken, error)
}

// AuthHandler handles authentication-related HTTP requests
type AuthHandler struct {
	service  AuthServiceInterface
	ipConfig *pkghttp.IPConfig
	logger   *slog.Logger
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(service AuthServiceInterface, ipConfig *pkghttp.IPConfig, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		service:  service,
		ipConfig: ipConfig,
		logger:   logger,
	}
}

// Request DTOs

// LoginRequest represents the request body for login
type LoginRequest struct {
	Email    string `json:"email" validate:"required,max=254"`
	Password string `json:"password" validate:"required,max=1024"`
}

// VerifyMFARequest answers an MFA challenge
type VerifyMFARequest struct {
	MFAToken string `json:"mfa_token" validate:"required,max=128"`
	Code     string `json:"code" validate:"required,max=32"`
	Method   string `json:"method" validate:"omitempty,oneof=totp recovery_code"`
}

// RefreshTokenRequest represents the request body for token refresh and logout
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required,max=128"`
}

// Response DTOs

// TokenResponse is returned when a session is issued
type TokenResponse struct {
	services.TokenPair
	RecoveryCodesRemaining *int `json:"recovery_codes_remaining,omitempty"`
	RecoveryCodesLow       bool `json:"recovery_codes_low,omitempty"`
}

// MFARequiredResponse is returned with 202 when the password was accepted
// but a second factor is still owed
type MFARequiredResponse struct {
	Status    string    `json:"status"`
	MFAToken  string    `json:"mfa_token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// LogoutResponse reports how many sessions were ended
type LogoutResponse struct {
	RevokedSessions int64 `json:"revoked_sessions"`
}

// SessionResponse describes one active device session
type SessionResponse struct {
	ID          string    `json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	IPAddress   string    `json:"ip_address,omitempty"`
	UserAgent   string    `json:"user_agent,omitempty"`
	MFAAsserted bool      `json:"mfa"`
}

// Login handles POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	rc := pkghttp.NewRequestContext(r, h.ipConfig, "")
	result, err := h.service.Login(r.Context(), services.NewLoginCommand(req.Email, req.Password), rc)
	if err != nil {
		writeServiceError(w, h.logger, "login", err)
		return
	}
	h.writeLoginResult(w, result)
}

// VerifyMFA handles POST /auth/mfa/verify
func (h *AuthHandler) VerifyMFA(w http.ResponseWriter, r *http.Request) {
	var req VerifyMFARequest
	if !decodeRequest(w, r, &req) {
		return
	}

	rc := pkghttp.NewRequestContext(r, h.ipConfig, "")
	cmd := services.NewVerifyMFACommand(req.MFAToken, req.Code, services.MFAMethod(req.Method))
	result, err := h.service.VerifyMFA(r.Context(), cmd, rc)
	if err != nil {
		writeServiceError(w, h.logger, "verify_mfa", err)
		return
	}
	h.writeLoginResult(w, result)
}

// Refresh handles POST /auth/refresh
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshTokenRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	rc := pkghttp.NewRequestContext(r, h.ipConfig, "")
	result, err := h.service.Refresh(r.Context(), services.NewRefreshCommand(req.RefreshToken), rc)
	if err != nil {
		writeServiceError(w, h.logger, "refresh", err)
		return
	}
	if !result.Succeeded() {
		writeFailure(w, result.Failure)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, TokenResponse{TokenPair: *result.Tokens})
}

// Logout handles POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	var req RefreshTokenRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	rc := pkghttp.NewRequestContext(r, h.ipConfig, claims.UserID())
	result, err := h.service.Logout(r.Context(), services.NewLogoutCommand(req.RefreshToken), rc)
	if err != nil {
		writeServiceError(w, h.logger, "logout", err)
		return
	}
	if result.Failure != models.FailureNone {
		writeFailure(w, result.Failure)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, LogoutResponse{RevokedSessions: result.RevokedSessions})
}

// LogoutAll handles POST /auth/logout-all
func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	rc := pkghttp.NewRequestContext(r, h.ipConfig, claims.UserID())
	result, err := h.service.LogoutAll(r.Context(), services.NewLogoutAllCommand(), rc)
	if err != nil {
		writeServiceError(w, h.logger, "logout_all", err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, LogoutResponse{RevokedSessions: result.RevokedSessions})
}

// ListSessions handles GET /auth/sessions
func (h *AuthHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	sessions, err := h.service.ListSessions(r.Context(), claims.UserID())
	if err != nil {
		writeServiceError(w, h.logger, "list_sessions", err)
		return
	}

	out := make([]SessionResponse, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, SessionResponse{
			ID:          s.ID,
			CreatedAt:   s.CreatedAt,
			ExpiresAt:   s.ExpiresAt,
			IPAddress:   s.IPAddress,
			UserAgent:   s.UserAgent,
			MFAAsserted: s.MFAAsserted,
		})
	}
	pkghttp.WriteJSON(w, http.StatusOK, map[string]interface{}{"sessions": out})
}

func (h *AuthHandler) writeLoginResult(w http.ResponseWriter, result *services.LoginResult) {
	switch result.Status {
	case services.LoginStatusSuccess:
		pkghttp.WriteJSON(w, http.StatusOK, TokenResponse{
			TokenPair:              *result.Tokens,
			RecoveryCodesRemaining: result.RemainingRecoveryCodes,
			RecoveryCodesLow:       result.LowRecoveryCodes,
		})
	case services.LoginStatusMFARequired:
		pkghttp.WriteJSON(w, http.StatusAccepted, MFARequiredResponse{
			Status:    string(services.LoginStatusMFARequired),
			MFAToken:  result.Challenge.Token,
			ExpiresAt: result.Challenge.ExpiresAt,
		})
	default:
		writeFailure(w, result.Failure)
	}
}
