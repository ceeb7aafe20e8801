package handlers_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BradenHooton/keystone/internal/handlers"
	"github.com/BradenHooton/keystone/internal/models"
	"github.com/BradenHooton/keystone/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testPair = &services.TokenPair{
	AccessToken:      "access_token_123",
	RefreshToken:     "refresh_token_123",
	TokenType:        "Bearer",
	AccessExpiresAt:  time.Date(2026, 3, 10, 9, 15, 0, 0, time.UTC),
	RefreshExpiresAt: time.Date(2026, 3, 17, 9, 0, 0, 0, time.UTC),
}

// ============================================================================
// Login
// ============================================================================

func TestLogin_Success(t *testing.T) {
	var gotCmd services.LoginCommand
	var gotRC models.RequestContext
	mockAuth := &MockAuthService{
		LoginFunc: func(ctx context.Context, cmd services.LoginCommand, rc models.RequestContext) (*services.LoginResult, error) {
			gotCmd, gotRC = cmd, rc
			return &services.LoginResult{Status: services.LoginStatusSuccess, Tokens: testPair}, nil
		},
	}

	handler := handlers.NewAuthHandler(mockAuth, nil, discardLogger())
	req := newTestRequest(t, "POST", "/auth/login", handlers.LoginRequest{Email: "user@example.com", Password: "password123"})
	req.RemoteAddr = "198.51.100.4:5555"

	w := httptest.NewRecorder()
	handler.Login(w, req)

	var resp handlers.TokenResponse
	assertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Equal(t, "access_token_123", resp.AccessToken)
	assert.Equal(t, "refresh_token_123", resp.RefreshToken)
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.Nil(t, resp.RecoveryCodesRemaining)

	assert.Equal(t, "user@example.com", gotCmd.Email)
	assert.NotNil(t, gotCmd.Audit)
	assert.Equal(t, "198.51.100.4", gotRC.IPAddress)
	assert.Equal(t, "handlers-test", gotRC.UserAgent)
}

func TestLogin_MFARequired(t *testing.T) {
	expires := time.Date(2026, 3, 10, 9, 5, 0, 0, time.UTC)
	mockAuth := &MockAuthService{
		LoginFunc: func(ctx context.Context, cmd services.LoginCommand, rc models.RequestContext) (*services.LoginResult, error) {
			return &services.LoginResult{
				Status:    services.LoginStatusMFARequired,
				Challenge: &services.MFAChallenge{Token: "challenge-abc", ExpiresAt: expires},
			}, nil
		},
	}

	handler := handlers.NewAuthHandler(mockAuth, nil, discardLogger())
	w := httptest.NewRecorder()
	handler.Login(w, newTestRequest(t, "POST", "/auth/login", handlers.LoginRequest{Email: "user@example.com", Password: "pw"}))

	var resp handlers.MFARequiredResponse
	assertJSONResponse(t, w, http.StatusAccepted, &resp)
	assert.Equal(t, "mfa_required", resp.Status)
	assert.Equal(t, "challenge-abc", resp.MFAToken)
	assert.True(t, expires.Equal(resp.ExpiresAt))
	assert.NotContains(t, w.Body.String(), "access_token")
}

func TestLogin_CredentialFailuresLookAlike(t *testing.T) {
	for _, failure := range []models.FailureReason{
		models.FailureInvalidCredentials,
		models.FailureAccountLocked,
		models.FailureUserNotFound,
	} {
		t.Run(string(failure), func(t *testing.T) {
			mockAuth := &MockAuthService{
				LoginFunc: func(ctx context.Context, cmd services.LoginCommand, rc models.RequestContext) (*services.LoginResult, error) {
					return &services.LoginResult{Status: services.LoginStatusFailed, Failure: failure}, nil
				},
			}

			handler := handlers.NewAuthHandler(mockAuth, nil, discardLogger())
			w := httptest.NewRecorder()
			handler.Login(w, newTestRequest(t, "POST", "/auth/login", handlers.LoginRequest{Email: "user@example.com", Password: "pw"}))

			resp := assertErrorResponse(t, w, http.StatusUnauthorized, "invalid_credentials")
			assert.Equal(t, models.GenericCredentialMessage, resp.Message)
		})
	}
}

func TestLogin_ValidationFailures(t *testing.T) {
	tests := []struct {
		name string
		body string
		code string
	}{
		{"empty body", "", "bad_request"},
		{"not json", "{", "bad_request"},
		{"unknown field", `{"email":"a@b.c","password":"x","remember":true}`, "bad_request"},
		{"missing password", `{"email":"a@b.c"}`, "validation_failed"},
		{"trailing object", `{"email":"a@b.c","password":"x"}{}`, "bad_request"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			mockAuth := &MockAuthService{
				LoginFunc: func(ctx context.Context, cmd services.LoginCommand, rc models.RequestContext) (*services.LoginResult, error) {
					called = true
					return nil, nil
				},
			}
			handler := handlers.NewAuthHandler(mockAuth, nil, discardLogger())
			req := httptest.NewRequest("POST", "/auth/login", strings.NewReader(tt.body))

			w := httptest.NewRecorder()
			handler.Login(w, req)

			assertErrorResponse(t, w, http.StatusBadRequest, tt.code)
			assert.False(t, called)
		})
	}
}

func TestLogin_ServiceError(t *testing.T) {
	mockAuth := &MockAuthService{
		LoginFunc: func(ctx context.Context, cmd services.LoginCommand, rc models.RequestContext) (*services.LoginResult, error) {
			return nil, assert.AnError
		},
	}

	handler := handlers.NewAuthHandler(mockAuth, nil, discardLogger())
	w := httptest.NewRecorder()
	handler.Login(w, newTestRequest(t, "POST", "/auth/login", handlers.LoginRequest{Email: "user@example.com", Password: "pw"}))

	resp := assertErrorResponse(t, w, http.StatusInternalServerError, "internal_error")
	assert.NotContains(t, resp.Message, assert.AnError.Error())
}

// ============================================================================
// MFA verify
// ============================================================================

func TestVerifyMFA_RecoveryCode(t *testing.T) {
	remaining := 2
	var gotCmd services.VerifyMFACommand
	mockAuth := &MockAuthService{
		VerifyMFAFunc: func(ctx context.Context, cmd services.VerifyMFACommand, rc models.RequestContext) (*services.LoginResult, error) {
			gotCmd = cmd
			return &services.LoginResult{
				Status:                 services.LoginStatusSuccess,
				Tokens:                 testPair,
				RemainingRecoveryCodes: &remaining,
				LowRecoveryCodes:       true,
			}, nil
		},
	}

	handler := handlers.NewAuthHandler(mockAuth, nil, discardLogger())
	w := httptest.NewRecorder()
	handler.VerifyMFA(w, newTestRequest(t, "POST", "/auth/mfa/verify", handlers.VerifyMFARequest{
		MFAToken: "challenge-abc",
		Code:     "ABCD-EFGH",
		Method:   "recovery_code",
	}))

	var resp handlers.TokenResponse
	assertJSONResponse(t, w, http.StatusOK, &resp)
	require.NotNil(t, resp.RecoveryCodesRemaining)
	assert.Equal(t, 2, *resp.RecoveryCodesRemaining)
	assert.True(t, resp.RecoveryCodesLow)
	assert.Equal(t, services.MFAMethodRecovery, gotCmd.Method)
	assert.Equal(t, "challenge-abc", gotCmd.ChallengeToken)
}

func TestVerifyMFA_DefaultsToTOTP(t *testing.T) {
	var gotCmd services.VerifyMFACommand
	mockAuth := &MockAuthService{
		VerifyMFAFunc: func(ctx context.Context, cmd services.VerifyMFACommand, rc models.RequestContext) (*services.LoginResult, error) {
			gotCmd = cmd
			return &services.LoginResult{Status: services.LoginStatusFailed, Failure: models.FailureInvalidMFACode}, nil
		},
	}

	handler := handlers.NewAuthHandler(mockAuth, nil, discardLogger())
	w := httptest.NewRecorder()
	handler.VerifyMFA(w, newTestRequest(t, "POST", "/auth/mfa/verify", handlers.VerifyMFARequest{MFAToken: "t", Code: "123456"}))

	assertErrorResponse(t, w, http.StatusUnauthorized, "invalid_mfa_code")
	assert.Equal(t, services.MFAMethodTOTP, gotCmd.Method)
}

func TestVerifyMFA_AttemptLimit(t *testing.T) {
	mockAuth := &MockAuthService{
		VerifyMFAFunc: func(ctx context.Context, cmd services.VerifyMFACommand, rc models.RequestContext) (*services.LoginResult, error) {
			return &services.LoginResult{Status: services.LoginStatusFailed, Failure: models.FailureMFAAttemptsExceeded}, nil
		},
	}

	handler := handlers.NewAuthHandler(mockAuth, nil, discardLogger())
	w := httptest.NewRecorder()
	handler.VerifyMFA(w, newTestRequest(t, "POST", "/auth/mfa/verify", handlers.VerifyMFARequest{MFAToken: "t", Code: "123456"}))

	resp := assertErrorResponse(t, w, http.StatusTooManyRequests, "mfa_attempts_exceeded")
	assert.Equal(t, models.FailureMFAAttemptsExceeded.Message(), resp.Message)
}

func TestVerifyMFA_RejectsUnknownMethod(t *testing.T) {
	handler := handlers.NewAuthHandler(&MockAuthService{}, nil, discardLogger())
	w := httptest.NewRecorder()
	handler.VerifyMFA(w, newTestRequest(t, "POST", "/auth/mfa/verify", handlers.VerifyMFARequest{MFAToken: "t", Code: "1", Method: "sms"}))

	resp := assertErrorResponse(t, w, http.StatusBadRequest, "validation_failed")
	assert.Contains(t, resp.Details, "method")
}

// ============================================================================
// Refresh
// ============================================================================

func TestRefresh_Success(t *testing.T) {
	mockAuth := &MockAuthService{
		RefreshFunc: func(ctx context.Context, cmd services.RefreshCommand, rc models.RequestContext) (*services.RefreshResult, error) {
			assert.Equal(t, "old-token", cmd.RefreshToken)
			return &services.RefreshResult{Tokens: testPair}, nil
		},
	}

	handler := handlers.NewAuthHandler(mockAuth, nil, discardLogger())
	w := httptest.NewRecorder()
	handler.Refresh(w, newTestRequest(t, "POST", "/auth/refresh", handlers.RefreshTokenRequest{RefreshToken: "old-token"}))

	var resp handlers.TokenResponse
	assertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Equal(t, "refresh_token_123", resp.RefreshToken)
}

func TestRefresh_Failures(t *testing.T) {
	for _, failure := range []models.FailureReason{
		models.FailureInvalidRefreshToken,
		models.FailureRefreshTokenExpired,
		models.FailureRefreshTokenCompromised,
	} {
		t.Run(string(failure), func(t *testing.T) {
			mockAuth := &MockAuthService{
				RefreshFunc: func(ctx context.Context, cmd services.RefreshCommand, rc models.RequestContext) (*services.RefreshResult, error) {
					return &services.RefreshResult{Failure: failure}, nil
				},
			}

			handler := handlers.NewAuthHandler(mockAuth, nil, discardLogger())
			w := httptest.NewRecorder()
			handler.Refresh(w, newTestRequest(t, "POST", "/auth/refresh", handlers.RefreshTokenRequest{RefreshToken: "t"}))

			resp := assertErrorResponse(t, w, http.StatusUnauthorized, string(failure))
			assert.Equal(t, failure.Message(), resp.Message)
		})
	}
}

// ============================================================================
// Sessions
// ============================================================================

func TestLogout_RequiresAuth(t *testing.T) {
	handler := handlers.NewAuthHandler(&MockAuthService{}, nil, discardLogger())
	w := httptest.NewRecorder()
	handler.Logout(w, newTestRequest(t, "POST", "/auth/logout", handlers.RefreshTokenRequest{RefreshToken: "t"}))

	assertErrorResponse(t, w, http.StatusUnauthorized, "unauthorized")
}

func TestLogout_Success(t *testing.T) {
	mockAuth := &MockAuthService{
		LogoutFunc: func(ctx context.Context, cmd services.LogoutCommand, rc models.RequestContext) (*services.SessionResult, error) {
			assert.Equal(t, "user-1", rc.UserID)
			return &services.SessionResult{RevokedSessions: 1}, nil
		},
	}

	handler := handlers.NewAuthHandler(mockAuth, nil, discardLogger())
	req := withAuthContext(newTestRequest(t, "POST", "/auth/logout", handlers.RefreshTokenRequest{RefreshToken: "t"}), "user-1")
	w := httptest.NewRecorder()
	handler.Logout(w, req)

	var resp handlers.LogoutResponse
	assertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Equal(t, int64(1), resp.RevokedSessions)
}

func TestLogout_ForeignToken(t *testing.T) {
	mockAuth := &MockAuthService{
		LogoutFunc: func(ctx context.Context, cmd services.LogoutCommand, rc models.RequestContext) (*services.SessionResult, error) {
			return &services.SessionResult{Failure: models.FailureInvalidRefreshToken}, nil
		},
	}

	handler := handlers.NewAuthHandler(mockAuth, nil, discardLogger())
	req := withAuthContext(newTestRequest(t, "POST", "/auth/logout", handlers.RefreshTokenRequest{RefreshToken: "t"}), "user-1")
	w := httptest.NewRecorder()
	handler.Logout(w, req)

	assertErrorResponse(t, w, http.StatusUnauthorized, "invalid_refresh_token")
}

func TestLogoutAll(t *testing.T) {
	mockAuth := &MockAuthService{
		LogoutAllFunc: func(ctx context.Context, cmd services.LogoutAllCommand, rc models.RequestContext) (*services.SessionResult, error) {
			return &services.SessionResult{RevokedSessions: 3}, nil
		},
	}

	handler := handlers.NewAuthHandler(mockAuth, nil, discardLogger())
	req := withAuthContext(newTestRequest(t, "POST", "/auth/logout-all", nil), "user-1")
	w := httptest.NewRecorder()
	handler.LogoutAll(w, req)

	var resp handlers.LogoutResponse
	assertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Equal(t, int64(3), resp.RevokedSessions)
}

func TestListSessions(t *testing.T) {
	created := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	mockAuth := &MockAuthService{
		ListSessionsFunc: func(ctx context.Context, userID string) ([]*models.RefreshToken, error) {
			assert.Equal(t, "user-1", userID)
			return []*models.RefreshToken{{
				ID:          "s-1",
				Token:       "secret-token-value",
				CreatedAt:   created,
				ExpiresAt:   created.Add(time.Hour),
				IPAddress:   "203.0.113.7",
				MFAAsserted: true,
			}}, nil
		},
	}

	handler := handlers.NewAuthHandler(mockAuth, nil, discardLogger())
	req := withAuthContext(httptest.NewRequest("GET", "/auth/sessions", nil), "user-1")
	w := httptest.NewRecorder()
	handler.ListSessions(w, req)

	var resp struct {
		Sessions []handlers.SessionResponse `json:"sessions"`
	}
	assertJSONResponse(t, w, http.StatusOK, &resp)
	require.Len(t, resp.Sessions, 1)
	assert.Equal(t, "s-1", resp.Sessions[0].ID)
	assert.True(t, resp.Sessions[0].MFAAsserted)
	assert.NotContains(t, w.Body.String(), "secret-token-value")
}
