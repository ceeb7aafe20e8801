package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BradenHooton/keystone/internal/auth"
	"github.com/BradenHooton/keystone/internal/models"
	"github.com/BradenHooton/keystone/internal/services"
	pkghttp "github.com/BradenHooton/keystone/pkg/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Mocks
// ============================================================================

// MockAuthService implements handlers.AuthServiceInterface for testing
type MockAuthService struct {
	LoginFunc        func(ctx context.Context, cmd services.LoginCommand, rc models.RequestContext) (*services.LoginResult, error)
	VerifyMFAFunc    func(ctx context.Context, cmd services.VerifyMFACommand, rc models.RequestContext) (*services.LoginResult, error)
	RefreshFunc      func(ctx context.Context, cmd services.RefreshCommand, rc models.RequestContext) (*services.RefreshResult, error)
	LogoutFunc       func(ctx context.Context, cmd services.LogoutCommand, rc models.RequestContext) (*services.SessionResult, error)
	LogoutAllFunc    func(ctx context.Context, cmd services.LogoutAllCommand, rc models.RequestContext) (*services.SessionResult, error)
	ListSessionsFunc func(ctx context.Context, userID string) ([]*models.RefreshToken, error)
}

func (m *MockAuthService) Login(ctx context.Context, cmd services.LoginCommand, rc models.RequestContext) (*services.LoginResult, error) {
	if m.LoginFunc != nil {
		return m.LoginFunc(ctx, cmd, rc)
	}
	return nil, models.ErrInternalServer
}

func (m *MockAuthService) VerifyMFA(ctx context.Context, cmd services.VerifyMFACommand, rc models.RequestContext) (*services.LoginResult, error) {
	if m.VerifyMFAFunc != nil {
		return m.VerifyMFAFunc(ctx, cmd, rc)
	}
	return nil, models.ErrInternalServer
}

func (m *MockAuthService) Refresh(ctx context.Context, cmd services.RefreshCommand, rc models.RequestContext) (*services.RefreshResult, error) {
	if m.RefreshFunc != nil {
		return m.RefreshFunc(ctx, cmd, rc)
	}
	return nil, models.ErrInternalServer
}

func (m *MockAuthService) Logout(ctx context.Context, cmd services.LogoutCommand, rc models.RequestContext) (*services.SessionResult, error) {
	if m.LogoutFunc != nil {
		return m.LogoutFunc(ctx, cmd, rc)
	}
	return nil, models.ErrInternalServer
}

func (m *MockAuthService) LogoutAll(ctx context.Context, cmd services.LogoutAllCommand, rc models.RequestContext) (*services.SessionResult, error) {
	if m.LogoutAllFunc != nil {
		return m.LogoutAllFunc(ctx, cmd, rc)
	}
	return nil, models.ErrInternalServer
}

func (m *MockAuthService) ListSessions(ctx context.Context, userID string) ([]*models.RefreshToken, error) {
	if m.ListSessionsFunc != nil {
		return m.ListSessionsFunc(ctx, userID)
	}
	return nil, nil
}

// MockMFAService implements handlers.MFAServiceInterface for testing
type MockMFAService struct {
	BeginSetupFunc              func(ctx context.Context, cmd services.BeginMFASetupCommand, rc models.RequestContext) (*services.MFAResult, error)
	ConfirmSetupFunc            func(ctx context.Context, cmd services.ConfirmMFASetupCommand, rc models.RequestContext) (*services.MFAResult, error)
	DisableFunc                 func(ctx context.Context, cmd services.DisableMFACommand, rc models.RequestContext) (*services.MFAResult, error)
	RegenerateRecoveryCodesFunc func(ctx context.Context, cmd services.RegenerateRecoveryCodesCommand, rc models.RequestContext) (*services.MFAResult, error)
}

func (m *MockMFAService) BeginSetup(ctx context.Context, cmd services.BeginMFASetupCommand, rc models.RequestContext) (*services.MFAResult, error) {
	if m.BeginSetupFunc != nil {
		return m.BeginSetupFunc(ctx, cmd, rc)
	}
	return &services.MFAResult{}, nil
}

func (m *MockMFAService) ConfirmSetup(ctx context.Context, cmd services.ConfirmMFASetupCommand, rc models.RequestContext) (*services.MFAResult, error) {
	if m.ConfirmSetupFunc != nil {
		return m.ConfirmSetupFunc(ctx, cmd, rc)
	}
	return &services.MFAResult{}, nil
}

func (m *MockMFAService) Disable(ctx context.Context, cmd services.DisableMFACommand, rc models.RequestContext) (*services.MFAResult, error) {
	if m.DisableFunc != nil {
		return m.DisableFunc(ctx, cmd, rc)
	}
	return &services.MFAResult{}, nil
}

func (m *MockMFAService) RegenerateRecoveryCodes(ctx context.Context, cmd services.RegenerateRecoveryCodesCommand, rc models.RequestContext) (*services.MFAResult, error) {
	if m.RegenerateRecoveryCodesFunc != nil {
		return m.RegenerateRecoveryCodesFunc(ctx, cmd, rc)
	}
	return &services.MFAResult{}, nil
}

// ============================================================================
// Helpers
// ============================================================================

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestRequest creates an HTTP request with a JSON body
func newTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "handlers-test")
	return req
}

// withAuthContext adds access token claims for userID to the request
func withAuthContext(req *http.Request, userID string) *http.Request {
	claims := &models.TokenClaims{Type: models.TokenTypeAccess}
	claims.Subject = userID
	return req.WithContext(auth.WithClaims(req.Context(), claims))
}

// assertJSONResponse checks the status and decodes the JSON body into target
func assertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	t.Helper()
	assert.Equal(t, expectedStatus, w.Code, "response status mismatch")
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	if target != nil {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), target))
	}
}

// assertErrorResponse checks the status and error code of a JSON error body
func assertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedCode string) pkghttp.ErrorResponse {
	t.Helper()
	var resp pkghttp.ErrorResponse
	assertJSONResponse(t, w, expectedStatus, &resp)
	assert.Equal(t, expectedCode, resp.Error)
	return resp
}
