package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BradenHooton/keystone/internal/auth"
	"github.com/BradenHooton/keystone/internal/models"
	"github.com/stretchr/testify/assert"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimitByIP(t *testing.T) {
	handler := RateLimitByIP(RateLimitConfig{RequestsPerMinute: 2})(okHandler())

	send := func(addr string) int {
		req := httptest.NewRequest("POST", "/auth/login", nil)
		req.RemoteAddr = addr
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, send("192.0.2.1:1000"))
	assert.Equal(t, http.StatusOK, send("192.0.2.1:1001"))
	assert.Equal(t, http.StatusTooManyRequests, send("192.0.2.1:1002"))
	assert.Equal(t, http.StatusOK, send("192.0.2.2:1000"))
}

func TestRateLimitByIP_ErrorBody(t *testing.T) {
	handler := RateLimitByIP(RateLimitConfig{RequestsPerMinute: 1})(okHandler())

	var w *httptest.ResponseRecorder
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("POST", "/auth/refresh", nil)
		req.RemoteAddr = "192.0.2.9:1000"
		w = httptest.NewRecorder()
		handler.ServeHTTP(w, req)
	}

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), `"error":"rate_limit_exceeded"`)
}

func TestRateLimitByUser_KeysOnSubject(t *testing.T) {
	handler := RateLimitByUser(RateLimitConfig{RequestsPerMinute: 1})(okHandler())

	send := func(userID string) int {
		req := httptest.NewRequest("POST", "/auth/mfa/setup", nil)
		req.RemoteAddr = "192.0.2.50:1000"
		if userID != "" {
			claims := &models.TokenClaims{}
			claims.Subject = userID
			req = req.WithContext(auth.WithClaims(req.Context(), claims))
		}
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w.Code
	}

	// same IP, different subjects
	assert.Equal(t, http.StatusOK, send("user-a"))
	assert.Equal(t, http.StatusOK, send("user-b"))
	assert.Equal(t, http.StatusTooManyRequests, send("user-a"))

	// anonymous falls back to the IP bucket
	assert.Equal(t, http.StatusOK, send(""))
	assert.Equal(t, http.StatusTooManyRequests, send(""))
}
