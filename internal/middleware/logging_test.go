package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecureLogger(t *testing.T) {
	tests := []struct {
		name      string
		target    string
		status    int
		wantPath  string
		wantLevel string
	}{
		{"plain", "/auth/sessions", http.StatusOK, "/auth/sessions", "INFO"},
		{"redacted query", "/auth/refresh?refresh_token=abc", http.StatusOK, "/auth/refresh?[REDACTED]", "INFO"},
		{"harmless query", "/health?verbose=1", http.StatusOK, "/health?verbose=1", "INFO"},
		{"server error", "/auth/login", http.StatusInternalServerError, "/auth/login", "ERROR"},
		{"rate limited", "/auth/login", http.StatusTooManyRequests, "/auth/login", "WARN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewJSONHandler(&buf, nil))

			handler := SecureLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", tt.target, nil))

			var line map[string]interface{}
			require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
			assert.Equal(t, "http_request", line["msg"])
			assert.Equal(t, tt.wantPath, line["path"])
			assert.Equal(t, tt.wantLevel, line["level"])
			assert.EqualValues(t, tt.status, line["status"])
		})
	}
}
