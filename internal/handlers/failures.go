package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/BradenHooton/keystone/internal/models"
	pkghttp "github.com/BradenHooton/keystone/pkg/http"
)

// failureStatus maps typed failures to HTTP status codes
var failureStatus = map[models.FailureReason]int{
	models.FailureInvalidCredentials:      http.StatusUnauthorized,
	models.FailureAccountLocked:           http.StatusUnauthorized,
	models.FailureUserNotFound:            http.StatusUnauthorized,
	models.FailureInvalidMFACode:          http.StatusUnauthorized,
	models.FailureInvalidMFAChallenge:     http.StatusUnauthorized,
	models.FailureInvalidRefreshToken:     http.StatusUnauthorized,
	models.FailureRefreshTokenExpired:     http.StatusUnauthorized,
	models.FailureRefreshTokenCompromised: http.StatusUnauthorized,
	models.FailureMFANotConfigured:        http.StatusConflict,
	models.FailureMFAAlreadyEnabled:       http.StatusConflict,
	models.FailureMFAAttemptsExceeded:     http.StatusTooManyRequests,
}

// writeFailure writes a typed failure. Credential and lockout failures share
// one error code so responses cannot tell them apart.
func writeFailure(w http.ResponseWriter, failure models.FailureReason) {
	status, ok := failureStatus[failure]
	if !ok {
		status = http.StatusBadRequest
	}

	code := string(failure)
	switch failure {
	case models.FailureAccountLocked, models.FailureUserNotFound:
		code = string(models.FailureInvalidCredentials)
	}

	pkghttp.WriteError(w, status, code, failure.Message())
}

// writeServiceError handles the exceptional error path of a service call
func writeServiceError(w http.ResponseWriter, logger *slog.Logger, op string, err error) {
	if errors.Is(err, models.ErrUnauthorized) {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}
	logger.Error("request failed", slog.String("operation", op), slog.Any("error", err))
	pkghttp.WriteInternalError(w, "Internal server error")
}
