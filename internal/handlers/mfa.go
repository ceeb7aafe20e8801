package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/BradenHooton/keystone/internal/auth"
	"github.com/BradenHooton/keystone/internal/models"
	"github.com/BradenHooton/keystone/internal/services"
	pkghttp "github.com/BradenHooton/keystone/pkg/http"
)

// MFAServiceInterface defines the enrollment operations
type MFAServiceInterface interface {
	BeginSetup(ctx context.Context, cmd services.BeginMFASetupCommand, rc models.RequestContext) (*services.MFAResult, error)
	ConfirmSetup(ctx context.Context, cmd services.ConfirmMFASetupCommand, rc models.RequestContext) (*services.MFAResult, error)
	Disable(ctx context.Context, cmd services.DisableMFACommand, rc models.RequestContext) (*services.MFAResult, error)
	RegenerateRecoveryCodes(ctx context.Context, cmd services.RegenerateRecoveryCodesCommand, rc models.RequestContext) (*services.MFAResult, error)
}

// MFAHandler handles MFA enrollment requests for the signed-in user
type MFAHandler struct {
	service  MFAServiceInterface
	ipConfig *pkghttp.IPConfig
	logger   *slog.Logger
}

// NewMFAHandler creates a new MFA handler
func NewMFAHandler(service MFAServiceInterface, ipConfig *pkghttp.IPConfig, logger *slog.Logger) *MFAHandler {
	return &MFAHandler{
		service:  service,
		ipConfig: ipConfig,
		logger:   logger,
	}
}

// MFACodeRequest carries a six-digit TOTP code
type MFACodeRequest struct {
	Code string `json:"code" validate:"required,len=6,numeric"`
}

// DisableMFARequest re-checks the account password
type DisableMFARequest struct {
	Password string `json:"password" validate:"required,max=1024"`
}

// RecoveryCodesResponse returns freshly generated recovery codes, shown once
type RecoveryCodesResponse struct {
	RecoveryCodes []string `json:"recovery_codes"`
}

// Setup handles POST /auth/mfa/setup
func (h *MFAHandler) Setup(w http.ResponseWriter, r *http.Request) {
	rc, ok := h.requestContext(w, r)
	if !ok {
		return
	}

	result, err := h.service.BeginSetup(r.Context(), services.NewBeginMFASetupCommand(), rc)
	if err != nil {
		writeServiceError(w, h.logger, "mfa_setup", err)
		return
	}
	if !result.Succeeded() {
		writeFailure(w, result.Failure)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, result.Setup)
}

// Confirm handles POST /auth/mfa/confirm
func (h *MFAHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	rc, ok := h.requestContext(w, r)
	if !ok {
		return
	}

	var req MFACodeRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	result, err := h.service.ConfirmSetup(r.Context(), services.NewConfirmMFASetupCommand(req.Code), rc)
	if err != nil {
		writeServiceError(w, h.logger, "mfa_confirm", err)
		return
	}
	if !result.Succeeded() {
		writeFailure(w, result.Failure)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, map[string]bool{"mfa_enabled": true})
}

// Disable handles POST /auth/mfa/disable
func (h *MFAHandler) Disable(w http.ResponseWriter, r *http.Request) {
	rc, ok := h.requestContext(w, r)
	if !ok {
		return
	}

	var req DisableMFARequest
	if !decodeRequest(w, r, &req) {
		return
	}

	result, err := h.service.Disable(r.Context(), services.NewDisableMFACommand(req.Password), rc)
	if err != nil {
		writeServiceError(w, h.logger, "mfa_disable", err)
		return
	}
	if !result.Succeeded() {
		writeFailure(w, result.Failure)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, map[string]bool{"mfa_enabled": false})
}

// RegenerateRecoveryCodes handles POST /auth/mfa/recovery-codes
func (h *MFAHandler) RegenerateRecoveryCodes(w http.ResponseWriter, r *http.Request) {
	rc, ok := h.requestContext(w, r)
	if !ok {
		return
	}

	var req MFACodeRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	result, err := h.service.RegenerateRecoveryCodes(r.Context(), services.NewRegenerateRecoveryCodesCommand(req.Code), rc)
	if err != nil {
		writeServiceError(w, h.logger, "mfa_recovery_codes", err)
		return
	}
	if !result.Succeeded() {
		writeFailure(w, result.Failure)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, RecoveryCodesResponse{RecoveryCodes: result.RecoveryCodes})
}

func (h *MFAHandler) requestContext(w http.ResponseWriter, r *http.Request) (models.RequestContext, bool) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return models.RequestContext{}, false
	}
	return pkghttp.NewRequestContext(r, h.ipConfig, claims.UserID()), true
}
