package services

import (
	"github.com/BradenHooton/keystone/internal/models"
)

// LoginStatus is the control-flow state of a login
type LoginStatus string

const (
	LoginStatusSuccess     LoginStatus = "success"
	LoginStatusMFARequired LoginStatus = "mfa_required"
	LoginStatusFailed      LoginStatus = "failed"
)

// LoginResult is returned by Login and VerifyMFA
type LoginResult struct {
	Status                 LoginStatus
	Failure                models.FailureReason
	User                   *models.User
	Tokens                 *TokenPair
	Challenge              *MFAChallenge
	LowRecoveryCodes       bool
	RemainingRecoveryCodes *int

	subjectID string
	severity  models.AuditSeverity
	metadata  models.AuditFields
}

func failedLogin(failure models.FailureReason, user *models.User) *LoginResult {
	r := &LoginResult{Status: LoginStatusFailed, Failure: failure, User: user}
	if user != nil {
		r.subjectID = user.ID
	}
	return r
}

func (r *LoginResult) with(key string, value interface{}) *LoginResult {
	if r.metadata == nil {
		r.metadata = models.AuditFields{}
	}
	r.metadata[key] = value
	return r
}

// Succeeded reports whether a full session was issued
func (r *LoginResult) Succeeded() bool {
	return r != nil && r.Status == LoginStatusSuccess
}

func (r *LoginResult) AuditDetails() AuditDetails {
	if r == nil {
		return AuditDetails{}
	}
	d := AuditDetails{
		Success:   r.Status != LoginStatusFailed,
		Failure:   r.Failure,
		Severity:  r.severity,
		SubjectID: r.subjectID,
		Metadata:  models.AuditFields{"status": string(r.Status)},
	}
	if r.User != nil {
		d.SubjectID = r.User.ID
	}
	for k, v := range r.metadata {
		d.Metadata[k] = v
	}
	return d
}

// RefreshResult is returned by Refresh
type RefreshResult struct {
	Failure         models.FailureReason
	Tokens          *TokenPair
	RevokedSessions int64

	userID string
}

// Succeeded reports whether a new pair was issued
func (r *RefreshResult) Succeeded() bool {
	return r != nil && r.Failure == models.FailureNone && r.Tokens != nil
}

func (r *RefreshResult) AuditDetails() AuditDetails {
	if r == nil {
		return AuditDetails{}
	}
	d := AuditDetails{
		Success:   r.Succeeded(),
		Failure:   r.Failure,
		SubjectID: r.userID,
	}
	if r.Failure == models.FailureRefreshTokenCompromised {
		d.Action = models.AuditActionTokenReuseDetected
		d.Severity = models.AuditSeverityCritical
		d.Metadata = models.AuditFields{"revoked_sessions": r.RevokedSessions}
	}
	return d
}

// SessionResult is returned by Logout and LogoutAll
type SessionResult struct {
	Failure         models.FailureReason
	RevokedSessions int64

	userID string
}

func (r *SessionResult) AuditDetails() AuditDetails {
	if r == nil {
		return AuditDetails{}
	}
	return AuditDetails{
		Success:   r.Failure == models.FailureNone,
		Failure:   r.Failure,
		SubjectID: r.userID,
		Metadata:  models.AuditFields{"revoked_sessions": r.RevokedSessions},
	}
}

// MFASetup is the one-time enrollment payload. Secret and RecoveryCodes are
// never stored in plaintext and never audited.
type MFASetup struct {
	Secret          string   `json:"secret"`
	ProvisioningURL string   `json:"provisioning_url"`
	QRCode          string   `json:"qr_code"`
	RecoveryCodes   []string `json:"recovery_codes"`
}

// MFAResult is returned by the enrollment operations. Setup is set by
// BeginSetup; RecoveryCodes by RegenerateRecoveryCodes.
type MFAResult struct {
	Failure       models.FailureReason
	Setup         *MFASetup
	RecoveryCodes []string

	userID string
}

// Succeeded reports whether the change was applied
func (r *MFAResult) Succeeded() bool {
	return r != nil && r.Failure == models.FailureNone
}

func (r *MFAResult) AuditDetails() AuditDetails {
	if r == nil {
		return AuditDetails{}
	}
	d := AuditDetails{
		Success:   r.Succeeded(),
		Failure:   r.Failure,
		SubjectID: r.userID,
	}
	if n := len(r.RecoveryCodes); n > 0 {
		d.Metadata = models.AuditFields{"recovery_codes": n}
	}
	return d
}
