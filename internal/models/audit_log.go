package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// Audit actions
const (
	AuditActionLogin                = "login"
	AuditActionMFAVerify            = "mfa_verify"
	AuditActionTokenRefresh         = "token_refresh"
	AuditActionTokenReuseDetected   = "refresh_token_reuse_detected"
	AuditActionLogout               = "logout"
	AuditActionLogoutAll            = "logout_all"
	AuditActionMFASetup             = "mfa_setup"
	AuditActionMFAConfirm           = "mfa_confirm"
	AuditActionMFADisable           = "mfa_disable"
	AuditActionRecoveryCodesRenewed = "mfa_recovery_codes_regenerate"

	AuditActionAdminCreateUser     = "admin_create_user"
	AuditActionAdminUnlock         = "admin_unlock"
	AuditActionAdminRevokeSessions = "admin_revoke_sessions"
	AuditActionAdminGrant          = "admin_grant_permission"
)

// AuditSeverity ranks audit entries
type AuditSeverity string

const (
	AuditSeverityInfo     AuditSeverity = "info"
	AuditSeverityWarning  AuditSeverity = "warning"
	AuditSeverityCritical AuditSeverity = "critical"
)

// AuditLog is an append-only audit entry. ActorID and TargetID are weak
// references; nothing cascades from them.
type AuditLog struct {
	ID            string        `db:"id"`
	Action        string        `db:"action"`
	ActorID       *string       `db:"actor_id"`
	TargetID      *string       `db:"target_id"`
	Success       bool          `db:"success"`
	Severity      AuditSeverity `db:"severity"`
	FailureReason *string       `db:"failure_reason"`
	Description   string        `db:"description"`
	IPAddress     *string       `db:"ip_address"`
	UserAgent     *string       `db:"user_agent"`
	Metadata      AuditFields   `db:"metadata"`
	CreatedAt     time.Time     `db:"created_at"`
}

// AuditFields holds additional context for audit events
type AuditFields map[string]interface{}

// Scan implements sql.Scanner for JSONB
func (af *AuditFields) Scan(value interface{}) error {
	if value == nil {
		*af = make(AuditFields)
		return nil
	}

	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return ErrBadRequest
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return err
	}
	*af = AuditFields(m)
	return nil
}

// Value implements driver.Valuer for JSONB
func (af AuditFields) Value() (driver.Value, error) {
	if af == nil {
		return nil, nil
	}
	return json.Marshal(map[string]interface{}(af))
}
