package services

import (
	"fmt"

	"github.com/BradenHooton/keystone/internal/models"
	pkglogger "github.com/BradenHooton/keystone/pkg/logger"
)

// AuditMetadata marks a command as auditable. Commands with a nil Audit run unaudited.
type AuditMetadata struct {
	Action   string
	Describe func() string
}

// LoginCommand authenticates with email and password
type LoginCommand struct {
	Email    string
	Password string
	Audit    *AuditMetadata
}

// NewLoginCommand builds an audited login command
func NewLoginCommand(email, password string) LoginCommand {
	return LoginCommand{
		Email:    email,
		Password: password,
		Audit: &AuditMetadata{
			Action:   models.AuditActionLogin,
			Describe: func() string { return fmt.Sprintf("password login for %s", pkglogger.SanitizedEmail(email)) },
		},
	}
}

// VerifyMFACommand answers an MFA challenge
type VerifyMFACommand struct {
	ChallengeToken string
	Code           string
	Method         MFAMethod
	Audit          *AuditMetadata
}

// NewVerifyMFACommand builds an audited MFA verification command
func NewVerifyMFACommand(challengeToken, code string, method MFAMethod) VerifyMFACommand {
	if method == "" {
		method = MFAMethodTOTP
	}
	return VerifyMFACommand{
		ChallengeToken: challengeToken,
		Code:           code,
		Method:         method,
		Audit: &AuditMetadata{
			Action:   models.AuditActionMFAVerify,
			Describe: func() string { return "mfa challenge answered with " + string(method) },
		},
	}
}

// RefreshCommand exchanges a refresh token for a new pair
type RefreshCommand struct {
	RefreshToken string
	Audit        *AuditMetadata
}

func NewRefreshCommand(refreshToken string) RefreshCommand {
	return RefreshCommand{
		RefreshToken: refreshToken,
		Audit:        &AuditMetadata{Action: models.AuditActionTokenRefresh},
	}
}

// LogoutCommand ends one session
type LogoutCommand struct {
	RefreshToken string
	Audit        *AuditMetadata
}

func NewLogoutCommand(refreshToken string) LogoutCommand {
	return LogoutCommand{
		RefreshToken: refreshToken,
		Audit:        &AuditMetadata{Action: models.AuditActionLogout},
	}
}

// LogoutAllCommand ends every session of the caller
type LogoutAllCommand struct {
	Audit *AuditMetadata
}

func NewLogoutAllCommand() LogoutAllCommand {
	return LogoutAllCommand{
		Audit: &AuditMetadata{
			Action:   models.AuditActionLogoutAll,
			Describe: func() string { return "all sessions revoked by owner" },
		},
	}
}

// BeginMFASetupCommand starts TOTP enrollment
type BeginMFASetupCommand struct {
	Audit *AuditMetadata
}

func NewBeginMFASetupCommand() BeginMFASetupCommand {
	return BeginMFASetupCommand{Audit: &AuditMetadata{Action: models.AuditActionMFASetup}}
}

// ConfirmMFASetupCommand proves possession of the new secret and enables MFA
type ConfirmMFASetupCommand struct {
	Code  string
	Audit *AuditMetadata
}

func NewConfirmMFASetupCommand(code string) ConfirmMFASetupCommand {
	return ConfirmMFASetupCommand{Code: code, Audit: &AuditMetadata{Action: models.AuditActionMFAConfirm}}
}

// DisableMFACommand turns MFA off after a password re-check
type DisableMFACommand struct {
	Password string
	Audit    *AuditMetadata
}

func NewDisableMFACommand(password string) DisableMFACommand {
	return DisableMFACommand{Password: password, Audit: &AuditMetadata{Action: models.AuditActionMFADisable}}
}

// RegenerateRecoveryCodesCommand replaces the recovery code set after a TOTP re-check
type RegenerateRecoveryCodesCommand struct {
	Code  string
	Audit *AuditMetadata
}

func NewRegenerateRecoveryCodesCommand(code string) RegenerateRecoveryCodesCommand {
	return RegenerateRecoveryCodesCommand{Code: code, Audit: &AuditMetadata{Action: models.AuditActionRecoveryCodesRenewed}}
}
