package models

// FailureReason is the typed outcome of an expected failure branch
type FailureReason string

const (
	FailureNone                    FailureReason = ""
	FailureInvalidCredentials      FailureReason = "invalid_credentials"
	FailureAccountLocked           FailureReason = "account_locked"
	FailureInvalidMFACode          FailureReason = "invalid_mfa_code"
	FailureInvalidMFAChallenge     FailureReason = "invalid_mfa_challenge"
	FailureMFANotConfigured        FailureReason = "mfa_not_configured"
	FailureInvalidRefreshToken     FailureReason = "invalid_refresh_token"
	FailureRefreshTokenExpired     FailureReason = "refresh_token_expired"
	FailureRefreshTokenCompromised FailureReason = "refresh_token_compromised"
	FailureUserNotFound            FailureReason = "user_not_found"
	FailureMFAAlreadyEnabled       FailureReason = "mfa_already_enabled"
	FailureMFAAttemptsExceeded     FailureReason = "mfa_attempts_exceeded"
)

// GenericCredentialMessage is shown for every credential and lockout failure
const GenericCredentialMessage = "Invalid credentials"

// Message returns the user-facing text for a failure
func (f FailureReason) Message() string {
	switch f {
	case FailureInvalidCredentials, FailureAccountLocked, FailureUserNotFound:
		return GenericCredentialMessage
	case FailureInvalidMFACode:
		return "Invalid verification code"
	case FailureInvalidMFAChallenge:
		return "MFA challenge is invalid or expired"
	case FailureMFANotConfigured:
		return "MFA is not configured for this account"
	case FailureInvalidRefreshToken:
		return "Invalid refresh token"
	case FailureRefreshTokenExpired:
		return "Refresh token expired"
	case FailureMFAAlreadyEnabled:
		return "MFA is already enabled for this account"
	case FailureRefreshTokenCompromised:
		return "Refresh token has been revoked"
	case FailureMFAAttemptsExceeded:
		return "Too many verification attempts, try again later"
	}
	return ""
}
