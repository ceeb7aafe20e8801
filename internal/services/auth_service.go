package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BradenHooton/keystone/internal/auth"
	"github.com/BradenHooton/keystone/internal/models"
	"github.com/BradenHooton/keystone/internal/repositories"
	pkglogger "github.com/BradenHooton/keystone/pkg/logger"
)

const notifyTimeout = 10 * time.Second

// errAbort rolls back a transaction whose typed result has already been set
var errAbort = errors.New("abort transaction")

// AuthServiceDeps wires an AuthService
type AuthServiceDeps struct {
	Store    repositories.Store
	Verifier *CredentialVerifier
	MFA      *MFAChallengeEngine
	Issuer   *TokenIssuer
	Rotation *RefreshRotationEngine
	Audit    *AuditInterceptor
	Notifier SecurityNotifier
	Timing   *auth.TimingDelay
	Clock    Clock
	Logger   *slog.Logger
}

// AuthService drives login, MFA, refresh and logout. Every flow runs in
// exactly one store transaction.
type AuthService struct {
	store    repositories.Store
	verifier *CredentialVerifier
	mfa      *MFAChallengeEngine
	issuer   *TokenIssuer
	rotation *RefreshRotationEngine
	audit    *AuditInterceptor
	notifier SecurityNotifier
	timing   *auth.TimingDelay
	clock    Clock
	logger   *slog.Logger
}

// NewAuthService creates a new AuthService
func NewAuthService(deps AuthServiceDeps) *AuthService {
	if deps.Clock == nil {
		deps.Clock = SystemClock{}
	}
	return &AuthService{
		store:    deps.Store,
		verifier: deps.Verifier,
		mfa:      deps.MFA,
		issuer:   deps.Issuer,
		rotation: deps.Rotation,
		audit:    deps.Audit,
		notifier: deps.Notifier,
		timing:   deps.Timing,
		clock:    deps.Clock,
		logger:   deps.Logger,
	}
}

// Login checks credentials and either issues a session or an MFA challenge
func (s *AuthService) Login(ctx context.Context, cmd LoginCommand, rc models.RequestContext) (*LoginResult, error) {
	return Intercept(ctx, s.audit, cmd.Audit, rc, func(ctx context.Context) (*LoginResult, error) {
		return s.login(ctx, cmd, rc)
	})
}

func (s *AuthService) login(ctx context.Context, cmd LoginCommand, rc models.RequestContext) (*LoginResult, error) {
	start := time.Now()
	email := strings.ToLower(strings.TrimSpace(cmd.Email))

	var (
		result *LoginResult
		locked *models.User
	)

	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repositories.Store) error {
		if email == "" || cmd.Password == "" {
			result = failedLogin(models.FailureInvalidCredentials, nil).with("cause", "missing_credentials")
			return nil
		}

		user, err := tx.Users().GetByEmail(ctx, email)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				result = failedLogin(models.FailureInvalidCredentials, nil).with("cause", "unknown_user")
				return nil
			}
			return fmt.Errorf("failed to load user: %w", err)
		}

		outcome, err := s.verifier.VerifyAndRecord(ctx, tx, user, cmd.Password, rc)
		if err != nil {
			return err
		}

		switch {
		case outcome.Locked:
			result = failedLogin(models.FailureAccountLocked, user)
			if outcome.JustLocked {
				result.with("just_locked", true).with("failed_attempts", outcome.FailedAttempts)
				locked = user
			}
			return nil
		case !outcome.Success:
			result = failedLogin(models.FailureInvalidCredentials, user).with("failed_attempts", outcome.FailedAttempts)
			return nil
		}

		if s.mfa.RequiresChallenge(user) {
			challenge, err := s.mfa.IssueChallenge(ctx, tx, user, rc)
			if err != nil {
				return err
			}
			result = &LoginResult{Status: LoginStatusMFARequired, User: user, Challenge: challenge}
			return nil
		}

		tokens, err := s.openSession(ctx, tx, user, false, rc)
		if err != nil {
			return err
		}
		result = &LoginResult{Status: LoginStatusSuccess, User: user, Tokens: tokens}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if locked != nil {
		s.notify(ctx, "account_locked", func(ctx context.Context) error {
			return s.notifier.NotifyAccountLocked(ctx, locked, *locked.LockoutEndAt, rc)
		})
	}

	switch result.Status {
	case LoginStatusFailed:
		s.logger.Info("login failed", slog.String("reason", string(result.Failure)))
		s.timing.WaitFrom(ctx, start, false)
	case LoginStatusMFARequired:
		s.logger.Info("login requires MFA", slog.String("user_id", result.User.ID))
	default:
		s.logger.Info("user logged in", slog.String("user_id", result.User.ID), slog.String("email", pkglogger.SanitizedEmail(result.User.Email)))
		s.timing.WaitFrom(ctx, start, true)
	}

	return result, nil
}

// VerifyMFA answers a login challenge and issues a session on success.
// A failed answer rolls back everything it touched. A wrong code is then
// recorded on its own so repeated guesses hit the attempt limit.
func (s *AuthService) VerifyMFA(ctx context.Context, cmd VerifyMFACommand, rc models.RequestContext) (*LoginResult, error) {
	return Intercept(ctx, s.audit, cmd.Audit, rc, func(ctx context.Context) (*LoginResult, error) {
		var (
			result *LoginResult
			v      *MFAVerification
		)

		err := s.store.WithinTx(ctx, func(ctx context.Context, tx repositories.Store) error {
			var err error
			if cmd.Method == MFAMethodRecovery {
				v, err = s.mfa.VerifyRecoveryCode(ctx, tx, cmd.ChallengeToken, cmd.Code, rc)
			} else {
				v, err = s.mfa.VerifyTOTP(ctx, tx, cmd.ChallengeToken, cmd.Code, rc)
			}
			if err != nil {
				return err
			}

			if v.Failure != models.FailureNone {
				result = failedLogin(v.Failure, v.User).with("method", string(v.Method))
				return errAbort
			}

			tokens, err := s.openSession(ctx, tx, v.User, true, rc)
			if err != nil {
				return err
			}

			result = (&LoginResult{Status: LoginStatusSuccess, User: v.User, Tokens: tokens}).with("method", string(v.Method))
			if v.Method == MFAMethodRecovery {
				remaining := v.RemainingRecoveryCodes
				result.RemainingRecoveryCodes = &remaining
				result.LowRecoveryCodes = v.LowRecoveryCodes
				result.with("recovery_codes_remaining", remaining)
			}
			return nil
		})
		if err != nil && !errors.Is(err, errAbort) {
			return nil, err
		}

		if result.Failure == models.FailureInvalidMFACode {
			var revoked bool
			err := s.store.WithinTx(ctx, func(ctx context.Context, tx repositories.Store) error {
				var err error
				revoked, err = s.mfa.RecordFailure(ctx, tx, v, rc)
				return err
			})
			if err != nil {
				return nil, err
			}
			if revoked {
				result.with("challenge_revoked", true)
			}
		}

		if result.Succeeded() {
			s.logger.Info("MFA verified", slog.String("user_id", result.User.ID), slog.String("method", string(cmd.Method)))
		}
		return result, nil
	})
}

// Refresh rotates a refresh token. Reuse of a consumed token revokes every
// session of its owner and that revocation is committed.
func (s *AuthService) Refresh(ctx context.Context, cmd RefreshCommand, rc models.RequestContext) (*RefreshResult, error) {
	return Intercept(ctx, s.audit, cmd.Audit, rc, func(ctx context.Context) (*RefreshResult, error) {
		var rotation *RotationResult

		err := s.store.WithinTx(ctx, func(ctx context.Context, tx repositories.Store) error {
			var err error
			rotation, err = s.rotation.Rotate(ctx, tx, cmd.RefreshToken, rc)
			return err
		})
		if err != nil {
			return nil, err
		}

		result := &RefreshResult{
			Failure:         rotation.Failure,
			RevokedSessions: rotation.RevokedSessions,
			userID:          rotation.UserID,
		}
		if rotation.Issued != nil {
			result.Tokens = rotation.Issued.Tokens
		}

		if rotation.Failure == models.FailureRefreshTokenCompromised && rotation.User != nil {
			s.notify(ctx, "token_reuse", func(ctx context.Context) error {
				return s.notifier.NotifyTokenReuse(ctx, rotation.User, rotation.RevokedSessions, rc)
			})
		}
		return result, nil
	})
}

// Logout revokes one session belonging to the caller. Revoking an already
// revoked session succeeds.
func (s *AuthService) Logout(ctx context.Context, cmd LogoutCommand, rc models.RequestContext) (*SessionResult, error) {
	return Intercept(ctx, s.audit, cmd.Audit, rc, func(ctx context.Context) (*SessionResult, error) {
		if rc.UserID == "" {
			return nil, models.ErrUnauthorized
		}
		result := &SessionResult{userID: rc.UserID}

		err := s.store.WithinTx(ctx, func(ctx context.Context, tx repositories.Store) error {
			token, err := tx.RefreshTokens().GetByToken(ctx, cmd.RefreshToken)
			if err != nil {
				if errors.Is(err, models.ErrNotFound) {
					result.Failure = models.FailureInvalidRefreshToken
					return nil
				}
				return fmt.Errorf("failed to load refresh token: %w", err)
			}
			if token.UserID != rc.UserID || token.Purpose != models.TokenPurposeRefresh {
				result.Failure = models.FailureInvalidRefreshToken
				return nil
			}
			if token.IsRevoked {
				return nil
			}

			won, err := tx.RefreshTokens().TryRevokeAndChain(ctx, token.ID, nil, models.RevocationReasonLogout, s.clock.Now())
			if err != nil {
				return fmt.Errorf("failed to revoke refresh token: %w", err)
			}
			if won {
				result.RevokedSessions = 1
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		return result, nil
	})
}

// LogoutAll revokes every active session of the caller
func (s *AuthService) LogoutAll(ctx context.Context, cmd LogoutAllCommand, rc models.RequestContext) (*SessionResult, error) {
	return Intercept(ctx, s.audit, cmd.Audit, rc, func(ctx context.Context) (*SessionResult, error) {
		if rc.UserID == "" {
			return nil, models.ErrUnauthorized
		}
		result := &SessionResult{userID: rc.UserID}

		err := s.store.WithinTx(ctx, func(ctx context.Context, tx repositories.Store) error {
			n, err := tx.RefreshTokens().RevokeAllForUser(ctx, rc.UserID, models.RevocationReasonLogoutAll, s.clock.Now())
			if err != nil {
				return fmt.Errorf("failed to revoke sessions: %w", err)
			}
			result.RevokedSessions = n
			return nil
		})
		if err != nil {
			return nil, err
		}

		s.logger.Info("all sessions revoked", slog.String("user_id", rc.UserID), slog.Int64("count", result.RevokedSessions))
		return result, nil
	})
}

// ListSessions returns the active device sessions of userID, newest first
func (s *AuthService) ListSessions(ctx context.Context, userID string) ([]*models.RefreshToken, error) {
	sessions, err := s.store.RefreshTokens().ListActiveForUser(ctx, userID, s.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}

// openSession issues a pair and persists its refresh row in tx
func (s *AuthService) openSession(ctx context.Context, tx repositories.Store, user *models.User, mfaAsserted bool, rc models.RequestContext) (*TokenPair, error) {
	issued, err := s.issuer.Issue(ctx, user, IssueOptions{MFAAsserted: mfaAsserted, RequestContext: rc, Catalog: tx.Permissions()})
	if err != nil {
		return nil, err
	}
	if err := tx.RefreshTokens().Create(ctx, issued.Session); err != nil {
		return nil, fmt.Errorf("failed to store refresh token: %w", err)
	}
	return issued.Tokens, nil
}

// notify sends a best-effort alert after commit
func (s *AuthService) notify(ctx context.Context, kind string, send func(ctx context.Context) error) {
	if s.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()

	if err := send(ctx); err != nil {
		s.logger.Error("failed to send security notification", slog.String("kind", kind), slog.Any("error", err))
	}
}
