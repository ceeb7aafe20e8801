package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/BradenHooton/keystone/internal/auth"
	"github.com/BradenHooton/keystone/internal/models"
	"github.com/BradenHooton/keystone/internal/repositories"
)

// MFAServiceConfig holds enrollment settings
type MFAServiceConfig struct {
	RecoveryCodeCount int
	WindowSteps       int
}

// MFAService handles TOTP enrollment, disabling and recovery code rotation
type MFAService struct {
	store    repositories.Store
	totp     TOTPPrimitive
	sealer   SecretSealer
	qr       QRCodeRenderer
	verifier *CredentialVerifier
	audit    *AuditInterceptor
	config   MFAServiceConfig
	clock    Clock
	logger   *slog.Logger
}

// NewMFAService creates a new MFA service
func NewMFAService(
	store repositories.Store,
	totp TOTPPrimitive,
	sealer SecretSealer,
	qr QRCodeRenderer,
	verifier *CredentialVerifier,
	audit *AuditInterceptor,
	config MFAServiceConfig,
	clock Clock,
	logger *slog.Logger,
) *MFAService {
	if config.RecoveryCodeCount <= 0 {
		config.RecoveryCodeCount = 10
	}
	return &MFAService{
		store:    store,
		totp:     totp,
		sealer:   sealer,
		qr:       qr,
		verifier: verifier,
		audit:    audit,
		config:   config,
		clock:    clock,
		logger:   logger,
	}
}

// BeginSetup generates a new unverified secret and recovery codes for the
// caller. Calling it again before confirming replaces both.
func (s *MFAService) BeginSetup(ctx context.Context, cmd BeginMFASetupCommand, rc models.RequestContext) (*MFAResult, error) {
	return Intercept(ctx, s.audit, cmd.Audit, rc, func(ctx context.Context) (*MFAResult, error) {
		result := &MFAResult{userID: rc.UserID}

		err := s.store.WithinTx(ctx, func(ctx context.Context, tx repositories.Store) error {
			user, err := s.caller(ctx, tx, rc)
			if err != nil {
				return err
			}
			if user.MFAEnabled {
				result.Failure = models.FailureMFAAlreadyEnabled
				return nil
			}

			key, err := s.totp.GenerateSecret(user.Email)
			if err != nil {
				return err
			}
			sealed, err := s.sealer.Seal([]byte(key.Secret))
			if err != nil {
				return fmt.Errorf("failed to seal MFA secret: %w", err)
			}
			qr, err := s.qr.QRCodeDataURL(key.URL)
			if err != nil {
				return err
			}
			codes, hashes, err := s.newRecoveryCodes()
			if err != nil {
				return err
			}

			now := s.clock.Now()
			if err := tx.MFASecrets().UpsertSecret(ctx, &models.MFASecret{
				UserID:          user.ID,
				EncryptedSecret: sealed,
				CreatedAt:       now,
				UpdatedAt:       now,
			}); err != nil {
				return fmt.Errorf("failed to store MFA secret: %w", err)
			}
			if err := tx.MFASecrets().ReplaceRecoveryCodes(ctx, user.ID, hashes, now); err != nil {
				return fmt.Errorf("failed to store recovery codes: %w", err)
			}

			result.Setup = &MFASetup{
				Secret:          key.Secret,
				ProvisioningURL: key.URL,
				QRCode:          qr,
				RecoveryCodes:   codes,
			}
			return nil
		})
		if err != nil {
			return nil, err
		}

		s.logger.Info("MFA setup initiated", slog.String("user_id", rc.UserID))
		return result, nil
	})
}

// ConfirmSetup enables MFA once the caller proves the authenticator works
func (s *MFAService) ConfirmSetup(ctx context.Context, cmd ConfirmMFASetupCommand, rc models.RequestContext) (*MFAResult, error) {
	return Intercept(ctx, s.audit, cmd.Audit, rc, func(ctx context.Context) (*MFAResult, error) {
		result := &MFAResult{userID: rc.UserID}

		err := s.store.WithinTx(ctx, func(ctx context.Context, tx repositories.Store) error {
			secret, failure, err := s.loadSecret(ctx, tx, rc.UserID)
			if err != nil {
				return err
			}
			if failure == models.FailureNone && secret.IsEnabled {
				failure = models.FailureMFAAlreadyEnabled
			}
			if failure == models.FailureNone {
				failure, err = s.checkCode(ctx, secret, cmd.Code)
				if err != nil {
					return err
				}
			}
			if failure != models.FailureNone {
				result.Failure = failure
				return nil
			}

			now := s.clock.Now()
			if err := tx.MFASecrets().UpdateSecretState(ctx, rc.UserID, true, true, now); err != nil {
				return fmt.Errorf("failed to enable MFA secret: %w", err)
			}
			if err := tx.Users().SetMFAEnabled(ctx, rc.UserID, true, now); err != nil {
				return fmt.Errorf("failed to enable MFA: %w", err)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}

		if result.Succeeded() {
			s.logger.Info("MFA enabled", slog.String("user_id", rc.UserID))
		}
		return result, nil
	})
}

// Disable turns MFA off after re-checking the caller's password. The check
// is recorded like a login attempt and counts toward lockout. Recovery codes
// are dropped with the secret.
func (s *MFAService) Disable(ctx context.Context, cmd DisableMFACommand, rc models.RequestContext) (*MFAResult, error) {
	return Intercept(ctx, s.audit, cmd.Audit, rc, func(ctx context.Context) (*MFAResult, error) {
		result := &MFAResult{userID: rc.UserID}

		err := s.store.WithinTx(ctx, func(ctx context.Context, tx repositories.Store) error {
			user, err := s.caller(ctx, tx, rc)
			if err != nil {
				return err
			}
			if !user.MFAEnabled {
				result.Failure = models.FailureMFANotConfigured
				return nil
			}

			outcome, err := s.verifier.VerifyAndRecord(ctx, tx, user, cmd.Password, rc)
			if err != nil {
				return err
			}
			switch {
			case outcome.Locked:
				result.Failure = models.FailureAccountLocked
				return nil
			case !outcome.Success:
				result.Failure = models.FailureInvalidCredentials
				return nil
			}

			if err := tx.MFASecrets().DeleteSecret(ctx, user.ID); err != nil && !errors.Is(err, models.ErrNotFound) {
				return fmt.Errorf("failed to delete MFA secret: %w", err)
			}
			if err := tx.Users().SetMFAEnabled(ctx, user.ID, false, s.clock.Now()); err != nil {
				return fmt.Errorf("failed to disable MFA: %w", err)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}

		if result.Succeeded() {
			s.logger.Warn("MFA disabled", slog.String("user_id", rc.UserID))
		}
		return result, nil
	})
}

// RegenerateRecoveryCodes replaces every recovery code after a TOTP check
func (s *MFAService) RegenerateRecoveryCodes(ctx context.Context, cmd RegenerateRecoveryCodesCommand, rc models.RequestContext) (*MFAResult, error) {
	return Intercept(ctx, s.audit, cmd.Audit, rc, func(ctx context.Context) (*MFAResult, error) {
		result := &MFAResult{userID: rc.UserID}

		err := s.store.WithinTx(ctx, func(ctx context.Context, tx repositories.Store) error {
			secret, failure, err := s.loadSecret(ctx, tx, rc.UserID)
			if err != nil {
				return err
			}
			if failure == models.FailureNone && !secret.IsEnabled {
				failure = models.FailureMFANotConfigured
			}
			if failure == models.FailureNone {
				failure, err = s.checkCode(ctx, secret, cmd.Code)
				if err != nil {
					return err
				}
			}
			if failure != models.FailureNone {
				result.Failure = failure
				return nil
			}

			codes, hashes, err := s.newRecoveryCodes()
			if err != nil {
				return err
			}
			if err := tx.MFASecrets().ReplaceRecoveryCodes(ctx, rc.UserID, hashes, s.clock.Now()); err != nil {
				return fmt.Errorf("failed to store recovery codes: %w", err)
			}
			result.RecoveryCodes = codes
			return nil
		})
		if err != nil {
			return nil, err
		}
		return result, nil
	})
}

// caller loads the authenticated user named by rc
func (s *MFAService) caller(ctx context.Context, tx repositories.Store, rc models.RequestContext) (*models.User, error) {
	if rc.UserID == "" {
		return nil, models.ErrUnauthorized
	}
	user, err := tx.Users().GetByID(ctx, rc.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return user, nil
}

func (s *MFAService) loadSecret(ctx context.Context, tx repositories.Store, userID string) (*models.MFASecret, models.FailureReason, error) {
	if userID == "" {
		return nil, models.FailureNone, models.ErrUnauthorized
	}
	secret, err := tx.MFASecrets().GetSecret(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.FailureMFANotConfigured, nil
		}
		return nil, models.FailureNone, fmt.Errorf("failed to load MFA secret: %w", err)
	}
	return secret, models.FailureNone, nil
}

func (s *MFAService) checkCode(ctx context.Context, secret *models.MFASecret, code string) (models.FailureReason, error) {
	plain, err := s.sealer.Open(secret.EncryptedSecret)
	if err != nil {
		return models.FailureNone, fmt.Errorf("failed to open MFA secret: %w", err)
	}
	ok, err := s.totp.VerifyCode(ctx, string(plain), code, s.config.WindowSteps)
	if err != nil {
		return models.FailureNone, err
	}
	if !ok {
		return models.FailureInvalidMFACode, nil
	}
	return models.FailureNone, nil
}

// newRecoveryCodes returns the plaintext codes and their storage hashes
func (s *MFAService) newRecoveryCodes() ([]string, []string, error) {
	codes, err := s.totp.GenerateRecoveryCodes(s.config.RecoveryCodeCount)
	if err != nil {
		return nil, nil, err
	}
	hashes := make([]string, len(codes))
	for i, c := range codes {
		hashes[i] = auth.HashRecoveryCode(c)
	}
	return codes, hashes, nil
}
