package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BradenHooton/keystone/internal/models"
	"github.com/BradenHooton/keystone/internal/repositories"
	pkglogger "github.com/BradenHooton/keystone/pkg/logger"
)

// CreateUserCommand provisions an account
type CreateUserCommand struct {
	Email    string
	Name     string
	Password string
	Roles    []string
	Audit    *AuditMetadata
}

func NewCreateUserCommand(email, name, password string, roles []string) CreateUserCommand {
	return CreateUserCommand{
		Email:    email,
		Name:     name,
		Password: password,
		Roles:    roles,
		Audit: &AuditMetadata{
			Action:   models.AuditActionAdminCreateUser,
			Describe: func() string { return fmt.Sprintf("account created for %s", pkglogger.SanitizedEmail(email)) },
		},
	}
}

// AccountCommand targets one existing account by email
type AccountCommand struct {
	Email string
	Audit *AuditMetadata
}

func NewUnlockCommand(email string) AccountCommand {
	return AccountCommand{Email: email, Audit: &AuditMetadata{Action: models.AuditActionAdminUnlock}}
}

func NewRevokeSessionsCommand(email string) AccountCommand {
	return AccountCommand{Email: email, Audit: &AuditMetadata{Action: models.AuditActionAdminRevokeSessions}}
}

// GrantCommand adds a permission to a role
type GrantCommand struct {
	Role       string
	Permission string
	Audit      *AuditMetadata
}

func NewGrantCommand(role, permission string) GrantCommand {
	return GrantCommand{
		Role:       role,
		Permission: permission,
		Audit: &AuditMetadata{
			Action:   models.AuditActionAdminGrant,
			Describe: func() string { return fmt.Sprintf("granted %s to role %s", permission, role) },
		},
	}
}

// AdminResult is returned by the operator commands
type AdminResult struct {
	Failure         models.FailureReason
	User            *models.User
	RevokedSessions int64
}

func (r *AdminResult) Succeeded() bool {
	return r != nil && r.Failure == models.FailureNone
}

func (r *AdminResult) AuditDetails() AuditDetails {
	if r == nil {
		return AuditDetails{}
	}
	d := AuditDetails{Success: r.Succeeded(), Failure: r.Failure}
	if r.User != nil {
		d.SubjectID = r.User.ID
	}
	if r.RevokedSessions > 0 {
		d.Metadata = models.AuditFields{"revoked_sessions": r.RevokedSessions}
	}
	return d
}

// AdminService backs the operator CLI
type AdminService struct {
	store       repositories.Store
	permissions *PermissionResolver
	hasher      PasswordHasher
	audit       *AuditInterceptor
	clock       Clock
	logger      *slog.Logger
}

func NewAdminService(store repositories.Store, permissions *PermissionResolver, hasher PasswordHasher, audit *AuditInterceptor, clock Clock, logger *slog.Logger) *AdminService {
	return &AdminService{
		store:       store,
		permissions: permissions,
		hasher:      hasher,
		audit:       audit,
		clock:       clock,
		logger:      logger,
	}
}

// CreateUser hashes the password and inserts the account. A taken email
// returns models.ErrConflict.
func (s *AdminService) CreateUser(ctx context.Context, cmd CreateUserCommand, rc models.RequestContext) (*AdminResult, error) {
	return Intercept(ctx, s.audit, cmd.Audit, rc, func(ctx context.Context) (*AdminResult, error) {
		email := strings.TrimSpace(cmd.Email)
		if email == "" || cmd.Password == "" {
			return nil, fmt.Errorf("email and password are required: %w", models.ErrBadRequest)
		}

		hash, err := s.hasher.Hash(ctx, cmd.Password)
		if err != nil {
			return nil, fmt.Errorf("failed to hash password: %w", err)
		}

		user := &models.User{
			Email:        email,
			Name:         cmd.Name,
			PasswordHash: hash,
			Roles:        cmd.Roles,
			CreatedAt:    s.clock.Now(),
		}
		if err := s.store.Users().Create(ctx, user); err != nil {
			return nil, err
		}

		s.logger.Info("user created",
			slog.String("user_id", user.ID),
			slog.String("email", pkglogger.SanitizedEmail(email)))
		return &AdminResult{User: user}, nil
	})
}

// Unlock clears a lockout before it expires
func (s *AdminService) Unlock(ctx context.Context, cmd AccountCommand, rc models.RequestContext) (*AdminResult, error) {
	return Intercept(ctx, s.audit, cmd.Audit, rc, func(ctx context.Context) (*AdminResult, error) {
		result := &AdminResult{}
		err := s.store.WithinTx(ctx, func(ctx context.Context, tx repositories.Store) error {
			user, err := s.lookup(ctx, tx, cmd.Email, result)
			if err != nil || user == nil {
				return err
			}
			return tx.Users().UpdateLockout(ctx, user.ID, false, nil, s.clock.Now())
		})
		if err != nil {
			return nil, fmt.Errorf("failed to unlock account: %w", err)
		}
		if result.Succeeded() {
			s.logger.Info("account unlocked", slog.String("user_id", result.User.ID))
		}
		return result, nil
	})
}

// RevokeSessions ends every active session of an account
func (s *AdminService) RevokeSessions(ctx context.Context, cmd AccountCommand, rc models.RequestContext) (*AdminResult, error) {
	return Intercept(ctx, s.audit, cmd.Audit, rc, func(ctx context.Context) (*AdminResult, error) {
		result := &AdminResult{}
		err := s.store.WithinTx(ctx, func(ctx context.Context, tx repositories.Store) error {
			user, err := s.lookup(ctx, tx, cmd.Email, result)
			if err != nil || user == nil {
				return err
			}
			n, err := tx.RefreshTokens().RevokeAllForUser(ctx, user.ID, models.RevocationReasonAdmin, s.clock.Now())
			if err != nil {
				return err
			}
			result.RevokedSessions = n
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to revoke sessions: %w", err)
		}
		if result.Succeeded() {
			s.logger.Info("sessions revoked by operator",
				slog.String("user_id", result.User.ID),
				slog.Int64("count", result.RevokedSessions))
		}
		return result, nil
	})
}

// Grant adds a permission to a role; tokens pick it up on their next issue
func (s *AdminService) Grant(ctx context.Context, cmd GrantCommand, rc models.RequestContext) (*AdminResult, error) {
	return Intercept(ctx, s.audit, cmd.Audit, rc, func(ctx context.Context) (*AdminResult, error) {
		role, perm := strings.TrimSpace(cmd.Role), strings.TrimSpace(cmd.Permission)
		if role == "" || perm == "" {
			return nil, fmt.Errorf("role and permission are required: %w", models.ErrBadRequest)
		}
		if err := s.permissions.Grant(ctx, role, perm); err != nil {
			return nil, err
		}
		s.logger.Info("permission granted", slog.String("role", role), slog.String("permission", perm))
		return &AdminResult{}, nil
	})
}

// lookup sets result.Failure and returns a nil user when the email is unknown
func (s *AdminService) lookup(ctx context.Context, tx repositories.Store, email string, result *AdminResult) (*models.User, error) {
	user, err := tx.Users().GetByEmail(ctx, strings.TrimSpace(email))
	if errors.Is(err, models.ErrNotFound) {
		result.Failure = models.FailureUserNotFound
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	result.User = user
	return user, nil
}
