package services

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BradenHooton/keystone/internal/auth"
	"github.com/BradenHooton/keystone/internal/memstore"
	"github.com/BradenHooton/keystone/internal/models"
	"github.com/BradenHooton/keystone/internal/repositories"
	pkglogger "github.com/BradenHooton/keystone/pkg/logger"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"
)

const testJWTSecret = "services-test-secret-at-least-32-bytes"

var testRC = models.RequestContext{IPAddress: "203.0.113.7", UserAgent: "keystone-test/1.0"}

// ============================================================================
// Fakes
// ============================================================================

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// MockPasswordHasher stores passwords as "hashed:<plain>" unless overridden
type MockPasswordHasher struct {
	HashFunc   func(ctx context.Context, plain string) (string, error)
	VerifyFunc func(ctx context.Context, plain, hash string) (bool, error)
}

func (m *MockPasswordHasher) Hash(ctx context.Context, plain string) (string, error) {
	if m.HashFunc != nil {
		return m.HashFunc(ctx, plain)
	}
	return "hashed:" + plain, nil
}

func (m *MockPasswordHasher) Verify(ctx context.Context, plain, hash string) (bool, error) {
	if m.VerifyFunc != nil {
		return m.VerifyFunc(ctx, plain, hash)
	}
	return hash == "hashed:"+plain, nil
}

// MockAuditSink implements AuditSink for testing
type MockAuditSink struct {
	AppendFunc func(ctx context.Context, entry *models.AuditLog) error
}

func (m *MockAuditSink) Append(ctx context.Context, entry *models.AuditLog) error {
	if m.AppendFunc != nil {
		return m.AppendFunc(ctx, entry)
	}
	return nil
}

// MockSecurityNotifier records calls
type MockSecurityNotifier struct {
	mu                      sync.Mutex
	NotifyAccountLockedFunc func(ctx context.Context, user *models.User, until time.Time, rc models.RequestContext) error
	NotifyTokenReuseFunc    func(ctx context.Context, user *models.User, revoked int64, rc models.RequestContext) error
	LockedCalls             []string
	ReuseCalls              []string
}

func (m *MockSecurityNotifier) NotifyAccountLocked(ctx context.Context, user *models.User, until time.Time, rc models.RequestContext) error {
	m.mu.Lock()
	m.LockedCalls = append(m.LockedCalls, user.ID)
	m.mu.Unlock()
	if m.NotifyAccountLockedFunc != nil {
		return m.NotifyAccountLockedFunc(ctx, user, until, rc)
	}
	return nil
}

func (m *MockSecurityNotifier) NotifyTokenReuse(ctx context.Context, user *models.User, revoked int64, rc models.RequestContext) error {
	m.mu.Lock()
	m.ReuseCalls = append(m.ReuseCalls, user.ID)
	m.mu.Unlock()
	if m.NotifyTokenReuseFunc != nil {
		return m.NotifyTokenReuseFunc(ctx, user, revoked, rc)
	}
	return nil
}

// MockPermissions implements repositories.Permissions for testing
type MockPermissions struct {
	GetRolePermissionsFunc func(ctx context.Context, role string) ([]string, error)
	GrantPermissionFunc    func(ctx context.Context, role, permission string) error
}

func (m *MockPermissions) GetRolePermissions(ctx context.Context, role string) ([]string, error) {
	if m.GetRolePermissionsFunc != nil {
		return m.GetRolePermissionsFunc(ctx, role)
	}
	return nil, nil
}

func (m *MockPermissions) GrantPermission(ctx context.Context, role, permission string) error {
	if m.GrantPermissionFunc != nil {
		return m.GrantPermissionFunc(ctx, role, permission)
	}
	return nil
}

// ============================================================================
// Test environment
// ============================================================================

type testEnv struct {
	clock    *fakeClock
	store    *memstore.Store
	auditLog *memstore.AuditLog
	hasher   *MockPasswordHasher
	totp     *auth.TOTPManager
	signer   *auth.TokenManager
	notifier *MockSecurityNotifier
	logger   *slog.Logger

	auth  *AuthService
	mfa   *MFAService
	admin *AdminService
}

type envOption func(*envSettings)

type envSettings struct {
	sink    AuditSink
	catalog repositories.Permissions
}

// withSink replaces the in-memory audit log as the interceptor's sink
func withSink(sink AuditSink) envOption {
	return func(s *envSettings) { s.sink = sink }
}

// withResolverCatalog gives the permission resolver its own catalog instead
// of the store's
func withResolverCatalog(catalog repositories.Permissions) envOption {
	return func(s *envSettings) { s.catalog = catalog }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	env := &testEnv{
		clock:    newFakeClock(),
		store:    memstore.New(),
		auditLog: memstore.NewAuditLog(),
		hasher:   &MockPasswordHasher{},
		notifier: &MockSecurityNotifier{},
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	settings := &envSettings{sink: env.auditLog, catalog: env.store.Permissions()}
	for _, opt := range opts {
		opt(settings)
	}

	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	env.totp, err = auth.NewTOTPManager(key, "Keystone")
	require.NoError(t, err)
	env.totp.SetClock(env.clock.Now)

	env.signer = auth.NewTokenManager(testJWTSecret, "keystone")
	env.signer.SetClock(env.clock.Now)

	interceptor := NewAuditInterceptor(settings.sink, pkglogger.NewAuditLogger(env.logger), env.logger, env.clock)
	resolver := NewPermissionResolver(settings.catalog, nil, 0, env.logger)
	issuer := NewTokenIssuer(env.signer, resolver, 0, 0, env.clock)

	verifier := NewCredentialVerifier(env.hasher, DefaultLockoutPolicy, env.clock, env.logger)

	env.auth = NewAuthService(AuthServiceDeps{
		Store:    env.store,
		Verifier: verifier,
		MFA:      NewMFAChallengeEngine(env.totp, env.totp, DefaultMFAChallengeConfig, env.clock, env.logger),
		Issuer:   issuer,
		Rotation: NewRefreshRotationEngine(issuer, env.clock, env.logger),
		Audit:    interceptor,
		Notifier: env.notifier,
		Clock:    env.clock,
		Logger:   env.logger,
	})

	env.mfa = NewMFAService(env.store, env.totp, env.totp, env.totp, verifier, interceptor,
		MFAServiceConfig{RecoveryCodeCount: 10, WindowSteps: 1}, env.clock, env.logger)

	env.admin = NewAdminService(env.store, resolver, env.hasher, interceptor, env.clock, env.logger)

	return env
}

func (e *testEnv) seedUser(t *testing.T, email, password string, roles ...string) *models.User {
	t.Helper()
	user := &models.User{
		Email:        email,
		PasswordHash: "hashed:" + password,
		Name:         strings.Split(email, "@")[0],
		Roles:        roles,
		CreatedAt:    e.clock.Now(),
		UpdatedAt:    e.clock.Now(),
	}
	require.NoError(t, e.store.Users().Create(context.Background(), user))
	return user
}

// enableMFA enrolls user through the enrollment flow and returns the TOTP
// secret and recovery codes
func (e *testEnv) enableMFA(t *testing.T, user *models.User) (string, []string) {
	t.Helper()
	ctx := context.Background()
	rc := testRC
	rc.UserID = user.ID

	setup, err := e.mfa.BeginSetup(ctx, NewBeginMFASetupCommand(), rc)
	require.NoError(t, err)
	require.True(t, setup.Succeeded())

	confirm, err := e.mfa.ConfirmSetup(ctx, NewConfirmMFASetupCommand(e.code(t, setup.Setup.Secret)), rc)
	require.NoError(t, err)
	require.True(t, confirm.Succeeded())

	return setup.Setup.Secret, setup.Setup.RecoveryCodes
}

// code returns the TOTP code valid at the fake clock's now
func (e *testEnv) code(t *testing.T, secret string) string {
	t.Helper()
	code, err := totp.GenerateCode(secret, e.clock.Now())
	require.NoError(t, err)
	return code
}

// wrongCode returns a six digit code that no TOTP step around now accepts
func (e *testEnv) wrongCode(t *testing.T, secret string, n int) string {
	t.Helper()
	valid := make(map[string]bool)
	for _, d := range []time.Duration{-30 * time.Second, 0, 30 * time.Second} {
		code, err := totp.GenerateCode(secret, e.clock.Now().Add(d))
		require.NoError(t, err)
		valid[code] = true
	}
	for i := n; ; i++ {
		code := fmt.Sprintf("%06d", i%1000000)
		if !valid[code] {
			return code
		}
	}
}

func (e *testEnv) mfaFailures(t *testing.T, userID string) int {
	t.Helper()
	n, err := e.store.MFAAttempts().CountFailuresSince(context.Background(), userID, time.Time{})
	require.NoError(t, err)
	return n
}

func (e *testEnv) login(t *testing.T, email, password string) *LoginResult {
	t.Helper()
	result, err := e.auth.Login(context.Background(), NewLoginCommand(email, password), testRC)
	require.NoError(t, err)
	return result
}

func (e *testEnv) token(t *testing.T, value string) *models.RefreshToken {
	t.Helper()
	tok, err := e.store.RefreshTokens().GetByToken(context.Background(), value)
	require.NoError(t, err)
	return tok
}

func (e *testEnv) failures(t *testing.T, userID string) int {
	t.Helper()
	n, err := e.store.LoginAttempts().CountFailuresSince(context.Background(), userID, time.Time{})
	require.NoError(t, err)
	return n
}
