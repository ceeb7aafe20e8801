// Package memstore is an in-process implementation of repositories.Store.
// Transactions are serialized by a single mutex and rolled back from a
// snapshot, which gives the conditional-revoke primitives the same
// single-winner semantics as the Postgres store.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BradenHooton/keystone/internal/models"
	"github.com/BradenHooton/keystone/internal/repositories"
	"github.com/google/uuid"
)

type state struct {
	users         map[string]*models.User
	attempts      []models.LoginAttempt
	mfaAttempts   []models.MFAAttempt
	tokens        map[string]*models.RefreshToken // by id
	tokenIDs      map[string]string               // token value -> id
	secrets       map[string]*models.MFASecret
	recoveryCodes map[string][]*models.RecoveryCode // by user id
}

func newState() *state {
	return &state{
		users:         make(map[string]*models.User),
		tokens:        make(map[string]*models.RefreshToken),
		tokenIDs:      make(map[string]string),
		secrets:       make(map[string]*models.MFASecret),
		recoveryCodes: make(map[string][]*models.RecoveryCode),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.users {
		c.users[k] = copyUser(v)
	}
	c.attempts = append([]models.LoginAttempt(nil), s.attempts...)
	c.mfaAttempts = append([]models.MFAAttempt(nil), s.mfaAttempts...)
	for k, v := range s.tokens {
		t := *v
		c.tokens[k] = &t
	}
	for k, v := range s.tokenIDs {
		c.tokenIDs[k] = v
	}
	for k, v := range s.secrets {
		sec := *v
		c.secrets[k] = &sec
	}
	for k, codes := range s.recoveryCodes {
		cc := make([]*models.RecoveryCode, len(codes))
		for i, code := range codes {
			dup := *code
			cc[i] = &dup
		}
		c.recoveryCodes[k] = cc
	}
	return c
}

// Store is safe for concurrent use
type Store struct {
	mu   *sync.Mutex
	data *state
	inTx bool

	catalog *catalog
}

// catalog is the role permission table. It is read from inside transactions
// and is not part of the transactional snapshot.
type catalog struct {
	mu          sync.RWMutex
	permissions map[string][]string
}

var _ repositories.Store = (*Store)(nil)

// New returns an empty store
func New() *Store {
	return &Store{
		mu:      &sync.Mutex{},
		data:    newState(),
		catalog: &catalog{permissions: make(map[string][]string)},
	}
}

// lock takes the store mutex unless the caller already holds it through a transaction
func (s *Store) lock() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) Users() repositories.Users                 { return userView{s} }
func (s *Store) LoginAttempts() repositories.LoginAttempts { return attemptView{s} }
func (s *Store) RefreshTokens() repositories.RefreshTokens { return tokenView{s} }
func (s *Store) MFASecrets() repositories.MFASecrets       { return mfaView{s} }
func (s *Store) MFAAttempts() repositories.MFAAttempts     { return mfaAttemptView{s} }

// Permissions returns the role catalog
func (s *Store) Permissions() repositories.Permissions { return s.catalog }

// WithinTx holds the store lock for the whole of fn. Any error, panic or
// context cancellation restores the pre-transaction snapshot.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx repositories.Store) error) (err error) {
	if s.inTx {
		return fn(ctx, s)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.data.clone()
	tx := &Store{mu: s.mu, data: s.data, inTx: true, catalog: s.catalog}

	defer func() {
		if p := recover(); p != nil {
			*s.data = *snapshot
			panic(p)
		}
		if err == nil {
			err = ctx.Err()
		}
		if err != nil {
			*s.data = *snapshot
		}
	}()

	return fn(ctx, tx)
}

func copyUser(u *models.User) *models.User {
	c := *u
	c.Roles = append([]string(nil), u.Roles...)
	return &c
}

type userView struct{ s *Store }

func (v userView) GetByID(ctx context.Context, id string) (*models.User, error) {
	defer v.s.lock()()
	u, ok := v.s.data.users[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return copyUser(u), nil
}

func (v userView) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	defer v.s.lock()()
	for _, u := range v.s.data.users {
		if strings.EqualFold(u.Email, email) {
			return copyUser(u), nil
		}
	}
	return nil, models.ErrNotFound
}

func (v userView) Create(ctx context.Context, user *models.User) error {
	defer v.s.lock()()
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	for _, u := range v.s.data.users {
		if u.ID == user.ID || strings.EqualFold(u.Email, user.Email) {
			return models.ErrConflict
		}
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.UpdatedAt = user.CreatedAt
	v.s.data.users[user.ID] = copyUser(user)
	return nil
}

func (v userView) UpdateLockout(ctx context.Context, userID string, isLocked bool, lockoutEnd *time.Time, at time.Time) error {
	defer v.s.lock()()
	u, ok := v.s.data.users[userID]
	if !ok {
		return models.ErrNotFound
	}
	u.IsLocked = isLocked
	u.LockoutEndAt = lockoutEnd
	u.UpdatedAt = at
	return nil
}

func (v userView) SetMFAEnabled(ctx context.Context, userID string, enabled bool, at time.Time) error {
	defer v.s.lock()()
	u, ok := v.s.data.users[userID]
	if !ok {
		return models.ErrNotFound
	}
	u.MFAEnabled = enabled
	u.UpdatedAt = at
	return nil
}

func (v userView) ReleaseExpiredLockouts(ctx context.Context, now time.Time) (int64, error) {
	defer v.s.lock()()
	var n int64
	for _, u := range v.s.data.users {
		if u.IsLocked && u.LockoutEndAt != nil && !u.LockoutEndAt.After(now) {
			u.IsLocked = false
			u.LockoutEndAt = nil
			u.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

type attemptView struct{ s *Store }

func (v attemptView) Record(ctx context.Context, attempt *models.LoginAttempt) error {
	defer v.s.lock()()
	if _, ok := v.s.data.users[attempt.UserID]; !ok {
		return models.ErrBadRequest
	}
	if attempt.ID == "" {
		attempt.ID = uuid.New().String()
	}
	v.s.data.attempts = append(v.s.data.attempts, *attempt)
	return nil
}

func (v attemptView) CountFailuresSince(ctx context.Context, userID string, since time.Time) (int, error) {
	defer v.s.lock()()
	count := 0
	for _, a := range v.s.data.attempts {
		if a.UserID == userID && !a.Success && !a.AttemptedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

type mfaAttemptView struct{ s *Store }

func (v mfaAttemptView) Record(ctx context.Context, attempt *models.MFAAttempt) error {
	defer v.s.lock()()
	if _, ok := v.s.data.users[attempt.UserID]; !ok {
		return models.ErrBadRequest
	}
	if attempt.ID == "" {
		attempt.ID = uuid.New().String()
	}
	v.s.data.mfaAttempts = append(v.s.data.mfaAttempts, *attempt)
	return nil
}

func (v mfaAttemptView) CountFailuresSince(ctx context.Context, userID string, since time.Time) (int, error) {
	defer v.s.lock()()
	count := 0
	for _, a := range v.s.data.mfaAttempts {
		if a.UserID == userID && !a.Success && !a.AttemptedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

type tokenView struct{ s *Store }

func (v tokenView) Create(ctx context.Context, token *models.RefreshToken) error {
	defer v.s.lock()()
	if token.ID == "" {
		token.ID = uuid.New().String()
	}
	if _, ok := v.s.data.tokenIDs[token.Token]; ok {
		return models.ErrConflict
	}
	if _, ok := v.s.data.users[token.UserID]; !ok {
		return models.ErrBadRequest
	}
	t := *token
	v.s.data.tokens[t.ID] = &t
	v.s.data.tokenIDs[t.Token] = t.ID
	return nil
}

func (v tokenView) GetByToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	defer v.s.lock()()
	id, ok := v.s.data.tokenIDs[token]
	if !ok {
		return nil, models.ErrNotFound
	}
	t := *v.s.data.tokens[id]
	return &t, nil
}

func (v tokenView) TryRevokeAndChain(ctx context.Context, id string, replacedBy *string, reason string, at time.Time) (bool, error) {
	defer v.s.lock()()
	t, ok := v.s.data.tokens[id]
	if !ok || t.IsRevoked {
		return false, nil
	}
	revokedAt := at
	r := reason
	t.IsRevoked = true
	t.RevokedAt = &revokedAt
	t.RevocationReason = &r
	if replacedBy != nil {
		next := *replacedBy
		t.ReplacedByToken = &next
	}
	return true, nil
}

func (v tokenView) RevokeAllForUser(ctx context.Context, userID, reason string, at time.Time) (int64, error) {
	defer v.s.lock()()
	var n int64
	for _, t := range v.s.data.tokens {
		if t.UserID != userID || t.IsRevoked || !t.ExpiresAt.After(at) {
			continue
		}
		revokedAt := at
		r := reason
		t.IsRevoked = true
		t.RevokedAt = &revokedAt
		t.RevocationReason = &r
		n++
	}
	return n, nil
}

func (v tokenView) ListActiveForUser(ctx context.Context, userID string, now time.Time) ([]*models.RefreshToken, error) {
	defer v.s.lock()()
	out := make([]*models.RefreshToken, 0)
	for _, t := range v.s.data.tokens {
		if t.UserID == userID && t.Purpose == models.TokenPurposeRefresh && t.IsActive(now) {
			dup := *t
			out = append(out, &dup)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

type mfaView struct{ s *Store }

func (v mfaView) GetSecret(ctx context.Context, userID string) (*models.MFASecret, error) {
	defer v.s.lock()()
	sec, ok := v.s.data.secrets[userID]
	if !ok {
		return nil, models.ErrNotFound
	}
	dup := *sec
	return &dup, nil
}

func (v mfaView) UpsertSecret(ctx context.Context, secret *models.MFASecret) error {
	defer v.s.lock()()
	if secret.IsEnabled && !secret.IsVerified {
		return models.ErrBadRequest
	}
	dup := *secret
	v.s.data.secrets[secret.UserID] = &dup
	return nil
}

func (v mfaView) UpdateSecretState(ctx context.Context, userID string, verified, enabled bool, at time.Time) error {
	defer v.s.lock()()
	sec, ok := v.s.data.secrets[userID]
	if !ok {
		return models.ErrNotFound
	}
	if enabled && !verified {
		return models.ErrBadRequest
	}
	sec.IsVerified = verified
	sec.IsEnabled = enabled
	sec.UpdatedAt = at
	return nil
}

func (v mfaView) TouchSecret(ctx context.Context, userID string, at time.Time) error {
	defer v.s.lock()()
	if sec, ok := v.s.data.secrets[userID]; ok {
		t := at
		sec.LastUsedAt = &t
	}
	return nil
}

func (v mfaView) DeleteSecret(ctx context.Context, userID string) error {
	defer v.s.lock()()
	delete(v.s.data.secrets, userID)
	delete(v.s.data.recoveryCodes, userID)
	return nil
}

func (v mfaView) ReplaceRecoveryCodes(ctx context.Context, userID string, codeHashes []string, at time.Time) error {
	defer v.s.lock()()
	codes := make([]*models.RecoveryCode, 0, len(codeHashes))
	for _, h := range codeHashes {
		codes = append(codes, &models.RecoveryCode{
			ID:        uuid.New().String(),
			UserID:    userID,
			CodeHash:  h,
			CreatedAt: at,
		})
	}
	v.s.data.recoveryCodes[userID] = codes
	return nil
}

func (v mfaView) GetRecoveryCode(ctx context.Context, userID, codeHash string) (*models.RecoveryCode, error) {
	defer v.s.lock()()
	for _, c := range v.s.data.recoveryCodes[userID] {
		if c.CodeHash == codeHash {
			dup := *c
			return &dup, nil
		}
	}
	return nil, models.ErrNotFound
}

func (v mfaView) ConsumeRecoveryCode(ctx context.Context, userID, codeHash string, at time.Time) (bool, error) {
	defer v.s.lock()()
	for _, c := range v.s.data.recoveryCodes[userID] {
		if c.CodeHash == codeHash && c.UsedAt == nil {
			t := at
			c.UsedAt = &t
			return true, nil
		}
	}
	return false, nil
}

func (v mfaView) CountUnusedRecoveryCodes(ctx context.Context, userID string) (int, error) {
	defer v.s.lock()()
	n := 0
	for _, c := range v.s.data.recoveryCodes[userID] {
		if c.UsedAt == nil {
			n++
		}
	}
	return n, nil
}

func (c *catalog) GetRolePermissions(ctx context.Context, role string) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.permissions[role]...), nil
}

func (c *catalog) GrantPermission(ctx context.Context, role, permission string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.permissions[role] {
		if p == permission {
			return nil
		}
	}
	perms := append(c.permissions[role], permission)
	sort.Strings(perms)
	c.permissions[role] = perms
	return nil
}
