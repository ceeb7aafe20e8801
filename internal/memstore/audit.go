package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/BradenHooton/keystone/internal/models"
	"github.com/google/uuid"
)

// AuditLog is an in-memory audit sink
type AuditLog struct {
	mu      sync.Mutex
	entries []*models.AuditLog
}

// NewAuditLog returns an empty sink
func NewAuditLog() *AuditLog {
	return &AuditLog{}
}

func (a *AuditLog) Append(ctx context.Context, entry *models.AuditLog) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	dup := *entry
	if dup.ID == "" {
		dup.ID = uuid.New().String()
	}
	if dup.CreatedAt.IsZero() {
		dup.CreatedAt = time.Now().UTC()
	}
	a.entries = append(a.entries, &dup)
	return nil
}

// Entries returns a copy of everything appended so far
func (a *AuditLog) Entries() []*models.AuditLog {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*models.AuditLog(nil), a.entries...)
}

// ByAction filters entries by action
func (a *AuditLog) ByAction(action string) []*models.AuditLog {
	var out []*models.AuditLog
	for _, e := range a.Entries() {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}
