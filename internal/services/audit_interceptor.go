package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/keystone/internal/models"
	pkglogger "github.com/BradenHooton/keystone/pkg/logger"
	"github.com/google/uuid"
)

const defaultAuditWriteTimeout = 2 * time.Second

// AuditDetails is what an operation result contributes to its audit entry
type AuditDetails struct {
	Success   bool
	Failure   models.FailureReason
	Severity  models.AuditSeverity // defaults to info on success, warning otherwise
	Action    string               // overrides AuditMetadata.Action when set
	SubjectID string
	Metadata  models.AuditFields
}

// AuditOutcome is implemented by every auditable result type. Implementations
// must accept a nil receiver.
type AuditOutcome interface {
	AuditDetails() AuditDetails
}

// AuditInterceptor records one audit entry per audited operation. It writes
// to the structured log and to the sink; sink failures are logged and dropped.
type AuditInterceptor struct {
	sink         AuditSink
	auditLogger  *pkglogger.AuditLogger
	logger       *slog.Logger
	clock        Clock
	writeTimeout time.Duration
}

// NewAuditInterceptor creates a new AuditInterceptor. sink may be nil.
func NewAuditInterceptor(sink AuditSink, auditLogger *pkglogger.AuditLogger, logger *slog.Logger, clock Clock) *AuditInterceptor {
	return &AuditInterceptor{
		sink:         sink,
		auditLogger:  auditLogger,
		logger:       logger,
		clock:        clock,
		writeTimeout: defaultAuditWriteTimeout,
	}
}

// SetWriteTimeout bounds each sink write
func (ai *AuditInterceptor) SetWriteTimeout(d time.Duration) {
	if d > 0 {
		ai.writeTimeout = d
	}
}

// Intercept runs op and audits it when meta is set. The result, error and any
// panic of op reach the caller exactly as op produced them.
func Intercept[T AuditOutcome](ctx context.Context, ai *AuditInterceptor, meta *AuditMetadata, rc models.RequestContext, op func(ctx context.Context) (T, error)) (result T, err error) {
	if ai == nil || meta == nil {
		return op(ctx)
	}

	defer func() {
		if p := recover(); p != nil {
			ai.record(ctx, meta, rc, nil, fmt.Errorf("panic: %v", p))
			panic(p)
		}
		if err != nil {
			ai.record(ctx, meta, rc, nil, err)
			return
		}
		details := result.AuditDetails()
		ai.record(ctx, meta, rc, &details, nil)
	}()

	result, err = op(ctx)
	return result, err
}

// record never panics and never returns an error
func (ai *AuditInterceptor) record(ctx context.Context, meta *AuditMetadata, rc models.RequestContext, details *AuditDetails, opErr error) {
	defer func() {
		if p := recover(); p != nil {
			ai.logger.Error("audit write failed",
				slog.String("action", meta.Action),
				slog.Any("error", fmt.Errorf("%w: panic: %v", models.ErrAuditWriteFailed, p)))
		}
	}()

	entry := ai.buildEntry(meta, rc, details, opErr)

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ai.writeTimeout)
	defer cancel()

	ai.auditLogger.LogEvent(writeCtx, entry)

	if ai.sink == nil {
		return
	}
	if err := ai.sink.Append(writeCtx, entry); err != nil {
		ai.logger.Error("audit write failed",
			slog.String("action", entry.Action),
			slog.String("audit_id", entry.ID),
			slog.Any("error", fmt.Errorf("%w: %v", models.ErrAuditWriteFailed, err)))
	}
}

func (ai *AuditInterceptor) buildEntry(meta *AuditMetadata, rc models.RequestContext, details *AuditDetails, opErr error) *models.AuditLog {
	entry := &models.AuditLog{
		ID:        uuid.New().String(),
		Action:    meta.Action,
		Severity:  models.AuditSeverityInfo,
		Metadata:  models.AuditFields{},
		CreatedAt: ai.clock.Now(),
	}
	if meta.Describe != nil {
		entry.Description = meta.Describe()
	}
	if rc.IPAddress != "" {
		ip := rc.IPAddress
		entry.IPAddress = &ip
	}
	if rc.UserAgent != "" {
		ua := rc.UserAgent
		entry.UserAgent = &ua
	}
	if rc.UserID != "" {
		actor := rc.UserID
		entry.ActorID = &actor
	}

	if opErr != nil {
		reason := "error"
		entry.FailureReason = &reason
		entry.Severity = models.AuditSeverityWarning
		entry.Metadata["error"] = opErr.Error()
		return entry
	}

	entry.Success = details.Success
	if details.Action != "" {
		entry.Action = details.Action
	}
	if details.SubjectID != "" {
		subject := details.SubjectID
		entry.TargetID = &subject
		if entry.ActorID == nil {
			entry.ActorID = &subject
		}
	}
	if details.Failure != models.FailureNone {
		reason := string(details.Failure)
		entry.FailureReason = &reason
	}
	switch {
	case details.Severity != "":
		entry.Severity = details.Severity
	case !details.Success:
		entry.Severity = models.AuditSeverityWarning
	}
	for k, v := range details.Metadata {
		entry.Metadata[k] = v
	}
	return entry
}
