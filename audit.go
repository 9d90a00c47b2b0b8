package authcore

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Audit actions recorded by the core
const (
	ActionLogin              = "auth.login"
	ActionResetRequest       = "auth.reset.request"
	ActionResetPerform       = "auth.reset.perform"
	ActionOAuthLogin         = "auth.oauth.login"
	ActionOAuthProvision     = "auth.oauth.provision"
	ActionRegister           = "identity.register"
	ActionPasswordChange     = "identity.password.change"
	ActionRoleChange         = "identity.role.change"
	ActionIdentityDelete     = "identity.delete"
	ActionAccessDenied       = "access.denied"
	ActionAccessUnauthorized = "access.unauthenticated"
)

// Audit statuses
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
	StatusDenied  = "denied"
)

// AuditEvent is one security relevant action.
type AuditEvent struct {
	Action     string    `json:"action"`
	ActorID    string    `json:"actor_id,omitempty"`
	SubjectIDs []string  `json:"subject_ids,omitempty"`
	Status     string    `json:"status"`
	Message    string    `json:"message,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// AuditSink records audit events. Failures are reported to the caller but
// the core never rolls back an operation because of them.
type AuditSink interface {
	Record(ctx context.Context, event AuditEvent) error
}

// NopAuditSink discards events.
type NopAuditSink struct{}

func (NopAuditSink) Record(context.Context, AuditEvent) error { return nil }

// LogAuditSink writes events to a structured logger.
type LogAuditSink struct {
	Logger *slog.Logger
}

func (s *LogAuditSink) Record(ctx context.Context, e AuditEvent) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	level := slog.LevelInfo
	if e.Status != StatusSuccess {
		level = slog.LevelWarn
	}
	logger.Log(ctx, level, "audit",
		"action", e.Action,
		"actor", e.ActorID,
		"subjects", e.SubjectIDs,
		"status", e.Status,
		"message", e.Message,
		"at", e.OccurredAt)
	return nil
}

// MultiAuditSink fans out to every sink and joins their errors.
type MultiAuditSink []AuditSink

func (m MultiAuditSink) Record(ctx context.Context, e AuditEvent) error {
	var errs []error
	for _, s := range m {
		if err := s.Record(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
