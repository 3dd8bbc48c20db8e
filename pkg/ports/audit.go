package ports

import (
	"context"

	"github.com/aretw0/convengine/pkg/domain"
)

// AuditListener consumes audit events fanned out by the dispatcher.
type AuditListener interface {
	OnAudit(ctx context.Context, event domain.AuditEvent) error
}

// ListenerFunc adapts a function to an AuditListener.
type ListenerFunc func(ctx context.Context, event domain.AuditEvent) error

func (f ListenerFunc) OnAudit(ctx context.Context, event domain.AuditEvent) error {
	return f(ctx, event)
}

// Auditor is how steps and engine components emit audit events.
// A returned error is informational; callers must not fail a turn on it.
type Auditor interface {
	Audit(ctx context.Context, stage, conversationID string, payload map[string]any) error
}

// NopAuditor discards every event.
type NopAuditor struct{}

func (NopAuditor) Audit(context.Context, string, string, map[string]any) error { return nil }
