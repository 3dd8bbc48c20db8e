package ports

import (
	"context"

	"github.com/aretw0/convengine/pkg/domain"
)

// Hook observes step execution. Hook failures never interrupt a turn.
type Hook interface {
	// Supports reports whether the hook wants callbacks for this step.
	Supports(step string, s *domain.Session) bool
	BeforeStep(ctx context.Context, step string, s *domain.Session) error
	AfterStep(ctx context.Context, step string, s *domain.Session, result domain.StepResult) error
	OnStepError(ctx context.Context, step string, s *domain.Session, stepErr error) error
}

// HookFuncs adapts optional callbacks to a Hook. Nil callbacks are skipped and
// a nil Filter supports every step.
type HookFuncs struct {
	Filter  func(step string, s *domain.Session) bool
	Before  func(ctx context.Context, step string, s *domain.Session) error
	After   func(ctx context.Context, step string, s *domain.Session, result domain.StepResult) error
	OnError func(ctx context.Context, step string, s *domain.Session, stepErr error) error
}

func (h HookFuncs) Supports(step string, s *domain.Session) bool {
	return h.Filter == nil || h.Filter(step, s)
}

func (h HookFuncs) BeforeStep(ctx context.Context, step string, s *domain.Session) error {
	if h.Before == nil {
		return nil
	}
	return h.Before(ctx, step, s)
}

func (h HookFuncs) AfterStep(ctx context.Context, step string, s *domain.Session, result domain.StepResult) error {
	if h.After == nil {
		return nil
	}
	return h.After(ctx, step, s, result)
}

func (h HookFuncs) OnStepError(ctx context.Context, step string, s *domain.Session, stepErr error) error {
	if h.OnError == nil {
		return nil
	}
	return h.OnError(ctx, step, s, stepErr)
}
