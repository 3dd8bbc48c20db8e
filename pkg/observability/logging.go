package observability

import (
	"context"
	"log/slog"

	"github.com/aretw0/convengine/internal/logging"
	"github.com/aretw0/convengine/pkg/domain"
	"github.com/aretw0/convengine/pkg/ports"
)

// LoggingHook logs step lifecycle events.
type LoggingHook struct {
	logger *slog.Logger
	only   map[string]bool
}

var _ ports.Hook = (*LoggingHook)(nil)

// NewLoggingHook creates a hook logging every step, or only the named steps
// when any are given.
func NewLoggingHook(logger *slog.Logger, only ...string) *LoggingHook {
	h := &LoggingHook{logger: logging.OrNop(logger)}
	if len(only) > 0 {
		h.only = make(map[string]bool, len(only))
		for _, name := range only {
			h.only[name] = true
		}
	}
	return h
}

func (h *LoggingHook) Supports(step string, _ *domain.Session) bool {
	return h.only == nil || h.only[step]
}

func (h *LoggingHook) BeforeStep(ctx context.Context, step string, s *domain.Session) error {
	h.logger.DebugContext(ctx, "step started",
		"step", step,
		"conversation_id", s.ConversationID,
		"intent", s.Intent,
		"state", s.State,
	)
	return nil
}

func (h *LoggingHook) AfterStep(ctx context.Context, step string, s *domain.Session, result domain.StepResult) error {
	h.logger.DebugContext(ctx, "step finished",
		"step", step,
		"conversation_id", s.ConversationID,
		"outcome", result.Outcome(),
		"intent", s.Intent,
		"state", s.State,
	)
	return nil
}

func (h *LoggingHook) OnStepError(ctx context.Context, step string, s *domain.Session, stepErr error) error {
	h.logger.ErrorContext(ctx, "step failed",
		"step", step,
		"conversation_id", s.ConversationID,
		"intent", s.Intent,
		"state", s.State,
		"error", stepErr,
	)
	return nil
}
