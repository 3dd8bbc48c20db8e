package steps

import (
	"context"
	"log/slog"
	"time"

	"github.com/aretw0/convengine/internal/logging"
	"github.com/aretw0/convengine/pkg/domain"
	"github.com/aretw0/convengine/pkg/ports"
	"github.com/aretw0/convengine/pkg/rules"
)

// Built-in step names.
const (
	NameLoadConversation    = "LoadConversation"
	NameResetConversation   = "ResetConversation"
	NameAuditUserInput      = "AuditUserInput"
	NameApplyRules          = "ApplyRules"
	NamePersistConversation = "PersistConversation"
	NamePipelineEndGuard    = "PipelineEndGuard"
)

// Flusher forces buffered audit events of a conversation to be written.
type Flusher interface {
	FlushPending(ctx context.Context, conversationID string) error
}

// Deps are the collaborators shared by the built-in steps.
type Deps struct {
	Store   ports.ConversationStore
	Rules   ports.RuleSource
	Engine  *rules.Engine
	Auditor ports.Auditor
	Flusher Flusher
	Logger  *slog.Logger
	Now     func() time.Time
}

// Defaults returns the built-in steps wired to d.
func Defaults(d Deps) []ports.Step {
	return []ports.Step{
		&LoadConversation{Store: d.Store, Auditor: d.Auditor, Logger: d.Logger, Now: d.Now},
		&ResetConversation{Auditor: d.Auditor, Logger: d.Logger},
		&AuditUserInput{Auditor: d.Auditor, Logger: d.Logger},
		&ApplyRules{Source: d.Rules, Engine: d.Engine, Logger: d.Logger},
		&PersistConversation{Store: d.Store, Auditor: d.Auditor, Logger: d.Logger, Now: d.Now},
		&PipelineEndGuard{Auditor: d.Auditor, Flusher: d.Flusher, Logger: d.Logger, Now: d.Now},
	}
}

// Func adapts a function into a step.
type Func struct {
	info ports.StepInfo
	fn   func(ctx context.Context, s *domain.Session) (domain.StepResult, error)
}

// NewFunc builds a step from its metadata and body.
func NewFunc(info ports.StepInfo, fn func(ctx context.Context, s *domain.Session) (domain.StepResult, error)) Func {
	return Func{info: info, fn: fn}
}

func (f Func) Info() ports.StepInfo { return f.info }

func (f Func) Execute(ctx context.Context, s *domain.Session) (domain.StepResult, error) {
	return f.fn(ctx, s)
}

// audit records an event for s. A rejected event is logged and the turn goes on.
func audit(ctx context.Context, a ports.Auditor, l *slog.Logger, s *domain.Session, stage string, payload map[string]any) {
	if a == nil {
		return
	}
	if err := a.Audit(ctx, stage, s.ConversationID, payload); err != nil {
		logger(l).Warn("audit event rejected",
			"stage", stage,
			"conversation_id", s.ConversationID,
			"error", err,
		)
	}
}

func clock(now func() time.Time) time.Time {
	if now == nil {
		return time.Now()
	}
	return now()
}

func logger(l *slog.Logger) *slog.Logger {
	return logging.OrNop(l)
}
