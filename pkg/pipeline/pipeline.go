package pipeline

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/aretw0/convengine/internal/logging"
	"github.com/aretw0/convengine/pkg/domain"
	"github.com/aretw0/convengine/pkg/ports"
)

// Pipeline runs a compiled, instrumented step order against sessions.
// It is immutable after New and safe for concurrent use across sessions.
type Pipeline struct {
	steps   []*instrumentedStep
	order   []string
	hooks   []ports.Hook
	auditor ports.Auditor
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithHooks registers step hooks, called in registration order.
func WithHooks(hooks ...ports.Hook) Option {
	return func(p *Pipeline) {
		p.hooks = append(p.hooks, hooks...)
	}
}

// WithAuditor sets where step audit events are sent.
func WithAuditor(a ports.Auditor) Option {
	return func(p *Pipeline) {
		if a != nil {
			p.auditor = a
		}
	}
}

// WithLogger sets the pipeline logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logging.OrNop(l)
	}
}

// WithClock overrides the time source used for step timings.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// New compiles the step order once and wraps every step with instrumentation.
func New(steps []ports.Step, opts ...Option) (*Pipeline, error) {
	p := &Pipeline{
		auditor: ports.NopAuditor{},
		logger:  logging.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}

	ordered, err := Compile(steps)
	if err != nil {
		return nil, err
	}

	for _, st := range ordered {
		p.steps = append(p.steps, p.instrument(st))
		p.order = append(p.order, st.Info().Name)
	}
	p.logger.Info("pipeline compiled", "order", p.order)
	return p, nil
}

// Order returns the compiled step names.
func (p *Pipeline) Order() []string {
	return slices.Clone(p.order)
}

// Describe returns the metadata of every step in execution order.
func (p *Pipeline) Describe() []ports.StepInfo {
	out := make([]ports.StepInfo, 0, len(p.steps))
	for _, st := range p.steps {
		out = append(out, st.info)
	}
	return out
}

// Run executes the steps in order. A Stop result ends the run early and its
// result becomes the session result. The first step error aborts the turn.
func (p *Pipeline) Run(ctx context.Context, s *domain.Session) (*domain.EngineResult, error) {
	for _, st := range p.steps {
		result, err := st.Execute(ctx, s)
		if err != nil {
			return nil, err
		}
		if result.Stopped() {
			if r := result.Result(); r != nil {
				s.Result = r
			}
			p.logger.Debug("pipeline stopped early",
				"step", st.info.Name,
				"conversation_id", s.ConversationID,
			)
			break
		}
	}
	return s.Result, nil
}
