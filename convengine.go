package convengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"time"

	"github.com/aretw0/convengine/internal/logging"
	"github.com/aretw0/convengine/pkg/adapters/memory"
	"github.com/aretw0/convengine/pkg/audit"
	"github.com/aretw0/convengine/pkg/domain"
	"github.com/aretw0/convengine/pkg/pipeline"
	"github.com/aretw0/convengine/pkg/ports"
	"github.com/aretw0/convengine/pkg/registry"
	"github.com/aretw0/convengine/pkg/rules"
	"github.com/aretw0/convengine/pkg/session"
	"github.com/aretw0/convengine/pkg/steps"
	"github.com/google/uuid"
)

// Engine is the high-level entry point of the library. It owns the step
// pipeline, the rule engine, the audit service and the conversation locks.
type Engine struct {
	store      ports.ConversationStore
	ruleSource ports.RuleSource
	tasks      *registry.Registry
	matchers   []ports.Matcher
	actions    []ports.ActionHandler
	extraSteps []ports.Step
	hooks      []ports.Hook
	maxPasses  int
	locker     ports.DistributedLocker
	lockTTL    time.Duration
	logger     *slog.Logger
	now        func() time.Time

	auditCfg       audit.Config
	auditWriter    audit.Writer
	auditListeners []ports.AuditListener

	auditor  *audit.Service
	manager  *session.Manager
	pipeline *pipeline.Pipeline
}

var _ ports.TurnProcessor = (*Engine)(nil)

// Option defines a functional option for configuring the Engine.
type Option func(*Engine)

// WithStore sets the conversation store. Defaults to an in-memory store.
func WithStore(s ports.ConversationStore) Option {
	return func(e *Engine) {
		e.store = s
	}
}

// WithRuleSource sets where the rule table comes from. Defaults to an empty
// in-memory table.
func WithRuleSource(src ports.RuleSource) Option {
	return func(e *Engine) {
		e.ruleSource = src
	}
}

// WithTasks registers the tasks SET_TASK rules may invoke.
func WithTasks(r *registry.Registry) Option {
	return func(e *Engine) {
		e.tasks = r
	}
}

// WithMatchers adds rule matchers, overriding built-ins of the same type.
func WithMatchers(ms ...ports.Matcher) Option {
	return func(e *Engine) {
		e.matchers = append(e.matchers, ms...)
	}
}

// WithActions adds rule action handlers, overriding built-ins of the same action.
func WithActions(hs ...ports.ActionHandler) Option {
	return func(e *Engine) {
		e.actions = append(e.actions, hs...)
	}
}

// WithSteps adds custom steps to the pipeline. They are ordered with the
// built-in steps by their StepInfo.
func WithSteps(st ...ports.Step) Option {
	return func(e *Engine) {
		e.extraSteps = append(e.extraSteps, st...)
	}
}

// WithHooks registers step hooks.
func WithHooks(hooks ...ports.Hook) Option {
	return func(e *Engine) {
		e.hooks = append(e.hooks, hooks...)
	}
}

// WithMaxRulePasses lets rules re-run while they keep changing intent or state.
func WithMaxRulePasses(n int) Option {
	return func(e *Engine) {
		e.maxPasses = n
	}
}

// WithLocker serializes turns across replicas.
func WithLocker(l ports.DistributedLocker, ttl time.Duration) Option {
	return func(e *Engine) {
		e.locker = l
		e.lockTTL = ttl
	}
}

// WithAuditConfig replaces the audit configuration.
func WithAuditConfig(cfg audit.Config) Option {
	return func(e *Engine) {
		e.auditCfg = cfg
	}
}

// WithAuditWriter sets the durable audit writer.
func WithAuditWriter(w audit.Writer) Option {
	return func(e *Engine) {
		e.auditWriter = w
	}
}

// WithAuditListeners adds audit listeners.
func WithAuditListeners(ls ...ports.AuditListener) Option {
	return func(e *Engine) {
		e.auditListeners = append(e.auditListeners, ls...)
	}
}

// WithLogger sets a custom structured logger for the engine.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithClock overrides the engine clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// New wires an Engine. It fails when the step graph cannot be compiled.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{
		auditCfg:  audit.DefaultConfig(),
		maxPasses: 1,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = logging.OrNop(e.logger)
	if e.store == nil {
		e.store = memory.NewStore()
	}
	if e.ruleSource == nil {
		e.ruleSource = memory.NewRuleStore()
	}
	if e.tasks == nil {
		e.tasks = registry.New()
	}

	e.auditor = audit.NewService(e.auditCfg,
		audit.WithWriter(e.auditWriter),
		audit.WithListeners(e.auditListeners...),
		audit.WithLogger(e.logger),
		audit.WithClock(e.now),
	)

	ruleEngine := rules.New(
		rules.WithMatchers(append(rules.DefaultMatchers(e.logger), e.matchers...)...),
		rules.WithActions(append(rules.DefaultActions(e.tasks, e.auditor, e.logger), e.actions...)...),
		rules.WithAuditor(e.auditor),
		rules.WithLogger(e.logger),
		rules.WithMaxPasses(e.maxPasses),
	)

	all := steps.Defaults(steps.Deps{
		Store:   e.store,
		Rules:   e.ruleSource,
		Engine:  ruleEngine,
		Auditor: e.auditor,
		Flusher: e.auditor,
		Logger:  e.logger,
		Now:     e.now,
	})
	all = append(all, e.extraSteps...)

	p, err := pipeline.New(all,
		pipeline.WithHooks(e.hooks...),
		pipeline.WithAuditor(e.auditor),
		pipeline.WithLogger(e.logger),
		pipeline.WithClock(e.now),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build pipeline: %w", err)
	}
	e.pipeline = p

	mgrOpts := []session.Option{session.WithLogger(e.logger), session.WithClock(e.now)}
	if e.locker != nil {
		mgrOpts = append(mgrOpts, session.WithLocker(e.locker), session.WithLockTTL(e.lockTTL))
	}
	e.manager = session.NewManager(e.store, mgrOpts...)
	return e, nil
}

// Process runs one turn. A blank conversation ID starts a new conversation
// with a generated ID. Turns of the same conversation are serialized.
func (e *Engine) Process(ctx context.Context, turn ports.Turn) (*domain.EngineResult, error) {
	id := strings.TrimSpace(turn.ConversationID)
	if id == "" {
		id = uuid.NewString()
	}

	s := domain.NewSession(id, turn.Text)
	s.StartedAt = e.now()
	maps.Copy(s.InputParams, domain.CopyDocument(turn.InputParams))
	ctx = domain.WithSession(ctx, s)

	var result *domain.EngineResult
	err := e.manager.WithLock(ctx, id, func(ctx context.Context) error {
		var err error
		result, err = e.pipeline.Run(ctx, s)
		return err
	})
	if err != nil {
		e.recordFailure(ctx, s, err)
		return nil, err
	}
	if result == nil {
		result = domain.ResultFromSession(s, nil)
	}
	return result, nil
}

func (e *Engine) recordFailure(ctx context.Context, s *domain.Session, err error) {
	stage := domain.StageEngineUnknownFailure
	payload := map[string]any{
		"errorType":    fmt.Sprintf("%T", err),
		"errorMessage": err.Error(),
	}
	var engErr *domain.EngineError
	if errors.As(err, &engErr) {
		stage = domain.StageEngineKnownFailure
		payload["code"] = string(engErr.Code)
		if len(engErr.Meta) > 0 {
			payload["meta"] = engErr.Meta
		}
	}

	e.logger.Error("turn failed", "conversation_id", s.ConversationID, "stage", stage, "error", err)
	if aerr := e.auditor.Audit(ctx, stage, s.ConversationID, payload); aerr != nil {
		e.logger.Warn("failed to audit turn failure", "conversation_id", s.ConversationID, "error", aerr)
	}
	if ferr := e.auditor.FlushPending(ctx, s.ConversationID); ferr != nil {
		e.logger.Warn("failed to flush pending audit events", "conversation_id", s.ConversationID, "error", ferr)
	}
}

// Order returns the compiled step order.
func (e *Engine) Order() []string {
	return e.pipeline.Order()
}

// Describe returns the metadata of each step in execution order.
func (e *Engine) Describe() []ports.StepInfo {
	return e.pipeline.Describe()
}

// Conversation returns the stored projection of a conversation.
func (e *Engine) Conversation(ctx context.Context, id string) (*domain.Conversation, error) {
	return e.manager.Load(ctx, id)
}

// Auditor exposes the audit service, for metrics registration and stats.
func (e *Engine) Auditor() *audit.Service {
	return e.auditor
}

// Stats returns the audit pipeline counters.
func (e *Engine) Stats() audit.Stats {
	return e.auditor.Stats()
}

// Close flushes buffered audit events and drains async dispatch.
func (e *Engine) Close(ctx context.Context) error {
	return e.auditor.Close(ctx)
}
