package audit

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"time"

	"github.com/aretw0/convengine/internal/logging"
	"github.com/aretw0/convengine/pkg/domain"
	"github.com/aretw0/convengine/pkg/ports"
)

// Service is the engine's ports.Auditor. Each event passes the stage gates,
// is enriched with _meta, handed to the persistence strategy and finally
// dispatched to listeners once it is durable.
type Service struct {
	cfg        Config
	control    *StageControl
	strategy   Strategy
	dispatcher *Dispatcher
	logger     *slog.Logger
	now        func() time.Time

	writer    Writer
	listeners []ports.AuditListener
	stageOpts []StageControlOption
}

var _ ports.Auditor = (*Service)(nil)

// Option configures a Service.
type Option func(*Service)

// WithWriter sets the durable writer. Defaults to NopWriter.
func WithWriter(w Writer) Option {
	return func(s *Service) { s.writer = w }
}

// WithListeners appends audit listeners.
func WithListeners(ls ...ports.AuditListener) Option {
	return func(s *Service) { s.listeners = append(s.listeners, ls...) }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = logging.OrNop(l) }
}

// WithClock overrides the clock used for event timestamps and rate limiting.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
		s.stageOpts = append(s.stageOpts, WithStageClock(now))
	}
}

// NewService wires stage control, persistence and dispatch from cfg.
func NewService(cfg Config, opts ...Option) *Service {
	cfg = cfg.Normalize()
	s := &Service{
		cfg:    cfg,
		logger: logging.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.control = NewStageControl(cfg, s.stageOpts...)
	s.strategy = NewStrategy(cfg.Persistence, s.writer, s.logger)
	s.dispatcher = NewDispatcher(cfg.Dispatch, s.listeners, WithDispatcherLogger(s.logger))
	return s
}

// Audit records one event. It returns an error only when the dispatch queue
// rejects the event under the ABORT policy.
func (s *Service) Audit(ctx context.Context, stage, conversationID string, payload map[string]any) error {
	if !s.cfg.Enabled {
		return nil
	}
	stage = NormalizeStage(stage)
	if !s.control.Allow(stage, conversationID) {
		return nil
	}

	now := s.now()
	e := domain.AuditEvent{
		ConversationID: conversationID,
		Stage:          stage,
		Payload:        s.enrich(ctx, stage, conversationID, payload, now),
		CreatedAt:      now,
	}
	return s.dispatch(ctx, s.strategy.Persist(ctx, e))
}

// enrich copies payload and merges engine metadata into its _meta entry.
// Keys already present in _meta are kept.
func (s *Service) enrich(ctx context.Context, stage, conversationID string, payload map[string]any, now time.Time) map[string]any {
	out := make(map[string]any, len(payload)+1)
	maps.Copy(out, payload)

	meta := map[string]any{}
	if existing, ok := payload["_meta"].(map[string]any); ok {
		maps.Copy(meta, existing)
	}
	setDefault(meta, "stage", stage)
	setDefault(meta, "conversationId", conversationID)
	setDefault(meta, "emittedAt", now.UTC().Format(time.RFC3339Nano))
	if sess, ok := domain.SessionFromContext(ctx); ok {
		setDefault(meta, "intent", sess.Intent)
		setDefault(meta, "state", sess.State)
	}
	out["_meta"] = meta
	return out
}

func setDefault(m map[string]any, key string, v any) {
	if _, ok := m[key]; !ok {
		m[key] = v
	}
}

func (s *Service) dispatch(ctx context.Context, events []domain.AuditEvent) error {
	var errs []error
	for _, e := range events {
		if err := s.dispatcher.Dispatch(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FlushPending writes and dispatches events buffered for conversationID.
func (s *Service) FlushPending(ctx context.Context, conversationID string) error {
	return s.dispatch(ctx, s.strategy.Flush(ctx, conversationID))
}

// Close flushes every buffered event and drains the dispatcher.
func (s *Service) Close(ctx context.Context) error {
	flushErr := s.dispatch(ctx, s.strategy.FlushAll(ctx))
	return errors.Join(flushErr, s.dispatcher.Close(ctx))
}

// Stats is a point-in-time view of the audit pipeline counters.
type Stats struct {
	Dispatched     int64 `json:"dispatched"`
	Dropped        int64 `json:"dropped"`
	RateDropped    int64 `json:"rate_dropped"`
	Pending        int   `json:"pending"`
	QueueLength    int   `json:"queue_length"`
	TrackedBuckets int64 `json:"tracked_buckets"`
}

// Stats returns the current counters.
func (s *Service) Stats() Stats {
	return Stats{
		Dispatched:     s.dispatcher.Dispatched(),
		Dropped:        s.dispatcher.Dropped(),
		RateDropped:    s.control.RateDropped(),
		Pending:        s.strategy.Pending(),
		QueueLength:    s.dispatcher.QueueLen(),
		TrackedBuckets: s.control.TrackedBuckets(),
	}
}
