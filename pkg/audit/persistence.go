package audit

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/aretw0/convengine/internal/logging"
	"github.com/aretw0/convengine/pkg/domain"
)

// Writer stores audit events durably.
type Writer interface {
	Insert(ctx context.Context, e domain.AuditEvent) error
	InsertBatch(ctx context.Context, events []domain.AuditEvent) error
}

// NopWriter discards everything.
type NopWriter struct{}

func (NopWriter) Insert(context.Context, domain.AuditEvent) error        { return nil }
func (NopWriter) InsertBatch(context.Context, []domain.AuditEvent) error { return nil }

// Strategy decides when admitted events are written. Persist and the flush
// methods return the events that are now durable and ready for dispatch.
type Strategy interface {
	Persist(ctx context.Context, e domain.AuditEvent) []domain.AuditEvent
	Flush(ctx context.Context, conversationID string) []domain.AuditEvent
	FlushAll(ctx context.Context) []domain.AuditEvent
	Pending() int
}

// NewStrategy returns the strategy for cfg.Mode.
func NewStrategy(cfg PersistenceConfig, w Writer, logger *slog.Logger) Strategy {
	if w == nil {
		w = NopWriter{}
	}
	logger = logging.OrNop(logger)
	if PersistenceMode(NormalizeStage(string(cfg.Mode))) == DeferredBulk {
		return newDeferredStrategy(cfg, w, logger)
	}
	return &immediateStrategy{writer: w, logger: logger}
}

type immediateStrategy struct {
	writer Writer
	logger *slog.Logger
}

func (s *immediateStrategy) Persist(ctx context.Context, e domain.AuditEvent) []domain.AuditEvent {
	if err := s.writer.Insert(ctx, e); err != nil {
		s.logger.Warn("audit insert failed", "stage", e.Stage, "conversation_id", e.ConversationID, "error", err)
	}
	return []domain.AuditEvent{e}
}

func (*immediateStrategy) Flush(context.Context, string) []domain.AuditEvent { return nil }
func (*immediateStrategy) FlushAll(context.Context) []domain.AuditEvent      { return nil }
func (*immediateStrategy) Pending() int                                      { return 0 }

// deferredStrategy buffers events per conversation and writes them in
// batches when a flush trigger fires.
type deferredStrategy struct {
	writer Writer
	logger *slog.Logger
	cfg    PersistenceConfig

	flushStages map[string]bool
	finalSteps  map[string]bool

	mu      sync.Mutex
	pending map[string][]domain.AuditEvent
	count   int
}

func newDeferredStrategy(cfg PersistenceConfig, w Writer, logger *slog.Logger) *deferredStrategy {
	cfg.BatchSize = max(cfg.BatchSize, 1)
	cfg.MaxBufferedEvents = max(cfg.MaxBufferedEvents, 1)
	s := &deferredStrategy{
		writer:      w,
		logger:      logger,
		cfg:         cfg,
		flushStages: make(map[string]bool),
		finalSteps:  make(map[string]bool),
		pending:     make(map[string][]domain.AuditEvent),
	}
	for _, st := range cfg.FlushStages {
		s.flushStages[NormalizeStage(st)] = true
	}
	for _, name := range cfg.FinalStepNames {
		s.finalSteps[name] = true
	}
	return s
}

func (s *deferredStrategy) Persist(ctx context.Context, e domain.AuditEvent) []domain.AuditEvent {
	s.mu.Lock()
	buf := append(s.pending[e.ConversationID], e)
	s.pending[e.ConversationID] = buf
	s.count++
	if !s.shouldFlush(e, len(buf)) {
		s.mu.Unlock()
		return nil
	}
	delete(s.pending, e.ConversationID)
	s.count -= len(buf)
	s.mu.Unlock()

	s.write(ctx, buf)
	return buf
}

func (s *deferredStrategy) shouldFlush(e domain.AuditEvent, buffered int) bool {
	if buffered >= s.cfg.MaxBufferedEvents {
		return true
	}
	if e.Stage == domain.StageStepError || s.flushStages[e.Stage] {
		return true
	}
	if e.Stage == domain.StageStepExit {
		if step, _ := e.Payload["step"].(string); s.finalSteps[step] {
			return true
		}
		if s.cfg.FlushOnStopOutcome && e.Payload["outcome"] == string(domain.OutcomeStop) {
			return true
		}
	}
	return false
}

func (s *deferredStrategy) Flush(ctx context.Context, conversationID string) []domain.AuditEvent {
	s.mu.Lock()
	buf := s.pending[conversationID]
	delete(s.pending, conversationID)
	s.count -= len(buf)
	s.mu.Unlock()

	s.write(ctx, buf)
	return buf
}

func (s *deferredStrategy) FlushAll(ctx context.Context) []domain.AuditEvent {
	s.mu.Lock()
	ids := make([]string, 0, len(s.pending))
	for id := range s.pending {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	sort.Strings(ids)

	var out []domain.AuditEvent
	for _, id := range ids {
		out = append(out, s.Flush(ctx, id)...)
	}
	return out
}

func (s *deferredStrategy) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

func (s *deferredStrategy) write(ctx context.Context, events []domain.AuditEvent) {
	for start := 0; start < len(events); start += s.cfg.BatchSize {
		end := min(start+s.cfg.BatchSize, len(events))
		if err := s.writer.InsertBatch(ctx, events[start:end]); err != nil {
			s.logger.Warn("audit batch insert failed",
				"conversation_id", events[start].ConversationID,
				"size", end-start,
				"error", err,
			)
		}
	}
}
