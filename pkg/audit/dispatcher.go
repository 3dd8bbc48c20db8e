package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/aretw0/convengine/internal/logging"
	"github.com/aretw0/convengine/pkg/domain"
	"github.com/aretw0/convengine/pkg/ports"
)

// ErrQueueFull is returned by Dispatch under the ABORT policy when the queue is saturated.
var ErrQueueFull = errors.New("audit queue is full")

type job struct {
	ctx   context.Context
	event domain.AuditEvent
}

// Dispatcher fans audit events out to listeners, either inline or through a
// bounded queue drained by a fixed pool of workers.
type Dispatcher struct {
	cfg       DispatchConfig
	listeners []ports.AuditListener
	logger    *slog.Logger

	queue chan job
	wg    sync.WaitGroup

	// mu guards closed and the queue close; Dispatch holds it shared so a
	// send never races with close.
	mu     sync.RWMutex
	closed bool

	dropped    atomic.Int64
	dispatched atomic.Int64
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatcherLogger sets the dispatcher logger.
func WithDispatcherLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = logging.OrNop(l) }
}

// NewDispatcher creates a dispatcher. In async mode the workers start
// immediately and live until Close: the pool never grows or shrinks, so
// cfg.KeepAlive has no effect and is only kept so existing configuration
// files still load.
func NewDispatcher(cfg DispatchConfig, listeners []ports.AuditListener, opts ...DispatcherOption) *Dispatcher {
	cfg.Workers = max(cfg.Workers, 1)
	cfg.QueueCapacity = max(cfg.QueueCapacity, 1)
	if cfg.RejectionPolicy == "" {
		cfg.RejectionPolicy = CallerRuns
	}

	d := &Dispatcher{
		cfg:       cfg,
		listeners: listeners,
		logger:    logging.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}

	if cfg.Async {
		d.queue = make(chan job, cfg.QueueCapacity)
		d.wg.Add(cfg.Workers)
		for range cfg.Workers {
			go d.worker()
		}
	}
	return d
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for j := range d.queue {
		d.fanOut(j.ctx, j.event)
	}
}

// Dispatch delivers the event to every listener. In sync mode this happens on
// the caller's goroutine. In async mode the event is queued; when the queue is
// full the configured RejectionPolicy applies and only ABORT returns an error.
// Events dispatched after Close are dropped.
func (d *Dispatcher) Dispatch(ctx context.Context, e domain.AuditEvent) error {
	if !d.cfg.Async {
		d.fanOut(ctx, e)
		return nil
	}

	j := job{ctx: context.WithoutCancel(ctx), event: e}
	runInline := false
	var err error

	d.mu.RLock()
	switch {
	case d.closed:
		d.dropped.Add(1)
	case d.offer(j):
	default:
		switch d.cfg.RejectionPolicy {
		case CallerRuns:
			runInline = true
		case DropNewest:
			d.dropped.Add(1)
		case DropOldest:
			// Evict-then-offer is not atomic: a concurrent producer can take
			// the freed slot, in which case this event is counted as dropped.
			if !d.evictOldest() || !d.offer(j) {
				d.dropped.Add(1)
			}
		case Abort:
			err = ErrQueueFull
		default:
			err = fmt.Errorf("audit: unknown rejection policy %q", d.cfg.RejectionPolicy)
		}
	}
	d.mu.RUnlock()

	if runInline {
		d.fanOut(ctx, e)
	}
	return err
}

func (d *Dispatcher) offer(j job) bool {
	select {
	case d.queue <- j:
		return true
	default:
		return false
	}
}

func (d *Dispatcher) evictOldest() bool {
	select {
	case old := <-d.queue:
		d.logger.Debug("audit event evicted", "stage", old.event.Stage, "conversation_id", old.event.ConversationID)
		return true
	default:
		return false
	}
}

// fanOut calls every listener in registration order. A failing or panicking
// listener is logged and does not stop the others.
func (d *Dispatcher) fanOut(ctx context.Context, e domain.AuditEvent) {
	for _, l := range d.listeners {
		if err := d.notify(ctx, l, e); err != nil {
			d.logger.Warn("audit listener failed",
				"listener", fmt.Sprintf("%T", l),
				"stage", e.Stage,
				"conversation_id", e.ConversationID,
				"error", err,
			)
		}
	}
	d.dispatched.Add(1)
}

func (d *Dispatcher) notify(ctx context.Context, l ports.AuditListener, e domain.AuditEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panicked: %v", r)
		}
	}()
	return l.OnAudit(ctx, e)
}

// Close stops accepting events and waits for queued events to be delivered
// or for ctx to be done. In-flight fan-out is never interrupted.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	if d.queue != nil {
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("audit dispatcher drain: %w", ctx.Err())
	}
}

// Dropped is the number of events discarded by backpressure or after Close.
func (d *Dispatcher) Dropped() int64 { return d.dropped.Load() }

// Dispatched is the number of events fanned out to listeners.
func (d *Dispatcher) Dispatched() int64 { return d.dispatched.Load() }

// QueueLen is the number of events waiting for a worker.
func (d *Dispatcher) QueueLen() int {
	if d.queue == nil {
		return 0
	}
	return len(d.queue)
}
