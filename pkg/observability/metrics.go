package observability

import (
	"context"
	"sync"
	"time"

	"github.com/aretw0/convengine/pkg/domain"
	"github.com/aretw0/convengine/pkg/ports"
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsHook records step latency and failures.
//
// Metrics:
//   - convengine_step_duration_seconds{step,outcome}: step latency histogram
//   - convengine_step_errors_total{step}: steps that returned an error
type MetricsHook struct {
	duration *prometheus.HistogramVec
	errors   *prometheus.CounterVec
	now      func() time.Time

	// started is keyed by session and step; a session's steps run sequentially.
	mu      sync.Mutex
	started map[startKey]time.Time
}

type startKey struct {
	session *domain.Session
	step    string
}

var _ ports.Hook = (*MetricsHook)(nil)

// NewMetricsHook creates the hook and registers its collectors with reg.
func NewMetricsHook(reg prometheus.Registerer) *MetricsHook {
	h := &MetricsHook{
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "convengine",
				Name:      "step_duration_seconds",
				Help:      "Duration of pipeline step executions",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"step", "outcome"},
		),
		errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "convengine",
				Name:      "step_errors_total",
				Help:      "Total number of pipeline steps that failed",
			},
			[]string{"step"},
		),
		now:     time.Now,
		started: make(map[startKey]time.Time),
	}
	reg.MustRegister(h.duration, h.errors)
	return h
}

func (*MetricsHook) Supports(string, *domain.Session) bool { return true }

func (h *MetricsHook) BeforeStep(_ context.Context, step string, s *domain.Session) error {
	h.mu.Lock()
	h.started[startKey{s, step}] = h.now()
	h.mu.Unlock()
	return nil
}

func (h *MetricsHook) AfterStep(_ context.Context, step string, s *domain.Session, result domain.StepResult) error {
	h.observe(step, s, string(result.Outcome()))
	return nil
}

func (h *MetricsHook) OnStepError(_ context.Context, step string, s *domain.Session, _ error) error {
	h.observe(step, s, "ERROR")
	h.errors.WithLabelValues(step).Inc()
	return nil
}

func (h *MetricsHook) observe(step string, s *domain.Session, outcome string) {
	key := startKey{s, step}
	h.mu.Lock()
	start, ok := h.started[key]
	delete(h.started, key)
	h.mu.Unlock()
	if !ok {
		return
	}
	h.duration.WithLabelValues(step, outcome).Observe(h.now().Sub(start).Seconds())
}
