package audit

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/convengine/pkg/domain"
	"github.com/aretw0/convengine/pkg/ports"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collectingListener struct {
	mu     sync.Mutex
	events []domain.AuditEvent
}

func (l *collectingListener) OnAudit(_ context.Context, e domain.AuditEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
	return nil
}

func (l *collectingListener) all() []domain.AuditEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.AuditEvent(nil), l.events...)
}

var fixedNow = time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

func TestService_Enrichment(t *testing.T) {
	l := &collectingListener{}
	w := &recordingWriter{}
	svc := NewService(DefaultConfig(),
		WithWriter(w),
		WithListeners(l),
		WithClock(func() time.Time { return fixedNow }),
	)

	sess := domain.NewSession("c1", "hi")
	sess.Intent = "GREETING"
	sess.State = "IDLE"
	ctx := domain.WithSession(context.Background(), sess)

	payload := map[string]any{
		"step":  "ApplyRules",
		"_meta": map[string]any{"intent": "OVERRIDE", "source": "test"},
	}
	require.NoError(t, svc.Audit(ctx, " step_enter ", "c1", payload))

	events := l.all()
	require.Len(t, events, 1)
	e := events[0]
	assert.Equal(t, "STEP_ENTER", e.Stage)
	assert.Equal(t, fixedNow, e.CreatedAt)
	assert.Equal(t, "ApplyRules", e.Payload["step"])
	assert.Equal(t, map[string]any{
		"intent":         "OVERRIDE",
		"source":         "test",
		"stage":          "STEP_ENTER",
		"conversationId": "c1",
		"emittedAt":      "2026-03-04T05:06:07Z",
		"state":          "IDLE",
	}, e.Payload["_meta"])

	assert.Equal(t, map[string]any{"intent": "OVERRIDE", "source": "test"}, payload["_meta"], "caller payload is not mutated")
	assert.Len(t, w.single, 1)
}

func TestService_WithoutSession(t *testing.T) {
	l := &collectingListener{}
	svc := NewService(DefaultConfig(), WithListeners(l))

	require.NoError(t, svc.Audit(context.Background(), "USER_INPUT", "c1", nil))
	meta := l.all()[0].Payload["_meta"].(map[string]any)
	assert.NotContains(t, meta, "intent")
	assert.Equal(t, "USER_INPUT", meta["stage"])
}

func TestService_Gated(t *testing.T) {
	l := &collectingListener{}
	cfg := DefaultConfig()
	cfg.Level = LevelErrorOnly
	svc := NewService(cfg, WithListeners(l))

	require.NoError(t, svc.Audit(context.Background(), "STEP_ENTER", "c1", nil))
	require.NoError(t, svc.Audit(context.Background(), "STEP_ERROR", "c1", nil))
	require.Len(t, l.all(), 1)
	assert.Equal(t, "STEP_ERROR", l.all()[0].Stage)

	cfg.Enabled = false
	off := NewService(cfg, WithListeners(l))
	require.NoError(t, off.Audit(context.Background(), "STEP_ERROR", "c1", nil))
	assert.Len(t, l.all(), 1)
}

func TestService_DeferredDispatch(t *testing.T) {
	l := &collectingListener{}
	w := &recordingWriter{}
	cfg := DefaultConfig()
	cfg.Persistence.Mode = DeferredBulk
	svc := NewService(cfg, WithWriter(w), WithListeners(l))
	ctx := context.Background()

	require.NoError(t, svc.Audit(ctx, "USER_INPUT", "c1", nil))
	require.NoError(t, svc.Audit(ctx, "RULE_APPLIED", "c2", nil))
	assert.Empty(t, l.all(), "events are dispatched once durable")
	assert.Equal(t, 2, svc.Stats().Pending)

	require.NoError(t, svc.FlushPending(ctx, "c1"))
	assert.Len(t, l.all(), 1)

	require.NoError(t, svc.Close(ctx))
	assert.Len(t, l.all(), 2)
	assert.Equal(t, int64(2), svc.Stats().Dispatched)
	assert.Zero(t, svc.Stats().Pending)
}

func TestService_AsyncClose(t *testing.T) {
	l := &collectingListener{}
	cfg := DefaultConfig()
	cfg.Dispatch.Async = true
	svc := NewService(cfg, WithListeners(l))
	ctx := context.Background()

	for range 50 {
		require.NoError(t, svc.Audit(ctx, "STEP_ENTER", "c1", nil))
	}
	require.NoError(t, svc.Close(ctx))
	assert.Len(t, l.all(), 50)

	require.NoError(t, svc.Audit(ctx, "STEP_ENTER", "c1", nil))
	assert.Equal(t, int64(1), svc.Stats().Dropped)
}

func TestService_AbortSurfacesQueueFull(t *testing.T) {
	block := newBlockingListener("E1")
	cfg := DefaultConfig()
	cfg.Dispatch = DispatchConfig{Async: true, Workers: 1, QueueCapacity: 1, RejectionPolicy: Abort}
	svc := NewService(cfg, WithListeners(block))
	ctx := context.Background()

	require.NoError(t, svc.Audit(ctx, "E1", "c1", nil))
	<-block.started
	require.NoError(t, svc.Audit(ctx, "E2", "c1", nil))
	assert.ErrorIs(t, svc.Audit(ctx, "E3", "c1", nil), ErrQueueFull)

	close(block.release)
	require.NoError(t, svc.Close(ctx))
}

func TestCollector(t *testing.T) {
	svc := NewService(DefaultConfig(), WithListeners(ports.ListenerFunc(func(context.Context, domain.AuditEvent) error {
		return nil
	})))
	ctx := context.Background()
	require.NoError(t, svc.Audit(ctx, "A", "c1", nil))
	require.NoError(t, svc.Audit(ctx, "B", "c1", nil))

	c := NewCollector(svc)
	assert.Equal(t, 6, testutil.CollectAndCount(c))

	expected := `
# HELP convengine_audit_dispatched_total Total audit events fanned out to listeners
# TYPE convengine_audit_dispatched_total counter
convengine_audit_dispatched_total 2
`
	assert.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected), "convengine_audit_dispatched_total"))
}
