package convengine_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/aretw0/convengine"
	"github.com/aretw0/convengine/pkg/adapters/memory"
	"github.com/aretw0/convengine/pkg/domain"
	"github.com/aretw0/convengine/pkg/ports"
	"github.com/aretw0/convengine/pkg/registry"
	"github.com/aretw0/convengine/pkg/steps"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stageRecorder struct {
	mu     sync.Mutex
	events []domain.AuditEvent
}

func (r *stageRecorder) OnAudit(_ context.Context, e domain.AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *stageRecorder) find(stage string) (domain.AuditEvent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.Stage == stage {
			return e, true
		}
	}
	return domain.AuditEvent{}, false
}

var orderRules = []domain.Rule{
	{ID: "order", Type: "CONTAINS", Pattern: "order", Action: "SET_INTENT", ActionValue: "ORDER", Priority: 1, Enabled: true},
	{ID: "collect", Intent: "ORDER", Type: "AGENT", Action: "SET_STATE", ActionValue: "COLLECT_SKU", Priority: 2, Enabled: true},
	{ID: "qty", Intent: "ORDER", Type: "REGEX", Pattern: `\d+`, Action: "SET_INPUT_PARAM", ActionValue: "has_qty", Priority: 3, Enabled: true},
	{ID: "quote", Intent: "ORDER", Type: "AGENT", Action: "SET_TASK", ActionValue: "quote:express", Priority: 4, Enabled: true},
}

func newEngine(t *testing.T, opts ...convengine.Option) (*convengine.Engine, *stageRecorder) {
	t.Helper()
	rec := &stageRecorder{}
	tasks := registry.New()
	tasks.Register("quote", func(_ context.Context, _ *domain.Session, args []string) (any, error) {
		return "quote-" + strings.Join(args, ","), nil
	})
	all := append([]convengine.Option{
		convengine.WithRuleSource(memory.NewRuleStore(orderRules...)),
		convengine.WithTasks(tasks),
		convengine.WithAuditListeners(rec),
	}, opts...)
	eng, err := convengine.New(all...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close(context.Background()) })
	return eng, rec
}

func TestEngine_Process(t *testing.T) {
	eng, rec := newEngine(t)
	ctx := context.Background()

	res, err := eng.Process(ctx, ports.Turn{Text: "I want to order 3 mugs"})
	require.NoError(t, err)

	_, parseErr := uuid.Parse(res.ConversationID)
	assert.NoError(t, parseErr, "blank conversation ids are replaced with a uuid")
	assert.Equal(t, "ORDER", res.Intent)
	assert.Equal(t, "COLLECT_SKU", res.State)

	conv, err := eng.Conversation(ctx, res.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, 1, conv.Turns)
	assert.Equal(t, "COLLECT_SKU", conv.State)
	assert.Equal(t, map[string]any{"quote": "quote-express"}, conv.Context["tasks"])

	setParam, ok := rec.find(domain.StageSetInputParam)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"has_qty": true}, setParam.Payload["params"])

	applied, ok := rec.find(domain.StageRuleApplied)
	require.True(t, ok)
	meta := applied.Payload["_meta"].(map[string]any)
	assert.Equal(t, res.ConversationID, meta["conversationId"])

	_, ok = rec.find(domain.StagePipelineTiming)
	assert.True(t, ok)
	assert.Positive(t, eng.Stats().Dispatched)
}

func TestEngine_Order(t *testing.T) {
	eng, _ := newEngine(t)
	assert.Equal(t, []string{
		steps.NameLoadConversation,
		steps.NameAuditUserInput,
		steps.NameResetConversation,
		steps.NameApplyRules,
		steps.NamePersistConversation,
		steps.NamePipelineEndGuard,
	}, eng.Order())
	assert.Len(t, eng.Describe(), 6)
}

func failingStep(err error) ports.Step {
	return steps.NewFunc(ports.StepInfo{
		Name:               "Validate",
		RequiresPriorState: true,
		RunsAfter:          []string{steps.NameApplyRules},
		RunsBefore:         []string{steps.NamePersistConversation},
	}, func(context.Context, *domain.Session) (domain.StepResult, error) {
		return domain.Continue(), err
	})
}

func TestEngine_KnownFailure(t *testing.T) {
	engErr := domain.NewEngineError(domain.CodeInvalidRule, "bad quantity", map[string]any{"field": "qty"})
	eng, rec := newEngine(t, convengine.WithSteps(failingStep(engErr)))

	_, err := eng.Process(context.Background(), ports.Turn{ConversationID: "c1", Text: "order"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.CodeInvalidRule)
	assert.Contains(t, err.Error(), "step Validate")

	failure, ok := rec.find(domain.StageEngineKnownFailure)
	require.True(t, ok)
	assert.Equal(t, string(domain.CodeInvalidRule), failure.Payload["code"])
	assert.Equal(t, map[string]any{"field": "qty"}, failure.Payload["meta"])

	_, ok = rec.find(domain.StagePipelineTiming)
	assert.False(t, ok, "the terminal step does not run after a failure")

	_, err = eng.Conversation(context.Background(), "c1")
	require.NoError(t, err, "the bootstrap step created the conversation")
}

func TestEngine_UnknownFailure(t *testing.T) {
	eng, rec := newEngine(t, convengine.WithSteps(failingStep(errors.New("downstream timeout"))))

	_, err := eng.Process(context.Background(), ports.Turn{ConversationID: "c1", Text: "order"})
	require.Error(t, err)

	failure, ok := rec.find(domain.StageEngineUnknownFailure)
	require.True(t, ok)
	assert.Contains(t, failure.Payload["errorMessage"], "downstream timeout")
}

func TestEngine_InvalidPipeline(t *testing.T) {
	dup := steps.NewFunc(ports.StepInfo{Name: steps.NameApplyRules}, nil)
	_, err := convengine.New(convengine.WithSteps(dup))
	assert.ErrorIs(t, err, domain.CodeDuplicateStep)
}

func TestEngine_SerializesConversation(t *testing.T) {
	eng, _ := newEngine(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := eng.Process(ctx, ports.Turn{ConversationID: "shared", Text: "order"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	conv, err := eng.Conversation(ctx, "shared")
	require.NoError(t, err)
	assert.Equal(t, 20, conv.Turns)
}

func TestEngine_InputParams(t *testing.T) {
	eng, rec := newEngine(t)
	res, err := eng.Process(context.Background(), ports.Turn{
		ConversationID: "c1",
		Text:           "hello",
		InputParams:    map[string]any{"channel": "web"},
	})
	require.NoError(t, err)
	assert.Empty(t, res.Intent)

	input, ok := rec.find(domain.StageUserInput)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"channel": "web"}, input.Payload["inputParams"])
}

func TestEngine_FailedTurnLeavesConversationUntouched(t *testing.T) {
	eng, err := convengine.New(convengine.WithRuleSource(memory.NewRuleStore(
		domain.Rule{ID: "item", Type: "CONTAINS", Pattern: "item", Action: "SET_CONTEXT", ActionValue: "order.item:a", Priority: 1, Enabled: true},
		domain.Rule{ID: "reply", Type: "CONTAINS", Pattern: "item", Action: "SET_CONTEXT", ActionValue: `{"response":{"text":"noted"}}`, Priority: 2, Enabled: true},
		domain.Rule{ID: "change", Type: "CONTAINS", Pattern: "fail", Action: "SET_CONTEXT", ActionValue: "order.item:b", Priority: 3, Enabled: true},
		domain.Rule{ID: "broken", Type: "CONTAINS", Pattern: "fail", Action: "SET_TASK", ActionValue: "missing", Priority: 4, Enabled: true},
	)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close(context.Background()) })
	ctx := context.Background()

	res, err := eng.Process(ctx, ports.Turn{ConversationID: "c1", Text: "item"})
	require.NoError(t, err)
	res.Payload.(map[string]any)["text"] = "changed by caller"

	_, err = eng.Process(ctx, ports.Turn{ConversationID: "c1", Text: "fail"})
	require.ErrorIs(t, err, domain.CodeUnknownTask)

	conv, err := eng.Conversation(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, conv.Turns)
	assert.Equal(t, map[string]any{"item": "a"}, conv.Context["order"])
	assert.Equal(t, map[string]any{"text": "noted"}, conv.Context["response"])
}
