package rules

import (
	"context"
	"testing"

	"github.com/aretw0/convengine/pkg/domain"
	"github.com/aretw0/convengine/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAssignments(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []Assignment
	}{
		{"array", `[{"key":"a","value":1},{"key":"b","value":"x"}]`, []Assignment{{"a", float64(1)}, {"b", "x"}}},
		{"single object", `{"key":"flag","value":false}`, []Assignment{{"flag", false}}},
		{"plain map sorted", `{"z":1,"a":"q"}`, []Assignment{{"a", "q"}, {"z", float64(1)}}},
		{"int", "count:3", []Assignment{{"count", int64(3)}}},
		{"float", "ratio: 0.5", []Assignment{{"ratio", 0.5}}},
		{"bool", "confirmed:TRUE", []Assignment{{"confirmed", true}}},
		{"null", "reason:null", []Assignment{{"reason", nil}}},
		{"string", "city: Lisbon", []Assignment{{"city", "Lisbon"}}},
		{"dotted string stays text", "version:1.2.3", []Assignment{{"version", "1.2.3"}}},
		{"value with colon", "at:10:30", []Assignment{{"at", "10:30"}}},
		{"bare key", "needs_human", []Assignment{{"needs_human", true}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAssignments(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseAssignments_Invalid(t *testing.T) {
	for _, raw := range []string{"", "   ", ":value", `[{"value":1}]`, `{"key":""}`, `[not json`} {
		t.Run(raw, func(t *testing.T) {
			_, err := ParseAssignments(raw)
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.CodeInvalidRule)
		})
	}
}

func TestActions(t *testing.T) {
	ctx := context.Background()
	auditor := &recordingAuditor{}
	tasks := registry.New()
	tasks.Register("quote", func(_ context.Context, _ *domain.Session, args []string) (any, error) {
		return map[string]any{"args": args}, nil
	})

	s := domain.NewSession("c1", "")
	for _, h := range DefaultActions(tasks, auditor, nil) {
		var value string
		switch h.Action() {
		case ActionSetIntent:
			value = " ORDER "
		case ActionSetState:
			value = "COLLECT"
		case ActionSetInputParam:
			value = "qty:2"
		case ActionSetContext:
			value = `{"cart.total":10}`
		case ActionSetTask:
			value = "quote: express , gift"
		}
		require.NoError(t, h.Apply(ctx, s, domain.Rule{ID: "r-" + h.Action(), Action: h.Action(), ActionValue: value}))
	}

	assert.Equal(t, "ORDER", s.Intent)
	assert.Equal(t, "COLLECT", s.State)
	assert.Equal(t, int64(2), s.InputParams["qty"])
	total, ok := s.Lookup("cart.total")
	require.True(t, ok)
	assert.Equal(t, float64(10), total)
	quote, ok := s.Lookup("tasks.quote")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"args": []string{"express", "gift"}}, quote)

	for _, stage := range []string{
		domain.StageSetIntent, domain.StageSetState, domain.StageSetInputParam,
		domain.StageSetContext, domain.StageSetTask,
	} {
		assert.Len(t, auditor.byStage(stage), 1, stage)
	}
	assert.Equal(t, "ORDER", auditor.byStage(domain.StageSetIntent)[0].Payload["intent"])
}

func TestSetTask_Errors(t *testing.T) {
	h := SetTask{Tasks: registry.New()}
	s := domain.NewSession("c1", "")

	err := h.Apply(context.Background(), s, domain.Rule{ActionValue: "  "})
	assert.ErrorIs(t, err, domain.CodeInvalidRule)

	err = h.Apply(context.Background(), s, domain.Rule{ActionValue: "missing"})
	assert.ErrorIs(t, err, domain.CodeUnknownTask)
}
