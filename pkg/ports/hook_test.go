package ports_test

import (
	"context"
	"errors"
	"testing"

	"github.com/aretw0/convengine/pkg/domain"
	"github.com/aretw0/convengine/pkg/ports"
	"github.com/stretchr/testify/assert"
)

func TestHookFuncs_Defaults(t *testing.T) {
	var h ports.Hook = ports.HookFuncs{}
	s := domain.NewSession("c1", "")
	ctx := context.Background()

	assert.True(t, h.Supports("Any", s))
	assert.NoError(t, h.BeforeStep(ctx, "Any", s))
	assert.NoError(t, h.AfterStep(ctx, "Any", s, domain.Continue()))
	assert.NoError(t, h.OnStepError(ctx, "Any", s, errors.New("boom")))
}

func TestHookFuncs_Delegates(t *testing.T) {
	var calls []string
	h := ports.HookFuncs{
		Filter: func(step string, _ *domain.Session) bool { return step == "Rules" },
		Before: func(_ context.Context, step string, _ *domain.Session) error {
			calls = append(calls, "before:"+step)
			return nil
		},
		OnError: func(_ context.Context, step string, _ *domain.Session, err error) error {
			calls = append(calls, "error:"+err.Error())
			return errors.New("hook failed")
		},
	}
	s := domain.NewSession("c1", "")

	assert.True(t, h.Supports("Rules", s))
	assert.False(t, h.Supports("Persist", s))
	assert.NoError(t, h.BeforeStep(context.Background(), "Rules", s))
	assert.EqualError(t, h.OnStepError(context.Background(), "Rules", s, errors.New("boom")), "hook failed")
	assert.Equal(t, []string{"before:Rules", "error:boom"}, calls)
}
