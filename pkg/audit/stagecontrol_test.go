package audit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStageControl_Levels(t *testing.T) {
	tests := []struct {
		level Level
		stage string
		want  bool
	}{
		{LevelAll, "STEP_ENTER", true},
		{LevelNone, "STEP_ERROR", false},
		{LevelStandard, "STEP_ENTER", false},
		{LevelStandard, "STEP_EXIT", false},
		{LevelStandard, "RULE_APPLIED", true},
		{LevelErrorOnly, "STEP_ERROR", true},
		{LevelErrorOnly, "ENGINE_UNKNOWN_FAILURE", true},
		{LevelErrorOnly, "REQUEST_REJECTED", true},
		{LevelErrorOnly, "RULE_APPLIED", false},
		{"error_only", "step_hook_error", true},
	}
	for _, tt := range tests {
		t.Run(string(tt.level)+"/"+tt.stage, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Level = tt.level
			assert.Equal(t, tt.want, NewStageControl(cfg).Allow(tt.stage, "c1"))
		})
	}
}

func TestStageControl_Disabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false
	assert.False(t, NewStageControl(cfg).Allow("STEP_ERROR", "c1"))
}

func TestStageControl_Patterns(t *testing.T) {
	cfg := DefaultConfig()
	cfg.IncludeStages = []string{"rule_*", "  ", "STEP_ERROR"}
	cfg.ExcludeStages = []string{"RULE_SKIPPED_*"}
	c := NewStageControl(cfg)

	assert.True(t, c.Allow("RULE_APPLIED", "c1"))
	assert.True(t, c.Allow("step_error", "c1"))
	assert.False(t, c.Allow("RULE_SKIPPED_INTENT_MISMATCH", "c1"))
	assert.False(t, c.Allow("STEP_EXIT", "c1"), "not included")
	assert.False(t, c.Allow("RULE.APPLIED", "c1"))
}

func TestStageControl_ExcludeOnly(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ExcludeStages = []string{"*_ENTER", ""}
	c := NewStageControl(cfg)

	assert.False(t, c.Allow("STEP_ENTER", "c1"))
	assert.True(t, c.Allow("STEP_EXIT", "c1"))
}

type fakeClock struct{ now time.Time }

func (f *fakeClock) Now() time.Time { return f.now }

func rateConfig(maxEvents int) Config {
	cfg := DefaultConfig()
	cfg.RateLimit.Enabled = true
	cfg.RateLimit.MaxEvents = maxEvents
	cfg.RateLimit.WindowMs = 1000
	return cfg
}

func TestStageControl_RateLimit(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewStageControl(rateConfig(3), WithStageClock(clock.Now))

	for i := range 3 {
		assert.True(t, c.Allow("STEP_ENTER", "c1"), "call %d", i+1)
	}
	assert.False(t, c.Allow("STEP_ENTER", "c1"))
	assert.Equal(t, int64(1), c.RateDropped())

	assert.True(t, c.Allow("STEP_EXIT", "c1"), "stages have separate buckets")
	assert.True(t, c.Allow("STEP_ENTER", "c2"), "conversations have separate buckets")

	clock.now = clock.now.Add(999 * time.Millisecond)
	assert.False(t, c.Allow("STEP_ENTER", "c1"))

	clock.now = clock.now.Add(time.Millisecond)
	assert.True(t, c.Allow("STEP_ENTER", "c1"), "window resets once it has fully elapsed")
}

func TestStageControl_SharedBucket(t *testing.T) {
	cfg := rateConfig(2)
	cfg.RateLimit.PerConversation = false
	cfg.RateLimit.PerStage = false
	c := NewStageControl(cfg, WithStageClock(func() time.Time { return time.Unix(0, 0) }))

	assert.True(t, c.Allow("A", "c1"))
	assert.True(t, c.Allow("B", "c2"))
	assert.False(t, c.Allow("C", "c3"))
	assert.Equal(t, int64(1), c.TrackedBuckets())
}

func TestStageControl_BucketCeiling(t *testing.T) {
	cfg := rateConfig(10)
	cfg.RateLimit.MaxTrackedBuckets = 2
	c := NewStageControl(cfg)

	assert.True(t, c.Allow("STEP_ENTER", "c1"))
	assert.True(t, c.Allow("STEP_ENTER", "c2"))
	assert.False(t, c.Allow("STEP_ENTER", "c3"), "new buckets are refused at the ceiling")
	assert.True(t, c.Allow("STEP_ENTER", "c1"), "existing buckets keep working")
	assert.Equal(t, int64(2), c.TrackedBuckets())
	assert.Equal(t, int64(1), c.RateDropped())
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.Level = "chatty"
	assert.ErrorContains(t, cfg.Validate(), "unknown level")

	cfg = DefaultConfig()
	cfg.Dispatch.RejectionPolicy = "retry"
	assert.ErrorContains(t, cfg.Validate(), "rejection policy")

	cfg = DefaultConfig()
	cfg.Persistence.Mode = "later"
	assert.ErrorContains(t, cfg.Validate(), "persistence mode")

	n := Config{Persistence: PersistenceConfig{Mode: "deferred_bulk"}}.Normalize()
	assert.Equal(t, DeferredBulk, n.Persistence.Mode)
	assert.Equal(t, LevelAll, n.Level)
	assert.Equal(t, 1, n.Dispatch.Workers)
}
