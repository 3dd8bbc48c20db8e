package audit

import (
	"fmt"
	"strings"
	"time"
)

// Level selects which stages pass the first admission gate.
type Level string

const (
	LevelAll       Level = "ALL"
	LevelStandard  Level = "STANDARD"
	LevelErrorOnly Level = "ERROR_ONLY"
	LevelNone      Level = "NONE"
)

// RejectionPolicy decides what happens when the async queue is full.
type RejectionPolicy string

const (
	CallerRuns RejectionPolicy = "CALLER_RUNS"
	DropNewest RejectionPolicy = "DROP_NEWEST"
	DropOldest RejectionPolicy = "DROP_OLDEST"
	Abort      RejectionPolicy = "ABORT"
)

// PersistenceMode selects how admitted events reach the Writer.
type PersistenceMode string

const (
	Immediate    PersistenceMode = "IMMEDIATE"
	DeferredBulk PersistenceMode = "DEFERRED_BULK"
)

// Config is the audit pipeline configuration.
type Config struct {
	Enabled       bool              `koanf:"enabled" yaml:"enabled"`
	Level         Level             `koanf:"level" yaml:"level"`
	IncludeStages []string          `koanf:"include_stages" yaml:"include_stages"`
	ExcludeStages []string          `koanf:"exclude_stages" yaml:"exclude_stages"`
	RateLimit     RateLimitConfig   `koanf:"rate_limit" yaml:"rate_limit"`
	Dispatch      DispatchConfig    `koanf:"dispatch" yaml:"dispatch"`
	Persistence   PersistenceConfig `koanf:"persistence" yaml:"persistence"`
}

// RateLimitConfig bounds how many events a bucket admits per window.
type RateLimitConfig struct {
	Enabled           bool  `koanf:"enabled" yaml:"enabled"`
	MaxEvents         int   `koanf:"max_events" yaml:"max_events"`
	WindowMs          int64 `koanf:"window_ms" yaml:"window_ms"`
	PerConversation   bool  `koanf:"per_conversation" yaml:"per_conversation"`
	PerStage          bool  `koanf:"per_stage" yaml:"per_stage"`
	MaxTrackedBuckets int   `koanf:"max_tracked_buckets" yaml:"max_tracked_buckets"`
}

// Window returns WindowMs as a duration.
func (c RateLimitConfig) Window() time.Duration {
	return time.Duration(c.WindowMs) * time.Millisecond
}

// DispatchConfig controls listener fan-out.
type DispatchConfig struct {
	Async           bool            `koanf:"async" yaml:"async"`
	Workers         int             `koanf:"workers" yaml:"workers"`
	QueueCapacity   int             `koanf:"queue_capacity" yaml:"queue_capacity"`
	RejectionPolicy RejectionPolicy `koanf:"rejection_policy" yaml:"rejection_policy"`
	// KeepAlive is ignored. Workers are never idled out; see NewDispatcher.
	KeepAlive time.Duration `koanf:"keep_alive" yaml:"keep_alive"`
}

// PersistenceConfig controls the Writer strategy.
type PersistenceConfig struct {
	Mode               PersistenceMode `koanf:"mode" yaml:"mode"`
	BatchSize          int             `koanf:"batch_size" yaml:"batch_size"`
	MaxBufferedEvents  int             `koanf:"max_buffered_events" yaml:"max_buffered_events"`
	FlushStages        []string        `koanf:"flush_stages" yaml:"flush_stages"`
	FinalStepNames     []string        `koanf:"final_step_names" yaml:"final_step_names"`
	FlushOnStopOutcome bool            `koanf:"flush_on_stop_outcome" yaml:"flush_on_stop_outcome"`
}

// DefaultConfig returns the defaults applied before any configuration is loaded.
func DefaultConfig() Config {
	return Config{
		Enabled: true,
		Level:   LevelAll,
		RateLimit: RateLimitConfig{
			Enabled:           false,
			MaxEvents:         200,
			WindowMs:          1000,
			PerConversation:   true,
			PerStage:          true,
			MaxTrackedBuckets: 20000,
		},
		Dispatch: DispatchConfig{
			Async:           false,
			Workers:         2,
			QueueCapacity:   2000,
			RejectionPolicy: CallerRuns,
			KeepAlive:       60 * time.Second,
		},
		Persistence: PersistenceConfig{
			Mode:              Immediate,
			BatchSize:         200,
			MaxBufferedEvents: 5000,
			FlushStages:       []string{"ENGINE_KNOWN_FAILURE", "ENGINE_UNKNOWN_FAILURE"},
			FinalStepNames:    []string{"PipelineEndGuard"},
		},
	}
}

// Normalize upper-cases enumerations and clamps sizes to their minimums.
func (c Config) Normalize() Config {
	c.Level = Level(NormalizeStage(string(c.Level)))
	if c.Level == "" {
		c.Level = LevelAll
	}
	c.Dispatch.RejectionPolicy = RejectionPolicy(NormalizeStage(string(c.Dispatch.RejectionPolicy)))
	if c.Dispatch.RejectionPolicy == "" {
		c.Dispatch.RejectionPolicy = CallerRuns
	}
	c.Dispatch.Workers = max(c.Dispatch.Workers, 1)
	c.Dispatch.QueueCapacity = max(c.Dispatch.QueueCapacity, 1)

	c.RateLimit.MaxEvents = max(c.RateLimit.MaxEvents, 1)
	c.RateLimit.WindowMs = max(c.RateLimit.WindowMs, 1)
	c.RateLimit.MaxTrackedBuckets = max(c.RateLimit.MaxTrackedBuckets, 1)

	c.Persistence.Mode = PersistenceMode(NormalizeStage(string(c.Persistence.Mode)))
	if c.Persistence.Mode == "" {
		c.Persistence.Mode = Immediate
	}
	c.Persistence.BatchSize = max(c.Persistence.BatchSize, 1)
	c.Persistence.MaxBufferedEvents = max(c.Persistence.MaxBufferedEvents, 1)
	return c
}

// Validate reports unknown enumeration values.
func (c Config) Validate() error {
	c = c.Normalize()
	switch c.Level {
	case LevelAll, LevelStandard, LevelErrorOnly, LevelNone:
	default:
		return fmt.Errorf("audit: unknown level %q", c.Level)
	}
	switch c.Dispatch.RejectionPolicy {
	case CallerRuns, DropNewest, DropOldest, Abort:
	default:
		return fmt.Errorf("audit: unknown rejection policy %q", c.Dispatch.RejectionPolicy)
	}
	switch c.Persistence.Mode {
	case Immediate, DeferredBulk:
	default:
		return fmt.Errorf("audit: unknown persistence mode %q", c.Persistence.Mode)
	}
	return nil
}

// NormalizeStage trims and upper-cases a stage label.
func NormalizeStage(stage string) string {
	return strings.ToUpper(strings.TrimSpace(stage))
}
