package audit

import (
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// StageControl admits or rejects audit stages. Gates run in order: level,
// include/exclude patterns, then the per-bucket rate limit.
type StageControl struct {
	enabled bool
	level   Level
	include []stagePattern
	exclude []stagePattern
	rate    RateLimitConfig
	now     func() time.Time

	buckets     sync.Map // key -> *bucket
	tracked     atomic.Int64
	rateDropped atomic.Int64
}

type bucket struct {
	mu          sync.Mutex
	windowStart time.Time
	count       int
}

// StageControlOption configures a StageControl.
type StageControlOption func(*StageControl)

// WithStageClock overrides the clock used by the rate limiter.
func WithStageClock(now func() time.Time) StageControlOption {
	return func(c *StageControl) { c.now = now }
}

// NewStageControl builds the admission gates from cfg.
func NewStageControl(cfg Config, opts ...StageControlOption) *StageControl {
	cfg = cfg.Normalize()
	c := &StageControl{
		enabled: cfg.Enabled,
		level:   cfg.Level,
		include: compilePatterns(cfg.IncludeStages),
		exclude: compilePatterns(cfg.ExcludeStages),
		rate:    cfg.RateLimit,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Allow reports whether an event for stage and conversationID should be recorded.
func (c *StageControl) Allow(stage, conversationID string) bool {
	if !c.enabled {
		return false
	}
	stage = NormalizeStage(stage)
	if !c.levelAllows(stage) {
		return false
	}
	if len(c.include) > 0 && !matchesAny(c.include, stage) {
		return false
	}
	if matchesAny(c.exclude, stage) {
		return false
	}
	if c.rate.Enabled {
		return c.allowRate(stage, conversationID)
	}
	return true
}

func (c *StageControl) levelAllows(stage string) bool {
	switch c.level {
	case LevelNone:
		return false
	case LevelErrorOnly:
		return strings.Contains(stage, "ERROR") ||
			strings.Contains(stage, "FAIL") ||
			strings.Contains(stage, "REJECT")
	case LevelStandard:
		return stage != "STEP_ENTER" && stage != "STEP_EXIT"
	default:
		return true
	}
}

func (c *StageControl) allowRate(stage, conversationID string) bool {
	key := c.bucketKey(stage, conversationID)
	now := c.now()

	v, ok := c.buckets.Load(key)
	if !ok {
		// The ceiling is approximate under contention: concurrent first
		// events for distinct keys may each pass the check.
		if c.tracked.Load() >= int64(c.rate.MaxTrackedBuckets) {
			c.rateDropped.Add(1)
			return false
		}
		var loaded bool
		v, loaded = c.buckets.LoadOrStore(key, &bucket{windowStart: now})
		if !loaded {
			c.tracked.Add(1)
		}
	}

	b := v.(*bucket)
	b.mu.Lock()
	defer b.mu.Unlock()
	if now.Sub(b.windowStart) >= c.rate.Window() {
		b.windowStart = now
		b.count = 0
	}
	if b.count >= c.rate.MaxEvents {
		c.rateDropped.Add(1)
		return false
	}
	b.count++
	return true
}

func (c *StageControl) bucketKey(stage, conversationID string) string {
	conv, st := "*", "*"
	if c.rate.PerConversation && conversationID != "" {
		conv = conversationID
	}
	if c.rate.PerStage {
		st = stage
	}
	return conv + "|" + st
}

// RateDropped is the number of events rejected by the rate limiter.
func (c *StageControl) RateDropped() int64 { return c.rateDropped.Load() }

// TrackedBuckets is the number of live rate-limit buckets.
func (c *StageControl) TrackedBuckets() int64 { return c.tracked.Load() }

// stagePattern is an upper-cased glob where '*' matches any run of characters.
type stagePattern struct {
	literal string
	re      *regexp.Regexp
}

func (p stagePattern) match(stage string) bool {
	if p.re != nil {
		return p.re.MatchString(stage)
	}
	return p.literal == stage
}

func compilePatterns(raw []string) []stagePattern {
	var out []stagePattern
	for _, r := range raw {
		r = NormalizeStage(r)
		if r == "" {
			continue
		}
		if !strings.Contains(r, "*") {
			out = append(out, stagePattern{literal: r})
			continue
		}
		parts := strings.Split(r, "*")
		for i, part := range parts {
			parts[i] = regexp.QuoteMeta(part)
		}
		out = append(out, stagePattern{re: regexp.MustCompile("^" + strings.Join(parts, ".*") + "$")})
	}
	return out
}

func matchesAny(patterns []stagePattern, stage string) bool {
	for _, p := range patterns {
		if p.match(stage) {
			return true
		}
	}
	return false
}
