package rules

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/aretw0/convengine/internal/logging"
	"github.com/aretw0/convengine/pkg/domain"
	"github.com/aretw0/convengine/pkg/ports"
	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// StaticSource serves a fixed rule table.
type StaticSource []domain.Rule

func (s StaticSource) Rules(context.Context) ([]domain.Rule, error) {
	return Order(s), nil
}

// ruleFile is the on-disk YAML layout.
type ruleFile struct {
	Rules []fileRule `yaml:"rules"`
}

type fileRule struct {
	ID          string `yaml:"id"`
	Intent      string `yaml:"intent"`
	State       string `yaml:"state"`
	Type        string `yaml:"type"`
	Pattern     string `yaml:"pattern"`
	Action      string `yaml:"action"`
	ActionValue string `yaml:"action_value"`
	Priority    int    `yaml:"priority"`
	Enabled     *bool  `yaml:"enabled"`
}

func (fr fileRule) rule() domain.Rule {
	return domain.Rule{
		ID:          fr.ID,
		Intent:      fr.Intent,
		State:       fr.State,
		Type:        fr.Type,
		Pattern:     fr.Pattern,
		Action:      fr.Action,
		ActionValue: fr.ActionValue,
		Priority:    fr.Priority,
		Enabled:     fr.Enabled == nil || *fr.Enabled,
	}
}

// ParseFile decodes and validates a YAML rule table. Rules default to enabled.
func ParseFile(data []byte) ([]domain.Rule, error) {
	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode rules: %w", err)
	}

	seen := make(map[string]bool, len(f.Rules))
	out := make([]domain.Rule, 0, len(f.Rules))
	for i, fr := range f.Rules {
		r := fr.rule()
		if err := Validate(r); err != nil {
			return nil, fmt.Errorf("rule #%d: %w", i+1, err)
		}
		if seen[r.ID] {
			return nil, domain.NewEngineError(domain.CodeInvalidRule,
				fmt.Sprintf("duplicate rule id %s", r.ID),
				map[string]any{"ruleId": r.ID})
		}
		seen[r.ID] = true
		out = append(out, r)
	}
	return out, nil
}

// Validate checks that a rule carries the fields the engine dispatches on.
func Validate(r domain.Rule) error {
	var missing []string
	if strings.TrimSpace(r.ID) == "" {
		missing = append(missing, "id")
	}
	if strings.TrimSpace(r.Type) == "" {
		missing = append(missing, "type")
	}
	if strings.TrimSpace(r.Action) == "" {
		missing = append(missing, "action")
	}
	if len(missing) > 0 {
		return domain.NewEngineError(domain.CodeInvalidRule,
			fmt.Sprintf("rule %q is missing %s", r.ID, strings.Join(missing, ", ")),
			map[string]any{"ruleId": r.ID, "missing": missing})
	}
	return nil
}

// FileSource serves the rule table from a YAML file and can reload it when
// the file changes.
type FileSource struct {
	path     string
	logger   *slog.Logger
	debounce time.Duration

	mu    sync.RWMutex
	rules []domain.Rule
}

// FileOption configures a FileSource.
type FileOption func(*FileSource)

// WithFileLogger sets the source logger.
func WithFileLogger(l *slog.Logger) FileOption {
	return func(f *FileSource) { f.logger = logging.OrNop(l) }
}

// WithDebounce sets how long Watch waits for writes to settle before reloading.
func WithDebounce(d time.Duration) FileOption {
	return func(f *FileSource) { f.debounce = d }
}

// NewFileSource loads path and returns a source serving its rules.
func NewFileSource(path string, opts ...FileOption) (*FileSource, error) {
	f := &FileSource{
		path:     path,
		logger:   logging.NewNop(),
		debounce: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(f)
	}
	if err := f.Reload(); err != nil {
		return nil, err
	}
	return f, nil
}

// Reload re-reads the file. On error the previous table stays in place.
func (f *FileSource) Reload() error {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return fmt.Errorf("read rules %s: %w", f.path, err)
	}
	parsed, err := ParseFile(data)
	if err != nil {
		return fmt.Errorf("load rules %s: %w", f.path, err)
	}

	f.mu.Lock()
	f.rules = parsed
	f.mu.Unlock()

	f.logger.Info("rules loaded", "path", f.path, "rule_count", len(parsed))
	return nil
}

func (f *FileSource) Rules(context.Context) ([]domain.Rule, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return Order(f.rules), nil
}

var _ ports.Watchable = (*FileSource)(nil)

// Watch reloads the table whenever the file changes and signals each
// successful reload on the returned channel. The directory is watched rather
// than the file so editors that replace files atomically are still seen.
// The channel is closed when ctx is done.
func (f *FileSource) Watch(ctx context.Context) (<-chan struct{}, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create rules watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(f.path)); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch %s: %w", f.path, err)
	}

	out := make(chan struct{}, 1)
	target := filepath.Clean(f.path)

	go func() {
		defer close(out)
		defer w.Close()

		var timer *time.Timer
		fire := make(chan struct{}, 1)
		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return

			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(f.debounce, func() {
					select {
					case fire <- struct{}{}:
					default:
					}
				})

			case <-fire:
				if err := f.Reload(); err != nil {
					f.logger.Error("rules reload failed", "path", f.path, "error", err)
					continue
				}
				select {
				case out <- struct{}{}:
				default:
				}

			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				f.logger.Error("rules watcher error", "error", err)
			}
		}
	}()
	return out, nil
}

// CachedSource memoizes another source for a TTL. When a refresh fails the
// last good table keeps being served.
type CachedSource struct {
	inner  ports.RuleSource
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger

	mu       sync.Mutex
	cached   []domain.Rule
	loadedAt time.Time
	valid    bool
}

// NewCachedSource wraps inner. A ttl of zero or less caches until Invalidate.
func NewCachedSource(inner ports.RuleSource, ttl time.Duration, logger *slog.Logger) *CachedSource {
	return &CachedSource{
		inner:  inner,
		ttl:    ttl,
		now:    time.Now,
		logger: logging.OrNop(logger),
	}
}

func (c *CachedSource) Rules(ctx context.Context) ([]domain.Rule, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.valid && (c.ttl <= 0 || c.now().Sub(c.loadedAt) < c.ttl) {
		return slices.Clone(c.cached), nil
	}

	fresh, err := c.inner.Rules(ctx)
	if err != nil {
		if c.valid {
			c.logger.Warn("rule refresh failed, serving cached table", "error", err)
			return slices.Clone(c.cached), nil
		}
		return nil, err
	}
	c.cached = fresh
	c.loadedAt = c.now()
	c.valid = true
	return slices.Clone(fresh), nil
}

// Invalidate forces the next Rules call to hit the wrapped source.
func (c *CachedSource) Invalidate() {
	c.mu.Lock()
	c.valid = false
	c.mu.Unlock()
}
