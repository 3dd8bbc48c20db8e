package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/aretw0/convengine"
	"github.com/aretw0/convengine/internal/config"
	"github.com/aretw0/convengine/pkg/adapters/memory"
	"github.com/aretw0/convengine/pkg/adapters/process"
	redisadapter "github.com/aretw0/convengine/pkg/adapters/redis"
	"github.com/aretw0/convengine/pkg/adapters/sqlite"
	"github.com/aretw0/convengine/pkg/audit"
	"github.com/aretw0/convengine/pkg/observability"
	"github.com/aretw0/convengine/pkg/persistence/middleware"
	"github.com/aretw0/convengine/pkg/ports"
	"github.com/aretw0/convengine/pkg/registry"
	"github.com/aretw0/convengine/pkg/rules"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
)

// Runtime is an engine wired from configuration together with the
// backends it owns.
type Runtime struct {
	Engine   *convengine.Engine
	Registry *prometheus.Registry
	// Tasks holds the process tasks from tasks.file; callers may register
	// more before the first turn.
	Tasks *registry.Registry

	// Watcher is set when the rule table comes from a watchable file.
	Watcher ports.Watchable
	// Rules is the (possibly cached) source the engine reads.
	Rules ports.RuleSource
	// DB is set when a sqlite store or audit sink is configured.
	DB *sqlite.DB

	cache  *rules.CachedSource
	redis  *goredis.Client
	logger *slog.Logger
}

// NewRuntime builds the engine described by cfg. Extra options are applied
// after the configured ones.
func NewRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger, extra ...convengine.Option) (_ *Runtime, err error) {
	rt := &Runtime{
		Registry: prometheus.NewRegistry(),
		Tasks:    registry.New(),
		logger:   logger,
	}
	defer func() {
		if err != nil {
			rt.closeBackends()
		}
	}()

	rt.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	opts := []convengine.Option{
		convengine.WithLogger(logger),
		convengine.WithMaxRulePasses(cfg.Engine.MaxRulePasses),
		convengine.WithAuditConfig(cfg.Audit.Config),
		convengine.WithTasks(rt.Tasks),
		convengine.WithHooks(
			observability.NewMetricsHook(rt.Registry),
			observability.NewLoggingHook(logger),
		),
	}

	if cfg.UsesRedis() {
		rt.redis = goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rt.redis.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
	}
	if cfg.UsesSQLite() {
		rt.DB, err = sqlite.Open(ctx, cfg.SQLite.Path)
		if err != nil {
			return nil, err
		}
	}

	var store ports.ConversationStore
	switch cfg.Store.Type {
	case config.StoreRedis:
		store = redisadapter.NewFromClient(rt.redis,
			redisadapter.WithPrefix(cfg.Redis.Prefix+"conversation:"),
			redisadapter.WithTTL(cfg.Store.TTL),
		)
		if cfg.Engine.DistributedLock {
			opts = append(opts, convengine.WithLocker(redisadapter.NewLocker(rt.redis, cfg.Redis.Prefix), cfg.Engine.LockTTL))
		}
	case config.StoreSQLite:
		store = rt.DB.Conversations()
	default:
		store = memory.NewStore()
	}
	mws, err := storeMiddleware(cfg.Store)
	if err != nil {
		return nil, err
	}
	opts = append(opts, convengine.WithStore(middleware.Chain(store, mws...)))

	if err := rt.loadTasks(cfg.Tasks); err != nil {
		return nil, err
	}

	if cfg.Audit.SQLite {
		opts = append(opts, convengine.WithAuditWriter(rt.DB.Audit()))
	}
	if cfg.Audit.Stream != "" {
		opts = append(opts, convengine.WithAuditListeners(
			redisadapter.NewStreamPublisher(rt.redis, cfg.Audit.Stream, cfg.Audit.StreamMaxLen)))
	}

	src, err := rt.ruleSource(cfg.Rules)
	if err != nil {
		return nil, err
	}
	opts = append(opts, convengine.WithRuleSource(src))

	rt.Engine, err = convengine.New(append(opts, extra...)...)
	if err != nil {
		return nil, err
	}
	rt.Registry.MustRegister(audit.NewCollector(rt.Engine.Auditor()))
	return rt, nil
}

// storeMiddleware masks PII before encrypting, so the cipher text never
// holds the raw values.
func storeMiddleware(cfg config.StoreConfig) ([]middleware.Middleware, error) {
	var mws []middleware.Middleware
	if len(cfg.PIIPatterns) > 0 {
		pii, err := middleware.NewPIIMiddleware(cfg.PIIPatterns)
		if err != nil {
			return nil, err
		}
		mws = append(mws, pii)
	}
	if cfg.EncryptionKey != "" {
		active, err := middleware.DecodeKey(cfg.EncryptionKey)
		if err != nil {
			return nil, err
		}
		enc := middleware.EncryptionConfig{ActiveKey: active}
		for _, raw := range cfg.FallbackKeys {
			key, err := middleware.DecodeKey(raw)
			if err != nil {
				return nil, fmt.Errorf("fallback key: %w", err)
			}
			enc.FallbackKeys = append(enc.FallbackKeys, key)
		}
		m, err := middleware.NewEncryptionMiddleware(enc)
		if err != nil {
			return nil, err
		}
		mws = append(mws, m)
	}
	return mws, nil
}

func (rt *Runtime) loadTasks(cfg config.TasksConfig) error {
	if cfg.File == "" {
		return nil
	}
	tasks, err := process.LoadTasks(cfg.File)
	if err != nil {
		return err
	}
	runner := process.NewRunner(
		process.WithTasks(tasks),
		process.WithBaseDir(cfg.BaseDir),
		process.WithTimeout(cfg.Timeout),
		process.WithLogger(rt.logger),
	)
	runner.RegisterAll(rt.Tasks)
	rt.logger.Info("process tasks loaded", "file", cfg.File, "tasks", runner.Names())
	return nil
}

func (rt *Runtime) ruleSource(cfg config.RulesConfig) (ports.RuleSource, error) {
	if cfg.File == "" {
		rt.logger.Warn("no rules file configured, starting with an empty rule table")
		rt.Rules = memory.NewRuleStore()
		return rt.Rules, nil
	}

	file, err := rules.NewFileSource(cfg.File, rules.WithFileLogger(rt.logger))
	if err != nil {
		return nil, err
	}
	rt.cache = rules.NewCachedSource(file, cfg.CacheTTL, rt.logger)
	rt.Rules = rt.cache
	if cfg.Watch {
		rt.Watcher = file
	}
	return rt.Rules, nil
}

// MetricsHandler serves the runtime registry in the Prometheus text format.
func (rt *Runtime) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(rt.Registry, promhttp.HandlerOpts{Registry: rt.Registry})
}

// Close drains the audit pipeline and releases the backends.
func (rt *Runtime) Close(ctx context.Context) error {
	var errs []error
	if rt.Engine != nil {
		errs = append(errs, rt.Engine.Close(ctx))
	}
	errs = append(errs, rt.closeBackends())
	return errors.Join(errs...)
}

func (rt *Runtime) closeBackends() error {
	var errs []error
	if rt.DB != nil {
		errs = append(errs, rt.DB.Close())
	}
	if rt.redis != nil {
		errs = append(errs, rt.redis.Close())
	}
	return errors.Join(errs...)
}

// WatchRules starts invalidating the rule cache on every reload of the rules
// file. It is a no-op unless rules.watch is enabled. Watching stops when ctx
// is done.
func (rt *Runtime) WatchRules(ctx context.Context) error {
	if rt.Watcher == nil || rt.cache == nil {
		return nil
	}
	events, err := rt.Watcher.Watch(ctx)
	if err != nil {
		return err
	}
	go func() {
		for range events {
			rt.cache.Invalidate()
			rt.logger.Info("rules reloaded")
		}
	}()
	return nil
}
