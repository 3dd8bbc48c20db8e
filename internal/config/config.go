// Package config loads the convengine runtime configuration from an optional
// YAML file and CONVENGINE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/aretw0/convengine/pkg/audit"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment override. A double underscore
// separates nesting levels: CONVENGINE_AUDIT__RATE_LIMIT__ENABLED=true.
const EnvPrefix = "CONVENGINE_"

// DefaultFile is read when no explicit path is given and it exists.
const DefaultFile = "convengine.yaml"

// Store backends.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
	StoreSQLite = "sqlite"
)

type Config struct {
	Log    LogConfig    `koanf:"log"`
	Server ServerConfig `koanf:"server"`
	Engine EngineConfig `koanf:"engine"`
	Store  StoreConfig  `koanf:"store"`
	Redis  RedisConfig  `koanf:"redis"`
	SQLite SQLiteConfig `koanf:"sqlite"`
	Rules  RulesConfig  `koanf:"rules"`
	Tasks  TasksConfig  `koanf:"tasks"`
	Audit  AuditConfig  `koanf:"audit"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // text, json
}

type ServerConfig struct {
	Addr            string        `koanf:"addr"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type EngineConfig struct {
	MaxRulePasses int           `koanf:"max_rule_passes"`
	LockTTL       time.Duration `koanf:"lock_ttl"`
	// DistributedLock serializes turns through Redis when the store is redis.
	DistributedLock bool `koanf:"distributed_lock"`
}

type StoreConfig struct {
	Type string        `koanf:"type"` // memory, redis, sqlite
	TTL  time.Duration `koanf:"ttl"`

	// EncryptionKey is a base64 AES key; when set, conversation contexts are
	// encrypted at rest. FallbackKeys still decrypt older data.
	EncryptionKey string   `koanf:"encryption_key"`
	FallbackKeys  []string `koanf:"fallback_keys"`
	// PIIPatterns masks matching context keys before they are stored.
	PIIPatterns []string `koanf:"pii_patterns"`
}

type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
	Prefix   string `koanf:"prefix"`
}

type SQLiteConfig struct {
	Path string `koanf:"path"`
}

type RulesConfig struct {
	File     string        `koanf:"file"`
	Watch    bool          `koanf:"watch"`
	CacheTTL time.Duration `koanf:"cache_ttl"`
}

// TasksConfig points at the allow-list of processes SET_TASK rules may run.
type TasksConfig struct {
	File    string        `koanf:"file"`
	BaseDir string        `koanf:"base_dir"`
	Timeout time.Duration `koanf:"timeout"`
}

// AuditConfig embeds the audit pipeline settings and adds the sinks the
// CLI wires up.
type AuditConfig struct {
	audit.Config `koanf:",squash"`

	// SQLite persists events in the sqlite database (requires sqlite.path).
	SQLite bool `koanf:"sqlite"`

	// Stream publishes events to a Redis stream when non-empty.
	Stream       string `koanf:"stream"`
	StreamMaxLen int64  `koanf:"stream_max_len"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Log:    LogConfig{Level: "info", Format: "text"},
		Server: ServerConfig{Addr: ":8080", ShutdownTimeout: 10 * time.Second},
		Engine: EngineConfig{MaxRulePasses: 1, LockTTL: 30 * time.Second},
		Store:  StoreConfig{Type: StoreMemory},
		Redis:  RedisConfig{Addr: "localhost:6379", Prefix: "convengine:"},
		SQLite: SQLiteConfig{Path: "convengine.db"},
		Rules:  RulesConfig{CacheTTL: 30 * time.Second},
		Tasks:  TasksConfig{Timeout: 30 * time.Second},
		Audit:  AuditConfig{Config: audit.DefaultConfig(), StreamMaxLen: 10000},
	}
}

// Load builds the configuration: defaults, then the YAML file, then the
// environment. An empty path reads DefaultFile when present; an explicit path
// must exist.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.Audit.Config = cfg.Audit.Config.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

// Validate rejects settings the engine cannot start with.
func (c Config) Validate() error {
	switch c.Store.Type {
	case StoreMemory, StoreRedis, StoreSQLite:
	default:
		return fmt.Errorf("unknown store type %q", c.Store.Type)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	if c.Store.Type == StoreSQLite || c.Audit.SQLite {
		if c.SQLite.Path == "" {
			return errors.New("sqlite.path is required")
		}
	}
	if len(c.Store.FallbackKeys) > 0 && c.Store.EncryptionKey == "" {
		return errors.New("store.fallback_keys requires store.encryption_key")
	}
	if c.Engine.DistributedLock && c.Store.Type != StoreRedis {
		return errors.New("engine.distributed_lock requires the redis store")
	}
	if err := c.Audit.Validate(); err != nil {
		return fmt.Errorf("invalid audit config: %w", err)
	}
	return nil
}

// UsesRedis reports whether any component needs a Redis client.
func (c Config) UsesRedis() bool {
	return c.Store.Type == StoreRedis || c.Audit.Stream != ""
}

// UsesSQLite reports whether any component needs the sqlite database.
func (c Config) UsesSQLite() bool {
	return c.Store.Type == StoreSQLite || c.Audit.SQLite
}
