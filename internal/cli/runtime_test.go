package cli

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aretw0/convengine/internal/config"
	"github.com/aretw0/convengine/internal/logging"
	"github.com/aretw0/convengine/pkg/adapters/process"
	"github.com/aretw0/convengine/pkg/adapters/sqlite"
	"github.com/aretw0/convengine/pkg/domain"
	"github.com/aretw0/convengine/pkg/ports"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const rulesYAML = `
rules:
  - id: greet
    type: REGEX
    pattern: "^(hi|hello)"
    action: SET_INTENT
    action_value: GREETING
    priority: 1
  - id: reply
    intent: GREETING
    type: AGENT
    action: SET_CONTEXT
    action_value: '{"response":"Hello!"}'
    priority: 2
`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(rulesYAML), 0o600))

	cfg := config.Default()
	cfg.Rules.File = path
	return &cfg
}

func newRuntime(t *testing.T, cfg *config.Config) *Runtime {
	t.Helper()
	rt, err := NewRuntime(context.Background(), cfg, logging.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close(context.Background()) })
	return rt
}

func greet(t *testing.T, rt *Runtime) *domain.EngineResult {
	t.Helper()
	res, err := rt.Engine.Process(context.Background(), ports.Turn{ConversationID: "c1", Text: "hello there"})
	require.NoError(t, err)
	return res
}

func TestNewRuntime_Memory(t *testing.T) {
	rt := newRuntime(t, testConfig(t))

	res := greet(t, rt)
	assert.Equal(t, "GREETING", res.Intent)
	assert.Equal(t, "Hello!", res.Payload)
	assert.Nil(t, rt.Watcher)
	assert.Nil(t, rt.DB)

	families, err := rt.Registry.Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["convengine_step_duration_seconds"])
	assert.True(t, names["convengine_audit_dispatched_total"])
	assert.True(t, names["go_goroutines"])
}

func TestNewRuntime_NoRulesFile(t *testing.T) {
	cfg := config.Default()
	rt := newRuntime(t, &cfg)

	res, err := rt.Engine.Process(context.Background(), ports.Turn{Text: "hello"})
	require.NoError(t, err)
	assert.Empty(t, res.Intent)
}

func TestNewRuntime_MissingRulesFile(t *testing.T) {
	cfg := config.Default()
	cfg.Rules.File = filepath.Join(t.TempDir(), "missing.yaml")
	_, err := NewRuntime(context.Background(), &cfg, logging.NewNop())
	assert.Error(t, err)
}

func TestNewRuntime_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.Store.Type = config.StoreRedis
	cfg.Redis.Addr = mr.Addr()
	cfg.Engine.DistributedLock = true
	cfg.Audit.Stream = "convengine:audit"

	rt := newRuntime(t, cfg)
	greet(t, rt)

	assert.True(t, mr.Exists("convengine:conversation:c1"))

	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer client.Close()
	n, err := client.XLen(context.Background(), "convengine:audit").Result()
	require.NoError(t, err)
	assert.Positive(t, n)
}

func TestNewRuntime_RedisUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := testConfig(t)
	cfg.Store.Type = config.StoreRedis
	cfg.Redis.Addr = addr
	_, err := NewRuntime(context.Background(), cfg, logging.NewNop())
	assert.ErrorContains(t, err, "failed to connect to redis")
}

func TestNewRuntime_SQLite(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Type = config.StoreSQLite
	cfg.SQLite.Path = filepath.Join(t.TempDir(), "convengine.db")
	cfg.Audit.SQLite = true

	rt := newRuntime(t, cfg)
	greet(t, rt)

	conv, err := rt.DB.Conversations().Load(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, "GREETING", conv.Intent)

	events, err := rt.DB.Audit().Query(context.Background(), sqlite.AuditQuery{
		ConversationID: "c1",
		Stage:          domain.StageEngineReturn,
	})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestNewRuntime_TasksAndStoreMiddleware(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("task uses sh")
	}
	dir := t.TempDir()
	cfg := testConfig(t)

	withTask := rulesYAML + `
  - id: profile
    intent: GREETING
    type: AGENT
    action: SET_TASK
    action_value: "profile:ada"
    priority: 3
`
	require.NoError(t, os.WriteFile(cfg.Rules.File, []byte(withTask), 0o600))

	tasks, err := json.Marshal(process.ConfigFile{Tasks: []process.Config{{
		Name:    "profile",
		Command: "sh",
		Args:    []string{"-c", `printf '{"email":"ada@example.com","name":"%s"}' "$CONVENGINE_ARG_1"`},
	}}})
	require.NoError(t, err)
	cfg.Tasks.File = filepath.Join(dir, "tasks.json")
	require.NoError(t, os.WriteFile(cfg.Tasks.File, tasks, 0o600))

	key := make([]byte, 32)
	_, err = rand.Read(key)
	require.NoError(t, err)
	cfg.Store.Type = config.StoreSQLite
	cfg.SQLite.Path = filepath.Join(dir, "convengine.db")
	cfg.Store.EncryptionKey = base64.StdEncoding.EncodeToString(key)
	cfg.Store.PIIPatterns = []string{"^email$"}

	rt := newRuntime(t, cfg)
	assert.Equal(t, []string{"profile"}, rt.Tasks.Names())
	greet(t, rt)

	conv, err := rt.Engine.Conversation(context.Background(), "c1")
	require.NoError(t, err)
	profile := conv.Context["tasks"].(map[string]any)["profile"].(map[string]any)
	assert.Equal(t, "ada", profile["name"])
	assert.Equal(t, "***", profile["email"])

	raw, err := rt.DB.Conversations().Load(context.Background(), "c1")
	require.NoError(t, err)
	assert.NotContains(t, raw.Context, "tasks", "context is encrypted at rest")
	assert.Len(t, raw.Context, 1)
}

func TestNewRuntime_InvalidEncryptionKey(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.EncryptionKey = "c2hvcnQ="
	_, err := NewRuntime(context.Background(), cfg, logging.NewNop())
	assert.ErrorContains(t, err, "invalid encryption key")
}

func TestRuntime_WatchRules(t *testing.T) {
	cfg := testConfig(t)
	cfg.Rules.Watch = true
	cfg.Rules.CacheTTL = 0
	rt := newRuntime(t, cfg)
	require.NotNil(t, rt.Watcher)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, rt.WatchRules(ctx))
	assert.Equal(t, "GREETING", greet(t, rt).Intent)

	updated := bytes.ReplaceAll([]byte(rulesYAML), []byte("GREETING"), []byte("WELCOME"))
	require.NoError(t, os.WriteFile(cfg.Rules.File, updated, 0o600))

	assert.Eventually(t, func() bool {
		res, err := rt.Engine.Process(context.Background(), ports.Turn{ConversationID: "c2", Text: "hi"})
		return err == nil && res.Intent == "WELCOME"
	}, 5*time.Second, 50*time.Millisecond)
}

func TestServe(t *testing.T) {
	rt := newRuntime(t, testConfig(t))
	srv := NewHTTPServer(rt, "", logging.NewNop())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, srv, ln, time.Second, logging.NewNop()) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/health")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.JSONEq(t, `{"status":"ok"}`, string(body))

	resp, err = http.Get("http://" + ln.Addr().String() + "/metrics")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), "convengine_audit_dispatched_total")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(&buf, config.LogConfig{Level: "warn", Format: "json"})
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown", "error", io.EOF)
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"err":"EOF"`)

	_, err = NewLogger(&buf, config.LogConfig{Level: "loud"})
	assert.Error(t, err)
}
