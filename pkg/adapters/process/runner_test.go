package process

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/aretw0/convengine/pkg/domain"
	"github.com/aretw0/convengine/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func skipWithoutShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tests use sh")
	}
}

func session() *domain.Session {
	s := domain.NewSession("c1", "two mugs please")
	s.Intent = "ORDER"
	s.SetInputParam("qty", int64(2))
	s.Context["sku"] = "MUG"
	return s
}

func TestRunner_Run(t *testing.T) {
	skipWithoutShell(t)
	r := NewRunner()
	r.Register("echo_env", "sh", "-c", `echo "$CONVENGINE_INTENT $CONVENGINE_ARG_1 $CONVENGINE_PARAM_QTY $CONVENGINE_ARGS"`)
	r.Register("json", "sh", "-c", `echo '{"total": 12.5, "sku": "MUG"}'`)
	r.Register("ctx", "sh", "-c", `echo "$CONVENGINE_CONTEXT"`)

	out, err := r.Run(context.Background(), "echo_env", session(), []string{"express", "gift"})
	require.NoError(t, err)
	assert.Equal(t, "ORDER express 2 express,gift", out)

	out, err = r.Run(context.Background(), "json", session(), nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"total": 12.5, "sku": "MUG"}, out)

	out, err = r.Run(context.Background(), "ctx", session(), nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"sku": "MUG"}, out)
}

func TestRunner_DoesNotLeakEngineEnvironment(t *testing.T) {
	skipWithoutShell(t)
	t.Setenv("CONVENGINE_STORE__ENCRYPTION_KEY", "secret")
	t.Setenv("CONVENGINE_INTENT", "SPOOFED")
	t.Setenv("CONVENGINE_TEST_HOME", "/home/ada")
	r := NewRunner()
	r.Register("leak", "sh", "-c", `echo "key=$CONVENGINE_STORE__ENCRYPTION_KEY intent=$CONVENGINE_INTENT home=$CONVENGINE_TEST_HOME"`)

	out, err := r.Run(context.Background(), "leak", session(), nil)
	require.NoError(t, err)
	assert.Equal(t, "key= intent=ORDER home=", out)
}

func TestRunner_Failures(t *testing.T) {
	skipWithoutShell(t)
	r := NewRunner(WithTimeout(time.Second))
	r.Register("fail", "sh", "-c", `echo boom >&2; exit 3`)

	_, err := r.Run(context.Background(), "missing", session(), nil)
	assert.ErrorIs(t, err, domain.CodeUnknownTask)

	_, err = r.Run(context.Background(), "fail", session(), nil)
	require.ErrorIs(t, err, domain.CodeTaskFailed)
	var engErr *domain.EngineError
	require.ErrorAs(t, err, &engErr)
	assert.Equal(t, 3, engErr.Meta["exitCode"])
	assert.Equal(t, "boom", engErr.Meta["stderr"])

	r.tasks["slow"] = Config{Name: "slow", Command: "sh", Args: []string{"-c", "sleep 5"}, Timeout: 50 * time.Millisecond}
	start := time.Now()
	_, err = r.Run(context.Background(), "slow", session(), nil)
	assert.ErrorIs(t, err, domain.CodeTaskFailed)
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestRunner_RegisterAll(t *testing.T) {
	skipWithoutShell(t)
	r := NewRunner(WithTasks(map[string]Config{
		"greet": {Command: "sh", Args: []string{"-c", `echo "hi $CONVENGINE_ARG_1"`}, Env: map[string]string{"LANG": "C"}},
	}))
	reg := registry.New()
	r.RegisterAll(reg)

	assert.Equal(t, []string{"greet"}, reg.Names())
	out, err := reg.Execute(context.Background(), "greet", session(), []string{"ada"})
	require.NoError(t, err)
	assert.Equal(t, "hi ada", out)
}

func TestLoadTasks(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "tasks.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(`
tasks:
  - name: quote
    command: ./quote
    args: ["--fast"]
    timeout: 5s
`), 0o600))

	tasks, err := LoadTasks(yamlPath)
	require.NoError(t, err)
	require.Contains(t, tasks, "quote")
	assert.Equal(t, []string{"--fast"}, tasks["quote"].Args)
	assert.Equal(t, 5*time.Second, tasks["quote"].Timeout)

	jsonPath := filepath.Join(dir, "tasks.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"tasks":[{"name":"a","command":"true"}]}`), 0o600))
	tasks, err = LoadTasks(jsonPath)
	require.NoError(t, err)
	assert.Len(t, tasks, 1)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("tasks:\n  - name: x\n"), 0o600))
	_, err = LoadTasks(bad)
	assert.ErrorContains(t, err, "name and command are required")

	_, err = LoadTasks(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
