package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/aretw0/convengine/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const rulesYAML = `
rules:
  - id: greet
    type: CONTAINS
    pattern: hello
    action: SET_INTENT
    action_value: GREETING
    priority: 1
  - id: reply
    intent: GREETING
    type: AGENT
    action: SET_CONTEXT
    action_value: '{"response":"Hello!"}'
    priority: 2
  - id: off
    type: AGENT
    action: SET_STATE
    action_value: NEVER
    priority: 0
    enabled: false
`

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func writeRules(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(rulesYAML), 0o600))
	return path
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "convengine version")
}

func TestRulesCommands(t *testing.T) {
	path := writeRules(t)

	out, err := run(t, "rules", "validate", path)
	require.NoError(t, err)
	assert.Contains(t, out, "3 rules, 2 enabled")

	out, err = run(t, "rules", "ls", path)
	require.NoError(t, err)
	assert.Contains(t, out, "greet")
	assert.Contains(t, out, "GREETING/ANY")
	assert.NotContains(t, out, "NEVER")

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("rules:\n  - id: x\n"), 0o600))
	_, err = run(t, "rules", "validate", bad)
	assert.ErrorContains(t, err, "validation failed")
}

func TestTurnCommand(t *testing.T) {
	t.Chdir(t.TempDir())
	path := writeRules(t)

	out, err := run(t, "turn", "--rules", path, "--log-level", "error", "--json", "-p", "channel:web", "hello", "world")
	require.NoError(t, err)

	var res domain.EngineResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "GREETING", res.Intent)
	assert.Equal(t, "Hello!", res.Payload)
	assert.NotEmpty(t, res.ConversationID)
}

func TestMCPCommand_UnknownTransport(t *testing.T) {
	t.Chdir(t.TempDir())
	_, err := run(t, "mcp", "--rules", writeRules(t), "--transport", "carrier-pigeon")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown transport "carrier-pigeon"`)
}

func TestParseParams(t *testing.T) {
	params, err := parseParams([]string{"n:3", "vip", `{"lang":"en"}`})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"n": int64(3), "vip": true, "lang": "en"}, params)

	_, err = parseParams([]string{":x"})
	assert.Error(t, err)

	params, err = parseParams(nil)
	assert.NoError(t, err)
	assert.Nil(t, params)
}
