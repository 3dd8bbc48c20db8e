package process

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/aretw0/convengine/internal/logging"
	"github.com/aretw0/convengine/pkg/domain"
	"github.com/aretw0/convengine/pkg/registry"
)

// EnvPrefix prefixes every variable passed to a task process.
const EnvPrefix = "CONVENGINE_"

// DefaultTimeout bounds a task run when its config sets none.
const DefaultTimeout = 30 * time.Second

// Runner runs allow-listed local processes as rule tasks. Only registered
// commands can run; rule arguments and session data reach the process as
// environment variables, never as command-line flags.
type Runner struct {
	tasks   map[string]Config
	baseDir string
	timeout time.Duration
	logger  *slog.Logger
}

// RunnerOption configures the runner.
type RunnerOption func(*Runner)

// WithTasks populates the allow-list from a loaded config.
func WithTasks(tasks map[string]Config) RunnerOption {
	return func(r *Runner) {
		for name, t := range tasks {
			t.Name = name
			r.tasks[name] = t
		}
	}
}

// WithBaseDir sets the working directory of executed processes.
func WithBaseDir(dir string) RunnerOption {
	return func(r *Runner) { r.baseDir = dir }
}

// WithTimeout sets the default per-run timeout.
func WithTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithLogger sets the runner logger.
func WithLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) { r.logger = logging.OrNop(l) }
}

// NewRunner creates a process runner.
func NewRunner(opts ...RunnerOption) *Runner {
	r := &Runner{
		tasks:   make(map[string]Config),
		timeout: DefaultTimeout,
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a trusted command to the allow-list.
func (r *Runner) Register(name, command string, args ...string) {
	r.tasks[name] = Config{Name: name, Command: command, Args: args}
}

// Names returns the allow-listed task names, sorted.
func (r *Runner) Names() []string {
	names := make([]string, 0, len(r.tasks))
	for name := range r.tasks {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// RegisterAll exposes every allow-listed process as a task of reg.
func (r *Runner) RegisterAll(reg *registry.Registry) {
	for _, name := range r.Names() {
		reg.Register(name, func(ctx context.Context, s *domain.Session, args []string) (any, error) {
			return r.Run(ctx, name, s, args)
		})
	}
}

// Run executes the named process. Stdout is the task result: parsed JSON
// when it looks like an object or array, otherwise the trimmed text.
// A non-zero exit is reported as a TASK_FAILED engine error.
func (r *Runner) Run(ctx context.Context, name string, s *domain.Session, args []string) (any, error) {
	task, ok := r.tasks[name]
	if !ok {
		return nil, domain.NewEngineError(domain.CodeUnknownTask,
			fmt.Sprintf("process task not registered: %s", name),
			map[string]any{"task": name})
	}

	timeout := r.timeout
	if task.Timeout > 0 {
		timeout = task.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, task.Command, task.Args...)
	cmd.Dir = r.baseDir
	cmd.WaitDelay = time.Second
	cmd.Env = append(inherited(cmd.Environ()), environment(task, s, args)...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	r.logger.Debug("task process finished",
		"task", name,
		"duration", time.Since(start),
		"error", err,
	)
	if err != nil {
		meta := map[string]any{
			"task":   name,
			"stderr": strings.TrimSpace(stderr.String()),
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			meta["exitCode"] = exitErr.ExitCode()
		}
		if ctx.Err() != nil {
			meta["timeout"] = timeout.String()
		}
		return nil, domain.NewEngineError(domain.CodeTaskFailed,
			fmt.Sprintf("task %s failed: %v", name, err), meta)
	}
	return decodeOutput(stdout.String()), nil
}

// inherited drops the parent's CONVENGINE_ variables. They carry the engine's
// own configuration, store keys included, and would shadow the task contract.
func inherited(env []string) []string {
	return slices.DeleteFunc(env, func(kv string) bool {
		return strings.HasPrefix(kv, EnvPrefix)
	})
}

// environment builds the variables a task process sees:
//
//	CONVENGINE_CONVERSATION_ID, CONVENGINE_INTENT, CONVENGINE_STATE, CONVENGINE_USER_TEXT
//	CONVENGINE_ARGS (comma-joined), CONVENGINE_ARG_1..n
//	CONVENGINE_PARAM_<KEY> for each input parameter
//	CONVENGINE_CONTEXT (JSON context document)
func environment(task Config, s *domain.Session, args []string) []string {
	var env []string
	for k, v := range task.Env {
		env = append(env, k+"="+v)
	}
	env = append(env,
		EnvPrefix+"ARGS="+strings.Join(args, ","),
	)
	for i, a := range args {
		env = append(env, EnvPrefix+"ARG_"+strconv.Itoa(i+1)+"="+a)
	}
	if s == nil {
		return env
	}

	env = append(env,
		EnvPrefix+"CONVERSATION_ID="+s.ConversationID,
		EnvPrefix+"INTENT="+s.Intent,
		EnvPrefix+"STATE="+s.State,
		EnvPrefix+"USER_TEXT="+s.UserText,
	)
	for k, v := range s.InputParams {
		env = append(env, EnvPrefix+"PARAM_"+strings.ToUpper(k)+"="+stringify(v))
	}
	if b, err := json.Marshal(s.Context); err == nil {
		env = append(env, EnvPrefix+"CONTEXT="+string(b))
	}
	return env
}

func stringify(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case int, int64, float64, bool:
		return fmt.Sprint(v)
	default:
		if b, err := json.Marshal(v); err == nil {
			return string(b)
		}
		return fmt.Sprint(v)
	}
}

func decodeOutput(out string) any {
	trimmed := strings.TrimSpace(out)
	if (strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}")) ||
		(strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]")) {
		var v any
		if err := json.Unmarshal([]byte(trimmed), &v); err == nil {
			return v
		}
	}
	return trimmed
}
