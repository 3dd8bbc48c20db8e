package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/convengine/pkg/domain"
	"github.com/aretw0/convengine/pkg/ports"
)

const (
	phaseBefore  = "beforeStep"
	phaseAfter   = "afterStep"
	phaseOnError = "onStepError"
)

// instrumentedStep wraps a step with timing, hook callbacks and audit events.
type instrumentedStep struct {
	step    ports.Step
	info    ports.StepInfo
	class   string
	hooks   []ports.Hook
	auditor ports.Auditor
	logger  *slog.Logger
	now     func() time.Time
}

func (p *Pipeline) instrument(st ports.Step) *instrumentedStep {
	return &instrumentedStep{
		step:    st,
		info:    st.Info(),
		class:   fmt.Sprintf("%T", st),
		hooks:   p.hooks,
		auditor: p.auditor,
		logger:  p.logger,
		now:     p.now,
	}
}

func (st *instrumentedStep) Info() ports.StepInfo { return st.info }

func (st *instrumentedStep) Execute(ctx context.Context, s *domain.Session) (domain.StepResult, error) {
	ctx = domain.WithSession(ctx, s)
	name := st.info.Name

	st.audit(ctx, s, domain.StageStepEnter, map[string]any{
		"step":      name,
		"stepClass": st.class,
		"_meta":     s.Meta(),
	})
	st.runHooks(ctx, s, phaseBefore, func(h ports.Hook) error {
		return h.BeforeStep(ctx, name, s)
	})

	start := st.now()
	result, err := st.call(ctx, s)
	elapsed := st.now().Sub(start)

	timing := domain.StepTiming{
		Step:      name,
		StartedAt: start,
		Duration:  elapsed,
		Success:   err == nil,
	}

	if err != nil {
		timing.Error = fmt.Sprintf("%T: %v", err, err)
		s.AppendTiming(timing)

		st.runHooks(ctx, s, phaseOnError, func(h ports.Hook) error {
			return h.OnStepError(ctx, name, s, err)
		})

		payload := map[string]any{
			"step":         name,
			"stepClass":    st.class,
			"durationMs":   elapsed.Milliseconds(),
			"errorType":    fmt.Sprintf("%T", err),
			"errorMessage": err.Error(),
		}
		var engineErr *domain.EngineError
		if errors.As(err, &engineErr) {
			meta := map[string]any{"code": string(engineErr.Code)}
			for k, v := range engineErr.Meta {
				meta[k] = v
			}
			payload["_errorMeta"] = meta
		}
		st.audit(ctx, s, domain.StageStepError, payload)

		return result, fmt.Errorf("step %s: %w", name, err)
	}

	s.AppendTiming(timing)
	st.runHooks(ctx, s, phaseAfter, func(h ports.Hook) error {
		return h.AfterStep(ctx, name, s, result)
	})
	st.audit(ctx, s, domain.StageStepExit, map[string]any{
		"step":       name,
		"stepClass":  st.class,
		"outcome":    string(result.Outcome()),
		"durationMs": elapsed.Milliseconds(),
	})
	return result, nil
}

// call runs the wrapped step, converting a panic into an EngineError so the
// failure is recorded like any other step error.
func (st *instrumentedStep) call(ctx context.Context, s *domain.Session) (result domain.StepResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = domain.NewEngineError(domain.CodeStepPanicked,
				fmt.Sprintf("step %s panicked: %v", st.info.Name, r),
				map[string]any{"panic": fmt.Sprint(r)})
		}
	}()
	return st.step.Execute(ctx, s)
}

func (st *instrumentedStep) runHooks(ctx context.Context, s *domain.Session, phase string, fn func(ports.Hook) error) {
	for _, h := range st.hooks {
		if !st.supports(h, s) {
			continue
		}
		if err := st.safeHook(fn, h); err != nil {
			st.logger.Warn("step hook failed",
				"step", st.info.Name,
				"phase", phase,
				"hook", fmt.Sprintf("%T", h),
				"error", err,
			)
			st.audit(ctx, s, domain.StageStepHookError, map[string]any{
				"step":         st.info.Name,
				"phase":        phase,
				"hookClass":    fmt.Sprintf("%T", h),
				"errorType":    fmt.Sprintf("%T", err),
				"errorMessage": err.Error(),
			})
		}
	}
}

func (st *instrumentedStep) supports(h ports.Hook, s *domain.Session) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			st.logger.Warn("step hook Supports panicked", "step", st.info.Name, "hook", fmt.Sprintf("%T", h), "panic", r)
			ok = false
		}
	}()
	return h.Supports(st.info.Name, s)
}

func (st *instrumentedStep) safeHook(fn func(ports.Hook) error, h ports.Hook) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("hook panicked: %v", r)
		}
	}()
	return fn(h)
}

// audit never fails the step; a rejected event (e.g. a full ABORT queue) is only logged.
func (st *instrumentedStep) audit(ctx context.Context, s *domain.Session, stage string, payload map[string]any) {
	if err := st.auditor.Audit(ctx, stage, s.ConversationID, payload); err != nil {
		st.logger.Warn("audit event rejected",
			"stage", stage,
			"conversation_id", s.ConversationID,
			"error", err,
		)
	}
}
