package steps

import (
	"context"
	"log/slog"
	"maps"
	"time"

	"github.com/aretw0/convengine/pkg/domain"
	"github.com/aretw0/convengine/pkg/ports"
	"github.com/aretw0/convengine/pkg/rules"
)

// AuditUserInput records the incoming message.
type AuditUserInput struct {
	Auditor ports.Auditor
	Logger  *slog.Logger
}

func (*AuditUserInput) Info() ports.StepInfo {
	return ports.StepInfo{Name: NameAuditUserInput, RequiresPriorState: true}
}

func (st *AuditUserInput) Execute(ctx context.Context, s *domain.Session) (domain.StepResult, error) {
	params := make(map[string]any, len(s.InputParams))
	maps.Copy(params, s.InputParams)
	audit(ctx, st.Auditor, st.Logger, s, domain.StageUserInput, map[string]any{
		"text":        s.UserText,
		"inputParams": params,
	})
	return domain.Continue(), nil
}

// ApplyRules evaluates the current rule table against the session.
type ApplyRules struct {
	Source ports.RuleSource
	Engine *rules.Engine
	Logger *slog.Logger
}

func (*ApplyRules) Info() ports.StepInfo {
	return ports.StepInfo{
		Name:               NameApplyRules,
		RequiresPriorState: true,
		RunsAfter:          []string{NameAuditUserInput},
	}
}

func (st *ApplyRules) Execute(ctx context.Context, s *domain.Session) (domain.StepResult, error) {
	if st.Source == nil || st.Engine == nil {
		return domain.Continue(), nil
	}
	table, err := st.Source.Rules(ctx)
	if err != nil {
		return domain.Continue(), err
	}
	report, err := st.Engine.Apply(ctx, s, table)
	if err != nil {
		return domain.Continue(), err
	}
	logger(st.Logger).Debug("rules applied",
		"conversation_id", s.ConversationID,
		"applied", report.Applied,
		"passes", report.Passes,
		"intent", s.Intent,
		"state", s.State,
	)
	return domain.Continue(), nil
}

// PipelineEndGuard is the terminal step. It reports the turn's step timings
// and flushes audit events still buffered for the conversation.
type PipelineEndGuard struct {
	Auditor ports.Auditor
	Flusher Flusher
	Logger  *slog.Logger
	Now     func() time.Time
}

func (*PipelineEndGuard) Info() ports.StepInfo {
	return ports.StepInfo{Name: NamePipelineEndGuard, Terminal: true}
}

func (st *PipelineEndGuard) Execute(ctx context.Context, s *domain.Session) (domain.StepResult, error) {
	log := logger(st.Logger)
	total := clock(st.Now).Sub(s.StartedAt)

	steps := make([]map[string]any, 0, len(s.Timings))
	for _, t := range s.Timings {
		steps = append(steps, map[string]any{
			"step":       t.Step,
			"durationMs": t.Duration.Milliseconds(),
			"success":    t.Success,
		})
	}
	log.Info("turn completed",
		"conversation_id", s.ConversationID,
		"total_ms", total.Milliseconds(),
		"steps", len(s.Timings),
	)

	audit(ctx, st.Auditor, st.Logger, s, domain.StagePipelineTiming, map[string]any{
		"totalMs": total.Milliseconds(),
		"steps":   steps,
	})

	if st.Flusher != nil {
		if err := st.Flusher.FlushPending(ctx, s.ConversationID); err != nil {
			log.Warn("failed to flush pending audit events", "conversation_id", s.ConversationID, "error", err)
		}
	}
	return domain.Continue(), nil
}
