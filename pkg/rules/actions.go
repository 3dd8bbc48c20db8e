package rules

import (
	"context"
	"log/slog"
	"strings"

	"github.com/aretw0/convengine/internal/logging"
	"github.com/aretw0/convengine/pkg/domain"
	"github.com/aretw0/convengine/pkg/ports"
	"github.com/aretw0/convengine/pkg/registry"
)

// Actions served by the built-in handlers.
const (
	ActionSetIntent     = "SET_INTENT"
	ActionSetState      = "SET_STATE"
	ActionSetInputParam = "SET_INPUT_PARAM"
	ActionSetContext    = "SET_CONTEXT"
	ActionSetTask       = "SET_TASK"
)

// DefaultActions returns the built-in action handlers. SET_TASK is only
// included when tasks is non-nil. Audit events the auditor rejects are logged
// to logger at warn level.
func DefaultActions(tasks *registry.Registry, auditor ports.Auditor, logger *slog.Logger) []ports.ActionHandler {
	em := Emitter{Auditor: auditor, Logger: logger}
	out := []ports.ActionHandler{
		SetIntent{em},
		SetState{em},
		SetInputParam{em},
		SetContext{em},
	}
	if tasks != nil {
		out = append(out, SetTask{Tasks: tasks, Emitter: em})
	}
	return out
}

// Emitter audits on behalf of an action. A nil Auditor discards events.
type Emitter struct {
	Auditor ports.Auditor
	Logger  *slog.Logger
}

func (em Emitter) emit(ctx context.Context, s *domain.Session, stage string, payload map[string]any) {
	if em.Auditor == nil {
		return
	}
	if err := em.Auditor.Audit(ctx, stage, s.ConversationID, payload); err != nil {
		logging.OrNop(em.Logger).Warn("audit event rejected",
			"stage", stage,
			"conversation_id", s.ConversationID,
			"error", err,
		)
	}
}

// SetIntent sets the session intent to the action value.
type SetIntent struct{ Emitter }

func (SetIntent) Action() string { return ActionSetIntent }

func (a SetIntent) Apply(ctx context.Context, s *domain.Session, r domain.Rule) error {
	previous := s.Intent
	s.Intent = strings.TrimSpace(r.ActionValue)
	a.emit(ctx, s, domain.StageSetIntent, map[string]any{
		"ruleId":   r.ID,
		"previous": previous,
		"intent":   s.Intent,
	})
	return nil
}

// SetState sets the session state to the action value.
type SetState struct{ Emitter }

func (SetState) Action() string { return ActionSetState }

func (a SetState) Apply(ctx context.Context, s *domain.Session, r domain.Rule) error {
	previous := s.State
	s.State = strings.TrimSpace(r.ActionValue)
	a.emit(ctx, s, domain.StageSetState, map[string]any{
		"ruleId":   r.ID,
		"previous": previous,
		"state":    s.State,
	})
	return nil
}

// SetInputParam writes input parameters decoded by ParseAssignments.
type SetInputParam struct{ Emitter }

func (SetInputParam) Action() string { return ActionSetInputParam }

func (a SetInputParam) Apply(ctx context.Context, s *domain.Session, r domain.Rule) error {
	assignments, err := ParseAssignments(r.ActionValue)
	if err != nil {
		return err
	}
	params := make(map[string]any, len(assignments))
	for _, as := range assignments {
		s.SetInputParam(as.Key, as.Value)
		params[as.Key] = as.Value
	}
	a.emit(ctx, s, domain.StageSetInputParam, map[string]any{
		"ruleId": r.ID,
		"params": params,
	})
	return nil
}

// SetContext writes values into the context document. Keys are dotted paths.
type SetContext struct{ Emitter }

func (SetContext) Action() string { return ActionSetContext }

func (a SetContext) Apply(ctx context.Context, s *domain.Session, r domain.Rule) error {
	assignments, err := ParseAssignments(r.ActionValue)
	if err != nil {
		return err
	}
	paths := make([]string, 0, len(assignments))
	for _, as := range assignments {
		s.SetPath(as.Key, as.Value)
		paths = append(paths, as.Key)
	}
	a.emit(ctx, s, domain.StageSetContext, map[string]any{
		"ruleId": r.ID,
		"paths":  paths,
	})
	return nil
}

// SetTask runs a registered task. The action value is "name" or
// "name:arg1,arg2". A non-nil task result is stored in the context under
// "tasks.<name>".
type SetTask struct {
	Emitter
	Tasks *registry.Registry
}

func (SetTask) Action() string { return ActionSetTask }

func (a SetTask) Apply(ctx context.Context, s *domain.Session, r domain.Rule) error {
	name, args := parseTask(r.ActionValue)
	if name == "" {
		return invalidValue(r.ActionValue, "missing task name")
	}
	out, err := a.Tasks.Execute(ctx, name, s, args)
	if err != nil {
		return err
	}
	if out != nil {
		s.SetPath("tasks."+name, out)
	}
	a.emit(ctx, s, domain.StageSetTask, map[string]any{
		"ruleId": r.ID,
		"task":   name,
		"args":   args,
	})
	return nil
}

func parseTask(value string) (string, []string) {
	name, rest, found := strings.Cut(strings.TrimSpace(value), ":")
	name = strings.TrimSpace(name)
	if !found {
		return name, nil
	}
	var args []string
	for _, arg := range strings.Split(rest, ",") {
		if arg = strings.TrimSpace(arg); arg != "" {
			args = append(args, arg)
		}
	}
	return name, args
}
