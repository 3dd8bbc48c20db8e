package rules

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/aretw0/convengine/internal/logging"
	"github.com/aretw0/convengine/pkg/domain"
	"github.com/aretw0/convengine/pkg/ports"
)

// Engine evaluates a rule table against a session. Matchers and action
// handlers are keyed by upper-cased identifier and never change after New, so
// one Engine serves concurrent turns.
type Engine struct {
	matchers  map[string]ports.Matcher
	actions   map[string]ports.ActionHandler
	auditor   ports.Auditor
	logger    *slog.Logger
	maxPasses int
}

// Option configures an Engine.
type Option func(*Engine)

// WithMatchers registers matchers. A later matcher for the same type wins.
func WithMatchers(ms ...ports.Matcher) Option {
	return func(e *Engine) {
		for _, m := range ms {
			e.matchers[normalize(m.Type())] = m
		}
	}
}

// WithActions registers action handlers. A later handler for the same action wins.
func WithActions(hs ...ports.ActionHandler) Option {
	return func(e *Engine) {
		for _, h := range hs {
			e.actions[normalize(h.Action())] = h
		}
	}
}

// WithAuditor sets where rule decisions are audited.
func WithAuditor(a ports.Auditor) Option {
	return func(e *Engine) {
		if a != nil {
			e.auditor = a
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logging.OrNop(l)
	}
}

// WithMaxPasses lets the table be evaluated again when an applied rule changed
// the intent or state, up to n passes in total. Values below 1 mean 1.
func WithMaxPasses(n int) Option {
	return func(e *Engine) {
		e.maxPasses = max(n, 1)
	}
}

// New creates a rule engine. Without WithMatchers/WithActions it knows no rule types.
func New(opts ...Option) *Engine {
	e := &Engine{
		matchers:  make(map[string]ports.Matcher),
		actions:   make(map[string]ports.ActionHandler),
		auditor:   ports.NopAuditor{},
		logger:    logging.NewNop(),
		maxPasses: 1,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Report summarizes one Apply call.
type Report struct {
	// Applied lists rule IDs in the order their actions ran.
	Applied []string
	Passes  int
}

// Apply evaluates the enabled rules of table in ascending priority, keeping
// source order for equal priorities. A rule whose scope does not admit the
// session, whose type has no matcher, or whose matcher declines is skipped and
// audited. A matched rule without a handler for its action is a no-op.
// Handler errors abort evaluation and are returned.
//
// Another pass runs while some applied rule changed the intent or state, even
// when a later rule of the same pass restored it. When no rule passed the scope
// checks in any pass, RULE_NO_MATCH is audited once.
func (e *Engine) Apply(ctx context.Context, s *domain.Session, table []domain.Rule) (Report, error) {
	ordered := Order(table)
	var (
		report    Report
		evaluated bool
	)
	defer func() {
		if !evaluated {
			e.audit(ctx, s, domain.StageRuleNoMatch, map[string]any{
				"intent": s.Intent,
				"state":  s.State,
			})
		}
	}()

	for pass := 1; pass <= e.maxPasses; pass++ {
		report.Passes = pass

		res, err := e.pass(ctx, s, ordered, pass, &report)
		evaluated = evaluated || res.evaluated
		if err != nil {
			return report, err
		}
		if !res.changed {
			return report, nil
		}
	}

	if e.maxPasses > 1 {
		e.audit(ctx, s, domain.StageRulePassLimitReached, map[string]any{
			"maxPasses": e.maxPasses,
			"intent":    s.Intent,
			"state":     s.State,
		})
	}
	return report, nil
}

type passResult struct {
	evaluated bool
	changed   bool
}

func (e *Engine) pass(ctx context.Context, s *domain.Session, ordered []domain.Rule, pass int, report *Report) (passResult, error) {
	var res passResult
	for _, r := range ordered {
		if !r.MatchesIntent(s.Intent) {
			e.audit(ctx, s, domain.StageRuleSkippedIntentMismatch, map[string]any{
				"ruleId":        r.ID,
				"ruleIntent":    r.Intent,
				"sessionIntent": s.Intent,
			})
			continue
		}
		if !r.MatchesState(s.State) {
			e.audit(ctx, s, domain.StageRuleSkippedStateMismatch, map[string]any{
				"ruleId":       r.ID,
				"ruleState":    r.State,
				"sessionState": s.State,
			})
			continue
		}
		res.evaluated = true

		m, ok := e.matchers[normalize(r.Type)]
		if !ok {
			e.audit(ctx, s, domain.StageRuleActionMissing, rulePayload(r, s))
			continue
		}
		if !m.Match(s, r) {
			e.audit(ctx, s, domain.StageRuleNotApplied, rulePayload(r, s))
			continue
		}

		matched := rulePayload(r, s)
		matched["state"] = s.State
		matched["pass"] = pass
		e.audit(ctx, s, domain.StageRuleMatch, matched)

		h, ok := e.actions[normalize(r.Action)]
		if !ok {
			e.logger.Debug("rule matched without an action handler",
				"rule_id", r.ID,
				"action", r.Action,
			)
			continue
		}
		intent, state := s.Intent, s.State
		if err := h.Apply(ctx, s, r); err != nil {
			return res, fmt.Errorf("rule %s action %s: %w", r.ID, r.Action, err)
		}
		if s.Intent != intent || s.State != state {
			res.changed = true
		}

		report.Applied = append(report.Applied, r.ID)
		payload := rulePayload(r, s)
		payload["pass"] = pass
		e.audit(ctx, s, domain.StageRuleApplied, payload)
	}
	return res, nil
}

func (e *Engine) audit(ctx context.Context, s *domain.Session, stage string, payload map[string]any) {
	if err := e.auditor.Audit(ctx, stage, s.ConversationID, payload); err != nil {
		e.logger.Warn("audit event rejected", "stage", stage, "error", err)
	}
}

func rulePayload(r domain.Rule, s *domain.Session) map[string]any {
	return map[string]any{
		"ruleId":      r.ID,
		"intent":      s.Intent,
		"type":        r.Type,
		"pattern":     r.Pattern,
		"action":      r.Action,
		"actionValue": r.ActionValue,
	}
}

// Order returns the enabled rules of table sorted by ascending priority,
// stable for equal priorities. The input is not modified.
func Order(table []domain.Rule) []domain.Rule {
	out := make([]domain.Rule, 0, len(table))
	for _, r := range table {
		if r.Enabled {
			out = append(out, r)
		}
	}
	slices.SortStableFunc(out, func(a, b domain.Rule) int {
		return cmp.Compare(a.Priority, b.Priority)
	})
	return out
}

func normalize(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}
