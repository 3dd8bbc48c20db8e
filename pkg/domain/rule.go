package domain

import "strings"

// AnyScope is the wildcard for a rule's intent or state scope.
const AnyScope = "ANY"

// Rule is a prioritized condition and action entry. Rules are immutable once
// loaded for a turn.
type Rule struct {
	ID          string `json:"id" yaml:"id"`
	Intent      string `json:"intent,omitempty" yaml:"intent,omitempty"`
	State       string `json:"state,omitempty" yaml:"state,omitempty"`
	Type        string `json:"type" yaml:"type"`
	Pattern     string `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	Action      string `json:"action" yaml:"action"`
	ActionValue string `json:"action_value,omitempty" yaml:"action_value,omitempty"`
	Priority    int    `json:"priority" yaml:"priority"`
	Enabled     bool   `json:"enabled" yaml:"enabled"`
}

// MatchesIntent reports whether the rule's intent scope admits the given intent.
func (r Rule) MatchesIntent(intent string) bool {
	return scopeMatches(r.Intent, intent)
}

// MatchesState reports whether the rule's state scope admits the given state.
func (r Rule) MatchesState(state string) bool {
	return scopeMatches(r.State, state)
}

func scopeMatches(scope, value string) bool {
	scope = strings.TrimSpace(scope)
	if scope == "" || strings.EqualFold(scope, AnyScope) {
		return true
	}
	return strings.EqualFold(scope, strings.TrimSpace(value))
}
