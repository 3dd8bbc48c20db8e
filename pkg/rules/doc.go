// Package rules evaluates prioritized condition and action rules against a
// turn's session.
//
// The Engine only dispatches: conditions are decided by ports.Matcher values
// keyed by rule type and effects are applied by ports.ActionHandler values
// keyed by action. The built-in matchers (EXACT, REGEX, CONTAINS, AGENT) and
// actions (SET_INTENT, SET_STATE, SET_INPUT_PARAM, SET_CONTEXT, SET_TASK) are
// registered explicitly by the host. Rule tables come from a ports.RuleSource
// such as StaticSource, FileSource or CachedSource.
package rules
