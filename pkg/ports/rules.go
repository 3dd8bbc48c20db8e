package ports

import (
	"context"

	"github.com/aretw0/convengine/pkg/domain"
)

// Matcher decides whether a rule's condition holds for the session.
type Matcher interface {
	// Type is the rule type this matcher serves, e.g. "REGEX".
	Type() string
	Match(s *domain.Session, rule domain.Rule) bool
}

// ActionHandler applies a matched rule's effect to the session.
type ActionHandler interface {
	// Action is the rule action this handler serves, e.g. "SET_INTENT".
	Action() string
	Apply(ctx context.Context, s *domain.Session, rule domain.Rule) error
}

// RuleSource supplies the rule table evaluated for a turn.
type RuleSource interface {
	Rules(ctx context.Context) ([]domain.Rule, error)
}

// Watchable is implemented by sources that can notify about backend changes.
type Watchable interface {
	// Watch returns a channel signaled after the source reloaded its content.
	Watch(ctx context.Context) (<-chan struct{}, error)
}
