package ports

import (
	"context"

	"github.com/aretw0/convengine/pkg/domain"
)

// StepInfo is the static metadata the scheduler orders steps by.
type StepInfo struct {
	// Name identifies the step; it must be unique within a pipeline.
	Name string `json:"name"`

	// Bootstrap marks the step that prepares the session. Exactly one per pipeline.
	Bootstrap bool `json:"bootstrap,omitempty"`

	// Terminal marks the step that always runs last. Exactly one per pipeline.
	Terminal bool `json:"terminal,omitempty"`

	// RequiresPriorState orders the step after the bootstrap step.
	RequiresPriorState bool `json:"requires_prior_state,omitempty"`

	// RunsBefore and RunsAfter name other steps this one must precede or follow.
	RunsBefore []string `json:"runs_before,omitempty"`
	RunsAfter  []string `json:"runs_after,omitempty"`
}

// Step is one unit of per-turn pipeline work.
type Step interface {
	Info() StepInfo
	Execute(ctx context.Context, s *domain.Session) (domain.StepResult, error)
}
