package ports

import (
	"context"

	"github.com/aretw0/convengine/pkg/domain"
)

// Turn is one inbound user message.
type Turn struct {
	ConversationID string         `json:"conversation_id"`
	Text           string         `json:"text"`
	InputParams    map[string]any `json:"input_params,omitempty"`
}

// TurnProcessor is the surface adapters (HTTP, CLI) drive the engine through.
type TurnProcessor interface {
	Process(ctx context.Context, turn Turn) (*domain.EngineResult, error)

	// Order returns the compiled step names.
	Order() []string
}
