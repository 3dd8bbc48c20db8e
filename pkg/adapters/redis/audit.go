package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aretw0/convengine/pkg/domain"
	backend "github.com/redis/go-redis/v9"
)

// StreamPublisher is an audit listener that appends every event to a Redis
// stream so other services can tail the engine's audit trail.
type StreamPublisher struct {
	client *backend.Client
	stream string
	maxLen int64
}

// NewStreamPublisher creates a publisher. maxLen caps the stream length
// approximately; zero leaves it unbounded.
func NewStreamPublisher(client *backend.Client, stream string, maxLen int64) *StreamPublisher {
	return &StreamPublisher{client: client, stream: stream, maxLen: maxLen}
}

// OnAudit implements ports.AuditListener.
func (p *StreamPublisher) OnAudit(ctx context.Context, e domain.AuditEvent) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal audit payload: %w", err)
	}
	args := &backend.XAddArgs{
		Stream: p.stream,
		Values: map[string]any{
			"conversation_id": e.ConversationID,
			"stage":           e.Stage,
			"payload":         string(payload),
			"created_at":      e.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	return p.client.XAdd(ctx, args).Err()
}
