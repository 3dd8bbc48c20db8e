package domain

import (
	"maps"
	"time"

	"github.com/mitchellh/copystructure"
)

// Conversation is the durable projection of a conversation, persisted between turns.
type Conversation struct {
	ID           string         `json:"id"`
	Intent       string         `json:"intent,omitempty"`
	State        string         `json:"state,omitempty"`
	Context      map[string]any `json:"context,omitempty"`
	LastUserText string         `json:"last_user_text,omitempty"`
	Turns        int            `json:"turns"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// NewConversation creates a fresh conversation.
func NewConversation(id string, now time.Time) *Conversation {
	return &Conversation{
		ID:        id,
		Context:   make(map[string]any),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a copy that shares no context data with c.
func (c *Conversation) Clone() *Conversation {
	cp := *c
	cp.Context = CopyDocument(c.Context)
	return &cp
}

// Hydrate copies the durable dialogue position into the session. The session
// gets its own context document, so a failed turn leaves c untouched.
func (c *Conversation) Hydrate(s *Session) {
	s.Intent = c.Intent
	s.State = c.State
	s.Context = CopyDocument(c.Context)
	s.Conversation = c
}

// Absorb copies the session outcome back into the conversation.
func (c *Conversation) Absorb(s *Session, now time.Time) {
	c.Intent = s.Intent
	c.State = s.State
	c.Context = CopyDocument(s.Context)
	c.LastUserText = s.UserText
	c.Turns++
	c.UpdatedAt = now
}

// CopyDocument deep-copies a context document: nested maps and slices are
// duplicated, never shared. A nil document yields an empty one.
func CopyDocument(doc map[string]any) map[string]any {
	if doc == nil {
		return make(map[string]any)
	}
	cp, err := copystructure.Copy(doc)
	if err != nil {
		// Values copystructure cannot walk (funcs, channels) stay shared.
		out := make(map[string]any, len(doc))
		maps.Copy(out, doc)
		return out
	}
	return cp.(map[string]any)
}
