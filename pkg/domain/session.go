package domain

import (
	"context"
	"strings"
	"time"
)

// Session is the mutable state of a single turn. It is created when a message
// arrives, passed through every step in order and discarded afterwards.
// A Session is not safe for concurrent use; steps of one turn run sequentially.
type Session struct {
	ConversationID string
	UserText       string

	// Intent and State are the resolved dialogue position.
	Intent string
	State  string

	// Context is the free-form, semi-structured document steps collaborate on.
	Context map[string]any

	// InputParams holds values extracted from the message or set by rules.
	InputParams map[string]any

	// Timings is append-only; the instrumented executor adds one entry per step.
	Timings []StepTiming

	// Result is set when a step stops the pipeline or prepares the turn response.
	Result *EngineResult

	// Conversation is the durable projection loaded by the bootstrap step.
	Conversation *Conversation

	StartedAt time.Time
}

// StepTiming records how a single step invocation went.
type StepTiming struct {
	Step      string        `json:"step"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
}

// NewSession creates an empty session for a turn.
func NewSession(conversationID, userText string) *Session {
	return &Session{
		ConversationID: conversationID,
		UserText:       userText,
		Context:        make(map[string]any),
		InputParams:    make(map[string]any),
		StartedAt:      time.Now(),
	}
}

// SetInputParam stores an input parameter.
func (s *Session) SetInputParam(key string, value any) {
	if s.InputParams == nil {
		s.InputParams = make(map[string]any)
	}
	s.InputParams[key] = value
}

// InputParam returns an input parameter and whether it was set.
func (s *Session) InputParam(key string) (any, bool) {
	v, ok := s.InputParams[key]
	return v, ok
}

// Lookup reads a dotted path (e.g. "order.items") from the context document.
func (s *Session) Lookup(path string) (any, bool) {
	var cur any = s.Context
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// SetPath writes a value at a dotted path in the context document, creating
// intermediate maps. A non-map value on the way is replaced.
func (s *Session) SetPath(path string, value any) {
	if s.Context == nil {
		s.Context = make(map[string]any)
	}
	parts := strings.Split(path, ".")
	cur := s.Context
	for _, part := range parts[:len(parts)-1] {
		next, ok := cur[part].(map[string]any)
		if !ok {
			next = make(map[string]any)
			cur[part] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = value
}

// AppendTiming adds a step timing record.
func (s *Session) AppendTiming(t StepTiming) {
	s.Timings = append(s.Timings, t)
}

// Reset clears the dialogue position and context, keeping turn identity.
func (s *Session) Reset() {
	s.Intent = ""
	s.State = ""
	s.Context = make(map[string]any)
}

// Meta is the small snapshot attached to audit payloads.
func (s *Session) Meta() map[string]any {
	return map[string]any{
		"intent": s.Intent,
		"state":  s.State,
	}
}

type sessionKey struct{}

// WithSession returns a context carrying the session of the running turn.
// Audit enrichment reads it to stamp events with the current intent and state.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// SessionFromContext returns the session attached by WithSession, if any.
func SessionFromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(*Session)
	return s, ok && s != nil
}
