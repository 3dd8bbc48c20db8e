package steps

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aretw0/convengine/pkg/domain"
	"github.com/aretw0/convengine/pkg/ports"
	"github.com/aretw0/convengine/pkg/session"
)

// LoadConversation is the bootstrap step. It loads the durable conversation,
// creating it on first contact, and hydrates the session from it.
type LoadConversation struct {
	Store   ports.ConversationStore
	Auditor ports.Auditor
	Logger  *slog.Logger
	Now     func() time.Time
}

func (*LoadConversation) Info() ports.StepInfo {
	return ports.StepInfo{Name: NameLoadConversation, Bootstrap: true}
}

func (st *LoadConversation) Execute(ctx context.Context, s *domain.Session) (domain.StepResult, error) {
	conv, created, err := session.LoadOrCreate(ctx, st.Store, s.ConversationID, clock(st.Now))
	if err != nil {
		return domain.Continue(), err
	}
	conv.Hydrate(s)

	stage := domain.StageConversationLoaded
	if created {
		stage = domain.StageConversationCreated
	}
	audit(ctx, st.Auditor, st.Logger, s, stage, map[string]any{
		"intent": conv.Intent,
		"state":  conv.State,
		"turns":  conv.Turns,
	})
	return domain.Continue(), nil
}

// ResetConversation clears the dialogue position when the user asks for it,
// either with the "reset" input parameter or the "/reset" command.
type ResetConversation struct {
	Auditor ports.Auditor
	Logger  *slog.Logger
}

func (*ResetConversation) Info() ports.StepInfo {
	return ports.StepInfo{
		Name:               NameResetConversation,
		RequiresPriorState: true,
		RunsBefore:         []string{NameApplyRules},
	}
}

func (st *ResetConversation) Execute(ctx context.Context, s *domain.Session) (domain.StepResult, error) {
	if !resetRequested(s) {
		return domain.Continue(), nil
	}
	previous := s.Meta()
	s.Reset()
	audit(ctx, st.Auditor, st.Logger, s, domain.StageConversationReset, map[string]any{
		"previous": previous,
	})
	return domain.Continue(), nil
}

func resetRequested(s *domain.Session) bool {
	if strings.EqualFold(strings.TrimSpace(s.UserText), "/reset") {
		return true
	}
	v, ok := s.InputParam("reset")
	if !ok {
		return false
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return strings.EqualFold(strings.TrimSpace(t), "true")
	default:
		return false
	}
}

// PersistConversation writes the session back to the store and prepares the
// turn result. The payload is the context value at "response", if any.
type PersistConversation struct {
	Store   ports.ConversationStore
	Auditor ports.Auditor
	Logger  *slog.Logger
	Now     func() time.Time
}

func (*PersistConversation) Info() ports.StepInfo {
	return ports.StepInfo{
		Name:               NamePersistConversation,
		RequiresPriorState: true,
		RunsAfter:          []string{NameApplyRules},
	}
}

func (st *PersistConversation) Execute(ctx context.Context, s *domain.Session) (domain.StepResult, error) {
	now := clock(st.Now)
	conv := s.Conversation
	if conv == nil {
		conv = domain.NewConversation(s.ConversationID, now)
	}
	conv.Absorb(s, now)
	if err := st.Store.Save(ctx, conv); err != nil {
		return domain.Continue(), fmt.Errorf("failed to persist conversation: %w", err)
	}
	s.Conversation = conv

	payload, _ := s.Lookup("response")
	s.Result = domain.ResultFromSession(s, payload)

	audit(ctx, st.Auditor, st.Logger, s, domain.StageEngineReturn, map[string]any{
		"intent":  s.Intent,
		"state":   s.State,
		"turns":   conv.Turns,
		"payload": payload,
	})
	return domain.Continue(), nil
}
