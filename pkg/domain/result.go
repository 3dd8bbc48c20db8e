package domain

// Outcome tags how a step finished.
type Outcome string

const (
	OutcomeContinue Outcome = "CONTINUE"
	OutcomeStop     Outcome = "STOP"
)

// EngineResult is what a turn returns to its caller. It exposes the dialogue
// position and the payload only; the context document stays internal and is
// read through the conversation store.
type EngineResult struct {
	ConversationID string `json:"conversation_id"`
	Intent         string `json:"intent,omitempty"`
	State          string `json:"state,omitempty"`
	Payload        any    `json:"payload,omitempty"`
}

// StepResult tells the executor whether to run the next step.
// The zero value means Continue.
type StepResult struct {
	stop   bool
	result *EngineResult
}

// Continue proceeds to the next step.
func Continue() StepResult { return StepResult{} }

// Stop short-circuits the remaining steps and carries the final output.
func Stop(result *EngineResult) StepResult {
	return StepResult{stop: true, result: result}
}

// Stopped reports whether the pipeline should end after this step.
func (r StepResult) Stopped() bool { return r.stop }

// Result is the final output carried by Stop, nil for Continue.
func (r StepResult) Result() *EngineResult { return r.result }

// Outcome returns the tag used in STEP_EXIT audit payloads.
func (r StepResult) Outcome() Outcome {
	if r.stop {
		return OutcomeStop
	}
	return OutcomeContinue
}

// ResultFromSession builds an EngineResult snapshot of the session.
func ResultFromSession(s *Session, payload any) *EngineResult {
	return &EngineResult{
		ConversationID: s.ConversationID,
		Intent:         s.Intent,
		State:          s.State,
		Payload:        payload,
	}
}
