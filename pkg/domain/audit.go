package domain

import "time"

// AuditEvent is a structured record of something that happened during a turn.
type AuditEvent struct {
	ConversationID string         `json:"conversation_id"`
	Stage          string         `json:"stage"`
	Payload        map[string]any `json:"payload"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Stage labels emitted by the engine.
const (
	StageStepEnter     = "STEP_ENTER"
	StageStepExit      = "STEP_EXIT"
	StageStepError     = "STEP_ERROR"
	StageStepHookError = "STEP_HOOK_ERROR"

	StageRuleMatch                 = "RULE_MATCH"
	StageRuleNoMatch               = "RULE_NO_MATCH"
	StageRuleApplied               = "RULE_APPLIED"
	StageRuleNotApplied            = "RULE_NOT_APPLIED"
	StageRuleActionMissing         = "RULE_ACTION_MISSING"
	StageRuleSkippedIntentMismatch = "RULE_SKIPPED_INTENT_MISMATCH"
	StageRuleSkippedStateMismatch  = "RULE_SKIPPED_STATE_MISMATCH"
	StageRulePassLimitReached      = "RULE_PASS_LIMIT_REACHED"

	StageSetIntent     = "SET_INTENT"
	StageSetState      = "SET_STATE"
	StageSetInputParam = "SET_INPUT_PARAM"
	StageSetContext    = "SET_CONTEXT"
	StageSetTask       = "SET_TASK"

	StageConversationCreated = "CONVERSATION_CREATED"
	StageConversationLoaded  = "CONVERSATION_LOADED"
	StageConversationReset   = "CONVERSATION_RESET"
	StageUserInput           = "USER_INPUT"
	StageEngineReturn        = "ENGINE_RETURN"
	StagePipelineTiming      = "PIPELINE_TIMING"

	StageEngineKnownFailure   = "ENGINE_KNOWN_FAILURE"
	StageEngineUnknownFailure = "ENGINE_UNKNOWN_FAILURE"
)
