/*
Package domain contains the core data model of the conversation engine.

It defines the per-turn Session every pipeline step reads and mutates, the
durable Conversation projection persisted between turns, rules, audit events
and the typed errors the engine reports. This package is kept free of I/O so
that every other package can depend on it.

# Key Entities

  - Session: mutable state for one turn (intent, state, context, input params, timings).
  - Conversation: what survives between turns; loaded and saved by a ConversationStore.
  - StepResult: Continue, or Stop carrying the final EngineResult.
  - Rule: a prioritized condition and action entry evaluated by the rule engine.
  - AuditEvent: a structured record of something that happened during a turn.
*/
package domain
