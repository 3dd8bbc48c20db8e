/*
Package ports defines the capability interfaces the conversation engine consumes.

The engine core (scheduler, rule engine, audit pipeline) only talks to these
interfaces, so steps, hooks, matchers, action handlers, listeners and storage
backends can be supplied by the host application.

# Key Interfaces

  - Step and Hook: units of per-turn work and the observers wrapped around them.
  - Matcher and ActionHandler: pluggable condition evaluators and effects for rules.
  - AuditListener and Auditor: consumers and producers of audit events.
  - RuleSource: supplies the rule table for a turn.
  - ConversationStore and DistributedLocker: durable state and cross-instance locking.
*/
package ports
