// Package steps provides the built-in pipeline steps of a conversation turn:
// loading the conversation, optional reset, input auditing, rule
// evaluation, persistence and the terminal timing guard.
package steps
