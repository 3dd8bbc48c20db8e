// Package mcp exposes the conversation engine as a Model Context Protocol
// server, so agents can hold conversations through tools.
//
// Tools:
//
//	process_turn       run one turn (text, optional conversation_id and input_params)
//	describe_pipeline  step order and ordering constraints
//	audit_stats        audit pipeline counters
//
// The pipeline description is also published as the convengine://pipeline
// resource. Transports are stdio and SSE.
package mcp
