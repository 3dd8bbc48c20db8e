// Package http exposes the conversation engine over a JSON API built on chi.
//
// Routes:
//
//	POST /v1/turns                        process a turn (blank conversation_id starts one)
//	POST /v1/conversations/{id}/turns     process a turn for a conversation
//	GET  /v1/conversations/{id}/events    SSE stream of the conversation's turn results
//	GET  /v1/events                       SSE stream of rule table reloads
//	GET  /v1/pipeline                     compiled step order and metadata
//	GET  /v1/audit/stats                  audit pipeline counters
//	GET  /health, /info, /metrics
package http
