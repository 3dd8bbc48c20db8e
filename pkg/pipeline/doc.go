/*
Package pipeline compiles steps into a single execution order and runs it.

Compile orders steps with Kahn's algorithm over the constraints declared in
ports.StepInfo, breaking ties by step name. New compiles once and wraps every
step so each invocation emits STEP_ENTER, STEP_EXIT or STEP_ERROR audit
events, records a StepTiming on the session and calls registered hooks in
isolation: a failing hook is logged and audited as STEP_HOOK_ERROR but never
fails the turn.
*/
package pipeline
