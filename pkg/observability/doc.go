/*
Package observability provides step hooks for monitoring the engine.

LoggingHook writes structured debug records around every step and
MetricsHook exports step latency and failures to Prometheus. Both plug into
pipeline.WithHooks and never interrupt a turn.
*/
package observability
