// Package audit records engine events. A Service admits stages through
// level, pattern and rate gates, enriches payloads with turn metadata,
// persists them immediately or in deferred batches, and fans them out to
// listeners synchronously or through a bounded worker pool.
package audit
