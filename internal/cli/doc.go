// Package cli holds the wiring shared by the convengine commands: building
// an engine and its backends from configuration, logging, signal handling
// and the HTTP server lifecycle.
package cli
