// Package logging defines the structured logging edge the core depends on.
package logging

// Logger is the structured-logging capability the core components use.
// It intentionally exposes no sink-selection or formatting knobs: those
// belong to the collaborator that constructs a Logger, not to callers.
type Logger interface {
	// Infof logs a routine, operational event.
	Infof(format string, args ...any)
	// Warnf logs a per-frame or per-session failure that does not affect
	// the rest of the system.
	Warnf(format string, args ...any)
	// Errorf logs a failure that is about to become fatal to a task.
	Errorf(format string, args ...any)
	// Debugf logs diagnostic detail (e.g. keepalive RTT) off by default.
	Debugf(format string, args ...any)
}
