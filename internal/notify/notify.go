// Package notify surfaces transcript file changes as path+timestamp events.
package notify

import "time"

// Event is one observed change to a tracked transcript.
type Event struct {
	Path string
	Time time.Time
}

// Notifier is the change-notification collaborator the daemon consumes.
type Notifier interface {
	// Events delivers change events until Close.
	Events() <-chan Event
	// Errors delivers non-fatal watcher errors.
	Errors() <-chan error
	Close() error
}
