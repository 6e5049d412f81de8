// api/schemas/session.go
package schemas

import "time"

// EnvironmentState is the observable result of a browser action: a viewport
// capture plus the page address at the moment of capture. Immutable once
// produced.
type EnvironmentState struct {
	Screenshot []byte `json:"-"`
	URL        string `json:"url"`
}

// SessionState is the externally visible lifecycle state of a task session.
type SessionState string

const (
	StateRunning SessionState = "running"
	// StateAwaitingInput means the current goal finished and the loop is
	// blocked on a follow-up instruction.
	StateAwaitingInput SessionState = "awaiting_input"
	StateCompleted     SessionState = "completed"
	StateError         SessionState = "error"
	StateTerminated    SessionState = "terminated"
)

// EventType discriminates the outbound event stream of a session.
type EventType string

const (
	EventLog        EventType = "log"
	EventScreenshot EventType = "screenshot"
	EventState      EventType = "state"
	EventIteration  EventType = "iteration"
)

// Event is one entry in a session's outbound stream. Subscribers receive the
// full buffered history in order, then live events. Only the fields matching
// Type are populated.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	// EventLog
	Level   string `json:"level,omitempty"`
	Content string `json:"content,omitempty"`

	// EventScreenshot
	ImageBase64 string `json:"imageBase64,omitempty"`

	// EventState
	State SessionState `json:"state,omitempty"`

	// EventIteration
	Iteration *IterationRecord `json:"iteration,omitempty"`
}

// IterationRecord summarizes one agent loop turn for observers that want
// semantic progress rather than raw logs.
type IterationRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Thoughts  string    `json:"thoughts"`
	Commands  []Command `json:"commands"`
}
