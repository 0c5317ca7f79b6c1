package domain

import "errors"

// StreamID identifies a stream session for the lifetime of the process.
type StreamID string

// ContentID is the lower-case hex info-hash of the transferred content.
// At most one live session exists per ContentID.
type ContentID string

// StreamStatus is the lifecycle state of a stream session.
type StreamStatus string

const (
	StatusInitializing StreamStatus = "initializing" // Engine started, no metadata yet.
	StatusStreaming    StreamStatus = "streaming"    // Metadata known, bytes arriving.
	StatusCompleted    StreamStatus = "completed"    // All bytes downloaded, cleanup scheduled.
	StatusStopped      StreamStatus = "stopped"      // Destroyed.
)

var ErrInvalidTransition = errors.New("invalid state transition")

// validTransitions defines the adjacency list of allowed state transitions.
var validTransitions = map[StreamStatus][]StreamStatus{
	StatusInitializing: {StatusStreaming, StatusCompleted, StatusStopped},
	StatusStreaming:    {StatusCompleted, StatusStopped},
	StatusCompleted:    {StatusStopped},
}

// CanTransition reports whether a transition from one status to another is valid.
func CanTransition(from, to StreamStatus) bool {
	for _, t := range validTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are possible.
func (s StreamStatus) Terminal() bool {
	return len(validTransitions[s]) == 0
}
