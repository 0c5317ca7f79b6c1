package domain

import (
	"errors"
	"time"
)

// StreamRecord is a persisted entry of the stream history.
type StreamRecord struct {
	ID         StreamID     `json:"id"`
	ContentID  ContentID    `json:"contentId"`
	Name       string       `json:"name"`
	Status     StreamStatus `json:"status"`
	EndReason  string       `json:"endReason,omitempty"`
	TotalBytes int64        `json:"totalBytes"`
	DoneBytes  int64        `json:"doneBytes"`
	StartedAt  time.Time    `json:"startedAt"`
	EndedAt    *time.Time   `json:"endedAt,omitempty"`
}

// Validate checks domain invariants for StreamRecord.
func (r StreamRecord) Validate() error {
	if r.ID == "" {
		return errors.New("stream id is required")
	}
	if r.ContentID == "" {
		return errors.New("content id is required")
	}
	if r.TotalBytes < 0 {
		return errors.New("totalBytes must not be negative")
	}
	if r.DoneBytes < 0 {
		return errors.New("doneBytes must not be negative")
	}
	if r.TotalBytes > 0 && r.DoneBytes > r.TotalBytes {
		return errors.New("doneBytes must not exceed totalBytes")
	}
	switch r.Status {
	case StatusInitializing, StatusStreaming, StatusCompleted, StatusStopped:
	case "":
		return errors.New("status is required")
	default:
		return errors.New("invalid status: " + string(r.Status))
	}
	return nil
}
