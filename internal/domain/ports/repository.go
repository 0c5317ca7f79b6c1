package ports

import (
	"context"
	"time"

	"magnetstream/internal/domain"
)

// StreamHistory records session lifecycle for later inspection.
type StreamHistory interface {
	RecordStarted(ctx context.Context, rec domain.StreamRecord) error
	RecordEnded(ctx context.Context, id domain.StreamID, status domain.StreamStatus, reason string, doneBytes int64, at time.Time) error
	ListRecent(ctx context.Context, limit int) ([]domain.StreamRecord, error)
}
