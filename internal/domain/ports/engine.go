package ports

import (
	"context"

	"magnetstream/internal/domain"
)

// BeginRequest asks the engine to start fetching Magnet into Dir.
type BeginRequest struct {
	Magnet string
	Dir    string
}

type Engine interface {
	Begin(ctx context.Context, req BeginRequest) (Transfer, error)
	Close() error
}

// Transfer is one running fetch. It is owned by exactly one stream session
// and released through Close exactly once.
type Transfer interface {
	ContentID() domain.ContentID
	Name() string
	// Files is empty until metadata is known.
	Files() []domain.FileState
	Stats() domain.TransferStats
	// Events is closed when the transfer terminates.
	Events() <-chan domain.TransferEvent
	NewReader(ctx context.Context, fileIndex int) (StreamReader, error)
	Close() error
}
