package usecase

import (
	"context"

	"magnetstream/internal/domain"
)

type StopStream struct {
	Lifecycle *Lifecycle
}

// Execute destroys the session synchronously. Unknown or already stopped
// sessions yield domain.ErrSessionNotFound.
func (uc StopStream) Execute(ctx context.Context, id domain.StreamID) error {
	return uc.Lifecycle.destroy(id, ReasonStopped)
}
