package usecase

import (
	"context"

	"magnetstream/internal/domain"
)

// view snapshots the engine outside the registry lock, then latches progress
// under it.
func (l *Lifecycle) view(s *session, first bool) domain.SessionView {
	files := s.transfer.Files()
	stats := s.transfer.Stats()
	completed, total := l.Registry.observe(s, files, stats)

	r := l.Registry
	r.mu.Lock()
	status := s.status
	name := s.displayName
	r.mu.Unlock()
	if name == "" {
		name = s.transfer.Name()
	}

	return buildView(viewInput{
		id:          s.id,
		name:        name,
		status:      status,
		createdAt:   s.createdAt,
		files:       files,
		completed:   completed,
		total:       total,
		stats:       stats,
		minProgress: l.minProgress(),
		first:       first,
	})
}

type GetStatus struct {
	Lifecycle *Lifecycle
}

func (uc GetStatus) Execute(ctx context.Context, id domain.StreamID) (domain.SessionView, error) {
	s, ok := uc.Lifecycle.Registry.lookup(id)
	if !ok {
		return domain.SessionView{}, domain.ErrSessionNotFound
	}
	uc.Lifecycle.Registry.touch(s, uc.Lifecycle.now())
	return uc.Lifecycle.view(s, false), nil
}

type ListStreams struct {
	Lifecycle *Lifecycle
}

func (uc ListStreams) Execute(ctx context.Context) ([]domain.SessionView, error) {
	sessions := uc.Lifecycle.Registry.snapshot()
	views := make([]domain.SessionView, 0, len(sessions))
	for _, s := range sessions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		views = append(views, uc.Lifecycle.view(s, false))
	}
	return views, nil
}
