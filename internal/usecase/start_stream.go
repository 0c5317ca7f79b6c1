package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"magnetstream/internal/domain"
	"magnetstream/internal/domain/ports"
	"magnetstream/internal/metrics"
)

var ErrInsufficientDisk = fmt.Errorf("%w: insufficient disk space", domain.ErrCapacityExceeded)

type StartStream struct {
	Engine    ports.Engine
	Lifecycle *Lifecycle
	Disk      *DiskGuard
	Root      string
	NewID     func() domain.StreamID
}

type StartStreamInput struct {
	Magnet string
	Name   string
}

// Execute admits a new session or re-attaches to the live session for the
// same content.
func (uc StartStream) Execute(ctx context.Context, input StartStreamInput) (domain.SessionView, error) {
	desc, err := ParseDescriptor(input.Magnet)
	if err != nil {
		metrics.AdmissionsTotal.WithLabelValues("invalid").Inc()
		return domain.SessionView{}, err
	}
	if uc.Engine == nil || uc.Lifecycle == nil {
		return domain.SessionView{}, errors.New("stream admission not configured")
	}

	l := uc.Lifecycle
	newID := uc.NewID
	if newID == nil {
		newID = func() domain.StreamID { return domain.StreamID(uuid.NewString()) }
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		name = desc.DisplayName
	}

	s, existing, err := l.Registry.reserve(desc.ContentID, func() (*session, error) {
		if uc.Disk != nil && uc.Disk.Low() {
			return nil, ErrInsufficientDisk
		}
		id := newID()
		return newSession(id, desc.ContentID, name, filepath.Join(uc.Root, string(id)), l.now()), nil
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrInsufficientDisk):
			metrics.AdmissionsTotal.WithLabelValues("disk").Inc()
		case errors.Is(err, domain.ErrCapacityExceeded):
			metrics.AdmissionsTotal.WithLabelValues("capacity").Inc()
		}
		return domain.SessionView{}, err
	}

	if existing {
		return uc.reattach(ctx, s)
	}

	log := l.logger().With(
		slog.String("streamId", string(s.id)),
		slog.String("contentId", string(desc.ContentID)),
	)

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		l.Registry.abandon(s, err)
		metrics.AdmissionsTotal.WithLabelValues("engine").Inc()
		return domain.SessionView{}, wrapEngine(err)
	}

	tr, err := uc.Engine.Begin(ctx, ports.BeginRequest{Magnet: input.Magnet, Dir: s.dir})
	if err != nil {
		l.Registry.abandon(s, err)
		if rmErr := os.RemoveAll(s.dir); rmErr != nil {
			log.Warn("stream directory removal failed", slog.String("error", rmErr.Error()))
		}
		metrics.AdmissionsTotal.WithLabelValues("engine").Inc()
		log.Warn("stream start failed", slog.String("error", err.Error()))
		return domain.SessionView{}, wrapEngine(err)
	}

	l.Registry.activate(s, tr)
	l.attach(s)
	metrics.AdmissionsTotal.WithLabelValues("created").Inc()
	log.Info("stream started", slog.String("dir", s.dir))
	return l.view(s, true), nil
}

// reattach waits for a concurrently admitted session to finish starting and
// returns its current view.
func (uc StartStream) reattach(ctx context.Context, s *session) (domain.SessionView, error) {
	select {
	case <-s.ready:
	case <-ctx.Done():
		return domain.SessionView{}, ctx.Err()
	}
	if s.startErr != nil {
		return domain.SessionView{}, wrapEngine(s.startErr)
	}
	l := uc.Lifecycle
	if _, ok := l.Registry.lookup(s.id); !ok {
		return domain.SessionView{}, domain.ErrSessionNotFound
	}
	l.Registry.touch(s, l.now())
	metrics.AdmissionsTotal.WithLabelValues("attached").Inc()
	return l.view(s, false), nil
}
