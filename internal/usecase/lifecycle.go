package usecase

import (
	"context"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"magnetstream/internal/domain"
	"magnetstream/internal/domain/ports"
	"magnetstream/internal/metrics"
)

const (
	DefaultCleanupAfter = time.Hour
	historyWriteTimeout = 5 * time.Second
	shutdownParallelism = 4
)

// Cleanup triggers.
const (
	ReasonCompleted = "completed"
	ReasonStopped   = "stopped"
	ReasonError     = "error"
	ReasonIdle      = "idle"
	ReasonShutdown  = "shutdown"
)

// Lifecycle applies engine events to sessions and destroys them exactly once,
// whichever of completion timeout, manual stop, engine error, idle timeout or
// shutdown comes first.
type Lifecycle struct {
	Registry     *Registry
	History      ports.StreamHistory
	Logger       *slog.Logger
	MinProgress  float64
	CleanupAfter time.Duration
	IdleTimeout  time.Duration // 0 = never reap
	Now          func() time.Time
}

func (l *Lifecycle) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now().UTC()
}

func (l *Lifecycle) logger() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.Default()
}

func (l *Lifecycle) minProgress() float64 {
	if l.MinProgress > 0 {
		return l.MinProgress
	}
	return DefaultMinProgress
}

func (l *Lifecycle) cleanupAfter() time.Duration {
	if l.CleanupAfter > 0 {
		return l.CleanupAfter
	}
	return DefaultCleanupAfter
}

// attach starts consuming the session's engine events.
func (l *Lifecycle) attach(s *session) {
	metrics.ActiveSessions.Set(float64(l.Registry.Len()))
	l.recordStarted(s)
	go l.consume(s, s.transfer.Events())
}

func (l *Lifecycle) consume(s *session, events <-chan domain.TransferEvent) {
	for ev := range events {
		l.handle(s, ev)
	}
}

func (l *Lifecycle) handle(s *session, ev domain.TransferEvent) {
	log := l.logger().With(slog.String("streamId", string(s.id)))

	switch ev.Kind {
	case domain.EventMetadata:
		if l.transition(s, domain.StatusStreaming) {
			log.Info("stream metadata received")
		}
	case domain.EventDone:
		if l.transition(s, domain.StatusCompleted) {
			log.Info("stream download completed", slog.Duration("cleanupAfter", l.cleanupAfter()))
		}
		l.scheduleCleanup(s)
	case domain.EventError:
		log.Warn("stream engine error", slog.Any("error", ev.Err))
		_ = l.destroy(s.id, ReasonError)
	}
}

func (l *Lifecycle) transition(s *session, to domain.StreamStatus) bool {
	r := l.Registry
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.destroying || s.status == to || !domain.CanTransition(s.status, to) {
		return false
	}
	s.status = to
	return true
}

// scheduleCleanup arms the grace-period timer once per session.
func (l *Lifecycle) scheduleCleanup(s *session) {
	r := l.Registry
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.destroying || s.cleanupScheduled {
		return
	}
	s.cleanupScheduled = true
	id := s.id
	s.cleanupTimer = time.AfterFunc(l.cleanupAfter(), func() {
		_ = l.destroy(id, ReasonCompleted)
	})
}

// destroy releases the transfer, unregisters the session and removes its
// directory. Only the first caller for a given id does any work.
func (l *Lifecycle) destroy(id domain.StreamID, reason string) error {
	s, ok := l.Registry.claim(id)
	if !ok {
		return domain.ErrSessionNotFound
	}
	log := l.logger().With(slog.String("streamId", string(id)), slog.String("reason", reason))

	doneBytes := s.transfer.Stats().BytesCompleted
	if err := s.transfer.Close(); err != nil {
		log.Warn("stream transfer release failed", slog.String("error", err.Error()))
	}
	l.Registry.remove(s)
	if err := os.RemoveAll(s.dir); err != nil {
		metrics.CleanupErrorsTotal.Inc()
		log.Warn("stream directory removal failed",
			slog.String("dir", s.dir),
			slog.String("error", err.Error()),
		)
	}

	metrics.CleanupsTotal.WithLabelValues(reason).Inc()
	metrics.ActiveSessions.Set(float64(l.Registry.Len()))
	l.recordEnded(s, reason, doneBytes)
	log.Info("stream destroyed")
	return nil
}

// RunReaper destroys abandoned sessions until ctx is cancelled. It is a
// no-op when IdleTimeout is zero.
func (l *Lifecycle) RunReaper(ctx context.Context) {
	if l.IdleTimeout <= 0 {
		return
	}
	interval := l.IdleTimeout / 2
	if interval < 10*time.Second {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.ReapIdle()
		}
	}
}

// ReapIdle destroys sessions that nobody has polled or read for longer than
// IdleTimeout. Completed sessions already have a cleanup timer and sessions
// with open readers are in use, so both are skipped.
func (l *Lifecycle) ReapIdle() int {
	if l.IdleTimeout <= 0 {
		return 0
	}
	now := l.now()

	r := l.Registry
	r.mu.Lock()
	var candidates []domain.StreamID
	for id, s := range r.byID {
		if !s.started || s.destroying || s.status == domain.StatusCompleted || s.readers > 0 {
			continue
		}
		if now.Sub(s.lastAccess) > l.IdleTimeout {
			candidates = append(candidates, id)
		}
	}
	r.mu.Unlock()

	reaped := 0
	for _, id := range candidates {
		l.logger().Info("reaping idle stream",
			slog.String("streamId", string(id)),
			slog.Duration("idleTimeout", l.IdleTimeout),
		)
		if l.destroy(id, ReasonIdle) == nil {
			reaped++
		}
	}
	return reaped
}

// Shutdown destroys every live session, a few at a time, until ctx ends.
func (l *Lifecycle) Shutdown(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(shutdownParallelism)
	for _, s := range l.Registry.snapshot() {
		id := s.id
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			_ = l.destroy(id, ReasonShutdown)
			return nil
		})
	}
	_ = g.Wait()
}

func (l *Lifecycle) recordStarted(s *session) {
	if l.History == nil {
		return
	}
	rec := domain.StreamRecord{
		ID:        s.id,
		ContentID: s.contentID,
		Name:      s.displayName,
		Status:    domain.StatusInitializing,
		StartedAt: s.createdAt,
	}
	if rec.Name == "" {
		rec.Name = s.transfer.Name()
	}
	ctx, cancel := context.WithTimeout(context.Background(), historyWriteTimeout)
	defer cancel()
	if err := l.History.RecordStarted(ctx, rec); err != nil {
		l.logger().Warn("stream history write failed",
			slog.String("streamId", string(s.id)),
			slog.String("error", err.Error()),
		)
	}
}

func (l *Lifecycle) recordEnded(s *session, reason string, doneBytes int64) {
	if l.History == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), historyWriteTimeout)
	defer cancel()
	if err := l.History.RecordEnded(ctx, s.id, domain.StatusStopped, reason, doneBytes, l.now()); err != nil {
		l.logger().Warn("stream history write failed",
			slog.String("streamId", string(s.id)),
			slog.String("error", err.Error()),
		)
	}
}
