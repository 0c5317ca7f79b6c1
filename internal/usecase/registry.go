package usecase

import (
	"sort"
	"sync"
	"time"

	"magnetstream/internal/domain"
	"magnetstream/internal/domain/ports"
)

// session is one client-visible transfer. All mutable fields are guarded by
// the owning Registry's mutex; id, contentID, dir and createdAt never change.
type session struct {
	id          domain.StreamID
	contentID   domain.ContentID
	displayName string
	dir         string
	createdAt   time.Time

	transfer ports.Transfer
	started  bool
	ready    chan struct{} // closed once the engine start settles
	startErr error

	status           domain.StreamStatus
	lastAccess       time.Time
	cleanupScheduled bool
	cleanupTimer     *time.Timer
	destroying       bool
	readers          int
	peak             map[int]int64
	peakTotal        int64
}

func newSession(id domain.StreamID, contentID domain.ContentID, name, dir string, now time.Time) *session {
	return &session{
		id:          id,
		contentID:   contentID,
		displayName: name,
		dir:         dir,
		createdAt:   now,
		lastAccess:  now,
		ready:       make(chan struct{}),
		status:      domain.StatusInitializing,
		peak:        make(map[int]int64),
	}
}

// Registry holds every session between admission and destruction. The
// dedup check, the capacity check and the insertion happen under one lock.
type Registry struct {
	mu        sync.Mutex
	max       int
	byID      map[domain.StreamID]*session
	byContent map[domain.ContentID]*session
}

// NewRegistry returns an empty registry admitting at most max sessions.
// max <= 0 means unlimited.
func NewRegistry(max int) *Registry {
	return &Registry{
		max:       max,
		byID:      make(map[domain.StreamID]*session),
		byContent: make(map[domain.ContentID]*session),
	}
}

// reserve returns the live session for contentID, or inserts the one built
// by create. create runs under the registry lock and may refuse admission.
func (r *Registry) reserve(contentID domain.ContentID, create func() (*session, error)) (*session, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.byContent[contentID]; ok && !s.destroying {
		return s, true, nil
	}
	if r.max > 0 && len(r.byID) >= r.max {
		return nil, false, domain.ErrCapacityExceeded
	}
	s, err := create()
	if err != nil {
		return nil, false, err
	}
	r.byID[s.id] = s
	r.byContent[contentID] = s
	return s, false, nil
}

// activate publishes a reserved session once its transfer is running.
func (r *Registry) activate(s *session, tr ports.Transfer) {
	r.mu.Lock()
	s.transfer = tr
	s.started = true
	r.mu.Unlock()
	close(s.ready)
}

// abandon drops a reservation whose engine start failed.
func (r *Registry) abandon(s *session, err error) {
	r.mu.Lock()
	s.startErr = err
	r.removeLocked(s)
	r.mu.Unlock()
	close(s.ready)
}

func (r *Registry) lookup(id domain.StreamID) (*session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	if !ok || !s.started || s.destroying {
		return nil, false
	}
	return s, true
}

// claim marks a session for destruction. Exactly one caller wins; a pending
// completion timer is cancelled.
func (r *Registry) claim(id domain.StreamID) (*session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	if !ok || !s.started || s.destroying {
		return nil, false
	}
	s.destroying = true
	if s.cleanupTimer != nil {
		s.cleanupTimer.Stop()
		s.cleanupTimer = nil
	}
	return s, true
}

func (r *Registry) remove(s *session) {
	r.mu.Lock()
	r.removeLocked(s)
	r.mu.Unlock()
}

func (r *Registry) removeLocked(s *session) {
	if cur, ok := r.byID[s.id]; ok && cur == s {
		delete(r.byID, s.id)
	}
	if cur, ok := r.byContent[s.contentID]; ok && cur == s {
		delete(r.byContent, s.contentID)
	}
}

// snapshot returns live sessions ordered by creation time.
func (r *Registry) snapshot() []*session {
	r.mu.Lock()
	out := make([]*session, 0, len(r.byID))
	for _, s := range r.byID {
		if s.started && !s.destroying {
			out = append(out, s)
		}
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].createdAt.Equal(out[j].createdAt) {
			return out[i].id < out[j].id
		}
		return out[i].createdAt.Before(out[j].createdAt)
	})
	return out
}

// Len counts every admitted session, including ones still starting.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

func (r *Registry) Max() int {
	return r.max
}

func (r *Registry) touch(s *session, now time.Time) {
	r.mu.Lock()
	s.lastAccess = now
	r.mu.Unlock()
}

// observe folds the engine's per-file completion into the session's
// high-water marks and returns the latched values keyed by file index.
func (r *Registry) observe(s *session, files []domain.FileState, stats domain.TransferStats) (map[int]int64, int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[int]int64, len(files))
	for _, f := range files {
		done := f.BytesCompleted
		if f.Length > 0 && done > f.Length {
			done = f.Length
		}
		if done > s.peak[f.Index] {
			s.peak[f.Index] = done
		}
		out[f.Index] = s.peak[f.Index]
	}
	if stats.BytesCompleted > s.peakTotal {
		s.peakTotal = stats.BytesCompleted
	}
	return out, s.peakTotal
}
