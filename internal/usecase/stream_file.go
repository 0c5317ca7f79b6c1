package usecase

import (
	"context"
	"path"
	"sync"

	"magnetstream/internal/domain"
	"magnetstream/internal/domain/ports"
	"magnetstream/internal/metrics"
)

type StreamResult struct {
	Reader ports.StreamReader
	File   domain.FileState
}

type StreamFile struct {
	Lifecycle      *Lifecycle
	ReadaheadBytes int64
}

// Execute resolves name within the session and opens a reader on it once
// the file has crossed the streamability threshold. The caller must close
// the returned reader.
func (uc StreamFile) Execute(ctx context.Context, id domain.StreamID, name string) (StreamResult, error) {
	l := uc.Lifecycle
	s, ok := l.Registry.lookup(id)
	if !ok {
		return StreamResult{}, domain.ErrSessionNotFound
	}
	l.Registry.touch(s, l.now())

	files := s.transfer.Files()
	file, ok := findFile(files, name)
	if !ok {
		return StreamResult{}, domain.ErrFileNotFound
	}

	completed, _ := l.Registry.observe(s, files, domain.TransferStats{})
	done := completed[file.Index]
	if !Streamable(done, file.Length, l.minProgress()) {
		return StreamResult{}, &NotReadyError{
			Progress: NormalizePercent(fraction(done, file.Length)),
			Required: NormalizePercent(l.minProgress()),
		}
	}

	reader, err := s.transfer.NewReader(ctx, file.Index)
	if err != nil {
		return StreamResult{}, wrapStreamIO(err)
	}
	if uc.ReadaheadBytes > 0 {
		reader.SetReadahead(uc.ReadaheadBytes)
	}

	l.Registry.mu.Lock()
	s.readers++
	l.Registry.mu.Unlock()
	metrics.ActiveReaders.Inc()

	return StreamResult{
		Reader: &trackedReader{StreamReader: reader, release: func() {
			l.Registry.mu.Lock()
			s.readers--
			s.lastAccess = l.now()
			l.Registry.mu.Unlock()
			metrics.ActiveReaders.Dec()
		}},
		File: file,
	}, nil
}

// findFile matches the full display path first, then a unique base name.
func findFile(files []domain.FileState, name string) (domain.FileState, bool) {
	for _, f := range files {
		if f.Path == name {
			return f, true
		}
	}
	var match domain.FileState
	found := 0
	for _, f := range files {
		if path.Base(f.Path) == name {
			match = f
			found++
		}
	}
	return match, found == 1
}

// trackedReader keeps the session's open-reader count so the idle reaper
// leaves sessions with active streams alone.
type trackedReader struct {
	ports.StreamReader
	once    sync.Once
	release func()
}

func (r *trackedReader) Close() error {
	err := r.StreamReader.Close()
	r.once.Do(r.release)
	return err
}
