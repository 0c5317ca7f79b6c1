package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"magnetstream/internal/domain"
	"magnetstream/internal/domain/ports"
)

var errTransferClosed = errors.New("transfer closed")

// fakeTransfer serves in-memory files whose available prefix grows as the
// test calls setAvailable. Reads past the prefix block like the real engine.
type fakeTransfer struct {
	mu   sync.Mutex
	cond *sync.Cond

	name       string
	files      []domain.FileState
	data       map[int][]byte
	stats      domain.TransferStats
	events     chan domain.TransferEvent
	closed     bool
	closeCalls int
	readerErr  error
	readers    []*fakeReader
}

func newFakeTransfer(name string, files map[string]int) *fakeTransfer {
	tr := &fakeTransfer{
		name:   name,
		data:   make(map[int][]byte),
		events: make(chan domain.TransferEvent, 8),
	}
	tr.cond = sync.NewCond(&tr.mu)
	for _, fname := range sortedKeys(files) {
		idx := len(tr.files)
		size := files[fname]
		buf := make([]byte, size)
		for i := range buf {
			buf[i] = byte((i + idx) % 251)
		}
		tr.data[idx] = buf
		tr.files = append(tr.files, domain.FileState{Index: idx, Path: fname, Length: int64(size)})
		tr.stats.Length += int64(size)
	}
	tr.stats.MetadataReady = len(tr.files) > 0
	return tr
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (tr *fakeTransfer) setAvailable(index int, n int64) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	prev := tr.files[index].BytesCompleted
	tr.files[index].BytesCompleted = n
	tr.stats.BytesCompleted += n - prev
	tr.stats.Done = tr.stats.BytesCompleted >= tr.stats.Length
	tr.cond.Broadcast()
}

// regress simulates an engine reporting less than before, e.g. during a
// piece re-check.
func (tr *fakeTransfer) regress(index int, n int64) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.files[index].BytesCompleted = n
}

func (tr *fakeTransfer) setSpeed(bps int64, peers int) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.stats.DownloadSpeed = bps
	tr.stats.Peers = peers
}

func (tr *fakeTransfer) send(kind domain.TransferEventKind, err error) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if tr.closed {
		return
	}
	tr.events <- domain.TransferEvent{Kind: kind, Err: err, At: time.Now()}
}

func (tr *fakeTransfer) closes() int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.closeCalls
}

func (tr *fakeTransfer) ContentID() domain.ContentID { return "" }
func (tr *fakeTransfer) Name() string                { return tr.name }

func (tr *fakeTransfer) Files() []domain.FileState {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([]domain.FileState(nil), tr.files...)
}

func (tr *fakeTransfer) Stats() domain.TransferStats {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.stats
}

func (tr *fakeTransfer) Events() <-chan domain.TransferEvent { return tr.events }

func (tr *fakeTransfer) NewReader(ctx context.Context, fileIndex int) (ports.StreamReader, error) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if tr.readerErr != nil {
		return nil, tr.readerErr
	}
	if fileIndex < 0 || fileIndex >= len(tr.files) {
		return nil, fmt.Errorf("bad index %d", fileIndex)
	}
	r := &fakeReader{tr: tr, index: fileIndex, ctx: ctx}
	tr.readers = append(tr.readers, r)
	context.AfterFunc(ctx, func() {
		tr.mu.Lock()
		tr.cond.Broadcast()
		tr.mu.Unlock()
	})
	return r, nil
}

func (tr *fakeTransfer) Close() error {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.closeCalls++
	if !tr.closed {
		tr.closed = true
		close(tr.events)
	}
	tr.cond.Broadcast()
	return nil
}

type fakeReader struct {
	tr        *fakeTransfer
	index     int
	ctx       context.Context
	pos       int64
	readahead int64
	closed    bool
}

func (r *fakeReader) Read(p []byte) (int, error) {
	tr := r.tr
	tr.mu.Lock()
	defer tr.mu.Unlock()
	length := tr.files[r.index].Length
	for {
		if r.pos >= length {
			return 0, io.EOF
		}
		if tr.closed {
			return 0, errTransferClosed
		}
		if err := r.ctx.Err(); err != nil {
			return 0, err
		}
		if avail := tr.files[r.index].BytesCompleted; avail > r.pos {
			n := copy(p, tr.data[r.index][r.pos:avail])
			r.pos += int64(n)
			return n, nil
		}
		tr.cond.Wait()
	}
}

func (r *fakeReader) Seek(offset int64, whence int) (int64, error) {
	r.tr.mu.Lock()
	defer r.tr.mu.Unlock()
	switch whence {
	case io.SeekStart:
		r.pos = offset
	case io.SeekCurrent:
		r.pos += offset
	case io.SeekEnd:
		r.pos = r.tr.files[r.index].Length + offset
	default:
		return 0, errors.New("invalid whence")
	}
	if r.pos < 0 {
		r.pos = 0
	}
	return r.pos, nil
}

func (r *fakeReader) SetReadahead(n int64) { r.readahead = n }
func (r *fakeReader) Close() error         { r.closed = true; return nil }

type fakeEngine struct {
	mu        sync.Mutex
	gate      chan struct{}
	beginErr  error
	files     map[string]int
	requests  []ports.BeginRequest
	transfers []*fakeTransfer
}

func (f *fakeEngine) Begin(ctx context.Context, req ports.BeginRequest) (ports.Transfer, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.beginErr != nil {
		return nil, f.beginErr
	}
	files := f.files
	if files == nil {
		files = map[string]int{"movie.mp4": 1000}
	}
	tr := newFakeTransfer("engine-name", files)
	f.transfers = append(f.transfers, tr)
	return tr, nil
}

func (f *fakeEngine) Close() error { return nil }

func (f *fakeEngine) beginCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeEngine) transfer(i int) *fakeTransfer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.transfers[i]
}

type fakeHistory struct {
	mu      sync.Mutex
	started []domain.StreamRecord
	ended   map[domain.StreamID]string
}

func (h *fakeHistory) RecordStarted(ctx context.Context, rec domain.StreamRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.started = append(h.started, rec)
	return nil
}

func (h *fakeHistory) RecordEnded(ctx context.Context, id domain.StreamID, status domain.StreamStatus, reason string, doneBytes int64, at time.Time) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ended == nil {
		h.ended = make(map[domain.StreamID]string)
	}
	h.ended[id] = reason
	return nil
}

func (h *fakeHistory) ListRecent(ctx context.Context, limit int) ([]domain.StreamRecord, error) {
	return nil, nil
}

func (h *fakeHistory) endReason(id domain.StreamID) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.ended[id]
	return r, ok
}

func magnetFor(n int) string {
	return fmt.Sprintf("magnet:?xt=urn:btih:%040x&dn=content-%d", n, n)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testEnv struct {
	engine    *fakeEngine
	lifecycle *Lifecycle
	start     StartStream
	root      string
}

func newTestEnv(t *testing.T, max int) *testEnv {
	t.Helper()
	engine := &fakeEngine{}
	lc := &Lifecycle{
		Registry:     NewRegistry(max),
		Logger:       discardLogger(),
		MinProgress:  DefaultMinProgress,
		CleanupAfter: time.Hour,
	}
	root := t.TempDir()
	env := &testEnv{
		engine:    engine,
		lifecycle: lc,
		root:      root,
		start:     StartStream{Engine: engine, Lifecycle: lc, Root: root},
	}
	t.Cleanup(func() { lc.Shutdown(context.Background()) })
	return env
}

func (env *testEnv) mustStart(t *testing.T, magnet string) domain.SessionView {
	t.Helper()
	view, err := env.start.Execute(context.Background(), StartStreamInput{Magnet: magnet})
	if err != nil {
		t.Fatalf("StartStream(%s): %v", magnet, err)
	}
	return view
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
