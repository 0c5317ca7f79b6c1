package anacrolix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/anacrolix/torrent"
	"github.com/anacrolix/torrent/storage"

	"magnetstream/internal/domain"
	"magnetstream/internal/domain/ports"
)

var ErrInvalidFileIndex = errors.New("invalid file index")

type Transfer struct {
	t           *torrent.Torrent
	store       storage.ClientImplCloser
	contentID   domain.ContentID
	displayName string
	cfg         Config

	events    chan domain.TransferEvent
	closed    chan struct{}
	closeOnce sync.Once

	speedMu sync.Mutex
	speed   speedMeter
}

func newTransfer(t *torrent.Torrent, store storage.ClientImplCloser, id domain.ContentID, displayName string, cfg Config) *Transfer {
	return &Transfer{
		t:           t,
		store:       store,
		contentID:   id,
		displayName: displayName,
		cfg:         cfg,
		events:      make(chan domain.TransferEvent, 4),
		closed:      make(chan struct{}),
	}
}

func (tr *Transfer) ContentID() domain.ContentID { return tr.contentID }

func (tr *Transfer) Name() string {
	if torrentInfoReady(tr.t) {
		if name := tr.t.Name(); name != "" {
			return name
		}
	}
	if tr.displayName != "" {
		return tr.displayName
	}
	return string(tr.contentID)
}

func (tr *Transfer) Files() []domain.FileState {
	return mapFiles(tr.t)
}

func (tr *Transfer) Stats() domain.TransferStats {
	stats := tr.t.Stats()

	tr.speedMu.Lock()
	download, upload := tr.speed.sample(stats, time.Now().UTC())
	tr.speedMu.Unlock()

	out := domain.TransferStats{
		DownloadSpeed: download,
		Downloaded:    stats.BytesReadUsefulData.Int64(),
		Peers:         stats.ActivePeers,
	}
	if tr.cfg.EnableUpload {
		out.UploadSpeed = upload
		out.Uploaded = stats.BytesWrittenData.Int64()
	}
	if torrentInfoReady(tr.t) {
		out.MetadataReady = true
		out.Length = tr.t.Length()
		out.BytesCompleted = tr.t.BytesCompleted()
		out.Done = out.BytesCompleted >= out.Length
	}
	return out
}

func (tr *Transfer) Events() <-chan domain.TransferEvent {
	return tr.events
}

func (tr *Transfer) NewReader(ctx context.Context, fileIndex int) (ports.StreamReader, error) {
	if !torrentInfoReady(tr.t) {
		return nil, ErrInvalidFileIndex
	}
	files := tr.t.Files()
	if fileIndex < 0 || fileIndex >= len(files) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidFileIndex, fileIndex)
	}
	r := files[fileIndex].NewReader()
	r.SetResponsive()
	if tr.cfg.Readahead > 0 {
		r.SetReadahead(tr.cfg.Readahead)
	}
	return newStallReader(ctx, r, tr.cfg.ReadStallTimeout), nil
}

// Close drops the torrent and releases its storage. Safe to call more than once.
func (tr *Transfer) Close() error {
	var err error
	tr.closeOnce.Do(func() {
		close(tr.closed)
		tr.t.Drop()
		err = tr.store.Close()
		freeOSMemory()
	})
	return err
}

func (tr *Transfer) complete() bool {
	if !torrentInfoReady(tr.t) {
		return false
	}
	return tr.t.BytesCompleted() >= tr.t.Length()
}

type watchSignals struct {
	gotInfo         <-chan struct{}
	dropped         <-chan struct{} // torrent closed by the client
	closed          <-chan struct{} // transfer released by its owner
	metadataTimeout time.Duration
	pollInterval    time.Duration
	onInfo          func()
	complete        func() bool
}

// watch turns torrent state changes into events. It emits metadata once,
// done once, and error at most once, then closes the event channel.
func (tr *Transfer) watch(sig watchSignals) {
	defer close(tr.events)

	timeout := time.NewTimer(sig.metadataTimeout)
	defer timeout.Stop()

	select {
	case <-sig.gotInfo:
	case <-sig.closed:
		return
	case <-sig.dropped:
		tr.emit(domain.EventError, ErrDropped)
		return
	case <-timeout.C:
		tr.emit(domain.EventError, ErrMetadataTimeout)
		return
	}

	if sig.onInfo != nil {
		sig.onInfo()
	}
	tr.emit(domain.EventMetadata, nil)

	ticker := time.NewTicker(sig.pollInterval)
	defer ticker.Stop()
	for !sig.complete() {
		select {
		case <-sig.closed:
			return
		case <-sig.dropped:
			tr.emit(domain.EventError, ErrDropped)
			return
		case <-ticker.C:
		}
	}
	tr.emit(domain.EventDone, nil)

	select {
	case <-sig.closed:
	case <-sig.dropped:
	}
}

func (tr *Transfer) emit(kind domain.TransferEventKind, err error) {
	ev := domain.TransferEvent{Kind: kind, Err: err, At: time.Now().UTC()}
	select {
	case tr.events <- ev:
	case <-tr.closed:
	}
}

func mapFiles(t *torrent.Torrent) (mapped []domain.FileState) {
	if !torrentInfoReady(t) {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("mapFiles panic recovered",
				slog.Any("error", r),
				slog.String("stack", string(debug.Stack())),
			)
			mapped = nil
		}
	}()

	files := t.Files()
	mapped = make([]domain.FileState, 0, len(files))
	for i, f := range files {
		mapped = append(mapped, domain.FileState{
			Index:          i,
			Path:           f.DisplayPath(),
			Length:         f.Length(),
			BytesCompleted: f.BytesCompleted(),
		})
	}
	return mapped
}

func torrentInfoReady(t *torrent.Torrent) bool {
	if t == nil {
		return false
	}
	select {
	case <-t.GotInfo():
		return true
	default:
		return false
	}
}

// freeOSMemory returns memory to the OS promptly after dropping a torrent.
func freeOSMemory() {
	runtime.GC()
	debug.FreeOSMemory()
}

// speedMeter derives byte rates from successive cumulative counters.
// Samples closer than minSampleGap reuse the previous rate so that
// back-to-back status polls do not report spikes.
type speedMeter struct {
	at           time.Time
	bytesRead    int64
	bytesWritten int64
	download     int64
	upload       int64
}

const minSampleGap = 500 * time.Millisecond

func (m *speedMeter) sample(stats torrent.TorrentStats, now time.Time) (int64, int64) {
	currentRead := stats.BytesReadUsefulData.Int64()
	currentWritten := stats.BytesWrittenData.Int64()

	if m.at.IsZero() {
		m.at, m.bytesRead, m.bytesWritten = now, currentRead, currentWritten
		return 0, 0
	}

	elapsed := now.Sub(m.at)
	if elapsed <= 0 || elapsed < minSampleGap {
		return m.download, m.upload
	}
	dt := elapsed.Seconds()

	deltaRead := currentRead - m.bytesRead
	deltaWritten := currentWritten - m.bytesWritten
	if deltaRead < 0 {
		deltaRead = 0
	}
	if deltaWritten < 0 {
		deltaWritten = 0
	}

	m.download = int64(float64(deltaRead) / dt)
	m.upload = int64(float64(deltaWritten) / dt)
	m.at, m.bytesRead, m.bytesWritten = now, currentRead, currentWritten
	return m.download, m.upload
}
