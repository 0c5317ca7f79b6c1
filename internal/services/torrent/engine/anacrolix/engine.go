package anacrolix

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/anacrolix/torrent"
	"github.com/anacrolix/torrent/storage"
	"golang.org/x/time/rate"

	"magnetstream/internal/domain"
	"magnetstream/internal/domain/ports"
)

// addMagnetTimeout caps the time we wait for the anacrolix client to accept
// a magnet link. AddTorrentSpec can block on an internal client mutex when the
// client is busy (e.g. resolving metadata for another torrent).
const (
	addMagnetTimeout       = 10 * time.Second
	defaultMetadataTimeout = 10 * time.Minute // zero-peer torrents fail after this
	completionPollInterval = time.Second
)

var (
	ErrClientBusy      = errors.New("torrent client busy, try again later")
	ErrAlreadyActive   = errors.New("transfer already active for this content")
	ErrMetadataTimeout = errors.New("metadata not received in time")
	ErrDropped         = errors.New("transfer dropped by client")
)

type Config struct {
	DataDir           string
	Trackers          []string
	EnableUpload      bool
	PeerLimit         int
	UploadRateLimit   int64 // bytes/sec; <= 0 = unlimited
	DownloadRateLimit int64 // bytes/sec; <= 0 = unlimited
	Readahead         int64
	ReadStallTimeout  time.Duration
	MetadataTimeout   time.Duration
}

type Engine struct {
	client *torrent.Client
	cfg    Config
}

func New(cfg Config) (*Engine, error) {
	clientConfig := torrent.NewDefaultClientConfig()
	if cfg.DataDir != "" {
		clientConfig.DataDir = cfg.DataDir
	}
	clientConfig.NoUpload = !cfg.EnableUpload
	clientConfig.Seed = false
	if cfg.PeerLimit > 0 {
		clientConfig.EstablishedConnsPerTorrent = cfg.PeerLimit
	}
	if l := newLimiter(cfg.UploadRateLimit); l != nil {
		clientConfig.UploadRateLimiter = l
	}
	if l := newLimiter(cfg.DownloadRateLimit); l != nil {
		clientConfig.DownloadRateLimiter = l
	}

	client, err := torrent.NewClient(clientConfig)
	if err != nil {
		return nil, err
	}
	return NewWithClient(client, cfg), nil
}

func NewWithClient(client *torrent.Client, cfg Config) *Engine {
	if cfg.MetadataTimeout <= 0 {
		cfg.MetadataTimeout = defaultMetadataTimeout
	}
	return &Engine{client: client, cfg: cfg}
}

// newLimiter builds a token bucket for bytesPerSec. The burst must hold at
// least one 16 KiB chunk or anacrolix blocks forever on WaitN.
func newLimiter(bytesPerSec int64) *rate.Limiter {
	if bytesPerSec <= 0 {
		return nil
	}
	burst := int(bytesPerSec)
	if burst < 256<<10 {
		burst = 256 << 10
	}
	return rate.NewLimiter(rate.Limit(bytesPerSec), burst)
}

func (e *Engine) Begin(ctx context.Context, req ports.BeginRequest) (ports.Transfer, error) {
	if e.client == nil {
		return nil, errors.New("torrent client not configured")
	}
	spec, err := torrent.TorrentSpecFromMagnetUri(req.Magnet)
	if err != nil {
		return nil, err
	}
	spec.Trackers = append(spec.Trackers, trackerTiers(e.cfg.Trackers)...)
	store := storage.NewFile(req.Dir)
	spec.Storage = store

	// Run AddTorrentSpec with a timeout so we never block the HTTP handler
	// indefinitely if the anacrolix client is busy.
	type addResult struct {
		t     *torrent.Torrent
		isNew bool
		err   error
	}
	ch := make(chan addResult, 1)
	go func() {
		t, isNew, err := e.client.AddTorrentSpec(spec)
		ch <- addResult{t, isNew, err}
	}()

	// The goroutine may still complete after we return; drop what it added.
	abandon := func() {
		go func() {
			if res := <-ch; res.t != nil && res.isNew {
				res.t.Drop()
			}
			_ = store.Close()
		}()
	}

	var t *torrent.Torrent
	select {
	case res := <-ch:
		if res.err != nil {
			_ = store.Close()
			return nil, res.err
		}
		if !res.isNew {
			_ = store.Close()
			return nil, ErrAlreadyActive
		}
		t = res.t
	case <-time.After(addMagnetTimeout):
		abandon()
		return nil, ErrClientBusy
	case <-ctx.Done():
		abandon()
		return nil, ctx.Err()
	}

	if e.cfg.PeerLimit > 0 {
		t.SetMaxEstablishedConns(e.cfg.PeerLimit)
	}
	if !e.cfg.EnableUpload {
		t.DisallowDataUpload()
	}

	tr := newTransfer(t, store, domain.ContentID(spec.InfoHash.HexString()), spec.DisplayName, e.cfg)
	go tr.watch(watchSignals{
		gotInfo:         t.GotInfo(),
		dropped:         t.Closed(),
		closed:          tr.closed,
		metadataTimeout: e.cfg.MetadataTimeout,
		pollInterval:    completionPollInterval,
		onInfo:          t.DownloadAll,
		complete:        tr.complete,
	})

	slog.Info("transfer started",
		slog.String("contentId", string(tr.contentID)),
		slog.String("dir", req.Dir),
	)
	return tr, nil
}

func (e *Engine) Close() error {
	if e.client == nil {
		return nil
	}
	errList := e.client.Close()
	if len(errList) > 0 {
		return errList[0]
	}
	return nil
}

func trackerTiers(trackers []string) [][]string {
	tiers := make([][]string, 0, len(trackers))
	for _, tr := range trackers {
		if tr == "" {
			continue
		}
		tiers = append(tiers, []string{tr})
	}
	return tiers
}
