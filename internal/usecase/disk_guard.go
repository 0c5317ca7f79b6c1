package usecase

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"magnetstream/internal/metrics"
)

// DiskGuard periodically checks available space under the stream root and
// flags it low when free space drops below MinFreeBytes. While low, new
// sessions are refused; live sessions keep running. The flag clears once
// free space exceeds ResumeBytes.
type DiskGuard struct {
	Logger       *slog.Logger
	Dir          string
	MinFreeBytes int64
	ResumeBytes  int64
	Interval     time.Duration

	freeBytes func(path string) (int64, error)
	low       atomic.Bool
}

func NewDiskGuard(logger *slog.Logger, dir string, minFree int64) *DiskGuard {
	return &DiskGuard{
		Logger:       logger,
		Dir:          dir,
		MinFreeBytes: minFree,
		ResumeBytes:  minFree * 2,
		Interval:     30 * time.Second,
		freeBytes:    diskFreeBytes,
	}
}

// Low reports whether admission should be refused for lack of space.
func (g *DiskGuard) Low() bool {
	if g == nil {
		return false
	}
	return g.low.Load()
}

// Check samples free space once and updates the low flag.
func (g *DiskGuard) Check() {
	if g.MinFreeBytes <= 0 {
		return
	}
	resume := g.ResumeBytes
	if resume <= g.MinFreeBytes {
		resume = g.MinFreeBytes * 2
	}
	freeFn := g.freeBytes
	if freeFn == nil {
		freeFn = diskFreeBytes
	}
	logger := g.Logger
	if logger == nil {
		logger = slog.Default()
	}

	free, err := freeFn(g.Dir)
	if err != nil {
		logger.Warn("disk_guard: failed to check disk space",
			slog.String("path", g.Dir),
			slog.String("error", err.Error()),
		)
		return
	}

	switch {
	case !g.low.Load() && free < g.MinFreeBytes:
		logger.Warn("disk_guard: low disk space, refusing new streams",
			slog.Int64("freeBytes", free),
			slog.Int64("thresholdBytes", g.MinFreeBytes),
		)
		g.low.Store(true)
		metrics.DiskLow.Set(1)
	case g.low.Load() && free >= resume:
		logger.Info("disk_guard: disk space recovered, admitting streams",
			slog.Int64("freeBytes", free),
			slog.Int64("resumeBytes", resume),
		)
		g.low.Store(false)
		metrics.DiskLow.Set(0)
	}
}

// Run checks immediately and then every Interval until ctx is cancelled.
func (g *DiskGuard) Run(ctx context.Context) {
	if g.MinFreeBytes <= 0 {
		return
	}
	interval := g.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	g.Check()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.Check()
		}
	}
}
