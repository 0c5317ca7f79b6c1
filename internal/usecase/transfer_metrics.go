package usecase

import (
	"context"
	"time"

	"magnetstream/internal/metrics"
)

// TransferTotals aggregates live transfer counters across all sessions.
type TransferTotals struct {
	Sessions      int
	DownloadSpeed int64
	UploadSpeed   int64
	Peers         int
}

// Totals sums the current stats of every live session.
func (l *Lifecycle) Totals() TransferTotals {
	var t TransferTotals
	for _, s := range l.Registry.snapshot() {
		st := s.transfer.Stats()
		t.Sessions++
		t.DownloadSpeed += st.DownloadSpeed
		t.UploadSpeed += st.UploadSpeed
		t.Peers += st.Peers
	}
	return t
}

// RunMetrics refreshes the transfer gauges every interval until ctx ends.
func (l *Lifecycle) RunMetrics(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t := l.Totals()
			metrics.DownloadSpeedBytes.Set(float64(t.DownloadSpeed))
			metrics.UploadSpeedBytes.Set(float64(t.UploadSpeed))
			metrics.PeersConnected.Set(float64(t.Peers))
		}
	}
}
