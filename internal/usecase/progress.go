package usecase

import (
	"fmt"
	"math"
	"net/url"
	"time"

	"magnetstream/internal/domain"
)

// DefaultMinProgress is the fraction of a file that must be downloaded
// before range reads are allowed.
const DefaultMinProgress = 0.03

// NormalizePercent converts a completion fraction to a percentage in [0, 100].
func NormalizePercent(fraction float64) float64 {
	if math.IsNaN(fraction) || fraction <= 0 {
		return 0
	}
	if fraction >= 1 {
		return 100
	}
	return fraction * 100
}

func fraction(done, total int64) float64 {
	if total <= 0 {
		return 1
	}
	if done <= 0 {
		return 0
	}
	return float64(done) / float64(total)
}

// Streamable reports whether a file with done of total bytes may be read.
func Streamable(done, total int64, minProgress float64) bool {
	return fraction(done, total) >= minProgress
}

// StreamURL is the path under which a file of a session is served.
func StreamURL(id domain.StreamID, name string) string {
	return "/api/stream/" + url.PathEscape(string(id)) + "/" + url.PathEscape(name)
}

// FormatSpeed renders bytes per second as MB/s with two decimals.
func FormatSpeed(bytesPerSec int64) string {
	return fmt.Sprintf("%.2f", float64(bytesPerSec)/(1024*1024))
}

type viewInput struct {
	id          domain.StreamID
	name        string
	status      domain.StreamStatus
	createdAt   time.Time
	files       []domain.FileState
	completed   map[int]int64 // latched bytes per file index
	total       int64         // latched bytes overall
	stats       domain.TransferStats
	minProgress float64
	first       bool
}

func buildView(in viewInput) domain.SessionView {
	view := domain.SessionView{CreatedAt: in.createdAt}
	view.StreamID = in.id
	view.Name = in.name
	view.Status = reportedStatus(in.status, in.stats, in.first)
	view.DownloadSpeed = FormatSpeed(in.stats.DownloadSpeed)
	view.DownloadSpeedBytes = in.stats.DownloadSpeed
	view.Downloaded = in.stats.Downloaded
	view.Uploaded = in.stats.Uploaded
	view.Peers = in.stats.Peers

	if in.stats.MetadataReady {
		view.Progress = NormalizePercent(fraction(in.total, in.stats.Length))
		remaining := in.stats.Length - in.total
		if remaining > 0 && in.stats.DownloadSpeed > 0 {
			view.TimeRemaining = remaining / in.stats.DownloadSpeed
		}
	}
	if in.stats.Done {
		view.Progress = 100
	}

	view.Files = make([]domain.FileEntry, 0, len(in.files))
	for _, f := range in.files {
		done := in.completed[f.Index]
		entry := domain.FileEntry{
			Name:     f.Path,
			Size:     f.Length,
			Progress: NormalizePercent(fraction(done, f.Length)),
		}
		if Streamable(done, f.Length, in.minProgress) {
			u := StreamURL(in.id, f.Path)
			entry.Streamable = true
			entry.StreamURL = &u
		}
		view.Files = append(view.Files, entry)
	}
	return view
}

func reportedStatus(status domain.StreamStatus, stats domain.TransferStats, first bool) domain.StreamStatus {
	switch {
	case status == domain.StatusCompleted || stats.Done:
		return domain.StatusCompleted
	case first:
		return domain.StatusInitializing
	default:
		return domain.StatusStreaming
	}
}
