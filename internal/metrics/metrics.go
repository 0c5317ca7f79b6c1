package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stream",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "stream",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10, 30, 120, 600},
	}, []string{"method", "path"})

	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "stream",
		Name:      "active_sessions",
		Help:      "Number of currently live stream sessions.",
	})

	AdmissionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stream",
		Name:      "admissions_total",
		Help:      "Admission attempts by result (created, attached, invalid, capacity, disk, engine).",
	}, []string{"result"})

	CleanupsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stream",
		Name:      "cleanups_total",
		Help:      "Destroyed sessions by trigger (completed, stopped, error, idle, shutdown).",
	}, []string{"reason"})

	CleanupErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "stream",
		Name:      "cleanup_errors_total",
		Help:      "Total number of failed session directory removals.",
	})

	StreamRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stream",
		Name:      "file_requests_total",
		Help:      "File stream requests by kind (full, partial, head).",
	}, []string{"kind"})

	StreamBytesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "stream",
		Name:      "bytes_total",
		Help:      "Total bytes written to stream clients.",
	})

	StreamAbortsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "stream",
		Name:      "aborts_total",
		Help:      "Streams aborted after headers were sent.",
	})

	ActiveReaders = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "stream",
		Name:      "active_readers",
		Help:      "Number of file readers currently open.",
	})

	DownloadSpeedBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "stream",
		Name:      "download_speed_bytes",
		Help:      "Current aggregate download speed in bytes per second.",
	})

	UploadSpeedBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "stream",
		Name:      "upload_speed_bytes",
		Help:      "Current aggregate upload speed in bytes per second.",
	})

	PeersConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "stream",
		Name:      "peers_connected",
		Help:      "Total number of peers connected across all sessions.",
	})

	DiskLow = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "stream",
		Name:      "disk_low",
		Help:      "1 while free space under the stream root is below the admission threshold.",
	})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ActiveSessions,
		AdmissionsTotal,
		CleanupsTotal,
		CleanupErrorsTotal,
		StreamRequestsTotal,
		StreamBytesTotal,
		StreamAbortsTotal,
		ActiveReaders,
		DownloadSpeedBytes,
		UploadSpeedBytes,
		PeersConnected,
		DiskLow,
	)
}
