package domain

import "time"

// FileState is the engine's view of one file inside a transfer.
type FileState struct {
	Index          int    `json:"index"`
	Path           string `json:"path"`
	Length         int64  `json:"length"`
	BytesCompleted int64  `json:"bytesCompleted"`
}

// TransferStats is a point-in-time snapshot of a transfer. Speeds are
// bytes per second.
type TransferStats struct {
	Length         int64 `json:"length"`
	BytesCompleted int64 `json:"bytesCompleted"`
	DownloadSpeed  int64 `json:"downloadSpeed"`
	UploadSpeed    int64 `json:"uploadSpeed"`
	Downloaded     int64 `json:"downloaded"`
	Uploaded       int64 `json:"uploaded"`
	Peers          int   `json:"peers"`
	MetadataReady  bool  `json:"metadataReady"`
	Done           bool  `json:"done"`
}

type TransferEventKind string

const (
	EventMetadata TransferEventKind = "metadata"
	EventDone     TransferEventKind = "done"
	EventError    TransferEventKind = "error"
)

// TransferEvent is delivered by the engine on a transfer's event channel.
type TransferEvent struct {
	Kind TransferEventKind
	Err  error
	At   time.Time
}
