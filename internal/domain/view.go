package domain

import "time"

// FileEntry is the client-facing view of one file of a session.
// StreamURL is nil until the file is streamable.
type FileEntry struct {
	Name       string  `json:"name"`
	Size       int64   `json:"size"`
	Progress   float64 `json:"progress"`
	Streamable bool    `json:"streamable"`
	StreamURL  *string `json:"streamUrl"`
}

// SessionView is returned by admission, status and list queries.
type SessionView struct {
	StreamID           StreamID     `json:"streamId"`
	Name               string       `json:"name"`
	Status             StreamStatus `json:"status"`
	Progress           float64      `json:"progress"`
	DownloadSpeed      string       `json:"downloadSpeed"`
	DownloadSpeedBytes int64        `json:"downloadSpeedBytes"`
	Uploaded           int64        `json:"uploaded"`
	Downloaded         int64        `json:"downloaded"`
	Peers              int          `json:"peers"`
	TimeRemaining      int64        `json:"timeRemaining"`
	CreatedAt          time.Time    `json:"createdAt"`
	Files              []FileEntry  `json:"files"`
}
