package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrSessionNotFound   = errors.New("stream not found")
	ErrFileNotFound      = errors.New("file not found")
	ErrInvalidDescriptor = errors.New("invalid magnet link")
	ErrCapacityExceeded  = errors.New("maximum concurrent streams reached")
)
