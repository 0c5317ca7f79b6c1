package ports

import "io"

// StreamReader reads a single file of a transfer. Read blocks until the
// requested bytes have been downloaded and never reports io.EOF before the
// declared file length.
type StreamReader interface {
	io.ReadSeekCloser
	SetReadahead(int64)
}
