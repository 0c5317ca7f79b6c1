package anacrolix

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

var ErrReadStalled = errors.New("no data received before stall timeout")

// fileReader is the subset of torrent.Reader used for streaming.
type fileReader interface {
	io.ReadSeekCloser
	SetContext(context.Context)
	SetReadahead(int64)
}

// stallReader bounds every Read by the caller's context and, when stall is
// positive, by a per-read deadline. The underlying reader blocks until the
// requested pieces are downloaded.
type stallReader struct {
	ctx   context.Context
	r     fileReader
	stall time.Duration
}

func newStallReader(ctx context.Context, r fileReader, stall time.Duration) *stallReader {
	if ctx == nil {
		ctx = context.Background()
	}
	r.SetContext(ctx)
	return &stallReader{ctx: ctx, r: r, stall: stall}
}

func (s *stallReader) Read(p []byte) (int, error) {
	if s.stall <= 0 {
		return s.r.Read(p)
	}
	ctx, cancel := context.WithTimeout(s.ctx, s.stall)
	defer cancel()
	s.r.SetContext(ctx)
	defer s.r.SetContext(s.ctx)

	n, err := s.r.Read(p)
	if err != nil && s.ctx.Err() == nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return n, fmt.Errorf("%w: %s", ErrReadStalled, s.stall)
	}
	return n, err
}

func (s *stallReader) Seek(offset int64, whence int) (int64, error) {
	return s.r.Seek(offset, whence)
}

func (s *stallReader) SetReadahead(n int64) {
	s.r.SetReadahead(n)
}

func (s *stallReader) Close() error {
	return s.r.Close()
}
