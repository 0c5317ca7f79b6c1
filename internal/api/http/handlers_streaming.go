package apihttp

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"

	"magnetstream/internal/domain"
	"magnetstream/internal/metrics"
)

// countingWriter tallies bytes handed to the client.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

func (s *Server) handleStreamFile(w http.ResponseWriter, r *http.Request, id domain.StreamID, name string) {
	if s.streamFile == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "stream file use case not configured")
		return
	}

	ctx := r.Context()
	result, err := s.streamFile.Execute(ctx, id, name)
	if err != nil {
		writeUseCaseError(w, err)
		return
	}
	if result.Reader == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "stream reader not available")
		return
	}
	defer result.Reader.Close()

	size := result.File.Length
	w.Header().Set("Content-Type", contentTypeFor(result.File.Path))
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", escapeFilename(result.File.Path)))
	w.Header().Set("Cache-Control", "no-cache")

	if r.Method == http.MethodHead {
		metrics.StreamRequestsTotal.WithLabelValues("head").Inc()
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		return
	}

	start, end := int64(0), size-1
	status := http.StatusOK
	kind := "full"
	if rangeHeader := r.Header.Get("Range"); rangeHeader != "" {
		start, end, err = parseByteRange(rangeHeader, size)
		if errors.Is(err, errInvalidRange) {
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid range")
			return
		}
		if errors.Is(err, errRangeNotSatisfiable) {
			w.Header().Del("Content-Disposition")
			w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
			return
		}
		status = http.StatusPartialContent
		kind = "partial"
	}
	metrics.StreamRequestsTotal.WithLabelValues(kind).Inc()

	if start > 0 {
		if _, err := result.Reader.Seek(start, io.SeekStart); err != nil {
			writeError(w, http.StatusInternalServerError, "stream_error", "failed to seek stream")
			return
		}
	}

	length := end - start + 1
	if size <= 0 {
		length = 0
	}
	w.Header().Set("Content-Length", strconv.FormatInt(length, 10))
	if status == http.StatusPartialContent {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
	}
	w.WriteHeader(status)
	if length == 0 {
		return
	}

	// Headers are out; a failure from here on can only cut the body short,
	// which makes net/http drop the connection.
	cw := &countingWriter{w: w}
	_, err = io.CopyN(cw, result.Reader, length)
	metrics.StreamBytesTotal.Add(float64(cw.n))
	if err != nil {
		metrics.StreamAbortsTotal.Inc()
		level := slog.LevelWarn
		if ctx.Err() != nil {
			level = slog.LevelDebug
		}
		s.logger.Log(ctx, level, "stream copy interrupted",
			slog.String("streamId", string(id)),
			slog.String("file", result.File.Path),
			slog.Int64("start", start),
			slog.Int64("sent", cw.n),
			slog.Int64("expected", length),
			slog.String("error", err.Error()),
		)
	}
}

// escapeFilename percent-encodes the base name for Content-Disposition.
func escapeFilename(name string) string {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	return strings.ReplaceAll(url.QueryEscape(base), "+", "%20")
}
