package apihttp

import (
	"encoding/json"
	"errors"
	"net/http"
	"path"
	"strconv"
	"strings"

	"magnetstream/internal/domain"
	"magnetstream/internal/usecase"
)

type errorEnvelope struct {
	Error errorPayload `json:"error"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// notReadyEnvelope carries the file's availability next to the error.
type notReadyEnvelope struct {
	Error    errorPayload `json:"error"`
	Progress float64      `json:"progress"`
	Required float64      `json:"required"`
}

func writeUseCaseError(w http.ResponseWriter, err error) {
	var notReady *usecase.NotReadyError
	switch {
	case errors.As(err, &notReady):
		writeJSON(w, http.StatusBadRequest, notReadyEnvelope{
			Error:    errorPayload{Code: "not_ready", Message: "file not ready for streaming yet"},
			Progress: notReady.Progress,
			Required: notReady.Required,
		})
	case errors.Is(err, domain.ErrInvalidDescriptor):
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid magnet link")
	case errors.Is(err, usecase.ErrInsufficientDisk):
		writeError(w, http.StatusTooManyRequests, "insufficient_disk", "insufficient disk space for a new stream")
	case errors.Is(err, domain.ErrCapacityExceeded):
		writeError(w, http.StatusTooManyRequests, "capacity_exceeded", "maximum concurrent streams reached")
	case errors.Is(err, domain.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "not_found", "stream not found")
	case errors.Is(err, domain.ErrFileNotFound):
		writeError(w, http.StatusNotFound, "not_found", "file not found")
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "not found")
	case errors.Is(err, usecase.ErrEngine):
		writeError(w, http.StatusInternalServerError, "engine_error", err.Error())
	case errors.Is(err, usecase.ErrStreamIO):
		writeError(w, http.StatusInternalServerError, "stream_error", "failed to open stream")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorEnvelope{Error: errorPayload{Code: code, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func parsePositiveInt(value string, requirePositive bool) (int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, err
	}
	if n < 0 || (requirePositive && n == 0) {
		return 0, errors.New("invalid integer")
	}
	return n, nil
}

var (
	errInvalidRange        = errors.New("invalid range")
	errRangeNotSatisfiable = errors.New("range not satisfiable")
)

// parseByteRange resolves a single "bytes=" range against size and returns
// the inclusive start and end offsets.
func parseByteRange(value string, size int64) (int64, int64, error) {
	if size <= 0 {
		return 0, 0, errRangeNotSatisfiable
	}

	value = strings.TrimSpace(value)
	lower := strings.ToLower(value)
	if !strings.HasPrefix(lower, "bytes=") {
		return 0, 0, errInvalidRange
	}

	spec := strings.TrimSpace(value[len("bytes="):])
	if spec == "" || strings.Contains(spec, ",") {
		return 0, 0, errInvalidRange
	}

	startStr, endStr, found := strings.Cut(spec, "-")
	if !found {
		return 0, 0, errInvalidRange
	}
	startStr = strings.TrimSpace(startStr)
	endStr = strings.TrimSpace(endStr)

	if startStr == "" {
		if endStr == "" {
			return 0, 0, errInvalidRange
		}
		suffix, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || suffix < 0 {
			return 0, 0, errInvalidRange
		}
		if suffix == 0 {
			return 0, 0, errRangeNotSatisfiable
		}
		if suffix > size {
			suffix = size
		}
		return size - suffix, size - 1, nil
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 {
		return 0, 0, errInvalidRange
	}
	if start >= size {
		return 0, 0, errRangeNotSatisfiable
	}

	if endStr == "" {
		return start, size - 1, nil
	}

	end, err := strconv.ParseInt(endStr, 10, 64)
	if err != nil || end < 0 {
		return 0, 0, errInvalidRange
	}
	if end < start {
		return 0, 0, errInvalidRange
	}
	if end >= size {
		end = size - 1
	}
	return start, end, nil
}

var contentTypes = map[string]string{
	".mp4":  "video/mp4",
	".avi":  "video/x-msvideo",
	".mkv":  "video/x-matroska",
	".mov":  "video/quicktime",
	".wmv":  "video/x-ms-wmv",
	".flv":  "video/x-flv",
	".webm": "video/webm",
	".m4v":  "video/x-m4v",
	".3gp":  "video/3gpp",
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".flac": "audio/flac",
	".ogg":  "audio/ogg",
	".m4a":  "audio/mp4",
	".aac":  "audio/aac",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".bmp":  "image/bmp",
	".webp": "image/webp",
	".pdf":  "application/pdf",
	".txt":  "text/plain",
	".html": "text/html",
	".css":  "text/css",
	".js":   "application/javascript",
	".json": "application/json",
	".xml":  "application/xml",
	".zip":  "application/zip",
	".rar":  "application/x-rar-compressed",
	".7z":   "application/x-7z-compressed",
}

func contentTypeFor(name string) string {
	if ct, ok := contentTypes[strings.ToLower(path.Ext(name))]; ok {
		return ct
	}
	return "application/octet-stream"
}
