package apihttp

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"strings"

	"magnetstream/internal/domain"
	"magnetstream/internal/usecase"
)

const maxStartBodyBytes = 64 << 10

type startStreamJSON struct {
	Magnet   string `json:"magnet"`
	Filename string `json:"filename,omitempty"`
	Name     string `json:"name,omitempty"`
}

func (s *Server) handleStartStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.startStream == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "start stream use case not configured")
		return
	}

	body, ok := s.decodeStartBody(w, r)
	if !ok {
		return
	}
	if strings.TrimSpace(body.Magnet) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "magnet link is required")
		return
	}
	name := body.Filename
	if strings.TrimSpace(name) == "" {
		name = body.Name
	}

	view, err := s.startStream.Execute(r.Context(), usecase.StartStreamInput{
		Magnet: body.Magnet,
		Name:   name,
	})
	if err != nil {
		writeUseCaseError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// decodeStartBody accepts a JSON object or a url-encoded/multipart form.
func (s *Server) decodeStartBody(w http.ResponseWriter, r *http.Request) (startStreamJSON, bool) {
	var body startStreamJSON
	r.Body = http.MaxBytesReader(w, r.Body, maxStartBodyBytes)

	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		mediaType = "application/json"
	}

	switch mediaType {
	case "application/json":
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil && err != io.EOF {
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
			return body, false
		}
	case "application/x-www-form-urlencoded", "multipart/form-data":
		if err := r.ParseMultipartForm(maxStartBodyBytes); err != nil && err != http.ErrNotMultipart {
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid form body")
			return body, false
		}
		body.Magnet = r.FormValue("magnet")
		body.Filename = r.FormValue("filename")
		body.Name = r.FormValue("name")
	default:
		writeError(w, http.StatusUnsupportedMediaType, "unsupported_media_type", "unsupported content type")
		return body, false
	}
	return body, true
}

// handleStreamByID routes /api/stream/{id}, /api/stream/{id}/status and
// /api/stream/{id}/{filename}.
func (s *Server) handleStreamByID(w http.ResponseWriter, r *http.Request) {
	tail := strings.TrimPrefix(r.URL.Path, "/api/stream/")
	id, rest, _ := strings.Cut(tail, "/")
	if id == "" {
		http.NotFound(w, r)
		return
	}
	streamID := domain.StreamID(id)

	switch {
	case rest == "":
		if r.Method != http.MethodDelete {
			w.Header().Set("Allow", http.MethodDelete)
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		s.handleStopStream(w, r, streamID)
	case rest == "status":
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		s.handleStreamStatus(w, r, streamID)
	default:
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		s.handleStreamFile(w, r, streamID, rest)
	}
}

func (s *Server) handleStopStream(w http.ResponseWriter, r *http.Request, id domain.StreamID) {
	if s.stopStream == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "stop stream use case not configured")
		return
	}
	if err := s.stopStream.Execute(r.Context(), id); err != nil {
		writeUseCaseError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Stream stopped"})
}

func (s *Server) handleStreamStatus(w http.ResponseWriter, r *http.Request, id domain.StreamID) {
	if s.getStatus == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "status use case not configured")
		return
	}
	view, err := s.getStatus.Execute(r.Context(), id)
	if err != nil {
		writeUseCaseError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleListStreams(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.listStreams == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "list streams use case not configured")
		return
	}
	views, err := s.listStreams.Execute(r.Context())
	if err != nil {
		writeUseCaseError(w, err)
		return
	}
	if views == nil {
		views = []domain.SessionView{}
	}
	writeJSON(w, http.StatusOK, views)
}

type healthResponse struct {
	Status             string  `json:"status"`
	ActiveStreams      int     `json:"activeStreams"`
	MaxStreams         int     `json:"maxStreams"`
	UploadEnabled      bool    `json:"uploadEnabled"`
	PeerLimit          int     `json:"peerLimit"`
	Addr               string  `json:"addr"`
	CleanupTimeout     int64   `json:"cleanupTimeout"`
	MinProgressPercent float64 `json:"minProgressPercent"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	resp := healthResponse{
		Status:             "healthy",
		UploadEnabled:      s.health.UploadEnabled,
		PeerLimit:          s.health.PeerLimit,
		Addr:               s.health.Addr,
		CleanupTimeout:     int64(s.health.CleanupTimeout.Seconds()),
		MinProgressPercent: s.health.MinProgressPercent,
	}
	if s.counter != nil {
		resp.ActiveStreams = s.counter.Len()
		resp.MaxStreams = s.counter.Max()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, "not_configured", "stream history not configured")
		return
	}

	limit, err := parsePositiveInt(r.URL.Query().Get("limit"), true)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid limit")
		return
	}
	if limit <= 0 {
		limit = 20
	}
	if limit > 200 {
		limit = 200
	}

	records, err := s.history.ListRecent(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "repository_error", "failed to list stream history")
		return
	}
	if records == nil {
		records = []domain.StreamRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}
