package apihttp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"magnetstream/internal/domain"
	"magnetstream/internal/usecase"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeStartStream struct {
	called int
	input  usecase.StartStreamInput
	result domain.SessionView
	err    error
}

func (f *fakeStartStream) Execute(ctx context.Context, input usecase.StartStreamInput) (domain.SessionView, error) {
	f.called++
	f.input = input
	return f.result, f.err
}

type fakeGetStatus struct {
	id     domain.StreamID
	result domain.SessionView
	err    error
}

func (f *fakeGetStatus) Execute(ctx context.Context, id domain.StreamID) (domain.SessionView, error) {
	f.id = id
	return f.result, f.err
}

type fakeListStreams struct {
	result []domain.SessionView
	err    error
}

func (f *fakeListStreams) Execute(ctx context.Context) ([]domain.SessionView, error) {
	return f.result, f.err
}

type fakeStopStream struct {
	ids []domain.StreamID
	err error
}

func (f *fakeStopStream) Execute(ctx context.Context, id domain.StreamID) error {
	f.ids = append(f.ids, id)
	return f.err
}

type fakeHistory struct {
	limit   int
	records []domain.StreamRecord
	err     error
}

func (f *fakeHistory) ListRecent(ctx context.Context, limit int) ([]domain.StreamRecord, error) {
	f.limit = limit
	return f.records, f.err
}

type fakeCounter struct{ active, max int }

func (f fakeCounter) Len() int { return f.active }
func (f fakeCounter) Max() int { return f.max }

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var env errorEnvelope
	decodeBody(t, rec, &env)
	return env.Error.Code
}

func sampleView(id string) domain.SessionView {
	return domain.SessionView{
		StreamID:      domain.StreamID(id),
		Name:          "content",
		Status:        domain.StatusInitializing,
		DownloadSpeed: "0.00",
		CreatedAt:     time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Files:         []domain.FileEntry{{Name: "movie.mp4", Size: 5000}},
	}
}

const testMagnet = "magnet:?xt=urn:btih:0123456789abcdef0123456789abcdef01234567&dn=content"

func TestStartStreamJSON(t *testing.T) {
	start := &fakeStartStream{result: sampleView("s-1")}
	server := NewServer(start, WithLogger(discardLogger()))

	body := `{"magnet":"` + testMagnet + `","filename":"Movie","name":"ignored"}`
	req := httptest.NewRequest(http.MethodPost, "/api/stream", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if start.input.Magnet != testMagnet || start.input.Name != "Movie" {
		t.Fatalf("unexpected input: %+v", start.input)
	}

	var view map[string]any
	decodeBody(t, rec, &view)
	if view["streamId"] != "s-1" || view["status"] != "initializing" {
		t.Fatalf("unexpected view: %v", view)
	}
	files := view["files"].([]any)
	if entry := files[0].(map[string]any); entry["streamUrl"] != nil {
		t.Fatalf("streamUrl should be null, got %v", entry["streamUrl"])
	}
}

func TestStartStreamNameFallback(t *testing.T) {
	start := &fakeStartStream{result: sampleView("s-1")}
	server := NewServer(start, WithLogger(discardLogger()))

	req := httptest.NewRequest(http.MethodPost, "/api/stream", strings.NewReader(`{"magnet":"`+testMagnet+`","name":"Alt"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || start.input.Name != "Alt" {
		t.Fatalf("got %d, input %+v", rec.Code, start.input)
	}
}

func TestStartStreamForm(t *testing.T) {
	start := &fakeStartStream{result: sampleView("s-2")}
	server := NewServer(start, WithLogger(discardLogger()))

	form := url.Values{"magnet": {testMagnet}, "filename": {"Show"}}
	req := httptest.NewRequest(http.MethodPost, "/api/stream", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if start.input.Magnet != testMagnet || start.input.Name != "Show" {
		t.Fatalf("unexpected input: %+v", start.input)
	}
}

func TestStartStreamRejections(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		err         error
		wantStatus  int
		wantCode    string
		wantCalled  bool
	}{
		{"missing magnet", "application/json", `{}`, nil, http.StatusBadRequest, "invalid_request", false},
		{"malformed json", "application/json", `{"magnet":`, nil, http.StatusBadRequest, "invalid_request", false},
		{"unsupported type", "text/plain", testMagnet, nil, http.StatusUnsupportedMediaType, "unsupported_media_type", false},
		{"invalid magnet", "application/json", `{"magnet":"http://x"}`, domain.ErrInvalidDescriptor, http.StatusBadRequest, "invalid_request", true},
		{"capacity", "application/json", `{"magnet":"` + testMagnet + `"}`, domain.ErrCapacityExceeded, http.StatusTooManyRequests, "capacity_exceeded", true},
		{"low disk", "application/json", `{"magnet":"` + testMagnet + `"}`, usecase.ErrInsufficientDisk, http.StatusTooManyRequests, "insufficient_disk", true},
		{"engine failure", "application/json", `{"magnet":"` + testMagnet + `"}`, usecase.ErrEngine, http.StatusInternalServerError, "engine_error", true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			start := &fakeStartStream{err: tc.err}
			server := NewServer(start, WithLogger(discardLogger()))

			req := httptest.NewRequest(http.MethodPost, "/api/stream", strings.NewReader(tc.body))
			req.Header.Set("Content-Type", tc.contentType)
			rec := httptest.NewRecorder()
			server.ServeHTTP(rec, req)

			if rec.Code != tc.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tc.wantStatus, rec.Code, rec.Body.String())
			}
			if code := errorCode(t, rec); code != tc.wantCode {
				t.Fatalf("code = %q, want %q", code, tc.wantCode)
			}
			if (start.called > 0) != tc.wantCalled {
				t.Fatalf("use case called = %d", start.called)
			}
		})
	}
}

func TestStartStreamMethodNotAllowed(t *testing.T) {
	server := NewServer(&fakeStartStream{}, WithLogger(discardLogger()))
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stream", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestStreamStatusEndpoint(t *testing.T) {
	status := &fakeGetStatus{result: sampleView("s-1")}
	server := NewServer(&fakeStartStream{}, WithGetStatus(status), WithLogger(discardLogger()))

	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stream/s-1/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if status.id != "s-1" {
		t.Fatalf("id = %q", status.id)
	}

	status.err = domain.ErrSessionNotFound
	rec = httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stream/missing/status", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestStopStreamEndpoint(t *testing.T) {
	stop := &fakeStopStream{}
	server := NewServer(&fakeStartStream{}, WithStopStream(stop), WithLogger(discardLogger()))

	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/stream/s-1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]string
	decodeBody(t, rec, &body)
	if body["message"] != "Stream stopped" {
		t.Fatalf("unexpected body: %v", body)
	}
	if len(stop.ids) != 1 || stop.ids[0] != "s-1" {
		t.Fatalf("ids = %v", stop.ids)
	}

	stop.err = domain.ErrSessionNotFound
	rec = httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/stream/s-1", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("second stop: expected 404, got %d", rec.Code)
	}
}

func TestStreamByIDMethodNotAllowed(t *testing.T) {
	server := NewServer(&fakeStartStream{}, WithLogger(discardLogger()))
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/stream/s-1"},
		{http.MethodPost, "/api/stream/s-1/status"},
		{http.MethodDelete, "/api/stream/s-1/movie.mp4"},
	} {
		rec := httptest.NewRecorder()
		server.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, nil))
		if rec.Code != http.StatusMethodNotAllowed {
			t.Fatalf("%s %s: expected 405, got %d", tc.method, tc.path, rec.Code)
		}
	}
}

func TestListStreamsEndpoint(t *testing.T) {
	list := &fakeListStreams{}
	server := NewServer(&fakeStartStream{}, WithListStreams(list), WithLogger(discardLogger()))

	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/streams", nil))
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("empty list: got %d %q", rec.Code, rec.Body.String())
	}

	list.result = []domain.SessionView{sampleView("a"), sampleView("b")}
	rec = httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/streams", nil))
	var views []domain.SessionView
	decodeBody(t, rec, &views)
	if len(views) != 2 || views[0].StreamID != "a" || views[1].StreamID != "b" {
		t.Fatalf("unexpected views: %+v", views)
	}
}

func TestHealthEndpoint(t *testing.T) {
	server := NewServer(&fakeStartStream{},
		WithHealth(fakeCounter{active: 2, max: 10}, HealthInfo{
			Addr:               ":3000",
			UploadEnabled:      true,
			PeerLimit:          100,
			CleanupTimeout:     time.Hour,
			MinProgressPercent: 3,
		}),
		WithRateLimit(0.001, 1),
		WithLogger(discardLogger()),
	)

	// Health checks bypass the limiter even with a single-token bucket.
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rec.Code)
		}
		var body healthResponse
		decodeBody(t, rec, &body)
		want := healthResponse{
			Status: "healthy", ActiveStreams: 2, MaxStreams: 10, UploadEnabled: true,
			PeerLimit: 100, Addr: ":3000", CleanupTimeout: 3600, MinProgressPercent: 3,
		}
		if body != want {
			t.Fatalf("health = %+v, want %+v", body, want)
		}
	}
}

func TestHistoryEndpoint(t *testing.T) {
	server := NewServer(&fakeStartStream{}, WithLogger(discardLogger()))
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/history", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("without history: expected 503, got %d", rec.Code)
	}

	history := &fakeHistory{records: []domain.StreamRecord{{ID: "s-1", ContentID: "abc", Status: domain.StatusStopped}}}
	server = NewServer(&fakeStartStream{}, WithHistory(history), WithLogger(discardLogger()))

	rec = httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/history?limit=5", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if history.limit != 5 {
		t.Fatalf("limit = %d", history.limit)
	}
	var records []domain.StreamRecord
	decodeBody(t, rec, &records)
	if len(records) != 1 || records[0].ID != "s-1" {
		t.Fatalf("records = %+v", records)
	}

	rec = httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/history", nil))
	if history.limit != 20 {
		t.Fatalf("default limit = %d", history.limit)
	}

	rec = httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/history?limit=abc", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad limit: expected 400, got %d", rec.Code)
	}

	history.err = errors.New("mongo down")
	rec = httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/history", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("repo error: expected 500, got %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	server := NewServer(&fakeStartStream{}, WithLogger(discardLogger()))
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestCorsHeadersOnAPI(t *testing.T) {
	server := NewServer(&fakeStartStream{}, WithListStreams(&fakeListStreams{}),
		WithAllowedOrigins([]string{"http://player.local"}), WithLogger(discardLogger()))

	req := httptest.NewRequest(http.MethodGet, "/api/streams", nil)
	req.Header.Set("Origin", "http://player.local")
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://player.local" {
		t.Fatalf("ACAO = %q", got)
	}
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("body = %q", rec.Body.String())
	}
}
