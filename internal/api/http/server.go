package apihttp

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"magnetstream/internal/domain"
	"magnetstream/internal/usecase"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type StartStreamUseCase interface {
	Execute(ctx context.Context, input usecase.StartStreamInput) (domain.SessionView, error)
}

type GetStatusUseCase interface {
	Execute(ctx context.Context, id domain.StreamID) (domain.SessionView, error)
}

type ListStreamsUseCase interface {
	Execute(ctx context.Context) ([]domain.SessionView, error)
}

type StopStreamUseCase interface {
	Execute(ctx context.Context, id domain.StreamID) error
}

type StreamFileUseCase interface {
	Execute(ctx context.Context, id domain.StreamID, name string) (usecase.StreamResult, error)
}

type StreamHistoryReader interface {
	ListRecent(ctx context.Context, limit int) ([]domain.StreamRecord, error)
}

// StreamCounter reports registry occupancy for the health endpoint.
type StreamCounter interface {
	Len() int
	Max() int
}

// HealthInfo is the static configuration echoed by /api/health.
type HealthInfo struct {
	Addr               string
	UploadEnabled      bool
	PeerLimit          int
	CleanupTimeout     time.Duration
	MinProgressPercent float64
}

type Server struct {
	startStream    StartStreamUseCase
	getStatus      GetStatusUseCase
	listStreams    ListStreamsUseCase
	stopStream     StopStreamUseCase
	streamFile     StreamFileUseCase
	history        StreamHistoryReader
	counter        StreamCounter
	health         HealthInfo
	allowedOrigins []string
	rateRPS        float64
	rateBurst      int
	logger         *slog.Logger
	handler        http.Handler
}

type ServerOption func(*Server)

func WithGetStatus(uc GetStatusUseCase) ServerOption {
	return func(s *Server) {
		s.getStatus = uc
	}
}

func WithListStreams(uc ListStreamsUseCase) ServerOption {
	return func(s *Server) {
		s.listStreams = uc
	}
}

func WithStopStream(uc StopStreamUseCase) ServerOption {
	return func(s *Server) {
		s.stopStream = uc
	}
}

func WithStreamFile(uc StreamFileUseCase) ServerOption {
	return func(s *Server) {
		s.streamFile = uc
	}
}

// WithHistory enables /api/history. Without it the endpoint answers 503.
func WithHistory(history StreamHistoryReader) ServerOption {
	return func(s *Server) {
		s.history = history
	}
}

func WithHealth(counter StreamCounter, info HealthInfo) ServerOption {
	return func(s *Server) {
		s.counter = counter
		s.health = info
	}
}

// WithAllowedOrigins configures the CORS allowed origins whitelist.
// When empty (default), any origin is permitted.
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

func WithRateLimit(rps float64, burst int) ServerOption {
	return func(s *Server) {
		s.rateRPS = rps
		s.rateBurst = burst
	}
}

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

func NewServer(start StartStreamUseCase, opts ...ServerOption) *Server {
	s := &Server{
		startStream: start,
		rateRPS:     100,
		rateBurst:   200,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = slog.Default()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/stream", s.handleStartStream)
	mux.HandleFunc("/api/stream/", s.handleStreamByID)
	mux.HandleFunc("/api/streams", s.handleListStreams)
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/history", s.handleHistory)
	mux.Handle("/metrics", promhttp.Handler())

	traced := otelhttp.NewHandler(loggingMiddleware(s.logger, mux), "magnetstream",
		otelhttp.WithFilter(func(r *http.Request) bool {
			p := r.URL.Path
			return p != "/metrics" && p != "/api/health" && !strings.HasSuffix(p, "/status")
		}),
	)
	s.handler = recoveryMiddleware(s.logger, rateLimitMiddleware(s.rateRPS, s.rateBurst, metricsMiddleware(corsMiddleware(s.allowedOrigins, traced))))
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}
