package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	apihttp "magnetstream/internal/api/http"
	"magnetstream/internal/app"
	"magnetstream/internal/metrics"
	mongorepo "magnetstream/internal/repository/mongo"
	"magnetstream/internal/services/torrent/engine/anacrolix"
	"magnetstream/internal/telemetry"
	"magnetstream/internal/usecase"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"
)

const serviceName = "magnetstream"

func main() {
	loadedEnv, envErr := app.LoadDotEnv()
	cfg := app.LoadConfig()
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	if envErr != nil {
		logger.Warn("dotenv load failed", slog.String("error", envErr.Error()))
	}
	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: serviceName,
		Endpoint:    cfg.OTelEndpoint,
		SampleRate:  cfg.OTelSampleRate,
	}, logger)
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	logger.Info("configuration loaded",
		slog.String("service", serviceName),
		slog.String("httpAddr", cfg.HTTPAddr),
		slog.String("logLevel", cfg.LogLevel),
		slog.String("logFormat", cfg.LogFormat),
		slog.Any("envFiles", loadedEnv),
		slog.String("streamDir", cfg.StreamDir),
		slog.Int("maxStreams", cfg.MaxStreams),
		slog.Duration("cleanupTimeout", cfg.CleanupTimeout),
		slog.Float64("minProgressPercent", cfg.MinProgressPercent),
		slog.Bool("uploadEnabled", cfg.EnableUpload),
		slog.Int("peerLimit", cfg.PeerLimit),
		slog.Bool("historyEnabled", cfg.MongoURI != ""),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.StreamDir, 0o755); err != nil {
		logger.Error("stream dir init failed", slog.String("dir", cfg.StreamDir), slog.String("error", err.Error()))
		os.Exit(1)
	}

	mongoClient, history := connectHistory(rootCtx, cfg, logger)

	engine, err := anacrolix.New(anacrolix.Config{
		DataDir:           cfg.StreamDir,
		Trackers:          cfg.Trackers,
		EnableUpload:      cfg.EnableUpload,
		PeerLimit:         cfg.PeerLimit,
		UploadRateLimit:   cfg.UploadLimitBytes,
		DownloadRateLimit: cfg.DownloadLimitBytes,
		Readahead:         cfg.ReadaheadBytes,
		ReadStallTimeout:  cfg.ReadStallTimeout,
		MetadataTimeout:   cfg.MetadataTimeout,
	})
	if err != nil {
		logger.Error("torrent engine init failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	registry := usecase.NewRegistry(cfg.MaxStreams)
	lifecycle := &usecase.Lifecycle{
		Registry:     registry,
		Logger:       logger,
		MinProgress:  cfg.MinProgressPercent / 100,
		CleanupAfter: cfg.CleanupTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	if history != nil {
		lifecycle.History = history
	}

	var disk *usecase.DiskGuard
	if cfg.MinFreeDiskBytes > 0 {
		disk = usecase.NewDiskGuard(logger, cfg.StreamDir, cfg.MinFreeDiskBytes)
		disk.Interval = cfg.DiskCheckInterval
		go disk.Run(rootCtx)
	}

	go lifecycle.RunReaper(rootCtx)
	go lifecycle.RunMetrics(rootCtx, 5*time.Second)

	startUC := usecase.StartStream{Engine: engine, Lifecycle: lifecycle, Disk: disk, Root: cfg.StreamDir}
	statusUC := usecase.GetStatus{Lifecycle: lifecycle}
	listUC := usecase.ListStreams{Lifecycle: lifecycle}
	stopUC := usecase.StopStream{Lifecycle: lifecycle}
	fileUC := usecase.StreamFile{Lifecycle: lifecycle, ReadaheadBytes: cfg.ReadaheadBytes}

	serverOpts := []apihttp.ServerOption{
		apihttp.WithLogger(logger),
		apihttp.WithGetStatus(statusUC),
		apihttp.WithListStreams(listUC),
		apihttp.WithStopStream(stopUC),
		apihttp.WithStreamFile(fileUC),
		apihttp.WithHealth(registry, apihttp.HealthInfo{
			Addr:               cfg.HTTPAddr,
			UploadEnabled:      cfg.EnableUpload,
			PeerLimit:          cfg.PeerLimit,
			CleanupTimeout:     cfg.CleanupTimeout,
			MinProgressPercent: cfg.MinProgressPercent,
		}),
		apihttp.WithAllowedOrigins(cfg.CORSAllowedOrigins),
		apihttp.WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
	}
	if history != nil {
		serverOpts = append(serverOpts, apihttp.WithHistory(history))
	}

	handler := apihttp.NewServer(startUC, serverOpts...)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logger.Info("server started", slog.String("addr", cfg.HTTPAddr))

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", slog.String("error", err.Error()))
	}
	lifecycle.Shutdown(shutdownCtx)
	if err := engine.Close(); err != nil {
		logger.Warn("engine close error", slog.String("error", err.Error()))
	}
	if mongoClient != nil {
		if err := mongoClient.Disconnect(context.Background()); err != nil {
			logger.Warn("mongo disconnect error", slog.String("error", err.Error()))
		}
	}

	logger.Info("server stopped")
}

// connectHistory opens the optional history store. Streaming works without
// it, so connection failures only disable /api/history.
func connectHistory(ctx context.Context, cfg app.Config, logger *slog.Logger) (*mongo.Client, *mongorepo.HistoryRepository) {
	if cfg.MongoURI == "" {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongorepo.Connect(ctx, cfg.MongoURI, options.Client().SetMonitor(otelmongo.NewMonitor()))
	if err != nil {
		logger.Warn("mongo connect failed, history disabled", slog.String("error", err.Error()))
		return nil, nil
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		logger.Warn("mongo ping failed, history disabled", slog.String("error", err.Error()))
		_ = client.Disconnect(context.Background())
		return nil, nil
	}

	repo := mongorepo.NewHistoryRepository(client, cfg.MongoDatabase, cfg.MongoCollection)
	if err := repo.EnsureIndexes(ctx); err != nil {
		logger.Warn("mongo ensure indexes failed", slog.String("error", err.Error()))
	}
	return client, repo
}

func newLogger(levelRaw, formatRaw string) *slog.Logger {
	level := parseLogLevel(levelRaw)
	options := &slog.HandlerOptions{Level: level}
	format := strings.ToLower(strings.TrimSpace(formatRaw))
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, options))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, options))
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
