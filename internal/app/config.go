package app

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

var DefaultTrackers = []string{
	"wss://tracker.openwebtorrent.com",
	"wss://tracker.btorrent.xyz",
	"wss://tracker.files.fm:7073/announce",
	"udp://tracker.opentrackr.org:1337/announce",
	"udp://tracker.openbittorrent.com:6969/announce",
}

type Config struct {
	HTTPAddr           string
	LogLevel           string
	LogFormat          string
	StreamDir          string
	MaxStreams         int // 0 = unlimited
	CleanupTimeout     time.Duration
	MinProgressPercent float64
	IdleTimeout        time.Duration // 0 = never reap
	ReadaheadBytes     int64
	ReadStallTimeout   time.Duration
	MetadataTimeout    time.Duration
	EnableUpload       bool
	PeerLimit          int
	UploadLimitBytes   int64 // bytes/sec; 0 = unlimited
	DownloadLimitBytes int64 // bytes/sec; 0 = unlimited
	Trackers           []string
	MinFreeDiskBytes   int64 // 0 = disabled
	DiskCheckInterval  time.Duration
	MongoURI           string // empty = history disabled
	MongoDatabase      string
	MongoCollection    string
	CORSAllowedOrigins []string
	RateLimitRPS       float64 // 0 = disabled
	RateLimitBurst     int
	OTelEndpoint       string
	OTelSampleRate     float64
}

// LoadDotEnv loads KEY=VALUE files into the environment without overriding
// variables that are already set. Missing files are skipped.
func LoadDotEnv(files ...string) ([]string, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	var loaded []string
	for _, file := range files {
		if _, err := os.Stat(file); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(file); err != nil {
			return loaded, fmt.Errorf("load %s: %w", file, err)
		}
		loaded = append(loaded, file)
	}
	return loaded, nil
}

func LoadConfig() Config {
	return Config{
		HTTPAddr:           getEnv("HTTP_ADDR", ":3000"),
		LogLevel:           strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:          strings.ToLower(getEnv("LOG_FORMAT", "text")),
		StreamDir:          getEnv("STREAM_DIR", "streams"),
		MaxStreams:         int(getEnvInt64("MAX_STREAMS", 10)),
		CleanupTimeout:     getEnvDuration("CLEANUP_TIMEOUT_SECONDS", time.Hour),
		MinProgressPercent: getEnvFloat("STREAM_MIN_PROGRESS_PERCENT", 3),
		IdleTimeout:        getEnvDuration("STREAM_IDLE_TIMEOUT_SECONDS", 0),
		ReadaheadBytes:     getEnvInt64("STREAM_READAHEAD_BYTES", 1<<20),
		ReadStallTimeout:   getEnvDuration("STREAM_READ_STALL_TIMEOUT_SECONDS", 2*time.Minute),
		MetadataTimeout:    getEnvDuration("STREAM_METADATA_TIMEOUT_SECONDS", 10*time.Minute),
		EnableUpload:       getEnvBool("ENABLE_UPLOAD", true),
		PeerLimit:          int(getEnvInt64("PEER_LIMIT", 100)),
		UploadLimitBytes:   getEnvInt64("UPLOAD_LIMIT_BYTES", 0),
		DownloadLimitBytes: getEnvInt64("DOWNLOAD_LIMIT_BYTES", 0),
		Trackers:           getEnvList("TRACKERS", DefaultTrackers),
		MinFreeDiskBytes:   getEnvInt64("MIN_FREE_DISK_BYTES", 0),
		DiskCheckInterval:  getEnvDuration("DISK_CHECK_INTERVAL_SECONDS", 30*time.Second),
		MongoURI:           getEnv("MONGO_URI", ""),
		MongoDatabase:      getEnv("MONGO_DB", "magnetstream"),
		MongoCollection:    getEnv("MONGO_COLLECTION", "stream_history"),
		CORSAllowedOrigins: parseCSV(os.Getenv("CORS_ALLOWED_ORIGINS")),
		RateLimitRPS:       getEnvFloat("RATE_LIMIT_RPS", 100),
		RateLimitBurst:     int(getEnvInt64("RATE_LIMIT_BURST", 200)),
		OTelEndpoint:       getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTelSampleRate:     getEnvFloat("OTEL_TRACE_SAMPLE_RATE", 0.1),
	}
}

func getEnv(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	if parsed < 0 {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

// getEnvDuration reads a whole number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	seconds := getEnvInt64(key, -1)
	if seconds < 0 {
		return fallback
	}
	return time.Duration(seconds) * time.Second
}

func getEnvList(key string, fallback []string) []string {
	if values := parseCSV(os.Getenv(key)); len(values) > 0 {
		return values
	}
	return append([]string(nil), fallback...)
}

func parseCSV(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
