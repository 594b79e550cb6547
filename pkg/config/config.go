package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ServerAddr   string
	LogLevel     string
	MaxBodyBytes int64    // bytes for /analyze payload
	Outputs      []string // enabled sinks: log, kafka, ws

	// Log source
	LogSource     string // static, file, http, postgres
	SourceURL     string
	SourceFile    string
	SourceTimeout time.Duration
	PGDSN         string
	PGTable       string
	PGLimit       int64

	// Signed submissions
	HMACSecret  string
	RequireHMAC bool

	PipelineConcurrent bool
	TestMode           bool
}

func getOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
func getBool(k string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(k)))
	switch v {
	case "1", "t", "true", "y", "yes":
		return true
	case "0", "f", "false", "n", "no":
		return false
	}
	return def
}
func getInt64(k string, def int64) int64 {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

// getDuration reads a millisecond count.
func getDuration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			return time.Duration(n) * time.Millisecond
		}
	}
	return def
}

func getStringSlice(k, def string) []string {
	v := os.Getenv(k)
	if v == "" {
		v = def
	}
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// LoadDotEnv loads variables from the given files (default .env) without
// overriding anything already set in the environment. Missing files are
// ignored.
func LoadDotEnv(files ...string) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		_ = godotenv.Load(f)
	}
}

func Load() Config {
	LoadDotEnv()
	return Config{
		ServerAddr:   getOr("SERVER_ADDR", ":19890"),
		LogLevel:     getOr("LOG_LEVEL", "info"),
		MaxBodyBytes: getInt64("MAX_BODY_BYTES", 1<<20), // 1 MiB default
		Outputs:      getStringSlice("OUTPUTS", "log"),  // default to log only

		LogSource:     strings.ToLower(getOr("LOG_SOURCE", "static")),
		SourceURL:     getOr("LOG_SOURCE_URL", "http://localhost:19890/logs"),
		SourceFile:    getOr("LOG_SOURCE_FILE", ""),
		SourceTimeout: getDuration("LOG_SOURCE_TIMEOUT_MS", 5*time.Second),
		PGDSN:         getOr("PG_DSN", ""),
		PGTable:       getOr("PG_TABLE", "access_logs"),
		PGLimit:       getInt64("PG_LIMIT", 500),

		HMACSecret:  getOr("HMAC_SECRET", ""),
		RequireHMAC: getBool("REQUIRE_HMAC", false),

		PipelineConcurrent: getBool("PIPELINE_CONCURRENT", true),
		TestMode:           getBool("TEST_MODE", false),
	}
}
