package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type config struct {
	addr            string
	storeKind       string
	dataPath        string
	redisURL        string
	mongoURI        string
	mongoDB         string
	baseURL         string
	behindProxy     bool
	idLength        int
	idScheme        string
	janitorInterval time.Duration
	tombstones      int
	testMode        bool
	logLevel        string
	corsOrigins     []string
}

// parseConfig reads flags from args. Every flag defaults from its BURNBIN_*
// environment variable, so lookup is injected for tests.
func parseConfig(args []string, lookup func(string) (string, bool)) (config, error) {
	var cfg config
	fs := flag.NewFlagSet("burnbin", flag.ContinueOnError)
	fs.StringVar(&cfg.addr, "addr", envString(lookup, "BURNBIN_ADDR", ":8080"), "listen address")
	fs.StringVar(&cfg.storeKind, "store", envString(lookup, "BURNBIN_STORE", "file"), "store backend: file, memory, redis or mongo")
	fs.StringVar(&cfg.dataPath, "data", envString(lookup, "BURNBIN_DATA", "./burnbin.db"), "path to data file for the file store")
	fs.StringVar(&cfg.redisURL, "redis-url", envString(lookup, "BURNBIN_REDIS_URL", "redis://localhost:6379/0"), "redis connection URL")
	fs.StringVar(&cfg.mongoURI, "mongo-uri", envString(lookup, "BURNBIN_MONGO_URI", "mongodb://localhost:27017"), "mongodb connection URI")
	fs.StringVar(&cfg.mongoDB, "mongo-db", envString(lookup, "BURNBIN_MONGO_DB", "burnbin"), "mongodb database name")
	fs.StringVar(&cfg.baseURL, "base-url", envString(lookup, "BURNBIN_BASE_URL", ""), "canonical base URL (optional)")
	fs.BoolVar(&cfg.behindProxy, "behind-proxy", envBool(lookup, "BURNBIN_BEHIND_PROXY", false), "trust proxy headers for client address and scheme")
	fs.IntVar(&cfg.idLength, "id-length", envInt(lookup, "BURNBIN_ID_LENGTH", 12), "nanoid identifier length")
	fs.StringVar(&cfg.idScheme, "id-scheme", envString(lookup, "BURNBIN_ID_SCHEME", "nanoid"), "identifier scheme: nanoid or uuid")
	fs.DurationVar(&cfg.janitorInterval, "janitor-interval", envDuration(lookup, "BURNBIN_JANITOR_INTERVAL", time.Minute), "purge interval, 0 disables the janitor")
	fs.IntVar(&cfg.tombstones, "tombstones", envInt(lookup, "BURNBIN_TOMBSTONES", 4096), "expired-id cache size, negative disables")
	fs.BoolVar(&cfg.testMode, "test-mode", envBool(lookup, "TEST_MODE", false), "honour the x-test-now-ms clock header")
	fs.StringVar(&cfg.logLevel, "log-level", envString(lookup, "BURNBIN_LOG_LEVEL", "info"), "log level: debug, info, warn or error")
	corsRaw := fs.String("cors-origins", envString(lookup, "BURNBIN_CORS_ORIGINS", ""), "comma-separated origins allowed to call the JSON API")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}
	cfg.corsOrigins = splitList(*corsRaw)

	switch cfg.storeKind {
	case "file", "memory", "redis", "mongo":
	default:
		return config{}, fmt.Errorf("unknown store %q", cfg.storeKind)
	}
	if cfg.idLength <= 0 {
		return config{}, errors.New("id-length must be positive")
	}
	if cfg.janitorInterval < 0 {
		return config{}, errors.New("janitor-interval must not be negative")
	}
	return cfg, nil
}

func parseLevel(name string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q", name)
	}
	return level, nil
}

func envString(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
		return v
	}
	return fallback
}

func envInt(lookup func(string) (string, bool), key string, fallback int) int {
	if v, ok := lookup(key); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(lookup func(string) (string, bool), key string, fallback bool) bool {
	if v, ok := lookup(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if v, ok := lookup(key); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			return d
		}
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if v := strings.TrimSpace(part); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func osLookup(key string) (string, bool) {
	return os.LookupEnv(key)
}
