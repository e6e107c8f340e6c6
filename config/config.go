// Package config loads configuration for the emarket binaries.
// Precedence: command-line flag, then environment variable, then the
// built-in default. Flag defaults are seeded from the environment so a
// plain flag.Parse gives the full chain.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"
)

const (
	// DefaultDocument is the ENTSO-E document type for day-ahead prices.
	DefaultDocument = "A44"
	// DefaultDomain is the Lithuanian bidding zone EIC code.
	DefaultDomain = "10YLT-1001A0008Q"

	DefaultRedisURL = "redis://127.0.0.1:6379"

	DefaultPort        = 8000
	DefaultMetricsPort = 9105
)

// DefaultStartFrom is the earliest instant the importer asks upstream
// for when the hourly series is empty.
var DefaultStartFrom = time.Date(2012, time.January, 1, 0, 0, 0, 0, time.UTC)

// Importer configures the cmd/importer binary.
type Importer struct {
	Document    string
	Domain      string
	Key         string
	RedisURL    string
	EntsoeURL   string // empty selects the client's default endpoint
	StartFrom   time.Time
	MetricsPort int // 0 disables the metrics/health listener
	LogLevel    string
}

// LoadImporter parses args into an importer configuration.
func LoadImporter(args []string) (*Importer, error) {
	metricsPort, err := envInt("METRICS_PORT", DefaultMetricsPort)
	if err != nil {
		return nil, err
	}

	cfg := &Importer{LogLevel: getEnv("LOG_LEVEL", "info")}
	fs := flag.NewFlagSet("importer", flag.ContinueOnError)
	fs.StringVar(&cfg.Document, "document", getEnv("DOCUMENT", DefaultDocument), "ENTSO-E document type")
	fs.StringVar(&cfg.Domain, "domain", getEnv("DOMAIN", DefaultDomain), "EIC area code used for in_Domain and out_Domain")
	fs.StringVar(&cfg.Key, "key", os.Getenv("KEY"), "ENTSO-E security token (required)")
	fs.StringVar(&cfg.RedisURL, "redis-url", getEnv("REDIS_URL", DefaultRedisURL), "redis connection URL")
	fs.StringVar(&cfg.EntsoeURL, "entsoe-url", os.Getenv("ENTSOE_URL"), "transparency API endpoint override")
	startFrom := fs.String("start-from", os.Getenv("START_FROM"), "first instant to import, RFC3339")
	fs.IntVar(&cfg.MetricsPort, "metrics-port", metricsPort, "metrics and health listen port, 0 disables")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg.StartFrom = DefaultStartFrom
	if *startFrom != "" {
		t, err := time.Parse(time.RFC3339, *startFrom)
		if err != nil {
			return nil, fmt.Errorf("parse start-from %q: %w", *startFrom, err)
		}
		cfg.StartFrom = t.UTC()
	}
	if cfg.Key == "" {
		return nil, fmt.Errorf("security key missing: set --key or KEY")
	}
	return cfg, nil
}

// WS configures the cmd/importer-ws binary.
type WS struct {
	Port     int
	RedisURL string
	LogLevel string
}

// LoadWS parses args into a web-service configuration.
func LoadWS(args []string) (*WS, error) {
	port, err := envInt("PORT", DefaultPort)
	if err != nil {
		return nil, err
	}

	cfg := &WS{LogLevel: getEnv("LOG_LEVEL", "info")}
	fs := flag.NewFlagSet("importer-ws", flag.ContinueOnError)
	fs.IntVar(&cfg.Port, "port", port, "HTTP listen port")
	fs.StringVar(&cfg.RedisURL, "redis-url", getEnv("REDIS_URL", DefaultRedisURL), "redis connection URL")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("port %d out of range", cfg.Port)
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s %q: %w", key, v, err)
	}
	return n, nil
}
