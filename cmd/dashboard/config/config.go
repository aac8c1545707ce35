// Package config parses the dashboard's command-line flags and environment.
//
// Every flag has an environment variable fallback; flags win over the
// environment and the environment wins over defaults. Adapter settings are
// read from ADAPTER_* variables into a generic map, e.g. ADAPTER_VALUE_PATH
// becomes "valuePath".
//
// Example usage:
//
//	cfg := config.ParseFlags()
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/HatiCode/sensorboard/pkg/analysis"
	"github.com/HatiCode/sensorboard/pkg/feed"
	"github.com/HatiCode/sensorboard/pkg/tls"
)

// Config holds all dashboard configuration.
type Config struct {
	Listen          string
	GRPCListen      string
	LogFormat       string
	LogLevel        string
	ShutdownTimeout time.Duration

	Storage       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	ResultTTL     time.Duration
	SessionIdle   time.Duration

	TLS        tls.Config
	BackendTLS tls.Config

	Adapter       string
	AdapterConfig map[string]string
	FeedInterval  time.Duration
	WindowSize    int
	FeedTimeRange string
	FeedSensor    string
	FeedThreshold *float64

	AnalyzeURL     string
	AnalyzeTimeout time.Duration
	Streams        []string

	AlertsURL string
	ThemeFile string
}

// ParseFlags parses os.Args and the environment, exiting on invalid input.
func ParseFlags() *Config {
	cfg, err := Parse(os.Args[1:], os.Environ())
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
	return cfg
}

// Parse parses args with environ as the environment fallback.
func Parse(args, environ []string) (*Config, error) {
	env := newEnvMap(environ)
	cfg := &Config{}
	fs := flag.NewFlagSet("dashboard", flag.ContinueOnError)

	fs.StringVar(&cfg.Listen, "listen", env.getEnv("LISTEN", ":8080"), "HTTP listen address")
	fs.StringVar(&cfg.GRPCListen, "grpc-listen", env.getEnv("GRPC_LISTEN", ":50051"), "gRPC health listen address (empty disables)")
	fs.StringVar(&cfg.LogFormat, "log-format", env.getEnv("LOG_FORMAT", "text"), "Log format: text or json")
	fs.StringVar(&cfg.LogLevel, "log-level", env.getEnv("LOG_LEVEL", "info"), "Log level: debug, info, warn, error")
	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", env.getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second), "Graceful shutdown timeout")

	fs.StringVar(&cfg.Storage, "storage", env.getEnv("STORAGE", "memory"), "Result storage: memory or redis")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", env.getEnv("REDIS_ADDR", "localhost:6379"), "Redis server address")
	fs.StringVar(&cfg.RedisPassword, "redis-password", env.getEnv("REDIS_PASSWORD", ""), "Redis password")
	fs.IntVar(&cfg.RedisDB, "redis-db", env.getEnvInt("REDIS_DB", 0), "Redis database number")
	fs.DurationVar(&cfg.ResultTTL, "result-ttl", env.getEnvDuration("RESULT_TTL", 30*time.Minute), "Lifetime of a stored analysis result")
	fs.DurationVar(&cfg.SessionIdle, "session-idle", env.getEnvDuration("SESSION_IDLE", time.Hour), "Drop session state idle for longer than this")

	fs.BoolVar(&cfg.TLS.Enabled, "tls-enabled", env.getEnvBool("TLS_ENABLED", false), "Serve HTTPS")
	fs.StringVar(&cfg.TLS.CertFile, "tls-cert-file", env.getEnv("TLS_CERT_FILE", ""), "Server certificate file")
	fs.StringVar(&cfg.TLS.KeyFile, "tls-key-file", env.getEnv("TLS_KEY_FILE", ""), "Server private key file")
	fs.StringVar(&cfg.TLS.CAFile, "tls-ca-file", env.getEnv("TLS_CA_FILE", ""), "CA for client certificate verification (enables mTLS)")

	fs.BoolVar(&cfg.BackendTLS.Enabled, "backend-tls-enabled", env.getEnvBool("BACKEND_TLS_ENABLED", false), "Use TLS settings for the analysis backend")
	fs.StringVar(&cfg.BackendTLS.CertFile, "backend-tls-cert-file", env.getEnv("BACKEND_TLS_CERT_FILE", ""), "Client certificate for the analysis backend")
	fs.StringVar(&cfg.BackendTLS.KeyFile, "backend-tls-key-file", env.getEnv("BACKEND_TLS_KEY_FILE", ""), "Client private key for the analysis backend")
	fs.StringVar(&cfg.BackendTLS.CAFile, "backend-tls-ca-file", env.getEnv("BACKEND_TLS_CA_FILE", ""), "CA for verifying the analysis backend")

	fs.StringVar(&cfg.Adapter, "adapter", env.getEnv("ADAPTER", "random"), "Sample source: random, http, prometheus or victoriametrics")
	fs.DurationVar(&cfg.FeedInterval, "feed-interval", env.getEnvDuration("FEED_INTERVAL", feed.DefaultInterval), "Live feed polling interval")
	fs.IntVar(&cfg.WindowSize, "window-size", env.getEnvInt("WINDOW_SIZE", feed.DefaultCapacity), "Samples kept in the live window")
	fs.StringVar(&cfg.FeedTimeRange, "feed-time-range", env.getEnv("FEED_TIME_RANGE", ""), "Time range tag shown in the feed label")
	fs.StringVar(&cfg.FeedSensor, "feed-sensor", env.getEnv("FEED_SENSOR", ""), "Sensor tag shown in the feed label")
	threshold := fs.String("feed-threshold", env.getEnv("FEED_THRESHOLD", ""), "Threshold tag shown in the feed label")

	fs.StringVar(&cfg.AnalyzeURL, "analyze-url", env.getEnv("ANALYZE_URL", "http://localhost:8000/api/analyze"), "Analysis backend endpoint")
	fs.DurationVar(&cfg.AnalyzeTimeout, "analyze-timeout", env.getEnvDuration("ANALYZE_TIMEOUT", 30*time.Second), "Analysis request timeout")
	streams := fs.String("streams", env.getEnv("STREAMS", strings.Join(analysis.DefaultStreams, ",")), "Comma-separated selectable streams")

	fs.StringVar(&cfg.AlertsURL, "alerts-url", env.getEnv("ALERTS_URL", ""), "Upstream alert websocket (empty disables)")
	fs.StringVar(&cfg.ThemeFile, "theme-file", env.getEnv("THEME_FILE", ""), "File persisting the dashboard theme (empty keeps it in memory)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg.AdapterConfig = parseAdapterConfig(environ)
	cfg.Streams = splitList(*streams)

	if s := strings.TrimSpace(*threshold); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid feed threshold %q: %w", s, err)
		}
		cfg.FeedThreshold = &v
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Storage != "memory" && c.Storage != "redis" {
		return fmt.Errorf("invalid storage %q (must be memory or redis)", c.Storage)
	}
	if c.FeedInterval <= 0 {
		return fmt.Errorf("feed interval must be > 0")
	}
	if c.WindowSize <= 0 {
		return fmt.Errorf("window size must be > 0")
	}
	if c.AnalyzeURL == "" {
		return fmt.Errorf("analyze url is required")
	}
	if c.AnalyzeTimeout <= 0 {
		return fmt.Errorf("analyze timeout must be > 0")
	}
	if c.ResultTTL <= 0 {
		return fmt.Errorf("result ttl must be > 0")
	}
	if len(c.Streams) < analysis.RequiredStreams {
		return fmt.Errorf("at least %d streams are required, got %d", analysis.RequiredStreams, len(c.Streams))
	}
	if c.TLS.Enabled && (c.TLS.CertFile == "" || c.TLS.KeyFile == "") {
		return fmt.Errorf("tls enabled but cert/key files not specified")
	}
	if err := c.TLS.Validate(); err != nil {
		return fmt.Errorf("server tls: %w", err)
	}
	if err := c.BackendTLS.Validate(); err != nil {
		return fmt.Errorf("backend tls: %w", err)
	}
	return nil
}

// Filters returns the feed label filters.
func (c *Config) Filters() feed.Filters {
	return feed.Filters{
		TimeRange: c.FeedTimeRange,
		Sensor:    c.FeedSensor,
		Threshold: c.FeedThreshold,
	}
}

// parseAdapterConfig collects ADAPTER_* variables into a map keyed by the
// lower camel case suffix: ADAPTER_VALUE_PATH becomes valuePath.
func parseAdapterConfig(environ []string) map[string]string {
	config := make(map[string]string)
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, "ADAPTER_") || len(key) == len("ADAPTER_") {
			continue
		}
		config[toLowerCamelCase(key[len("ADAPTER_"):])] = value
	}
	return config
}

func toLowerCamelCase(s string) string {
	parts := strings.Split(strings.ToLower(s), "_")
	var b strings.Builder
	for i, p := range parts {
		if p == "" {
			continue
		}
		if i > 0 && b.Len() > 0 {
			b.WriteString(strings.ToUpper(p[:1]))
			b.WriteString(p[1:])
			continue
		}
		b.WriteString(p)
	}
	return b.String()
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

type envMap map[string]string

func newEnvMap(environ []string) envMap {
	m := make(envMap, len(environ))
	for _, kv := range environ {
		if k, v, ok := strings.Cut(kv, "="); ok {
			m[k] = v
		}
	}
	return m
}

func (e envMap) getEnv(key, defaultValue string) string {
	if value := e[key]; value != "" {
		return value
	}
	return defaultValue
}

func (e envMap) getEnvInt(key string, defaultValue int) int {
	if value := e[key]; value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func (e envMap) getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := e[key]; value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func (e envMap) getEnvBool(key string, defaultValue bool) bool {
	if value := e[key]; value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}
