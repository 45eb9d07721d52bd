package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kubo-market/anomaly-sentinel/internal/alert"
	"github.com/kubo-market/anomaly-sentinel/internal/domain"
	"github.com/kubo-market/anomaly-sentinel/internal/monitor"
)

const (
	SourcePostgres = "postgres"
	SourceMemory   = "memory"
)

type Config struct {
	Port           string
	DatabaseDSN    string
	RecordSource   string
	MigrationsPath string
	SeedData       bool

	LogLevel  string
	LogFormat string

	StreamInterval   time.Duration
	DedupTTL         time.Duration
	FetchWindow      time.Duration
	FetchLimit       int
	EventLogCapacity int

	AlertHistoryCapacity int
	AlertsDir            string

	NATSURL     string
	NATSSubject string

	RedisAddr             string
	MetricsReportInterval time.Duration

	AutoStart bool

	// File is the optional YAML overlay path (SENTINEL_CONFIG).
	File string
}

func Load() Config {
	dedup := parseSeconds(envOrDefault("DEDUP_TTL_SECONDS", "300"), 300)
	return Config{
		Port:           envOrDefault("PORT", "8080"),
		DatabaseDSN:    envOrDefault("DATABASE_DSN", "postgres://postgres@localhost:5432/sentinel?sslmode=disable"),
		RecordSource:   strings.ToLower(envOrDefault("RECORD_SOURCE", SourcePostgres)),
		MigrationsPath: envOrDefault("MIGRATIONS_PATH", "migrations/001_init.sql"),
		SeedData:       parseBool(envOrDefault("SEED_DATA", "false")),

		LogLevel:  envOrDefault("LOG_LEVEL", "info"),
		LogFormat: envOrDefault("LOG_FORMAT", "console"),

		StreamInterval:   parseSeconds(envOrDefault("STREAM_INTERVAL_SECONDS", "5"), 5),
		DedupTTL:         dedup,
		FetchWindow:      parseSeconds(envOrDefault("FETCH_WINDOW_SECONDS", strconv.Itoa(int(dedup/time.Second))), 300),
		FetchLimit:       parseInt(envOrDefault("FETCH_LIMIT", "1000"), 1000),
		EventLogCapacity: parseInt(envOrDefault("EVENT_LOG_CAPACITY", "1000"), 1000),

		AlertHistoryCapacity: parseInt(envOrDefault("ALERT_HISTORY_CAPACITY", "1000"), 1000),
		AlertsDir:            envOrDefault("ALERTS_DIR", "data/alerts"),

		NATSURL:     os.Getenv("NATS_URL"),
		NATSSubject: envOrDefault("NATS_SUBJECT", "sentinel.alerts"),

		RedisAddr:             os.Getenv("REDIS_ADDR"),
		MetricsReportInterval: parseSeconds(envOrDefault("METRICS_REPORT_SECONDS", "30"), 30),

		AutoStart: parseBool(envOrDefault("AUTO_START", "false")),

		File: os.Getenv("SENTINEL_CONFIG"),
	}
}

// Validate rejects settings the stream processor cannot run with.
func (c Config) Validate() error {
	switch c.RecordSource {
	case SourcePostgres, SourceMemory:
	default:
		return fmt.Errorf("%w: RECORD_SOURCE must be %q or %q, got %q", domain.ErrInvalidConfig, SourcePostgres, SourceMemory, c.RecordSource)
	}
	if c.StreamInterval <= 0 {
		return fmt.Errorf("%w: stream interval must be positive", domain.ErrInvalidConfig)
	}
	if c.DedupTTL <= 0 {
		return fmt.Errorf("%w: dedup ttl must be positive", domain.ErrInvalidConfig)
	}
	// A window shorter than the TTL would let records fall out of the scan
	// while still cached.
	if c.FetchWindow < c.DedupTTL {
		return fmt.Errorf("%w: fetch window %s is shorter than dedup ttl %s", domain.ErrInvalidConfig, c.FetchWindow, c.DedupTTL)
	}
	if c.FetchLimit <= 0 || c.EventLogCapacity <= 0 || c.AlertHistoryCapacity <= 0 {
		return fmt.Errorf("%w: fetch limit and capacities must be positive", domain.ErrInvalidConfig)
	}
	if c.MetricsReportInterval <= 0 {
		return fmt.Errorf("%w: metrics report interval must be positive", domain.ErrInvalidConfig)
	}
	return nil
}

// Overlay holds the tunables that are awkward to express as env vars.
type Overlay struct {
	Thresholds     monitor.Thresholds `yaml:"thresholds"`
	DetectionRules map[string]bool    `yaml:"detection_rules"`
	AlertRules     *alert.Rules       `yaml:"alert_rules"`
	Channels       map[string]bool    `yaml:"channels"`
}

// LoadFile reads a YAML overlay. An empty path returns an empty overlay.
// alert_rules is decoded onto alert.DefaultRules, so a section left out of
// the file keeps its default.
func LoadFile(path string) (Overlay, error) {
	if path == "" {
		return Overlay{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Overlay{}, fmt.Errorf("read config %s: %w", path, err)
	}
	var present struct {
		AlertRules *yaml.Node `yaml:"alert_rules"`
	}
	if err := yaml.Unmarshal(data, &present); err != nil {
		return Overlay{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	rules := alert.DefaultRules()
	o := Overlay{AlertRules: &rules}
	if err := yaml.Unmarshal(data, &o); err != nil {
		return Overlay{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if present.AlertRules == nil {
		o.AlertRules = nil
	}
	if err := o.Validate(); err != nil {
		return Overlay{}, fmt.Errorf("config %s: %w", path, err)
	}
	return o, nil
}

func (o Overlay) Validate() error {
	for name, r := range o.Thresholds {
		if !isStatName(name) {
			return fmt.Errorf("%w: unknown stat %q in thresholds", domain.ErrInvalidConfig, name)
		}
		if r.Min > r.Max {
			return fmt.Errorf("%w: threshold %s has min %d above max %d", domain.ErrInvalidConfig, name, r.Min, r.Max)
		}
	}
	for name := range o.DetectionRules {
		if _, ok := monitor.ParseRuleKind(name); !ok {
			return fmt.Errorf("%w: %w %q", domain.ErrInvalidConfig, domain.ErrUnknownRule, name)
		}
	}
	for name := range o.Channels {
		if _, err := alert.ParseChannel(name); err != nil {
			return fmt.Errorf("%w: %w", domain.ErrInvalidConfig, err)
		}
	}
	if r := o.AlertRules; r != nil {
		if r.DuplicateSuppression.WindowMinutes <= 0 || r.RateLimit.WindowMinutes <= 0 || r.RateLimit.MaxAlerts <= 0 {
			return fmt.Errorf("%w: alert rule windows and limits must be positive", domain.ErrInvalidConfig)
		}
	}
	return nil
}

// ChannelStates converts the channel toggles for alert.Options.
func (o Overlay) ChannelStates() map[alert.Channel]bool {
	out := make(map[alert.Channel]bool, len(o.Channels))
	for name, on := range o.Channels {
		if c, err := alert.ParseChannel(name); err == nil {
			out[c] = on
		}
	}
	return out
}

func isStatName(name string) bool {
	for _, s := range domain.StatNames {
		if s == name {
			return true
		}
	}
	return false
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseSeconds(s string, fallback int) time.Duration {
	n, err := strconv.Atoi(s)
	if err != nil {
		n = fallback
	}
	return time.Duration(n) * time.Second
}

func parseInt(s string, fallback int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}

func parseBool(s string) bool {
	b, err := strconv.ParseBool(s)
	return err == nil && b
}
