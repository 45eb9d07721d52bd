package alert

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kubo-market/anomaly-sentinel/internal/domain"
)

// MetricsSnapshot is a point-in-time view of dispatcher counters plus
// values derived from the history.
type MetricsSnapshot struct {
	TotalAlerts       int64                  `json:"total_alerts"`
	AlertsByLevel     map[domain.Level]int64 `json:"alerts_by_level"`
	SuppressedAlerts  int64                  `json:"suppressed_alerts"`
	RateLimitedAlerts int64                  `json:"rate_limited_alerts"`
	Recent24h         int                    `json:"recent_24h"`
	HourlyDist24h     map[string]int         `json:"hourly_distribution_24h"`
	AlertChannels     map[Channel]bool       `json:"alert_channels"`
	AlertRules        Rules                  `json:"alert_rules"`
	BufferUsage       string                 `json:"buffer_usage"`
}

// Metrics returns current counters and the last 24 hours of activity.
func (d *Dispatcher) Metrics() MetricsSnapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.metricsLocked()
}

func (d *Dispatcher) metricsLocked() MetricsSnapshot {
	byLevel := make(map[domain.Level]int64, len(d.byLevel))
	for l, n := range d.byLevel {
		byLevel[l] = n
	}

	cutoff := d.clock().UTC().Add(-24 * time.Hour)
	hourly := make(map[string]int)
	recent := 0
	d.history.Each(func(a domain.Alert) bool {
		if a.Timestamp.Before(cutoff) {
			return true
		}
		recent++
		hourly[strconv.Itoa(a.Timestamp.Hour())]++
		return true
	})

	return MetricsSnapshot{
		TotalAlerts:       d.total,
		AlertsByLevel:     byLevel,
		SuppressedAlerts:  d.suppressed,
		RateLimitedAlerts: d.rateLimited,
		Recent24h:         recent,
		HourlyDist24h:     hourly,
		AlertChannels:     d.channelStates(),
		AlertRules:        d.rules,
		BufferUsage:       fmt.Sprintf("%d/%d", d.history.Len(), d.history.Cap()),
	}
}

// TestResult reports the outcome of TestAlert.
type TestResult struct {
	Success   bool         `json:"success"`
	Message   string       `json:"message"`
	Level     domain.Level `json:"level"`
	Timestamp time.Time    `json:"timestamp"`
}

// TestAlert sends a synthetic alert at the given level through the normal path.
func (d *Dispatcher) TestAlert(level domain.Level) (TestResult, error) {
	now := d.clock().UTC()
	ok, err := d.Send(level,
		"Alert test - "+now.Format("15:04:05"),
		fmt.Sprintf("Test alert at level %s", level),
		map[string]any{
			"test":      true,
			"timestamp": now.Format(time.RFC3339),
			"level":     string(level),
		})
	if err != nil {
		return TestResult{}, err
	}
	msg := "test alert sent"
	if !ok {
		msg = "test alert was not delivered"
	}
	return TestResult{Success: ok, Message: msg, Level: level, Timestamp: now}, nil
}

type exportDocument struct {
	ExportTimestamp time.Time       `json:"export_timestamp"`
	TotalAlerts     int             `json:"total_alerts"`
	Metrics         MetricsSnapshot `json:"metrics"`
	Alerts          []domain.Alert  `json:"alerts"`
}

// Export writes metrics and the full history, oldest first, to a JSON file
// inside the alerts directory and returns its path. An empty filename gets
// a timestamped default.
func (d *Dispatcher) Export(filename string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.clock().UTC()
	if filename == "" {
		filename = "alert_export_" + now.Format("20060102_150405") + ".json"
	}
	if strings.ContainsAny(filename, `/\`) || filename == "." || filename == ".." {
		return "", fmt.Errorf("export alerts: %w: %q", domain.ErrInvalidFilename, filename)
	}

	alerts := d.history.Items()
	doc := exportDocument{
		ExportTimestamp: now,
		TotalAlerts:     len(alerts),
		Metrics:         d.metricsLocked(),
		Alerts:          alerts,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal export: %w", err)
	}
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return "", fmt.Errorf("create alerts dir: %w", err)
	}
	path := filepath.Join(d.dir, filename)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write export: %w", err)
	}
	d.logger.Info("alerts exported", zap.String("path", path), zap.Int("alerts", len(alerts)))
	return path, nil
}
