// Package alert turns anomaly findings and manual requests into delivered
// alerts, applying duplicate suppression and rate limiting, and keeps a
// bounded in-memory history with delivery metrics.
package alert

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kubo-market/anomaly-sentinel/internal/domain"
	"github.com/kubo-market/anomaly-sentinel/internal/ring"
)

// Rule names accepted by ConfigureRule.
const (
	RuleDuplicateSuppression = "duplicate_suppression"
	RuleRateLimit            = "rate_limit"
)

// SuppressionRule drops alerts repeating a (title, level) pair inside the window.
type SuppressionRule struct {
	Enabled       bool `json:"enabled" yaml:"enabled"`
	WindowMinutes int  `json:"window_minutes" yaml:"window_minutes"`
}

// RateLimitRule caps the number of alerts of any level inside the window.
type RateLimitRule struct {
	Enabled       bool `json:"enabled" yaml:"enabled"`
	MaxAlerts     int  `json:"max_alerts_per_minute" yaml:"max_alerts_per_minute"`
	WindowMinutes int  `json:"window_minutes" yaml:"window_minutes"`
}

// Rules is the live dispatch policy.
type Rules struct {
	DuplicateSuppression SuppressionRule `json:"duplicate_suppression" yaml:"duplicate_suppression"`
	RateLimit            RateLimitRule   `json:"rate_limit" yaml:"rate_limit"`
}

// DefaultRules enables 5 minute suppression and 10 alerts per minute.
func DefaultRules() Rules {
	return Rules{
		DuplicateSuppression: SuppressionRule{Enabled: true, WindowMinutes: 5},
		RateLimit:            RateLimitRule{Enabled: true, MaxAlerts: 10, WindowMinutes: 1},
	}
}

// RulePatch is a partial update applied by ConfigureRule. Nil fields are left unchanged.
type RulePatch struct {
	Enabled       *bool `json:"enabled,omitempty"`
	WindowMinutes *int  `json:"window_minutes,omitempty"`
	MaxAlerts     *int  `json:"max_alerts_per_minute,omitempty"`
}

// Options configures a Dispatcher.
type Options struct {
	Dir             string
	HistoryCapacity int
	Channels        map[Channel]bool
	Rules           *Rules
	Publisher       Publisher
	Subject         string
	Clock           func() time.Time
	Logger          *zap.Logger
}

// Dispatcher delivers alerts. All methods are safe for concurrent use; one
// mutex is held for the whole of each operation.
type Dispatcher struct {
	mu sync.Mutex

	dir       string
	channels  map[Channel]bool
	rules     Rules
	publisher Publisher
	subject   string
	clock     func() time.Time
	logger    *zap.Logger

	history     *ring.Buffer[domain.Alert]
	total       int64
	byLevel     map[domain.Level]int64
	suppressed  int64
	rateLimited int64
}

// NewDispatcher creates a dispatcher. Zero-valued options take defaults.
func NewDispatcher(opts Options) *Dispatcher {
	if opts.Dir == "" {
		opts.Dir = "data/alerts"
	}
	if opts.HistoryCapacity <= 0 {
		opts.HistoryCapacity = 1000
	}
	if opts.Subject == "" {
		opts.Subject = "sentinel.alerts"
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	channels := DefaultChannels()
	for c, on := range opts.Channels {
		channels[c] = on
	}
	rules := DefaultRules()
	if opts.Rules != nil {
		rules = *opts.Rules
	}
	return &Dispatcher{
		dir:       opts.Dir,
		channels:  channels,
		rules:     rules,
		publisher: opts.Publisher,
		subject:   opts.Subject,
		clock:     opts.Clock,
		logger:    opts.Logger,
		history:   ring.New[domain.Alert](opts.HistoryCapacity),
		byLevel:   newLevelCounts(),
	}
}

func newLevelCounts() map[domain.Level]int64 {
	m := make(map[domain.Level]int64, len(domain.Levels))
	for _, l := range domain.Levels {
		m[l] = 0
	}
	return m
}

// Send dispatches one alert. It returns false without error when the alert
// was suppressed, rate limited or no channel delivered it. An unknown level
// is the only error and leaves all state untouched.
func (d *Dispatcher) Send(level domain.Level, title, message string, details map[string]any) (bool, error) {
	if !level.Valid() {
		return false, fmt.Errorf("send alert: %w: %q", domain.ErrUnknownLevel, level)
	}
	copied := make(map[string]any, len(details))
	for k, v := range details {
		copied[k] = v
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.clock().UTC()
	a := domain.Alert{
		ID:        "alert_" + uuid.NewString(),
		Timestamp: now,
		Level:     level,
		Title:     title,
		Message:   message,
		Details:   copied,
	}

	if d.rules.DuplicateSuppression.Enabled && d.isDuplicate(a, now) {
		d.suppressed++
		d.logger.Debug("alert suppressed", zap.String("title", title), zap.String("level", string(level)))
		return false, nil
	}

	if d.rules.RateLimit.Enabled && d.isRateLimited(now) {
		d.rateLimited++
		d.logger.Warn("alert rate limited", zap.String("title", title), zap.Int("max", d.rules.RateLimit.MaxAlerts))
		return false, nil
	}

	sent := d.deliver(a)
	if len(sent) == 0 {
		d.logger.Warn("alert not delivered by any channel", zap.String("title", title))
		return false, nil
	}
	a.ChannelsSent = sent

	d.history.Push(a)
	d.total++
	d.byLevel[level]++
	return true, nil
}

func (d *Dispatcher) isDuplicate(a domain.Alert, now time.Time) bool {
	cutoff := now.Add(-minutes(d.rules.DuplicateSuppression.WindowMinutes))
	found := false
	d.history.Each(func(prev domain.Alert) bool {
		if !prev.Timestamp.Before(cutoff) && prev.Title == a.Title && prev.Level == a.Level {
			found = true
			return false
		}
		return true
	})
	return found
}

func (d *Dispatcher) isRateLimited(now time.Time) bool {
	cutoff := now.Add(-minutes(d.rules.RateLimit.WindowMinutes))
	count := 0
	d.history.Each(func(prev domain.Alert) bool {
		if !prev.Timestamp.Before(cutoff) {
			count++
		}
		return true
	})
	return count >= d.rules.RateLimit.MaxAlerts
}

func minutes(n int) time.Duration {
	return time.Duration(n) * time.Minute
}

// ConfigureChannel enables or disables a channel. It returns false for an unknown name.
func (d *Dispatcher) ConfigureChannel(name string, enabled bool) bool {
	c, err := ParseChannel(name)
	if err != nil {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.channels[c] = enabled
	d.logger.Info("alert channel configured", zap.String("channel", name), zap.Bool("enabled", enabled))
	return true
}

// ConfigureRule applies patch to the named rule. It returns false, leaving
// state unchanged, for an unknown rule, a field the rule does not have, or a
// non-positive window or limit.
func (d *Dispatcher) ConfigureRule(name string, patch RulePatch) bool {
	if patch.WindowMinutes != nil && *patch.WindowMinutes <= 0 {
		return false
	}
	if patch.MaxAlerts != nil && *patch.MaxAlerts <= 0 {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	switch name {
	case RuleDuplicateSuppression:
		if patch.MaxAlerts != nil {
			return false
		}
		r := &d.rules.DuplicateSuppression
		if patch.Enabled != nil {
			r.Enabled = *patch.Enabled
		}
		if patch.WindowMinutes != nil {
			r.WindowMinutes = *patch.WindowMinutes
		}
	case RuleRateLimit:
		r := &d.rules.RateLimit
		if patch.Enabled != nil {
			r.Enabled = *patch.Enabled
		}
		if patch.WindowMinutes != nil {
			r.WindowMinutes = *patch.WindowMinutes
		}
		if patch.MaxAlerts != nil {
			r.MaxAlerts = *patch.MaxAlerts
		}
	default:
		return false
	}
	d.logger.Info("alert rule configured", zap.String("rule", name))
	return true
}

// Rules returns the current dispatch policy.
func (d *Dispatcher) Rules() Rules {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rules
}

// ChannelStates returns a copy of the channel toggles.
func (d *Dispatcher) ChannelStates() map[Channel]bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.channelStates()
}

func (d *Dispatcher) channelStates() map[Channel]bool {
	out := make(map[Channel]bool, len(d.channels))
	for c, on := range d.channels {
		out[c] = on
	}
	return out
}

// HistoryQuery filters History. Zero values mean no filter; Limit <= 0 means 50.
type HistoryQuery struct {
	Limit int
	Level domain.Level
	Since time.Time
}

// History returns matching alerts, most recent first.
func (d *Dispatcher) History(q HistoryQuery) []domain.Alert {
	if q.Limit <= 0 {
		q.Limit = 50
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]domain.Alert, 0, min(q.Limit, d.history.Len()))
	d.history.Each(func(a domain.Alert) bool {
		if q.Level != "" && a.Level != q.Level {
			return true
		}
		if !q.Since.IsZero() && a.Timestamp.Before(q.Since) {
			return true
		}
		out = append(out, a)
		return len(out) < q.Limit
	})
	return out
}

// ClearHistory empties the history, zeroes every counter and returns the
// number of alerts removed.
func (d *Dispatcher) ClearHistory() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := d.history.Clear()
	d.total = 0
	d.byLevel = newLevelCounts()
	d.suppressed = 0
	d.rateLimited = 0
	d.logger.Info("alert history cleared", zap.Int("removed", n))
	return n
}
