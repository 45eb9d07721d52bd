package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kubo-market/anomaly-sentinel/internal/domain"
	"github.com/kubo-market/anomaly-sentinel/internal/monitor"
	"github.com/kubo-market/anomaly-sentinel/internal/ring"
	"github.com/kubo-market/anomaly-sentinel/internal/storage"
)

// AlertSender is the dispatcher surface the stream processor needs.
type AlertSender interface {
	Send(level domain.Level, title, message string, details map[string]any) (bool, error)
}

// StreamConfig tunes the scan loop. Zero values take defaults.
type StreamConfig struct {
	Interval      time.Duration
	DedupTTL      time.Duration
	FetchWindow   time.Duration
	FetchLimit    int
	EventCapacity int
}

func (c StreamConfig) withDefaults() StreamConfig {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Second
	}
	if c.DedupTTL <= 0 {
		c.DedupTTL = 300 * time.Second
	}
	if c.FetchWindow <= 0 {
		c.FetchWindow = c.DedupTTL
	}
	if c.FetchLimit <= 0 {
		c.FetchLimit = 1000
	}
	if c.EventCapacity <= 0 {
		c.EventCapacity = 1000
	}
	return c
}

// StreamProcessor periodically scans recently modified records, runs the
// anomaly rules and raises alerts. One mutex guards the dedup cache, the
// event log, the rule registry and the run state; it is always taken before
// the dispatcher's own lock.
type StreamProcessor struct {
	mu sync.Mutex

	source   storage.RecordSource
	detector *monitor.AnomalyDetector
	alerts   AlertSender
	metrics  *monitor.Metrics
	cache    *RecentCache
	events   *ring.Buffer[domain.StreamEvent]
	cfg      StreamConfig
	logger   *zap.Logger
	clock    func() time.Time

	running        bool
	stopRequested  bool
	failed         bool
	lastError      string
	lastFetchError string
	fetchFailures  int
	startedAt      time.Time
	stoppedAt      time.Time
	wake           chan struct{}
	done           chan struct{}
}

// NewStreamProcessor creates a stopped processor.
func NewStreamProcessor(source storage.RecordSource, detector *monitor.AnomalyDetector, alerts AlertSender, cfg StreamConfig, logger *zap.Logger) *StreamProcessor {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	done := make(chan struct{})
	close(done)
	return &StreamProcessor{
		source:   source,
		detector: detector,
		alerts:   alerts,
		metrics:  monitor.NewMetrics(),
		cache:    NewRecentCache(cfg.DedupTTL),
		events:   ring.New[domain.StreamEvent](cfg.EventCapacity),
		cfg:      cfg,
		logger:   logger,
		clock:    time.Now,
		done:     done,
	}
}

// Metrics returns the processor counters.
func (p *StreamProcessor) Metrics() *monitor.Metrics {
	return p.metrics
}

// Start launches the scan loop. It returns false if the loop is already running.
func (p *StreamProcessor) Start() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return false
	}
	p.running = true
	p.stopRequested = false
	p.failed = false
	p.lastError = ""
	p.startedAt = p.clock()
	p.stoppedAt = time.Time{}
	p.metrics.RecordStart(p.startedAt)
	p.wake = make(chan struct{})
	p.done = make(chan struct{})

	go p.run(p.wake, p.done)
	return true
}

// Stop asks the loop to exit. An in-flight tick always completes first; use
// Done to wait for the loop to finish. It returns false if the loop is not
// running or a stop is already pending.
func (p *StreamProcessor) Stop() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running || p.stopRequested {
		return false
	}
	p.stopRequested = true
	close(p.wake)
	return true
}

// Done returns a channel closed once the current loop has exited.
func (p *StreamProcessor) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

func (p *StreamProcessor) run(wake <-chan struct{}, done chan struct{}) {
	defer close(done)
	defer func() {
		if r := recover(); r != nil {
			p.mu.Lock()
			p.failed = true
			p.lastError = fmt.Sprintf("stream loop panic: %v", r)
			p.markStoppedLocked()
			p.mu.Unlock()
			p.logger.Error("stream loop stopped after unrecoverable failure",
				zap.Any("panic", r), zap.Stack("stack"))
		}
	}()

	p.logger.Info("stream processing started", zap.Duration("interval", p.cfg.Interval))
	for !p.stopPending() {
		p.Tick(context.Background())

		timer := time.NewTimer(p.cfg.Interval)
		select {
		case <-wake:
			timer.Stop()
		case <-timer.C:
		}
	}

	p.mu.Lock()
	p.markStoppedLocked()
	p.mu.Unlock()
	p.logger.Info("stream processing stopped")
}

func (p *StreamProcessor) stopPending() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopRequested
}

func (p *StreamProcessor) markStoppedLocked() {
	p.running = false
	p.stopRequested = false
	p.stoppedAt = p.clock()
}

// Tick runs one scan: evict expired cache entries, fetch candidates, filter
// them by modification window and dedup cache, then handle each record in
// source order. A fetch failure aborts the tick and is returned.
func (p *StreamProcessor) Tick(ctx context.Context) error {
	now := p.clock()

	p.mu.Lock()
	p.cache.EvictExpired(now)
	p.mu.Unlock()

	records, _, err := p.source.ListRecent(ctx, time.Time{}, p.cfg.FetchLimit)
	if err != nil {
		p.mu.Lock()
		p.fetchFailures++
		p.lastFetchError = err.Error()
		failures := p.fetchFailures
		p.mu.Unlock()
		p.logger.Error("fetch records failed", zap.Error(err), zap.Int("consecutive_failures", failures))
		return fmt.Errorf("fetch records: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.fetchFailures = 0
	p.lastFetchError = ""

	cutoff := now.Add(-p.cfg.FetchWindow)
	processed, anomalies := 0, 0
	for _, rec := range records {
		if rec.UpdatedAt.Before(cutoff) || !p.cache.ShouldProcess(rec.ID, now) {
			continue
		}
		findings, err := p.handleRecord(rec, now)
		if err != nil {
			p.logger.Warn("record skipped", zap.Int64("record_id", rec.ID), zap.String("record", rec.Name), zap.Error(err))
		}
		p.cache.Mark(rec.ID, now)
		processed++
		anomalies += len(findings)
	}

	p.metrics.RecordTick(processed, anomalies, now)
	if processed > 0 {
		p.logger.Debug("tick complete", zap.Int("processed", processed), zap.Int("anomalies", anomalies))
	}
	return nil
}

// handleRecord detects, logs the event and dispatches alerts for one record.
// A panic is converted to an error so one bad record cannot end the tick.
// Once the event is logged its findings are returned even if dispatch
// panics, so anomalies_detected matches the event log. Callers hold p.mu.
func (p *StreamProcessor) handleRecord(rec domain.Record, now time.Time) (findings []domain.Finding, err error) {
	logged := false
	defer func() {
		if r := recover(); r != nil {
			if !logged {
				findings = nil
			}
			err = fmt.Errorf("handle record %d: panic: %v", rec.ID, r)
		}
	}()

	findings = p.detector.Detect(rec)
	p.events.Push(domain.StreamEvent{
		Timestamp:      now,
		RecordID:       rec.ID,
		RecordName:     rec.Name,
		AnomaliesCount: len(findings),
		Anomalies:      findings,
	})
	logged = true
	p.dispatch(rec, findings)
	return findings, nil
}

func (p *StreamProcessor) dispatch(rec domain.Record, findings []domain.Finding) {
	var high, medium, low []domain.Finding
	for _, f := range findings {
		switch f.Severity {
		case domain.SeverityHigh:
			high = append(high, f)
		case domain.SeverityMedium:
			medium = append(medium, f)
		default:
			low = append(low, f)
		}
	}

	if len(high) > 0 {
		p.sendAlert(domain.LevelCritical,
			fmt.Sprintf("Critical anomalies detected in %s", rec.Name),
			fmt.Sprintf("Record %d (%s) has %d critical anomalies", rec.ID, rec.Name, len(high)),
			rec, high)
	}
	if len(medium) > 0 {
		p.sendAlert(domain.LevelWarning,
			fmt.Sprintf("Anomalies detected in %s", rec.Name),
			fmt.Sprintf("Record %d (%s) has %d anomalies", rec.ID, rec.Name, len(medium)),
			rec, medium)
	}
	if len(low) > 0 {
		p.logger.Info("low severity anomalies", zap.String("record", rec.Name), zap.Int("count", len(low)))
	}
}

func (p *StreamProcessor) sendAlert(level domain.Level, title, message string, rec domain.Record, findings []domain.Finding) {
	ok, err := p.alerts.Send(level, title, message, map[string]any{
		"record":    rec.Name,
		"record_id": rec.ID,
		"anomalies": findings,
	})
	if err != nil {
		p.logger.Error("dispatch alert", zap.String("title", title), zap.Error(err))
	}
	p.metrics.RecordAlert(ok)
}

// ResetMetrics zeroes the stream counters.
func (p *StreamProcessor) ResetMetrics() {
	p.metrics.Reset()
	p.logger.Info("stream metrics reset")
}

// SetRuleEnabled toggles a detection rule. It returns false for an unknown name.
func (p *StreamProcessor) SetRuleEnabled(name string, enabled bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	ok := p.detector.SetRuleEnabled(name, enabled)
	if ok {
		p.logger.Info("detection rule configured", zap.String("rule", name), zap.Bool("enabled", enabled))
	}
	return ok
}
