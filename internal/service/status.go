package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kubo-market/anomaly-sentinel/internal/domain"
	"github.com/kubo-market/anomaly-sentinel/internal/monitor"
)

// Status is a snapshot of the stream loop for operators.
type Status struct {
	Running                  bool                     `json:"running"`
	Stopping                 bool                     `json:"stopping"`
	Failed                   bool                     `json:"failed"`
	LastError                string                   `json:"last_error,omitempty"`
	LastFetchError           string                   `json:"last_fetch_error,omitempty"`
	ConsecutiveFetchFailures int                      `json:"consecutive_fetch_failures"`
	IntervalSeconds          float64                  `json:"interval_seconds"`
	UptimeSeconds            *float64                 `json:"uptime_seconds"`
	Rules                    []monitor.RuleDescriptor `json:"rules"`
	CacheSize                int                      `json:"cache_size"`
	EventsCount              int                      `json:"events_count"`
	EventsCapacity           int                      `json:"events_capacity"`
	Metrics                  monitor.MetricsSnapshot  `json:"metrics"`
}

// Status returns the current loop state.
func (p *StreamProcessor) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := Status{
		Running:                  p.running,
		Stopping:                 p.stopRequested,
		Failed:                   p.failed,
		LastError:                p.lastError,
		LastFetchError:           p.lastFetchError,
		ConsecutiveFetchFailures: p.fetchFailures,
		IntervalSeconds:          p.cfg.Interval.Seconds(),
		Rules:                    p.detector.Rules(),
		CacheSize:                p.cache.Len(),
		EventsCount:              p.events.Len(),
		EventsCapacity:           p.events.Cap(),
		Metrics:                  p.metrics.Snapshot(),
	}
	if !p.startedAt.IsZero() {
		end := p.clock()
		if !p.running && !p.stoppedAt.IsZero() {
			end = p.stoppedAt
		}
		uptime := end.Sub(p.startedAt).Seconds()
		st.UptimeSeconds = &uptime
	}
	return st
}

// RecentEvents returns the newest limit events, oldest first.
func (p *StreamProcessor) RecentEvents(limit int) []domain.StreamEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.events.Last(limit)
}

// AnomalyKind names a corruption Simulate can apply.
type AnomalyKind string

const (
	KindNegativeStats AnomalyKind = "negative_stats"
	KindInvalidType   AnomalyKind = "invalid_type"
	KindExtremeStats  AnomalyKind = "extreme_stats"
	KindMissingData   AnomalyKind = "missing_data"
)

// ParseAnomalyKind validates a kind name.
func ParseAnomalyKind(s string) (AnomalyKind, error) {
	switch k := AnomalyKind(s); k {
	case KindNegativeStats, KindInvalidType, KindExtremeStats, KindMissingData:
		return k, nil
	}
	return "", fmt.Errorf("%w: %q", domain.ErrUnknownAnomalyKind, s)
}

func (k AnomalyKind) apply(rec *domain.Record) {
	switch k {
	case KindNegativeStats:
		rec.Stats.HP = -10
	case KindInvalidType:
		rec.Types = append(rec.Types, "invalid_type")
	case KindExtremeStats:
		rec.Stats.Attack = 999
	case KindMissingData:
		rec.Types = nil
	}
}

// SimulationResult describes the outcome of Simulate.
type SimulationResult struct {
	RecordName     string           `json:"record_name"`
	AnomalyKind    AnomalyKind      `json:"anomaly_kind"`
	AnomaliesCount int              `json:"anomalies_count"`
	Anomalies      []domain.Finding `json:"anomalies"`
}

// Simulate corrupts an in-memory copy of the named record and runs it
// through the normal per-record path: event log, alerts and the anomaly
// counter. The stored record, the dedup cache and processed_count are left
// untouched.
func (p *StreamProcessor) Simulate(ctx context.Context, name string, kind AnomalyKind) (*SimulationResult, error) {
	kind, err := ParseAnomalyKind(string(kind))
	if err != nil {
		return nil, err
	}

	rec, err := p.source.GetByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("simulate %s: %w", name, err)
	}
	corrupted := rec.Clone()
	kind.apply(&corrupted)

	p.mu.Lock()
	defer p.mu.Unlock()

	findings, err := p.handleRecord(corrupted, p.clock())
	if err != nil {
		return nil, fmt.Errorf("simulate %s: %w", name, err)
	}
	p.metrics.RecordAnomalies(len(findings))
	p.logger.Info("simulated anomaly", zap.String("record", name), zap.String("kind", string(kind)), zap.Int("findings", len(findings)))

	return &SimulationResult{
		RecordName:     name,
		AnomalyKind:    kind,
		AnomaliesCount: len(findings),
		Anomalies:      findings,
	}, nil
}
