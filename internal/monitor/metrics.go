package monitor

import (
	"sync"
	"time"
)

// Metrics tracks in-memory counters for the stream loop.
type Metrics struct {
	mu sync.RWMutex

	processedCount    int64
	anomaliesDetected int64
	alertsTriggered   int64
	alertsDelivered   int64
	lastProcessed     time.Time
	startTime         time.Time
}

// MetricsSnapshot is a point-in-time view of the stream counters.
// AlertsTriggered counts dispatch attempts; AlertsDelivered counts the
// attempts the dispatcher accepted.
type MetricsSnapshot struct {
	ProcessedCount    int64      `json:"processed_count"`
	AnomaliesDetected int64      `json:"anomalies_detected"`
	AlertsTriggered   int64      `json:"alerts_triggered"`
	AlertsDelivered   int64      `json:"alerts_delivered"`
	LastProcessed     *time.Time `json:"last_processed"`
	StartTime         *time.Time `json:"start_time"`
}

// NewMetrics creates a new Metrics instance.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordStart stamps the loop start time.
func (m *Metrics) RecordStart(at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startTime = at
}

// RecordTick adds the result of one tick. An empty tick leaves
// lastProcessed unchanged.
func (m *Metrics) RecordTick(processed, anomalies int, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processedCount += int64(processed)
	m.anomaliesDetected += int64(anomalies)
	if processed > 0 {
		m.lastProcessed = at
	}
}

// RecordAnomalies adds findings produced outside a tick.
func (m *Metrics) RecordAnomalies(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.anomaliesDetected += int64(n)
}

// RecordAlert records one dispatch attempt and whether it was delivered.
func (m *Metrics) RecordAlert(delivered bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alertsTriggered++
	if delivered {
		m.alertsDelivered++
	}
}

// Reset zeroes the counters and lastProcessed. The start time is kept.
func (m *Metrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processedCount = 0
	m.anomaliesDetected = 0
	m.alertsTriggered = 0
	m.alertsDelivered = 0
	m.lastProcessed = time.Time{}
}

// Snapshot returns a point-in-time copy of all metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := MetricsSnapshot{
		ProcessedCount:    m.processedCount,
		AnomaliesDetected: m.anomaliesDetected,
		AlertsTriggered:   m.alertsTriggered,
		AlertsDelivered:   m.alertsDelivered,
	}
	if !m.lastProcessed.IsZero() {
		t := m.lastProcessed
		snap.LastProcessed = &t
	}
	if !m.startTime.IsZero() {
		t := m.startTime
		snap.StartTime = &t
	}
	return snap
}
