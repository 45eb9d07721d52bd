package service

import (
	"sort"
	"time"

	"github.com/kubo-market/anomaly-sentinel/internal/domain"
)

const topOffendersLimit = 5

// AnomalyReport summarizes the findings held in the event log.
type AnomalyReport struct {
	Events               int                            `json:"events"`
	RecordsWithAnomalies int                            `json:"records_with_anomalies"`
	AnomalyRate          float64                        `json:"anomaly_rate"`
	FindingsByRule       map[string]int                 `json:"findings_by_rule"`
	FindingsBySeverity   map[domain.FindingSeverity]int `json:"findings_by_severity"`
	TopOffenders         []Offender                     `json:"top_offenders"`
	TimeRange            TimeRange                      `json:"time_range"`
}

// Offender is a record with findings in the event log.
type Offender struct {
	RecordID   int64     `json:"record_id"`
	RecordName string    `json:"record_name"`
	Findings   int       `json:"findings"`
	LastSeenAt time.Time `json:"last_seen_at"`
}

// TimeRange specifies the window of a report.
type TimeRange struct {
	From *time.Time `json:"from"`
	To   *time.Time `json:"to"`
}

// Report aggregates the event log. Counts cover only the events still
// buffered, so older activity ages out with the log.
func (p *StreamProcessor) Report() AnomalyReport {
	p.mu.Lock()
	events := p.events.Items()
	p.mu.Unlock()
	return buildReport(events)
}

func buildReport(events []domain.StreamEvent) AnomalyReport {
	report := AnomalyReport{
		Events:             len(events),
		FindingsByRule:     make(map[string]int),
		FindingsBySeverity: make(map[domain.FindingSeverity]int),
		TopOffenders:       []Offender{},
	}
	if len(events) == 0 {
		return report
	}
	from, to := events[0].Timestamp, events[len(events)-1].Timestamp
	report.TimeRange = TimeRange{From: &from, To: &to}

	offenders := make(map[int64]*Offender)
	for _, ev := range events {
		if ev.AnomaliesCount == 0 {
			continue
		}
		report.RecordsWithAnomalies++
		for _, f := range ev.Anomalies {
			report.FindingsByRule[f.Rule]++
			report.FindingsBySeverity[f.Severity]++
		}
		o, ok := offenders[ev.RecordID]
		if !ok {
			o = &Offender{RecordID: ev.RecordID, RecordName: ev.RecordName}
			offenders[ev.RecordID] = o
		}
		o.Findings += ev.AnomaliesCount
		o.LastSeenAt = ev.Timestamp
	}
	report.AnomalyRate = float64(report.RecordsWithAnomalies) / float64(report.Events) * 100

	for _, o := range offenders {
		report.TopOffenders = append(report.TopOffenders, *o)
	}
	sort.Slice(report.TopOffenders, func(i, j int) bool {
		a, b := report.TopOffenders[i], report.TopOffenders[j]
		if a.Findings != b.Findings {
			return a.Findings > b.Findings
		}
		return a.RecordName < b.RecordName
	})
	if len(report.TopOffenders) > topOffendersLimit {
		report.TopOffenders = report.TopOffenders[:topOffendersLimit]
	}
	return report
}
