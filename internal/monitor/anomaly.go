package monitor

import (
	"fmt"
	"strings"
	"sync"

	"github.com/kubo-market/anomaly-sentinel/internal/domain"
)

// RuleKind identifies a detection rule. Declaration order is evaluation order.
type RuleKind int

const (
	RuleNegativeStats RuleKind = iota
	RuleInvalidTypes
	RuleExtremeStats
	RuleDuplicateRecord
	RuleMissingData
)

var ruleNames = [...]string{
	RuleNegativeStats:   "negative_stats",
	RuleInvalidTypes:    "invalid_types",
	RuleExtremeStats:    "extreme_stats",
	RuleDuplicateRecord: "duplicate_record",
	RuleMissingData:     "missing_data",
}

func (k RuleKind) String() string {
	if k < 0 || int(k) >= len(ruleNames) {
		return fmt.Sprintf("rule(%d)", int(k))
	}
	return ruleNames[k]
}

// ParseRuleKind looks up a rule by name.
func ParseRuleKind(name string) (RuleKind, bool) {
	for i, n := range ruleNames {
		if n == name {
			return RuleKind(i), true
		}
	}
	return 0, false
}

// Range is an inclusive [Min, Max] bound for one stat.
type Range struct {
	Min int `json:"min" yaml:"min"`
	Max int `json:"max" yaml:"max"`
}

// Thresholds maps stat name to its allowed range.
type Thresholds map[string]Range

// DefaultThresholds returns 1-255 for every stat.
func DefaultThresholds() Thresholds {
	t := make(Thresholds, len(domain.StatNames))
	for _, name := range domain.StatNames {
		t[name] = Range{Min: 1, Max: 255}
	}
	return t
}

// RuleDescriptor is the public view of a registry entry.
type RuleDescriptor struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Severity    domain.FindingSeverity `json:"severity"`
	Enabled     bool                   `json:"enabled"`
}

type rule struct {
	kind        RuleKind
	description string
	severity    domain.FindingSeverity
	enabled     bool
}

// AnomalyDetector evaluates records against an ordered rule registry.
type AnomalyDetector struct {
	mu         sync.RWMutex
	rules      []rule
	thresholds Thresholds
}

// NewAnomalyDetector creates a detector with every rule enabled.
// Stats missing from thresholds fall back to the default range.
func NewAnomalyDetector(thresholds Thresholds) *AnomalyDetector {
	merged := DefaultThresholds()
	for name, r := range thresholds {
		merged[name] = r
	}
	return &AnomalyDetector{
		thresholds: merged,
		rules: []rule{
			{RuleNegativeStats, "Detects negative stat values", domain.SeverityHigh, true},
			{RuleInvalidTypes, "Detects type tags outside the known vocabulary", domain.SeverityMedium, true},
			{RuleExtremeStats, "Detects stats outside their configured range", domain.SeverityMedium, true},
			// Registered for configuration only; Detect never evaluates it.
			{RuleDuplicateRecord, "Detects duplicated records", domain.SeverityLow, true},
			{RuleMissingData, "Detects missing required fields", domain.SeverityHigh, true},
		},
	}
}

// Rules returns a snapshot of the registry in evaluation order.
func (d *AnomalyDetector) Rules() []RuleDescriptor {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]RuleDescriptor, len(d.rules))
	for i, r := range d.rules {
		out[i] = RuleDescriptor{
			Name:        r.kind.String(),
			Description: r.description,
			Severity:    r.severity,
			Enabled:     r.enabled,
		}
	}
	return out
}

// SetRuleEnabled toggles a rule. It returns false for an unknown name.
func (d *AnomalyDetector) SetRuleEnabled(name string, enabled bool) bool {
	kind, ok := ParseRuleKind(name)
	if !ok {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.rules {
		if d.rules[i].kind == kind {
			d.rules[i].enabled = enabled
			return true
		}
	}
	return false
}

// Thresholds returns a copy of the stat ranges in use.
func (d *AnomalyDetector) Thresholds() Thresholds {
	out := make(Thresholds, len(d.thresholds))
	for k, v := range d.thresholds {
		out[k] = v
	}
	return out
}

// Detect runs every enabled rule against rec and returns the findings in
// registry order. It has no side effects.
func (d *AnomalyDetector) Detect(rec domain.Record) []domain.Finding {
	d.mu.RLock()
	defer d.mu.RUnlock()

	findings := make([]domain.Finding, 0)
	for _, r := range d.rules {
		if !r.enabled {
			continue
		}
		var details []string
		var summary string
		switch r.kind {
		case RuleNegativeStats:
			details = negativeStats(rec)
			summary = "Negative stats detected"
		case RuleInvalidTypes:
			details = invalidTypes(rec)
			summary = "Invalid types detected"
		case RuleExtremeStats:
			details = d.extremeStats(rec)
			summary = "Extreme stats detected"
		case RuleMissingData:
			details = missingData(rec)
			summary = "Missing required data"
		}
		if len(details) == 0 {
			continue
		}
		findings = append(findings, domain.Finding{
			Rule:        r.kind.String(),
			Severity:    r.severity,
			Description: fmt.Sprintf("%s: %s", summary, strings.Join(details, ", ")),
			Details:     details,
		})
	}
	return findings
}

func negativeStats(rec domain.Record) []string {
	var out []string
	for _, s := range rec.Stats.Values() {
		if s.Value < 0 {
			out = append(out, fmt.Sprintf("%s=%d", s.Name, s.Value))
		}
	}
	return out
}

func invalidTypes(rec domain.Record) []string {
	var out []string
	for _, t := range rec.Types {
		if !domain.IsKnownType(t) {
			out = append(out, t)
		}
	}
	return out
}

// Negative values belong to negativeStats so one defect yields one finding.
func (d *AnomalyDetector) extremeStats(rec domain.Record) []string {
	var out []string
	for _, s := range rec.Stats.Values() {
		if s.Value < 0 {
			continue
		}
		r, ok := d.thresholds[s.Name]
		if !ok {
			continue
		}
		if s.Value < r.Min || s.Value > r.Max {
			out = append(out, fmt.Sprintf("%s=%d (outside range %d-%d)", s.Name, s.Value, r.Min, r.Max))
		}
	}
	return out
}

func missingData(rec domain.Record) []string {
	var out []string
	if strings.TrimSpace(rec.Name) == "" {
		out = append(out, "name")
	}
	if rec.ID <= 0 {
		out = append(out, "id")
	}
	if len(rec.Types) == 0 {
		out = append(out, "types")
	}
	return out
}
