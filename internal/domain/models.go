package domain

import (
	"fmt"
	"time"
)

// Stat names in the order they are evaluated and reported.
const (
	StatHP             = "hp"
	StatAttack         = "attack"
	StatDefense        = "defense"
	StatSpecialAttack  = "special_attack"
	StatSpecialDefense = "special_defense"
	StatSpeed          = "speed"
)

// StatNames lists every stat in evaluation order.
var StatNames = []string{StatHP, StatAttack, StatDefense, StatSpecialAttack, StatSpecialDefense, StatSpeed}

// Stats holds the six numeric attributes of a record.
type Stats struct {
	HP             int `json:"hp"`
	Attack         int `json:"attack"`
	Defense        int `json:"defense"`
	SpecialAttack  int `json:"special_attack"`
	SpecialDefense int `json:"special_defense"`
	Speed          int `json:"speed"`
}

// StatValue is a single named stat.
type StatValue struct {
	Name  string
	Value int
}

// Values returns the stats as name/value pairs in StatNames order.
func (s Stats) Values() []StatValue {
	return []StatValue{
		{StatHP, s.HP},
		{StatAttack, s.Attack},
		{StatDefense, s.Defense},
		{StatSpecialAttack, s.SpecialAttack},
		{StatSpecialDefense, s.SpecialDefense},
		{StatSpeed, s.Speed},
	}
}

// Record is a snapshot of one monster record as read from the record source.
type Record struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Stats     Stats     `json:"stats"`
	Types     []string  `json:"types"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	cp := r
	if r.Types != nil {
		cp.Types = append([]string(nil), r.Types...)
	}
	return cp
}

// FindingSeverity ranks a rule violation.
type FindingSeverity string

const (
	SeverityLow    FindingSeverity = "low"
	SeverityMedium FindingSeverity = "medium"
	SeverityHigh   FindingSeverity = "high"
)

// Finding is one rule violation detected on a record.
type Finding struct {
	Rule        string          `json:"rule"`
	Severity    FindingSeverity `json:"severity"`
	Description string          `json:"description"`
	Details     []string        `json:"details"`
}

// StreamEvent is the event-log entry produced for every scanned record.
type StreamEvent struct {
	Timestamp      time.Time `json:"timestamp"`
	RecordID       int64     `json:"record_id"`
	RecordName     string    `json:"record_name"`
	AnomaliesCount int       `json:"anomalies_count"`
	Anomalies      []Finding `json:"anomalies"`
}

// Level is the severity of an alert.
type Level string

const (
	LevelInfo     Level = "info"
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
)

// Levels lists every alert level.
var Levels = []Level{LevelInfo, LevelWarning, LevelCritical}

// ParseLevel converts a string into a Level. Matching is exact.
func ParseLevel(s string) (Level, error) {
	switch Level(s) {
	case LevelInfo:
		return LevelInfo, nil
	case LevelWarning:
		return LevelWarning, nil
	case LevelCritical:
		return LevelCritical, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownLevel, s)
}

// Valid reports whether l is one of the known levels.
func (l Level) Valid() bool {
	return l == LevelInfo || l == LevelWarning || l == LevelCritical
}

// Alert is a notification that passed suppression and rate limiting.
type Alert struct {
	ID           string         `json:"id"`
	Timestamp    time.Time      `json:"timestamp"`
	Level        Level          `json:"level"`
	Title        string         `json:"title"`
	Message      string         `json:"message"`
	Details      map[string]any `json:"details"`
	ChannelsSent []string       `json:"channels_sent"`
}

// TypeVocabulary is the closed set of valid type tags.
var TypeVocabulary = []string{
	"normal", "fire", "water", "electric", "grass", "ice",
	"fighting", "poison", "ground", "flying", "psychic", "bug",
	"rock", "ghost", "dragon", "dark", "steel", "fairy",
}

var knownTypes = func() map[string]struct{} {
	m := make(map[string]struct{}, len(TypeVocabulary))
	for _, t := range TypeVocabulary {
		m[t] = struct{}{}
	}
	return m
}()

// IsKnownType reports whether tag belongs to TypeVocabulary.
func IsKnownType(tag string) bool {
	_, ok := knownTypes[tag]
	return ok
}
