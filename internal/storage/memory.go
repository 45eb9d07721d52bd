package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kubo-market/anomaly-sentinel/internal/domain"
)

// MemoryRepository is an in-process RecordSource for local runs and tests.
type MemoryRepository struct {
	mu      sync.RWMutex
	records map[int64]domain.Record
	clock   func() time.Time
	err     error
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{records: make(map[int64]domain.Record), clock: time.Now}
}

// SetClock replaces the clock used to stamp upserts.
func (m *MemoryRepository) SetClock(clock func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clock = clock
}

// SetError makes every read fail with err until cleared with nil.
func (m *MemoryRepository) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// UpsertRecord stores a copy of rec stamped with the current time.
func (m *MemoryRepository) UpsertRecord(_ context.Context, rec domain.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := rec.Clone()
	cp.UpdatedAt = m.clock()
	m.records[rec.ID] = cp
	return nil
}

// Ping reports the configured read error, if any.
func (m *MemoryRepository) Ping() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.err
}

func (m *MemoryRepository) ListRecent(_ context.Context, since time.Time, limit int) ([]domain.Record, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return nil, 0, m.err
	}

	matched := make([]domain.Record, 0, len(m.records))
	for _, rec := range m.records {
		if !since.IsZero() && rec.UpdatedAt.Before(since) {
			continue
		}
		matched = append(matched, rec.Clone())
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Name < matched[j].Name })

	total := len(matched)
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, total, nil
}

func (m *MemoryRepository) GetByName(_ context.Context, name string) (*domain.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	for _, rec := range m.records {
		if rec.Name == name {
			cp := rec.Clone()
			return &cp, nil
		}
	}
	return nil, domain.ErrRecordNotFound
}
