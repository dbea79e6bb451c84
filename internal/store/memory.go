package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/spigell/jobmatch/internal/jobs"
)

type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]jobs.Record
	runs    map[string]jobs.SyncRun
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]jobs.Record),
		runs:    make(map[string]jobs.SyncRun),
	}
}

func (m *MemoryStore) Upsert(_ context.Context, p jobs.Posting, seenAt time.Time, window time.Duration) (jobs.Record, Outcome, error) {
	if p.SourceID == "" {
		return jobs.Record{}, "", fmt.Errorf("upsert: empty source id")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.records[p.SourceID]
	if !ok {
		rec := newRecord(p, seenAt, window)
		m.records[p.SourceID] = rec
		return rec, Created, nil
	}

	rec, outcome := merge(existing, p, seenAt, window)
	m.records[p.SourceID] = rec
	return rec, outcome, nil
}

func (m *MemoryStore) Get(_ context.Context, sourceID string) (jobs.Record, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[sourceID]
	return rec, ok, nil
}

func (m *MemoryStore) GetMany(_ context.Context, sourceIDs []string) ([]jobs.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]jobs.Record, 0, len(sourceIDs))
	for _, id := range sourceIDs {
		if rec, ok := m.records[id]; ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *MemoryStore) GetByIndexRefs(_ context.Context, refs []string) ([]jobs.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byRef := make(map[string]jobs.Record, len(m.records))
	for _, rec := range m.records {
		if rec.Indexed() {
			byRef[rec.ExternalIndexRef] = rec
		}
	}

	out := make([]jobs.Record, 0, len(refs))
	for _, ref := range refs {
		if rec, ok := byRef[ref]; ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *MemoryStore) SetIndexRef(_ context.Context, sourceID, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[sourceID]
	if !ok {
		return fmt.Errorf("set index ref: unknown source id %q", sourceID)
	}
	rec.ExternalIndexRef = ref
	m.records[sourceID] = rec
	return nil
}

func (m *MemoryStore) List(_ context.Context, opts ListOptions) ([]jobs.Record, error) {
	m.mu.RLock()
	out := make([]jobs.Record, 0, len(m.records))
	for _, rec := range m.records {
		if opts.Status != "" && rec.Status != opts.Status {
			continue
		}
		if !opts.Filters.Matches(&rec) {
			continue
		}
		out = append(out, rec)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastSeenAt.Equal(out[j].LastSeenAt) {
			return out[i].LastSeenAt.After(out[j].LastSeenAt)
		}
		return out[i].SourceID < out[j].SourceID
	})
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (m *MemoryStore) ExpireStale(_ context.Context, now time.Time) ([]jobs.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var expired []jobs.Record
	for id, rec := range m.records {
		if !rec.Active() || !now.After(rec.ExpiresAt) {
			continue
		}
		rec.Status = jobs.StatusExpired
		m.records[id] = rec
		expired = append(expired, rec)
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].SourceID < expired[j].SourceID })
	return expired, nil
}

func (m *MemoryStore) Count(_ context.Context) (jobs.Counts, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c := jobs.Counts{Total: len(m.records)}
	for _, rec := range m.records {
		switch rec.Status {
		case jobs.StatusActive:
			c.Active++
		case jobs.StatusExpired:
			c.Expired++
		}
		if rec.Indexed() {
			c.Indexed++
		}
	}
	return c, nil
}

func (m *MemoryStore) CreateRun(_ context.Context, run jobs.SyncRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[run.RunID]; ok {
		return fmt.Errorf("create run: duplicate run id %q", run.RunID)
	}
	m.runs[run.RunID] = run
	return nil
}

func (m *MemoryStore) UpdateRun(_ context.Context, run jobs.SyncRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.runs[run.RunID]
	if !ok {
		return ErrRunNotFound
	}
	if existing.Finalized() {
		return ErrRunFinalized
	}
	m.runs[run.RunID] = run
	return nil
}

func (m *MemoryStore) GetRun(_ context.Context, runID string) (jobs.SyncRun, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[runID]
	return run, ok, nil
}

func (m *MemoryStore) ListRuns(_ context.Context, limit int) ([]jobs.SyncRun, error) {
	m.mu.RLock()
	out := make([]jobs.SyncRun, 0, len(m.runs))
	for _, run := range m.runs {
		out = append(out, run)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.After(out[j].StartedAt)
		}
		return out[i].RunID > out[j].RunID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) Close() {}
