// Package store persists job records and the sync run log.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/spigell/jobmatch/internal/jobs"
)

var (
	ErrRunNotFound  = errors.New("sync run not found")
	ErrRunFinalized = errors.New("sync run already finalized")
)

// Outcome tells what an upsert did to the stored record.
type Outcome string

const (
	Created Outcome = "CREATED"
	// Updated means the content changed or an expired record came back.
	Updated   Outcome = "UPDATED"
	Unchanged Outcome = "UNCHANGED"
)

type ListOptions struct {
	Status  jobs.Status
	Filters jobs.Filters
	// Limit bounds the number of records, newest lastSeenAt first. Zero means no limit.
	Limit int
}

// JobStore is the authoritative set of job records keyed by source id.
type JobStore interface {
	// Upsert records a sighting of p at seenAt. The record stays active until
	// seenAt + window.
	Upsert(ctx context.Context, p jobs.Posting, seenAt time.Time, window time.Duration) (jobs.Record, Outcome, error)
	Get(ctx context.Context, sourceID string) (jobs.Record, bool, error)
	// GetMany and GetByIndexRefs keep the input order and omit unknown keys.
	GetMany(ctx context.Context, sourceIDs []string) ([]jobs.Record, error)
	GetByIndexRefs(ctx context.Context, refs []string) ([]jobs.Record, error)
	// SetIndexRef stores the external index reference. An empty ref clears it.
	SetIndexRef(ctx context.Context, sourceID, ref string) error
	List(ctx context.Context, opts ListOptions) ([]jobs.Record, error)
	// ExpireStale marks active records whose expiresAt is before now as
	// expired and returns them.
	ExpireStale(ctx context.Context, now time.Time) ([]jobs.Record, error)
	Count(ctx context.Context) (jobs.Counts, error)
}

// RunLog keeps the history of sync runs. A finalized run never changes.
type RunLog interface {
	CreateRun(ctx context.Context, run jobs.SyncRun) error
	UpdateRun(ctx context.Context, run jobs.SyncRun) error
	GetRun(ctx context.Context, runID string) (jobs.SyncRun, bool, error)
	// ListRuns returns the most recent runs first.
	ListRuns(ctx context.Context, limit int) ([]jobs.SyncRun, error)
}

type Store interface {
	JobStore
	RunLog
	Close()
}

func newRecord(p jobs.Posting, seenAt time.Time, window time.Duration) jobs.Record {
	return jobs.Record{
		Posting:     p,
		ContentHash: p.Hash(),
		Status:      jobs.StatusActive,
		FirstSeenAt: seenAt,
		LastSeenAt:  seenAt,
		ExpiresAt:   seenAt.Add(window),
	}
}

// merge applies a new sighting to an existing record.
func merge(existing jobs.Record, p jobs.Posting, seenAt time.Time, window time.Duration) (jobs.Record, Outcome) {
	hash := p.Hash()
	outcome := Unchanged
	if hash != existing.ContentHash || !existing.Active() {
		outcome = Updated
		existing.Posting = p
		existing.ContentHash = hash
		existing.Status = jobs.StatusActive
	}
	if seenAt.After(existing.LastSeenAt) {
		existing.LastSeenAt = seenAt
	}
	existing.ExpiresAt = existing.LastSeenAt.Add(window)
	return existing, outcome
}
