// Package cache keeps computed match results keyed by query fingerprint.
package cache

import (
	"context"
	"time"

	"github.com/spigell/jobmatch/internal/jobs"
)

const DefaultTTL = 24 * time.Hour

// Hit references a stored record by source id. Records are re-read from the
// store on every cache hit.
type Hit struct {
	SourceID string  `json:"sourceId"`
	Score    float64 `json:"score"`
}

type Entry struct {
	Fingerprint string        `json:"fingerprint"`
	Strategy    jobs.Strategy `json:"strategy"`
	Results     []Hit         `json:"results"`
	CreatedAt   time.Time     `json:"createdAt"`
	ExpiresAt   time.Time     `json:"expiresAt"`
}

func (e *Entry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// Cache never fails its caller. Storage problems turn into misses.
type Cache interface {
	Get(ctx context.Context, fingerprint string) (Entry, bool)
	Put(ctx context.Context, entry Entry, ttl time.Duration)
	// Count and Clear are administrative and do report storage failures.
	Count(ctx context.Context) (int, error)
	// Clear drops every entry and returns how many were removed.
	Clear(ctx context.Context) (int, error)
}
