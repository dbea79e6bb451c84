// Package matcher defines the contract of the external semantic matcher.
package matcher

import (
	"context"
	"strings"

	"github.com/spigell/jobmatch/internal/jobs"
)

const refPrefix = "jobs/"

// Hit is a reference into the external index with a relevance in [0,1].
type Hit struct {
	Ref   string
	Score float64
}

type Matcher interface {
	// Search returns at most limit hits, best first. Filters the index cannot
	// express are left to the caller.
	Search(ctx context.Context, text string, filters jobs.Filters, limit int) ([]Hit, error)
	// Index adds or replaces the record and returns its reference.
	Index(ctx context.Context, rec jobs.Record) (string, error)
	// Retract removes ref. An unknown ref fails with jobs.ErrMatcherNotFound.
	Retract(ctx context.Context, ref string) error
}

func RefFor(sourceID string) string {
	return refPrefix + sourceID
}

// SourceID parses a reference produced by RefFor.
func SourceID(ref string) (string, bool) {
	id, ok := strings.CutPrefix(ref, refPrefix)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}
