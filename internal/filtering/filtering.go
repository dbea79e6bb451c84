// Package filtering re-checks resolved match results against the structural
// constraints of a query.
package filtering

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/spigell/jobmatch/internal/jobs"
)

// Filter represents a single filtering step applied to scored results.
type Filter interface {
	Name() string

	Apply(ctx context.Context, deps Deps, items []jobs.ScoredJob) ([]jobs.ScoredJob, Step, error)
}

// Deps aggregates dependencies shared across all filtering steps.
type Deps struct {
	Logger *zap.Logger
}

// Step describes the result of executing a filtering step.
type Step struct {
	Initial int
	Dropped int
	Left    int
}

// Status represents runtime information about a filter.
type Status struct {
	Name    string
	Details map[string]string
}

type statusProvider interface {
	Status() Status
}

// Run executes the supplied filters sequentially. Relative order of the items
// is preserved.
func Run(ctx context.Context, deps Deps, steps []Filter, items []jobs.ScoredJob) ([]jobs.ScoredJob, error) {
	for _, step := range steps {
		next, info, err := step.Apply(ctx, deps, items)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", step.Name(), err)
		}

		if deps.Logger != nil && info.Dropped > 0 {
			deps.Logger.Debug("filter step",
				zap.String("name", step.Name()),
				zap.Int("initial", info.Initial),
				zap.Int("dropped", info.Dropped),
				zap.Int("left", info.Left),
			)
		}

		items = next
	}

	return items, nil
}

// Describe returns status entries for the provided filters.
func Describe(steps []Filter) []Status {
	statuses := make([]Status, 0, len(steps))
	for _, step := range steps {
		if reporter, ok := step.(statusProvider); ok {
			statuses = append(statuses, reporter.Status())
			continue
		}

		statuses = append(statuses, Status{Name: step.Name()})
	}
	return statuses
}
