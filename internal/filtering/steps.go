package filtering

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spigell/jobmatch/internal/jobs"
)

// recordFilter keeps the items whose record satisfies keep.
type recordFilter struct {
	name    string
	keep    func(*jobs.Record) bool
	details map[string]string
}

func (f *recordFilter) Name() string { return f.name }

func (f *recordFilter) Apply(ctx context.Context, _ Deps, items []jobs.ScoredJob) ([]jobs.ScoredJob, Step, error) {
	if err := ctx.Err(); err != nil {
		return nil, Step{}, err
	}

	kept := make([]jobs.ScoredJob, 0, len(items))
	for i := range items {
		if f.keep(&items[i].Job) {
			kept = append(kept, items[i])
		}
	}
	return kept, Step{Initial: len(items), Dropped: len(items) - len(kept), Left: len(kept)}, nil
}

func (f *recordFilter) Status() Status {
	return Status{Name: f.name, Details: f.details}
}

// NewActive drops records that are no longer active.
func NewActive() Filter {
	return &recordFilter{name: "active", keep: (*jobs.Record).Active}
}

func NewLocation(location string) Filter {
	loc := strings.ToLower(strings.TrimSpace(location))
	return &recordFilter{
		name:    "location",
		details: map[string]string{"contains": loc},
		keep: func(r *jobs.Record) bool {
			return strings.Contains(strings.ToLower(r.Location), loc)
		},
	}
}

func NewEmploymentType(t jobs.EmploymentType) Filter {
	return &recordFilter{
		name:    "employment_type",
		details: map[string]string{"type": string(t)},
		keep:    func(r *jobs.Record) bool { return r.EmploymentType == t },
	}
}

func NewMinSalary(min float64) Filter {
	return &recordFilter{
		name:    "min_salary",
		details: map[string]string{"min": strconv.FormatFloat(min, 'f', -1, 64)},
		keep:    func(r *jobs.Record) bool { return jobs.SalaryReaches(r, min) },
	}
}

func NewInternshipOnly() Filter {
	return &recordFilter{name: "internship_only", keep: func(r *jobs.Record) bool { return r.IsInternship }}
}

func NewRemoteOnly() Filter {
	return &recordFilter{name: "remote_only", keep: func(r *jobs.Record) bool { return r.IsRemote }}
}

func NewJobLevel(level jobs.JobLevel) Filter {
	return &recordFilter{
		name:    "job_level",
		details: map[string]string{"level": string(level)},
		keep:    func(r *jobs.Record) bool { return r.JobLevel == level },
	}
}

// ForQuery builds the steps for every set filter, preceded by the active
// check.
func ForQuery(f jobs.Filters) []Filter {
	steps := []Filter{NewActive()}
	c := f.Canonical()

	if loc, ok := c["location"].(string); ok {
		steps = append(steps, NewLocation(loc))
	}
	if et, ok := c["employmentType"].(string); ok {
		steps = append(steps, NewEmploymentType(jobs.EmploymentType(et)))
	}
	if min, ok := c["minSalary"].(float64); ok {
		steps = append(steps, NewMinSalary(min))
	}
	if _, ok := c["internshipOnly"]; ok {
		steps = append(steps, NewInternshipOnly())
	}
	if _, ok := c["remoteOnly"]; ok {
		steps = append(steps, NewRemoteOnly())
	}
	if lvl, ok := c["jobLevel"].(string); ok {
		steps = append(steps, NewJobLevel(jobs.JobLevel(lvl)))
	}
	return steps
}

// Validate rejects filter values outside the known enums.
func Validate(f jobs.Filters) error {
	if f.EmploymentType != nil && *f.EmploymentType != "" && !f.EmploymentType.Valid() {
		return fmt.Errorf("unknown employment type %q", *f.EmploymentType)
	}
	if f.JobLevel != nil && *f.JobLevel != "" && !f.JobLevel.Valid() {
		return fmt.Errorf("unknown job level %q", *f.JobLevel)
	}
	if f.MinSalary != nil && *f.MinSalary < 0 {
		return fmt.Errorf("minimum salary must not be negative")
	}
	return nil
}
