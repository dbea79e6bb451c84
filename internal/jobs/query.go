package jobs

import "strings"

type Strategy string

const (
	StrategyExternal Strategy = "EXTERNAL"
	StrategyFallback Strategy = "FALLBACK"
)

// Filters are the structural constraints of a match request. A nil field is
// not set.
type Filters struct {
	Location       *string         `json:"location,omitempty"`
	EmploymentType *EmploymentType `json:"employmentType,omitempty"`
	MinSalary      *float64        `json:"minSalary,omitempty"`
	InternshipOnly *bool           `json:"internshipOnly,omitempty"`
	RemoteOnly     *bool           `json:"remoteOnly,omitempty"`
	JobLevel       *JobLevel       `json:"jobLevel,omitempty"`
}

// Canonical returns the non-nil filters as a flat map with normalized values.
// Empty strings and false flags carry no constraint and are omitted.
func (f Filters) Canonical() map[string]any {
	out := make(map[string]any)
	if f.Location != nil {
		if loc := strings.ToLower(strings.TrimSpace(*f.Location)); loc != "" {
			out["location"] = loc
		}
	}
	if f.EmploymentType != nil && *f.EmploymentType != "" {
		out["employmentType"] = string(*f.EmploymentType)
	}
	if f.MinSalary != nil {
		out["minSalary"] = *f.MinSalary
	}
	if f.InternshipOnly != nil && *f.InternshipOnly {
		out["internshipOnly"] = true
	}
	if f.RemoteOnly != nil && *f.RemoteOnly {
		out["remoteOnly"] = true
	}
	if f.JobLevel != nil && *f.JobLevel != "" {
		out["jobLevel"] = string(*f.JobLevel)
	}
	return out
}

// Matches reports whether the record satisfies every set filter.
func (f Filters) Matches(r *Record) bool {
	c := f.Canonical()
	if loc, ok := c["location"].(string); ok && !strings.Contains(strings.ToLower(r.Location), loc) {
		return false
	}
	if et, ok := c["employmentType"].(string); ok && string(r.EmploymentType) != et {
		return false
	}
	if min, ok := c["minSalary"].(float64); ok && !SalaryReaches(r, min) {
		return false
	}
	if _, ok := c["internshipOnly"]; ok && !r.IsInternship {
		return false
	}
	if _, ok := c["remoteOnly"]; ok && !r.IsRemote {
		return false
	}
	if lvl, ok := c["jobLevel"].(string); ok && string(r.JobLevel) != lvl {
		return false
	}
	return true
}

// SalaryReaches reports whether either end of the salary range is at least min.
// Records without a salary never satisfy a salary floor.
func SalaryReaches(r *Record, min float64) bool {
	if r.SalaryMin != nil && *r.SalaryMin >= min {
		return true
	}
	if r.SalaryMax != nil && *r.SalaryMax >= min {
		return true
	}
	return false
}

type MatchQuery struct {
	Text    string  `json:"text"`
	Filters Filters `json:"filters"`
	Limit   int     `json:"limit,omitempty"`
}

type ScoredJob struct {
	Job   Record  `json:"job"`
	Score float64 `json:"score"`
}

type MatchResult struct {
	Items           []ScoredJob `json:"items"`
	Strategy        Strategy    `json:"strategy"`
	ServedFromCache bool        `json:"servedFromCache"`
	Fingerprint     string      `json:"fingerprint"`
}

func (m *MatchResult) Len() int {
	return len(m.Items)
}
