// Package jobs holds the data model shared by the ingestion pipeline and the
// match engine.
package jobs

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

type EmploymentType string

const (
	FullTime   EmploymentType = "FULL_TIME"
	PartTime   EmploymentType = "PART_TIME"
	Contractor EmploymentType = "CONTRACTOR"
	Internship EmploymentType = "INTERNSHIP"
)

func (e EmploymentType) Valid() bool {
	switch e {
	case FullTime, PartTime, Contractor, Internship:
		return true
	default:
		return false
	}
}

type JobLevel string

const (
	EntryLevel  JobLevel = "ENTRY_LEVEL"
	MidLevel    JobLevel = "MID_LEVEL"
	SeniorLevel JobLevel = "SENIOR_LEVEL"
	Executive   JobLevel = "EXECUTIVE"
)

func (l JobLevel) Valid() bool {
	switch l {
	case EntryLevel, MidLevel, SeniorLevel, Executive:
		return true
	default:
		return false
	}
}

type Status string

const (
	StatusActive  Status = "ACTIVE"
	StatusExpired Status = "EXPIRED"
)

// Posting is a normalized upstream posting before it reaches the store.
type Posting struct {
	SourceID       string         `json:"sourceId"`
	Title          string         `json:"title"`
	Company        string         `json:"company"`
	Location       string         `json:"location"`
	Description    string         `json:"description"`
	SalaryMin      *float64       `json:"salaryMin,omitempty"`
	SalaryMax      *float64       `json:"salaryMax,omitempty"`
	EmploymentType EmploymentType `json:"employmentType"`
	JobLevel       JobLevel       `json:"jobLevel"`
	IsRemote       bool           `json:"isRemote"`
	IsInternship   bool           `json:"isInternship"`
	RedirectURL    string         `json:"redirectUrl,omitempty"`
	Category       string         `json:"category,omitempty"`
}

// Hash identifies the mutable content of a posting. Two sightings with
// the same hash do not need to be re-indexed.
func (p *Posting) Hash() string {
	h := sha256.New()
	for _, part := range []string{
		p.Title, p.Company, p.Location, p.Description,
		formatSalary(p.SalaryMin), formatSalary(p.SalaryMax),
		string(p.EmploymentType), string(p.JobLevel),
		strconv.FormatBool(p.IsRemote), strconv.FormatBool(p.IsInternship),
		p.RedirectURL, p.Category,
	} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Record is a posting as persisted in the job store.
type Record struct {
	Posting

	ExternalIndexRef string    `json:"externalIndexRef,omitempty"`
	ContentHash      string    `json:"-"`
	Status           Status    `json:"status"`
	FirstSeenAt      time.Time `json:"firstSeenAt"`
	LastSeenAt       time.Time `json:"lastSeenAt"`
	ExpiresAt        time.Time `json:"expiresAt"`
}

func (r *Record) Active() bool {
	return r.Status == StatusActive
}

// Indexed reports whether the record is known to the external matcher.
func (r *Record) Indexed() bool {
	return r.ExternalIndexRef != ""
}

// Counts tallies the job store.
type Counts struct {
	Total   int `json:"total"`
	Active  int `json:"active"`
	Expired int `json:"expired"`
	Indexed int `json:"indexed"`
}

func formatSalary(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *v)
}
