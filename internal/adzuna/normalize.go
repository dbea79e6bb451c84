package adzuna

import (
	"strings"
	"unicode"

	"github.com/spigell/jobmatch/internal/jobs"
)

type rawJob struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	SalaryMin    *float64 `json:"salary_min"`
	SalaryMax    *float64 `json:"salary_max"`
	RedirectURL  string   `json:"redirect_url"`
	Created      string   `json:"created"`
	ContractType string   `json:"contract_type"`
	ContractTime string   `json:"contract_time"`
	Company      struct {
		DisplayName string `json:"display_name"`
	} `json:"company"`
	Location struct {
		DisplayName string   `json:"display_name"`
		Area        []string `json:"area"`
	} `json:"location"`
	Category struct {
		Label string `json:"label"`
		Tag   string `json:"tag"`
	} `json:"category"`
}

var (
	internshipWords = map[string]bool{
		"intern": true, "interns": true, "internship": true, "internships": true,
		"co-op": true, "coop": true, "placement": true, "trainee": true,
	}
	entryWords     = map[string]bool{"entry": true, "junior": true, "graduate": true, "jr": true}
	seniorWords    = map[string]bool{"senior": true, "lead": true, "principal": true, "staff": true, "sr": true}
	executiveWords = map[string]bool{"director": true, "vp": true, "chief": true, "cto": true, "ceo": true, "cfo": true}
	remotePhrases  = []string{"remote", "work from home", "wfh", "telecommute", "home based", "home-based"}
)

// normalize maps an upstream item into a posting. Items without an id are
// rejected.
func normalize(r *rawJob) (jobs.Posting, bool) {
	if r == nil || strings.TrimSpace(r.ID) == "" {
		return jobs.Posting{}, false
	}

	title := strings.TrimSpace(r.Title)
	description := strings.TrimSpace(r.Description)
	titleWords := words(title)
	allWords := words(title + " " + description)

	p := jobs.Posting{
		SourceID:    strings.TrimSpace(r.ID),
		Title:       title,
		Company:     strings.TrimSpace(r.Company.DisplayName),
		Location:    strings.TrimSpace(r.Location.DisplayName),
		Description: description,
		RedirectURL: strings.TrimSpace(r.RedirectURL),
		Category:    strings.TrimSpace(r.Category.Label),
	}

	p.SalaryMin, p.SalaryMax = salaryRange(r.SalaryMin, r.SalaryMax)
	p.IsInternship = anyWord(titleWords, internshipWords)
	p.JobLevel = jobLevel(title, titleWords, p.IsInternship)
	p.EmploymentType = employmentType(r.ContractType, r.ContractTime, p.IsInternship)
	p.IsRemote = isRemote(title+" "+description, allWords)

	return p, true
}

// salaryRange drops non-positive bounds and nulls an inverted range.
func salaryRange(lo, hi *float64) (*float64, *float64) {
	if lo != nil && *lo <= 0 {
		lo = nil
	}
	if hi != nil && *hi <= 0 {
		hi = nil
	}
	if lo != nil && hi != nil && *lo > *hi {
		return nil, nil
	}
	return lo, hi
}

func jobLevel(title string, titleWords []string, internship bool) jobs.JobLevel {
	lower := strings.ToLower(title)
	switch {
	case internship || anyWord(titleWords, entryWords):
		return jobs.EntryLevel
	case anyWord(titleWords, executiveWords) || strings.Contains(lower, "head of"):
		return jobs.Executive
	case anyWord(titleWords, seniorWords):
		return jobs.SeniorLevel
	default:
		return jobs.MidLevel
	}
}

func employmentType(contractType, contractTime string, internship bool) jobs.EmploymentType {
	contractType = strings.ToLower(contractType)
	contractTime = strings.ToLower(contractTime)
	switch {
	case internship:
		return jobs.Internship
	case strings.Contains(contractType, "contract"), strings.Contains(contractType, "temporary"):
		return jobs.Contractor
	case strings.Contains(contractTime, "part"):
		return jobs.PartTime
	default:
		return jobs.FullTime
	}
}

func isRemote(text string, ws []string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range remotePhrases {
		if strings.Contains(phrase, " ") || strings.Contains(phrase, "-") {
			if strings.Contains(lower, phrase) {
				return true
			}
			continue
		}
		for _, w := range ws {
			if w == phrase {
				return true
			}
		}
	}
	return false
}

func words(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-'
	})
}

func anyWord(ws []string, set map[string]bool) bool {
	for _, w := range ws {
		if set[w] {
			return true
		}
	}
	return false
}
