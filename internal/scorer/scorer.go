// Package scorer ranks stored postings against a document without any
// external calls.
package scorer

import (
	"sort"
	"strings"

	"github.com/spigell/jobmatch/internal/jobs"
)

const (
	skillWeight   = 2.0
	genericWeight = 1.0

	DefaultMinScore = 0.1
)

type Weights struct {
	Title float64 `mapstructure:"title"`
	Skill float64 `mapstructure:"skill"`
	Text  float64 `mapstructure:"text"`
}

func DefaultWeights() Weights {
	return Weights{Title: 0.4, Skill: 0.4, Text: 0.2}
}

type Scorer struct {
	weights  Weights
	minScore float64
	vocab    vocabulary
}

// New returns a scorer. Candidates scoring below minScore are dropped by Rank.
func New(weights Weights, minScore float64) *Scorer {
	if weights == (Weights{}) {
		weights = DefaultWeights()
	}
	return &Scorer{
		weights:  weights,
		minScore: minScore,
		vocab:    newVocabulary(skillTerms),
	}
}

// Query is a prepared document.
type Query struct {
	tokens map[string]float64
	skills map[string]bool
	total  float64
}

// Empty reports a document without usable words. Nothing can match it.
func (q Query) Empty() bool { return len(q.tokens) == 0 }

func (s *Scorer) Prepare(text string) Query {
	ws := words(clean(text))
	set := tokenSet(ws)

	q := Query{tokens: make(map[string]float64, len(set)), skills: s.vocab.skills(ws)}
	for tok := range set {
		w := genericWeight
		if s.vocab.single[tok] {
			w = skillWeight
		}
		q.tokens[tok] = w
		q.total += w
	}
	return q
}

// Score is in [0,1].
func (s *Scorer) Score(q Query, rec *jobs.Record) float64 {
	titleWords := words(clean(rec.Title))
	postingWords := words(clean(rec.Title + " " + rec.Description))

	title := s.weights.Title * titleOverlap(q, tokenSet(titleWords))
	skill := s.weights.Skill * skillOverlap(q, s.vocab.skills(postingWords))
	text := s.weights.Text * jaccard(q.tokens, tokenSet(postingWords))

	return clamp(title + skill + text)
}

// Rank scores every candidate, drops those under the minimum score and sorts
// the rest. A document without usable words ranks nothing.
func (s *Scorer) Rank(text string, candidates []jobs.Record) []jobs.ScoredJob {
	q := s.Prepare(text)
	if q.Empty() {
		return []jobs.ScoredJob{}
	}

	out := make([]jobs.ScoredJob, 0, len(candidates))
	for i := range candidates {
		score := s.Score(q, &candidates[i])
		if score < s.minScore {
			continue
		}
		out = append(out, jobs.ScoredJob{Job: candidates[i], Score: score})
	}
	Sort(out)
	return out
}

// Sort orders by score, then fresher postings, then source id.
func Sort(items []jobs.ScoredJob) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.Job.LastSeenAt.Equal(b.Job.LastSeenAt) {
			return a.Job.LastSeenAt.After(b.Job.LastSeenAt)
		}
		return strings.Compare(a.Job.SourceID, b.Job.SourceID) < 0
	})
}

func titleOverlap(q Query, title map[string]bool) float64 {
	if q.total == 0 {
		return 0
	}
	var matched float64
	for tok, w := range q.tokens {
		if title[tok] {
			matched += w
		}
	}
	return matched / q.total
}

func skillOverlap(q Query, posting map[string]bool) float64 {
	if len(q.skills) == 0 {
		return 0
	}
	shared := 0
	for skill := range q.skills {
		if posting[skill] {
			shared++
		}
	}
	return float64(shared) / float64(len(q.skills))
}

func jaccard(a map[string]float64, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for tok := range a {
		if b[tok] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
