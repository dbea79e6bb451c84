package gemini

import (
	"context"
	"encoding/binary"
	"errors"
	"math"

	"github.com/spigell/jobmatch/internal/jobs"
)

// Document is one indexed posting: its embedding plus the metadata search
// filters on.
type Document struct {
	SourceID       string
	Vector         []float32
	Location       string
	EmploymentType jobs.EmploymentType
	JobLevel       jobs.JobLevel
	IsRemote       bool
	IsInternship   bool
	ContentHash    string
}

func documentFor(rec *jobs.Record, vector []float32) Document {
	return Document{
		SourceID:       rec.SourceID,
		Vector:         vector,
		Location:       rec.Location,
		EmploymentType: rec.EmploymentType,
		JobLevel:       rec.JobLevel,
		IsRemote:       rec.IsRemote,
		IsInternship:   rec.IsInternship,
		ContentHash:    rec.ContentHash,
	}
}

// record builds the subset of a job record the filters can look at.
func (d *Document) record() *jobs.Record {
	return &jobs.Record{Posting: jobs.Posting{
		SourceID:       d.SourceID,
		Location:       d.Location,
		EmploymentType: d.EmploymentType,
		JobLevel:       d.JobLevel,
		IsRemote:       d.IsRemote,
		IsInternship:   d.IsInternship,
	}}
}

// Vectors stores documents by source id.
type Vectors interface {
	Put(ctx context.Context, doc Document) error
	// Delete reports whether the document existed.
	Delete(ctx context.Context, sourceID string) (bool, error)
	All(ctx context.Context) ([]Document, error)
}

var errBadVector = errors.New("malformed vector encoding")

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, errBadVector
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}

// cosine returns the similarity of a and b clamped to [0,1]. Vectors of
// different length score zero.
func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(na) * math.Sqrt(nb))
	switch {
	case math.IsNaN(sim) || sim < 0:
		return 0
	case sim > 1:
		return 1
	default:
		return sim
	}
}
