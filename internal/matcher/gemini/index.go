package gemini

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/jobmatch/internal/jobs"
	"github.com/spigell/jobmatch/internal/logger"
	"github.com/spigell/jobmatch/internal/matcher"
	"github.com/spigell/jobmatch/internal/retry"
)

const maxDocumentRunes = 8000

type embedder interface {
	Embed(ctx context.Context, text, task string) ([]float32, error)
	Model() string
}

// Index is a matcher.Matcher backed by an embedder and a vector store.
type Index struct {
	embedder embedder
	vectors  Vectors
	policy   retry.Policy
	logger   *zap.Logger
}

var _ matcher.Matcher = (*Index)(nil)

func NewIndex(e embedder, vectors Vectors, log *zap.Logger) *Index {
	return &Index{
		embedder: e,
		vectors:  vectors,
		policy:   retry.DefaultPolicy(),
		logger:   logger.WithProvider(log, Provider, e.Model()),
	}
}

// WithRetryPolicy replaces the retry policy used for vector storage calls.
func (i *Index) WithRetryPolicy(p retry.Policy) *Index {
	i.policy = p
	return i
}

func (i *Index) Search(ctx context.Context, text string, filters jobs.Filters, limit int) ([]matcher.Hit, error) {
	query, err := i.embedder.Embed(ctx, text, TaskQuery)
	if err != nil {
		return nil, err
	}

	docs, err := retry.Value(ctx, i.policy, i.logger, "vector scan", func(ctx context.Context) ([]Document, error) {
		docs, err := i.vectors.All(ctx)
		return docs, unavailable("scan vectors", err)
	})
	if err != nil {
		return nil, err
	}

	// Salary is not part of the indexed metadata.
	expressible := filters
	expressible.MinSalary = nil

	hits := make([]matcher.Hit, 0, len(docs))
	for idx := range docs {
		doc := &docs[idx]
		if !expressible.Matches(doc.record()) {
			continue
		}
		hits = append(hits, matcher.Hit{Ref: matcher.RefFor(doc.SourceID), Score: cosine(query, doc.Vector)})
	}

	sort.SliceStable(hits, func(a, b int) bool {
		if hits[a].Score != hits[b].Score {
			return hits[a].Score > hits[b].Score
		}
		return hits[a].Ref < hits[b].Ref
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}

	i.logger.Debug("vector search done", zap.Int("documents", len(docs)), zap.Int("hits", len(hits)))
	return hits, nil
}

func (i *Index) Index(ctx context.Context, rec jobs.Record) (string, error) {
	vec, err := i.embedder.Embed(ctx, documentText(&rec), TaskDocument)
	if err != nil {
		return "", err
	}

	doc := documentFor(&rec, vec)
	err = retry.Do(ctx, i.policy, i.logger, "vector put", func(ctx context.Context) error {
		return unavailable("put vector", i.vectors.Put(ctx, doc))
	})
	if err != nil {
		return "", err
	}

	ref := matcher.RefFor(rec.SourceID)
	i.logger.Debug("indexed posting", zap.String(logger.FieldSourceID, rec.SourceID), zap.String(logger.FieldIndexRef, ref))
	return ref, nil
}

func (i *Index) Retract(ctx context.Context, ref string) error {
	id, ok := matcher.SourceID(ref)
	if !ok {
		return jobs.Permanent(jobs.ErrMatcherNotFound, "retract", fmt.Errorf("malformed ref %q", ref))
	}

	removed, err := retry.Value(ctx, i.policy, i.logger, "vector delete", func(ctx context.Context) (bool, error) {
		removed, err := i.vectors.Delete(ctx, id)
		return removed, unavailable("delete vector", err)
	})
	if err != nil {
		return err
	}
	if !removed {
		return jobs.Permanent(jobs.ErrMatcherNotFound, "retract", fmt.Errorf("ref %q is not indexed", ref))
	}
	return nil
}

func documentText(rec *jobs.Record) string {
	var b strings.Builder
	b.WriteString(rec.Title)
	for _, line := range []string{rec.Company, rec.Location, rec.Category} {
		if line = strings.TrimSpace(line); line != "" {
			b.WriteString("\n")
			b.WriteString(line)
		}
	}
	if desc := strings.TrimSpace(rec.Description); desc != "" {
		b.WriteString("\n\n")
		b.WriteString(desc)
	}

	runes := []rune(b.String())
	if len(runes) > maxDocumentRunes {
		runes = runes[:maxDocumentRunes]
	}
	return string(runes)
}
