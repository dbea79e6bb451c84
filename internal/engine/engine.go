// Package engine answers match queries from the cache, the external matcher
// or the local scorer.
package engine

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/jobmatch/internal/cache"
	"github.com/spigell/jobmatch/internal/filtering"
	"github.com/spigell/jobmatch/internal/jobs"
	"github.com/spigell/jobmatch/internal/logger"
	"github.com/spigell/jobmatch/internal/matcher"
	"github.com/spigell/jobmatch/internal/scorer"
	"github.com/spigell/jobmatch/internal/store"
	"github.com/spigell/jobmatch/internal/utils"
)

const (
	defaultMaxResults     = 50
	defaultCandidateLimit = 2000
	// External hits are over-fetched since FILTER may drop some of them.
	overfetch = 3
)

type Config struct {
	CacheTTL       time.Duration `mapstructure:"cache-ttl"`
	MaxResults     int           `mapstructure:"max-results"`
	CandidateLimit int           `mapstructure:"candidate-limit"`
	// FallbackOnEmpty also uses the local scorer when the external matcher
	// answers with no hits.
	FallbackOnEmpty bool `mapstructure:"fallback-on-empty"`
}

func (c Config) withDefaults() Config {
	if c.CacheTTL <= 0 {
		c.CacheTTL = cache.DefaultTTL
	}
	if c.MaxResults <= 0 {
		c.MaxResults = defaultMaxResults
	}
	if c.CandidateLimit <= 0 {
		c.CandidateLimit = defaultCandidateLimit
	}
	return c
}

type Engine struct {
	store   store.JobStore
	matcher matcher.Matcher
	scorer  *scorer.Scorer
	cache   cache.Cache
	cfg     Config
	logger  *zap.Logger
}

// New builds an engine. A nil matcher makes every query use the local scorer.
func New(st store.JobStore, m matcher.Matcher, sc *scorer.Scorer, c cache.Cache, cfg Config, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	if sc == nil {
		sc = scorer.New(scorer.DefaultWeights(), scorer.DefaultMinScore)
	}
	if c == nil {
		c = cache.NewMemoryCache()
	}
	return &Engine{store: st, matcher: m, scorer: sc, cache: c, cfg: cfg.withDefaults(), logger: log}
}

// Match never exposes matcher failures. It fails only with jobs.ErrInvalidQuery,
// jobs.ErrStoreUnavailable or the caller's context error.
func (e *Engine) Match(ctx context.Context, q jobs.MatchQuery) (jobs.MatchResult, error) {
	text := utils.NormalizeSpace(q.Text)
	if text == "" {
		return jobs.MatchResult{}, jobs.InvalidQuery("document text is empty")
	}
	if err := filtering.Validate(q.Filters); err != nil {
		return jobs.MatchResult{}, jobs.InvalidQuery("%v", err)
	}

	limit := q.Limit
	if limit <= 0 || limit > e.cfg.MaxResults {
		limit = e.cfg.MaxResults
	}

	fp := Fingerprint(text, q.Filters)
	log := e.logger.With(zap.String(logger.FieldFingerprint, fp))

	if entry, ok := e.cache.Get(ctx, fp); ok {
		items, err := e.hydrate(ctx, entry, q.Filters)
		if err != nil {
			return jobs.MatchResult{}, err
		}
		log.Debug("served from cache", zap.String(logger.FieldStrategy, string(entry.Strategy)), zap.Int("results", len(items)))
		return result(items, entry.Strategy, true, fp, limit), nil
	}

	items, strategy, cacheable, err := e.compute(ctx, log, text, q.Filters)
	if err != nil {
		return jobs.MatchResult{}, err
	}

	if err := ctx.Err(); err != nil {
		return jobs.MatchResult{}, err
	}

	if cacheable {
		e.cache.Put(ctx, entryFor(fp, strategy, items), e.cfg.CacheTTL)
	}

	log.Info("match computed",
		zap.String(logger.FieldStrategy, string(strategy)),
		zap.Int("results", len(items)),
		zap.Bool("cached", cacheable),
	)
	return result(items, strategy, false, fp, limit), nil
}

// compute runs EXTERNAL_ATTEMPT or FALLBACK, then RESOLVE and FILTER, and
// ranks the outcome.
func (e *Engine) compute(ctx context.Context, log *zap.Logger, text string, filters jobs.Filters) ([]jobs.ScoredJob, jobs.Strategy, bool, error) {
	resolved, ok, err := e.external(ctx, log, text, filters)
	if err != nil {
		return nil, "", false, err
	}

	strategy := jobs.StrategyExternal
	if !ok {
		strategy = jobs.StrategyFallback
		resolved, err = e.fallback(ctx, text, filters)
		if err != nil {
			return nil, "", false, err
		}
	}

	steps := filtering.ForQuery(filters)
	log.Debug("filtering resolved results",
		zap.String(logger.FieldStrategy, string(strategy)),
		zap.Int("resolved", len(resolved)),
		zap.Any("filters", filtering.Describe(steps)),
	)
	filtered, err := filtering.Run(ctx, filtering.Deps{Logger: log}, steps, resolved)
	if err != nil {
		return nil, "", false, err
	}

	scorer.Sort(filtered)
	if len(filtered) > e.cfg.MaxResults {
		filtered = filtered[:e.cfg.MaxResults]
	}

	// Hits that all vanished in FILTER point at index drift, not at a real
	// "no matches" answer.
	cacheable := !(strategy == jobs.StrategyExternal && len(resolved) > 0 && len(filtered) == 0)
	return filtered, strategy, cacheable, nil
}

// external returns ok=false when the engine should fall back.
func (e *Engine) external(ctx context.Context, log *zap.Logger, text string, filters jobs.Filters) ([]jobs.ScoredJob, bool, error) {
	if e.matcher == nil {
		return nil, false, nil
	}

	hits, err := e.matcher.Search(ctx, text, filters, e.cfg.MaxResults*overfetch)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, false, ctxErr
		}
		log.Warn("external matcher failed, falling back", zap.Error(err),
			zap.Bool("quota_exhausted", errors.Is(err, jobs.ErrMatcherQuotaExhausted)))
		return nil, false, nil
	}
	if len(hits) == 0 && e.cfg.FallbackOnEmpty {
		log.Debug("external matcher returned nothing, falling back")
		return nil, false, nil
	}

	refs := make([]string, 0, len(hits))
	scores := make(map[string]float64, len(hits))
	for _, h := range hits {
		if _, seen := scores[h.Ref]; seen {
			continue
		}
		refs = append(refs, h.Ref)
		scores[h.Ref] = clamp(h.Score)
	}

	records, err := e.store.GetByIndexRefs(ctx, refs)
	if err != nil {
		return nil, false, jobs.StoreError("resolve refs", err)
	}
	if dropped := len(refs) - len(records); dropped > 0 {
		log.Debug("dropped unresolved refs", zap.Int("dropped", dropped))
	}

	out := make([]jobs.ScoredJob, 0, len(records))
	for _, rec := range records {
		out = append(out, jobs.ScoredJob{Job: rec, Score: scores[rec.ExternalIndexRef]})
	}
	return out, true, nil
}

func (e *Engine) fallback(ctx context.Context, text string, filters jobs.Filters) ([]jobs.ScoredJob, error) {
	candidates, err := e.store.List(ctx, store.ListOptions{
		Status:  jobs.StatusActive,
		Filters: filters,
		Limit:   e.cfg.CandidateLimit,
	})
	if err != nil {
		return nil, jobs.StoreError("list candidates", err)
	}
	return e.scorer.Rank(text, candidates), nil
}

// hydrate re-reads cached hits from the store. Records that changed status or
// no longer satisfy the filters are dropped.
func (e *Engine) hydrate(ctx context.Context, entry cache.Entry, filters jobs.Filters) ([]jobs.ScoredJob, error) {
	ids := make([]string, 0, len(entry.Results))
	scores := make(map[string]float64, len(entry.Results))
	for _, h := range entry.Results {
		ids = append(ids, h.SourceID)
		scores[h.SourceID] = h.Score
	}

	records, err := e.store.GetMany(ctx, ids)
	if err != nil {
		return nil, jobs.StoreError("hydrate cached result", err)
	}

	items := make([]jobs.ScoredJob, 0, len(records))
	for _, rec := range records {
		if rec.Active() && filters.Matches(&rec) {
			items = append(items, jobs.ScoredJob{Job: rec, Score: scores[rec.SourceID]})
		}
	}
	return items, nil
}

func entryFor(fp string, strategy jobs.Strategy, items []jobs.ScoredJob) cache.Entry {
	hits := make([]cache.Hit, 0, len(items))
	for _, it := range items {
		hits = append(hits, cache.Hit{SourceID: it.Job.SourceID, Score: it.Score})
	}
	return cache.Entry{Fingerprint: fp, Strategy: strategy, Results: hits}
}

func result(items []jobs.ScoredJob, strategy jobs.Strategy, fromCache bool, fp string, limit int) jobs.MatchResult {
	if len(items) > limit {
		items = items[:limit]
	}
	if items == nil {
		items = []jobs.ScoredJob{}
	}
	return jobs.MatchResult{Items: items, Strategy: strategy, ServedFromCache: fromCache, Fingerprint: fp}
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
