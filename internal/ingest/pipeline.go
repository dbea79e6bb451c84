// Package ingest runs sync passes: it pages through the upstream source,
// reconciles postings into the job store, keeps the external index in step
// and expires postings that stopped appearing.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spigell/jobmatch/internal/adzuna"
	"github.com/spigell/jobmatch/internal/jobs"
	"github.com/spigell/jobmatch/internal/logger"
	"github.com/spigell/jobmatch/internal/matcher"
	"github.com/spigell/jobmatch/internal/store"
)

const DefaultExpiryWindow = 30 * 24 * time.Hour

// Source is the upstream posting feed.
type Source interface {
	FetchPage(ctx context.Context, query adzuna.Query, token string) (adzuna.Page, error)
}

type Store interface {
	store.JobStore
	store.RunLog
}

type Config struct {
	Query adzuna.Query `mapstructure:"query"`
	// ExpiryWindow is how long a posting stays active after it was last seen.
	ExpiryWindow time.Duration `mapstructure:"expiry-window"`
}

type Pipeline struct {
	source Source
	store  Store
	index  matcher.Matcher
	cfg    Config
	logger *zap.Logger

	now   func() time.Time
	newID func() string
}

// New builds a pipeline. A nil index skips indexing and retraction.
func New(src Source, st Store, index matcher.Matcher, cfg Config, log *zap.Logger) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.ExpiryWindow <= 0 {
		cfg.ExpiryWindow = DefaultExpiryWindow
	}
	return &Pipeline{
		source: src,
		store:  st,
		index:  index,
		cfg:    cfg,
		logger: log,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
}

// run carries the state of a single pass.
type run struct {
	jobs.SyncRun
	log *zap.Logger
	// indexPaused is set once the matcher quota is gone for this pass.
	indexPaused bool
}

// Run executes one sync pass and returns the finalized run. The error is
// non-nil when the run ended FAILED; records upserted before the failure
// stay in the store.
func (p *Pipeline) Run(ctx context.Context, trigger jobs.Trigger) (jobs.SyncRun, error) {
	r := &run{SyncRun: jobs.SyncRun{
		RunID:     p.newID(),
		Trigger:   trigger,
		StartedAt: p.now(),
		Status:    jobs.RunRunning,
	}}
	r.log = logger.WithRun(p.logger, r.RunID, string(trigger))

	if err := p.store.CreateRun(ctx, r.SyncRun); err != nil {
		return r.SyncRun, jobs.StoreError("create run", err)
	}
	r.log.Info("sync run started", zap.String("country", p.cfg.Query.Country), zap.String("what", p.cfg.Query.What))

	err := p.sync(ctx, r)
	if err == nil {
		err = p.expire(ctx, r)
	}

	return p.finalize(ctx, r, err)
}

func (p *Pipeline) sync(ctx context.Context, r *run) error {
	token := ""
	for pageNo := 1; ; pageNo++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("aborted before page %d: %w", pageNo, err)
		}

		page, err := p.source.FetchPage(ctx, p.cfg.Query, token)
		if err != nil {
			return fmt.Errorf("fetching page %d: %w", pageNo, err)
		}

		r.Fetched += len(page.Postings) + page.Skipped
		r.Failed += page.Skipped

		if err := p.reconcile(ctx, r, page.Postings); err != nil {
			return err
		}

		r.log.Debug("page processed",
			zap.Int("page", pageNo),
			zap.Int("postings", len(page.Postings)),
			zap.Int("skipped", page.Skipped),
		)

		if err := p.store.UpdateRun(ctx, r.SyncRun); err != nil {
			return jobs.StoreError("update run", err)
		}

		if page.NextPageToken == "" {
			return nil
		}
		token = page.NextPageToken
	}
}

// reconcile upserts one page and indexes what changed. Only store outages
// and cancellation abort the run.
func (p *Pipeline) reconcile(ctx context.Context, r *run, postings []jobs.Posting) error {
	var pending []jobs.Record
	for _, posting := range postings {
		rec, outcome, err := p.store.Upsert(ctx, posting, r.StartedAt, p.cfg.ExpiryWindow)
		if err != nil {
			if errors.Is(err, jobs.ErrStoreUnavailable) || ctx.Err() != nil {
				return err
			}
			r.Failed++
			r.log.Warn("posting rejected", zap.String(logger.FieldSourceID, posting.SourceID), zap.Error(err))
			continue
		}

		switch outcome {
		case store.Created:
			r.Created++
		case store.Updated:
			r.Updated++
		default:
			r.Unchanged++
		}

		// Unchanged records that never made it into the index get another try.
		if outcome != store.Unchanged || !rec.Indexed() {
			pending = append(pending, rec)
		}
	}

	for _, rec := range pending {
		if _, err := p.indexRecord(ctx, r, rec); err != nil {
			return err
		}
	}
	return nil
}

// indexRecord is best effort: matcher failures are counted, store failures
// are returned.
func (p *Pipeline) indexRecord(ctx context.Context, r *run, rec jobs.Record) (bool, error) {
	if p.index == nil {
		return false, nil
	}
	log := r.log.With(zap.String(logger.FieldSourceID, rec.SourceID))

	if r.indexPaused {
		r.IndexFailed++
		return false, nil
	}

	ref, err := p.index.Index(ctx, rec)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		r.IndexFailed++
		if errors.Is(err, jobs.ErrMatcherQuotaExhausted) {
			r.indexPaused = true
			log.Warn("matcher quota exhausted, indexing paused for this run", zap.Error(err))
			return false, nil
		}
		log.Warn("indexing failed", zap.Error(err))
		return false, nil
	}

	if ref == rec.ExternalIndexRef {
		return true, nil
	}
	if err := p.store.SetIndexRef(ctx, rec.SourceID, ref); err != nil {
		return false, jobs.StoreError("set index ref", err)
	}
	log.Debug("record indexed", zap.String(logger.FieldIndexRef, ref))
	return true, nil
}

// Reindex uploads active records to the external index. Without all only
// records lacking an index reference are sent; with all every active record
// is sent again, which restores vectors lost on the matcher side.
func (p *Pipeline) Reindex(ctx context.Context, all bool) (jobs.ReindexResult, error) {
	var res jobs.ReindexResult
	if p.index == nil {
		return res, jobs.Permanent(jobs.ErrMatcherUnavailable, "reindex", errors.New("external matcher is not configured"))
	}

	records, err := p.store.List(ctx, store.ListOptions{Status: jobs.StatusActive})
	if err != nil {
		return res, jobs.StoreError("list active", err)
	}

	r := &run{log: p.logger.With(zap.Bool("all", all))}
	for _, rec := range records {
		if !all && rec.Indexed() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}

		res.Considered++
		ok, err := p.indexRecord(ctx, r, rec)
		if err != nil {
			return res, err
		}
		if ok {
			res.Indexed++
		}
	}
	res.Failed = r.IndexFailed

	r.log.Info("reindex finished",
		zap.Int("considered", res.Considered),
		zap.Int("indexed", res.Indexed),
		zap.Int("failed", res.Failed),
	)
	return res, nil
}

// expire sweeps stale records, then retracts every expired record still
// holding an index reference. Retraction failures leave the reference in
// place so a later run tries again.
func (p *Pipeline) expire(ctx context.Context, r *run) error {
	expired, err := p.store.ExpireStale(ctx, p.now())
	if err != nil {
		return jobs.StoreError("expire stale", err)
	}
	r.Expired = len(expired)
	if len(expired) > 0 {
		r.log.Info("records expired", zap.Int("count", len(expired)))
	}

	if p.index == nil {
		return nil
	}

	stale, err := p.store.List(ctx, store.ListOptions{Status: jobs.StatusExpired})
	if err != nil {
		return jobs.StoreError("list expired", err)
	}

	for _, rec := range stale {
		if !rec.Indexed() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		log := r.log.With(zap.String(logger.FieldSourceID, rec.SourceID), zap.String(logger.FieldIndexRef, rec.ExternalIndexRef))
		err := p.index.Retract(ctx, rec.ExternalIndexRef)
		if err != nil && !errors.Is(err, jobs.ErrMatcherNotFound) {
			r.IndexFailed++
			log.Warn("retracting expired record failed", zap.Error(err))
			if errors.Is(err, jobs.ErrMatcherQuotaExhausted) {
				return nil
			}
			continue
		}

		if err := p.store.SetIndexRef(ctx, rec.SourceID, ""); err != nil {
			return jobs.StoreError("clear index ref", err)
		}
		log.Debug("expired record retracted")
	}
	return nil
}

// finalize writes the terminal state even when ctx is already cancelled.
func (p *Pipeline) finalize(ctx context.Context, r *run, cause error) (jobs.SyncRun, error) {
	completed := p.now()
	r.CompletedAt = &completed
	r.Status = jobs.RunSucceeded
	if cause != nil {
		r.Status = jobs.RunFailed
		r.ErrorSummary = cause.Error()
	}

	if err := p.store.UpdateRun(context.WithoutCancel(ctx), r.SyncRun); err != nil {
		r.log.Error("finalizing sync run", zap.Error(err))
		if cause == nil {
			// The stored run may still read RUNNING.
			cause = jobs.StoreError("finalize run", err)
			r.Status = jobs.RunFailed
			r.ErrorSummary = cause.Error()
		}
	}

	fields := []zap.Field{
		zap.String("status", string(r.Status)),
		zap.Int("fetched", r.Fetched),
		zap.Int("created", r.Created),
		zap.Int("updated", r.Updated),
		zap.Int("unchanged", r.Unchanged),
		zap.Int("failed", r.Failed),
		zap.Int("expired", r.Expired),
		zap.Int("index_failed", r.IndexFailed),
		zap.Duration("took", completed.Sub(r.StartedAt)),
	}
	if cause != nil {
		r.log.Error("sync run failed", append(fields, zap.Error(cause))...)
		return r.SyncRun, cause
	}
	r.log.Info("sync run finished", fields...)
	return r.SyncRun, nil
}
