package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/spigell/jobmatch/internal/jobs"
	"github.com/spigell/jobmatch/internal/store/migrations"
)

const recordColumns = `source_id, title, company, location, description, salary_min, salary_max,
	employment_type, job_level, is_remote, is_internship, redirect_url, category,
	external_index_ref, content_hash, status, first_seen_at, last_seen_at, expires_at`

const runColumns = `run_id, trigger, status, started_at, completed_at, fetched, created, updated,
	unchanged, failed, expired, index_failed, error_summary`

type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStore connects to dsn and applies pending migrations.
func NewPostgresStore(ctx context.Context, dsn string, logger *zap.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, jobs.StoreError("connect", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, jobs.StoreError("ping", err)
	}

	s := &PostgresStore{pool: pool, logger: logger}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, jobs.StoreError("migrate", err)
	}
	return s, nil
}

func (p *PostgresStore) Close() {
	p.pool.Close()
}

func (p *PostgresStore) ensureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (version TEXT PRIMARY KEY, applied_at TIMESTAMPTZ NOT NULL)`); err != nil {
		return err
	}
	files, err := listMigrationFiles(migrations.Files)
	if err != nil {
		return err
	}
	for _, file := range files {
		var applied bool
		if err := p.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version=$1)`, file).Scan(&applied); err != nil {
			return err
		}
		if applied {
			continue
		}
		if err := p.applyMigration(ctx, file); err != nil {
			return err
		}
		p.logger.Info("applied migration", zap.String("version", file))
	}
	return nil
}

func (p *PostgresStore) applyMigration(ctx context.Context, file string) error {
	sqlBytes, err := migrations.Files.ReadFile(file)
	if err != nil {
		return err
	}
	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, string(sqlBytes)); err != nil {
			return fmt.Errorf("apply migration %s: %w", file, err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version, applied_at) VALUES ($1, $2)`, file, time.Now().UTC()); err != nil {
			return fmt.Errorf("record migration %s: %w", file, err)
		}
		return nil
	})
}

func listMigrationFiles(migFS fs.FS) ([]string, error) {
	entries, err := fs.ReadDir(migFS, ".")
	if err != nil {
		return nil, err
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		files = append(files, e.Name())
	}
	sort.Strings(files)
	return files, nil
}

func (p *PostgresStore) Upsert(ctx context.Context, posting jobs.Posting, seenAt time.Time, window time.Duration) (jobs.Record, Outcome, error) {
	if posting.SourceID == "" {
		return jobs.Record{}, "", fmt.Errorf("upsert: empty source id")
	}

	var (
		rec     jobs.Record
		outcome Outcome
	)
	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		fresh := newRecord(posting, seenAt, window)
		tag, err := tx.Exec(ctx,
			`INSERT INTO job_records (`+recordColumns+`)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,NULLIF($14,''),$15,$16,$17,$18,$19)
			 ON CONFLICT (source_id) DO NOTHING`,
			recordArgs(fresh)...,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 1 {
			rec, outcome = fresh, Created
			return nil
		}

		existing, err := scanRecord(tx.QueryRow(ctx,
			`SELECT `+recordColumns+` FROM job_records WHERE source_id=$1 FOR UPDATE`, posting.SourceID))
		if err != nil {
			return err
		}

		rec, outcome = merge(existing, posting, seenAt, window)
		_, err = tx.Exec(ctx,
			`UPDATE job_records SET title=$2, company=$3, location=$4, description=$5, salary_min=$6,
			    salary_max=$7, employment_type=$8, job_level=$9, is_remote=$10, is_internship=$11,
			    redirect_url=$12, category=$13, external_index_ref=NULLIF($14,''), content_hash=$15,
			    status=$16, first_seen_at=$17, last_seen_at=$18, expires_at=$19
			 WHERE source_id=$1`,
			recordArgs(rec)...,
		)
		return err
	})
	if err != nil {
		return jobs.Record{}, "", jobs.StoreError("upsert", err)
	}
	return rec, outcome, nil
}

func (p *PostgresStore) Get(ctx context.Context, sourceID string) (jobs.Record, bool, error) {
	rec, err := scanRecord(p.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM job_records WHERE source_id=$1`, sourceID))
	if errors.Is(err, pgx.ErrNoRows) {
		return jobs.Record{}, false, nil
	}
	if err != nil {
		return jobs.Record{}, false, jobs.StoreError("get record", err)
	}
	return rec, true, nil
}

func (p *PostgresStore) GetMany(ctx context.Context, sourceIDs []string) ([]jobs.Record, error) {
	if len(sourceIDs) == 0 {
		return nil, nil
	}
	recs, err := p.queryRecords(ctx, `SELECT `+recordColumns+` FROM job_records WHERE source_id = ANY($1)`, sourceIDs)
	if err != nil {
		return nil, jobs.StoreError("get records", err)
	}
	return inOrder(recs, sourceIDs, func(r jobs.Record) string { return r.SourceID }), nil
}

func (p *PostgresStore) GetByIndexRefs(ctx context.Context, refs []string) ([]jobs.Record, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	recs, err := p.queryRecords(ctx, `SELECT `+recordColumns+` FROM job_records WHERE external_index_ref = ANY($1)`, refs)
	if err != nil {
		return nil, jobs.StoreError("get records by ref", err)
	}
	return inOrder(recs, refs, func(r jobs.Record) string { return r.ExternalIndexRef }), nil
}

func (p *PostgresStore) SetIndexRef(ctx context.Context, sourceID, ref string) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE job_records SET external_index_ref=NULLIF($2,'') WHERE source_id=$1`, sourceID, ref)
	if err != nil {
		return jobs.StoreError("set index ref", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set index ref: unknown source id %q", sourceID)
	}
	return nil
}

func (p *PostgresStore) List(ctx context.Context, opts ListOptions) ([]jobs.Record, error) {
	query, args := listQuery(opts)
	recs, err := p.queryRecords(ctx, query, args...)
	if err != nil {
		return nil, jobs.StoreError("list records", err)
	}
	return recs, nil
}

// listQuery translates the filters to SQL with the same semantics as
// jobs.Filters.Matches.
func listQuery(opts ListOptions) (string, []any) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}

	if opts.Status != "" {
		add("status = $%d", string(opts.Status))
	}
	c := opts.Filters.Canonical()
	if loc, ok := c["location"].(string); ok {
		add("strpos(lower(location), $%d) > 0", loc)
	}
	if et, ok := c["employmentType"].(string); ok {
		add("employment_type = $%d", et)
	}
	if min, ok := c["minSalary"].(float64); ok {
		args = append(args, min)
		n := len(args)
		where = append(where, fmt.Sprintf("(salary_min >= $%d OR salary_max >= $%d)", n, n))
	}
	if _, ok := c["internshipOnly"]; ok {
		where = append(where, "is_internship")
	}
	if _, ok := c["remoteOnly"]; ok {
		where = append(where, "is_remote")
	}
	if lvl, ok := c["jobLevel"].(string); ok {
		add("job_level = $%d", lvl)
	}

	q := `SELECT ` + recordColumns + ` FROM job_records`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY last_seen_at DESC, source_id ASC"
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return q, args
}

func (p *PostgresStore) ExpireStale(ctx context.Context, now time.Time) ([]jobs.Record, error) {
	recs, err := p.queryRecords(ctx,
		`UPDATE job_records SET status=$1
		 WHERE status=$2 AND expires_at < $3
		 RETURNING `+recordColumns,
		string(jobs.StatusExpired), string(jobs.StatusActive), now,
	)
	if err != nil {
		return nil, jobs.StoreError("expire stale", err)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].SourceID < recs[j].SourceID })
	return recs, nil
}

func (p *PostgresStore) Count(ctx context.Context) (jobs.Counts, error) {
	var c jobs.Counts
	err := p.pool.QueryRow(ctx,
		`SELECT count(*),
		        count(*) FILTER (WHERE status=$1),
		        count(*) FILTER (WHERE status=$2),
		        count(*) FILTER (WHERE external_index_ref IS NOT NULL AND external_index_ref <> '')
		 FROM job_records`,
		string(jobs.StatusActive), string(jobs.StatusExpired),
	).Scan(&c.Total, &c.Active, &c.Expired, &c.Indexed)
	if err != nil {
		return jobs.Counts{}, jobs.StoreError("count records", err)
	}
	return c, nil
}

func (p *PostgresStore) CreateRun(ctx context.Context, run jobs.SyncRun) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO sync_runs (`+runColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		runArgs(run)...,
	)
	return jobs.StoreError("create run", err)
}

func (p *PostgresStore) UpdateRun(ctx context.Context, run jobs.SyncRun) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE sync_runs SET trigger=$2, status=$3, started_at=$4, completed_at=$5, fetched=$6,
		    created=$7, updated=$8, unchanged=$9, failed=$10, expired=$11, index_failed=$12,
		    error_summary=$13
		 WHERE run_id=$1 AND completed_at IS NULL`,
		runArgs(run)...,
	)
	if err != nil {
		return jobs.StoreError("update run", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	_, ok, err := p.GetRun(ctx, run.RunID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrRunNotFound
	}
	return ErrRunFinalized
}

func (p *PostgresStore) GetRun(ctx context.Context, runID string) (jobs.SyncRun, bool, error) {
	run, err := scanRun(p.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM sync_runs WHERE run_id=$1`, runID))
	if errors.Is(err, pgx.ErrNoRows) {
		return jobs.SyncRun{}, false, nil
	}
	if err != nil {
		return jobs.SyncRun{}, false, jobs.StoreError("get run", err)
	}
	return run, true, nil
}

func (p *PostgresStore) ListRuns(ctx context.Context, limit int) ([]jobs.SyncRun, error) {
	q := `SELECT ` + runColumns + ` FROM sync_runs ORDER BY started_at DESC, run_id DESC`
	var args []any
	if limit > 0 {
		q += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := p.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, jobs.StoreError("list runs", err)
	}
	defer rows.Close()

	var out []jobs.SyncRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, jobs.StoreError("scan run", err)
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, jobs.StoreError("list runs", err)
	}
	return out, nil
}

func (p *PostgresStore) queryRecords(ctx context.Context, q string, args ...any) ([]jobs.Record, error) {
	rows, err := p.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []jobs.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func recordArgs(r jobs.Record) []any {
	return []any{
		r.SourceID, r.Title, r.Company, r.Location, r.Description, r.SalaryMin, r.SalaryMax,
		string(r.EmploymentType), string(r.JobLevel), r.IsRemote, r.IsInternship, r.RedirectURL, r.Category,
		r.ExternalIndexRef, r.ContentHash, string(r.Status), r.FirstSeenAt, r.LastSeenAt, r.ExpiresAt,
	}
}

func scanRecord(row pgx.Row) (jobs.Record, error) {
	var (
		r                 jobs.Record
		employment, level string
		status            string
		ref               *string
	)
	err := row.Scan(
		&r.SourceID, &r.Title, &r.Company, &r.Location, &r.Description, &r.SalaryMin, &r.SalaryMax,
		&employment, &level, &r.IsRemote, &r.IsInternship, &r.RedirectURL, &r.Category,
		&ref, &r.ContentHash, &status, &r.FirstSeenAt, &r.LastSeenAt, &r.ExpiresAt,
	)
	if err != nil {
		return jobs.Record{}, err
	}
	r.EmploymentType = jobs.EmploymentType(employment)
	r.JobLevel = jobs.JobLevel(level)
	r.Status = jobs.Status(status)
	if ref != nil {
		r.ExternalIndexRef = *ref
	}
	return r, nil
}

func runArgs(r jobs.SyncRun) []any {
	return []any{
		r.RunID, string(r.Trigger), string(r.Status), r.StartedAt, r.CompletedAt, r.Fetched,
		r.Created, r.Updated, r.Unchanged, r.Failed, r.Expired, r.IndexFailed, r.ErrorSummary,
	}
}

func scanRun(row pgx.Row) (jobs.SyncRun, error) {
	var (
		r               jobs.SyncRun
		trigger, status string
	)
	err := row.Scan(
		&r.RunID, &trigger, &status, &r.StartedAt, &r.CompletedAt, &r.Fetched,
		&r.Created, &r.Updated, &r.Unchanged, &r.Failed, &r.Expired, &r.IndexFailed, &r.ErrorSummary,
	)
	if err != nil {
		return jobs.SyncRun{}, err
	}
	r.Trigger = jobs.Trigger(trigger)
	r.Status = jobs.RunStatus(status)
	return r, nil
}

func inOrder(recs []jobs.Record, keys []string, key func(jobs.Record) string) []jobs.Record {
	byKey := make(map[string]jobs.Record, len(recs))
	for _, r := range recs {
		byKey[key(r)] = r
	}
	out := make([]jobs.Record, 0, len(keys))
	for _, k := range keys {
		if r, ok := byKey[k]; ok {
			out = append(out, r)
		}
	}
	return out
}
