package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/spigell/jobmatch/internal/jobs"
)

const window = 30 * 24 * time.Hour

var t0 = time.Date(2024, 3, 1, 3, 0, 0, 0, time.UTC)

func posting(id, title string) jobs.Posting {
	return jobs.Posting{
		SourceID:       id,
		Title:          title,
		Location:       "London",
		EmploymentType: jobs.FullTime,
		JobLevel:       jobs.MidLevel,
	}
}

func TestMemoryUpsertOutcomes(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	rec, outcome, err := s.Upsert(ctx, posting("1", "Go Developer"), t0, window)
	if err != nil || outcome != Created {
		t.Fatalf("expected created, got %s %v", outcome, err)
	}
	if !rec.FirstSeenAt.Equal(t0) || !rec.ExpiresAt.Equal(t0.Add(window)) {
		t.Fatalf("unexpected timestamps: %+v", rec)
	}

	next := t0.Add(24 * time.Hour)
	rec, outcome, _ = s.Upsert(ctx, posting("1", "Go Developer"), next, window)
	if outcome != Unchanged {
		t.Fatalf("expected unchanged, got %s", outcome)
	}
	if !rec.LastSeenAt.Equal(next) || !rec.FirstSeenAt.Equal(t0) {
		t.Fatalf("expected lastSeenAt bump only: %+v", rec)
	}

	_, outcome, _ = s.Upsert(ctx, posting("1", "Senior Go Developer"), next, window)
	if outcome != Updated {
		t.Fatalf("expected updated after content change, got %s", outcome)
	}
}

func TestMemoryUpsertKeepsIndexRef(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_, _, _ = s.Upsert(ctx, posting("1", "Go Developer"), t0, window)
	if err := s.SetIndexRef(ctx, "1", "jobs/1"); err != nil {
		t.Fatalf("set ref: %v", err)
	}

	rec, _, _ := s.Upsert(ctx, posting("1", "Go Engineer"), t0.Add(time.Hour), window)
	if rec.ExternalIndexRef != "jobs/1" {
		t.Fatalf("expected ref to survive an update, got %q", rec.ExternalIndexRef)
	}

	got, err := s.GetByIndexRefs(ctx, []string{"jobs/404", "jobs/1"})
	if err != nil || len(got) != 1 || got[0].SourceID != "1" {
		t.Fatalf("unexpected lookup by ref: %+v %v", got, err)
	}

	if err := s.SetIndexRef(ctx, "missing", "jobs/x"); err == nil {
		t.Fatalf("expected error for unknown record")
	}
}

func TestMemoryExpireAndResurrect(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_, _, _ = s.Upsert(ctx, posting("1", "Go Developer"), t0, window)
	_, _, _ = s.Upsert(ctx, posting("2", "Rust Developer"), t0.Add(20*24*time.Hour), window)

	expired, err := s.ExpireStale(ctx, t0.Add(31*24*time.Hour))
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if len(expired) != 1 || expired[0].SourceID != "1" || expired[0].Status != jobs.StatusExpired {
		t.Fatalf("unexpected expired set: %+v", expired)
	}

	again, _ := s.ExpireStale(ctx, t0.Add(31*24*time.Hour))
	if len(again) != 0 {
		t.Fatalf("expected expiry to be idempotent, got %+v", again)
	}

	back := t0.Add(40 * 24 * time.Hour)
	rec, outcome, _ := s.Upsert(ctx, posting("1", "Go Developer"), back, window)
	if outcome != Updated || rec.Status != jobs.StatusActive {
		t.Fatalf("expected resurrection, got %s %+v", outcome, rec)
	}
	if !rec.FirstSeenAt.Equal(t0) {
		t.Fatalf("expected firstSeenAt to be preserved, got %s", rec.FirstSeenAt)
	}
}

func TestMemoryCount(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_, _, _ = s.Upsert(ctx, posting("1", "Go Developer"), t0, window)
	_, _, _ = s.Upsert(ctx, posting("2", "Rust Developer"), t0.Add(20*24*time.Hour), window)
	_, _, _ = s.Upsert(ctx, posting("3", "Zig Developer"), t0.Add(20*24*time.Hour), window)
	_ = s.SetIndexRef(ctx, "2", "jobs/2")
	_, _ = s.ExpireStale(ctx, t0.Add(31*24*time.Hour))

	c, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if c != (jobs.Counts{Total: 3, Active: 2, Expired: 1, Indexed: 1}) {
		t.Fatalf("unexpected counts: %+v", c)
	}
}

func TestMemoryListOrderAndFilters(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	remote := posting("3", "Remote Go Developer")
	remote.IsRemote = true
	remote.Location = "Manchester"

	_, _, _ = s.Upsert(ctx, posting("1", "A"), t0, window)
	_, _, _ = s.Upsert(ctx, posting("2", "B"), t0.Add(time.Hour), window)
	_, _, _ = s.Upsert(ctx, remote, t0, window)
	_, _ = s.ExpireStale(ctx, t0.Add(window).Add(time.Minute))
	_, _, _ = s.Upsert(ctx, posting("2", "B"), t0.Add(2*time.Hour).Add(window), window)

	active, _ := s.List(ctx, ListOptions{Status: jobs.StatusActive})
	if len(active) != 1 || active[0].SourceID != "2" {
		t.Fatalf("unexpected active set: %+v", active)
	}

	all, _ := s.List(ctx, ListOptions{})
	if len(all) != 3 || all[0].SourceID != "2" || all[1].SourceID != "1" || all[2].SourceID != "3" {
		t.Fatalf("unexpected order: %v", ids(all))
	}

	remoteOnly := true
	filtered, _ := s.List(ctx, ListOptions{Filters: jobs.Filters{RemoteOnly: &remoteOnly}})
	if len(filtered) != 1 || filtered[0].SourceID != "3" {
		t.Fatalf("unexpected filtered set: %v", ids(filtered))
	}

	limited, _ := s.List(ctx, ListOptions{Limit: 2})
	if len(limited) != 2 {
		t.Fatalf("expected limit to apply, got %d", len(limited))
	}
}

func TestMemoryRunLog(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	run := jobs.SyncRun{RunID: "r1", Trigger: jobs.TriggerManual, StartedAt: t0, Status: jobs.RunRunning}
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.CreateRun(ctx, run); err == nil {
		t.Fatalf("expected duplicate run id to fail")
	}

	done := t0.Add(time.Minute)
	run.Status = jobs.RunSucceeded
	run.CompletedAt = &done
	if err := s.UpdateRun(ctx, run); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	run.Status = jobs.RunFailed
	if err := s.UpdateRun(ctx, run); !errors.Is(err, ErrRunFinalized) {
		t.Fatalf("expected finalized run to be immutable, got %v", err)
	}
	if err := s.UpdateRun(ctx, jobs.SyncRun{RunID: "nope"}); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	_ = s.CreateRun(ctx, jobs.SyncRun{RunID: "r2", StartedAt: t0.Add(time.Hour), Status: jobs.RunRunning})
	runs, _ := s.ListRuns(ctx, 1)
	if len(runs) != 1 || runs[0].RunID != "r2" {
		t.Fatalf("expected newest run first, got %+v", runs)
	}

	stored, ok, _ := s.GetRun(ctx, "r1")
	if !ok || stored.Status != jobs.RunSucceeded {
		t.Fatalf("unexpected stored run: %+v", stored)
	}
}

func ids(recs []jobs.Record) []string {
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.SourceID)
	}
	return out
}
