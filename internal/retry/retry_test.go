package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/jobmatch/internal/jobs"
)

func recordWaits(t *testing.T) *[]time.Duration {
	t.Helper()
	var waits []time.Duration
	original := wait
	wait = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return ctx.Err()
	}
	t.Cleanup(func() { wait = original })
	return &waits
}

func TestBackoffIsExponentialAndCapped(t *testing.T) {
	p := Policy{Base: 2 * time.Second, Cap: 10 * time.Second}
	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second, 10 * time.Second}
	for attempt, expected := range want {
		if got := p.Backoff(attempt); got != expected {
			t.Fatalf("attempt %d: expected %s, got %s", attempt, expected, got)
		}
	}
}

func TestDoRetriesTransientFailures(t *testing.T) {
	waits := recordWaits(t)

	calls := 0
	err := Do(context.Background(), DefaultPolicy(), zap.NewNop(), "test", func(context.Context) error {
		calls++
		if calls < 3 {
			return jobs.Transient(jobs.ErrSourceUnavailable, "fetch", errors.New("503"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
	if len(*waits) != 2 || (*waits)[0] != 2*time.Second || (*waits)[1] != 4*time.Second {
		t.Fatalf("unexpected waits: %v", *waits)
	}
}

func TestDoStopsAfterAttemptBudget(t *testing.T) {
	recordWaits(t)

	calls := 0
	err := Do(context.Background(), DefaultPolicy(), zap.NewNop(), "test", func(context.Context) error {
		calls++
		return jobs.Transient(jobs.ErrSourceUnavailable, "fetch", errors.New("503"))
	})
	if !errors.Is(err, jobs.ErrSourceUnavailable) {
		t.Fatalf("expected source unavailable, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestDoDoesNotRetryPermanentFailures(t *testing.T) {
	recordWaits(t)

	calls := 0
	err := Do(context.Background(), DefaultPolicy(), zap.NewNop(), "test", func(context.Context) error {
		calls++
		return jobs.Permanent(jobs.ErrMatcherQuotaExhausted, "search", nil)
	})
	if !errors.Is(err, jobs.ErrMatcherQuotaExhausted) {
		t.Fatalf("expected quota error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single call, got %d", calls)
	}
}

func TestDoHonorsRetryAfterHint(t *testing.T) {
	waits := recordWaits(t)

	calls := 0
	_, err := Value(context.Background(), DefaultPolicy(), zap.NewNop(), "test", func(context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, &jobs.Error{Kind: jobs.ErrSourceRateLimited, Retryable: true, RetryAfter: 7 * time.Second}
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(*waits) != 1 || (*waits)[0] != 7*time.Second {
		t.Fatalf("expected a single 7s wait, got %v", *waits)
	}
}

func TestDoGivesUpOnLongRetryAfter(t *testing.T) {
	waits := recordWaits(t)

	calls := 0
	err := Do(context.Background(), DefaultPolicy(), zap.NewNop(), "test", func(context.Context) error {
		calls++
		return &jobs.Error{Kind: jobs.ErrSourceRateLimited, Retryable: true, RetryAfter: time.Hour}
	})
	if !errors.Is(err, jobs.ErrSourceRateLimited) {
		t.Fatalf("expected rate limited error, got %v", err)
	}
	if calls != 1 || len(*waits) != 0 {
		t.Fatalf("expected no retry, got calls=%d waits=%v", calls, *waits)
	}
}

func TestDoReturnsContextErrorWhenCallerCancels(t *testing.T) {
	recordWaits(t)

	ctx, cancel := context.WithCancel(context.Background())
	err := Do(ctx, DefaultPolicy(), zap.NewNop(), "test", func(context.Context) error {
		cancel()
		return jobs.Transient(jobs.ErrMatcherUnavailable, "search", errors.New("reset"))
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
