package scheduler

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap/zaptest"

	"github.com/spigell/jobmatch/internal/jobs"
)

// blockingRunner holds every run until release is closed or ctx ends.
type blockingRunner struct {
	mu       sync.Mutex
	started  chan struct{}
	release  chan struct{}
	triggers []jobs.Trigger
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{started: make(chan struct{}, 8), release: make(chan struct{})}
}

func (r *blockingRunner) Run(ctx context.Context, trigger jobs.Trigger) (jobs.SyncRun, error) {
	r.mu.Lock()
	r.triggers = append(r.triggers, trigger)
	r.mu.Unlock()
	r.started <- struct{}{}

	select {
	case <-r.release:
		return jobs.SyncRun{Trigger: trigger, Status: jobs.RunSucceeded}, nil
	case <-ctx.Done():
		return jobs.SyncRun{Trigger: trigger, Status: jobs.RunFailed}, ctx.Err()
	}
}

func (r *blockingRunner) Reindex(ctx context.Context, all bool) (jobs.ReindexResult, error) {
	if err := ctx.Err(); err != nil {
		return jobs.ReindexResult{}, err
	}
	return jobs.ReindexResult{Considered: 1, Indexed: 1}, nil
}

func waitIdle(t *testing.T, s *Scheduler) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for s.Running() {
		if time.Now().After(deadline) {
			t.Fatalf("run did not finish")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func waitStarted(t *testing.T, r *blockingRunner) {
	t.Helper()
	select {
	case <-r.started:
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not start")
	}
}

func TestTriggerRejectsConcurrentRun(t *testing.T) {
	runner := newBlockingRunner()
	s := New(Config{}, runner, nil, zaptest.NewLogger(t))

	if err := s.TriggerAsync(context.Background(), jobs.TriggerManual); err != nil {
		t.Fatalf("first trigger: %v", err)
	}
	waitStarted(t, runner)
	if !s.Running() {
		t.Fatalf("expected scheduler to report a running sync")
	}

	if _, err := s.Trigger(context.Background(), jobs.TriggerManual); !errors.Is(err, jobs.ErrRunInProgress) {
		t.Fatalf("expected run in progress, got %v", err)
	}
	if err := s.TriggerAsync(context.Background(), jobs.TriggerScheduled); !errors.Is(err, jobs.ErrRunInProgress) {
		t.Fatalf("expected run in progress, got %v", err)
	}
	if _, err := s.Reindex(context.Background(), false); !errors.Is(err, jobs.ErrRunInProgress) {
		t.Fatalf("expected reindex to be rejected during a sync, got %v", err)
	}

	close(runner.release)
	waitIdle(t, s)

	run, err := s.Trigger(context.Background(), jobs.TriggerManual)
	if err != nil || run.Status != jobs.RunSucceeded {
		t.Fatalf("expected a new run to be admitted, got %+v %v", run, err)
	}
	res, err := s.Reindex(context.Background(), true)
	if err != nil || res.Indexed != 1 {
		t.Fatalf("expected reindex to be admitted once idle, got %+v %v", res, err)
	}
}

func TestTriggerAfterStopIsRejected(t *testing.T) {
	runner := newBlockingRunner()
	close(runner.release)
	s := New(Config{}, runner, nil, zaptest.NewLogger(t))
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	s.Stop()

	if _, err := s.Trigger(context.Background(), jobs.TriggerManual); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected stopped scheduler to reject a trigger, got %v", err)
	}
	if err := s.TriggerAsync(context.Background(), jobs.TriggerManual); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected stopped scheduler to reject an async trigger, got %v", err)
	}
	if _, err := s.Reindex(context.Background(), false); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected stopped scheduler to reject a reindex, got %v", err)
	}
	if s.Running() {
		t.Fatalf("expected no running state")
	}
}

func TestTriggerRespectsSharedLock(t *testing.T) {
	lock := &LocalLock{}
	if ok, _ := lock.TryAcquire(context.Background()); !ok {
		t.Fatalf("expected to take the lock")
	}

	s := New(Config{}, newBlockingRunner(), lock, zaptest.NewLogger(t))
	if _, err := s.Trigger(context.Background(), jobs.TriggerManual); !errors.Is(err, jobs.ErrRunInProgress) {
		t.Fatalf("expected run in progress while lock is held elsewhere, got %v", err)
	}
	if s.Running() {
		t.Fatalf("expected the rejected trigger to leave no running state")
	}
}

func TestStopCancelsInFlightRun(t *testing.T) {
	runner := newBlockingRunner()
	s := New(Config{}, runner, nil, zaptest.NewLogger(t))
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	result := make(chan error, 1)
	go func() {
		_, err := s.Trigger(context.Background(), jobs.TriggerManual)
		result <- err
	}()
	waitStarted(t, runner)

	s.Stop()

	select {
	case err := <-result:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected cancelled run, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("run was not cancelled by stop")
	}
}

func TestStartRejectsBadSchedule(t *testing.T) {
	s := New(Config{Schedule: "every full moon"}, newBlockingRunner(), nil, zaptest.NewLogger(t))
	if err := s.Start(context.Background()); err == nil {
		t.Fatalf("expected schedule parse error")
	}
}

func TestStartTwiceFails(t *testing.T) {
	s := New(Config{}, newBlockingRunner(), nil, zaptest.NewLogger(t))
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()
	if err := s.Start(context.Background()); err == nil {
		t.Fatalf("expected second start to fail")
	}
}

func TestLocalLock(t *testing.T) {
	ctx := context.Background()
	l := &LocalLock{}
	if ok, _ := l.TryAcquire(ctx); !ok {
		t.Fatalf("expected first acquire to succeed")
	}
	if ok, _ := l.TryAcquire(ctx); ok {
		t.Fatalf("expected second acquire to fail")
	}
	_ = l.Release(ctx)
	if ok, _ := l.TryAcquire(ctx); !ok {
		t.Fatalf("expected acquire after release to succeed")
	}
}

func TestRedisLockUnreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	defer client.Close()

	s := New(Config{}, newBlockingRunner(), NewRedisLock(client, "jobmatch:sync", time.Minute), zaptest.NewLogger(t))
	_, err := s.Trigger(context.Background(), jobs.TriggerManual)
	if err == nil || errors.Is(err, jobs.ErrRunInProgress) {
		t.Fatalf("expected a lock error, got %v", err)
	}
	if s.Running() {
		t.Fatalf("expected no running state after lock failure")
	}
}

func TestRedisLockIntegration(t *testing.T) {
	url := os.Getenv("JOBMATCH_TEST_REDIS_URL")
	if url == "" {
		t.Skip("JOBMATCH_TEST_REDIS_URL is not set")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	client := redis.NewClient(opts)
	defer client.Close()

	ctx := context.Background()
	key := "jobmatch-test:lock:" + t.Name()
	defer client.Del(ctx, key)

	a := NewRedisLock(client, key, time.Minute)
	b := NewRedisLock(client, key, time.Minute)

	if ok, err := a.TryAcquire(ctx); err != nil || !ok {
		t.Fatalf("expected a to acquire: %v %v", ok, err)
	}
	if ok, _ := b.TryAcquire(ctx); ok {
		t.Fatalf("expected b to be rejected")
	}
	// b never held the lock, so its release must not free it.
	_ = b.Release(ctx)
	if ok, _ := b.TryAcquire(ctx); ok {
		t.Fatalf("expected the lock to survive a foreign release")
	}
	if err := a.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if ok, _ := b.TryAcquire(ctx); !ok {
		t.Fatalf("expected b to acquire after a released")
	}
}
