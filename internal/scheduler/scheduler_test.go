package scheduler_test

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"dealdesk/internal/db"
	"dealdesk/internal/domain"
	"dealdesk/internal/migrate"
	"dealdesk/internal/repo"
	"dealdesk/internal/scheduler"
)

func newScheduler(t *testing.T) (*scheduler.Scheduler, repo.JobStore) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	store := repo.JobStore{Repo: repo.Repo{DB: conn}}
	return scheduler.New(store, zerolog.New(io.Discard)), store
}

func TestTriggerRecordsRun(t *testing.T) {
	s, store := newScheduler(t)
	ctx := context.Background()
	var runs int32
	if err := s.Register(ctx, "premium-metrics", 0, func(context.Context) error {
		atomic.AddInt32(&runs, 1)
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.Trigger(ctx, "premium-metrics"); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	j, err := store.GetJob(ctx, "premium-metrics")
	if err != nil {
		t.Fatal(err)
	}
	if runs != 1 || j.Runs != 1 || j.Running || j.LastRunAt == nil || j.LastError != "" {
		t.Fatalf("unexpected job state %+v (runs=%d)", j, runs)
	}
	if err := s.Trigger(ctx, "nope"); domain.CodeOf(err) != domain.CodeNotFound {
		t.Fatalf("expected NOT_FOUND for unknown job, got %v", err)
	}
	if err := s.Register(ctx, "premium-metrics", 0, func(context.Context) error { return nil }); domain.CodeOf(err) != domain.CodeValidationFailed {
		t.Fatalf("expected duplicate registration to fail, got %v", err)
	}
}

func TestTriggerWhileRunningConflicts(t *testing.T) {
	s, _ := newScheduler(t)
	ctx := context.Background()
	started := make(chan struct{})
	unblock := make(chan struct{})
	var runs int32
	if err := s.Register(ctx, "escrow-reconcile", 0, func(context.Context) error {
		atomic.AddInt32(&runs, 1)
		close(started)
		<-unblock
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	var g errgroup.Group
	g.Go(func() error { return s.Trigger(ctx, "escrow-reconcile") })
	<-started
	for i := 0; i < 5; i++ {
		if err := s.Trigger(ctx, "escrow-reconcile"); !errors.Is(err, domain.ErrConflict) {
			t.Fatalf("expected CONFLICT while running, got %v", err)
		}
	}
	jobs, err := s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 1 || !jobs[0].Running {
		t.Fatalf("expected running job in list, got %+v", jobs)
	}
	close(unblock)
	if err := g.Wait(); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if runs != 1 {
		t.Fatalf("expected a single execution, got %d", runs)
	}
}

func TestFailingJobClearsRunningFlag(t *testing.T) {
	s, store := newScheduler(t)
	ctx := context.Background()
	calls := 0
	if err := s.Register(ctx, "flaky", 0, func(context.Context) error {
		calls++
		switch calls {
		case 1:
			return errors.New("upstream unavailable")
		case 2:
			panic("nil map")
		}
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	err := s.Trigger(ctx, "flaky")
	if domain.CodeOf(err) != domain.CodeJobFailed {
		t.Fatalf("expected JOB_FAILED, got %v", err)
	}
	j, _ := store.GetJob(ctx, "flaky")
	if j.Running || j.LastError != "upstream unavailable" {
		t.Fatalf("unexpected state after error %+v", j)
	}

	if err := s.Trigger(ctx, "flaky"); domain.CodeOf(err) != domain.CodeJobFailed {
		t.Fatalf("expected JOB_FAILED after panic, got %v", err)
	}
	if err := s.Trigger(ctx, "flaky"); err != nil {
		t.Fatalf("job blocked after panic: %v", err)
	}
	j, _ = store.GetJob(ctx, "flaky")
	if j.Runs != 3 || j.LastError != "" {
		t.Fatalf("unexpected final state %+v", j)
	}
}

func TestStartRunsIntervalJobs(t *testing.T) {
	s, _ := newScheduler(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var ticks int32
	if err := s.Register(ctx, "tick", 5*time.Millisecond, func(context.Context) error {
		if atomic.AddInt32(&ticks, 1) == 3 {
			cancel()
		}
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.Register(ctx, "manual", 0, func(context.Context) error {
		t.Error("trigger-only job ran on a timer")
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("start: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	if atomic.LoadInt32(&ticks) < 3 {
		t.Fatalf("expected at least 3 ticks, got %d", ticks)
	}
}
