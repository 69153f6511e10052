// Package scheduler runs named background jobs on an interval or on demand.
// At most one execution per job name is in flight at any time: a manual
// trigger during a run fails with CONFLICT and a timer tick during a run is
// dropped.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"dealdesk/internal/domain"
)

type JobFunc func(ctx context.Context) error

// Store persists job state for operators. The in-process registry remains
// the authority on whether a job is running.
type Store interface {
	EnsureJob(ctx context.Context, name string) error
	MarkStarted(ctx context.Context, name string, at time.Time) error
	MarkFinished(ctx context.Context, name string, runErr error) error
	ListJobs(ctx context.Context) ([]domain.SchedulerJob, error)
}

type Status struct {
	domain.SchedulerJob
	Interval string `json:"interval,omitempty"`
}

type job struct {
	name    string
	every   time.Duration
	fn      JobFunc
	running bool
}

type Scheduler struct {
	store Store
	log   zerolog.Logger
	Now   func() time.Time

	mu   sync.Mutex
	jobs map[string]*job
}

func New(store Store, log zerolog.Logger) *Scheduler {
	return &Scheduler{store: store, log: log, Now: time.Now, jobs: map[string]*job{}}
}

// Register adds a job. every <= 0 makes it trigger-only.
func (s *Scheduler) Register(ctx context.Context, name string, every time.Duration, fn JobFunc) error {
	if name == "" || fn == nil {
		return domain.Errorf(domain.CodeValidationFailed, "job name and function are required")
	}
	s.mu.Lock()
	if _, ok := s.jobs[name]; ok {
		s.mu.Unlock()
		return domain.Errorf(domain.CodeValidationFailed, "job %q already registered", name)
	}
	s.jobs[name] = &job{name: name, every: every, fn: fn}
	s.mu.Unlock()
	return s.store.EnsureJob(ctx, name)
}

// Trigger runs name now and waits for it to finish.
func (s *Scheduler) Trigger(ctx context.Context, name string) error {
	j, err := s.acquire(name)
	if err != nil {
		return err
	}
	return s.run(ctx, j)
}

func (s *Scheduler) acquire(name string) (*job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[name]
	if !ok {
		return nil, domain.Errorf(domain.CodeNotFound, "job %q is not registered", name)
	}
	if j.running {
		return nil, domain.Errorf(domain.CodeConflict, "job %q is already running", name)
	}
	j.running = true
	return j, nil
}

func (s *Scheduler) release(j *job) {
	s.mu.Lock()
	j.running = false
	s.mu.Unlock()
}

func (s *Scheduler) run(ctx context.Context, j *job) (err error) {
	log := s.log.With().Str("job", j.name).Logger()
	started := s.now()
	if serr := s.store.MarkStarted(ctx, j.name, started); serr != nil {
		log.Warn().Err(serr).Msg("scheduler: failed to persist job start")
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		// a cancelled request context must not leave the flag set
		if ferr := s.store.MarkFinished(context.WithoutCancel(ctx), j.name, err); ferr != nil {
			log.Warn().Err(ferr).Msg("scheduler: failed to persist job result")
		}
		s.release(j)
		if err != nil {
			log.Error().Err(err).Dur("took", s.now().Sub(started)).Msg("scheduler: job failed")
			err = domain.Wrap(domain.CodeJobFailed, err, fmt.Sprintf("job %q failed", j.name))
			return
		}
		log.Info().Dur("took", s.now().Sub(started)).Msg("scheduler: job finished")
	}()
	return j.fn(ctx)
}

// Start runs every interval job on its own ticker until ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	var timed []*job
	for _, j := range s.jobs {
		if j.every > 0 {
			timed = append(timed, j)
		}
	}
	s.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, j := range timed {
		g.Go(func() error {
			s.loop(ctx, j)
			return nil
		})
	}
	return g.Wait()
}

func (s *Scheduler) loop(ctx context.Context, j *job) {
	ticker := time.NewTicker(j.every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// failures are logged by run
			if err := s.Trigger(ctx, j.name); errors.Is(err, domain.ErrConflict) {
				s.log.Debug().Str("job", j.name).Msg("scheduler: tick skipped, job still running")
			}
		}
	}
}

// List returns persisted state for every registered job, sorted by name.
func (s *Scheduler) List(ctx context.Context) ([]Status, error) {
	stored, err := s.store.ListJobs(ctx)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]domain.SchedulerJob, len(stored))
	for _, j := range stored {
		byName[j.Name] = j
	}
	s.mu.Lock()
	out := make([]Status, 0, len(s.jobs))
	for name, j := range s.jobs {
		st := Status{SchedulerJob: byName[name]}
		st.Name = name
		st.Running = j.running
		if j.every > 0 {
			st.Interval = j.every.String()
		}
		out = append(out, st)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out, nil
}

func (s *Scheduler) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}
