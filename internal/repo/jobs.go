package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"dealdesk/internal/domain"
)

// JobStore persists scheduler job state in scheduler_jobs.
type JobStore struct {
	Repo Repo
}

// EnsureJob registers name, clearing a running flag left by a crashed process.
func (s JobStore) EnsureJob(ctx context.Context, name string) error {
	_, err := s.Repo.DB.ExecContext(ctx, `INSERT INTO scheduler_jobs(name,running,runs) VALUES (?,0,0) ON CONFLICT(name) DO UPDATE SET running=0`, name)
	return err
}

func (s JobStore) MarkStarted(ctx context.Context, name string, at time.Time) error {
	_, err := s.Repo.DB.ExecContext(ctx, `UPDATE scheduler_jobs SET running=1, last_run_at=? WHERE name=?`, formatTime(at), name)
	return err
}

func (s JobStore) MarkFinished(ctx context.Context, name string, runErr error) error {
	msg := ""
	if runErr != nil {
		msg = runErr.Error()
	}
	_, err := s.Repo.DB.ExecContext(ctx, `UPDATE scheduler_jobs SET running=0, runs=runs+1, last_error=? WHERE name=?`, nullable(msg), name)
	return err
}

func (s JobStore) GetJob(ctx context.Context, name string) (domain.SchedulerJob, error) {
	j, err := scanJob(s.Repo.DB.QueryRowContext(ctx, `SELECT name,running,last_run_at,last_error,runs FROM scheduler_jobs WHERE name=?`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return j, ErrNotFound
	}
	return j, err
}

func (s JobStore) ListJobs(ctx context.Context) ([]domain.SchedulerJob, error) {
	rows, err := s.Repo.DB.QueryContext(ctx, `SELECT name,running,last_run_at,last_error,runs FROM scheduler_jobs ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.SchedulerJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func scanJob(sc interface{ Scan(...any) error }) (domain.SchedulerJob, error) {
	var j domain.SchedulerJob
	var running int
	var lastRun, lastErr sql.NullString
	if err := sc.Scan(&j.Name, &running, &lastRun, &lastErr, &j.Runs); err != nil {
		return j, err
	}
	j.Running = running != 0
	j.LastError = lastErr.String
	var err error
	j.LastRunAt, err = parseNullTime(lastRun)
	return j, err
}
