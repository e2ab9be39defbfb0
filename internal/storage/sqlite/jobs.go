package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bernsmp/zed-seo-tool/internal/domain"
)

var ErrJobNotFound = errors.New("job not found")

type JobStatus string

const (
	StatusPending JobStatus = "pending"
	StatusRunning JobStatus = "running"
	StatusDone    JobStatus = "done"
	StatusFailed  JobStatus = "failed"
)

// QueuedJob is one row of the job queue. Input holds the job's keywords as JSON.
type QueuedJob struct {
	ID        string
	ClientID  string
	JobType   domain.JobType
	Status    JobStatus
	Input     json.RawMessage
	Summary   string
	Error     string
	Attempts  int
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (s *Store) EnqueueJob(ctx context.Context, clientID string, jobType domain.JobType, input any) (QueuedJob, error) {
	raw, err := json.Marshal(input)
	if err != nil {
		return QueuedJob{}, fmt.Errorf("encode job input: %w", err)
	}
	now := time.Now().UTC()
	job := QueuedJob{
		ID:        uuid.NewString(),
		ClientID:  clientID,
		JobType:   jobType,
		Status:    StatusPending,
		Input:     raw,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, client_id, job_type, status, input, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.ClientID, string(job.JobType), string(job.Status), string(raw), now, now,
	)
	if err != nil {
		return QueuedJob{}, err
	}
	return job, nil
}

const jobColumns = `id, client_id, job_type, status, input, summary, error, attempts, created_at, updated_at`

func scanJob(row interface{ Scan(...any) error }) (QueuedJob, error) {
	var j QueuedJob
	var jobType, status, input string
	err := row.Scan(&j.ID, &j.ClientID, &jobType, &status, &input, &j.Summary, &j.Error, &j.Attempts, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return QueuedJob{}, err
	}
	j.JobType = domain.JobType(jobType)
	j.Status = JobStatus(status)
	j.Input = json.RawMessage(input)
	return j, nil
}

func (s *Store) GetJob(ctx context.Context, id string) (QueuedJob, error) {
	j, err := scanJob(s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return QueuedJob{}, fmt.Errorf("%s: %w", id, ErrJobNotFound)
	}
	return j, err
}

// RunnableJobs lists pending jobs plus running ones left over from an
// interrupted process, oldest first.
func (s *Store) RunnableJobs(ctx context.Context, limit int) ([]QueuedJob, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.queryJobs(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status IN (?, ?) ORDER BY created_at, id LIMIT ?`,
		string(StatusPending), string(StatusRunning), limit,
	)
}

func (s *Store) ListJobs(ctx context.Context, clientID string, limit int) ([]QueuedJob, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.queryJobs(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE ? = '' OR client_id = ? ORDER BY created_at DESC, id LIMIT ?`,
		clientID, clientID, limit,
	)
}

func (s *Store) queryJobs(ctx context.Context, query string, args ...any) ([]QueuedJob, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []QueuedJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *Store) MarkRunning(ctx context.Context, id string) error {
	return s.setStatus(ctx, id, `status = ?, attempts = attempts + 1`, string(StatusRunning))
}

func (s *Store) MarkDone(ctx context.Context, id string, summary string) error {
	return s.setStatus(ctx, id, `status = ?, summary = ?, error = ''`, string(StatusDone), summary)
}

func (s *Store) MarkFailed(ctx context.Context, id string, jobErr error) error {
	msg := ""
	if jobErr != nil {
		msg = jobErr.Error()
	}
	return s.setStatus(ctx, id, `status = ?, error = ?`, string(StatusFailed), msg)
}

// Requeue puts a job back to pending, e.g. after a shutdown interrupted it.
func (s *Store) Requeue(ctx context.Context, id string) error {
	return s.setStatus(ctx, id, `status = ?`, string(StatusPending))
}

func (s *Store) setStatus(ctx context.Context, id, set string, args ...any) error {
	args = append(args, time.Now().UTC(), id)
	res, err := s.db.ExecContext(ctx, `UPDATE jobs SET `+set+`, updated_at = ? WHERE id = ?`, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s: %w", id, ErrJobNotFound)
	}
	return nil
}

func (s *Store) CountJobsByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[status] = n
	}
	return out, rows.Err()
}
