package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/bernsmp/zed-seo-tool/internal/domain"
)

// Store is the default checkpoint store. It also holds the job queue and the
// LLM call log.
type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}
	// One writer keeps checkpoint upserts serialised.
	db.SetMaxOpenConns(1)

	schema := `
	CREATE TABLE IF NOT EXISTS checkpoints (
		client_id     TEXT NOT NULL,
		job_type      TEXT NOT NULL,
		batches_done  INTEGER NOT NULL,
		batches_total INTEGER NOT NULL,
		batch_size    INTEGER NOT NULL,
		input_hash    TEXT NOT NULL DEFAULT '',
		results       TEXT NOT NULL DEFAULT '[]',
		updated_at    DATETIME NOT NULL,
		PRIMARY KEY (client_id, job_type)
	);

	CREATE TABLE IF NOT EXISTS jobs (
		id          TEXT PRIMARY KEY,
		client_id   TEXT NOT NULL,
		job_type    TEXT NOT NULL,
		status      TEXT NOT NULL DEFAULT 'pending',
		input       TEXT NOT NULL DEFAULT '{}',
		summary     TEXT NOT NULL DEFAULT '',
		error       TEXT NOT NULL DEFAULT '',
		attempts    INTEGER NOT NULL DEFAULT 0,
		created_at  DATETIME NOT NULL,
		updated_at  DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status, created_at);
	CREATE INDEX IF NOT EXISTS idx_jobs_client ON jobs(client_id, job_type);

	CREATE TABLE IF NOT EXISTS llm_calls (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		task          TEXT NOT NULL,
		provider      TEXT NOT NULL DEFAULT '',
		model         TEXT NOT NULL DEFAULT '',
		attempt       INTEGER NOT NULL DEFAULT 1,
		input_tokens  INTEGER NOT NULL DEFAULT 0,
		output_tokens INTEGER NOT NULL DEFAULT 0,
		duration_ms   INTEGER NOT NULL DEFAULT 0,
		error         TEXT NOT NULL DEFAULT '',
		called_at     DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_llm_calls_date ON llm_calls(called_at);
	`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, err
	}

	// Databases created before jobs carried attempts get the column added.
	var colCount int
	if err := db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('jobs') WHERE name = 'attempts'`).Scan(&colCount); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("inspect jobs schema: %w", err)
	}
	if colCount == 0 {
		if _, err := db.Exec(`ALTER TABLE jobs ADD COLUMN attempts INTEGER NOT NULL DEFAULT 0`); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("add jobs.attempts column: %w", err)
		}
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// SaveCheckpoint upserts the checkpoint. For the same input a save never
// moves batches_done backwards; a checkpoint for different input replaces it.
func (s *Store) SaveCheckpoint(ctx context.Context, clientID string, jobType domain.JobType, cp domain.Checkpoint) error {
	results := string(cp.Results)
	if results == "" {
		results = "[]"
	}
	updated := cp.UpdatedAt
	if updated.IsZero() {
		updated = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO checkpoints (client_id, job_type, batches_done, batches_total, batch_size, input_hash, results, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(client_id, job_type) DO UPDATE SET
			batches_done  = excluded.batches_done,
			batches_total = excluded.batches_total,
			batch_size    = excluded.batch_size,
			input_hash    = excluded.input_hash,
			results       = excluded.results,
			updated_at    = excluded.updated_at
		 WHERE excluded.batches_done >= checkpoints.batches_done
		    OR excluded.input_hash <> checkpoints.input_hash`,
		clientID, string(jobType), cp.BatchesDone, cp.BatchesTotal, cp.BatchSize, cp.InputHash, results, updated,
	)
	if err != nil {
		return fmt.Errorf("save checkpoint %s/%s: %w", clientID, jobType, err)
	}
	return nil
}

func (s *Store) LoadCheckpoint(ctx context.Context, clientID string, jobType domain.JobType) (domain.Checkpoint, bool, error) {
	var cp domain.Checkpoint
	var results string
	err := s.db.QueryRowContext(ctx,
		`SELECT batches_done, batches_total, batch_size, input_hash, results, updated_at
		 FROM checkpoints WHERE client_id = ? AND job_type = ?`,
		clientID, string(jobType),
	).Scan(&cp.BatchesDone, &cp.BatchesTotal, &cp.BatchSize, &cp.InputHash, &results, &cp.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Checkpoint{}, false, nil
	}
	if err != nil {
		return domain.Checkpoint{}, false, fmt.Errorf("load checkpoint %s/%s: %w", clientID, jobType, err)
	}
	cp.Results = []byte(results)
	return cp, true, nil
}

func (s *Store) DeleteCheckpoint(ctx context.Context, clientID string, jobType domain.JobType) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE client_id = ? AND job_type = ?`, clientID, string(jobType))
	return err
}

type CheckpointInfo struct {
	ClientID     string
	JobType      domain.JobType
	BatchesDone  int
	BatchesTotal int
	UpdatedAt    time.Time
}

// ListCheckpoints returns checkpoint headers for a client, or all clients when clientID is empty.
func (s *Store) ListCheckpoints(ctx context.Context, clientID string) ([]CheckpointInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT client_id, job_type, batches_done, batches_total, updated_at
		 FROM checkpoints WHERE ? = '' OR client_id = ? ORDER BY client_id, job_type`,
		clientID, clientID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CheckpointInfo
	for rows.Next() {
		var info CheckpointInfo
		var jobType string
		if err := rows.Scan(&info.ClientID, &jobType, &info.BatchesDone, &info.BatchesTotal, &info.UpdatedAt); err != nil {
			return nil, err
		}
		info.JobType = domain.JobType(jobType)
		out = append(out, info)
	}
	return out, rows.Err()
}
