package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bernsmp/zed-seo-tool/internal/domain"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store keeps checkpoints in Postgres for deployments that share state
// between hosts.
type Store struct {
	Pool *pgxpool.Pool
}

func New(ctx context.Context, connString string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{Pool: pool}, nil
}

// RunMigrations applies the embedded SQL migrations.
func (s *Store) RunMigrations(connString string) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", sourceDriver, connString)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

func (s *Store) Close() {
	s.Pool.Close()
}

func (s *Store) SaveCheckpoint(ctx context.Context, clientID string, jobType domain.JobType, cp domain.Checkpoint) error {
	results := cp.Results
	if len(results) == 0 {
		results = []byte("[]")
	}
	updated := cp.UpdatedAt
	if updated.IsZero() {
		updated = time.Now().UTC()
	}
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO checkpoints (client_id, job_type, batches_done, batches_total, batch_size, input_hash, results, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8)
		ON CONFLICT (client_id, job_type) DO UPDATE SET
			batches_done  = EXCLUDED.batches_done,
			batches_total = EXCLUDED.batches_total,
			batch_size    = EXCLUDED.batch_size,
			input_hash    = EXCLUDED.input_hash,
			results       = EXCLUDED.results,
			updated_at    = EXCLUDED.updated_at
		WHERE EXCLUDED.batches_done >= checkpoints.batches_done
		   OR EXCLUDED.input_hash <> checkpoints.input_hash
	`, clientID, string(jobType), cp.BatchesDone, cp.BatchesTotal, cp.BatchSize, cp.InputHash, string(results), updated)
	if err != nil {
		return fmt.Errorf("save checkpoint %s/%s: %w", clientID, jobType, err)
	}
	return nil
}

func (s *Store) LoadCheckpoint(ctx context.Context, clientID string, jobType domain.JobType) (domain.Checkpoint, bool, error) {
	var cp domain.Checkpoint
	var results string
	err := s.Pool.QueryRow(ctx, `
		SELECT batches_done, batches_total, batch_size, input_hash, results::text, updated_at
		FROM checkpoints WHERE client_id = $1 AND job_type = $2
	`, clientID, string(jobType)).Scan(&cp.BatchesDone, &cp.BatchesTotal, &cp.BatchSize, &cp.InputHash, &results, &cp.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Checkpoint{}, false, nil
	}
	if err != nil {
		return domain.Checkpoint{}, false, fmt.Errorf("load checkpoint %s/%s: %w", clientID, jobType, err)
	}
	cp.Results = []byte(results)
	return cp, true, nil
}

func (s *Store) DeleteCheckpoint(ctx context.Context, clientID string, jobType domain.JobType) error {
	_, err := s.Pool.Exec(ctx, `DELETE FROM checkpoints WHERE client_id = $1 AND job_type = $2`, clientID, string(jobType))
	return err
}
