package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Solution is one audited nonce report from a device.
type Solution struct {
	ID         int64     `db:"id"`
	JobID      string    `db:"job_id"`
	WorkerName string    `db:"worker_name"`
	Nonce      int64     `db:"nonce"` // uint32 stored widened
	Header     string    `db:"header"`
	Valid      bool      `db:"valid"`
	FoundAt    time.Time `db:"found_at"`
}

// SolutionRepository persists the solution audit log.
type SolutionRepository struct {
	db *sql.DB
}

// NewSolutionRepository creates a repository backed by db.
func NewSolutionRepository(db *sql.DB) *SolutionRepository {
	return &SolutionRepository{db: db}
}

// EnsureSchema creates the solutions table if it does not exist. The worker
// often runs against a fresh database with no migration tooling around.
func (r *SolutionRepository) EnsureSchema(ctx context.Context) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS solutions (
			id          BIGSERIAL PRIMARY KEY,
			job_id      TEXT NOT NULL,
			worker_name TEXT NOT NULL,
			nonce       BIGINT NOT NULL,
			header      TEXT NOT NULL,
			valid       BOOLEAN NOT NULL,
			found_at    TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS solutions_worker_found_idx
			ON solutions (worker_name, found_at DESC)`

	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to ensure solutions schema: %w", err)
	}
	return nil
}

// CreateSolution inserts a solution and fills in its generated ID.
func (r *SolutionRepository) CreateSolution(ctx context.Context, s *Solution) error {
	query := `
		INSERT INTO solutions (job_id, worker_name, nonce, header, valid, found_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	err := r.db.QueryRowContext(ctx, query,
		s.JobID, s.WorkerName, s.Nonce, s.Header, s.Valid, s.FoundAt,
	).Scan(&s.ID)
	if err != nil {
		return fmt.Errorf("failed to insert solution: %w", err)
	}
	return nil
}

// GetRecentSolutions returns the newest solutions for a worker.
func (r *SolutionRepository) GetRecentSolutions(ctx context.Context, workerName string, limit int) ([]*Solution, error) {
	query := `
		SELECT id, job_id, worker_name, nonce, header, valid, found_at
		FROM solutions
		WHERE worker_name = $1
		ORDER BY found_at DESC
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, workerName, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query solutions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var solutions []*Solution
	for rows.Next() {
		s := &Solution{}
		if err := rows.Scan(&s.ID, &s.JobID, &s.WorkerName, &s.Nonce, &s.Header, &s.Valid, &s.FoundAt); err != nil {
			return nil, fmt.Errorf("failed to scan solution: %w", err)
		}
		solutions = append(solutions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate solutions: %w", err)
	}
	return solutions, nil
}

// CountValidSolutions counts a worker's audited-valid solutions since a cutoff.
func (r *SolutionRepository) CountValidSolutions(ctx context.Context, workerName string, since time.Time) (int64, error) {
	query := `
		SELECT COUNT(*)
		FROM solutions
		WHERE worker_name = $1 AND valid AND found_at >= $2`

	var count int64
	if err := r.db.QueryRowContext(ctx, query, workerName, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count solutions: %w", err)
	}
	return count, nil
}
