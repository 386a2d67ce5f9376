// Package db provides optional PostgreSQL persistence for migration runs.
// The run-state file remains the source of truth; the database is an audit
// trail and every write is best-effort from the pipeline's point of view.
package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jonathan/vault-agent/internal/types"
)

// DB wraps a PostgreSQL connection pool.
type DB struct {
	pool *pgxpool.Pool
}

// Connect establishes a connection pool to the database.
func Connect(ctx context.Context, databaseURL string) (*DB, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{pool: pool}, nil
}

// Close closes the connection pool.
func (db *DB) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
}

// CreateMigrationRun records a new migration run and returns its ID.
func (db *DB) CreateMigrationRun(ctx context.Context, fingerprint, workspacePath, vaultPath, model string, totalTasks int) (uuid.UUID, error) {
	var id uuid.UUID
	err := db.pool.QueryRow(ctx,
		`INSERT INTO migration_runs (fingerprint, workspace_path, vault_path, model, total_tasks, status)
		 VALUES ($1, $2, $3, $4, $5, 'running')
		 RETURNING id`,
		fingerprint, workspacePath, vaultPath, model, totalTasks,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to create migration run: %w", err)
	}
	return id, nil
}

// CompleteMigrationRun marks a migration run as finished with a status.
func (db *DB) CompleteMigrationRun(ctx context.Context, runID uuid.UUID, status string) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE migration_runs SET status = $1, completed_at = NOW() WHERE id = $2`,
		status, runID,
	)
	if err != nil {
		return fmt.Errorf("failed to complete migration run: %w", err)
	}
	return nil
}

// SaveTaskResult stores one completed task result, upserting on (run, task).
func (db *DB) SaveTaskResult(ctx context.Context, runID uuid.UUID, result types.StoredTaskResult) error {
	jsonBytes, err := json.Marshal(result.Result)
	if err != nil {
		return fmt.Errorf("failed to marshal task result: %w", err)
	}

	_, err = db.pool.Exec(ctx,
		`INSERT INTO task_results (run_id, task_id, rel_path, result, completed_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (run_id, task_id) DO UPDATE SET rel_path = $3, result = $4, completed_at = $5`,
		runID, result.TaskID, result.RelPath, jsonBytes, result.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save task result: %w", err)
	}
	return nil
}

// SaveSynthesis stores the final synthesis summary for a run.
func (db *DB) SaveSynthesis(ctx context.Context, runID uuid.UUID, summary string) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO synthesis_summaries (run_id, summary)
		 VALUES ($1, $2)
		 ON CONFLICT (run_id) DO UPDATE SET summary = $2, created_at = NOW()`,
		runID, summary,
	)
	if err != nil {
		return fmt.Errorf("failed to save synthesis summary: %w", err)
	}
	return nil
}
