// Package store persists registration runs and per-pair results in PostgreSQL.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/blacksoil/HomographyAnalyzer/internal/batch"
)

// Store manages the connection pool. It is safe for concurrent use and implements
// batch.Recorder.
type Store struct {
	pool *pgxpool.Pool
}

var _ batch.Recorder = (*Store)(nil)

// New connects to the database and creates the schema when missing.
func New(ctx context.Context, connString string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("connect store: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect store: %w", err)
	}
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

const schema = `
	CREATE TABLE IF NOT EXISTS registration_runs (
		id BIGSERIAL PRIMARY KEY,
		workspace TEXT NOT NULL DEFAULT '',
		reference TEXT NOT NULL,
		detector TEXT NOT NULL,
		descriptor TEXT NOT NULL,
		metric TEXT NOT NULL,
		ransac_threshold DOUBLE PRECISION NOT NULL,
		keypoints_reference INT NOT NULL,
		started_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		finished_at TIMESTAMPTZ,
		succeeded INT NOT NULL DEFAULT 0,
		failed INT NOT NULL DEFAULT 0
	);
	CREATE TABLE IF NOT EXISTS pair_results (
		id BIGSERIAL PRIMARY KEY,
		run_id BIGINT NOT NULL REFERENCES registration_runs(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		file TEXT NOT NULL,
		status TEXT NOT NULL,
		error_kind TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		keypoints INT NOT NULL,
		correspondences INT NOT NULL,
		inliers INT NOT NULL,
		inlier_ratio DOUBLE PRECISION NOT NULL,
		rmse DOUBLE PRECISION NOT NULL,
		iterations INT NOT NULL,
		homography DOUBLE PRECISION[],
		duration_ms BIGINT NOT NULL,
		recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS pair_results_run_id_idx ON pair_results (run_id);
`

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, schema)
	return err
}

// Close releases all connections.
func (s *Store) Close() {
	s.pool.Close()
}

// BeginRun inserts a run row and returns its id.
func (s *Store) BeginRun(ctx context.Context, info *batch.Info) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO registration_runs
			(workspace, reference, detector, descriptor, metric, ransac_threshold, keypoints_reference, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, info.Workspace, info.Reference, info.Detector, info.Descriptor, info.Metric,
		info.RansacThreshold, info.KeypointsReference, startedAt(info)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}
	return id, nil
}

// RecordPair stores one target result of a run.
func (s *Store) RecordPair(ctx context.Context, runID int64, t batch.TargetInfo) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO pair_results
			(run_id, name, file, status, error_kind, error, keypoints, correspondences,
			 inliers, inlier_ratio, rmse, iterations, homography, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, pairArgs(runID, t)...)
	if err != nil {
		return fmt.Errorf("insert pair %s: %w", t.Name, err)
	}
	return nil
}

// FinishRun stores the final tallies of a run.
func (s *Store) FinishRun(ctx context.Context, runID int64, info *batch.Info) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE registration_runs SET finished_at = NOW(), succeeded = $2, failed = $3 WHERE id = $1
	`, runID, info.Succeeded, info.Failed)
	if err != nil {
		return fmt.Errorf("finish run %d: %w", runID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("finish run %d: %w", runID, ErrRunNotFound)
	}
	return nil
}

// ErrRunNotFound is returned for unknown run ids.
var ErrRunNotFound = errors.New("run not found")

// Run is a stored run row.
type Run struct {
	ID         int64
	Reference  string
	Detector   string
	Descriptor string
	StartedAt  time.Time
	FinishedAt *time.Time
	Succeeded  int
	Failed     int
}

// RecentRuns lists the newest runs first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, reference, detector, descriptor, started_at, finished_at, succeeded, failed
		FROM registration_runs ORDER BY id DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Run, error) {
		var r Run
		err := row.Scan(&r.ID, &r.Reference, &r.Detector, &r.Descriptor, &r.StartedAt, &r.FinishedAt, &r.Succeeded, &r.Failed)
		return r, err
	})
}

// Pairs returns the stored results of a run in insertion order.
func (s *Store) Pairs(ctx context.Context, runID int64) ([]batch.TargetInfo, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT name, file, status, error_kind, error, keypoints, correspondences,
			inliers, inlier_ratio, rmse, iterations, homography, duration_ms
		FROM pair_results WHERE run_id = $1 ORDER BY id
	`, runID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (batch.TargetInfo, error) {
		var (
			t    batch.TargetInfo
			flat []float64
		)
		err := row.Scan(&t.Name, &t.File, &t.Status, &t.ErrorKind, &t.Error, &t.Keypoints, &t.Correspondences,
			&t.Inliers, &t.InlierRatio, &t.RMSE, &t.Iterations, &flat, &t.DurationMS)
		t.Homography = unflatten(flat)
		return t, err
	})
}

func startedAt(info *batch.Info) time.Time {
	if info.StartedAt.IsZero() {
		return time.Now().UTC()
	}
	return info.StartedAt
}

// pairArgs lists the insert arguments of a pair in column order.
func pairArgs(runID int64, t batch.TargetInfo) []any {
	return []any{
		runID, t.Name, t.File, t.Status, t.ErrorKind, t.Error, t.Keypoints, t.Correspondences,
		t.Inliers, t.InlierRatio, t.RMSE, t.Iterations, flatten(t.Homography), t.DurationMS,
	}
}

// flatten returns the row-major matrix, or nil when rows is not 3x3.
func flatten(rows [][]float64) []float64 {
	if len(rows) != 3 {
		return nil
	}
	flat := make([]float64, 0, 9)
	for _, r := range rows {
		if len(r) != 3 {
			return nil
		}
		flat = append(flat, r...)
	}
	return flat
}

func unflatten(flat []float64) [][]float64 {
	if len(flat) != 9 {
		return nil
	}
	return [][]float64{flat[0:3:3], flat[3:6:6], flat[6:9:9]}
}
