package store

import (
	"context"
	"database/sql"
	"time"
)

// FetchRun records one weather batch for auditing.
type FetchRun struct {
	ID              int64
	BatchID         string
	Generation      uint64
	StartedAt       time.Time
	FinishedAt      sql.NullTime
	CitiesRequested int
	CitiesSucceeded sql.NullInt64
	Success         bool
	ErrorMessage    sql.NullString
}

// StartFetchRun creates a new fetch run record and returns it.
func (s *Store) StartFetchRun(ctx context.Context, batchID string, generation uint64, citiesRequested int) (*FetchRun, error) {
	run := &FetchRun{
		BatchID:         batchID,
		Generation:      generation,
		StartedAt:       time.Now().UTC(),
		CitiesRequested: citiesRequested,
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO fetch_runs (batch_id, generation, started_at, cities_requested, success)
		VALUES (?, ?, ?, ?, FALSE)
	`, run.BatchID, int64(run.Generation), run.StartedAt, run.CitiesRequested)
	if err != nil {
		return nil, err
	}

	run.ID, err = result.LastInsertId()
	if err != nil {
		return nil, err
	}

	return run, nil
}

// CompleteFetchRun updates the fetch run with results.
func (s *Store) CompleteFetchRun(ctx context.Context, run *FetchRun) error {
	if run == nil {
		return nil
	}

	run.FinishedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}

	_, err := s.db.ExecContext(ctx, `
		UPDATE fetch_runs SET
			finished_at = ?,
			cities_succeeded = ?,
			success = ?,
			error_message = ?
		WHERE id = ?
	`, run.FinishedAt, run.CitiesSucceeded, run.Success, run.ErrorMessage, run.ID)
	return err
}

// GetRecentFetchRuns returns the most recent fetch runs, newest first.
func (s *Store) GetRecentFetchRuns(ctx context.Context, limit int) ([]FetchRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, batch_id, generation, started_at, finished_at,
		       cities_requested, cities_succeeded, success, error_message
		FROM fetch_runs
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []FetchRun
	for rows.Next() {
		var r FetchRun
		var generation int64
		if err := rows.Scan(&r.ID, &r.BatchID, &generation, &r.StartedAt, &r.FinishedAt,
			&r.CitiesRequested, &r.CitiesSucceeded, &r.Success, &r.ErrorMessage); err != nil {
			return nil, err
		}
		r.Generation = uint64(generation)
		results = append(results, r)
	}
	return results, rows.Err()
}
