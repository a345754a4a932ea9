package store

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"time"
)

// RawPayload is a stored provider response body.
type RawPayload struct {
	ID                int64
	BatchID           sql.NullString
	FetchedAt         time.Time
	CityKey           string
	PayloadCompressed []byte
	PayloadHash       string
	SchemaVersion     int
}

// StoreRawPayload stores a compressed provider response.
// Returns the payload ID, or 0 if the payload was a duplicate (same hash).
func (s *Store) StoreRawPayload(ctx context.Context, batchID, cityKey string, payload []byte) (int64, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(payload); err != nil {
		return 0, fmt.Errorf("compress payload: %w", err)
	}
	if err := gz.Close(); err != nil {
		return 0, fmt.Errorf("close gzip: %w", err)
	}

	hash := sha256.Sum256(payload)

	var batch sql.NullString
	if batchID != "" {
		batch = sql.NullString{String: batchID, Valid: true}
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO raw_payloads (batch_id, fetched_at, city_key, payload_compressed, payload_hash, schema_version)
		VALUES (?, ?, ?, ?, ?, 1)
		ON CONFLICT(payload_hash) DO NOTHING
	`, batch, time.Now().UTC(), cityKey, buf.Bytes(), hex.EncodeToString(hash[:]))
	if err != nil {
		return 0, fmt.Errorf("insert raw payload: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	if affected == 0 {
		return 0, nil
	}
	return result.LastInsertId()
}

// GetRawPayload retrieves and decompresses a stored payload by ID.
func (s *Store) GetRawPayload(ctx context.Context, id int64) ([]byte, error) {
	var compressed []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload_compressed FROM raw_payloads WHERE id = ?`, id).
		Scan(&compressed)
	if err != nil {
		return nil, err
	}

	gz, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("create gzip reader: %w", err)
	}
	defer gz.Close()

	return io.ReadAll(gz)
}

// LatestRawPayload returns the newest payload stored for a city key, or nil.
func (s *Store) LatestRawPayload(ctx context.Context, cityKey string) (*RawPayload, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, batch_id, fetched_at, city_key, payload_compressed, payload_hash, schema_version
		FROM raw_payloads WHERE city_key = ?
		ORDER BY fetched_at DESC, id DESC
		LIMIT 1
	`, cityKey)

	var p RawPayload
	err := row.Scan(&p.ID, &p.BatchID, &p.FetchedAt, &p.CityKey, &p.PayloadCompressed, &p.PayloadHash, &p.SchemaVersion)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CleanupOldRawPayloads deletes raw payloads older than retention.
// Returns the number of deleted records.
func (s *Store) CleanupOldRawPayloads(ctx context.Context, retention time.Duration) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM raw_payloads
		WHERE fetched_at < ?
	`, time.Now().UTC().Add(-retention))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
