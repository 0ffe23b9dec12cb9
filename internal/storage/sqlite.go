//go:build sqlite

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"retinasim/internal/model"

	_ "modernc.org/sqlite"
)

type SQLiteStore struct {
	path string

	mu sync.RWMutex
	db *sql.DB
}

func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{path: path}
}

func (s *SQLiteStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errors.New("sqlite path is required")
	}
	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return err
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}

	if err := createTables(ctx, db); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	return nil
}

func (s *SQLiteStore) SaveAxonMap(ctx context.Context, record model.AxonMapRecord) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := EncodeAxonMap(record)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO axon_maps (name, schema_version, codec_version, xlo, xhi, ylo, yhi, sampling, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			schema_version = excluded.schema_version,
			codec_version = excluded.codec_version,
			xlo = excluded.xlo,
			xhi = excluded.xhi,
			ylo = excluded.ylo,
			yhi = excluded.yhi,
			sampling = excluded.sampling,
			payload = excluded.payload
	`, record.Name, record.SchemaVersion, record.CodecVersion,
		record.Grid.XLo, record.Grid.XHi, record.Grid.YLo, record.Grid.YHi, record.Grid.Sampling, payload)
	return err
}

func (s *SQLiteStore) GetAxonMap(ctx context.Context, name string) (model.AxonMapRecord, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return model.AxonMapRecord{}, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, `SELECT payload FROM axon_maps WHERE name = ?`, name).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.AxonMapRecord{}, false, nil
		}
		return model.AxonMapRecord{}, false, err
	}

	record, err := DecodeAxonMap(payload)
	if err != nil {
		return model.AxonMapRecord{}, false, fmt.Errorf("decode axon map %s: %w", name, err)
	}
	return record, true, nil
}

func (s *SQLiteStore) DeleteAxonMap(ctx context.Context, name string) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `DELETE FROM axon_maps WHERE name = ?`, name)
	return err
}

func (s *SQLiteStore) SavePercept(ctx context.Context, record model.PerceptRecord) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := EncodePercept(record)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO percepts (run_id, created_at_utc, schema_version, codec_version, payload)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			created_at_utc = excluded.created_at_utc,
			schema_version = excluded.schema_version,
			codec_version = excluded.codec_version,
			payload = excluded.payload
	`, record.RunID, record.CreatedAtUTC, record.SchemaVersion, record.CodecVersion, payload)
	return err
}

func (s *SQLiteStore) GetPercept(ctx context.Context, runID string) (model.PerceptRecord, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return model.PerceptRecord{}, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, `SELECT payload FROM percepts WHERE run_id = ?`, runID).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.PerceptRecord{}, false, nil
		}
		return model.PerceptRecord{}, false, err
	}

	record, err := DecodePercept(payload)
	if err != nil {
		return model.PerceptRecord{}, false, fmt.Errorf("decode percept %s: %w", runID, err)
	}
	return record, true, nil
}

func (s *SQLiteStore) ListPercepts(ctx context.Context) ([]model.PerceptRecord, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT run_id, payload FROM percepts ORDER BY created_at_utc DESC, run_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.PerceptRecord
	for rows.Next() {
		var (
			runID   string
			payload []byte
		)
		if err := rows.Scan(&runID, &payload); err != nil {
			return nil, err
		}
		record, err := DecodePercept(payload)
		if err != nil {
			return nil, fmt.Errorf("decode percept %s: %w", runID, err)
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLiteStore) getDB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	return s.db, nil
}

func createTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS axon_maps (
			name TEXT PRIMARY KEY,
			schema_version INTEGER NOT NULL,
			codec_version INTEGER NOT NULL,
			xlo REAL NOT NULL,
			xhi REAL NOT NULL,
			ylo REAL NOT NULL,
			yhi REAL NOT NULL,
			sampling REAL NOT NULL,
			payload BLOB NOT NULL
		);
		CREATE TABLE IF NOT EXISTS percepts (
			run_id TEXT PRIMARY KEY,
			created_at_utc TEXT NOT NULL,
			schema_version INTEGER NOT NULL,
			codec_version INTEGER NOT NULL,
			payload BLOB NOT NULL
		);
	`)
	return err
}
