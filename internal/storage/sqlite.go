//go:build sqlite

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"metahdr/internal/model"

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

func (s *SQLiteStore) SaveEvaluation(ctx context.Context, record model.EvaluationRecord) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := EncodeEvaluation(record)
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO evaluations (run_id, created_at_utc, schema_version, codec_version, payload)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			created_at_utc = excluded.created_at_utc,
			schema_version = excluded.schema_version,
			codec_version = excluded.codec_version,
			payload = excluded.payload
	`, record.RunID, record.CreatedAtUTC, record.SchemaVersion, record.CodecVersion, payload); err != nil {
		return err
	}

	// Mode rows mirror the payload so averages can be queried without decoding.
	if _, err := tx.ExecContext(ctx, `DELETE FROM evaluation_modes WHERE run_id = ?`, record.RunID); err != nil {
		return err
	}
	for _, mode := range record.Modes {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO evaluation_modes (run_id, mode, tasks, mean_ssim, mean_psnr)
			VALUES (?, ?, ?, ?, ?)
		`, record.RunID, mode.Mode, mode.Tasks, mode.MeanSSIM, mode.MeanPSNR); err != nil {
			return fmt.Errorf("save mode %s of %s: %w", mode.Mode, record.RunID, err)
		}
	}
	return tx.Commit()
}

// ModeAverages returns the stored (mean SSIM, mean PSNR) of one mode for
// every run, newest first.
func (s *SQLiteStore) ModeAverages(ctx context.Context, mode string) ([]ModeAverage, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT m.run_id, m.tasks, m.mean_ssim, m.mean_psnr
		FROM evaluation_modes m
		JOIN evaluations e ON e.run_id = m.run_id
		WHERE m.mode = ?
		ORDER BY e.created_at_utc DESC, m.run_id ASC
	`, mode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ModeAverage
	for rows.Next() {
		avg := ModeAverage{Mode: mode}
		if err := rows.Scan(&avg.RunID, &avg.Tasks, &avg.MeanSSIM, &avg.MeanPSNR); err != nil {
			return nil, err
		}
		out = append(out, avg)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetEvaluation(ctx context.Context, runID string) (model.EvaluationRecord, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return model.EvaluationRecord{}, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, `SELECT payload FROM evaluations WHERE run_id = ?`, runID).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.EvaluationRecord{}, false, nil
		}
		return model.EvaluationRecord{}, false, err
	}

	record, err := DecodeEvaluation(payload)
	if err != nil {
		return model.EvaluationRecord{}, false, fmt.Errorf("decode evaluation %s: %w", runID, err)
	}
	return record, true, nil
}

func (s *SQLiteStore) ListEvaluations(ctx context.Context) ([]model.EvaluationRecord, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT run_id, payload FROM evaluations ORDER BY created_at_utc DESC, run_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.EvaluationRecord
	for rows.Next() {
		var (
			runID   string
			payload []byte
		)
		if err := rows.Scan(&runID, &payload); err != nil {
			return nil, err
		}
		record, err := DecodeEvaluation(payload)
		if err != nil {
			return nil, fmt.Errorf("decode evaluation %s: %w", runID, err)
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
		CREATE TABLE IF NOT EXISTS evaluations (
			run_id TEXT PRIMARY KEY,
			created_at_utc TEXT NOT NULL,
			schema_version INTEGER NOT NULL,
			codec_version INTEGER NOT NULL,
			payload BLOB NOT NULL
		);
		CREATE INDEX IF NOT EXISTS evaluations_created_at ON evaluations (created_at_utc);
		CREATE TABLE IF NOT EXISTS evaluation_modes (
			run_id TEXT NOT NULL,
			mode TEXT NOT NULL,
			tasks INTEGER NOT NULL,
			mean_ssim REAL NOT NULL,
			mean_psnr REAL NOT NULL,
			PRIMARY KEY (run_id, mode)
		);
	`)
	return err
}
