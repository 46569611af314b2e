package trainingresult

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteRepository is the durable backend: a single results table plus
// a trivial schema_version table holding the integer 1.
// Grounded on steveyegge-beads/internal/storage/local_provider.go's
// sql.Open("sqlite3", connStr) pattern.
type SQLiteRepository struct {
	db *sql.DB
}

// OpenSQLite opens (creating if absent) a training-result database at
// path. Create-if-not-exists is idempotent.
func OpenSQLite(path string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("trainingresult: open %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("trainingresult: ping %s: %w", path, err)
	}
	r := &SQLiteRepository{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

func (r *SQLiteRepository) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`,
		`CREATE TABLE IF NOT EXISTS training_results (
			training_session_id TEXT PRIMARY KEY,
			summary_json TEXT NOT NULL,
			candidates_json TEXT NOT NULL,
			candidate_count INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		)`,
	}
	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("trainingresult: migrate: %w", err)
		}
	}
	var count int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM schema_version`).Scan(&count); err != nil {
		return fmt.Errorf("trainingresult: check schema_version: %w", err)
	}
	if count == 0 {
		if _, err := r.db.Exec(`INSERT INTO schema_version (version) VALUES (?)`, SchemaVersion); err != nil {
			return fmt.Errorf("trainingresult: seed schema_version: %w", err)
		}
		return nil
	}
	// An existing store with a version this build does not recognize is
	// refused rather than migrated.
	var version int
	if err := r.db.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&version); err != nil {
		return fmt.Errorf("trainingresult: read schema_version: %w", err)
	}
	if version != SchemaVersion {
		return fmt.Errorf("trainingresult: unsupported schema version %d (want %d)", version, SchemaVersion)
	}
	return nil
}

func (r *SQLiteRepository) Store(res Result) error {
	if res.SchemaVersion != 0 && res.SchemaVersion != SchemaVersion {
		return fmt.Errorf("trainingresult: unsupported record schema version %d (want %d)", res.SchemaVersion, SchemaVersion)
	}
	summaryJSON, err := json.Marshal(res.Summary)
	if err != nil {
		return fmt.Errorf("trainingresult: marshal summary: %w", err)
	}
	candidatesJSON, err := json.Marshal(res.Candidates)
	if err != nil {
		return fmt.Errorf("trainingresult: marshal candidates: %w", err)
	}
	createdAt := res.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err = r.db.Exec(`
		INSERT INTO training_results (training_session_id, summary_json, candidates_json, candidate_count, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(training_session_id) DO UPDATE SET
			summary_json=excluded.summary_json,
			candidates_json=excluded.candidates_json,
			candidate_count=excluded.candidate_count,
			created_at=excluded.created_at
	`, res.Summary.TrainingSessionID.String(), string(summaryJSON), string(candidatesJSON), len(res.Candidates), createdAt.Unix())
	if err != nil {
		return fmt.Errorf("trainingresult: store: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Exists(id uuid.UUID) (bool, error) {
	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM training_results WHERE training_session_id = ?`, id.String()).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("trainingresult: exists: %w", err)
	}
	return count > 0, nil
}

func (r *SQLiteRepository) Get(id uuid.UUID) (Result, error) {
	row := r.db.QueryRow(`SELECT summary_json, candidates_json, created_at FROM training_results WHERE training_session_id = ?`, id.String())
	return scanRow(row)
}

func (r *SQLiteRepository) List() ([]Result, error) {
	rows, err := r.db.Query(`SELECT summary_json, candidates_json, created_at FROM training_results ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("trainingresult: list: %w", err)
	}
	defer rows.Close()

	var out []Result
	for rows.Next() {
		var summaryJSON, candidatesJSON string
		var createdAt int64
		if err := rows.Scan(&summaryJSON, &candidatesJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("trainingresult: scan: %w", err)
		}
		res, err := decodeResult(summaryJSON, candidatesJSON, createdAt)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) Remove(id uuid.UUID) (bool, error) {
	res, err := r.db.Exec(`DELETE FROM training_results WHERE training_session_id = ?`, id.String())
	if err != nil {
		return false, fmt.Errorf("trainingresult: remove: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("trainingresult: rows affected: %w", err)
	}
	return n > 0, nil
}

func (r *SQLiteRepository) Close() error { return r.db.Close() }

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanRow(row scannable) (Result, error) {
	var summaryJSON, candidatesJSON string
	var createdAt int64
	if err := row.Scan(&summaryJSON, &candidatesJSON, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return Result{}, fmt.Errorf("trainingresult: not found")
		}
		return Result{}, fmt.Errorf("trainingresult: scan: %w", err)
	}
	return decodeResult(summaryJSON, candidatesJSON, createdAt)
}

func decodeResult(summaryJSON, candidatesJSON string, createdAt int64) (Result, error) {
	var summary Summary
	if err := json.Unmarshal([]byte(summaryJSON), &summary); err != nil {
		return Result{}, fmt.Errorf("trainingresult: unmarshal summary: %w", err)
	}
	var candidates []Candidate
	if err := json.Unmarshal([]byte(candidatesJSON), &candidates); err != nil {
		return Result{}, fmt.Errorf("trainingresult: unmarshal candidates: %w", err)
	}
	return Result{
		Summary:       summary,
		Candidates:    candidates,
		CreatedAt:     time.Unix(createdAt, 0),
		SchemaVersion: SchemaVersion,
	}, nil
}

var _ Repository = (*SQLiteRepository)(nil)
