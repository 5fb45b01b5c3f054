package stats

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id        TEXT PRIMARY KEY,
	domain        TEXT NOT NULL,
	config_json   TEXT,
	created_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS outer_iterations (
	run_id            TEXT NOT NULL,
	outer_iteration   INTEGER NOT NULL,
	total_steps       INTEGER NOT NULL,
	feature_count     INTEGER NOT NULL,
	mean_squared_error REAL NOT NULL,
	elapsed_seconds   REAL NOT NULL,
	cluster_count     INTEGER NOT NULL,
	objective         REAL NOT NULL,
	cluster_accuracy  REAL NOT NULL,
	batch_index       INTEGER NOT NULL,
	PRIMARY KEY (run_id, outer_iteration),
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);

CREATE TABLE IF NOT EXISTS recluster_log (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id            TEXT NOT NULL,
	batch_index       INTEGER NOT NULL,
	observation       INTEGER NOT NULL,
	trigger           TEXT NOT NULL,
	observations      INTEGER NOT NULL,
	steps             INTEGER NOT NULL,
	outer_iterations  INTEGER NOT NULL,
	halt_state        TEXT,
	reason            TEXT,
	created_at        TEXT NOT NULL,
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);
`

// #endregion schema

// #region store-struct
// Store persists runs and their outer iteration records in SQLite.
type Store struct {
	db *sql.DB
}

// NewStore opens a SQLite database and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// pragmas are per connection
	db.SetMaxOpenConns(1)
	if err := setup(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func setup(db *sql.DB) error {
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for use by other packages (e.g. logging).
func (s *Store) DB() *sql.DB {
	return s.db
}

// #endregion store-struct

// #region runs
// CreateRun registers a new run and returns it with a fresh ID.
func (s *Store) CreateRun(domain, configJSON string) (RunRecord, error) {
	rec := RunRecord{
		RunID:      uuid.New().String(),
		Domain:     domain,
		ConfigJSON: configJSON,
		CreatedAt:  time.Now().UTC(),
	}
	_, err := s.db.Exec(
		`INSERT INTO runs (run_id, domain, config_json, created_at) VALUES (?, ?, ?, ?)`,
		rec.RunID, rec.Domain, nullIfEmpty(rec.ConfigJSON), rec.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return RunRecord{}, fmt.Errorf("insert run: %w", err)
	}
	return rec, nil
}

// GetRun retrieves a run by ID.
func (s *Store) GetRun(runID string) (RunRecord, error) {
	var rec RunRecord
	var cfg sql.NullString
	var created string
	err := s.db.QueryRow(
		`SELECT run_id, domain, config_json, created_at FROM runs WHERE run_id = ?`, runID,
	).Scan(&rec.RunID, &rec.Domain, &cfg, &created)
	if err != nil {
		return RunRecord{}, fmt.Errorf("get run %s: %w", runID, err)
	}
	if cfg.Valid {
		rec.ConfigJSON = cfg.String
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	return rec, nil
}

// ListRuns returns the most recent runs.
func (s *Store) ListRuns(limit int) ([]RunRecord, error) {
	rows, err := s.db.Query(
		`SELECT run_id, domain, config_json, created_at FROM runs ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var rec RunRecord
		var cfg sql.NullString
		var created string
		if err := rows.Scan(&rec.RunID, &rec.Domain, &cfg, &created); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if cfg.Valid {
			rec.ConfigJSON = cfg.String
		}
		rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		runs = append(runs, rec)
	}
	return runs, rows.Err()
}

// #endregion runs

// #region records
// AppendRecords persists outer iteration records of a run in one transaction.
// Records are append-only: re-inserting an iteration number fails.
func (s *Store) AppendRecords(runID string, recs []OuterIterationRecord) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, r := range recs {
		_, err := tx.Exec(
			`INSERT INTO outer_iterations
			 (run_id, outer_iteration, total_steps, feature_count, mean_squared_error,
			  elapsed_seconds, cluster_count, objective, cluster_accuracy, batch_index)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, r.OuterIteration, r.TotalSteps, r.FeatureCount, r.MeanSquaredError,
			r.ElapsedSeconds, r.ClusterCount, r.Objective, r.ClusterAccuracy, r.BatchIndex,
		)
		if err != nil {
			return fmt.Errorf("insert outer iteration %d: %w", r.OuterIteration, err)
		}
	}
	return tx.Commit()
}

// ListRecords returns a run's records in iteration order.
func (s *Store) ListRecords(runID string) ([]OuterIterationRecord, error) {
	rows, err := s.db.Query(
		`SELECT outer_iteration, total_steps, feature_count, mean_squared_error,
		        elapsed_seconds, cluster_count, objective, cluster_accuracy, batch_index
		 FROM outer_iterations WHERE run_id = ? ORDER BY outer_iteration ASC`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var recs []OuterIterationRecord
	for rows.Next() {
		var r OuterIterationRecord
		if err := rows.Scan(&r.OuterIteration, &r.TotalSteps, &r.FeatureCount, &r.MeanSquaredError,
			&r.ElapsedSeconds, &r.ClusterCount, &r.Objective, &r.ClusterAccuracy, &r.BatchIndex); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// #endregion records

// #region helpers
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// #endregion helpers
