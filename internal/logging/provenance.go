package logging

import (
	"database/sql"
	"fmt"
	"time"
)

// #region log-recluster
// LogRecluster writes one reclustering decision to the recluster_log table.
func LogRecluster(db *sql.DB, entry ReclusterEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := db.Exec(
		`INSERT INTO recluster_log (run_id, batch_index, observation, trigger, observations, steps,
		  outer_iterations, halt_state, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.RunID,
		entry.BatchIndex,
		entry.Observation,
		entry.Trigger,
		entry.Observations,
		entry.Steps,
		entry.OuterIterations,
		nullIfEmpty(entry.HaltState),
		nullIfEmpty(entry.Reason),
		entry.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("log recluster: %w", err)
	}
	return nil
}

// #endregion log-recluster

// #region list-reclusters
// ListReclusters returns a run's reclustering decisions in batch order.
func ListReclusters(db *sql.DB, runID string) ([]ReclusterEntry, error) {
	rows, err := db.Query(
		`SELECT run_id, batch_index, observation, trigger, observations, steps,
		        outer_iterations, halt_state, reason, created_at
		 FROM recluster_log WHERE run_id = ? ORDER BY batch_index ASC, id ASC`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("list reclusters: %w", err)
	}
	defer rows.Close()

	var entries []ReclusterEntry
	for rows.Next() {
		var e ReclusterEntry
		var halt, reason sql.NullString
		var created string
		if err := rows.Scan(&e.RunID, &e.BatchIndex, &e.Observation, &e.Trigger, &e.Observations,
			&e.Steps, &e.OuterIterations, &halt, &reason, &created); err != nil {
			return nil, fmt.Errorf("scan recluster: %w", err)
		}
		e.HaltState = halt.String
		e.Reason = reason.String
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// #endregion list-reclusters

// #region helpers
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// #endregion helpers
