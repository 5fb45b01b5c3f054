package stats

import "time"

// #region outer-iteration-record
// OuterIterationRecord is one outer iteration of the clustering engine,
// numbered globally across batches.
type OuterIterationRecord struct {
	OuterIteration   int     `json:"outer_iteration"`
	TotalSteps       int     `json:"total_steps"`
	FeatureCount     int     `json:"feature_count"`
	MeanSquaredError float64 `json:"mean_squared_error"`
	ElapsedSeconds   float64 `json:"elapsed_seconds"`
	ClusterCount     int     `json:"cluster_count"`
	Objective        float64 `json:"objective"`
	ClusterAccuracy  float64 `json:"cluster_accuracy"`
	BatchIndex       int     `json:"batch_index"`
}

// #endregion outer-iteration-record

// #region log
// Log is the append-only sequence of outer iteration records of a run.
type Log struct {
	records []OuterIterationRecord
}

// Append adds records at the end of the log.
func (l *Log) Append(recs ...OuterIterationRecord) {
	l.records = append(l.records, recs...)
}

// Records returns a copy of the log.
func (l *Log) Records() []OuterIterationRecord {
	out := make([]OuterIterationRecord, len(l.records))
	copy(out, l.records)
	return out
}

// Len is the number of records.
func (l *Log) Len() int { return len(l.records) }

// #endregion log

// #region run-record
// RunRecord is one persisted learner run.
type RunRecord struct {
	RunID      string    `json:"run_id"`
	Domain     string    `json:"domain"`
	ConfigJSON string    `json:"config_json,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// #endregion run-record
