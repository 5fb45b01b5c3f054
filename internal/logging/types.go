package logging

import "time"

// #region recluster-entry
// ReclusterEntry is a single row in the recluster_log table.
type ReclusterEntry struct {
	RunID           string    `json:"run_id"`
	BatchIndex      int       `json:"batch_index"`
	Observation     int       `json:"observation"` // absolute index of the observation that closed the batch
	Trigger         string    `json:"trigger"`     // "batch_boundary" | "final_observation"
	Observations    int       `json:"observations"`
	Steps           int       `json:"steps"`
	OuterIterations int       `json:"outer_iterations"`
	HaltState       string    `json:"halt_state,omitempty"` // empty outside the single-batch halting loop
	Reason          string    `json:"reason,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// #endregion recluster-entry

// Trigger values.
const (
	TriggerBatchBoundary    = "batch_boundary"
	TriggerFinalObservation = "final_observation"
)
