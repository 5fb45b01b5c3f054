package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/hidden-type/go-controller/internal/logging"
	"github.com/danielpatrickdp/hidden-type/go-controller/internal/stats"
)

var (
	inspectRun  string
	inspectLast int
	inspectJSON bool
)

// #region inspect
func runInspect(cmd *cobra.Command, args []string) error {
	store, err := stats.NewStore(dbPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer store.Close()

	if inspectRun != "" {
		return runDetailMode(store, inspectRun, inspectJSON)
	}
	return runListMode(store, inspectLast, inspectJSON)
}

// #endregion inspect

// #region list-mode
func runListMode(store *stats.Store, last int, jsonOut bool) error {
	runs, err := store.ListRuns(last)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(os.Stderr, "no runs found")
		return nil
	}
	if jsonOut {
		return writeJSON(runs)
	}

	fmt.Printf("%-38s| %-14s| %s\n", "Run", "Domain", "Created")
	fmt.Printf("%-38s+%-15s+%s\n", "--------------------------------------", "---------------", "--------------------")
	for _, r := range runs {
		fmt.Printf("%-38s| %-14s| %s\n", r.RunID, r.Domain, r.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

// #endregion list-mode

// #region detail-mode
type runDetail struct {
	Run        stats.RunRecord              `json:"run"`
	Records    []stats.OuterIterationRecord `json:"records"`
	Reclusters []logging.ReclusterEntry     `json:"reclusters"`
}

func runDetailMode(store *stats.Store, runID string, jsonOut bool) error {
	run, err := store.GetRun(runID)
	if err != nil {
		return err
	}
	recs, err := store.ListRecords(runID)
	if err != nil {
		return err
	}
	entries, err := logging.ListReclusters(store.DB(), runID)
	if err != nil {
		return err
	}
	if jsonOut {
		return writeJSON(runDetail{Run: run, Records: recs, Reclusters: entries})
	}

	fmt.Printf("Run %s (%s), created %s\n\n", run.RunID, run.Domain, run.CreatedAt.Format("2006-01-02 15:04:05"))

	fmt.Printf("%-6s| %-18s| %-6s| %-6s| %-8s| %-8s| %s\n", "Batch", "Trigger", "Obs", "Steps", "Iters", "Closing", "Halt")
	for _, e := range entries {
		fmt.Printf("%-6d| %-18s| %-6d| %-6d| %-8d| %-8d| %s\n",
			e.BatchIndex, e.Trigger, e.Observations, e.Steps, e.OuterIterations, e.Observation, e.HaltState)
	}

	fmt.Printf("\n%-6s| %-6s| %-8s| %-9s| %-12s| %-9s| %-10s| %s\n",
		"Iter", "Batch", "Steps", "Features", "MSE", "Clusters", "Objective", "Accuracy")
	for _, r := range recs {
		fmt.Printf("%-6d| %-6d| %-8d| %-9d| %-12.6f| %-9d| %-10.4f| %.3f\n",
			r.OuterIteration, r.BatchIndex, r.TotalSteps, r.FeatureCount, r.MeanSquaredError,
			r.ClusterCount, r.Objective, r.ClusterAccuracy)
	}
	return nil
}

// #endregion detail-mode

// #region helpers
func writeJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// #endregion helpers
