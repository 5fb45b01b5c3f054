package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/danielpatrickdp/hidden-type/go-controller/internal/config"
	"github.com/danielpatrickdp/hidden-type/go-controller/internal/engine"
	"github.com/danielpatrickdp/hidden-type/go-controller/internal/replay"
	"github.com/danielpatrickdp/hidden-type/go-controller/internal/stats"
)

var (
	verbose bool
	logger  *zap.Logger

	configPath  string
	fixturePath string
	metricsAddr string
	dbPath      string
)

// #region commands
var rootCmd = &cobra.Command{
	Use:   "hidden-type",
	Short: "Windowed hidden-type clustering controller",
	Long: `Streams recorded trajectories into fixed-capacity observation windows and
hands each completed batch to an external clustering engine.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := zap.NewProductionConfig()
		if verbose {
			cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = cfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the learner against the remote clustering engine",
	Long: `Loads the run configuration, replays the trajectories of --fixture through
the learner and reclusters on the engine at engine.addr. Records and
reclustering decisions are persisted to storage.db_path.`,
	RunE: runLearner,
}

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay a fixture against its scripted engine and check the schedule",
	RunE:  runReplay,
}

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "List persisted runs, or one run's records and reclustering decisions",
	RunE:  runInspect,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	runCmd.Flags().StringVar(&configPath, "config", "", "path to YAML run configuration")
	runCmd.Flags().StringVar(&fixturePath, "fixture", "", "path to trajectory fixture JSON")
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	_ = runCmd.MarkFlagRequired("fixture")

	replayCmd.Flags().StringVar(&fixturePath, "fixture", "", "path to fixture JSON")
	replayCmd.Flags().StringVar(&dbPath, "db", "", "persist the replay to this database")
	_ = replayCmd.MarkFlagRequired("fixture")

	inspectCmd.Flags().StringVar(&dbPath, "db", "", "path to hidden_type.db")
	inspectCmd.Flags().StringVar(&inspectRun, "run", "", "show a single run")
	inspectCmd.Flags().IntVar(&inspectLast, "last", 20, "show N most recent runs")
	inspectCmd.Flags().BoolVar(&inspectJSON, "json", false, "output as JSON instead of table")
	_ = inspectCmd.MarkFlagRequired("db")

	rootCmd.AddCommand(runCmd, replayCmd, inspectCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// #endregion commands

// #region run
func runLearner(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	f, err := replay.LoadFixture(fixturePath)
	if err != nil {
		return err
	}
	f.Config.InitialFeatures = cfg.InitialFeatures

	if metricsAddr != "" {
		srv := serveMetrics(metricsAddr)
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		}()
	}

	client, err := engine.NewGRPCClient(cfg.Engine.Addr)
	if err != nil {
		return fmt.Errorf("connect to engine at %s: %w", cfg.Engine.Addr, err)
	}
	defer client.Close()

	opts := replay.Options{Engine: client, Logger: logger}
	lcfg := cfg.Learner(nil)
	opts.Config = &lcfg

	if cfg.Storage.DBPath != "" {
		store, err := stats.NewStore(cfg.Storage.DBPath)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer store.Close()

		cfgJSON, _ := json.Marshal(cfg)
		run, err := store.CreateRun(cfg.Domain, string(cfgJSON))
		if err != nil {
			return err
		}
		opts.Store, opts.RunID = store, run.RunID
	}

	logger.Info("[RUN] starting",
		zap.String("engine", cfg.Engine.Addr),
		zap.String("db", cfg.Storage.DBPath),
		zap.String("run_id", opts.RunID),
		zap.Int("trajectories", len(f.Trajectories)))

	res, err := replay.Replay(cmd.Context(), f, opts)
	if err != nil {
		return err
	}
	printSummary(opts.RunID, replay.Summarize(res))
	return nil
}

func serveMetrics(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("[RUN] metrics server stopped", zap.Error(err))
		}
	}()
	logger.Info("[RUN] serving metrics", zap.String("addr", addr))
	return srv
}

// #endregion run

// #region replay
func runReplay(cmd *cobra.Command, args []string) error {
	f, err := replay.LoadFixture(fixturePath)
	if err != nil {
		return err
	}

	opts := replay.Options{Logger: logger}
	if dbPath != "" {
		store, err := stats.NewStore(dbPath)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer store.Close()
		cfgJSON, _ := json.Marshal(f.Config)
		run, err := store.CreateRun(f.Config.Domain, string(cfgJSON))
		if err != nil {
			return err
		}
		opts.Store, opts.RunID = store, run.RunID
	}

	res, err := replay.Replay(cmd.Context(), f, opts)
	if err != nil {
		return err
	}
	if len(f.ExpectedReclusterAfter) == 0 {
		printSummary(opts.RunID, replay.Summarize(res))
		return nil
	}
	return printSchedule(res.ReclusterAfter, f.ExpectedReclusterAfter)
}

// #endregion replay

// #region output

// printSchedule outputs a comparison table of reclustering points.
func printSchedule(got, expected []int) error {
	fmt.Printf("%-8s| %-10s| %-10s| %s\n", "Batch", "Expected", "Replayed", "Match")
	fmt.Printf("%-8s+%-11s+%-11s+%s\n", "--------", "-----------", "-----------", "------")

	total := len(got)
	if len(expected) > total {
		total = len(expected)
	}
	matches := 0
	for i := 0; i < total; i++ {
		exp, rep, match := "-", "-", "DIFF"
		if i < len(expected) {
			exp = fmt.Sprint(expected[i])
		}
		if i < len(got) {
			rep = fmt.Sprint(got[i])
		}
		if exp == rep {
			match = "OK"
			matches++
		}
		fmt.Printf("%-8d| %-10s| %-10s| %s\n", i, exp, rep, match)
	}

	diverge := total - matches
	fmt.Printf("\nSummary: %d total, %d match, %d diverge\n", total, matches, diverge)
	if diverge > 0 {
		return fmt.Errorf("schedule diverged in %d batches", diverge)
	}
	return nil
}

func printSummary(runID string, s replay.Summary) {
	if runID != "" {
		fmt.Printf("Run %s\n", runID)
	}
	fmt.Printf("  observations=%d reclusters=%d outer_iterations=%d steps=%d\n",
		s.Observations, s.Reclusters, s.OuterIterations, s.LifetimeSteps)
	fmt.Printf("  final_mse=%.6f features=%d", s.FinalMSE, s.FinalFeatures)
	if s.HaltState != "" {
		fmt.Printf(" halt=%s", s.HaltState)
	}
	fmt.Println()
}

// #endregion output
