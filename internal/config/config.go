package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/danielpatrickdp/hidden-type/go-controller/internal/learner"
)

// #region config
// Config is the on-disk run configuration.
type Config struct {
	Domain                     string  `yaml:"domain" json:"domain" validate:"required"`
	StateDim                   int     `yaml:"state_dim" json:"state_dim" validate:"gt=0"`
	InitialFeatures            int     `yaml:"initial_features" json:"initial_features" validate:"gte=0"`
	TrajectoriesPerObservation int     `yaml:"trajectories_per_observation" json:"trajectories_per_observation" validate:"gte=1"`
	BatchSize                  int     `yaml:"batch_size" json:"batch_size" validate:"gte=0"` // 0 = whole dataset
	RestartCount               int     `yaml:"restart_count" json:"restart_count" validate:"gte=1"`
	ExpansionCount             int     `yaml:"expansion_count" json:"expansion_count" validate:"gte=0"`
	MaxIterations              int     `yaml:"max_iterations" json:"max_iterations" validate:"gte=1"`
	Epsilon                    float64 `yaml:"epsilon" json:"epsilon" validate:"gte=0"`
	ObjectivePenalty           float64 `yaml:"objective_penalty" json:"objective_penalty" validate:"gte=0"`
	ForceContinue              bool    `yaml:"force_continue" json:"force_continue"`

	Engine  EngineConfig  `yaml:"engine" json:"engine"`
	Storage StorageConfig `yaml:"storage" json:"storage"`
}

// EngineConfig locates the clustering engine service.
type EngineConfig struct {
	Addr string `yaml:"addr" json:"addr" validate:"required,hostname_port"`
}

// StorageConfig locates the run database. An empty path disables persistence.
type StorageConfig struct {
	DBPath string `yaml:"db_path" json:"db_path"`
}

// #endregion config

// #region defaults
// Default returns the configuration used when a field is absent from the file.
func Default() Config {
	return Config{
		Domain:                     "SimpleCar",
		StateDim:                   2,
		TrajectoriesPerObservation: 1,
		BatchSize:                  1,
		RestartCount:               1,
		ExpansionCount:             1,
		MaxIterations:              10,
		Epsilon:                    0.01,
		Engine:                     EngineConfig{Addr: "localhost:50061"},
		Storage:                    StorageConfig{DBPath: "hidden_type.db"},
	}
}

// #endregion defaults

// #region load
var validate = validator.New()

// Load reads path over the defaults, applies env overrides and validates.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.Engine.Addr = envOr("HT_ENGINE_ADDR", cfg.Engine.Addr)
	cfg.Storage.DBPath = envOr("HT_DB", cfg.Storage.DBPath)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Learner maps the file configuration onto the learner's parameters.
func (c Config) Learner(trajectoryLengths []int) learner.Config {
	return learner.Config{
		Domain:                     c.Domain,
		StateDim:                   c.StateDim,
		TrajectoryLengths:          trajectoryLengths,
		TrajectoriesPerObservation: c.TrajectoriesPerObservation,
		BatchSize:                  c.BatchSize,
		RestartCount:               c.RestartCount,
		ExpansionCount:             c.ExpansionCount,
		MaxIterations:              c.MaxIterations,
		Epsilon:                    c.Epsilon,
		ObjectivePenalty:           c.ObjectivePenalty,
		ForceContinue:              c.ForceContinue,
	}
}

// #endregion load

// #region helpers
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// #endregion helpers
