package config

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// configFileName is the single YAML file read from the config directory.
const configFileName = "lattice.yaml"

// Initialize loads, merges, overrides, and validates configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load lattice.yaml from configDir (missing file = defaults only)
//  2. Expand ${ENV} references in the raw YAML
//  3. Merge with built-in defaults
//  4. Apply environment-variable credential overrides
//  5. Validate and log degraded components
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg := Defaults()

	path := filepath.Join(configDir, configFileName)
	raw, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		log.Warn("No config file found, using defaults", "path", path)
	case err != nil:
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	default:
		expanded := expandEnv(string(raw))
		var loaded Config
		if err := yaml.Unmarshal([]byte(expanded), &loaded); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		// Loaded values win over defaults; defaults fill the gaps.
		if err := mergo.Merge(&loaded, cfg); err != nil {
			return nil, fmt.Errorf("failed to merge defaults: %w", err)
		}
		cfg = loaded
	}

	applyEnvOverrides(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	log.Info("Configuration initialized",
		"modalities", len(cfg.Search.Modalities),
		"planner_rules", len(cfg.Search.Planner.Rules),
		"vectordb_enabled", cfg.VectorDB.Configured(),
		"graph_enabled", cfg.Graph.Configured())
	return &cfg, nil
}

// applyEnvOverrides applies credential overrides from the environment.
// Primary names win; legacy names fall back when the primary is unset.
func applyEnvOverrides(cfg *Config) {
	if v := envFirst("QDRANT_URL", "VECTOR_DB_URL"); v != "" {
		cfg.VectorDB.URL = v
	}
	if v := envFirst("QDRANT_API_KEY", "VECTOR_DB_API_KEY"); v != "" {
		cfg.VectorDB.APIKey = v
	}
	if v := envFirst("QDRANT_COLLECTION", "VECTOR_DB_COLLECTION"); v != "" {
		cfg.VectorDB.Collection = v
	}
	if v := envFirst("NEO4J_URI", "NEO4J_URL"); v != "" {
		cfg.Graph.URI = v
	}
	if v := envFirst("NEO4J_USERNAME", "NEO4J_USER"); v != "" {
		cfg.Graph.Username = v
	}
	if v := os.Getenv("NEO4J_PASSWORD"); v != "" {
		cfg.Graph.Password = v
	}
	if v := os.Getenv("NEO4J_DATABASE"); v != "" {
		cfg.Graph.Database = v
	}
	if v := envFirst("OPENAI_API_KEY", "EMBEDDING_API_KEY"); v != "" && cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" && cfg.LLM.Provider == "anthropic" {
		cfg.LLM.APIKey = v
	}
}

func envFirst(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

// validate checks invariants and logs degraded components. Misconfigured
// backends are not fatal; the affected service enters no-op mode.
func validate(cfg *Config) error {
	if cfg.DataDir == "" {
		cfg.DataDir = "./data"
	}
	if cfg.VectorDB.Enabled && cfg.VectorDB.Dimension <= 0 {
		return fmt.Errorf("vectordb.dimension must be positive, got %d", cfg.VectorDB.Dimension)
	}
	for id, m := range cfg.Search.Modalities {
		if m.TimeoutMS < 0 {
			return fmt.Errorf("search.modalities.%s.timeout_ms must not be negative", id)
		}
		if m.Weight < 0 {
			return fmt.Errorf("search.modalities.%s.weight must not be negative", id)
		}
	}
	for _, rule := range cfg.Search.Planner.Rules {
		if rule.Name == "" {
			return fmt.Errorf("search.planner.rules entries require a name")
		}
		if len(rule.Keywords) == 0 {
			return fmt.Errorf("planner rule %q has no keywords", rule.Name)
		}
	}
	if sum := cfg.Severity.Weights.Sum(); math.Abs(sum-1.0) > 1e-6 {
		slog.Warn("Severity weights do not sum to 1; scores are not normalized",
			"sum", sum)
	}
	if !cfg.Graph.Configured() {
		slog.Warn("Graph backend not configured; graph service runs in no-op mode")
	}
	if !cfg.VectorDB.Configured() {
		slog.Warn("Vector backend not configured; semantic search disabled")
	}
	return nil
}

// StatePath returns the path of a state file under the data dir.
func (c *Config) StatePath(parts ...string) string {
	return filepath.Join(append([]string{c.DataDir}, parts...)...)
}
