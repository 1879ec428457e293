// Package config loads and validates the lattice.yaml configuration surface:
// search modalities, planner rules, vector/graph backends, LLM providers, and
// performance tuning.
package config

import (
	"sort"
	"time"
)

// Config is the fully-merged, validated runtime configuration.
type Config struct {
	Search      SearchConfig      `yaml:"search"`
	Severity    SeverityConfig    `yaml:"severity"`
	VectorDB    VectorDBConfig    `yaml:"vectordb"`
	Graph       GraphConfig       `yaml:"graph"`
	LLM         LLMConfig         `yaml:"llm"`
	Performance PerformanceConfig `yaml:"performance"`
	Ingest      IngestConfig      `yaml:"ingest"`
	Notify      NotifyConfig      `yaml:"notify"`
	Retention   RetentionConfig   `yaml:"retention"`
	Masking     MaskingConfig     `yaml:"masking"`
	DataDir     string            `yaml:"data_dir"`
}

// MaskingConfig controls credential scrubbing on ingested text. Custom
// patterns extend the built-in set.
type MaskingConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Patterns []MaskPattern `yaml:"patterns,omitempty"`
}

// MaskPattern is one custom masking rule.
type MaskPattern struct {
	Name        string `yaml:"name"`
	Pattern     string `yaml:"pattern"`
	Replacement string `yaml:"replacement"`
}

// RetentionConfig controls the periodic retention sweep over sessions,
// memories, and query traces.
type RetentionConfig struct {
	Enabled          bool `yaml:"enabled"`
	SessionMaxAgeHrs int  `yaml:"session_max_age_hours"`
	MaxTraces        int  `yaml:"max_traces"`
	IntervalMinutes  int  `yaml:"interval_minutes"`
}

// SessionMaxAge returns the age past which idle sessions are pruned.
func (r RetentionConfig) SessionMaxAge() time.Duration {
	return time.Duration(r.SessionMaxAgeHrs) * time.Hour
}

// Interval returns the sweep cadence.
func (r RetentionConfig) Interval() time.Duration {
	return time.Duration(r.IntervalMinutes) * time.Minute
}

// NotifyConfig controls incident-candidate notifications. The Slack bot
// token comes from the environment (SLACK_BOT_TOKEN), not from config files.
type NotifyConfig struct {
	SlackChannel string `yaml:"slack_channel"`
	DashboardURL string `yaml:"dashboard_url"`
	MinSeverity  string `yaml:"min_severity"`
}

// IngestConfig controls the periodic ingestion loop. It lives outside
// SearchConfig so that cadence changes do not flag modalities for
// re-indexing.
type IngestConfig struct {
	Enabled         bool `yaml:"enabled"`
	IntervalMinutes int  `yaml:"interval_minutes"`
}

// Interval returns the periodic ingestion cadence; zero when disabled.
func (i IngestConfig) Interval() time.Duration {
	if !i.Enabled {
		return 0
	}
	return time.Duration(i.IntervalMinutes) * time.Minute
}

// SearchConfig is the search-config block. Its deterministic hash is stamped
// into modality state so drift can be detected (see Hash).
type SearchConfig struct {
	Enabled     bool                      `yaml:"enabled"`
	WorkspaceID string                    `yaml:"workspace_id"`
	Defaults    SearchDefaults            `yaml:"defaults"`
	Modalities  map[string]ModalityConfig `yaml:"modalities"`
	Planner     PlannerConfig             `yaml:"planner"`
}

// SearchDefaults apply to modalities that omit per-modality overrides.
type SearchDefaults struct {
	MaxResultsPerModality int     `yaml:"max_results_per_modality"`
	TimeoutMSPerModality  int     `yaml:"timeout_ms_per_modality"`
	WebFallbackWeight     float64 `yaml:"web_fallback_weight"`
}

// ModalityConfig is the declarative per-modality configuration.
// FallbackOnly modalities are never part of the primary fanout.
type ModalityConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Weight       float64       `yaml:"weight"`
	TimeoutMS    int           `yaml:"timeout_ms"`
	MaxResults   int           `yaml:"max_results"`
	FallbackOnly bool          `yaml:"fallback_only"`
	Scope        ModalityScope `yaml:"scope"`
}

// Timeout returns the per-modality query deadline.
func (m ModalityConfig) Timeout() time.Duration {
	return time.Duration(m.TimeoutMS) * time.Millisecond
}

// ModalityScope is free-form, handler-interpreted scoping. Only the keys a
// handler understands are read; the rest are ignored.
type ModalityScope struct {
	Channels   []string          `yaml:"channels,omitempty"`
	Repos      []string          `yaml:"repos,omitempty"`
	Roots      []string          `yaml:"roots,omitempty"`
	VideoIDs   []string          `yaml:"video_ids,omitempty"`
	Extensions []string          `yaml:"extensions,omitempty"`
	Filters    map[string]string `yaml:"filters,omitempty"`
	// ComponentRules map changed file path prefixes to component/endpoint IDs
	// (scm handler).
	ComponentRules []ComponentRule `yaml:"component_rules,omitempty"`
	// IssuesPath points the doc-issues handler at its persisted JSON file.
	IssuesPath string `yaml:"issues_path,omitempty"`
	// SearchURL is the web-fallback search endpoint.
	SearchURL string `yaml:"search_url,omitempty"`
}

// ComponentRule resolves changed file paths to components by prefix match.
type ComponentRule struct {
	PathPrefix  string   `yaml:"path_prefix"`
	Components  []string `yaml:"components"`
	EndpointIDs []string `yaml:"endpoint_ids,omitempty"`
}

// PlannerConfig holds declarative routing rules, evaluated in order.
type PlannerConfig struct {
	Enabled bool          `yaml:"enabled"`
	Rules   []PlannerRule `yaml:"rules"`
}

// PlannerRule matches when any keyword is a case-insensitive substring of the
// query. First match wins.
type PlannerRule struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
	Include  []string `yaml:"include"`
}

// VectorDBConfig configures the vector backend (Qdrant).
type VectorDBConfig struct {
	Enabled        bool    `yaml:"enabled"`
	Provider       string  `yaml:"provider"`
	URL            string  `yaml:"url"`
	APIKey         string  `yaml:"api_key"`
	Collection     string  `yaml:"collection"`
	Dimension      int     `yaml:"dimension"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
	DefaultTopK    int     `yaml:"default_top_k"`
	MinScore       float64 `yaml:"min_score"`
	EmbeddingModel string  `yaml:"embedding_model"`
}

// Configured reports whether the vector backend can be used at all.
func (v VectorDBConfig) Configured() bool {
	return v.Enabled && v.URL != "" && v.Collection != ""
}

// GraphConfig configures the graph backend (Neo4j). The backend is disabled
// when any credential is missing.
type GraphConfig struct {
	Enabled  bool   `yaml:"enabled"`
	URI      string `yaml:"uri"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// Configured reports whether all required credentials are present.
func (g GraphConfig) Configured() bool {
	return g.Enabled && g.URI != "" && g.Username != "" && g.Password != ""
}

// LLMConfig selects the provider used for synthesis, verification, and
// memory extraction. Temperature stays low for deterministic JSON output.
type LLMConfig struct {
	Provider    string  `yaml:"provider"` // "openai" or "anthropic"
	Model       string  `yaml:"model"`
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url,omitempty"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// PerformanceConfig tunes shared infrastructure.
type PerformanceConfig struct {
	ConnectionPooling    PoolingConfig       `yaml:"connection_pooling"`
	RateLimiting         RateLimitConfig     `yaml:"rate_limiting"`
	ParallelExecution    ParallelConfig      `yaml:"parallel_execution"`
	BatchEmbeddings      BatchConfig         `yaml:"batch_embeddings"`
	Caching              CachingConfig       `yaml:"caching"`
	BackgroundTasks      BackgroundConfig    `yaml:"background_tasks"`
	SessionSerialization SerializationConfig `yaml:"session_serialization"`
}

// PoolingConfig bounds the shared keep-alive HTTP pool.
type PoolingConfig struct {
	Enabled            bool `yaml:"enabled"`
	MaxIdleConns       int  `yaml:"max_idle_conns"`
	MaxConnsPerHost    int  `yaml:"max_conns_per_host"`
	IdleTimeoutSeconds int  `yaml:"idle_timeout_seconds"`
	RequestTimeoutSecs int  `yaml:"request_timeout_seconds"`
	ConnectTimeoutSecs int  `yaml:"connect_timeout_seconds"`
	RetryCount         int  `yaml:"retry_count"`
	EnableHTTP2        bool `yaml:"enable_http2"`
}

// RateLimitConfig bounds upstream provider usage over sliding 60s windows.
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerMinute int     `yaml:"requests_per_minute"`
	TokensPerMinute   int     `yaml:"tokens_per_minute"`
	SafetyMargin      float64 `yaml:"safety_margin"`
}

// ParallelConfig bounds plan-executor concurrency.
type ParallelConfig struct {
	Enabled          bool `yaml:"enabled"`
	MaxParallelSteps int  `yaml:"max_parallel_steps"`
}

// BatchConfig controls embedding batch size.
type BatchConfig struct {
	Enabled   bool `yaml:"enabled"`
	BatchSize int  `yaml:"batch_size"`
}

// CachingConfig controls in-process caches (video metadata, embeddings).
type CachingConfig struct {
	Enabled    bool `yaml:"enabled"`
	MaxEntries int  `yaml:"max_entries"`
	TTLSeconds int  `yaml:"ttl_seconds"`
}

// BackgroundConfig bounds the background verification pool.
type BackgroundConfig struct {
	Enabled bool `yaml:"enabled"`
	Workers int  `yaml:"workers"`
}

// SerializationConfig controls session persistence cadence.
type SerializationConfig struct {
	Enabled         bool `yaml:"enabled"`
	IntervalSeconds int  `yaml:"interval_seconds"`
}

// SeverityConfig holds the blend weights and chat channels treated as
// critical by the severity engine. Deliberately outside SearchConfig:
// changing scoring weights must not flag modalities for re-indexing.
type SeverityConfig struct {
	Weights          SeverityWeights `yaml:"weights"`
	CriticalChannels []string        `yaml:"critical_channels"`
	// SemanticPairs configures the drift pairs evaluated by the semantic axis.
	SemanticPairs []SemanticPair `yaml:"semantic_pairs"`
}

// SeverityWeights are the per-axis blend weights. They are not normalized;
// a startup warning is logged when they do not sum to 1 within epsilon.
type SeverityWeights struct {
	Chat     float64 `yaml:"chat"`
	SCM      float64 `yaml:"scm"`
	Doc      float64 `yaml:"doc"`
	Semantic float64 `yaml:"semantic"`
	Graph    float64 `yaml:"graph"`
}

// Sum returns the total weight across axes.
func (w SeverityWeights) Sum() float64 {
	return w.Chat + w.SCM + w.Doc + w.Semantic + w.Graph
}

// SemanticPair is one drift comparison (e.g. doc_vs_chat) with its weight.
type SemanticPair struct {
	Name   string  `yaml:"name"`
	Left   string  `yaml:"left"`  // source type A
	Right  string  `yaml:"right"` // source type B
	Weight float64 `yaml:"weight"`
}

// ModalityIDs lists configured modality IDs in sorted order, so iteration
// and hashing are deterministic.
func (s SearchConfig) ModalityIDs() []string {
	ids := make([]string, 0, len(s.Modalities))
	for id := range s.Modalities {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Modality resolves the effective config for a modality ID, applying search
// defaults for unset numeric fields.
func (s SearchConfig) Modality(id string) (ModalityConfig, bool) {
	m, ok := s.Modalities[id]
	if !ok {
		return ModalityConfig{}, false
	}
	if m.TimeoutMS <= 0 {
		m.TimeoutMS = s.Defaults.TimeoutMSPerModality
	}
	if m.MaxResults <= 0 {
		m.MaxResults = s.Defaults.MaxResultsPerModality
	}
	if m.Weight == 0 {
		m.Weight = 1.0
	}
	return m, true
}
