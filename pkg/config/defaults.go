package config

// Defaults returns the built-in configuration. User YAML overrides these
// field by field via mergo.
func Defaults() Config {
	return Config{
		DataDir: "./data",
		Search: SearchConfig{
			Enabled: true,
			Defaults: SearchDefaults{
				MaxResultsPerModality: 5,
				TimeoutMSPerModality:  4000,
				WebFallbackWeight:     0.5,
			},
			Modalities: map[string]ModalityConfig{},
			Planner:    PlannerConfig{Enabled: true},
		},
		Severity: SeverityConfig{
			Weights: SeverityWeights{
				Chat:     0.2,
				SCM:      0.2,
				Doc:      0.2,
				Semantic: 0.2,
				Graph:    0.2,
			},
			SemanticPairs: []SemanticPair{
				{Name: "doc_vs_chat", Left: "doc", Right: "chat", Weight: 0.4},
				{Name: "doc_vs_scm", Left: "doc", Right: "scm", Weight: 0.4},
				{Name: "doc_vs_api", Left: "doc", Right: "file", Weight: 0.2},
			},
		},
		VectorDB: VectorDBConfig{
			Provider:       "qdrant",
			Collection:     "lattice_chunks",
			Dimension:      1536,
			TimeoutSeconds: 30,
			DefaultTopK:    10,
			MinScore:       0.0,
			EmbeddingModel: "text-embedding-3-small",
		},
		Ingest: IngestConfig{
			Enabled:         true,
			IntervalMinutes: 15,
		},
		Notify: NotifyConfig{
			MinSeverity: "high",
		},
		Masking: MaskingConfig{
			Enabled: true,
		},
		Retention: RetentionConfig{
			Enabled:          true,
			SessionMaxAgeHrs: 72,
			MaxTraces:        5000,
			IntervalMinutes:  60,
		},
		LLM: LLMConfig{
			Provider:    "openai",
			Model:       "gpt-4o-mini",
			Temperature: 0.2,
			MaxTokens:   2048,
		},
		Performance: PerformanceConfig{
			ConnectionPooling: PoolingConfig{
				Enabled:            true,
				MaxIdleConns:       32,
				MaxConnsPerHost:    16,
				IdleTimeoutSeconds: 90,
				RequestTimeoutSecs: 60,
				ConnectTimeoutSecs: 10,
				RetryCount:         2,
				EnableHTTP2:        true,
			},
			RateLimiting: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 500,
				TokensPerMinute:   200_000,
				SafetyMargin:      0.9,
			},
			ParallelExecution: ParallelConfig{
				Enabled:          true,
				MaxParallelSteps: 4,
			},
			BatchEmbeddings: BatchConfig{
				Enabled:   true,
				BatchSize: 64,
			},
			Caching: CachingConfig{
				Enabled:    true,
				MaxEntries: 1024,
				TTLSeconds: 3600,
			},
			BackgroundTasks: BackgroundConfig{
				Enabled: true,
				Workers: 4,
			},
			SessionSerialization: SerializationConfig{
				Enabled:         true,
				IntervalSeconds: 60,
			},
		},
	}
}
