// Lattice server — multi-modal retrieval, planning, and reasoning core.
// Provides the HTTP API, runs the ingest scheduler, and owns the vector,
// graph, and LLM backends.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/latticehq/lattice/pkg/api"
	"github.com/latticehq/lattice/pkg/cleanup"
	"github.com/latticehq/lattice/pkg/config"
	"github.com/latticehq/lattice/pkg/embed"
	"github.com/latticehq/lattice/pkg/graph"
	"github.com/latticehq/lattice/pkg/incident"
	"github.com/latticehq/lattice/pkg/ingest"
	"github.com/latticehq/lattice/pkg/llm"
	"github.com/latticehq/lattice/pkg/memory"
	"github.com/latticehq/lattice/pkg/modality"
	"github.com/latticehq/lattice/pkg/modality/chat"
	"github.com/latticehq/lattice/pkg/modality/docissues"
	"github.com/latticehq/lattice/pkg/modality/docs"
	"github.com/latticehq/lattice/pkg/modality/files"
	"github.com/latticehq/lattice/pkg/modality/scm"
	"github.com/latticehq/lattice/pkg/modality/video"
	"github.com/latticehq/lattice/pkg/modality/webfallback"
	"github.com/latticehq/lattice/pkg/perf"
	"github.com/latticehq/lattice/pkg/plan"
	"github.com/latticehq/lattice/pkg/planner"
	"github.com/latticehq/lattice/pkg/ratelimit"
	"github.com/latticehq/lattice/pkg/search"
	"github.com/latticehq/lattice/pkg/severity"
	"github.com/latticehq/lattice/pkg/slack"
	"github.com/latticehq/lattice/pkg/vector"
	"github.com/latticehq/lattice/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	httpPort := getEnv("HTTP_PORT", "8080")
	slog.Info("Starting lattice", "version", version.Full(), "http_port", httpPort, "config_dir", *configDir)

	ctx := context.Background()

	// 1. Configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Shared infrastructure
	monitor := perf.NewMonitor()
	var limiter *ratelimit.Limiter
	if rl := cfg.Performance.RateLimiting; rl.Enabled {
		limiter = ratelimit.NewLimiter(rl.RequestsPerMinute, rl.TokensPerMinute, rl.SafetyMargin)
	}

	// 3. Backends: embeddings, vector, graph. Misconfigured backends run in
	// no-op mode; startup already logged the degradation.
	embedder := embed.NewClient(cfg, limiter, monitor)

	vectorSvc, err := vector.NewService(cfg, embedder, monitor)
	if err != nil {
		slog.Error("Failed to initialize vector service", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := vectorSvc.Close(); err != nil {
			slog.Error("Error closing vector service", "error", err)
		}
	}()

	graphSvc, err := graph.NewService(cfg, monitor)
	if err != nil {
		slog.Error("Failed to initialize graph service", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := graphSvc.Close(ctx); err != nil {
			slog.Error("Error closing graph service", "error", err)
		}
	}()

	// 4. Modality registry
	stateStore, err := modality.NewStateStore(cfg.DataDir)
	if err != nil {
		slog.Error("Failed to initialize modality state store", "error", err)
		os.Exit(1)
	}
	registry := modality.NewRegistry(&cfg.Search, stateStore)
	deps := modality.Deps{
		Config:  cfg,
		Vector:  vectorSvc,
		Graph:   graphSvc,
		State:   stateStore,
		Monitor: monitor,
	}
	registry.Register(chat.New(deps, os.Getenv("SLACK_BOT_TOKEN")))
	registry.Register(scm.New(deps, os.Getenv("GITHUB_TOKEN")))
	registry.Register(docs.New(deps))
	registry.Register(docissues.New(deps))
	registry.Register(files.New(deps))
	registry.Register(video.New(deps))
	registry.Register(webfallback.New(deps))
	slog.Info("Modality handlers registered", "modalities", len(cfg.Search.Modalities))

	// 5. Stores
	traces, err := incident.NewTraceStore(cfg.DataDir)
	if err != nil {
		slog.Error("Failed to initialize trace store", "error", err)
		os.Exit(1)
	}
	investigations, err := incident.NewInvestigationStore(cfg.DataDir, 0)
	if err != nil {
		slog.Error("Failed to initialize investigation store", "error", err)
		os.Exit(1)
	}
	sessions, err := memory.NewSessionStore(cfg.DataDir)
	if err != nil {
		slog.Error("Failed to initialize session store", "error", err)
		os.Exit(1)
	}
	if err := sessions.Restore(); err != nil {
		slog.Warn("Could not restore previous sessions", "error", err)
	}

	// 6. Retrieval and scoring services
	orchestrator := search.NewOrchestrator(&cfg.Search, planner.New(&cfg.Search), registry, graphSvc, traces, monitor)
	severityEngine := severity.NewEngine(cfg.Severity, graphSvc, vectorSvc, monitor)
	builder := incident.NewBuilder(investigations)
	if notifier := slack.NewService(slack.ServiceConfig{
		Token:        os.Getenv("SLACK_BOT_TOKEN"),
		Channel:      cfg.Notify.SlackChannel,
		DashboardURL: cfg.Notify.DashboardURL,
		MinSeverity:  cfg.Notify.MinSeverity,
	}); notifier != nil {
		builder = builder.WithNotifier(notifier)
		slog.Info("Candidate notifications enabled", "channel", cfg.Notify.SlackChannel)
	}
	memorySvc := memory.NewService(cfg.DataDir, embedder)

	// 7. LLM-backed tasks. Without an API key the server still serves
	// retrieval; verification, critique, synthesis, and extraction are off.
	var synthesizer *llm.AnswerSynthesizer
	catalog := plan.NewCatalog(
		searchTool{orchestrator: orchestrator},
		graphNeighborhoodTool{graph: graphSvc},
		severityTool{engine: severityEngine},
		memoryRecallTool{memory: memorySvc},
		investigationTool{builder: builder},
	)
	executor := plan.NewExecutor(catalog, cfg.Performance, monitor)
	if cfg.LLM.APIKey != "" {
		llmClient, err := llm.New(cfg.LLM, cfg.Performance.ConnectionPooling, limiter, monitor)
		if err != nil {
			slog.Error("Failed to initialize LLM client", "provider", cfg.LLM.Provider, "error", err)
			os.Exit(1)
		}
		executor = executor.
			WithVerifier(llm.NewPlanVerifier(llmClient)).
			WithCritic(llm.NewPlanCritic(llmClient))
		synthesizer = llm.NewAnswerSynthesizer(llmClient)
		memorySvc = memorySvc.WithExtractor(llm.NewMemoryExtractor(llmClient))
		slog.Info("LLM client initialized", "provider", cfg.LLM.Provider, "model", llmClient.Model())
	} else {
		slog.Warn("No LLM API key configured; verification, synthesis, and memory extraction disabled")
	}

	// 8. Ingest scheduler
	scheduler := ingest.NewScheduler(registry, cfg.Ingest.Interval(), monitor)
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	if cfg.Ingest.Enabled {
		scheduler.Start(runCtx)
		slog.Info("Ingest scheduler started", "interval", cfg.Ingest.Interval())
	}

	// 9. Session serializer and retention sweep
	if ser := cfg.Performance.SessionSerialization; ser.Enabled {
		go sessions.RunSerializer(runCtx, time.Duration(ser.IntervalSeconds)*time.Second)
	}
	retention := cleanup.NewService(cfg.Retention, memorySvc, sessions, traces)
	if cfg.Retention.Enabled {
		retention.Start(runCtx)
	}

	// 10. HTTP server
	server := api.NewServer(api.Deps{
		Config:         cfg,
		Orchestrator:   orchestrator,
		Scheduler:      scheduler,
		Registry:       registry,
		Executor:       executor,
		Traces:         traces,
		Investigations: investigations,
		Builder:        builder,
		Severity:       severityEngine,
		Synthesizer:    synthesizer,
		Memory:         memorySvc,
		Sessions:       sessions,
		Monitor:        monitor,
	})

	serverCtx, cancelServer := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Run(serverCtx, ":"+httpPort, 5*time.Second)
	}()
	slog.Info("Lattice started")

	// 11. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	serverDone := false
	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		serverDone = true
		if err != nil {
			slog.Error("Server error triggered shutdown", "error", err)
		}
	}

	// 12. Graceful shutdown: scheduler first so no ingestion is mid-flight
	// when the backends close, then the HTTP server, then a final session
	// flush via the serializer context.
	scheduler.Stop()
	slog.Info("Ingest scheduler stopped")
	if cfg.Retention.Enabled {
		retention.Stop()
	}

	cancelServer()
	if !serverDone {
		select {
		case err := <-errCh:
			if err != nil {
				slog.Error("HTTP server shutdown error", "error", err)
			}
		case <-time.After(10 * time.Second):
			slog.Warn("HTTP server shutdown timeout exceeded")
		}
	}

	cancelRun()
	if err := sessions.Serialize(); err != nil {
		slog.Error("Final session serialization failed", "error", err)
	}

	slog.Info("Shutdown complete")
}
