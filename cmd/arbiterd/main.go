// Command arbiterd runs the governed-decision service: multi-tenant event
// ingestion, the deterministic decision workflow and the governance API.
// Without backend URLs configured it runs fully in-process (Lite Mode):
// embedded SQLite event store, in-memory KV and an in-memory bus.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/arbiter-io/arbiter/pkg/api"
	"github.com/arbiter-io/arbiter/pkg/audit"
	"github.com/arbiter-io/arbiter/pkg/broker"
	"github.com/arbiter-io/arbiter/pkg/config"
	"github.com/arbiter-io/arbiter/pkg/eventstore"
	"github.com/arbiter-io/arbiter/pkg/governance"
	"github.com/arbiter-io/arbiter/pkg/ingest"
	"github.com/arbiter-io/arbiter/pkg/kvstore"
	"github.com/arbiter-io/arbiter/pkg/observability"
	"github.com/arbiter-io/arbiter/pkg/policy"
	"github.com/arbiter-io/arbiter/pkg/resilience"
	"github.com/arbiter-io/arbiter/pkg/security"
	"github.com/arbiter-io/arbiter/pkg/workflow"
)

func main() {
	cfg := config.Load()
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN", "WARNING":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

//nolint:gocognit // linear wiring
func run(cfg *config.Config, logger *slog.Logger) error {
	ctx := context.Background()

	limits, err := config.LoadLimits(cfg.LimitsPath)
	if err != nil {
		return err
	}
	logger.Info("limits profile loaded", "name", limits.Name)

	// Audit: hash-chained memory sink, mirrored to the log.
	chain := audit.NewMemorySink()
	sink := audit.Tee{chain, audit.NewSlogSink(logger)}

	// KV cache.
	var kv kvstore.Store
	if cfg.RedisURL != "" {
		kv = kvstore.NewRedisStoreAddr(cfg.RedisURL, 2*time.Second)
		logger.Info("kvstore: redis", "addr", cfg.RedisURL)
	} else {
		kv = kvstore.NewMemoryStore()
		logger.Info("kvstore: memory")
	}

	// Durable event store.
	var events eventstore.Store
	switch {
	case cfg.DatabaseURL != "":
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return err
		}
		if err := db.PingContext(ctx); err != nil {
			return err
		}
		store := eventstore.NewSQLStore(db, eventstore.DialectPostgres)
		if err := store.Migrate(ctx); err != nil {
			return err
		}
		events = store
		logger.Info("eventstore: postgres")
	default:
		db, err := sql.Open("sqlite", "file:arbiter.db?cache=shared")
		if err != nil {
			return err
		}
		store := eventstore.NewSQLStore(db, eventstore.DialectSQLite)
		if err := store.Migrate(ctx); err != nil {
			return err
		}
		events = store
		logger.Info("eventstore: sqlite (lite mode)")
	}

	// Broker.
	var publisher broker.Publisher
	if cfg.AMQPURL != "" {
		amqpPub, err := broker.NewAMQPPublisher(cfg.AMQPURL)
		if err != nil {
			return err
		}
		publisher = amqpPub
		logger.Info("broker: amqp")
	} else {
		publisher = broker.NewBus()
		logger.Info("broker: in-memory bus")
	}

	// Encryption is a startup concern: a configured key must be usable.
	if cfg.EncryptionKey != "" {
		if _, err := security.NewEncryptor(cfg.EncryptionKey); err != nil {
			return err
		}
	}

	// Resilience substrate.
	breaker := resilience.NewCircuitBreaker("broker",
		uint32(limits.Breaker.FailureThreshold),
		time.Duration(limits.Breaker.RecoveryTimeoutMs)*time.Millisecond)
	bulkhead := resilience.NewBulkhead(limits.Bulkhead.MaxConcurrent, limits.Bulkhead.MaxQueued)
	tenantLimiter := resilience.Limiter(resilience.NewSlidingWindowLimiter(
		limits.RateLimit.RequestsPerWindow,
		time.Duration(limits.RateLimit.WindowSeconds)*time.Second))
	ipLimiter := api.NewGlobalRateLimiter(limits.IPLimit.RequestsPerSecond, limits.IPLimit.Burst)

	// Observability core, optionally mirrored to OTel.
	registry := observability.NewRegistry()
	spans := observability.NewSpanRecorder()
	costs := observability.NewCostTracker(0)
	generations := observability.NewGenerationLog()
	evaluation := observability.NewEvaluationService(sink)
	if cfg.OTLPEndpoint != "" {
		provider, err := observability.NewProvider(ctx, cfg.OTLPEndpoint)
		if err != nil {
			return err
		}
		registry.SetMirror(provider)
		spans.SetMirror(provider)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := provider.Shutdown(shutdownCtx); err != nil {
				logger.Warn("otel shutdown", "error", err)
			}
		}()
		logger.Info("observability: otel mirror", "endpoint", cfg.OTLPEndpoint)
	}
	hooks := &observability.WorkflowHooks{
		Registry:    registry,
		Spans:       spans,
		Costs:       costs,
		Generations: generations,
		Evaluation:  evaluation,
	}

	// Governance registries.
	models := governance.NewModelRegistry(sink)
	prompts := governance.NewPromptRegistry(sink)

	// Workflow rules, optionally overridden by an external bundle.
	var ruleSet policy.Rules
	if cfg.PolicyBundle != "" {
		bundle, err := policy.LoadBundle(cfg.PolicyBundle)
		if err != nil {
			return err
		}
		ruleSet = bundle.Rules
		logger.Info("policy bundle loaded", "name", bundle.Name)
	}
	rules, err := policy.NewEngine(ruleSet)
	if err != nil {
		return err
	}

	// Workflow runtimes.
	snapshots := workflow.NewSnapshotStore(kv, 0)
	riskRuntime, err := workflow.NewRuntime(workflow.RuntimeConfig{
		Kind:      workflow.KindRisk,
		Rules:     rules,
		Snapshots: snapshots,
		Models:    models,
		Prompts:   prompts,
		Audit:     sink,
		Hooks:     hooks,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	complianceRuntime, err := workflow.NewRuntime(workflow.RuntimeConfig{
		Kind:      workflow.KindCompliance,
		Rules:     rules,
		Snapshots: snapshots,
		Models:    models,
		Prompts:   prompts,
		Audit:     sink,
		Hooks:     hooks,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	dispatcher := workflow.NewDispatcher(riskRuntime, complianceRuntime)

	// Ingestion transaction.
	eventService := ingest.NewEventService(ingest.Config{
		Events:    events,
		KV:        kv,
		Publisher: publisher,
		Breaker:   breaker,
		Trigger:   dispatcher,
		Audit:     sink,
		Logger:    logger,
	})

	// Health probes.
	health := resilience.NewHealthAggregator()
	health.RegisterProbe("kvstore", func(ctx context.Context) (map[string]any, error) {
		probe := kvstore.LockKey("healthcheck")
		if err := kv.Set(ctx, probe, "ok", time.Minute); err != nil {
			return nil, err
		}
		_, err := kv.Get(ctx, probe)
		return nil, err
	})
	health.RegisterProbe("eventstore", func(ctx context.Context) (map[string]any, error) {
		_, err := events.Get(ctx, "healthcheck", "healthcheck")
		if errors.Is(err, eventstore.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	})
	health.RegisterProbe("broker_breaker", func(ctx context.Context) (map[string]any, error) {
		return map[string]any{"state": string(breaker.State())}, nil
	})
	health.RegisterProbe("bulkhead", func(ctx context.Context) (map[string]any, error) {
		return map[string]any{"queued": bulkhead.Queued()}, nil
	})
	health.RegisterProbe("audit_chain", func(ctx context.Context) (map[string]any, error) {
		return map[string]any{"records": len(chain.Records())}, chain.Verify()
	})
	health.RegisterProbe("workflow", func(ctx context.Context) (map[string]any, error) {
		latency := map[string]any{}
		for _, h := range registry.Snapshot().Histograms {
			if h.Name == "node_execution_latency" {
				latency[h.Labels["node"]] = map[string]any{"p95_ms": h.P95, "count": h.Count}
			}
		}
		return map[string]any{"node_latency": latency}, nil
	})
	scaler := resilience.AutoScalingPolicy{
		CPUUp:         limits.Autoscaler.CPUUpPct,
		CPUDown:       limits.Autoscaler.CPUDownPct,
		LatencyUpMs:   limits.Autoscaler.LatencyUpMs,
		FailureRateUp: limits.Autoscaler.FailureRateUp,
		QueueDepthUp:  limits.Autoscaler.QueueDepthUp,
		MinReplicas:   limits.Autoscaler.MinReplicas,
		MaxReplicas:   limits.Autoscaler.MaxReplicas,
	}
	health.RegisterProbe("autoscaler", func(ctx context.Context) (map[string]any, error) {
		snapshot := resilience.MetricsSnapshot{CurrentReplicas: 1}
		queued := bulkhead.Queued()
		snapshot.QueueDepth = &queued
		for _, h := range registry.Snapshot().Histograms {
			if h.Name == "request_latency" && h.Count > 0 {
				p99 := h.P99
				snapshot.RequestLatencyP99Ms = &p99
			}
		}
		decision := scaler.Evaluate(snapshot)
		return map[string]any{"action": string(decision.Action), "reason": decision.Reason}, nil
	})

	server := api.NewServer(api.ServerConfig{
		Events:        eventService,
		Health:        health,
		Metrics:       registry,
		Models:        models,
		TenantLimiter: tenantLimiter,
		Bulkhead:      bulkhead,
		IPLimiter:     ipLimiter,
		JWT:           api.NewJWTValidator(cfg.JWTSecret),
		Logger:        logger,
	})

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	archiveChain(shutdownCtx, cfg, chain, logger)
	return nil
}

// archiveChain uploads the audit chain to object storage on shutdown when a
// bucket is configured. Failures are logged, not fatal: the chain is already
// mirrored to the log.
func archiveChain(ctx context.Context, cfg *config.Config, chain *audit.MemorySink, logger *slog.Logger) {
	if cfg.ArchiveBucket == "" {
		return
	}
	var (
		archiver audit.Archiver
		err      error
	)
	switch {
	case strings.HasPrefix(cfg.ArchiveBucket, "gs://"):
		archiver, err = audit.NewGCSArchiver(ctx, strings.TrimPrefix(cfg.ArchiveBucket, "gs://"))
	default:
		archiver, err = audit.NewS3Archiver(ctx, strings.TrimPrefix(cfg.ArchiveBucket, "s3://"))
	}
	if err != nil {
		logger.Warn("audit archive: dial", "error", err)
		return
	}
	key, err := audit.Export(ctx, chain, archiver, "arbiterd")
	if err != nil {
		logger.Warn("audit archive: export", "error", err)
		return
	}
	logger.Info("audit chain archived", "key", key)
}
