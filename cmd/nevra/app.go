package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/quantumflow/nevra/internal/agent"
	"github.com/quantumflow/nevra/internal/audit"
	"github.com/quantumflow/nevra/internal/awareness"
	"github.com/quantumflow/nevra/internal/config"
	"github.com/quantumflow/nevra/internal/decision"
	"github.com/quantumflow/nevra/internal/inference"
	"github.com/quantumflow/nevra/internal/logging"
	"github.com/quantumflow/nevra/internal/memory"
	"github.com/quantumflow/nevra/internal/metrics"
	"github.com/quantumflow/nevra/internal/profile"
	"github.com/quantumflow/nevra/internal/storage"
	"github.com/quantumflow/nevra/internal/workflow"
)

// app holds the wired pipeline and everything that must be closed with it
type app struct {
	registry     *prometheus.Registry
	db           *sql.DB
	profiles     *profile.SQLiteStore
	runs         *audit.SQLiteLog
	store        memory.Store
	knowledge    memory.KnowledgeStore
	orchestrator *workflow.Orchestrator
}

// loadConfig reads the configuration named by --config
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// newApp opens the stores and wires the orchestrator. On error everything
// opened so far is closed again.
func newApp(ctx context.Context, cfg *config.Config, logger *logging.Logger) (_ *app, err error) {
	a := &app{registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	m := metrics.New(a.registry)

	a.db, err = storage.OpenSQLite(cfg.Storage.SQLitePath)
	if err != nil {
		return nil, err
	}
	if a.profiles, err = profile.NewSQLiteStore(a.db); err != nil {
		return nil, err
	}
	if a.runs, err = audit.NewSQLiteLog(a.db); err != nil {
		return nil, err
	}

	if a.store, err = memory.NewStore(ctx, cfg.Memory); err != nil {
		return nil, fmt.Errorf("failed to open memory store: %w", err)
	}
	if a.knowledge, err = memory.NewKnowledgeStore(ctx, cfg.Memory); err != nil {
		return nil, fmt.Errorf("failed to connect knowledge store: %w", err)
	}

	client := inference.NewClient(backendConfig(cfg.Backend), logger, m)
	agentMemory := memory.NewAgentEngine(a.store, logger)

	memoryConfig := memory.DefaultConfig()
	if cfg.Memory.RetrievalLimit > 0 {
		memoryConfig.RetrievalLimit = cfg.Memory.RetrievalLimit
	}

	a.orchestrator, err = workflow.New(orchestratorConfig(cfg.Workflow), workflow.Dependencies{
		Agents:      agent.NewFactory(client, agent.DefaultConfig(), logger),
		Decisions:   decision.NewEngine(decisionConfig(cfg)),
		Profiles:    profile.NewEngine(a.profiles, logger),
		Awareness:   awareness.NewEngine(agentMemory, logger),
		Memory:      memory.NewEngine(a.store, a.knowledge, memoryConfig, logger),
		AgentMemory: agentMemory,
		Audit:       a.runs,
		Metrics:     m,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "pipeline ready",
		zap.String("backend", cfg.Backend.URL),
		zap.String("memory_backend", cfg.Memory.Backend),
		zap.Bool("memory_enabled", cfg.Memory.Enabled),
	)
	return a, nil
}

// Close waits for background saves and releases the stores
func (a *app) Close() error {
	if a.orchestrator != nil {
		a.orchestrator.Wait()
	}

	var errs []error
	if a.knowledge != nil {
		errs = append(errs, a.knowledge.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	return errors.Join(errs...)
}

func backendConfig(c config.BackendConfig) *inference.Config {
	cfg := &inference.Config{
		URL:         c.URL,
		APIKey:      c.APIKey.Value(),
		Timeout:     c.Timeout.Duration(),
		MaxAttempts: c.MaxAttempts,
		BaseDelay:   c.BaseDelay.Duration(),
		MaxDelay:    c.MaxDelay.Duration(),
		RateLimit:   c.RateLimit,
		Burst:       c.Burst,
	}
	cfg.ApplyDefaults()
	return cfg
}

func decisionConfig(cfg *config.Config) *decision.Config {
	w := cfg.Workflow
	return &decision.Config{
		EnablePlanner:         w.EnablePlanner,
		EnableReviewer:        w.EnableReviewer,
		EnableReflection:      w.EnableReflection,
		SkipPlannerForSimple:  w.SkipPlannerForSimple,
		SkipReviewerForSimple: w.SkipReviewerForSimple,
		ForceReview:           w.ForceReview,
		QualityThreshold:      w.QualityThreshold,
		MaxRetries:            w.MaxRetries,
		MaxRevisions:          w.MaxRevisions,
		SimpleMaxWords:        w.SimpleMaxWords,
		SimpleKeywords:        w.SimpleKeywords,
		Models: decision.ModelConfig{
			Planner:    cfg.Models.Planner,
			Executor:   cfg.Models.Executor,
			Reviewer:   cfg.Models.Reviewer,
			Reflection: cfg.Models.Reflection,
			Providers:  cfg.Models.Providers,
		},
	}
}

func orchestratorConfig(w config.WorkflowConfig) *workflow.Config {
	cfg := workflow.DefaultConfig()
	cfg.ApplyImprovements = w.ApplyImprovements
	cfg.ForceReview = w.ForceReview
	cfg.CircuitBreaker = w.CircuitBreaker
	cfg.PlannerTimeout = w.PlannerTimeout.Duration()
	cfg.ExecutorTimeout = w.ExecutorTimeout.Duration()
	cfg.ReviewerTimeout = w.ReviewerTimeout.Duration()
	cfg.ReflectionTimeout = w.ReflectionTimeout.Duration()
	cfg.SaveTimeout = w.SaveTimeout.Duration()
	return cfg
}

// newLogger builds the process logger from cfg, quieted for terminal use
func newLogger(cfg *config.Config, quiet bool) (*logging.Logger, error) {
	lc := cfg.Logging
	if quiet && lc.Level != "debug" {
		lc.Level = "warn"
	}
	return logging.NewLogger(&lc)
}
