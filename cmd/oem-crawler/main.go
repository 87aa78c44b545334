// Package main is the entry point for the oem-crawler process: a
// continuously-ticking crawler that checks OEM web properties for changes
// and upserts discovered products and offers into the catalogue.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmylchreest/oem-crawler/internal/catalogue"
	"github.com/jmylchreest/oem-crawler/internal/config"
	"github.com/jmylchreest/oem-crawler/internal/database"
	"github.com/jmylchreest/oem-crawler/internal/extract"
	"github.com/jmylchreest/oem-crawler/internal/fetcher"
	"github.com/jmylchreest/oem-crawler/internal/llm"
	"github.com/jmylchreest/oem-crawler/internal/logging"
	"github.com/jmylchreest/oem-crawler/internal/models"
	"github.com/jmylchreest/oem-crawler/internal/notify"
	"github.com/jmylchreest/oem-crawler/internal/oem"
	"github.com/jmylchreest/oem-crawler/internal/orchestrator"
	"github.com/jmylchreest/oem-crawler/internal/pages"
	"github.com/jmylchreest/oem-crawler/internal/preprocessor"
	"github.com/jmylchreest/oem-crawler/internal/probe"
	"github.com/jmylchreest/oem-crawler/internal/protection"
	"github.com/jmylchreest/oem-crawler/internal/renderer"
	"github.com/jmylchreest/oem-crawler/internal/repository"
	"github.com/jmylchreest/oem-crawler/internal/scheduler"
	"github.com/jmylchreest/oem-crawler/internal/storage"
	"github.com/jmylchreest/oem-crawler/internal/version"
)

func main() {
	logger := logging.SetDefault()

	v := version.Get()
	logger.Info("starting oem-crawler", "version", v.Version, "commit", v.Commit, "built", v.Date, "go_version", v.GoVersion)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	if err := database.MigrateWithLogger(db, logger); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	schemaVersion, err := database.GetLatestSchemaVersion(db)
	if err != nil {
		logger.Warn("failed to get schema version", "error", err)
	} else if schemaVersion != "" {
		logger.Info("database schema ready", "schema_version", schemaVersion)
	}

	oems, err := oem.Load(cfg.OEMConfigDir)
	if err != nil {
		logger.Error("failed to load oem configs", "error", err)
		os.Exit(1)
	}
	logger.Info("oem configs loaded", "count", oems.Len(), "ids", oems.All())

	var repoOpts []repository.Option
	if cfg.HeaderEncryptionKey != "" {
		repoOpts = append(repoOpts, repository.WithHeaderEncryption([]byte(cfg.HeaderEncryptionKey)))
	}
	repos := repository.NewRepositories(db, repoOpts...)
	pageRegistry := pages.NewRegistry(repos.SourcePage)
	catalogueStore := catalogue.New(db)
	probeRegistry := probe.NewRegistry(repos.DiscoveredAPI)

	for _, id := range oems.All() {
		oemCfg, _ := oems.Get(id)
		for _, seed := range oemCfg.SeedPages {
			if _, err := pageRegistry.SeedIfMissing(context.Background(), oemCfg.ID, seed.URL, seed.PageType); err != nil {
				logger.Error("seed page", "oem_id", oemCfg.ID, "url", seed.URL, "error", err)
			}
		}
	}

	llmRegistry := llm.InitRegistry()
	llmRouter := llm.NewRouter(llm.RouterConfig{
		Registry:  llmRegistry,
		Transport: llm.NewHTTPTransport(30 * time.Second),
		APIKeys: map[string]string{
			llm.ProviderOpenRouter: cfg.OpenRouterAPIKey,
			llm.ProviderAnthropic:  cfg.AnthropicAPIKey,
			llm.ProviderOpenAI:     cfg.OpenAIAPIKey,
		},
		SpendCapsUSD: cfg.LLMSpendCapsUSD,
		LogStore:     repos.AIInferenceLog,
		Logger:       logger,
	})
	defer llmRouter.Close(context.Background(), 10*time.Second)

	selectorHealth := extract.NewSelectorHealth()
	extractCoordinator := extract.NewCoordinator([]extract.Strategy{
		extract.DirectAPIStrategy{},
		extract.DOMSelectorStrategy{Health: selectorHealth},
		extract.LLMStrategy{Router: llmRouter},
	}, nil)

	objectStore, err := storage.New(context.Background(), storage.Config{
		Enabled:   cfg.StorageEnabled,
		Endpoint:  cfg.StorageEndpoint,
		Region:    cfg.StorageRegion,
		Bucket:    cfg.StorageBucket,
		AccessKey: cfg.StorageAccessKey,
		SecretKey: cfg.StorageSecretKey,
		Prefix:    cfg.StoragePrefix,
	}, logger)
	if err != nil {
		logger.Error("failed to initialise object storage", "error", err)
		os.Exit(1)
	}

	var webhookSubscribers []notify.Subscriber
	if cfg.NotifyWebhookURL != "" {
		webhookSubscribers = append(webhookSubscribers, notify.Subscriber{URL: cfg.NotifyWebhookURL, Secret: cfg.NotifyWebhookSecret})
	}
	notifier := notify.New(webhookSubscribers, logger)
	defer notifier.Close()

	rendererPool := renderer.NewPool(renderer.PoolConfig{
		MaxSessions:    cfg.RendererMaxSessions,
		ChromePath:     cfg.RendererChromePath,
		BrowserMaxAge:  cfg.RendererMaxAge,
		BrowserMaxReqs: cfg.RendererMaxRequests,
	}, logger)
	defer rendererPool.Close()

	pipeline := &orchestrator.Orchestrator{
		OEMs:         oems,
		Pages:        pageRegistry,
		Fetcher:      fetcher.New(logger),
		Renderer:     renderer.New(rendererPool),
		Probes:       probeRegistry,
		Extractors:   extractCoordinator,
		Catalogue:    catalogueStore,
		Detector:     protection.NewDetector(),
		Preprocessor: preprocessor.NewHintRepeats(),
		Storage:      objectStore,
		Notifier:     notifier,
		Logger:       logger,
	}

	sched := scheduler.New(scheduler.Config{
		TickInterval:       cfg.SchedulerTick,
		GlobalConcurrency:  cfg.GlobalConcurrency,
		PerHostConcurrency: int64(cfg.PerHostConcurrency),
		ShutdownDeadline:   cfg.SchedulerShutdownGrace,
	}, oems, pageRegistry, repos.ImportRun, pipeline, logger)

	sched.OnRunClosed(func(ctx context.Context, run *models.ImportRun) {
		oemCfg, ok := oems.Get(run.OEMID)
		graceWindow := cfg.RemovalGraceWindow
		if ok && oemCfg.RemovalGraceWindow > 0 {
			graceWindow = oemCfg.RemovalGraceWindow
		}
		removed, err := catalogueStore.ReconcileRemovals(ctx, run.OEMID, run.StartedAt, graceWindow)
		if err != nil {
			logger.Error("reconcile removals", "oem_id", run.OEMID, "run_id", run.ID, "error", err)
			return
		}
		if removed > 0 {
			logger.Info("reconciled removals", "oem_id", run.OEMID, "run_id", run.ID, "removed", removed)
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	if err := sched.Start(ctx); err != nil {
		logger.Error("failed to start scheduler", "error", err)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutdown signal received", "signal", sig.String())

	cancel()
	sched.Stop()
	logger.Info("oem-crawler stopped")
}
