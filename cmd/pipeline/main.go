// Package main wires together the job-posting pipeline service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hiresignal/jobs-pipeline/internal/blobstore"
	"github.com/hiresignal/jobs-pipeline/internal/clock/system"
	"github.com/hiresignal/jobs-pipeline/internal/config"
	"github.com/hiresignal/jobs-pipeline/internal/controller"
	"github.com/hiresignal/jobs-pipeline/internal/discovery"
	"github.com/hiresignal/jobs-pipeline/internal/extract"
	"github.com/hiresignal/jobs-pipeline/internal/hash/sha256"
	"github.com/hiresignal/jobs-pipeline/internal/id/uuid"
	"github.com/hiresignal/jobs-pipeline/internal/logging"
	"github.com/hiresignal/jobs-pipeline/internal/metrics"
	"github.com/hiresignal/jobs-pipeline/internal/pipeline"
	"github.com/hiresignal/jobs-pipeline/internal/queue"
	"github.com/hiresignal/jobs-pipeline/internal/ratelimit"
	"github.com/hiresignal/jobs-pipeline/internal/registry"
	"github.com/hiresignal/jobs-pipeline/internal/scrape"
	"github.com/hiresignal/jobs-pipeline/internal/server"
	"github.com/hiresignal/jobs-pipeline/internal/skills"
	memstore "github.com/hiresignal/jobs-pipeline/internal/store/memory"
	pgstore "github.com/hiresignal/jobs-pipeline/internal/store/postgres"
	"github.com/hiresignal/jobs-pipeline/internal/worker"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, stop); err != nil {
		logger.Error("pipeline exited with error", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger, stop func()) error {
	clock := system.New()
	idGen := uuid.New()
	hasher := sha256.New()

	logger.Info("retry budget",
		zap.Int("http_attempts", len(cfg.HTTP.BackoffSeconds)+1),
		zap.Int("task_max_attempts", cfg.Queue.TaskMaxAttempts),
		zap.Int("total", cfg.TotalRetryBudget()),
	)

	// Limiter: redis when configured, in-process otherwise.
	limits := make(map[string]ratelimit.HostLimit, len(cfg.RateLimit))
	for host, l := range cfg.RateLimit {
		limits[host] = ratelimit.HostLimit{
			MaxConcurrent:   l.MaxConcurrent,
			HolderTimeout:   time.Duration(l.TimeoutSeconds) * time.Second,
			TokensPerMinute: l.TokensPerMinute,
		}
	}
	var limiter pipeline.HostLimiter
	if cfg.Redis.URL != "" {
		rdb, err := ratelimit.NewRedisClient(ctx, cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer func() {
			if err := rdb.Close(); err != nil {
				logger.Warn("redis close failed", zap.Error(err))
			}
		}()
		limiter = ratelimit.NewRedisLimiter(rdb, limits, idGen, clock, logger.Named("ratelimit"))
	} else {
		logger.Warn("no redis url configured, using in-process rate limiter")
		limiter = ratelimit.NewMemoryLimiter(limits)
	}

	// Blob store: GCS when configured, in-memory otherwise.
	var rawBlobs pipeline.BlobStore
	if cfg.Storage.GCSBucket != "" {
		gcs, err := blobstore.NewGCSBlobStore(ctx, cfg.Storage.GCSBucket, logger.Named("blobstore"))
		if err != nil {
			return fmt.Errorf("init gcs blob store: %w", err)
		}
		defer func() {
			if err := gcs.Close(); err != nil {
				logger.Warn("gcs close failed", zap.Error(err))
			}
		}()
		rawBlobs = gcs
	} else {
		logger.Warn("no gcs bucket configured, using in-memory blob store")
		rawBlobs = blobstore.NewMemoryBlobStore()
	}
	blobs := blobstore.New(rawBlobs, hasher, cfg.Storage.Prefix)

	// Queue: Pub/Sub when configured, in-memory otherwise.
	var tasks queue.Queue
	if cfg.PubSub.ProjectID != "" {
		ps, err := queue.NewPubSubQueue(ctx, cfg.PubSub.ProjectID, logger.Named("queue"))
		if err != nil {
			return fmt.Errorf("init pubsub queue: %w", err)
		}
		defer func() {
			if err := ps.Close(); err != nil {
				logger.Warn("pubsub close failed", zap.Error(err))
			}
		}()
		tasks = ps
	} else {
		logger.Warn("no pubsub project configured, using in-memory queue")
		tasks = queue.NewMemoryQueue()
	}

	// Stores: postgres when configured, in-memory otherwise.
	var (
		sources    pipeline.SourceStore
		raws       pipeline.RawStore
		jobs       pipeline.JobStore
		skillStore pipeline.SkillStore
	)
	if cfg.DB.DSN != "" {
		pool, err := pgstore.Connect(ctx, pgstore.Config{
			DSN:      cfg.DB.DSN,
			MaxConns: cfg.DB.MaxConns,
			MinConns: cfg.DB.MinConns,
		})
		if err != nil {
			return err
		}
		defer pool.Close()
		sources = pgstore.NewSourceStore(pool, idGen, logger.Named("store"))
		raws = pgstore.NewRawStore(pool, logger.Named("store"))
		jobs = pgstore.NewJobStore(pool, idGen, logger.Named("store"))
		skillStore = pgstore.NewSkillStore(pool, idGen, logger.Named("store"))
	} else {
		logger.Warn("no database dsn configured, using in-memory stores")
		memJobs := memstore.NewJobStore()
		sources = memstore.NewSourceStore()
		raws = memstore.NewRawStore(memJobs)
		jobs = memJobs
		skillStore = memstore.NewSkillStore(skills.SeedCatalog()...)
	}

	// Scrape and discovery clients share the retrying HTTP transport.
	httpClient := scrape.NewClient(nil, limiter, scrape.ClientConfig{
		Backoff: cfg.Backoff(),
		Timeout: cfg.HTTPTimeout(),
	}, logger.Named("http"))
	factory := scrape.NewFactory(httpClient, clock, logger.Named("scrape"), scrape.FactoryConfig{
		LeverPageSize:  cfg.Scrape.LeverPageSize,
		LeverMaxOffset: cfg.Scrape.LeverMaxOffset,
	})
	cdx := discovery.NewCDXClient(cfg.Discovery.CDXBaseURL, cfg.Discovery.PageSize, httpClient, logger.Named("cdx"))
	discoverer := discovery.NewDiscoverer(cdx, sources, tasks, idGen, clock, logger.Named("discovery"))
	reg := registry.New(sources, factory, tasks, idGen, clock, logger.Named("registry"))

	// LLM backends.
	llmTimeout := time.Duration(cfg.Extract.LLMTimeoutSeconds) * time.Second
	var tier1 extract.Backend
	switch cfg.Extract.Tier1Provider {
	case "openai":
		tier1 = extract.NewOpenAIBackend(cfg.Extract.OpenAIAPIKey, cfg.Extract.OpenAIModel, logger.Named("openai"))
	default:
		tier1 = extract.NewOllamaBackend(cfg.Extract.OllamaBaseURL, cfg.Extract.OllamaModel, llmTimeout, logger.Named("ollama"))
	}
	var tier2 extract.Backend
	if cfg.Extract.Tier2Enabled {
		tier2 = extract.NewOpenAIBackend(cfg.Extract.OpenAIAPIKey, cfg.Extract.Tier2Model, logger.Named("openai-tier2"))
	}

	orch := extract.NewOrchestrator(raws, jobs, skillStore, rawBlobs, tier1, tier2,
		limiter, tasks, idGen, clock, logger.Named("extract"), extract.Config{
			BatchSize:        cfg.Extract.BatchSize,
			MaxTextChars:     cfg.Extract.MaxTextChars,
			FallbackAttempts: cfg.Extract.FallbackAttempts,
			Tier2Enabled:     cfg.Extract.Tier2Enabled,
		})
	rollup := skills.NewRollup(jobs, skillStore, clock, logger.Named("skills"))
	ingestor := worker.NewIngestor(sources, raws, blobs, factory, tasks, idGen, clock, logger.Named("ingest"))

	dispatcher := worker.NewDispatcher(tasks, cfg.Queue.TaskMaxAttempts, cfg.Queue.Workers, logger.Named("worker"))
	worker.Stages{
		Discoverer:   discoverer,
		Registry:     reg,
		Ingestor:     ingestor,
		Orchestrator: orch,
		Rollup:       rollup,
		Logger:       logger.Named("worker"),
	}.RegisterAll(dispatcher)

	ctrl := controller.New(tasks, reg, idGen, clock, logger.Named("controller"), controller.Config{
		DiscoverySpec:  cfg.Schedule.Discovery,
		ScrapeSpec:     cfg.Schedule.Scrape,
		ExtractSpec:    cfg.Schedule.Extract,
		DiscoveryLimit: cfg.Discovery.LimitPerCycle,
		ScrapeBatch:    cfg.Schedule.ScrapeBatch,
		ExtractBatch:   cfg.Schedule.ExtractBatch,
	})
	if err := ctrl.Start(ctx); err != nil {
		return fmt.Errorf("start controller: %w", err)
	}
	defer ctrl.Stop()

	ops := server.NewServer(tasks, sources, idGen, clock, logger.Named("server"))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           ops.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("dispatcher started", zap.Int("workers", cfg.Queue.Workers))
		if err := dispatcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("dispatcher error", zap.Error(err))
			stop()
		}
	}()

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	return nil
}
