package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq"

	"ThreatScanner/internal/batch"
	"ThreatScanner/internal/config"
	"ThreatScanner/internal/dedup"
	"ThreatScanner/internal/enrich"
	"ThreatScanner/internal/feed"
	"ThreatScanner/internal/infrastructure/embedding"
	feedadapters "ThreatScanner/internal/infrastructure/feed"
	"ThreatScanner/internal/infrastructure/geocode"
	"ThreatScanner/internal/infrastructure/llm"
	"ThreatScanner/internal/infrastructure/scheduler"
	"ThreatScanner/internal/infrastructure/storage"
	"ThreatScanner/internal/ingest"
	"ThreatScanner/internal/logging"
	"ThreatScanner/internal/ports"
	"ThreatScanner/internal/score"
	"ThreatScanner/internal/usecase"
)

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg       config.Config
	logger    *slog.Logger
	pipeline  *usecase.Pipeline
	scheduler *usecase.Scheduler
	db        *sql.DB
	index     *dedup.SQLiteIndex
}

// New builds a runnable application instance from configuration.
func New(cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}

	db, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	sink := storage.NewPostgresSink(db)

	index, err := dedup.OpenIndex(cfg.Index.Path)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open dedup index: %w", err)
	}

	registry := feed.NewRegistry()
	registry.Register(feedadapters.NewRSSAdapter(nil))
	registry.Register(feedadapters.NewEventAPIAdapter(nil, ""))
	source := feed.NewMultiSource(registry, cfg.Feeds, baseLogger.With("component", "feeds"))

	embedder := embedding.NewClient(cfg.Embedding)
	engine := dedup.NewEngine(index, embedder,
		cfg.Dedup.SimilarityThreshold, cfg.Dedup.MagnitudeTolerance,
		baseLogger.With("component", "dedup"))

	normalizer := ingest.New(cfg.Dedup.RecentIDCacheSize, baseLogger.With("component", "ingest"))

	scorer := score.NewScorer(score.Thresholds{
		Moderate: cfg.Scorer.ModerateAt,
		High:     cfg.Scorer.HighAt,
		Critical: cfg.Scorer.CriticalAt,
	})

	orchestrator := enrich.NewOrchestrator(
		buildProviders(cfg.Providers, baseLogger),
		cfg.Enrichment.TotalBudget.Std(),
		baseLogger.With("component", "orchestrator"))

	batchManager := batch.NewManager(cfg.Batch.MaxBuffer, cfg.Batch.MaxAge.Std(),
		baseLogger.With("component", "batch"))

	pipeline := usecase.NewPipeline(usecase.PipelineDeps{
		Source:       source,
		Normalizer:   normalizer,
		Dedup:        engine,
		Scorer:       scorer,
		Orchestrator: orchestrator,
		Batch:        batchManager,
		Geocoder:     geocode.NewClient(cfg.Geocode),
		Sink:         sink,
		Logger:       baseLogger.With("component", "pipeline"),
		Workers:      cfg.Enrichment.Workers,
		MinScore:     cfg.Enrichment.MinScore,
		Lookback:     cfg.Scheduler.Lookback.Std(),
		RunTimeout:   cfg.Enrichment.RunTimeout.Std(),
	})

	sched := usecase.NewScheduler(
		scheduler.NewIntervalScheduler(cfg.Scheduler.IngestInterval.Std()),
		scheduler.NewIntervalScheduler(cfg.Scheduler.EnrichInterval.Std()),
		pipeline,
		cfg.Enrichment.BatchLimit,
		baseLogger.With("component", "scheduler"))

	return &Application{
		cfg:       cfg,
		logger:    baseLogger,
		pipeline:  pipeline,
		scheduler: sched,
		db:        db,
		index:     index,
	}, nil
}

func buildProviders(configs []config.ProviderConfig, baseLogger *slog.Logger) []*enrich.Provider {
	providers := make([]*enrich.Provider, 0, len(configs))
	for _, pc := range configs {
		var client ports.CompletionProvider
		switch pc.Kind {
		case "gemini":
			client = llm.NewGeminiClient(pc)
		default:
			client = llm.NewOpenAIClient(pc)
		}

		policy := enrich.Policy{
			Timeout:    pc.Timeout.Std(),
			MaxRetries: pc.MaxRetries,
			Backoff: enrich.Backoff{
				Base:   pc.BaseDelay.Std(),
				Max:    pc.MaxDelay.Std(),
				Factor: 2,
				Jitter: 0.1,
			},
		}

		breaker := enrich.NewCircuitBreaker(pc.Name, pc.FailureThreshold,
			pc.FailureWindow.Std(), pc.RecoveryTimeout.Std(), baseLogger.With("component", "breaker"))
		bucket := enrich.NewTokenBucket(pc.BucketCapacity, pc.RefillPerSecond)

		providers = append(providers, enrich.NewProvider(pc.Name, pc.Priority, client, policy, breaker, bucket))
	}
	return providers
}

// RunIngestion executes one ingestion cycle.
func (a *Application) RunIngestion(ctx context.Context) error {
	_, err := a.pipeline.RunIngestionCycle(ctx)
	return err
}

// RunEnrichment executes one enrichment cycle over at most limit records.
func (a *Application) RunEnrichment(ctx context.Context, limit int) error {
	if limit <= 0 {
		limit = a.cfg.Enrichment.BatchLimit
	}
	_, err := a.pipeline.RunEnrichmentCycle(ctx, limit)
	return err
}

// Run starts both schedulers and blocks until the context is done.
func (a *Application) Run(ctx context.Context) error {
	if err := a.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	<-ctx.Done()
	return a.scheduler.Stop(context.Background())
}

// Close releases the database and index handles.
func (a *Application) Close() error {
	var firstErr error
	if a.index != nil {
		firstErr = a.index.Close()
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
