// Package app builds the import service and its collaborators from
// configuration. Every binary goes through New so that the HTTP API, the
// worker and the CLI share one wiring.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/RamonSouzaHeavens/azera-crm-sub003/internal/config"
	"github.com/RamonSouzaHeavens/azera-crm-sub003/internal/logger"
	"github.com/RamonSouzaHeavens/azera-crm-sub003/internal/metrics/datadog"
	"github.com/RamonSouzaHeavens/azera-crm-sub003/internal/models"
	"github.com/RamonSouzaHeavens/azera-crm-sub003/internal/services"
	"github.com/RamonSouzaHeavens/azera-crm-sub003/internal/storage"

	_ "github.com/RamonSouzaHeavens/azera-crm-sub003/internal/storage/dynamo"
	_ "github.com/RamonSouzaHeavens/azera-crm-sub003/internal/storage/memory"
	_ "github.com/RamonSouzaHeavens/azera-crm-sub003/internal/storage/mssql"
	_ "github.com/RamonSouzaHeavens/azera-crm-sub003/internal/storage/postgres"
	_ "github.com/RamonSouzaHeavens/azera-crm-sub003/internal/storage/sqlite"
)

// AICallTimeout bounds a single oracle call
const AICallTimeout = 90 * time.Second

// App holds the wired components
type App struct {
	Config  *config.Config
	Import  *services.ImportService
	Store   storage.RecordStore
	S3      *services.S3Client
	Metrics *services.ImportMetrics
	Logger  *zap.Logger

	closers []func()
}

// Options overrides parts of the wiring, mainly for tests
type Options struct {
	Store  storage.RecordStore
	Oracle services.Oracle
	Status services.StatusStore
	S3     *services.S3Client
}

// New connects every configured backend. Optional backends (Redis, S3,
// OpenAI, Datadog) are skipped when their settings are empty.
func New(ctx context.Context, cfg *config.Config, opts Options, log *zap.Logger) (*App, error) {
	log = logger.OrNop(log)
	a := &App{Config: cfg, Logger: log, Metrics: services.GetImportMetrics()}

	if err := a.initMetrics(ctx); err != nil {
		a.Close()
		return nil, err
	}

	store := opts.Store
	if store == nil {
		var err error
		store, err = storage.Open(ctx, storage.Config{Kind: cfg.Storage.Kind, DSN: cfg.Storage.DSN, Table: cfg.Storage.Table})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to open %s store: %w", cfg.Storage.Kind, err)
		}
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			a.Close()
			return nil, fmt.Errorf("failed to prepare %s store: %w", cfg.Storage.Kind, err)
		}
		a.closers = append(a.closers, store.Close)
	}
	a.Store = store

	status := opts.Status
	if status == nil {
		var err error
		status, err = a.initStatus(ctx)
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	a.S3 = opts.S3
	if a.S3 == nil && cfg.S3.Bucket != "" {
		client, err := services.NewS3Client(ctx, services.S3Config{
			BucketName:   cfg.S3.Bucket,
			Region:       cfg.S3.Region,
			UploadPrefix: cfg.S3.UploadPrefix,
			ReportPrefix: cfg.S3.ReportPrefix,
			RawPrefix:    cfg.S3.RawPrefix,
		})
		if err != nil {
			a.Close()
			return nil, err
		}
		a.S3 = client
	}

	oracle := opts.Oracle
	if oracle == nil && cfg.AI.Enabled {
		client, err := services.NewOpenAIClient(services.OpenAIConfig{
			APIKey:      cfg.AI.APIKey,
			BaseURL:     cfg.AI.BaseURL,
			Model:       cfg.AI.Model,
			Temperature: cfg.AI.Temperature,
			MaxTokens:   cfg.AI.MaxTokens,
		}, log)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to create AI oracle: %w", err)
		}
		log.Info("AI oracle configured",
			zap.String("model", client.GetModel()),
			zap.Int("max_tokens", client.GetMaxTokens()),
			zap.Float64("requests_per_second", cfg.AI.RequestsPerSecond))
		oracle = services.NewRateLimitedOracle(client, cfg.AI.RequestsPerSecond, cfg.AI.Burst)
	}

	deps := services.ImportDeps{
		Store:   store,
		Mapper:  services.NewFieldMapper(models.DefaultFieldSet(), services.DefaultAliases()),
		Oracle:  oracle,
		Status:  status,
		Metrics: a.Metrics,
		Logger:  log,
	}
	if a.S3 != nil {
		deps.Reports = a.S3
		deps.Archiver = a.S3
	}

	a.Import = services.NewImportService(deps, services.ImportConfig{
		BatchSize:            cfg.Import.BatchSize,
		AIBatchSize:          cfg.Import.AIBatchSize,
		SampleRows:           cfg.Import.SampleRows,
		AI:                   services.AIOptions{Model: cfg.AI.Model, MaxTokens: cfg.AI.MaxTokens},
		AICallTimeout:        AICallTimeout,
		Upsert:               cfg.Import.Upsert,
		ContinueOnBatchError: cfg.ContinueOnBatchError(),
	})

	log.Info("Import service ready",
		zap.String("storage", cfg.Storage.Kind),
		zap.Bool("ai", oracle != nil),
		zap.Bool("s3", a.S3 != nil),
		zap.Bool("redis", cfg.Redis.Addr != "" && opts.Status == nil),
		zap.String("metrics", cfg.Metrics.Backend),
	)
	return a, nil
}

func (a *App) initMetrics(ctx context.Context) error {
	if a.Config.Metrics.Backend != "datadog" {
		return nil
	}
	backend, err := datadog.NewBackend(ctx, datadog.Options{
		Prefix:     a.Config.Metrics.Prefix,
		Tags:       a.Config.Metrics.Tags,
		FlushEvery: time.Duration(a.Config.Metrics.FlushIntervalSeconds) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("failed to create datadog backend: %w", err)
	}
	a.Metrics.SetBackend(backend, a.Logger)
	a.closers = append(a.closers, func() {
		if err := backend.Close(); err != nil {
			a.Logger.Warn("Final metrics flush failed", zap.Error(err))
		}
	})
	return nil
}

func (a *App) initStatus(ctx context.Context) (services.StatusStore, error) {
	if a.Config.Redis.Addr == "" {
		return services.NewMemoryStatusStore(), nil
	}
	client, err := services.NewRedisClient(ctx, a.Config.Redis.Addr, a.Config.Redis.Password, a.Config.Redis.DB)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() { _ = client.Close() })
	ttl := time.Duration(a.Config.Redis.StatusTTLSeconds) * time.Second
	return services.NewRedisStatusStore(client, ttl), nil
}

// Close releases connections in reverse order of creation
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
