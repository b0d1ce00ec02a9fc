package svcctx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jackzampolin/ragscan/internal/config"
	"github.com/jackzampolin/ragscan/internal/home"
	"github.com/jackzampolin/ragscan/internal/knowledge"
	"github.com/jackzampolin/ragscan/internal/ledger"
	"github.com/jackzampolin/ragscan/internal/pipeline"
	"github.com/jackzampolin/ragscan/internal/providers"
	"github.com/jackzampolin/ragscan/internal/raster"
)

// BuildOptions configures Build. Store and Rasterizer replace the
// collaborators normally built from configuration.
type BuildOptions struct {
	Config     *config.Manager
	Home       *home.Dir
	Store      knowledge.Store
	Rasterizer raster.Rasterizer
	// Registry replaces the provider registry built from configuration.
	Registry *providers.Registry
	Logger   *slog.Logger
}

// Build wires the registry, pipeline, publisher and ledger from
// configuration. The registry follows config hot reloads. Callers must
// Close the result.
func Build(ctx context.Context, opts BuildOptions) (*Services, error) {
	if opts.Config == nil {
		return nil, errors.New("config manager is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Home == nil {
		h, err := home.New("")
		if err != nil {
			return nil, err
		}
		opts.Home = h
	}
	cfg := opts.Config.Get()
	logger := opts.Logger

	registry := opts.Registry
	if registry == nil {
		registry = providers.NewRegistryFromConfig(cfg.ToProviderRegistryConfig(), logger)
		opts.Config.OnChange(func(c *config.Config) {
			registry.Reload(c.ToProviderRegistryConfig())
			logger.Info("provider registry reloaded from config")
		})
	}

	provider, err := registry.GetOCR(cfg.Defaults.OCRProvider)
	if err != nil {
		return nil, fmt.Errorf("default OCR provider %q: %w", cfg.Defaults.OCRProvider, err)
	}

	rasterizer := opts.Rasterizer
	if rasterizer == nil {
		rasterizer = raster.NewRenderer(raster.RendererConfig{
			PDFToPPM: cfg.Raster.PDFToPPM,
			Logger:   logger,
		})
	}

	agg, err := pipeline.NewAggregator(pipeline.Config{
		Provider:    provider,
		Rasterizer:  rasterizer,
		Tiling:      cfg.TilingOptions(),
		Scale:       cfg.Raster.Scale,
		MaxWorkers:  cfg.Defaults.MaxWorkers,
		PageTimeout: cfg.PageTimeout(),
		Prompt:      cfg.Defaults.Prompt,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}

	s := &Services{
		Registry: registry,
		Config:   opts.Config,
		Logger:   logger,
		Home:     opts.Home,
	}

	store := opts.Store
	if store == nil {
		rfCfg := cfg.RAGFlowConfig()
		rfCfg.Logger = logger
		store = knowledge.NewRAGFlowClient(rfCfg)
	}

	locker, err := s.buildLocker(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}

	pubCfg := cfg.PublisherConfig()
	pubCfg.Store = store
	pubCfg.Locker = locker
	pubCfg.Logger = logger
	s.Publisher, err = knowledge.NewPublisher(pubCfg)
	if err != nil {
		s.Close()
		return nil, err
	}

	ledgerPath := cfg.Ledger.Path
	if ledgerPath == "" {
		ledgerPath = opts.Home.LedgerPath()
	}
	s.Ledger, err = ledger.Open(ledgerPath)
	if err != nil {
		s.Close()
		return nil, err
	}

	s.Pipeline, err = pipeline.NewService(pipeline.ServiceConfig{
		Aggregator: agg,
		Publisher:  s.Publisher,
		Ledger:     s.Ledger,
		Logger:     logger,
	})
	if err != nil {
		s.Close()
		return nil, err
	}

	logger.Info("services ready",
		"ocr_provider", provider.Name(),
		"knowledge_url", cfg.Knowledge.URL,
		"ledger", ledgerPath,
		"redis_lock", cfg.Redis.Addr != "")
	return s, nil
}

// buildLocker returns a Redis-backed locker when an address is configured,
// otherwise an in-process one.
func (s *Services) buildLocker(ctx context.Context, cfg config.RedisCfg) (knowledge.Locker, error) {
	if cfg.Addr == "" {
		return knowledge.NewLocalLocker(), nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: config.ResolveEnvVars(cfg.Password),
		DB:       cfg.DB,
	})
	locker := knowledge.NewRedisLocker(knowledge.RedisLockerConfig{
		Client: client,
		TTL:    time.Duration(cfg.LockTTLSeconds) * time.Second,
		Logger: s.Logger,
	})
	if err := locker.Ping(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis %s: %w", cfg.Addr, err)
	}
	s.redis = client
	return locker, nil
}

// OCRProvider returns the named provider from the registry, or the
// configured default when name is empty.
func (s *Services) OCRProvider(name string) (providers.OCRProvider, error) {
	if name == "" && s.Config != nil {
		name = s.Config.Get().Defaults.OCRProvider
	}
	return s.Registry.GetOCR(name)
}

// Close releases the ledger and Redis connections.
func (s *Services) Close() error {
	var errs []error
	if s.Ledger != nil {
		errs = append(errs, s.Ledger.Close())
	}
	if s.redis != nil {
		errs = append(errs, s.redis.Close())
	}
	return errors.Join(errs...)
}
