package config

import (
	"fmt"
	"time"

	"github.com/jackzampolin/ragscan/internal/knowledge"
	"github.com/jackzampolin/ragscan/internal/providers"
	"github.com/jackzampolin/ragscan/internal/raster"
	"github.com/jackzampolin/ragscan/internal/tiling"
)

// Config holds ragscan configuration.
// Stored at: $HOME/.ragscan/config.yaml
type Config struct {
	OCRProviders map[string]OCRProviderCfg `mapstructure:"ocr_providers" yaml:"ocr_providers"`
	Defaults     DefaultsCfg               `mapstructure:"defaults" yaml:"defaults"`
	Tiling       TilingCfg                 `mapstructure:"tiling" yaml:"tiling"`
	Raster       RasterCfg                 `mapstructure:"raster" yaml:"raster"`
	Knowledge    KnowledgeCfg              `mapstructure:"knowledge" yaml:"knowledge"`
	Redis        RedisCfg                  `mapstructure:"redis" yaml:"redis"`
	Ledger       LedgerCfg                 `mapstructure:"ledger" yaml:"ledger"`
	LogLevel     string                    `mapstructure:"log_level" yaml:"log_level"`
}

// OCRProviderCfg configures an OCR backend.
type OCRProviderCfg struct {
	Type           string   `mapstructure:"type" yaml:"type"`                       // "internvl", "openai", "tesseract", "mock"
	URL            string   `mapstructure:"url" yaml:"url,omitempty"`               // Service or API base URL
	Model          string   `mapstructure:"model" yaml:"model,omitempty"`           // Model name
	APIKey         string   `mapstructure:"api_key" yaml:"api_key,omitempty"`       // API key (supports ${ENV_VAR} syntax)
	Languages      []string `mapstructure:"languages" yaml:"languages,omitempty"`   // Tesseract languages
	RateLimit      float64  `mapstructure:"rate_limit" yaml:"rate_limit"`           // Requests per second
	TimeoutSeconds int      `mapstructure:"timeout_seconds" yaml:"timeout_seconds"` // Per-request timeout
	MaxRetries     int      `mapstructure:"max_retries" yaml:"max_retries"`
	Enabled        bool     `mapstructure:"enabled" yaml:"enabled"`
}

// DefaultsCfg specifies default selections for a run.
type DefaultsCfg struct {
	OCRProvider        string `mapstructure:"ocr_provider" yaml:"ocr_provider"`
	Prompt             string `mapstructure:"prompt" yaml:"prompt"` // Preset name or literal prompt; empty = default
	MaxWorkers         int    `mapstructure:"max_workers" yaml:"max_workers"`
	PageTimeoutSeconds int    `mapstructure:"page_timeout_seconds" yaml:"page_timeout_seconds"`
}

// TilingCfg controls how pages are cut into model tiles.
type TilingCfg struct {
	TileSize     int  `mapstructure:"tile_size" yaml:"tile_size"`
	MaxTiles     int  `mapstructure:"max_tiles" yaml:"max_tiles"`
	UseThumbnail bool `mapstructure:"use_thumbnail" yaml:"use_thumbnail"`
}

// RasterCfg controls page rendering.
type RasterCfg struct {
	Scale    float64 `mapstructure:"scale" yaml:"scale"`
	PDFToPPM string  `mapstructure:"pdftoppm" yaml:"pdftoppm"`
}

// KnowledgeCfg configures the knowledge-base service.
type KnowledgeCfg struct {
	URL                 string `mapstructure:"url" yaml:"url"`
	APIKey              string `mapstructure:"api_key" yaml:"api_key"`
	TimeoutSeconds      int    `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
	Dataset             string `mapstructure:"dataset" yaml:"dataset"`
	ChunkMethod         string `mapstructure:"chunk_method" yaml:"chunk_method"`
	EmbeddingModel      string `mapstructure:"embedding_model" yaml:"embedding_model"`
	PollAttempts        int    `mapstructure:"poll_attempts" yaml:"poll_attempts"`
	PollIntervalSeconds int    `mapstructure:"poll_interval_seconds" yaml:"poll_interval_seconds"`
}

// RedisCfg configures the cross-process dataset lock. An empty Addr
// keeps locking in-process.
type RedisCfg struct {
	Addr           string `mapstructure:"addr" yaml:"addr"`
	Password       string `mapstructure:"password" yaml:"password"`
	DB             int    `mapstructure:"db" yaml:"db"`
	LockTTLSeconds int    `mapstructure:"lock_ttl_seconds" yaml:"lock_ttl_seconds"`
}

// LedgerCfg locates the publication ledger. An empty Path uses the home directory.
type LedgerCfg struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		OCRProviders: map[string]OCRProviderCfg{
			providers.InternVLName: {
				Type:           providers.InternVLName,
				URL:            providers.InternVLBaseURL,
				Model:          providers.InternVLModel,
				RateLimit:      2.0,
				TimeoutSeconds: 300,
				MaxRetries:     2,
				Enabled:        true,
			},
			providers.OpenAIVisionName: {
				Type:           providers.OpenAIVisionName,
				Model:          "gpt-4o-mini",
				APIKey:         "${OPENAI_API_KEY}",
				RateLimit:      1.0,
				TimeoutSeconds: 120,
				MaxRetries:     2,
				Enabled:        true,
			},
			providers.TesseractName: {
				Type:      providers.TesseractName,
				Languages: []string{"chi_sim", "eng"},
				Enabled:   false,
			},
		},
		Defaults: DefaultsCfg{
			OCRProvider:        providers.InternVLName,
			MaxWorkers:         4,
			PageTimeoutSeconds: 300,
		},
		Tiling: TilingCfg{
			TileSize:     tiling.DefaultTileSize,
			MaxTiles:     tiling.DefaultMaxTiles,
			UseThumbnail: true,
		},
		Raster: RasterCfg{
			Scale:    raster.DefaultScale,
			PDFToPPM: raster.DefaultPDFToPPM,
		},
		Knowledge: KnowledgeCfg{
			URL:                 knowledge.DefaultRAGFlowURL,
			APIKey:              "${RAGFLOW_API_KEY}",
			TimeoutSeconds:      60,
			Dataset:             "engineering_docs",
			ChunkMethod:         knowledge.DefaultChunkMethod,
			EmbeddingModel:      knowledge.DefaultEmbeddingModel,
			PollAttempts:        knowledge.DefaultPollAttempts,
			PollIntervalSeconds: 2,
		},
		Redis: RedisCfg{
			LockTTLSeconds: 30,
		},
		LogLevel: "info",
	}
}

// Validate rejects configuration that cannot start a pipeline.
func (c *Config) Validate() error {
	if err := c.TilingOptions().Validate(); err != nil {
		return err
	}
	if c.Raster.Scale < 0 {
		return fmt.Errorf("raster.scale must not be negative, got %v", c.Raster.Scale)
	}
	if c.Defaults.MaxWorkers < 0 {
		return fmt.Errorf("defaults.max_workers must not be negative, got %d", c.Defaults.MaxWorkers)
	}
	for name, p := range c.OCRProviders {
		if p.MaxRetries < 0 {
			return fmt.Errorf("ocr_providers.%s.max_retries must not be negative, got %d", name, p.MaxRetries)
		}
	}
	return nil
}

// TilingOptions converts the tiling section.
func (c *Config) TilingOptions() tiling.Options {
	return tiling.Options{
		TileSize:     c.Tiling.TileSize,
		MaxTiles:     c.Tiling.MaxTiles,
		UseThumbnail: c.Tiling.UseThumbnail,
	}
}

// PageTimeout returns the per-page OCR deadline.
func (c *Config) PageTimeout() time.Duration {
	return time.Duration(c.Defaults.PageTimeoutSeconds) * time.Second
}

// GetOCRProvider returns an OCR provider config by name.
func (c *Config) GetOCRProvider(name string) (OCRProviderCfg, bool) {
	cfg, ok := c.OCRProviders[name]
	return cfg, ok
}

// EnabledOCRProviders returns all enabled OCR providers.
func (c *Config) EnabledOCRProviders() map[string]OCRProviderCfg {
	result := make(map[string]OCRProviderCfg)
	for name, cfg := range c.OCRProviders {
		if cfg.Enabled {
			result[name] = cfg
		}
	}
	return result
}

// RAGFlowConfig builds the knowledge store client settings with secrets resolved.
func (c *Config) RAGFlowConfig() knowledge.RAGFlowConfig {
	return knowledge.RAGFlowConfig{
		BaseURL: c.Knowledge.URL,
		APIKey:  ResolveEnvVars(c.Knowledge.APIKey),
		Timeout: time.Duration(c.Knowledge.TimeoutSeconds) * time.Second,
	}
}

// PublisherConfig builds publisher settings. Store, Locker and Logger are
// left for the caller.
func (c *Config) PublisherConfig() knowledge.PublisherConfig {
	return knowledge.PublisherConfig{
		ChunkMethod:    c.Knowledge.ChunkMethod,
		EmbeddingModel: c.Knowledge.EmbeddingModel,
		PollAttempts:   c.Knowledge.PollAttempts,
		PollInterval:   time.Duration(c.Knowledge.PollIntervalSeconds) * time.Second,
	}
}
