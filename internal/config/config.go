package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"

	"github.com/jackzampolin/ragscan/internal/providers"
)

// EnvPrefix namespaces environment overrides, e.g. RAGSCAN_KNOWLEDGE_API_KEY.
const EnvPrefix = "RAGSCAN"

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Manager handles loading and hot-reloading configuration.
type Manager struct {
	v         *viper.Viper
	mu        sync.RWMutex
	config    *Config
	callbacks []func(*Config)
}

// NewManager creates a new config manager and loads initial config.
func NewManager(cfgFile string) (*Manager, error) {
	cm := &Manager{
		v:         viper.New(),
		callbacks: make([]func(*Config), 0),
	}

	if err := cm.initViper(cfgFile); err != nil {
		return nil, err
	}

	cfg, err := cm.load()
	if err != nil {
		return nil, err
	}
	cm.config = cfg

	return cm, nil
}

// initViper sets up viper with defaults and config file.
func (cm *Manager) initViper(cfgFile string) error {
	v := cm.v
	setDefaults(v, DefaultConfig())

	// Environment variables with RAGSCAN_ prefix; nested keys use underscores.
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.ragscan")
	}

	// Config file is optional
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	return nil
}

// setDefaults registers leaf keys so every value can be overridden from the
// environment. Provider maps are registered whole.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("ocr_providers", d.OCRProviders)
	v.SetDefault("log_level", d.LogLevel)

	v.SetDefault("defaults.ocr_provider", d.Defaults.OCRProvider)
	v.SetDefault("defaults.prompt", d.Defaults.Prompt)
	v.SetDefault("defaults.max_workers", d.Defaults.MaxWorkers)
	v.SetDefault("defaults.page_timeout_seconds", d.Defaults.PageTimeoutSeconds)

	v.SetDefault("tiling.tile_size", d.Tiling.TileSize)
	v.SetDefault("tiling.max_tiles", d.Tiling.MaxTiles)
	v.SetDefault("tiling.use_thumbnail", d.Tiling.UseThumbnail)

	v.SetDefault("raster.scale", d.Raster.Scale)
	v.SetDefault("raster.pdftoppm", d.Raster.PDFToPPM)

	v.SetDefault("knowledge.url", d.Knowledge.URL)
	v.SetDefault("knowledge.api_key", d.Knowledge.APIKey)
	v.SetDefault("knowledge.timeout_seconds", d.Knowledge.TimeoutSeconds)
	v.SetDefault("knowledge.dataset", d.Knowledge.Dataset)
	v.SetDefault("knowledge.chunk_method", d.Knowledge.ChunkMethod)
	v.SetDefault("knowledge.embedding_model", d.Knowledge.EmbeddingModel)
	v.SetDefault("knowledge.poll_attempts", d.Knowledge.PollAttempts)
	v.SetDefault("knowledge.poll_interval_seconds", d.Knowledge.PollIntervalSeconds)

	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("redis.lock_ttl_seconds", d.Redis.LockTTLSeconds)

	v.SetDefault("ledger.path", d.Ledger.Path)
}

// load parses the current viper state into a Config struct.
func (cm *Manager) load() (*Config, error) {
	var cfg Config
	if err := cm.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Get returns the current configuration (thread-safe).
func (cm *Manager) Get() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.config
}

// ConfigFile returns the file the configuration was read from, if any.
func (cm *Manager) ConfigFile() string {
	return cm.v.ConfigFileUsed()
}

// OnChange registers a callback for config changes.
func (cm *Manager) OnChange(fn func(*Config)) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.callbacks = append(cm.callbacks, fn)
}

// WatchConfig enables hot-reloading of configuration. Invalid edits are
// ignored and the previous configuration stays active.
func (cm *Manager) WatchConfig() {
	cm.v.OnConfigChange(func(e fsnotify.Event) {
		cm.reload()
	})
	cm.v.WatchConfig()
}

func (cm *Manager) reload() {
	cfg, err := cm.load()
	if err != nil {
		return
	}

	cm.mu.Lock()
	cm.config = cfg
	callbacks := make([]func(*Config), len(cm.callbacks))
	copy(callbacks, cm.callbacks)
	cm.mu.Unlock()

	for _, fn := range callbacks {
		fn(cfg)
	}
}

// ResolveEnvVars expands ${ENV_VAR} references in a string.
func ResolveEnvVars(value string) string {
	if value == "" {
		return value
	}
	return envVarPattern.ReplaceAllStringFunc(value, func(match string) string {
		varName := match[2 : len(match)-1]
		return os.Getenv(varName)
	})
}

// ToProviderRegistryConfig converts the config to a format suitable for providers.Registry.
// It resolves all ${ENV_VAR} references in API keys.
func (c *Config) ToProviderRegistryConfig() providers.RegistryConfig {
	cfg := providers.RegistryConfig{
		OCRProviders: make(map[string]providers.OCRProviderConfig),
	}

	for name, ocr := range c.OCRProviders {
		cfg.OCRProviders[name] = providers.OCRProviderConfig{
			Type:       ocr.Type,
			URL:        ocr.URL,
			Model:      ocr.Model,
			APIKey:     ResolveEnvVars(ocr.APIKey),
			Languages:  ocr.Languages,
			RateLimit:  ocr.RateLimit,
			Timeout:    time.Duration(ocr.TimeoutSeconds) * time.Second,
			MaxRetries: ocr.MaxRetries,
			Enabled:    ocr.Enabled,
		}
	}

	return cfg
}

// WriteDefault writes the default configuration to the specified path.
func WriteDefault(path string) error {
	cfg := DefaultConfig()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# ragscan configuration
# Secrets use ${ENV_VAR} syntax to reference environment variables
# Set these in your shell: export RAGFLOW_API_KEY=xxx OPENAI_API_KEY=xxx
# Any key can also be overridden directly, e.g. RAGSCAN_KNOWLEDGE_DATASET=manuals

`)
	return os.WriteFile(path, append(header, data...), 0o644)
}
