package providers

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Registry holds the configured OCR providers.
// It supports config-driven instantiation, hot-reload, and provides thread-safe access.
type Registry struct {
	mu           sync.RWMutex
	ocrProviders map[string]OCRProvider
	configs      map[string]OCRProviderConfig
	logger       *slog.Logger
}

// NewRegistry creates a new empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		ocrProviders: make(map[string]OCRProvider),
		configs:      make(map[string]OCRProviderConfig),
		logger:       slog.Default(),
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger *slog.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger = logger
}

// RegisterOCR registers an OCR provider by name.
func (r *Registry) RegisterOCR(name string, provider OCRProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ocrProviders[name] = provider
	delete(r.configs, name)
	if r.logger != nil {
		r.logger.Info("registered OCR provider", "name", name)
	}
}

// UnregisterOCR removes an OCR provider by name.
func (r *Registry) UnregisterOCR(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.ocrProviders, name)
	delete(r.configs, name)
	if r.logger != nil {
		r.logger.Info("unregistered OCR provider", "name", name)
	}
}

// GetOCR returns an OCR provider by name.
func (r *Registry) GetOCR(name string) (OCRProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	provider, ok := r.ocrProviders[name]
	if !ok {
		return nil, fmt.Errorf("OCR provider not found: %s", name)
	}
	return provider, nil
}

// ListOCR returns all registered OCR provider names, sorted.
func (r *Registry) ListOCR() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.ocrProviders))
	for name := range r.ocrProviders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasOCR checks if an OCR provider is registered.
func (r *Registry) HasOCR(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.ocrProviders[name]
	return ok
}

// OCRProviders returns a map of all registered OCR providers.
func (r *Registry) OCRProviders() map[string]OCRProvider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make(map[string]OCRProvider, len(r.ocrProviders))
	for name, provider := range r.ocrProviders {
		result[name] = provider
	}
	return result
}

// RegistryConfig defines the providers to instantiate from config.
// This mirrors the config.Config structure for provider setup.
type RegistryConfig struct {
	OCRProviders map[string]OCRProviderConfig
}

// OCRProviderConfig matches config.OCRProviderCfg with resolved secrets.
type OCRProviderConfig struct {
	Type       string        // "internvl", "openai", "tesseract", "mock"
	URL        string        // Base URL (internvl, openai-compatible)
	Model      string        // Model name
	APIKey     string        // Resolved API key
	Languages  []string      // Tesseract languages
	RateLimit  float64       // Requests per second
	Timeout    time.Duration // Per-request HTTP timeout
	MaxRetries int
	Enabled    bool
}

// requiresAPIKey reports whether a provider type cannot run without a key.
func (c OCRProviderConfig) requiresAPIKey() bool {
	return c.Type == OpenAIVisionName
}

func (c OCRProviderConfig) usable() bool {
	return c.Enabled && (!c.requiresAPIKey() || c.APIKey != "")
}

// NewRegistryFromConfig creates a registry with providers based on configuration.
// Only enabled providers with their required credentials will be registered.
func NewRegistryFromConfig(cfg RegistryConfig, logger *slog.Logger) *Registry {
	r := NewRegistry()
	if logger != nil {
		r.logger = logger
	}
	r.Reload(cfg)
	return r
}

// Reload updates the registry based on new configuration.
// Providers that are no longer configured will be unregistered.
// Providers with changed settings will be re-registered.
func (r *Registry) Reload(cfg RegistryConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	want := make(map[string]bool)

	for name, provCfg := range cfg.OCRProviders {
		if !provCfg.usable() {
			continue
		}
		want[name] = true

		existing, hasExisting := r.configs[name]
		if hasExisting && !needsOCRUpdate(existing, provCfg) {
			continue
		}
		provider := createOCRProvider(provCfg, r.logger)
		if provider == nil {
			if r.logger != nil {
				r.logger.Warn("unknown OCR provider type", "name", name, "type", provCfg.Type)
			}
			delete(want, name)
			continue
		}
		r.ocrProviders[name] = provider
		r.configs[name] = provCfg
		if r.logger != nil {
			if hasExisting {
				r.logger.Info("updated OCR provider", "name", name, "type", provCfg.Type)
			} else {
				r.logger.Info("registered OCR provider", "name", name, "type", provCfg.Type)
			}
		}
	}

	// Remove config-driven providers that are no longer configured.
	// Providers registered directly via RegisterOCR are left alone.
	for name := range r.configs {
		if !want[name] {
			delete(r.ocrProviders, name)
			delete(r.configs, name)
			if r.logger != nil {
				r.logger.Info("unregistered OCR provider", "name", name)
			}
		}
	}
}

// createOCRProvider creates a rate-limited OCR provider based on provider type.
func createOCRProvider(cfg OCRProviderConfig, logger *slog.Logger) OCRProvider {
	var p OCRProvider
	switch cfg.Type {
	case InternVLName:
		p = NewInternVLClient(InternVLConfig{
			BaseURL:    cfg.URL,
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			Timeout:    cfg.Timeout,
			RateLimit:  cfg.RateLimit,
			MaxRetries: cfg.MaxRetries,
		})
	case OpenAIVisionName:
		p = NewOpenAIVisionClient(OpenAIVisionConfig{
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			BaseURL:    cfg.URL,
			Timeout:    cfg.Timeout,
			RateLimit:  cfg.RateLimit,
			MaxRetries: cfg.MaxRetries,
		})
	case TesseractName:
		p = NewTesseractClient(TesseractConfig{
			Languages: cfg.Languages,
			RateLimit: cfg.RateLimit,
		})
	case MockOCRName:
		p = NewMockOCRProvider()
	default:
		return nil
	}
	return NewLimited(p, logger)
}

// needsOCRUpdate checks if a provider needs to be recreated.
func needsOCRUpdate(old, cfg OCRProviderConfig) bool {
	if old.Type != cfg.Type ||
		old.URL != cfg.URL ||
		old.Model != cfg.Model ||
		old.APIKey != cfg.APIKey ||
		old.RateLimit != cfg.RateLimit ||
		old.Timeout != cfg.Timeout ||
		old.MaxRetries != cfg.MaxRetries {
		return true
	}
	if len(old.Languages) != len(cfg.Languages) {
		return true
	}
	for i := range old.Languages {
		if old.Languages[i] != cfg.Languages[i] {
			return true
		}
	}
	return false
}
