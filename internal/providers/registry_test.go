package providers

import (
	"sync"
	"testing"
)

func TestRegistry(t *testing.T) {
	t.Run("register and get OCR", func(t *testing.T) {
		r := NewRegistry()
		mock := NewMockOCRProvider()

		r.RegisterOCR("test-ocr", mock)

		provider, err := r.GetOCR("test-ocr")
		if err != nil {
			t.Fatalf("GetOCR() error = %v", err)
		}
		if provider != mock {
			t.Error("got different provider than registered")
		}
	})

	t.Run("get nonexistent OCR", func(t *testing.T) {
		r := NewRegistry()

		_, err := r.GetOCR("nonexistent")
		if err == nil {
			t.Error("expected error for nonexistent OCR")
		}
	})

	t.Run("list providers sorted", func(t *testing.T) {
		r := NewRegistry()
		r.RegisterOCR("ocr2", NewMockOCRProvider())
		r.RegisterOCR("ocr1", NewMockOCRProvider())

		list := r.ListOCR()
		if len(list) != 2 || list[0] != "ocr1" || list[1] != "ocr2" {
			t.Errorf("ListOCR() = %v, want [ocr1 ocr2]", list)
		}
	})

	t.Run("unregister", func(t *testing.T) {
		r := NewRegistry()
		r.RegisterOCR("my-ocr", NewMockOCRProvider())
		r.UnregisterOCR("my-ocr")
		if r.HasOCR("my-ocr") {
			t.Error("HasOCR() = true after unregister")
		}
	})

	t.Run("concurrent access", func(t *testing.T) {
		r := NewRegistry()

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(2)
			go func() {
				defer wg.Done()
				r.RegisterOCR("concurrent-ocr", NewMockOCRProvider())
			}()
			go func() {
				defer wg.Done()
				r.GetOCR("concurrent-ocr") // May fail, that's ok
			}()
		}
		wg.Wait()
	})
}

func TestNewRegistryFromConfig(t *testing.T) {
	t.Run("registers providers from config", func(t *testing.T) {
		r := NewRegistryFromConfig(RegistryConfig{
			OCRProviders: map[string]OCRProviderConfig{
				"internvl": {
					Type:    "internvl",
					URL:     "http://gpu-box:8000",
					Enabled: true,
				},
				"vision": {
					Type:    "openai",
					Model:   "gpt-4o-mini",
					APIKey:  "test-openai-key",
					Enabled: true,
				},
				"local": {
					Type:    "tesseract",
					Enabled: true,
				},
			},
		}, nil)

		for _, name := range []string{"internvl", "vision", "local"} {
			if !r.HasOCR(name) {
				t.Errorf("expected %s to be registered", name)
			}
		}

		p, _ := r.GetOCR("internvl")
		limited, ok := p.(*Limited)
		if !ok {
			t.Fatalf("expected *Limited, got %T", p)
		}
		client, ok := limited.Unwrap().(*InternVLClient)
		if !ok {
			t.Fatalf("expected *InternVLClient, got %T", limited.Unwrap())
		}
		if client.baseURL != "http://gpu-box:8000" {
			t.Errorf("baseURL = %s", client.baseURL)
		}
	})

	t.Run("skips disabled providers", func(t *testing.T) {
		r := NewRegistryFromConfig(RegistryConfig{
			OCRProviders: map[string]OCRProviderConfig{
				"internvl": {Type: "internvl", Enabled: false},
			},
		}, nil)
		if r.HasOCR("internvl") {
			t.Error("disabled provider should not be registered")
		}
	})

	t.Run("skips openai without API key", func(t *testing.T) {
		r := NewRegistryFromConfig(RegistryConfig{
			OCRProviders: map[string]OCRProviderConfig{
				"vision": {Type: "openai", Enabled: true},
			},
		}, nil)
		if r.HasOCR("vision") {
			t.Error("provider without API key should not be registered")
		}
	})

	t.Run("skips unknown types", func(t *testing.T) {
		r := NewRegistryFromConfig(RegistryConfig{
			OCRProviders: map[string]OCRProviderConfig{
				"paddle": {Type: "paddle", Enabled: true},
			},
		}, nil)
		if r.HasOCR("paddle") {
			t.Error("unknown provider type should not be registered")
		}
	})
}

func TestRegistry_Reload(t *testing.T) {
	t.Run("adds new providers on reload", func(t *testing.T) {
		r := NewRegistryFromConfig(RegistryConfig{}, nil)
		r.Reload(RegistryConfig{
			OCRProviders: map[string]OCRProviderConfig{
				"mock": {Type: "mock", Enabled: true},
			},
		})
		if !r.HasOCR("mock") {
			t.Error("expected mock to be registered after reload")
		}
	})

	t.Run("removes providers no longer configured", func(t *testing.T) {
		r := NewRegistryFromConfig(RegistryConfig{
			OCRProviders: map[string]OCRProviderConfig{
				"mock": {Type: "mock", Enabled: true},
			},
		}, nil)
		r.Reload(RegistryConfig{})
		if r.HasOCR("mock") {
			t.Error("expected mock to be removed after reload")
		}
	})

	t.Run("keeps directly registered providers", func(t *testing.T) {
		r := NewRegistry()
		r.RegisterOCR("manual", NewMockOCRProvider())
		r.Reload(RegistryConfig{})
		if !r.HasOCR("manual") {
			t.Error("directly registered provider should survive reload")
		}
	})

	t.Run("keeps unchanged instances", func(t *testing.T) {
		cfg := RegistryConfig{
			OCRProviders: map[string]OCRProviderConfig{
				"internvl": {Type: "internvl", URL: "http://a:8000", Enabled: true},
			},
		}
		r := NewRegistryFromConfig(cfg, nil)
		before, _ := r.GetOCR("internvl")
		r.Reload(cfg)
		after, _ := r.GetOCR("internvl")
		if before != after {
			t.Error("unchanged provider should not be recreated")
		}
	})

	t.Run("recreates changed providers", func(t *testing.T) {
		r := NewRegistryFromConfig(RegistryConfig{
			OCRProviders: map[string]OCRProviderConfig{
				"internvl": {Type: "internvl", URL: "http://a:8000", Enabled: true},
			},
		}, nil)
		before, _ := r.GetOCR("internvl")
		r.Reload(RegistryConfig{
			OCRProviders: map[string]OCRProviderConfig{
				"internvl": {Type: "internvl", URL: "http://b:8000", Enabled: true},
			},
		})
		after, _ := r.GetOCR("internvl")
		if before == after {
			t.Error("changed provider should be recreated")
		}
	})
}
