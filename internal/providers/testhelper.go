package providers

import (
	"os"
)

// TestConfig holds live backend settings loaded from environment variables.
// This allows tests to use the same configuration pattern as production.
type TestConfig struct {
	InternVLURL  string
	OpenAIAPIKey string
	OpenAIModel  string
}

// LoadTestConfig loads backend settings from environment variables.
// Returns a TestConfig with whatever values are available.
func LoadTestConfig() TestConfig {
	return TestConfig{
		InternVLURL:  os.Getenv("INTERNVL_URL"),
		OpenAIAPIKey: os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:  os.Getenv("OPENAI_VISION_MODEL"),
	}
}

// HasInternVL returns true if an InternVL service URL is configured.
func (c TestConfig) HasInternVL() bool {
	return c.InternVLURL != ""
}

// HasOpenAI returns true if an OpenAI API key is configured.
func (c TestConfig) HasOpenAI() bool {
	return c.OpenAIAPIKey != ""
}

// NewInternVLClient creates an InternVL client from test config.
// Returns nil if not configured.
func (c TestConfig) NewInternVLClient() *InternVLClient {
	if !c.HasInternVL() {
		return nil
	}
	return NewInternVLClient(InternVLConfig{BaseURL: c.InternVLURL})
}

// NewOpenAIVisionClient creates an OpenAI vision client from test config.
// Returns nil if not configured.
func (c TestConfig) NewOpenAIVisionClient() *OpenAIVisionClient {
	if !c.HasOpenAI() {
		return nil
	}
	return NewOpenAIVisionClient(OpenAIVisionConfig{
		APIKey: c.OpenAIAPIKey,
		Model:  c.OpenAIModel,
	})
}
