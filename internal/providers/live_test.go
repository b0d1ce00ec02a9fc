package providers

import (
	"context"
	"testing"
	"time"
)

func TestLiveBackends(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping live backend tests in short mode")
	}
	cfg := LoadTestConfig()

	t.Run("internvl", func(t *testing.T) {
		client := cfg.NewInternVLClient()
		if client == nil {
			t.Skip("INTERNVL_URL not set")
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		if h := client.Health(ctx); !h.Available {
			t.Skipf("InternVL not ready: %s", h.Message)
		}
		result, err := client.Recognize(ctx, testRequest(t))
		if err != nil {
			t.Fatalf("Recognize() error = %v", err)
		}
		t.Logf("text=%q confidence=%v time=%v", result.Text, result.Confidence, result.ProcessingTime)
	})

	t.Run("openai", func(t *testing.T) {
		client := cfg.NewOpenAIVisionClient()
		if client == nil {
			t.Skip("OPENAI_API_KEY not set")
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		result, err := client.Recognize(ctx, testRequest(t))
		if err != nil {
			t.Fatalf("Recognize() error = %v", err)
		}
		t.Logf("text=%q model=%s", result.Text, result.Model)
	})
}
