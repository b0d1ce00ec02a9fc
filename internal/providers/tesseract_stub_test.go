//go:build !tesseract

package providers

import (
	"context"
	"errors"
	"testing"
)

func TestTesseractStub(t *testing.T) {
	c := NewTesseractClient(TesseractConfig{})
	ctx := context.Background()

	t.Run("health unavailable", func(t *testing.T) {
		h := c.Health(ctx)
		if h.Available {
			t.Error("Health().Available = true, want false")
		}
		if h.Provider != TesseractName || h.Message == "" {
			t.Errorf("Health() = %+v", h)
		}
	})

	t.Run("recognize fails", func(t *testing.T) {
		res, err := c.Recognize(ctx, &OCRRequest{})
		if !errors.Is(err, ErrTesseractNotEnabled) {
			t.Fatalf("Recognize() error = %v, want ErrTesseractNotEnabled", err)
		}
		if res == nil || res.Success {
			t.Errorf("Recognize() result = %+v, want failed result", res)
		}
	})

	t.Run("defaults", func(t *testing.T) {
		if c.RequestsPerSecond() != 4.0 {
			t.Errorf("RequestsPerSecond() = %v, want 4", c.RequestsPerSecond())
		}
		if c.MaxRetries() != 0 {
			t.Errorf("MaxRetries() = %d, want 0", c.MaxRetries())
		}
	})
}
