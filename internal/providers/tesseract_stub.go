//go:build !tesseract

package providers

import (
	"context"
	"time"
)

// TesseractClient stands in for the Tesseract backend in builds without
// the tesseract tag. It reports itself unavailable and fails every page.
type TesseractClient struct {
	rateLimit float64
}

// NewTesseractClient returns a provider that reports tesseract as not built in.
func NewTesseractClient(cfg TesseractConfig) *TesseractClient {
	cfg = cfg.withDefaults()
	return &TesseractClient{rateLimit: cfg.RateLimit}
}

// Name returns the provider identifier.
func (c *TesseractClient) Name() string {
	return TesseractName
}

// RequestsPerSecond returns the rate limit.
func (c *TesseractClient) RequestsPerSecond() float64 {
	return c.rateLimit
}

// MaxRetries returns 0.
func (c *TesseractClient) MaxRetries() int {
	return 0
}

// RetryDelayBase returns 0.
func (c *TesseractClient) RetryDelayBase() time.Duration {
	return 0
}

// Recognize always fails with ErrTesseractNotEnabled.
func (c *TesseractClient) Recognize(ctx context.Context, req *OCRRequest) (*OCRResult, error) {
	return &OCRResult{
		Success:      false,
		Provider:     TesseractName,
		ErrorMessage: ErrTesseractNotEnabled.Error(),
	}, ErrTesseractNotEnabled
}

// Health reports the provider as unavailable.
func (c *TesseractClient) Health(ctx context.Context) HealthStatus {
	return HealthStatus{Provider: TesseractName, Message: ErrTesseractNotEnabled.Error()}
}

// Verify interface
var _ OCRProvider = (*TesseractClient)(nil)
