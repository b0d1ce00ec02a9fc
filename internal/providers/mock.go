package providers

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const MockOCRName = "mock"

// MockOCRProvider is an OCRProvider for testing and offline runs.
type MockOCRProvider struct {
	ProviderName string
	Latency      time.Duration
	ShouldFail   bool
	FailAfter    int          // Fail after N requests (0 = never)
	FailPages    map[int]bool // 0-based page indexes that always fail
	ResponseText string
	Confidence   *float64
	Findings     Findings
	Unhealthy    bool
	RPS          float64
	Retries      int
	RetryDelay   time.Duration

	// Respond, when set, replaces the canned response.
	Respond func(req *OCRRequest) (*OCRResult, error)

	requestCount atomic.Int64

	mu    sync.Mutex
	pages []int
}

// NewMockOCRProvider creates a new mock OCR provider.
func NewMockOCRProvider() *MockOCRProvider {
	return &MockOCRProvider{
		ProviderName: MockOCRName,
		Latency:      10 * time.Millisecond,
		ResponseText: "mock OCR text",
	}
}

// Name returns the provider identifier.
func (p *MockOCRProvider) Name() string {
	return p.ProviderName
}

// RequestsPerSecond returns the rate limit.
func (p *MockOCRProvider) RequestsPerSecond() float64 {
	return p.RPS
}

// MaxRetries returns the max retry count.
func (p *MockOCRProvider) MaxRetries() int {
	return p.Retries
}

// RetryDelayBase returns the base retry delay.
func (p *MockOCRProvider) RetryDelayBase() time.Duration {
	return p.RetryDelay
}

// Recognize returns a canned result for the page.
func (p *MockOCRProvider) Recognize(ctx context.Context, req *OCRRequest) (*OCRResult, error) {
	start := time.Now()
	count := p.requestCount.Add(1)

	p.mu.Lock()
	p.pages = append(p.pages, req.PageIndex)
	p.mu.Unlock()

	result := &OCRResult{Provider: p.ProviderName}

	// Check if we should fail
	var failErr error
	switch {
	case p.ShouldFail:
		failErr = fmt.Errorf("mock OCR provider configured to fail")
	case p.FailAfter > 0 && int(count) > p.FailAfter:
		failErr = fmt.Errorf("mock OCR provider failed after %d requests", p.FailAfter)
	case p.FailPages[req.PageIndex]:
		failErr = fmt.Errorf("mock OCR provider failed on page %d", req.PageIndex+1)
	}
	if failErr != nil {
		result.ErrorMessage = failErr.Error()
		result.ProcessingTime = time.Since(start)
		return result, failErr
	}

	// Simulate latency
	if p.Latency > 0 {
		select {
		case <-time.After(p.Latency):
		case <-ctx.Done():
			result.ErrorMessage = ctx.Err().Error()
			result.ProcessingTime = time.Since(start)
			return result, ctx.Err()
		}
	}

	if p.Respond != nil {
		return p.Respond(req)
	}

	result.Success = true
	result.Text = fmt.Sprintf("Page %d: %s", req.PageIndex+1, p.ResponseText)
	result.Confidence = p.Confidence
	result.Findings = p.Findings
	result.Model = "mock"
	result.ProcessingTime = time.Since(start)
	return result, nil
}

// Health reports the configured availability.
func (p *MockOCRProvider) Health(ctx context.Context) HealthStatus {
	if p.Unhealthy {
		return HealthStatus{Provider: p.ProviderName, Message: "mock OCR provider configured unhealthy"}
	}
	return HealthStatus{Available: true, Provider: p.ProviderName, Model: "mock", Device: "none"}
}

// RequestCount returns the number of requests made.
func (p *MockOCRProvider) RequestCount() int64 {
	return p.requestCount.Load()
}

// Pages returns the page indexes requested, in call order.
func (p *MockOCRProvider) Pages() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]int, len(p.pages))
	copy(out, p.pages)
	return out
}

// Reset resets the request counter.
func (p *MockOCRProvider) Reset() {
	p.requestCount.Store(0)
	p.mu.Lock()
	p.pages = nil
	p.mu.Unlock()
}

// Verify interface
var _ OCRProvider = (*MockOCRProvider)(nil)
