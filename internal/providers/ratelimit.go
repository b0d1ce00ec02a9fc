package providers

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/avast/retry-go/v4"
	"golang.org/x/time/rate"
)

// Limited wraps an OCRProvider with request pacing and retries, using the
// provider's own RequestsPerSecond/MaxRetries/RetryDelayBase properties.
type Limited struct {
	OCRProvider

	limiter *rate.Limiter
	logger  *slog.Logger

	// Statistics
	totalCalls   atomic.Int64
	totalRetries atomic.Int64
}

// LimiterStatus reports decorator statistics.
type LimiterStatus struct {
	Provider          string  `json:"provider"`
	RequestsPerSecond float64 `json:"requests_per_second"`
	TokensAvailable   float64 `json:"tokens_available"`
	TotalCalls        int64   `json:"total_calls"`
	TotalRetries      int64   `json:"total_retries"`
}

// NewLimited wraps p. A non-positive rate disables pacing.
func NewLimited(p OCRProvider, logger *slog.Logger) *Limited {
	if logger == nil {
		logger = slog.Default()
	}
	limit := rate.Inf
	if rps := p.RequestsPerSecond(); rps > 0 {
		limit = rate.Limit(rps)
	}
	return &Limited{
		OCRProvider: p,
		limiter:     rate.NewLimiter(limit, 1),
		logger:      logger.With("provider", p.Name()),
	}
}

// Recognize waits for a token, then calls the wrapped provider, retrying
// failed attempts with exponential backoff until the context is done.
func (l *Limited) Recognize(ctx context.Context, req *OCRRequest) (*OCRResult, error) {
	l.totalCalls.Add(1)

	var (
		result   *OCRResult
		attempts int
	)
	err := retry.Do(
		func() error {
			if err := l.limiter.Wait(ctx); err != nil {
				return retry.Unrecoverable(err)
			}
			attempts++
			r, err := l.OCRProvider.Recognize(ctx, req)
			result = r
			return err
		},
		retry.Context(ctx),
		retry.Attempts(l.attempts()),
		retry.Delay(l.RetryDelayBase()),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(error) bool { return ctx.Err() == nil }),
		retry.OnRetry(func(n uint, err error) {
			l.totalRetries.Add(1)
			l.logger.Warn("OCR attempt failed, retrying", "page", req.PageIndex+1, "attempt", n+1, "error", err)
		}),
	)
	if result != nil {
		result.Attempts = attempts
	}
	return result, err
}

// attempts is the total try count. retry-go treats zero as unlimited, so a
// negative MaxRetries still yields one attempt.
func (l *Limited) attempts() uint {
	return uint(max(l.MaxRetries(), 0)) + 1
}

// Unwrap returns the wrapped provider.
func (l *Limited) Unwrap() OCRProvider {
	return l.OCRProvider
}

// Status returns current limiter statistics.
func (l *Limited) Status() LimiterStatus {
	s := LimiterStatus{
		Provider:     l.Name(),
		TotalCalls:   l.totalCalls.Load(),
		TotalRetries: l.totalRetries.Load(),
	}
	// Unpaced limiters report zeros; Inf does not marshal.
	if l.limiter.Limit() != rate.Inf {
		s.RequestsPerSecond = float64(l.limiter.Limit())
		s.TokensAvailable = l.limiter.Tokens()
	}
	return s
}

// Verify interface
var _ OCRProvider = (*Limited)(nil)
