//go:build tesseract

package providers

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"strings"
	"time"

	"github.com/otiai10/gosseract/v2"
)

// TesseractClient implements OCRProvider with a local Tesseract engine.
// Grid tiles are stitched back into the resized page before recognition;
// the prompt is ignored.
type TesseractClient struct {
	languages     []string
	rateLimit     float64
	clientFactory func() *gosseract.Client
}

// NewTesseractClient creates a Tesseract-backed OCR provider.
func NewTesseractClient(cfg TesseractConfig) *TesseractClient {
	cfg = cfg.withDefaults()
	return &TesseractClient{
		languages:     cfg.Languages,
		rateLimit:     cfg.RateLimit,
		clientFactory: gosseract.NewClient,
	}
}

// Name returns the provider identifier.
func (c *TesseractClient) Name() string {
	return TesseractName
}

// RequestsPerSecond returns the rate limit.
func (c *TesseractClient) RequestsPerSecond() float64 {
	return c.rateLimit
}

// MaxRetries returns 0; local recognition failures are not transient.
func (c *TesseractClient) MaxRetries() int {
	return 0
}

// RetryDelayBase returns the base delay between retries.
func (c *TesseractClient) RetryDelayBase() time.Duration {
	return 0
}

// Recognize stitches the grid tiles and runs Tesseract over the page.
func (c *TesseractClient) Recognize(ctx context.Context, req *OCRRequest) (*OCRResult, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return c.failed(start, err), err
	}

	page, err := stitch(req)
	if err != nil {
		return c.failed(start, err), err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, page); err != nil {
		err = fmt.Errorf("failed to encode page: %w", err)
		return c.failed(start, err), err
	}

	client := c.clientFactory()
	defer client.Close()

	if err := client.SetLanguage(c.languages...); err != nil {
		err = fmt.Errorf("set languages: %w", err)
		return c.failed(start, err), err
	}
	if err := client.SetImageFromBytes(buf.Bytes()); err != nil {
		err = fmt.Errorf("set image: %w", err)
		return c.failed(start, err), err
	}
	text, err := client.Text()
	if err != nil {
		err = fmt.Errorf("recognize text: %w", err)
		return c.failed(start, err), err
	}
	text = strings.TrimSpace(text)

	result := &OCRResult{
		Success:        true,
		Text:           text,
		Findings:       DetectFindings(text),
		Provider:       TesseractName,
		Model:          "tesseract " + strings.Join(c.languages, "+"),
		ProcessingTime: time.Since(start),
	}
	if conf, ok := wordConfidence(client); ok {
		result.Confidence = Float(conf)
	}
	return result, nil
}

// Health reports whether the tesseract library is linked and usable.
func (c *TesseractClient) Health(ctx context.Context) HealthStatus {
	v := gosseract.Version()
	if v == "" {
		return HealthStatus{Provider: TesseractName, Message: "tesseract not available"}
	}
	return HealthStatus{Available: true, Provider: TesseractName, Model: "tesseract " + v, Device: "cpu"}
}

func (c *TesseractClient) failed(start time.Time, err error) *OCRResult {
	return &OCRResult{
		Success:        false,
		Provider:       TesseractName,
		ErrorMessage:   err.Error(),
		ProcessingTime: time.Since(start),
	}
}

// wordConfidence averages per-word confidences, scaled to [0,1].
func wordConfidence(client *gosseract.Client) (float64, bool) {
	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil || len(boxes) == 0 {
		return 0, false
	}
	var sum float64
	for _, b := range boxes {
		sum += b.Confidence / 100.0
	}
	return sum / float64(len(boxes)), true
}

// Verify interface
var _ OCRProvider = (*TesseractClient)(nil)
