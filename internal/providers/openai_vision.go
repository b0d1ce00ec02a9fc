package providers

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image/png"
	"net/http"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/jackzampolin/ragscan/internal/tiling"
)

const (
	OpenAIVisionName         = "openai"
	openAIVisionDefaultModel = "gpt-4o-mini"
	openAIVisionMaxTokens    = 4096
)

// OpenAIVisionConfig holds configuration for an OpenAI-compatible vision model.
type OpenAIVisionConfig struct {
	APIKey     string
	Model      string
	BaseURL    string        // Optional; any OpenAI-compatible endpoint (vLLM, OpenRouter)
	MaxTokens  int64         // Completion budget per page
	RateLimit  float64       // Requests per second
	MaxRetries int           // Retry attempts for SDK transport
	RetryDelay time.Duration // Base retry delay for the limiter's backoff
	Timeout    time.Duration
	HTTPClient *http.Client // Optional (tests)
}

// OpenAIVisionClient implements OCRProvider with a chat-completions vision
// model. Tiles are denormalized back to PNG images and sent as image parts.
type OpenAIVisionClient struct {
	apiKey     string
	model      string
	baseURL    string
	maxTokens  int64
	rateLimit  float64
	maxRetries int
	retryDelay time.Duration
	client     openai.Client
}

// NewOpenAIVisionClient creates a new OpenAI vision client.
func NewOpenAIVisionClient(cfg OpenAIVisionConfig) *OpenAIVisionClient {
	if cfg.Model == "" {
		cfg.Model = openAIVisionDefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = openAIVisionMaxTokens
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 5.0
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 2
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 300 * time.Second
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
		// Limited owns retries.
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIVisionClient{
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		baseURL:    cfg.BaseURL,
		maxTokens:  cfg.MaxTokens,
		rateLimit:  cfg.RateLimit,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		client:     openai.NewClient(opts...),
	}
}

// Name returns the provider identifier.
func (c *OpenAIVisionClient) Name() string {
	return OpenAIVisionName
}

// RequestsPerSecond returns the configured rate limit.
func (c *OpenAIVisionClient) RequestsPerSecond() float64 {
	return c.rateLimit
}

// MaxRetries returns the maximum retry attempts.
func (c *OpenAIVisionClient) MaxRetries() int {
	return c.maxRetries
}

// RetryDelayBase returns the base delay between retries.
func (c *OpenAIVisionClient) RetryDelayBase() time.Duration {
	return c.retryDelay
}

// Recognize sends the page tiles as a single multi-image user message.
func (c *OpenAIVisionClient) Recognize(ctx context.Context, req *OCRRequest) (*OCRResult, error) {
	start := time.Now()

	parts := []openai.ChatCompletionContentPartUnionParam{
		openai.TextContentPart(visionInstructions(req)),
	}
	for _, t := range req.Tiles {
		url, err := tileDataURL(t)
		if err != nil {
			return c.failed(start, err), err
		}
		parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
			URL:    url,
			Detail: "high",
		}))
	}

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:     openai.ChatModel(c.model),
		Messages:  []openai.ChatCompletionMessageParamUnion{openai.UserMessage(parts)},
		MaxTokens: openai.Int(c.maxTokens),
	})
	if err != nil {
		err = c.wrapError(err)
		return c.failed(start, err), err
	}
	if len(resp.Choices) == 0 {
		err := fmt.Errorf("no choices in completion response")
		return c.failed(start, err), err
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	model := resp.Model
	if model == "" {
		model = c.model
	}

	return &OCRResult{
		Success:        true,
		Text:           text,
		Findings:       DetectFindings(text),
		Provider:       OpenAIVisionName,
		Model:          model,
		ProcessingTime: time.Since(start),
	}, nil
}

// Health checks that the configured model is reachable.
func (c *OpenAIVisionClient) Health(ctx context.Context) HealthStatus {
	m, err := c.client.Models.Get(ctx, c.model)
	if err != nil {
		return unavailable(OpenAIVisionName, c.wrapError(err))
	}
	return HealthStatus{Available: true, Provider: OpenAIVisionName, Model: m.ID}
}

func (c *OpenAIVisionClient) failed(start time.Time, err error) *OCRResult {
	return &OCRResult{
		Success:        false,
		Provider:       OpenAIVisionName,
		Model:          c.model,
		ErrorMessage:   err.Error(),
		ProcessingTime: time.Since(start),
	}
}

func (c *OpenAIVisionClient) wrapError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if apiErr.Message != "" {
			return fmt.Errorf("OpenAI vision error (status %d): %s", apiErr.StatusCode, apiErr.Message)
		}
		return fmt.Errorf("OpenAI vision error (status %d)", apiErr.StatusCode)
	}
	return fmt.Errorf("OpenAI vision request failed: %w", err)
}

// visionInstructions explains the tile layout ahead of the prompt.
func visionInstructions(req *OCRRequest) string {
	var b strings.Builder
	if n := req.Grid.Count(); n > 1 {
		fmt.Fprintf(&b, "The page is split into %d tiles (%d columns x %d rows) in row-major order", n, req.Grid.Columns, req.Grid.Rows)
		if len(req.Tiles) > n {
			b.WriteString(", followed by a thumbnail of the whole page")
		}
		b.WriteString(".\n")
	}
	b.WriteString(ResolvePrompt(req.Prompt))
	return b.String()
}

func tileDataURL(t tiling.Tile) (string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, tiling.Denormalize(t)); err != nil {
		return "", fmt.Errorf("failed to encode tile %d: %w", t.Index, err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Verify interface
var _ OCRProvider = (*OpenAIVisionClient)(nil)
