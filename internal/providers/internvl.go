package providers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/jackzampolin/ragscan/internal/tiling"
)

const (
	InternVLName    = "internvl"
	InternVLBaseURL = "http://localhost:8000"
	InternVLModel   = "internvl3-8b"
)

// InternVLConfig holds configuration for the InternVL client.
type InternVLConfig struct {
	BaseURL    string
	APIKey     string // Optional; sent as a bearer token when set
	Model      string
	Timeout    time.Duration
	RateLimit  float64 // Requests per second
	MaxRetries int
	RetryDelay time.Duration
	HTTPClient *http.Client // Optional (tests)
}

// InternVLClient implements OCRProvider against a self-hosted InternVL
// service that accepts pre-tiled, pre-normalized pages.
type InternVLClient struct {
	baseURL    string
	apiKey     string
	model      string
	rateLimit  float64
	maxRetries int
	retryDelay time.Duration
	client     *http.Client
}

// NewInternVLClient creates a new InternVL client.
func NewInternVLClient(cfg InternVLConfig) *InternVLClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = InternVLBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = InternVLModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 300 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 2.0 // single-GPU service
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 2
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &InternVLClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		rateLimit:  cfg.RateLimit,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		client:     httpClient,
	}
}

// Name returns the provider identifier.
func (c *InternVLClient) Name() string {
	return InternVLName
}

// RequestsPerSecond returns the rate limit.
func (c *InternVLClient) RequestsPerSecond() float64 {
	return c.rateLimit
}

// MaxRetries returns the maximum retry attempts.
func (c *InternVLClient) MaxRetries() int {
	return c.maxRetries
}

// RetryDelayBase returns the base delay between retries.
func (c *InternVLClient) RetryDelayBase() time.Duration {
	return c.retryDelay
}

// Recognize sends one page's tiles to POST /ocr/process.
func (c *InternVLClient) Recognize(ctx context.Context, req *OCRRequest) (*OCRResult, error) {
	start := time.Now()

	body := internVLRequest{
		Grid:      req.Grid,
		TileSize:  req.TileSize,
		Prompt:    ResolvePrompt(req.Prompt),
		PageIndex: req.PageIndex,
		Tiles:     make([]internVLTile, len(req.Tiles)),
	}
	for i, t := range req.Tiles {
		body.Tiles[i] = internVLTile{
			Index:     t.Index,
			Column:    t.Column,
			Row:       t.Row,
			Thumbnail: t.Thumbnail,
			Data:      EncodeTileData(t.Data),
		}
	}

	respBody, err := c.doRequest(ctx, http.MethodPost, "/ocr/process", body)
	if err != nil {
		return c.failed(start, err), err
	}

	if err := validateInternVLResponse(respBody); err != nil {
		return c.failed(start, err), err
	}

	var resp internVLResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		err = fmt.Errorf("failed to unmarshal response: %w", err)
		return c.failed(start, err), err
	}
	if resp.Status != "success" {
		err := fmt.Errorf("InternVL OCR failed: %s", resp.Error)
		return c.failed(start, err), err
	}

	elapsed := time.Since(start)
	if resp.Metadata.ProcessingTime > 0 {
		elapsed = time.Duration(resp.Metadata.ProcessingTime * float64(time.Second))
	}
	model := resp.Metadata.Model
	if model == "" {
		model = c.model
	}

	return &OCRResult{
		Success:        true,
		Text:           resp.RawText,
		Confidence:     resp.Confidence,
		Findings:       resp.StructuredContent.normalized(),
		Provider:       InternVLName,
		Model:          model,
		ProcessingTime: elapsed,
	}, nil
}

// Health probes GET /health.
func (c *InternVLClient) Health(ctx context.Context) HealthStatus {
	respBody, err := c.doRequest(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return unavailable(InternVLName, err)
	}
	var h internVLHealth
	if err := json.Unmarshal(respBody, &h); err != nil {
		return unavailable(InternVLName, fmt.Errorf("failed to unmarshal health: %w", err))
	}
	status := HealthStatus{
		Available: h.Status == "healthy" && h.ModelLoaded,
		Provider:  InternVLName,
		Model:     h.Model,
		Device:    h.Device,
	}
	if !status.Available {
		status.Message = fmt.Sprintf("service status %q, model loaded %t", h.Status, h.ModelLoaded)
	}
	return status
}

// ModelInfo returns the service's GET /model/info document.
func (c *InternVLClient) ModelInfo(ctx context.Context) (map[string]any, error) {
	respBody, err := c.doRequest(ctx, http.MethodGet, "/model/info", nil)
	if err != nil {
		return nil, err
	}
	var info map[string]any
	if err := json.Unmarshal(respBody, &info); err != nil {
		return nil, fmt.Errorf("failed to unmarshal model info: %w", err)
	}
	return info, nil
}

func (c *InternVLClient) failed(start time.Time, err error) *OCRResult {
	return &OCRResult{
		Success:        false,
		Provider:       InternVLName,
		Model:          c.model,
		ErrorMessage:   err.Error(),
		ProcessingTime: time.Since(start),
	}
}

// doRequest makes an HTTP request to the InternVL service.
func (c *InternVLClient) doRequest(ctx context.Context, method, path string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp internVLErrorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Detail != "" {
			return nil, fmt.Errorf("InternVL error (status %d): %s", resp.StatusCode, errResp.Detail)
		}
		return nil, fmt.Errorf("InternVL error (status %d): %s", resp.StatusCode, string(respBody))
	}

	return respBody, nil
}

// EncodeTileData serializes a CHW float block as base64 little-endian float32.
func EncodeTileData(data []float32) string {
	buf := make([]byte, 4*len(data))
	for i, v := range data {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return base64.StdEncoding.EncodeToString(buf)
}

// DecodeTileData reverses EncodeTileData.
func DecodeTileData(s string) ([]float32, error) {
	buf, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid tile encoding: %w", err)
	}
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("invalid tile encoding: %d bytes is not a multiple of 4", len(buf))
	}
	out := make([]float32, len(buf)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return out, nil
}

// internVLResponseSchema guards the trust boundary: malformed service
// responses become page failures instead of zero-valued successes.
const internVLResponseSchema = `{
  "type": "object",
  "required": ["status"],
  "properties": {
    "status": {"type": "string", "enum": ["success", "error"]},
    "raw_text": {"type": "string"},
    "confidence": {"type": ["number", "null"], "minimum": 0, "maximum": 1},
    "error": {"type": "string"},
    "structured_content": {
      "type": "object",
      "properties": {
        "tables": {"$ref": "#/$defs/findings"},
        "diagrams": {"$ref": "#/$defs/findings"},
        "annotations": {"$ref": "#/$defs/findings"},
        "specifications": {"$ref": "#/$defs/findings"}
      }
    },
    "metadata": {
      "type": "object",
      "properties": {
        "processing_time": {"type": "number", "minimum": 0},
        "image_patches": {"type": "integer"},
        "model": {"type": "string"}
      }
    }
  },
  "if": {"properties": {"status": {"const": "success"}}},
  "then": {"required": ["raw_text"]},
  "$defs": {
    "findings": {
      "type": ["array", "null"],
      "items": {
        "type": "object",
        "required": ["type", "content"],
        "properties": {
          "type": {"type": "string"},
          "content": {"type": "string"},
          "confidence": {"type": "number"}
        }
      }
    }
  }
}`

var (
	internVLSchemaOnce sync.Once
	internVLSchema     *jsonschema.Schema
	internVLSchemaErr  error
)

func validateInternVLResponse(raw []byte) error {
	internVLSchemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		if err := compiler.AddResource("internvl_response.json", strings.NewReader(internVLResponseSchema)); err != nil {
			internVLSchemaErr = fmt.Errorf("failed to load response schema: %w", err)
			return
		}
		internVLSchema, internVLSchemaErr = compiler.Compile("internvl_response.json")
	})
	if internVLSchemaErr != nil {
		return internVLSchemaErr
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("failed to decode response for validation: %w", err)
	}
	if err := internVLSchema.Validate(doc); err != nil {
		return fmt.Errorf("InternVL response does not match schema: %w", err)
	}
	return nil
}

// InternVL API types

type internVLRequest struct {
	Tiles     []internVLTile `json:"tiles"`
	Grid      tiling.Grid    `json:"grid"`
	TileSize  int            `json:"tile_size"`
	Prompt    string         `json:"prompt"`
	PageIndex int            `json:"page_index"`
}

type internVLTile struct {
	Index     int    `json:"index"`
	Column    int    `json:"column"`
	Row       int    `json:"row"`
	Thumbnail bool   `json:"thumbnail,omitempty"`
	Data      string `json:"data"`
}

type internVLResponse struct {
	Status            string           `json:"status"`
	RawText           string           `json:"raw_text"`
	Confidence        *float64         `json:"confidence"`
	StructuredContent internVLFindings `json:"structured_content"`
	Metadata          struct {
		ProcessingTime float64 `json:"processing_time"`
		ImagePatches   int     `json:"image_patches"`
		Model          string  `json:"model"`
	} `json:"metadata"`
	Error string `json:"error,omitempty"`
}

type internVLFindings Findings

// normalized returns the findings with every list non-nil.
func (f internVLFindings) normalized() Findings {
	out := Findings(f)
	if out.Tables == nil {
		out.Tables = []Finding{}
	}
	if out.Diagrams == nil {
		out.Diagrams = []Finding{}
	}
	if out.Annotations == nil {
		out.Annotations = []Finding{}
	}
	if out.Specifications == nil {
		out.Specifications = []Finding{}
	}
	return out
}

type internVLHealth struct {
	Status      string `json:"status"`
	Model       string `json:"model"`
	ModelLoaded bool   `json:"model_loaded"`
	Device      string `json:"device"`
}

type internVLErrorResponse struct {
	Detail string `json:"detail"`
}

// Verify interface
var _ OCRProvider = (*InternVLClient)(nil)
