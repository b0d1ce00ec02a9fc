package providers

import (
	"context"
	"time"

	"github.com/jackzampolin/ragscan/internal/tiling"
)

// OCRProvider turns the normalized tiles of one page into text.
type OCRProvider interface {
	// Name returns the provider identifier (e.g., "internvl", "tesseract").
	Name() string

	// Recognize runs recognition over one page's tiles.
	Recognize(ctx context.Context, req *OCRRequest) (*OCRResult, error)

	// Health probes the backend. It has no side effects.
	Health(ctx context.Context) HealthStatus

	// Rate limiting properties
	RequestsPerSecond() float64
	MaxRetries() int
	RetryDelayBase() time.Duration
}

// OCRRequest is one page's worth of recognition input.
type OCRRequest struct {
	// PageIndex is the 0-based page within the source document.
	PageIndex int
	Grid      tiling.Grid
	TileSize  int
	// Tiles are in row-major order, optionally followed by a thumbnail.
	Tiles  []tiling.Tile
	Prompt string
}

// NewOCRRequest builds a request from a tiling result.
func NewOCRRequest(pageIndex int, res *tiling.Result, tileSize int, prompt string) *OCRRequest {
	return &OCRRequest{
		PageIndex: pageIndex,
		Grid:      res.Grid,
		TileSize:  tileSize,
		Tiles:     res.Tiles,
		Prompt:    prompt,
	}
}

// Finding is a single structured observation about page content.
type Finding struct {
	Type       string  `json:"type"`
	Content    string  `json:"content"`
	Confidence float64 `json:"confidence"`
}

// Findings groups structured observations by kind.
type Findings struct {
	Tables         []Finding `json:"tables"`
	Diagrams       []Finding `json:"diagrams"`
	Annotations    []Finding `json:"annotations"`
	Specifications []Finding `json:"specifications"`
}

// Append concatenates other onto f, list by list, preserving order.
func (f *Findings) Append(other Findings) {
	f.Tables = append(f.Tables, other.Tables...)
	f.Diagrams = append(f.Diagrams, other.Diagrams...)
	f.Annotations = append(f.Annotations, other.Annotations...)
	f.Specifications = append(f.Specifications, other.Specifications...)
}

// Len returns the total number of findings.
func (f Findings) Len() int {
	return len(f.Tables) + len(f.Diagrams) + len(f.Annotations) + len(f.Specifications)
}

// OCRResult is the response from an OCR provider for one page.
type OCRResult struct {
	// Success/content
	Success bool   `json:"success"`
	Text    string `json:"text"`

	// Confidence is in [0,1]; nil when the backend reports none.
	Confidence *float64 `json:"confidence,omitempty"`
	Findings   Findings `json:"findings"`

	// Provider info
	Provider string `json:"provider"`
	Model    string `json:"model,omitempty"`

	// Timing
	ProcessingTime time.Duration `json:"processing_time"`

	// Error info
	ErrorMessage string `json:"error_message,omitempty"`
	Attempts     int    `json:"attempts,omitempty"`
}

// HealthStatus is the outcome of a health probe.
type HealthStatus struct {
	Available bool   `json:"available"`
	Provider  string `json:"provider"`
	Model     string `json:"model,omitempty"`
	Device    string `json:"device,omitempty"`
	Message   string `json:"message,omitempty"`
}

func unavailable(name string, err error) HealthStatus {
	return HealthStatus{Provider: name, Message: err.Error()}
}

// Float returns a pointer to v, for optional confidences.
func Float(v float64) *float64 {
	return &v
}
