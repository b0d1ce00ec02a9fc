// Package pipeline turns source documents into recognized text and
// publishes it to a knowledge base.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jackzampolin/ragscan/internal/providers"
	"github.com/jackzampolin/ragscan/internal/raster"
	"github.com/jackzampolin/ragscan/internal/tiling"
)

const (
	DefaultMaxWorkers  = 4
	DefaultPageTimeout = 300 * time.Second
)

// ErrDocumentUnreadable means the page count could not be determined.
var ErrDocumentUnreadable = errors.New("document unreadable")

// Stage names the step at which a page failed.
type Stage string

const (
	StageRasterize Stage = "rasterize"
	StageTile      Stage = "tile"
	StageOCR       Stage = "ocr"
)

// PageError records why one page was left out of the aggregation.
type PageError struct {
	// Page is the 0-based page index.
	Page  int
	Stage Stage
	Err   error
}

func (e *PageError) Error() string {
	return fmt.Sprintf("page %d %s: %v", e.Page+1, e.Stage, e.Err)
}

func (e *PageError) Unwrap() error { return e.Err }

// Config configures an Aggregator.
type Config struct {
	Provider   providers.OCRProvider
	Rasterizer raster.Rasterizer
	Tiling     tiling.Options
	// Scale is the rasterization supersampling factor (default 2.0).
	Scale       float64
	MaxWorkers  int
	PageTimeout time.Duration
	// Prompt is used when a request names none. Preset names are accepted.
	Prompt string
	Logger *slog.Logger
}

// Aggregator recognizes every page of a document and merges the results.
type Aggregator struct {
	provider    providers.OCRProvider
	rasterizer  raster.Rasterizer
	tiling      tiling.Options
	scale       float64
	maxWorkers  int
	pageTimeout time.Duration
	prompt      string
	logger      *slog.Logger
}

// NewAggregator validates cfg and creates an Aggregator.
func NewAggregator(cfg Config) (*Aggregator, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("OCR provider is required")
	}
	if cfg.Rasterizer == nil {
		return nil, fmt.Errorf("rasterizer is required")
	}
	if cfg.Tiling == (tiling.Options{}) {
		cfg.Tiling = tiling.DefaultOptions()
	}
	if err := cfg.Tiling.Validate(); err != nil {
		return nil, err
	}
	if cfg.Scale <= 0 {
		cfg.Scale = raster.DefaultScale
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = DefaultMaxWorkers
	}
	if cfg.PageTimeout <= 0 {
		cfg.PageTimeout = DefaultPageTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Aggregator{
		provider:    cfg.Provider,
		rasterizer:  cfg.Rasterizer,
		tiling:      cfg.Tiling,
		scale:       cfg.Scale,
		maxWorkers:  cfg.MaxWorkers,
		pageTimeout: cfg.PageTimeout,
		prompt:      cfg.Prompt,
		logger:      cfg.Logger,
	}, nil
}

// Provider returns the OCR provider pages are sent to.
func (a *Aggregator) Provider() providers.OCRProvider { return a.provider }

// ProcessOptions selects the prompt and pages for one run.
type ProcessOptions struct {
	// Prompt overrides the configured prompt; preset names are accepted.
	Prompt string
	// Page restricts processing to one 1-based page. Zero means all pages.
	Page int
	// Provider replaces the configured OCR provider for this call.
	Provider providers.OCRProvider
}

// PageSummary describes the outcome for one page. Page is 1-based.
// ProcessingSeconds mirrors ProcessingTime in serialized output.
type PageSummary struct {
	Page              int           `json:"page"`
	Success           bool          `json:"success"`
	Chars             int           `json:"chars"`
	Confidence        *float64      `json:"confidence,omitempty"`
	Grid              tiling.Grid   `json:"grid"`
	Tiles             int           `json:"tiles"`
	ProcessingTime    time.Duration `json:"-" yaml:"-"`
	ProcessingSeconds float64       `json:"processing_time_seconds" yaml:"processing_time_seconds"`
	Stage             Stage         `json:"failed_stage,omitempty"`
	Error             string        `json:"error,omitempty"`
}

// AggregatedDocument is the merged recognition result for one document.
// It is not modified after Process returns. ProcessingTime sums page OCR
// time and is serialized as ProcessingSeconds.
type AggregatedDocument struct {
	Source            string             `json:"source"`
	Format            raster.Format      `json:"format"`
	Text              string             `json:"text"`
	Confidence        float64            `json:"confidence"`
	Findings          providers.Findings `json:"findings"`
	TotalPages        int                `json:"total_pages"`
	ProcessedPages    int                `json:"processed_pages"`
	ProcessingTime    time.Duration      `json:"-" yaml:"-"`
	ProcessingSeconds float64            `json:"processing_time_seconds" yaml:"processing_time_seconds"`
	Provider          string             `json:"provider"`
	Pages             []PageSummary      `json:"pages"`
	// Errors holds one entry per failed page, in page order.
	Errors []*PageError `json:"-" yaml:"-"`
}

// Success reports whether at least one page was recognized.
func (d *AggregatedDocument) Success() bool {
	return d.ProcessedPages > 0
}

// PageHeader is the block header placed before each page of a paginated document.
func PageHeader(page int) string {
	return fmt.Sprintf("=== 第 %d 页 ===", page)
}

type pageOutcome struct {
	index   int
	result  *providers.OCRResult
	grid    tiling.Grid
	tiles   int
	elapsed time.Duration
	pageErr *PageError
}

// Process recognizes doc page by page. A page that fails is logged and
// skipped; only an unreadable document fails the whole call. Pages may run
// concurrently but are merged in ascending page order.
func (a *Aggregator) Process(ctx context.Context, doc *raster.Document, opts ProcessOptions) (*AggregatedDocument, error) {
	provider := a.provider
	if opts.Provider != nil {
		provider = opts.Provider
	}
	logger := a.logger.With("document", doc.Name, "provider", provider.Name())

	total, err := a.rasterizer.PageCount(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDocumentUnreadable, doc.Name, err)
	}
	if total <= 0 {
		return nil, fmt.Errorf("%w: %s has no pages", ErrDocumentUnreadable, doc.Name)
	}

	indexes := make([]int, 0, total)
	if opts.Page > 0 {
		if opts.Page > total {
			return nil, fmt.Errorf("%w: page %d of %d", raster.ErrPageOutOfRange, opts.Page, total)
		}
		indexes = append(indexes, opts.Page-1)
	} else {
		for i := 0; i < total; i++ {
			indexes = append(indexes, i)
		}
	}

	promptName := opts.Prompt
	if promptName == "" {
		promptName = a.prompt
	}
	prompt := providers.ResolvePrompt(promptName)

	logger.Info("processing document", "total_pages", total, "pages", len(indexes), "workers", a.maxWorkers)
	start := time.Now()

	outcomes := make([]pageOutcome, len(indexes))
	var g errgroup.Group
	g.SetLimit(a.maxWorkers)
	for slot, index := range indexes {
		g.Go(func() error {
			outcomes[slot] = a.processPage(ctx, provider, doc, index, prompt)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	agg := merge(doc, total, outcomes)
	agg.Provider = provider.Name()
	for _, pe := range agg.Errors {
		logger.Warn("page skipped",
			"page", pe.Page+1,
			"total_pages", total,
			"stage", pe.Stage,
			"error", pe.Err)
	}
	logger.Info("document processed",
		"total_pages", total,
		"processed_pages", agg.ProcessedPages,
		"chars", len(agg.Text),
		"confidence", agg.Confidence,
		"duration", time.Since(start))
	return agg, nil
}

// processPage never returns an error; failures land in pageErr.
func (a *Aggregator) processPage(ctx context.Context, provider providers.OCRProvider, doc *raster.Document, index int, prompt string) pageOutcome {
	out := pageOutcome{index: index}
	start := time.Now()

	fail := func(stage Stage, err error) pageOutcome {
		out.pageErr = &PageError{Page: index, Stage: stage, Err: err}
		out.elapsed = time.Since(start)
		return out
	}

	if err := ctx.Err(); err != nil {
		return fail(StageRasterize, err)
	}
	pctx, cancel := context.WithTimeout(ctx, a.pageTimeout)
	defer cancel()

	img, err := a.rasterizer.RasterizePage(pctx, doc, index, a.scale)
	if err != nil {
		return fail(StageRasterize, err)
	}

	tiles, err := tiling.Split(img, a.tiling)
	if err != nil {
		return fail(StageTile, err)
	}
	out.grid = tiles.Grid
	out.tiles = len(tiles.Tiles)

	req := providers.NewOCRRequest(index, tiles, a.tiling.TileSize, prompt)
	res, err := provider.Recognize(pctx, req)
	if err != nil {
		return fail(StageOCR, err)
	}
	if res == nil || !res.Success {
		msg := "provider reported failure"
		if res != nil && res.ErrorMessage != "" {
			msg = res.ErrorMessage
		}
		return fail(StageOCR, errors.New(msg))
	}
	out.result = res
	out.elapsed = time.Since(start)
	return out
}

// merge folds page outcomes, already in page order, into one document.
func merge(doc *raster.Document, total int, outcomes []pageOutcome) *AggregatedDocument {
	agg := &AggregatedDocument{
		Source:     doc.Path,
		Format:     doc.Format,
		TotalPages: total,
		Pages:      make([]PageSummary, 0, len(outcomes)),
	}

	// Single images carry no page header.
	withHeaders := doc.Format != raster.FormatImage

	var blocks []string
	var confSum float64
	var confN int
	for _, o := range outcomes {
		summary := PageSummary{
			Page:  o.index + 1,
			Grid:  o.grid,
			Tiles: o.tiles,
		}
		if o.pageErr != nil {
			summary.Stage = o.pageErr.Stage
			summary.Error = o.pageErr.Err.Error()
			summary.ProcessingTime = o.elapsed
			summary.ProcessingSeconds = o.elapsed.Seconds()
			agg.Errors = append(agg.Errors, o.pageErr)
			agg.Pages = append(agg.Pages, summary)
			continue
		}

		res := o.result
		elapsed := res.ProcessingTime
		if elapsed <= 0 {
			elapsed = o.elapsed
		}
		summary.Success = true
		summary.Chars = len(res.Text)
		summary.Confidence = res.Confidence
		summary.ProcessingTime = elapsed
		summary.ProcessingSeconds = elapsed.Seconds()
		agg.Pages = append(agg.Pages, summary)

		agg.ProcessedPages++
		agg.ProcessingTime += elapsed
		agg.Findings.Append(res.Findings)
		if res.Confidence != nil {
			confSum += *res.Confidence
			confN++
		}
		if strings.TrimSpace(res.Text) == "" {
			continue
		}
		if withHeaders {
			blocks = append(blocks, PageHeader(o.index+1)+"\n"+res.Text)
		} else {
			blocks = append(blocks, res.Text)
		}
	}

	agg.Text = strings.Join(blocks, "\n\n")
	agg.ProcessingSeconds = agg.ProcessingTime.Seconds()
	if confN > 0 {
		agg.Confidence = confSum / float64(confN)
	}
	return agg
}
