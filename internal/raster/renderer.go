package raster

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// DefaultPDFToPPM is the poppler-utils binary used to render PDF pages.
const DefaultPDFToPPM = "pdftoppm"

// Base resolution of a PDF page at scale 1.
const pointsPerInch = 72

// RendererConfig configures a Renderer.
type RendererConfig struct {
	// PDFToPPM is the path to the pdftoppm binary (default: "pdftoppm" on PATH).
	PDFToPPM string
	Logger   *slog.Logger
}

// Renderer is the Rasterizer for on-disk images and PDFs.
// PDF page counts come from pdfcpu; pages are rendered with pdftoppm.
type Renderer struct {
	pdftoppm string
	logger   *slog.Logger
}

// NewRenderer creates a Renderer.
func NewRenderer(cfg RendererConfig) *Renderer {
	if cfg.PDFToPPM == "" {
		cfg.PDFToPPM = DefaultPDFToPPM
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Renderer{
		pdftoppm: cfg.PDFToPPM,
		logger:   cfg.Logger,
	}
}

// PageCount returns 1 for images and the pdfcpu page count for PDFs.
func (r *Renderer) PageCount(ctx context.Context, doc *Document) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	switch doc.Format {
	case FormatImage:
		return 1, nil
	case FormatPDF:
		f, err := os.Open(doc.Path)
		if err != nil {
			return 0, fmt.Errorf("failed to open PDF: %w", err)
		}
		defer f.Close()
		n, err := api.PageCount(f, nil)
		if err != nil {
			return 0, fmt.Errorf("failed to get page count: %w", err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedFormat, doc.Format)
	}
}

// RasterizePage decodes an image (index must be 0) or renders one PDF page.
func (r *Renderer) RasterizePage(ctx context.Context, doc *Document, index int, scale float64) (image.Image, error) {
	if index < 0 {
		return nil, fmt.Errorf("%w: %d", ErrPageOutOfRange, index)
	}
	switch doc.Format {
	case FormatImage:
		if index != 0 {
			return nil, fmt.Errorf("%w: %d (single image)", ErrPageOutOfRange, index)
		}
		return DecodeImageFile(doc.Path)
	case FormatPDF:
		return r.renderPDFPage(ctx, doc.Path, index, scale)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, doc.Format)
	}
}

// renderPDFPage renders a single page with pdftoppm. This renders the page
// as laid out, unlike extracting embedded image objects whose numbering may
// not match page order.
func (r *Renderer) renderPDFPage(ctx context.Context, pdfPath string, index int, scale float64) (image.Image, error) {
	if scale <= 0 {
		scale = DefaultScale
	}

	tmpDir, err := os.MkdirTemp("", "ragscan-page-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	outputPrefix := filepath.Join(tmpDir, "page")

	// -f/-l select a single 1-based page; -singlefile drops the page suffix.
	pageStr := fmt.Sprintf("%d", index+1)
	dpi := fmt.Sprintf("%d", DPI(scale))
	cmd := exec.CommandContext(ctx, r.pdftoppm,
		"-png",
		"-f", pageStr,
		"-l", pageStr,
		"-r", dpi,
		"-singlefile",
		pdfPath,
		outputPrefix,
	)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("pdftoppm failed: %w (output: %s)", err, string(output))
	}

	srcPath := outputPrefix + ".png"
	if _, err := os.Stat(srcPath); err != nil {
		return nil, fmt.Errorf("pdftoppm did not create expected output: %w", err)
	}

	r.logger.Debug("rendered page", "file", filepath.Base(pdfPath), "page", index+1, "dpi", dpi)
	return DecodeImageFile(srcPath)
}

// DPI converts a supersampling scale into a render resolution.
func DPI(scale float64) int {
	return int(math.Round(pointsPerInch * scale))
}

var _ Rasterizer = (*Renderer)(nil)
