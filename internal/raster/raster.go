// Package raster turns source documents into page bitmaps.
package raster

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strings"

	// Decoders for the supported raster formats.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// MaxFileSize is the largest source file accepted.
const MaxFileSize = 500 << 20

// DefaultScale is the supersampling factor applied when rendering PDF pages.
const DefaultScale = 2.0

var (
	// ErrUnsupportedFormat is returned for files with an unknown extension.
	ErrUnsupportedFormat = errors.New("unsupported document format")
	// ErrFileTooLarge is returned when a source exceeds MaxFileSize.
	ErrFileTooLarge = errors.New("document exceeds size limit")
	// ErrPageOutOfRange is returned for a page index outside the document.
	ErrPageOutOfRange = errors.New("page index out of range")
)

// Format distinguishes single images from paginated containers.
type Format string

const (
	FormatImage Format = "image"
	FormatPDF   Format = "pdf"
)

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".bmp":  true,
	".tiff": true,
	".tif":  true,
	".webp": true,
	".gif":  true,
}

// SupportedExtensions returns every accepted file extension, sorted.
func SupportedExtensions() []string {
	exts := []string{".pdf"}
	for ext := range imageExtensions {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// DetectFormat maps a file name to its Format by extension.
func DetectFormat(name string) (Format, error) {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == ".pdf" {
		return FormatPDF, nil
	}
	if imageExtensions[ext] {
		return FormatImage, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
}

// Document is a source file on disk. It is immutable once opened.
type Document struct {
	ID     string `json:"id"`
	Path   string `json:"path"`
	Name   string `json:"name"`
	Format Format `json:"format"`
	Size   int64  `json:"size"`
}

// Open stats path and classifies it. It does not read page contents.
func Open(path string) (*Document, error) {
	format, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("document not found: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	if info.Size() > MaxFileSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFileTooLarge, info.Size())
	}
	return &Document{
		ID:     Stem(path),
		Path:   path,
		Name:   filepath.Base(path),
		Format: format,
		Size:   info.Size(),
	}, nil
}

// Rasterizer produces page bitmaps for a document.
type Rasterizer interface {
	// PageCount returns the number of pages; 1 for single images.
	PageCount(ctx context.Context, doc *Document) (int, error)

	// RasterizePage renders the 0-based page index at the given scale.
	RasterizePage(ctx context.Context, doc *Document, index int, scale float64) (image.Image, error)
}

// DecodeImageFile reads and decodes a raster image from disk.
func DecodeImageFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, nil
}

// Stem returns the file name without directory or extension.
// e.g., "/scans/pump-spec.pdf" -> "pump-spec"
func Stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
