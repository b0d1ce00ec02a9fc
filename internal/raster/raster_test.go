package raster

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"golang.org/x/image/bmp"
)

func writeImage(t *testing.T, path string, w, h int, encode func(*os.File, image.Image) error) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 7, A: 255})
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := encode(f, img); err != nil {
		t.Fatal(err)
	}
}

func encodePNG(f *os.File, img image.Image) error { return png.Encode(f, img) }
func encodeBMP(f *os.File, img image.Image) error { return bmp.Encode(f, img) }

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		name    string
		want    Format
		wantErr bool
	}{
		{"scan.pdf", FormatPDF, false},
		{"SCAN.PDF", FormatPDF, false},
		{"page.png", FormatImage, false},
		{"page.JPEG", FormatImage, false},
		{"page.tif", FormatImage, false},
		{"page.webp", FormatImage, false},
		{"notes.docx", "", true},
		{"noext", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DetectFormat(tt.name)
			if tt.wantErr {
				if !errors.Is(err, ErrUnsupportedFormat) {
					t.Errorf("err = %v, want ErrUnsupportedFormat", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSupportedExtensions(t *testing.T) {
	exts := SupportedExtensions()
	if len(exts) != 9 {
		t.Errorf("got %d extensions, want 9: %v", len(exts), exts)
	}
	for i := 1; i < len(exts); i++ {
		if exts[i-1] > exts[i] {
			t.Errorf("extensions not sorted: %v", exts)
		}
	}
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()

	t.Run("image", func(t *testing.T) {
		path := filepath.Join(dir, "valve-diagram.png")
		writeImage(t, path, 10, 5, encodePNG)
		doc, err := Open(path)
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		if doc.Format != FormatImage || doc.ID != "valve-diagram" || doc.Name != "valve-diagram.png" {
			t.Errorf("unexpected document: %+v", doc)
		}
		if doc.Size == 0 {
			t.Error("expected non-zero size")
		}
	})

	t.Run("missing", func(t *testing.T) {
		if _, err := Open(filepath.Join(dir, "missing.pdf")); err == nil {
			t.Error("expected error for missing file")
		}
	})

	t.Run("unsupported", func(t *testing.T) {
		path := filepath.Join(dir, "notes.txt")
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := Open(path); !errors.Is(err, ErrUnsupportedFormat) {
			t.Errorf("err = %v, want ErrUnsupportedFormat", err)
		}
	})
}

func TestRenderer_Image(t *testing.T) {
	dir := t.TempDir()
	r := NewRenderer(RendererConfig{})
	ctx := context.Background()

	for _, tc := range []struct {
		file   string
		encode func(*os.File, image.Image) error
	}{
		{"page.png", encodePNG},
		{"page.bmp", encodeBMP},
	} {
		t.Run(tc.file, func(t *testing.T) {
			path := filepath.Join(dir, tc.file)
			writeImage(t, path, 30, 20, tc.encode)
			doc, err := Open(path)
			if err != nil {
				t.Fatal(err)
			}

			n, err := r.PageCount(ctx, doc)
			if err != nil || n != 1 {
				t.Fatalf("PageCount() = %d, %v; want 1, nil", n, err)
			}

			img, err := r.RasterizePage(ctx, doc, 0, DefaultScale)
			if err != nil {
				t.Fatalf("RasterizePage() error = %v", err)
			}
			if b := img.Bounds(); b.Dx() != 30 || b.Dy() != 20 {
				t.Errorf("bounds = %v, want 30x20", b)
			}

			if _, err := r.RasterizePage(ctx, doc, 1, DefaultScale); !errors.Is(err, ErrPageOutOfRange) {
				t.Errorf("page 1 err = %v, want ErrPageOutOfRange", err)
			}
		})
	}
}

func TestRenderer_CorruptPDF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.pdf")
	if err := os.WriteFile(path, []byte("not a pdf"), 0o644); err != nil {
		t.Fatal(err)
	}
	doc, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewRenderer(RendererConfig{}).PageCount(context.Background(), doc); err == nil {
		t.Error("expected page count error for corrupt PDF")
	}
}

func TestRenderer_PDF(t *testing.T) {
	testPDF := filepath.Join("..", "..", "testdata", "sample.pdf")
	if _, err := os.Stat(testPDF); os.IsNotExist(err) {
		t.Skip("test fixture not found")
	}
	if _, err := exec.LookPath(DefaultPDFToPPM); err != nil {
		t.Skip("pdftoppm not installed")
	}

	doc, err := Open(testPDF)
	if err != nil {
		t.Fatal(err)
	}
	r := NewRenderer(RendererConfig{})
	n, err := r.PageCount(context.Background(), doc)
	if err != nil || n < 1 {
		t.Fatalf("PageCount() = %d, %v", n, err)
	}
	img, err := r.RasterizePage(context.Background(), doc, 0, DefaultScale)
	if err != nil {
		t.Fatalf("RasterizePage() error = %v", err)
	}
	if img.Bounds().Empty() {
		t.Error("rendered page is empty")
	}
}

func TestDPI(t *testing.T) {
	if got := DPI(2.0); got != 144 {
		t.Errorf("DPI(2.0) = %d, want 144", got)
	}
	if got := DPI(1.0); got != 72 {
		t.Errorf("DPI(1.0) = %d, want 72", got)
	}
}

func TestStem(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"/path/to/pump-spec.pdf", "pump-spec"},
		{"scan.final.png", "scan.final"},
		{"noext", "noext"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := Stem(tt.input); got != tt.expected {
				t.Errorf("got %q, want %q", got, tt.expected)
			}
		})
	}
}
