package providers

import (
	"errors"
	"fmt"
	"image"
	"image/draw"

	"github.com/jackzampolin/ragscan/internal/tiling"
)

const TesseractName = "tesseract"

// ErrTesseractNotEnabled is returned by binaries built without the tesseract tag.
var ErrTesseractNotEnabled = errors.New("tesseract support not enabled; rebuild with -tags tesseract")

// TesseractConfig holds configuration for the local Tesseract backend.
type TesseractConfig struct {
	// Languages are tesseract traineddata names (default: chi_sim, eng).
	Languages []string
	RateLimit float64
}

func (cfg TesseractConfig) withDefaults() TesseractConfig {
	if len(cfg.Languages) == 0 {
		cfg.Languages = []string{"chi_sim", "eng"}
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 4.0
	}
	return cfg
}

// stitch reassembles the grid tiles of req into one image.
func stitch(req *OCRRequest) (*image.RGBA, error) {
	if req.Grid.Count() == 0 || req.TileSize <= 0 {
		return nil, fmt.Errorf("%w: empty grid", tiling.ErrInvalidConfig)
	}
	size := req.TileSize
	page := image.NewRGBA(image.Rect(0, 0, req.Grid.Columns*size, req.Grid.Rows*size))
	placed := 0
	for _, t := range req.Tiles {
		if t.Thumbnail {
			continue
		}
		tile := tiling.Denormalize(t)
		draw.Draw(page, t.Bounds, tile, image.Point{}, draw.Src)
		placed++
	}
	if placed != req.Grid.Count() {
		return nil, fmt.Errorf("expected %d grid tiles, got %d", req.Grid.Count(), placed)
	}
	return page, nil
}
