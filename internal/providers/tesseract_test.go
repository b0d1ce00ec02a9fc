package providers

import (
	"image"
	"image/color"
	"testing"

	"github.com/jackzampolin/ragscan/internal/tiling"
)

func TestStitch(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 32, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 32; x++ {
			c := color.RGBA{R: 255, A: 255}
			if x >= 16 {
				c = color.RGBA{B: 255, A: 255}
			}
			img.Set(x, y, c)
		}
	}
	res, err := tiling.Split(img, tiling.Options{TileSize: 16, MaxTiles: 2, UseThumbnail: true})
	if err != nil {
		t.Fatal(err)
	}

	page, err := stitch(NewOCRRequest(0, res, 16, ""))
	if err != nil {
		t.Fatalf("stitch() error = %v", err)
	}
	if b := page.Bounds(); b.Dx() != 32 || b.Dy() != 16 {
		t.Fatalf("bounds = %v", b)
	}
	left := page.RGBAAt(2, 8)
	right := page.RGBAAt(30, 8)
	if left.R < 250 || left.B > 5 {
		t.Errorf("left pixel = %+v, want red", left)
	}
	if right.B < 250 || right.R > 5 {
		t.Errorf("right pixel = %+v, want blue", right)
	}
}

func TestStitch_MissingTiles(t *testing.T) {
	req := &OCRRequest{Grid: tiling.Grid{Columns: 2, Rows: 1}, TileSize: 16}
	if _, err := stitch(req); err == nil {
		t.Error("expected error for missing tiles")
	}
}
