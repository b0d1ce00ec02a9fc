package tiling

import (
	"image"
	"math"
)

// Normalize scales the RGB pixels inside box to [0,1] and applies the
// per-channel Mean/Std, returning a CHW block of len Channels*w*h.
func Normalize(img *image.RGBA, box image.Rectangle) []float32 {
	w, h := box.Dx(), box.Dy()
	plane := w * h
	out := make([]float32, Channels*plane)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := img.PixOffset(box.Min.X+x, box.Min.Y+y)
			p := y*w + x
			for c := 0; c < Channels; c++ {
				v := float32(img.Pix[i+c]) / 255
				out[c*plane+p] = (v - Mean[c]) / Std[c]
			}
		}
	}
	return out
}

// Denormalize reverses Normalize for a tile, producing an opaque image.
// Backends that accept encoded images rather than tensors use it.
func Denormalize(t Tile) *image.RGBA {
	size := t.Size
	plane := size * size
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for p := 0; p < plane && Channels*plane <= len(t.Data); p++ {
		i := (p/size)*img.Stride + (p%size)*4
		for c := 0; c < Channels; c++ {
			v := t.Data[c*plane+p]*Std[c] + Mean[c]
			img.Pix[i+c] = clampByte(v * 255)
		}
		img.Pix[i+3] = 0xff
	}
	return img
}

func clampByte(v float32) uint8 {
	r := math.Round(float64(v))
	if r < 0 {
		return 0
	}
	if r > 255 {
		return 255
	}
	return uint8(r)
}
