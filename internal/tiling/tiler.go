// Package tiling prepares page bitmaps for the recognition model.
//
// A page is resized onto the (columns, rows) grid whose aspect ratio best
// matches the source, sliced into fixed-size square tiles in row-major order,
// optionally followed by a whole-page thumbnail, and every tile is normalized
// into a CHW float block using the model's per-channel mean and std.
package tiling

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"
)

const (
	// DefaultTileSize is the edge length of a tile in pixels.
	DefaultTileSize = 448
	// DefaultMaxTiles caps columns*rows for a page grid.
	DefaultMaxTiles = 12
	// Channels is the number of color channels in a normalized tile.
	Channels = 3
)

// Mean and Std are the per-channel normalization constants the recognition
// model was trained with. They must not change.
var (
	Mean = [Channels]float32{0.485, 0.456, 0.406}
	Std  = [Channels]float32{0.229, 0.224, 0.225}
)

var (
	// ErrInvalidImage is returned for zero-dimension or nil images.
	ErrInvalidImage = errors.New("invalid image")
	// ErrInvalidConfig is returned when tile size or tile budget is out of range.
	ErrInvalidConfig = errors.New("invalid tiling config")
)

// Options controls how a page is tiled.
type Options struct {
	TileSize     int
	MaxTiles     int
	UseThumbnail bool
}

// DefaultOptions returns the options the recognition model expects.
func DefaultOptions() Options {
	return Options{
		TileSize:     DefaultTileSize,
		MaxTiles:     DefaultMaxTiles,
		UseThumbnail: true,
	}
}

// Validate checks that the options can produce at least one tile.
func (o Options) Validate() error {
	if o.TileSize <= 0 {
		return fmt.Errorf("%w: tile size must be positive, got %d", ErrInvalidConfig, o.TileSize)
	}
	if o.MaxTiles < 1 {
		return fmt.Errorf("%w: max tiles must be at least 1, got %d", ErrInvalidConfig, o.MaxTiles)
	}
	return nil
}

// Grid is the tiling layout chosen for one page.
type Grid struct {
	Columns int `json:"columns"`
	Rows    int `json:"rows"`
}

// Count returns the number of grid tiles.
func (g Grid) Count() int {
	return g.Columns * g.Rows
}

// Ratio returns columns/rows.
func (g Grid) Ratio() float64 {
	return float64(g.Columns) / float64(g.Rows)
}

// Tile is one normalized square block.
//
// Index is the tile's position in the output sequence. For grid tiles it
// equals Row*Columns+Column. The thumbnail, when present, is always last and
// carries no grid position.
type Tile struct {
	Index     int
	Column    int
	Row       int
	Thumbnail bool
	// Bounds is the pixel box in the resized page; empty for the thumbnail.
	Bounds image.Rectangle
	Size   int
	// Data holds Channels*Size*Size values laid out channel-major (CHW).
	Data []float32
}

// Result is the output of tiling one page.
type Result struct {
	Grid Grid
	// Source is the original page size.
	Source image.Point
	// Resized is the size the page was scaled to before slicing.
	Resized image.Point
	Tiles   []Tile
}

// GridTiles returns the tiles that belong to the grid, excluding the thumbnail.
func (r *Result) GridTiles() []Tile {
	n := r.Grid.Count()
	if n > len(r.Tiles) {
		n = len(r.Tiles)
	}
	return r.Tiles[:n]
}

// HasThumbnail reports whether a thumbnail tile was appended.
func (r *Result) HasThumbnail() bool {
	return len(r.Tiles) > 0 && r.Tiles[len(r.Tiles)-1].Thumbnail
}

// Candidates enumerates every grid with 1 <= columns*rows <= maxTiles,
// ordered by ascending tile count, then by ascending columns.
func Candidates(maxTiles int) []Grid {
	var grids []Grid
	for n := 1; n <= maxTiles; n++ {
		for c := 1; c <= n; c++ {
			if n%c == 0 {
				grids = append(grids, Grid{Columns: c, Rows: n / c})
			}
		}
	}
	return grids
}

// ChooseGrid picks the grid whose columns/rows ratio is closest to
// width/height. Exact ties move to the later (larger) candidate when the
// source area exceeds half of that candidate's nominal pixel area.
func ChooseGrid(width, height, tileSize, maxTiles int) Grid {
	aspect := float64(width) / float64(height)
	area := float64(width) * float64(height)

	best := Grid{Columns: 1, Rows: 1}
	bestDiff := math.Inf(1)
	for _, g := range Candidates(maxTiles) {
		diff := math.Abs(aspect - g.Ratio())
		switch {
		case diff < bestDiff:
			bestDiff = diff
			best = g
		case diff == bestDiff:
			if area > 0.5*float64(tileSize)*float64(tileSize)*float64(g.Count()) {
				best = g
			}
		}
	}
	return best
}

// Split tiles img according to opts.
func Split(img image.Image, opts Options) (*Result, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if img == nil {
		return nil, fmt.Errorf("%w: nil image", ErrInvalidImage)
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidImage, b.Dx(), b.Dy())
	}

	size := opts.TileSize
	src := toRGB(img)
	grid := ChooseGrid(b.Dx(), b.Dy(), size, opts.MaxTiles)

	resized := resize(src, grid.Columns*size, grid.Rows*size)

	tiles := make([]Tile, 0, grid.Count()+1)
	for i := 0; i < grid.Count(); i++ {
		col := i % grid.Columns
		row := i / grid.Columns
		box := image.Rect(col*size, row*size, (col+1)*size, (row+1)*size)
		tiles = append(tiles, Tile{
			Index:  i,
			Column: col,
			Row:    row,
			Bounds: box,
			Size:   size,
			Data:   Normalize(resized, box),
		})
	}

	if opts.UseThumbnail && grid.Count() > 1 {
		thumb := resize(src, size, size)
		tiles = append(tiles, Tile{
			Index:     len(tiles),
			Thumbnail: true,
			Size:      size,
			Data:      Normalize(thumb, thumb.Bounds()),
		})
	}

	return &Result{
		Grid:    grid,
		Source:  image.Pt(b.Dx(), b.Dy()),
		Resized: image.Pt(grid.Columns*size, grid.Rows*size),
		Tiles:   tiles,
	}, nil
}

// toRGB copies img into an opaque RGBA buffer anchored at the origin.
// Alpha is discarded rather than composited.
func toRGB(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			c := color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			i := dst.PixOffset(x, y)
			dst.Pix[i+0] = c.R
			dst.Pix[i+1] = c.G
			dst.Pix[i+2] = c.B
			dst.Pix[i+3] = 0xff
		}
	}
	return dst
}

func resize(src *image.RGBA, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	if src.Bounds().Dx() == w && src.Bounds().Dy() == h {
		copy(dst.Pix, src.Pix)
		return dst
	}
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst
}
