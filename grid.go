package storyflow

import (
	"fmt"
	"math"
)

// AspectRatio is a width:height ratio. The zero value is invalid; use the
// named ratios or ParseAspectRatio.
type AspectRatio struct {
	W int
	H int
}

// Supported aspect ratios.
var (
	RatioSquare   = AspectRatio{1, 1}
	RatioWide     = AspectRatio{16, 9}
	RatioTall     = AspectRatio{9, 16}
	RatioStandard = AspectRatio{4, 3}
)

// ParseAspectRatio parses "W:H" for the supported ratios.
func ParseAspectRatio(s string) (AspectRatio, error) {
	switch s {
	case "1:1":
		return RatioSquare, nil
	case "16:9":
		return RatioWide, nil
	case "9:16":
		return RatioTall, nil
	case "4:3":
		return RatioStandard, nil
	}
	return AspectRatio{}, fmt.Errorf("%w: unsupported aspect ratio %q", ErrInvalidGrid, s)
}

// String returns the "W:H" form.
func (r AspectRatio) String() string { return fmt.Sprintf("%d:%d", r.W, r.H) }

// Value returns W/H as a float.
func (r AspectRatio) Value() float64 { return float64(r.W) / float64(r.H) }

// HeightFor returns the display height for a given width at this ratio,
// rounded to the nearest pixel.
func (r AspectRatio) HeightFor(width int) int {
	return int(math.Round(float64(width) * float64(r.H) / float64(r.W)))
}

// CropRect is an absolute crop region in source-image pixels.
type CropRect struct {
	X float64
	Y float64
	W float64
	H float64
}

// RatioCrop computes the centered crop of a w×h image at the target ratio.
// The longer axis is trimmed symmetrically, so the result's aspect ratio
// equals the target exactly up to floating rounding and the crop always
// stays inside the source bounds.
func RatioCrop(w, h float64, target AspectRatio) CropRect {
	r := target.Value()
	if w/h > r {
		// Image relatively wider: full height, trim the sides.
		cropH := h
		cropW := cropH * r
		return CropRect{X: (w - cropW) / 2, Y: 0, W: cropW, H: cropH}
	}
	// Image relatively taller or equal: full width, trim top and bottom.
	cropW := w
	cropH := cropW / r
	return CropRect{X: 0, Y: (h - cropH) / 2, W: cropW, H: cropH}
}

// Rect is a normalized bounding box in [0,1]×[0,1] composite fractions.
type Rect struct {
	Left   float64
	Top    float64
	Width  float64
	Height float64
}

// GridCols returns the column count for a composite cell count. Only 2×2
// and 3×3 composites exist.
func GridCols(cellCount int) (int, error) {
	switch cellCount {
	case 4:
		return 2, nil
	case 9:
		return 3, nil
	}
	return 0, fmt.Errorf("%w: cell count %d (want 4 or 9)", ErrInvalidGrid, cellCount)
}

// CellAt returns the row/column address of a linear cell index.
func CellAt(index, cellCount int) (row, col int, err error) {
	cols, err := GridCols(cellCount)
	if err != nil {
		return 0, 0, err
	}
	if index < 0 || index >= cellCount {
		return 0, 0, fmt.Errorf("%w: cell index %d out of range [0,%d)", ErrInvalidGrid, index, cellCount)
	}
	return index / cols, index % cols, nil
}

// CellRect returns the normalized bounding box of one cell of an N×N
// composite. Because the composite's overall ratio equals its per-cell
// ratio, slicing is purely positional: no ratio correction is applied.
func CellRect(index, cellCount int) (Rect, error) {
	row, col, err := CellAt(index, cellCount)
	if err != nil {
		return Rect{}, err
	}
	cols, _ := GridCols(cellCount)
	side := 1.0 / float64(cols)
	return Rect{
		Left:   float64(col) * side,
		Top:    float64(row) * side,
		Width:  side,
		Height: side,
	}, nil
}

// GridImage describes a composite storyboard image: an N×N arrangement of
// related sub-shots sharing one overall aspect ratio.
type GridImage struct {
	URL         string
	AspectRatio AspectRatio
	CellCount   int
	CellLabels  []string
}

// Validate checks the grid invariants.
func (g GridImage) Validate() error {
	if g.URL == "" {
		return fmt.Errorf("%w: grid has no url", ErrInvalidGrid)
	}
	if _, err := GridCols(g.CellCount); err != nil {
		return err
	}
	if len(g.CellLabels) != 0 && len(g.CellLabels) != g.CellCount {
		return fmt.Errorf("%w: %d labels for %d cells", ErrInvalidGrid, len(g.CellLabels), g.CellCount)
	}
	return nil
}

// EmptyCells builds the initial cell set for a grid: one empty entry per
// index, populated later as upscale calls resolve. Cells are never removed
// except with the owning node.
func (g GridImage) EmptyCells() ([]ExtractedCell, error) {
	cols, err := GridCols(g.CellCount)
	if err != nil {
		return nil, err
	}
	cells := make([]ExtractedCell, g.CellCount)
	for i := range cells {
		rect, _ := CellRect(i, g.CellCount)
		cells[i] = ExtractedCell{
			Index: i,
			Row:   i / cols,
			Col:   i % cols,
			Rect:  rect,
		}
	}
	return cells, nil
}

// ExtractedCell is one addressable sub-region of a composite grid image.
type ExtractedCell struct {
	Index      int
	Row        int
	Col        int
	Rect       Rect
	ResultURL  string
	Extracting bool
}

// Extracted reports whether the cell's standalone upscale has resolved.
func (c ExtractedCell) Extracted() bool { return c.ResultURL != "" }
