package storyflow_test

import (
	"errors"
	"math"
	"testing"

	"github.com/agentstation/storyflow"
)

const epsilon = 1e-9

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < epsilon
}

func TestParseAspectRatio(t *testing.T) {
	tests := []struct {
		in      string
		want    storyflow.AspectRatio
		wantErr bool
	}{
		{in: "1:1", want: storyflow.RatioSquare},
		{in: "16:9", want: storyflow.RatioWide},
		{in: "9:16", want: storyflow.RatioTall},
		{in: "4:3", want: storyflow.RatioStandard},
		{in: "3:2", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := storyflow.ParseAspectRatio(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseAspectRatio(%q) expected error", tt.in)
				}
				if !errors.Is(err, storyflow.ErrInvalidGrid) {
					t.Errorf("error should wrap ErrInvalidGrid, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseAspectRatio(%q) unexpected error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseAspectRatio(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestHeightFor(t *testing.T) {
	tests := []struct {
		name  string
		ratio storyflow.AspectRatio
		width int
		want  int
	}{
		{name: "16:9 at 400", ratio: storyflow.RatioWide, width: 400, want: 225},
		{name: "1:1 at 512", ratio: storyflow.RatioSquare, width: 512, want: 512},
		{name: "9:16 at 225", ratio: storyflow.RatioTall, width: 225, want: 400},
		{name: "4:3 at 400", ratio: storyflow.RatioStandard, width: 400, want: 300},
		{name: "16:9 at 333 rounds", ratio: storyflow.RatioWide, width: 333, want: 187},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.ratio.HeightFor(tt.width); got != tt.want {
				t.Errorf("HeightFor(%d) = %d, want %d", tt.width, got, tt.want)
			}
		})
	}
}

func TestRatioCrop(t *testing.T) {
	tests := []struct {
		name   string
		w, h   float64
		target storyflow.AspectRatio
		want   storyflow.CropRect
	}{
		{
			name:   "wide image to square trims the sides",
			w:      1000,
			h:      500,
			target: storyflow.RatioSquare,
			want:   storyflow.CropRect{X: 250, Y: 0, W: 500, H: 500},
		},
		{
			name:   "tall image to square trims top and bottom",
			w:      500,
			h:      1000,
			target: storyflow.RatioSquare,
			want:   storyflow.CropRect{X: 0, Y: 250, W: 500, H: 500},
		},
		{
			name:   "square image to wide trims top and bottom",
			w:      1000,
			h:      1000,
			target: storyflow.RatioWide,
			want:   storyflow.CropRect{X: 0, Y: 218.75, W: 1000, H: 562.5},
		},
		{
			name:   "exact ratio is untouched",
			w:      1600,
			h:      900,
			target: storyflow.RatioWide,
			want:   storyflow.CropRect{X: 0, Y: 0, W: 1600, H: 900},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := storyflow.RatioCrop(tt.w, tt.h, tt.target)
			if !almostEqual(got.X, tt.want.X) || !almostEqual(got.Y, tt.want.Y) ||
				!almostEqual(got.W, tt.want.W) || !almostEqual(got.H, tt.want.H) {
				t.Errorf("RatioCrop(%v, %v, %v) = %+v, want %+v", tt.w, tt.h, tt.target, got, tt.want)
			}

			// The crop must match the target ratio and stay in bounds.
			if !almostEqual(got.W/got.H, tt.target.Value()) {
				t.Errorf("crop ratio %v, want %v", got.W/got.H, tt.target.Value())
			}
			if got.X < 0 || got.Y < 0 || got.X+got.W > tt.w+epsilon || got.Y+got.H > tt.h+epsilon {
				t.Errorf("crop %+v escapes %vx%v source", got, tt.w, tt.h)
			}
		})
	}
}

func TestGridCols(t *testing.T) {
	if cols, err := storyflow.GridCols(4); err != nil || cols != 2 {
		t.Errorf("GridCols(4) = %d, %v; want 2, nil", cols, err)
	}
	if cols, err := storyflow.GridCols(9); err != nil || cols != 3 {
		t.Errorf("GridCols(9) = %d, %v; want 3, nil", cols, err)
	}
	for _, n := range []int{0, 1, 6, 16} {
		if _, err := storyflow.GridCols(n); !errors.Is(err, storyflow.ErrInvalidGrid) {
			t.Errorf("GridCols(%d) expected ErrInvalidGrid, got %v", n, err)
		}
	}
}

func TestCellAt(t *testing.T) {
	tests := []struct {
		index, cellCount int
		row, col         int
		wantErr          bool
	}{
		{index: 0, cellCount: 4, row: 0, col: 0},
		{index: 1, cellCount: 4, row: 0, col: 1},
		{index: 2, cellCount: 4, row: 1, col: 0},
		{index: 3, cellCount: 4, row: 1, col: 1},
		{index: 4, cellCount: 9, row: 1, col: 1},
		{index: 8, cellCount: 9, row: 2, col: 2},
		{index: -1, cellCount: 4, wantErr: true},
		{index: 4, cellCount: 4, wantErr: true},
		{index: 9, cellCount: 9, wantErr: true},
	}

	for _, tt := range tests {
		row, col, err := storyflow.CellAt(tt.index, tt.cellCount)
		if tt.wantErr {
			if !errors.Is(err, storyflow.ErrInvalidGrid) {
				t.Errorf("CellAt(%d, %d) expected ErrInvalidGrid, got %v", tt.index, tt.cellCount, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("CellAt(%d, %d) unexpected error: %v", tt.index, tt.cellCount, err)
			continue
		}
		if row != tt.row || col != tt.col {
			t.Errorf("CellAt(%d, %d) = (%d, %d), want (%d, %d)",
				tt.index, tt.cellCount, row, col, tt.row, tt.col)
		}
	}
}

func TestCellRect(t *testing.T) {
	t.Run("2x2 geometry", func(t *testing.T) {
		want := []storyflow.Rect{
			{Left: 0, Top: 0, Width: 0.5, Height: 0.5},
			{Left: 0.5, Top: 0, Width: 0.5, Height: 0.5},
			{Left: 0, Top: 0.5, Width: 0.5, Height: 0.5},
			{Left: 0.5, Top: 0.5, Width: 0.5, Height: 0.5},
		}
		for i, w := range want {
			got, err := storyflow.CellRect(i, 4)
			if err != nil {
				t.Fatalf("CellRect(%d, 4): %v", i, err)
			}
			if got != w {
				t.Errorf("CellRect(%d, 4) = %+v, want %+v", i, got, w)
			}
		}
	})

	t.Run("3x3 tiles exactly", func(t *testing.T) {
		side := 1.0 / 3.0
		var area float64
		for i := 0; i < 9; i++ {
			got, err := storyflow.CellRect(i, 9)
			if err != nil {
				t.Fatalf("CellRect(%d, 9): %v", i, err)
			}
			if !almostEqual(got.Width, side) || !almostEqual(got.Height, side) {
				t.Errorf("cell %d size = %vx%v, want %vx%v", i, got.Width, got.Height, side, side)
			}
			if got.Left+got.Width > 1+epsilon || got.Top+got.Height > 1+epsilon {
				t.Errorf("cell %d escapes the unit square: %+v", i, got)
			}
			area += got.Width * got.Height
		}
		if !almostEqual(area, 1.0) {
			t.Errorf("cells cover area %v, want 1.0", area)
		}
	})

	t.Run("out of range", func(t *testing.T) {
		if _, err := storyflow.CellRect(4, 4); !errors.Is(err, storyflow.ErrInvalidGrid) {
			t.Errorf("expected ErrInvalidGrid, got %v", err)
		}
	})
}

func TestGridImageValidate(t *testing.T) {
	tests := []struct {
		name    string
		grid    storyflow.GridImage
		wantErr bool
	}{
		{
			name: "valid four cell",
			grid: storyflow.GridImage{URL: "https://cdn.example/grid.png", AspectRatio: storyflow.RatioSquare, CellCount: 4},
		},
		{
			name: "valid nine cell with labels",
			grid: storyflow.GridImage{
				URL: "https://cdn.example/grid.png", AspectRatio: storyflow.RatioWide, CellCount: 9,
				CellLabels: []string{"a", "b", "c", "d", "e", "f", "g", "h", "i"},
			},
		},
		{
			name:    "missing url",
			grid:    storyflow.GridImage{CellCount: 4},
			wantErr: true,
		},
		{
			name:    "unsupported cell count",
			grid:    storyflow.GridImage{URL: "x", CellCount: 6},
			wantErr: true,
		},
		{
			name:    "label count mismatch",
			grid:    storyflow.GridImage{URL: "x", CellCount: 4, CellLabels: []string{"only one"}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.grid.Validate()
			if tt.wantErr && err == nil {
				t.Error("expected error")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestEmptyCells(t *testing.T) {
	grid := storyflow.GridImage{URL: "x", AspectRatio: storyflow.RatioSquare, CellCount: 9}
	cells, err := grid.EmptyCells()
	if err != nil {
		t.Fatalf("EmptyCells: %v", err)
	}
	if len(cells) != 9 {
		t.Fatalf("got %d cells, want 9", len(cells))
	}
	for i, c := range cells {
		if c.Index != i {
			t.Errorf("cell %d has index %d", i, c.Index)
		}
		if c.Row != i/3 || c.Col != i%3 {
			t.Errorf("cell %d addressed (%d,%d), want (%d,%d)", i, c.Row, c.Col, i/3, i%3)
		}
		if c.Extracted() {
			t.Errorf("cell %d reports extracted before any upscale", i)
		}
	}
}
