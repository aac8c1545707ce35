// Package render turns chart series into raster snapshots.
//
// Rendering happens in two steps so callers never depend on a concrete
// charting library: Render validates and normalizes the series into a View,
// and Snapshot rasterizes a View into a PNG Bitmap.
package render

import (
	"errors"
	"fmt"
	"math"
)

// ErrEmptySeries is returned when there is nothing to draw.
var ErrEmptySeries = errors.New("no data points to render")

// Default snapshot size in pixels.
const (
	DefaultWidth  = 1024
	DefaultHeight = 512
)

// Series is one named line of a chart. Labels, when present, name the X
// positions and must match Values in length.
type Series struct {
	Name   string    `json:"name"`
	Labels []string  `json:"labels,omitempty"`
	Values []float64 `json:"values"`
}

// Style selects the color scheme of a view.
type Style string

const (
	StyleLight Style = "light"
	StyleDark  Style = "dark"
)

// View is a validated chart ready to be rasterized.
type View struct {
	Title   string
	Caption string
	Style   Style
	Width   int
	Height  int
	Series  []Series
	// YMin and YMax bound the value axis; they never collapse to a point.
	YMin float64
	YMax float64
}

// Bitmap is an encoded PNG snapshot.
type Bitmap struct {
	PNG    []byte
	Width  int
	Height int
}

// Renderer is the rendering capability used by the exporters.
type Renderer interface {
	Render(title string, series []Series) (View, error)
	Snapshot(v View) (Bitmap, error)
}

// NewView validates series and computes the value range shared by every
// Renderer implementation.
func NewView(title string, series []Series, width, height int) (View, error) {
	if width <= 0 {
		width = DefaultWidth
	}
	if height <= 0 {
		height = DefaultHeight
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	kept := make([]Series, 0, len(series))
	for i, s := range series {
		if len(s.Labels) > 0 && len(s.Labels) != len(s.Values) {
			return View{}, fmt.Errorf("series %d (%q): %d labels for %d values", i, s.Name, len(s.Labels), len(s.Values))
		}
		if len(s.Values) == 0 {
			continue
		}
		for _, v := range s.Values {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return View{}, fmt.Errorf("series %d (%q): non-finite value", i, s.Name)
			}
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
		kept = append(kept, s)
	}
	if len(kept) == 0 {
		return View{}, ErrEmptySeries
	}

	if hi <= lo {
		lo, hi = lo-1, hi+1
	} else {
		pad := (hi - lo) * 0.05
		lo, hi = lo-pad, hi+pad
	}

	return View{
		Title:  title,
		Style:  StyleLight,
		Width:  width,
		Height: height,
		Series: kept,
		YMin:   lo,
		YMax:   hi,
	}, nil
}
