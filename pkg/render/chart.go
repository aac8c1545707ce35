package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"strings"

	chart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var palette = []drawing.Color{
	chart.ColorBlue,
	chart.ColorGreen,
	chart.ColorRed,
	chart.ColorOrange,
	chart.ColorAlternateGray,
}

// ChartRenderer renders line charts with go-chart.
type ChartRenderer struct {
	Width  int
	Height int
	Style  Style
}

// NewChartRenderer returns a renderer producing width x height snapshots.
func NewChartRenderer(width, height int) *ChartRenderer {
	return &ChartRenderer{Width: width, Height: height, Style: StyleLight}
}

// Render implements Renderer.
func (r *ChartRenderer) Render(title string, series []Series) (View, error) {
	v, err := NewView(title, series, r.Width, r.Height)
	if err != nil {
		return View{}, err
	}
	if r.Style != "" {
		v.Style = r.Style
	}
	return v, nil
}

// Snapshot implements Renderer.
func (r *ChartRenderer) Snapshot(v View) (Bitmap, error) {
	if len(v.Series) == 0 {
		return Bitmap{}, ErrEmptySeries
	}

	ch := buildChart(v)

	var buf bytes.Buffer
	if err := ch.Render(chart.PNG, &buf); err != nil {
		return Bitmap{}, fmt.Errorf("render chart: %w", err)
	}

	if strings.TrimSpace(v.Caption) == "" {
		return Bitmap{PNG: buf.Bytes(), Width: v.Width, Height: v.Height}, nil
	}

	img, err := png.Decode(&buf)
	if err != nil {
		return Bitmap{}, fmt.Errorf("decode chart: %w", err)
	}
	captioned := drawCaption(img, v.Caption)

	var out bytes.Buffer
	if err := png.Encode(&out, captioned); err != nil {
		return Bitmap{}, fmt.Errorf("encode chart: %w", err)
	}
	b := captioned.Bounds()
	return Bitmap{PNG: out.Bytes(), Width: b.Dx(), Height: b.Dy()}, nil
}

func buildChart(v View) chart.Chart {
	var ticks []chart.Tick
	series := make([]chart.Series, 0, len(v.Series))
	for i, s := range v.Series {
		xs := make([]float64, len(s.Values))
		ys := make([]float64, len(s.Values))
		for j, val := range s.Values {
			xs[j] = float64(j)
			ys[j] = val
		}
		// go-chart needs two X values to compute a range.
		if len(xs) == 1 {
			xs = append(xs, 1)
			ys = append(ys, ys[0])
		}

		col := palette[i%len(palette)]
		series = append(series, chart.ContinuousSeries{
			Name:    s.Name,
			XValues: xs,
			YValues: ys,
			Style: chart.Style{
				StrokeColor: col,
				StrokeWidth: 2,
				DotColor:    col,
				DotWidth:    3,
			},
		})

		if len(s.Labels) > len(ticks) {
			ticks = ticks[:0]
			for j, label := range s.Labels {
				ticks = append(ticks, chart.Tick{Value: float64(j), Label: label})
			}
		}
	}

	fg, bg := chart.ColorBlack, chart.ColorWhite
	if v.Style == StyleDark {
		fg, bg = drawing.ColorFromHex("e0e0e0"), drawing.ColorFromHex("1e1e1e")
	}

	ch := chart.Chart{
		Title:      v.Title,
		TitleStyle: chart.Style{FontColor: fg},
		Width:      v.Width,
		Height:     v.Height,
		Background: chart.Style{
			FillColor: bg,
			Padding:   chart.Box{Top: 40, Left: 16, Right: 16, Bottom: 28},
		},
		Canvas: chart.Style{FillColor: bg},
		XAxis: chart.XAxis{
			Style: chart.Style{FontColor: fg, StrokeColor: fg},
			Ticks: ticks,
		},
		YAxis: chart.YAxis{
			Style: chart.Style{FontColor: fg, StrokeColor: fg},
			Range: &chart.ContinuousRange{Min: v.YMin, Max: v.YMax},
		},
		Series: series,
	}
	if len(series) > 1 {
		ch.Elements = []chart.Renderable{chart.Legend(&ch)}
	}
	return ch
}

// drawCaption stamps text near the bottom-left corner on a dark band.
func drawCaption(img image.Image, text string) image.Image {
	b := img.Bounds()
	rgba := image.NewRGBA(b)
	draw.Draw(rgba, b, img, b.Min, draw.Src)

	face := basicfont.Face7x13
	pad := 6
	dr := &font.Drawer{Dst: rgba, Src: image.NewUniform(color.White), Face: face}
	tw := dr.MeasureString(text).Ceil()
	x := b.Min.X + 8
	y := b.Max.Y - 6

	band := image.Rect(x-pad, y-face.Metrics().Ascent.Ceil()-pad, x+tw+pad, y+pad/2)
	draw.Draw(rgba, band, image.NewUniform(color.RGBA{A: 200}), image.Point{}, draw.Over)

	dr.Dot = fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)}
	dr.DrawString(text)
	return rgba
}
