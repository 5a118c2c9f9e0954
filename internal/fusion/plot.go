package fusion

import (
	"fmt"
	"image"
	"image/color"
	"io"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// PlotOptions controls PlotProjection output.
type PlotOptions struct {
	Title string
	// Background is drawn under the points when set.
	Background image.Image
	Width      vg.Length
	Height     vg.Length
	// Format is any format plot.WriterTo accepts: png, svg, pdf...
	Format string
}

// PlotProjection renders the projected pixels over the image area, coloured
// near-to-far from red to blue. Image rows grow downwards, so the y axis is
// flipped to keep the picture upright.
func PlotProjection(w io.Writer, proj *Projection, width, height int, opts PlotOptions) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("plot: image size %dx%d", width, height)
	}
	if opts.Width == 0 {
		opts.Width = 8 * vg.Inch
	}
	if opts.Height == 0 {
		opts.Height = opts.Width * vg.Length(height) / vg.Length(width)
	}
	if opts.Format == "" {
		opts.Format = "png"
	}

	p := plot.New()
	p.Title.Text = opts.Title
	p.X.Label.Text = "u (px)"
	p.Y.Label.Text = "v (px)"
	p.X.Min, p.X.Max = 0, float64(width)
	p.Y.Min, p.Y.Max = 0, float64(height)

	if opts.Background != nil {
		p.Add(plotter.NewImage(opts.Background, 0, 0, float64(width), float64(height)))
	}

	if proj != nil && proj.Len() > 0 {
		pts := make(plotter.XYs, proj.Len())
		for i, px := range proj.Pixels {
			pts[i] = plotter.XY{X: px.X, Y: float64(height) - px.Y}
		}
		sc, err := plotter.NewScatter(pts)
		if err != nil {
			return fmt.Errorf("plot: %w", err)
		}
		minD, maxD := depthRange(proj.Depths)
		sc.GlyphStyleFunc = func(i int) draw.GlyphStyle {
			return draw.GlyphStyle{
				Color:  depthColor(proj.Depths[i], minD, maxD),
				Radius: vg.Points(1.5),
				Shape:  draw.CircleGlyph{},
			}
		}
		p.Add(sc)
	}

	wt, err := p.WriterTo(opts.Width, opts.Height, opts.Format)
	if err != nil {
		return fmt.Errorf("plot: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("plot: %w", err)
	}
	return nil
}

func depthRange(d []float64) (float64, float64) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range d {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return lo, hi
}

func depthColor(d, lo, hi float64) color.Color {
	t := 0.0
	if hi > lo {
		t = (d - lo) / (hi - lo)
	}
	return color.RGBA{R: uint8(255 * (1 - t)), G: 64, B: uint8(255 * t), A: 255}
}
