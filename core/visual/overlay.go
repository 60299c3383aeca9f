package visual

import (
	"image"
	"math"

	"VizFM/model"
)

// Overlay derives a decorative mirrored envelope from the spectrum snapshot
// and rasterizes it as a translucent layer to composite over the render
// pipeline output.
type Overlay struct {
	sections      int
	baseWidthFrac float64 // max half-width of the envelope as fraction of frame width
	glowRadius    int
}

// NewOverlay creates an overlay with the given number of vertical sections.
func NewOverlay(sections int) *Overlay {
	if sections < 2 {
		sections = 2
	}
	return &Overlay{
		sections:      sections,
		baseWidthFrac: 0.35,
		glowRadius:    3,
	}
}

// Displacements computes one mirrored horizontal displacement per section:
// baseWidth * magnitude(section) * verticalTaper(section). The taper is a
// triangular window peaking at the vertical center, so the shape bulges most
// mid-frame. Snapshots shorter or longer than the section count are resampled
// by nearest-index lookup.
func (o *Overlay) Displacements(snap model.SpectrumSnapshot, w int) []float64 {
	baseWidth := o.baseWidthFrac * float64(w)
	disp := make([]float64, o.sections)
	for s := range disp {
		var mag float64
		if len(snap) > 0 {
			idx := s * len(snap) / o.sections
			if idx >= len(snap) {
				idx = len(snap) - 1
			}
			mag = snap[idx]
		}
		pos := float64(s) / float64(o.sections-1)
		taper := 1 - math.Abs(2*pos-1)
		disp[s] = baseWidth * mag * taper
	}
	return disp
}

// Render rasterizes the envelope for the given frame size. The left and
// right edges are smoothed with quadratic interpolation into a single closed
// path, filled with a top-to-bottom fading translucent gradient and stroked
// with a soft glow.
func (o *Overlay) Render(snap model.SpectrumSnapshot, w, h int) *model.OverlayFrame {
	pix := image.NewRGBA(image.Rect(0, 0, w, h))
	if w < 2 || h < 2 {
		return &model.OverlayFrame{Pix: pix}
	}

	disp := o.Displacements(snap, w)
	center := float64(w-1) / 2

	// control points of the right edge, top to bottom
	pts := make([][2]float64, o.sections)
	for s := range pts {
		y := float64(s) / float64(o.sections-1) * float64(h-1)
		pts[s] = [2]float64{center + disp[s], y}
	}

	rowRight := rasterizeEdge(pts, h, center)

	for y := 0; y < h; y++ {
		rx := rowRight[y]
		lx := float64(w-1) - rx // exact mirror of the right edge

		// fading gradient, strongest at the top
		t := float64(y) / float64(h-1)
		fillA := uint8(150 - t*120)

		x0 := int(math.Ceil(lx))
		x1 := int(math.Floor(rx))
		for x := x0; x <= x1; x++ {
			setOverlayPixel(pix, x, y, fillA)
		}

		// soft glow: faded stroke spilling outward from both edges
		rxi := int(math.Round(rx))
		lxi := (w - 1) - rxi
		for d := 0; d <= o.glowRadius; d++ {
			fall := 1 - float64(d)/float64(o.glowRadius+1)
			glowA := uint8(110 * fall * fall)
			setOverlayPixel(pix, rxi+d, y, glowA)
			setOverlayPixel(pix, lxi-d, y, glowA)
		}
	}

	return &model.OverlayFrame{Pix: pix}
}

// rasterizeEdge smooths the control points with a quadratic midpoint chain
// and resolves one x coordinate per output row.
func rasterizeEdge(pts [][2]float64, h int, fallback float64) []float64 {
	dense := smoothQuadratic(pts, 8)

	rows := make([]float64, h)
	for i := range rows {
		rows[i] = fallback
	}
	for i := 0; i < len(dense)-1; i++ {
		x0, y0 := dense[i][0], dense[i][1]
		x1, y1 := dense[i+1][0], dense[i+1][1]
		if y1 <= y0 {
			continue
		}
		for y := int(math.Ceil(y0)); float64(y) <= y1 && y < h; y++ {
			if y < 0 {
				continue
			}
			t := (float64(y) - y0) / (y1 - y0)
			rows[y] = x0 + (x1-x0)*t
		}
	}
	return rows
}

// smoothQuadratic expands a point sequence into a dense polyline using
// quadratic curves through consecutive midpoints, the usual canvas smoothing
// construction.
func smoothQuadratic(pts [][2]float64, steps int) [][2]float64 {
	n := len(pts)
	if n < 3 {
		return pts
	}

	out := make([][2]float64, 0, (n-1)*steps+1)
	out = append(out, pts[0])

	prev := pts[0]
	for i := 1; i < n-1; i++ {
		ctrl := pts[i]
		var end [2]float64
		if i == n-2 {
			end = pts[n-1]
		} else {
			end = [2]float64{
				(pts[i][0] + pts[i+1][0]) / 2,
				(pts[i][1] + pts[i+1][1]) / 2,
			}
		}
		for s := 1; s <= steps; s++ {
			t := float64(s) / float64(steps)
			out = append(out, quadPoint(prev, ctrl, end, t))
		}
		prev = end
	}
	return out
}

// quadPoint evaluates a quadratic Bezier at t.
func quadPoint(p0, c, p1 [2]float64, t float64) [2]float64 {
	u := 1 - t
	return [2]float64{
		u*u*p0[0] + 2*u*t*c[0] + t*t*p1[0],
		u*u*p0[1] + 2*u*t*c[1] + t*t*p1[1],
	}
}

// setOverlayPixel writes a premultiplied white pixel, keeping the stronger
// alpha when strokes and fill overlap.
func setOverlayPixel(pix *image.RGBA, x, y int, a uint8) {
	if x < 0 || y < 0 || x >= pix.Bounds().Dx() || y >= pix.Bounds().Dy() {
		return
	}
	i := pix.PixOffset(x, y)
	if pix.Pix[i+3] >= a {
		return
	}
	pix.Pix[i] = a
	pix.Pix[i+1] = a
	pix.Pix[i+2] = a
	pix.Pix[i+3] = a
}
