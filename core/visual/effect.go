package visual

import (
	"fmt"
	"image"
	"math"
	"strconv"
	"strings"

	"VizFM/model"
)

// Effect is the pluggable visual distortion applied to the base image each
// tick. Implementations must be pure: identical (base, snapshot) inputs
// produce identical output, and an all-zero snapshot must return the base
// image unchanged.
type Effect interface {
	Apply(base *image.RGBA, snap model.SpectrumSnapshot) *image.RGBA
}

// DistortionParams configure the default audio-reactive distortion.
type DistortionParams struct {
	AccentColor    string  // hex accent hue for the additive tint
	WarpAmplitude  float64 // max horizontal sampling offset in pixels
	WarpFrequency  float64 // full sine periods across the frame width
	TintStrength   float64 // accent blend at full influence, [0,1]
	FalloffSigma   float64 // zone-of-influence width as fraction of height
	InfluenceScale float64 // gain applied to the per-row influence sum
}

// DefaultDistortionParams returns the stock effect tuning.
func DefaultDistortionParams(accentColor string) DistortionParams {
	return DistortionParams{
		AccentColor:    accentColor,
		WarpAmplitude:  18,
		WarpFrequency:  3,
		TintStrength:   0.45,
		FalloffSigma:   0.08,
		InfluenceScale: 0.25,
	}
}

// DistortionEffect warps the horizontal sampling coordinate with a bounded
// sinusoid and tints the sampled color toward the accent hue, both driven by
// the spectrum. Frequency bin i perturbs the output row at i/N of frame
// height the most, with smooth falloff away from that row.
type DistortionEffect struct {
	params DistortionParams
	accR   float64
	accG   float64
	accB   float64
}

// NewDistortionEffect validates the parameters and compiles the accent color.
// A construction failure here is fatal to the session, mirroring a shader
// compile failure.
func NewDistortionEffect(p DistortionParams) (*DistortionEffect, error) {
	r, g, b, err := parseHexColor(p.AccentColor)
	if err != nil {
		return nil, fmt.Errorf("invalid accent color %q: %w", p.AccentColor, err)
	}
	if p.FalloffSigma <= 0 {
		return nil, fmt.Errorf("falloff sigma must be positive, got %v", p.FalloffSigma)
	}
	if p.WarpAmplitude < 0 || p.TintStrength < 0 || p.TintStrength > 1 {
		return nil, fmt.Errorf("distortion parameters out of range")
	}
	return &DistortionEffect{params: p, accR: r, accG: g, accB: b}, nil
}

// Apply renders one distorted frame from the base image.
func (e *DistortionEffect) Apply(base *image.RGBA, snap model.SpectrumSnapshot) *image.RGBA {
	bounds := base.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	out := image.NewRGBA(image.Rect(0, 0, w, h))

	influence := e.rowInfluence(snap, h)
	k := 2 * math.Pi * e.params.WarpFrequency / float64(w)

	for y := 0; y < h; y++ {
		inf := influence[y]
		tint := inf * e.params.TintStrength
		for x := 0; x < w; x++ {
			// phase depends on horizontal position, magnitude on influence
			offset := e.params.WarpAmplitude * inf * math.Sin(k*float64(x))
			r, g, b, a := sampleRowLinear(base, float64(x)+offset, y, w)

			r += e.accR * tint * 255
			g += e.accG * tint * 255
			b += e.accB * tint * 255

			i := out.PixOffset(x, y)
			out.Pix[i] = clamp8(r)
			out.Pix[i+1] = clamp8(g)
			out.Pix[i+2] = clamp8(b)
			out.Pix[i+3] = uint8(a)
		}
	}
	return out
}

// rowInfluence sums every bin's contribution at each output row. Bin i peaks
// at row i/N of the frame height and falls off as a Gaussian of the vertical
// distance.
func (e *DistortionEffect) rowInfluence(snap model.SpectrumSnapshot, h int) []float64 {
	n := len(snap)
	rows := make([]float64, h)
	if n == 0 {
		return rows
	}
	sigma := e.params.FalloffSigma
	for y := 0; y < h; y++ {
		yn := float64(y) / float64(h)
		var sum float64
		for i, mag := range snap {
			if mag == 0 {
				continue
			}
			d := (yn - float64(i)/float64(n)) / sigma
			sum += mag * math.Exp(-d*d)
		}
		v := sum * e.params.InfluenceScale
		if v > 1 {
			v = 1
		}
		rows[y] = v
	}
	return rows
}

// sampleRowLinear samples the base image at a fractional x with linear
// interpolation, clamped to the row bounds.
func sampleRowLinear(img *image.RGBA, fx float64, y, w int) (r, g, b, a float64) {
	if fx < 0 {
		fx = 0
	}
	if fx > float64(w-1) {
		fx = float64(w - 1)
	}
	x0 := int(fx)
	x1 := x0 + 1
	if x1 > w-1 {
		x1 = w - 1
	}
	frac := fx - float64(x0)

	i0 := img.PixOffset(x0, y)
	i1 := img.PixOffset(x1, y)
	r = float64(img.Pix[i0])*(1-frac) + float64(img.Pix[i1])*frac
	g = float64(img.Pix[i0+1])*(1-frac) + float64(img.Pix[i1+1])*frac
	b = float64(img.Pix[i0+2])*(1-frac) + float64(img.Pix[i1+2])*frac
	a = float64(img.Pix[i0+3])*(1-frac) + float64(img.Pix[i1+3])*frac
	return
}

// parseHexColor parses "#rrggbb" into normalized components.
func parseHexColor(s string) (r, g, b float64, err error) {
	s = strings.TrimPrefix(s, "#")
	if len(s) != 6 {
		return 0, 0, 0, fmt.Errorf("want 6 hex digits")
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, 0, 0, err
	}
	r = float64(v>>16&0xff) / 255
	g = float64(v>>8&0xff) / 255
	b = float64(v&0xff) / 255
	return r, g, b, nil
}

func clamp8(v float64) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
