package model

import (
	"image"
	"time"
)

// AudioAsset holds a fully decoded audio track: mono PCM samples plus the
// metadata probed from the source container. Immutable once decoded; the
// analyzer owns exactly one and destroys it when a new asset loads.
type AudioAsset struct {
	Samples    []float64 // mono, interleaved channels already mixed down
	SampleRate int
	Channels   int // channel count of the source, before mixdown
	Duration   time.Duration
}

// SampleAt returns the sample at index i, or zero outside the asset.
func (a *AudioAsset) SampleAt(i int) float64 {
	if i < 0 || i >= len(a.Samples) {
		return 0
	}
	return a.Samples[i]
}

// PositionToSample converts a playback position to a sample index.
func (a *AudioAsset) PositionToSample(pos time.Duration) int {
	return int(pos.Seconds() * float64(a.SampleRate))
}

// SpectrumSnapshot is one tick's worth of normalized per-bin magnitudes in
// [0,1]. Length is constant for the session so consumers index positionally.
type SpectrumSnapshot []float64

// Zero reports whether every bin is silent.
func (s SpectrumSnapshot) Zero() bool {
	for _, v := range s {
		if v != 0 {
			return false
		}
	}
	return true
}

// Sum returns the aggregate magnitude across all bins.
func (s SpectrumSnapshot) Sum() float64 {
	var total float64
	for _, v := range s {
		total += v
	}
	return total
}

// VisualAssetImage is a decoded still image plus its aspect ratio. Immutable
// once loaded; it fixes the frame dimensions for the session's lifetime.
type VisualAssetImage struct {
	Image  image.Image
	Width  int
	Height int
	Aspect float64 // width / height
}

// NewVisualAssetImage wraps a decoded image with its derived metadata.
func NewVisualAssetImage(img image.Image) *VisualAssetImage {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	aspect := 1.0
	if h > 0 {
		aspect = float64(w) / float64(h)
	}
	return &VisualAssetImage{Image: img, Width: w, Height: h, Aspect: aspect}
}

// FrameSize returns the output frame dimensions for a fixed logical width.
func (v *VisualAssetImage) FrameSize(outputWidth int) (int, int) {
	h := int(float64(outputWidth) / v.Aspect)
	if h < 1 {
		h = 1
	}
	return outputWidth, h
}

// RenderFrame is one rasterized output image for a tick. Ephemeral: shown or
// captured, then discarded.
type RenderFrame struct {
	Pix *image.RGBA
	Seq uint64 // production order, frames are never shown out of order
}

// OverlayFrame is the waveform overlay layer for a tick, composited over the
// render pipeline output.
type OverlayFrame struct {
	Pix *image.RGBA
}
