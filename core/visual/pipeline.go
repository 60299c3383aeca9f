package visual

import (
	"bytes"
	"image"
	"image/draw"
	"sync"
	"sync/atomic"

	// register the raster formats the platform decodes
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"VizFM/logger"
	"VizFM/model"
)

// Pipeline turns the loaded still image plus a spectrum snapshot into one
// distorted frame per tick. It owns the scaled base image; the effect is
// pluggable.
type Pipeline struct {
	effect      Effect
	outputWidth int

	mu   sync.RWMutex
	meta *model.VisualAssetImage
	base *image.RGBA // pre-scaled to output size

	seq atomic.Uint64
}

// NewPipeline creates a render pipeline with a fixed logical output width.
func NewPipeline(effect Effect, outputWidth int) *Pipeline {
	return &Pipeline{effect: effect, outputWidth: outputWidth}
}

// LoadImage decodes the bytes and makes the result the session's base image.
// Frame dimensions are recomputed from the image aspect ratio.
func (p *Pipeline) LoadImage(data []byte) (*model.VisualAssetImage, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &model.DecodeError{Kind: "image", Err: err}
	}

	meta := model.NewVisualAssetImage(img)
	w, h := meta.FrameSize(p.outputWidth)
	base := scaleToRGBA(img, w, h)

	p.mu.Lock()
	p.meta = meta
	p.base = base
	p.mu.Unlock()

	logger.Info("visual asset loaded",
		logger.String("format", format),
		logger.Int("frameWidth", w),
		logger.Int("frameHeight", h))
	return meta, nil
}

// Image returns the current visual asset, or nil before any image loads.
func (p *Pipeline) Image() *model.VisualAssetImage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.meta
}

// FrameSize returns the output frame dimensions, ok=false before any image
// has loaded.
func (p *Pipeline) FrameSize() (w, h int, ok bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.base == nil {
		return 0, 0, false
	}
	b := p.base.Bounds()
	return b.Dx(), b.Dy(), true
}

// RenderFrame produces the distorted frame for the snapshot. Returns nil
// before an image is loaded; the caller skips display and capture for that
// tick.
func (p *Pipeline) RenderFrame(snap model.SpectrumSnapshot) *model.RenderFrame {
	p.mu.RLock()
	base := p.base
	p.mu.RUnlock()
	if base == nil {
		return nil
	}

	pix := p.effect.Apply(base, snap)
	return &model.RenderFrame{
		Pix: pix,
		Seq: p.seq.Add(1),
	}
}

// Composite draws the overlay over a rendered frame in place.
func Composite(frame *model.RenderFrame, overlay *model.OverlayFrame) {
	if frame == nil || overlay == nil {
		return
	}
	draw.Draw(frame.Pix, frame.Pix.Bounds(), overlay.Pix, image.Point{}, draw.Over)
}

// scaleToRGBA resizes the image to w×h with nearest-neighbor sampling.
func scaleToRGBA(src image.Image, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	sb := src.Bounds()
	sw, sh := sb.Dx(), sb.Dy()
	for y := 0; y < h; y++ {
		sy := sb.Min.Y + y*sh/h
		for x := 0; x < w; x++ {
			sx := sb.Min.X + x*sw/w
			dst.Set(x, y, src.At(sx, sy))
		}
	}
	return dst
}
