package dsp

import (
	"fmt"
	"math"
	"sync"
	"time"

	"VizFM/logger"
	"VizFM/model"
)

// Decoder turns opaque audio bytes into a decoded asset. The production
// implementation shells out to ffmpeg; tests supply synthetic assets.
type Decoder interface {
	Decode(data []byte) (*model.AudioAsset, error)
}

// Normalization range for bin magnitudes, in dBFS. Magnitudes at or below
// minDB map to 0, at or above maxDB map to 1.
const (
	minDB = -100.0
	maxDB = -30.0
)

// Analyzer exposes a live frequency-magnitude snapshot of the audio currently
// passing through playback. It exclusively owns the decoded asset; loading a
// new one destroys the previous.
type Analyzer struct {
	decoder    Decoder
	windowSize int
	window     []float64

	mu       sync.RWMutex
	asset    *model.AudioAsset
	playing  bool
	position func() time.Duration
}

// NewAnalyzer creates an analyzer with a fixed power-of-two analysis window.
// The window size is a configuration constant; bins = windowSize/2.
func NewAnalyzer(decoder Decoder, windowSize int) (*Analyzer, error) {
	if !isPowerOfTwo(windowSize) {
		return nil, fmt.Errorf("fft window size must be a power of two, got %d", windowSize)
	}
	return &Analyzer{
		decoder:    decoder,
		windowSize: windowSize,
		window:     hannWindow(windowSize),
	}, nil
}

// Bins returns the constant snapshot length.
func (a *Analyzer) Bins() int {
	return a.windowSize / 2
}

// LoadAsset decodes the given bytes and takes ownership of the result,
// replacing any previously loaded asset.
func (a *Analyzer) LoadAsset(data []byte) (*model.AudioAsset, error) {
	asset, err := a.decoder.Decode(data)
	if err != nil {
		return nil, &model.DecodeError{Kind: "audio", Err: err}
	}

	a.mu.Lock()
	a.asset = asset
	a.playing = false
	a.position = nil
	a.mu.Unlock()

	logger.Info("audio asset loaded",
		logger.Int("sampleRate", asset.SampleRate),
		logger.Int("channels", asset.Channels),
		logger.Duration("duration", asset.Duration))
	return asset, nil
}

// Asset returns the currently loaded asset, or nil.
func (a *Analyzer) Asset() *model.AudioAsset {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.asset
}

// SetPlayback attaches or detaches a playback position source. While detached
// Snapshot returns zeros.
func (a *Analyzer) SetPlayback(active bool, position func() time.Duration) {
	a.mu.Lock()
	a.playing = active
	a.position = position
	a.mu.Unlock()
}

// Snapshot returns the magnitude distribution for the audio at the current
// playback position. Never blocks; with no active playback it returns a
// snapshot of zeros so the render loop can poll unconditionally.
func (a *Analyzer) Snapshot() model.SpectrumSnapshot {
	a.mu.RLock()
	asset := a.asset
	playing := a.playing
	position := a.position
	a.mu.RUnlock()

	snap := make(model.SpectrumSnapshot, a.windowSize/2)
	if !playing || asset == nil || position == nil {
		return snap
	}
	return a.SnapshotAt(asset, position())
}

// SnapshotAt computes the snapshot for an explicit asset position. Pure given
// (asset, pos), which keeps the render pipeline golden-testable.
func (a *Analyzer) SnapshotAt(asset *model.AudioAsset, pos time.Duration) model.SpectrumSnapshot {
	n := a.windowSize
	re := make([]float64, n)
	im := make([]float64, n)

	start := asset.PositionToSample(pos)
	var windowSum float64
	for i := 0; i < n; i++ {
		re[i] = asset.SampleAt(start+i) * a.window[i]
		windowSum += a.window[i]
	}

	fft(re, im)

	snap := make(model.SpectrumSnapshot, n/2)
	for k := range snap {
		mag := 2 * math.Hypot(re[k], im[k]) / windowSum
		snap[k] = normalizeMagnitude(mag)
	}
	return snap
}

// normalizeMagnitude maps a linear magnitude onto [0,1] through the
// [minDB, maxDB] decibel range.
func normalizeMagnitude(mag float64) float64 {
	if mag <= 0 {
		return 0
	}
	db := 20 * math.Log10(mag)
	v := (db - minDB) / (maxDB - minDB)
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
