package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"VizFM/core/capture"
	"VizFM/core/dsp"
	"VizFM/core/player"
	"VizFM/core/visual"
	"VizFM/model"
)

// Session is the explicit context object holding the current audio asset,
// visual asset, and render loop. Components receive immutable snapshots
// through it instead of reaching into shared globals.
type Session struct {
	analyzer *dsp.Analyzer
	pipeline *visual.Pipeline
	overlay  *visual.Overlay
	clock    *player.Clock

	// busy reports whether an export job is active; asset swaps are
	// rejected while it returns true
	busy func() bool

	mu      sync.RWMutex
	current *model.RenderFrame
}

// New assembles a session from its components.
func New(analyzer *dsp.Analyzer, pipeline *visual.Pipeline, overlay *visual.Overlay, clock *player.Clock) *Session {
	return &Session{
		analyzer: analyzer,
		pipeline: pipeline,
		overlay:  overlay,
		clock:    clock,
		busy:     func() bool { return false },
	}
}

// SetBusyCheck installs the export-activity guard.
func (s *Session) SetBusyCheck(fn func() bool) {
	s.busy = fn
}

// LoadAudio decodes and installs a new audio asset. Rejected while an export
// is in flight.
func (s *Session) LoadAudio(data []byte) (*model.AudioAsset, error) {
	if s.busy() {
		return nil, fmt.Errorf("%w: cannot replace audio", model.ErrAlreadyRecording)
	}
	s.clock.Stop()
	return s.analyzer.LoadAsset(data)
}

// LoadImage decodes and installs a new base image, which resizes the output
// frame. Rejected while an export is in flight since it would invalidate the
// recording.
func (s *Session) LoadImage(data []byte) (*model.VisualAssetImage, error) {
	if s.busy() {
		return nil, fmt.Errorf("%w: cannot replace image", model.ErrAlreadyRecording)
	}
	return s.pipeline.LoadImage(data)
}

// Asset returns the loaded audio asset, nil if none.
func (s *Session) Asset() *model.AudioAsset {
	return s.analyzer.Asset()
}

// Image returns the loaded visual asset, nil if none.
func (s *Session) Image() *model.VisualAssetImage {
	return s.pipeline.Image()
}

// Frames exposes the session as the capture frame source.
func (s *Session) Frames() capture.FrameSource {
	return s
}

// FrameSize implements capture.FrameSource.
func (s *Session) FrameSize() (int, int, bool) {
	return s.pipeline.FrameSize()
}

// CaptureFrame implements capture.FrameSource: the most recent composited
// frame. Frames are replaced, never mutated, so the returned frame is safe to
// encode while the next one renders.
func (s *Session) CaptureFrame() *model.RenderFrame {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Play starts the playback clock over the loaded asset, rendering one frame
// per tick. onEnd fires once on the transition back to idle.
func (s *Session) Play(ctx context.Context, onEnd func(player.EndReason)) error {
	asset := s.analyzer.Asset()
	if asset == nil {
		return model.ErrNoAudioLoaded
	}

	s.clock.Start(ctx, asset.Duration, s.tick, func(reason player.EndReason) {
		s.analyzer.SetPlayback(false, nil)
		if onEnd != nil {
			onEnd(reason)
		}
	})
	// attach after Start: a replaced stream's end listener has already run
	// by now, so it cannot detach the playback source installed here
	s.analyzer.SetPlayback(true, s.clock.Position)
	return nil
}

// StopPlayback synchronously stops the clock, driving the natural-end
// transition.
func (s *Session) StopPlayback() {
	s.clock.Stop()
}

// Playing reports whether the clock is running.
func (s *Session) Playing() bool {
	return s.clock.State() == player.Playing
}

// tick renders one frame: snapshot, distort, overlay, composite. Before an
// image loads the tick is a no-op and display/capture skip it.
func (s *Session) tick(_ time.Duration) error {
	snap := s.analyzer.Snapshot()
	frame := s.pipeline.RenderFrame(snap)
	if frame == nil {
		return nil
	}

	w, h, _ := s.pipeline.FrameSize()
	ov := s.overlay.Render(snap, w, h)
	visual.Composite(frame, ov)

	s.mu.Lock()
	s.current = frame
	s.mu.Unlock()
	return nil
}
