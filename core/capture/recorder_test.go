package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"testing"
	"time"

	"VizFM/model"
)

// fakeFrames is a FrameSource producing a fixed-size frame on demand.
type fakeFrames struct {
	w, h  int
	ready bool
}

func (f *fakeFrames) FrameSize() (int, int, bool) { return f.w, f.h, f.ready }

func (f *fakeFrames) CaptureFrame() *model.RenderFrame {
	if !f.ready {
		return nil
	}
	return &model.RenderFrame{Pix: image.NewRGBA(image.Rect(0, 0, f.w, f.h))}
}

// fakeMuxer emits one synthetic chunk per written frame.
type fakeMuxer struct {
	mu       sync.Mutex
	chunks   chan model.Chunk
	next     int
	finished bool
	released bool

	startErr  error
	chunkSize int
}

func newFakeMuxer(chunkSize int) *fakeMuxer {
	return &fakeMuxer{chunkSize: chunkSize}
}

func (m *fakeMuxer) Start(ctx context.Context, spec MuxSpec) (<-chan model.Chunk, error) {
	if m.startErr != nil {
		return nil, m.startErr
	}
	if spec.Width <= 0 || spec.Height <= 0 {
		return nil, fmt.Errorf("bad frame size %dx%d", spec.Width, spec.Height)
	}
	m.chunks = make(chan model.Chunk, 256)
	return m.chunks, nil
}

func (m *fakeMuxer) WriteFrame(*model.RenderFrame) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.finished {
		return fmt.Errorf("write after finish")
	}
	m.chunks <- model.Chunk{Index: m.next, Data: bytes.Repeat([]byte{0x47}, m.chunkSize)}
	m.next++
	return nil
}

func (m *fakeMuxer) Finish() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.finished {
		m.finished = true
		close(m.chunks)
	}
	return nil
}

func (m *fakeMuxer) Release() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.released = true
	return nil
}

func testAudio(d time.Duration) *model.AudioAsset {
	rate := 8000
	n := int(float64(rate) * d.Seconds())
	return &model.AudioAsset{
		Samples:    make([]float64, n),
		SampleRate: rate,
		Channels:   1,
		Duration:   d,
	}
}

func TestRecorderBeginFinalize(t *testing.T) {
	mux := newFakeMuxer(4096)
	r := NewRecorder(Config{CaptureFPS: 100, MinBytes: 1024},
		func() (ChunkMuxer, error) { return mux, nil })

	frames := &fakeFrames{w: 320, h: 240, ready: true}
	session, err := r.Begin(context.Background(), frames, testAudio(time.Second))
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if !r.Active() {
		t.Error("recorder should report active while in flight")
	}
	if session.MediaType != MediaTypeIntermediate {
		t.Errorf("media type = %q, want %q", session.MediaType, MediaTypeIntermediate)
	}

	// let the sampler push a few frames through
	time.Sleep(100 * time.Millisecond)

	rec, err := r.Finalize()
	if err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	if r.Active() {
		t.Error("recorder still active after Finalize")
	}
	if len(rec.Data) == 0 {
		t.Fatal("sealed recording carries no data")
	}
	if int64(len(rec.Data)) != session.Size() {
		t.Errorf("sealed data %d bytes, session reports %d", len(rec.Data), session.Size())
	}
	if rec.Duration != time.Second {
		t.Errorf("duration = %v, want the audio duration", rec.Duration)
	}
	if !session.Sealed() {
		t.Error("session should be sealed after Finalize")
	}
	if !mux.released {
		t.Error("muxer not released after Finalize")
	}
}

func TestRecorderSingleFlight(t *testing.T) {
	r := NewRecorder(Config{CaptureFPS: 100, MinBytes: 0},
		func() (ChunkMuxer, error) { return newFakeMuxer(1024), nil })

	frames := &fakeFrames{w: 100, h: 100, ready: true}
	if _, err := r.Begin(context.Background(), frames, testAudio(time.Second)); err != nil {
		t.Fatalf("first Begin failed: %v", err)
	}
	if _, err := r.Begin(context.Background(), frames, testAudio(time.Second)); !errors.Is(err, model.ErrAlreadyRecording) {
		t.Fatalf("second Begin error = %v, want ErrAlreadyRecording", err)
	}

	r.Abort()
	if r.Active() {
		t.Error("recorder still active after Abort")
	}

	// the slot frees up once the first recording is gone
	if _, err := r.Begin(context.Background(), frames, testAudio(time.Second)); err != nil {
		t.Fatalf("Begin after Abort failed: %v", err)
	}
	r.Abort()
}

func TestRecorderTooSmall(t *testing.T) {
	mux := newFakeMuxer(16)
	r := NewRecorder(Config{CaptureFPS: 100, MinBytes: 1 << 20},
		func() (ChunkMuxer, error) { return mux, nil })

	frames := &fakeFrames{w: 100, h: 100, ready: true}
	if _, err := r.Begin(context.Background(), frames, testAudio(time.Second)); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	_, err := r.Finalize()
	if !errors.Is(err, model.ErrTooSmall) {
		t.Fatalf("Finalize error = %v, want ErrTooSmall", err)
	}
	if r.Active() {
		t.Error("recorder should clear the slot after a too-small finalize")
	}
	if !mux.released {
		t.Error("muxer not released after failed finalize")
	}
}

func TestRecorderRequiresFrameSize(t *testing.T) {
	r := NewRecorder(Config{CaptureFPS: 30, MinBytes: 0},
		func() (ChunkMuxer, error) { return newFakeMuxer(1024), nil })

	frames := &fakeFrames{ready: false} // no image loaded yet
	if _, err := r.Begin(context.Background(), frames, testAudio(time.Second)); err == nil {
		t.Fatal("Begin should fail without frame dimensions")
	}
	if r.Active() {
		t.Error("failed Begin must not hold the recording slot")
	}
}

func TestRecorderMuxerStartFailure(t *testing.T) {
	mux := newFakeMuxer(1024)
	mux.startErr = fmt.Errorf("encoder unavailable")
	r := NewRecorder(Config{CaptureFPS: 30, MinBytes: 0},
		func() (ChunkMuxer, error) { return mux, nil })

	frames := &fakeFrames{w: 100, h: 100, ready: true}
	if _, err := r.Begin(context.Background(), frames, testAudio(time.Second)); err == nil {
		t.Fatal("Begin should surface the muxer start failure")
	}
	if r.Active() {
		t.Error("failed Begin must not hold the recording slot")
	}
	if !mux.released {
		t.Error("muxer must be released when Start fails")
	}
}

func TestRecorderChunkArrivalOrder(t *testing.T) {
	mux := newFakeMuxer(512)
	r := NewRecorder(Config{CaptureFPS: 200, MinBytes: 0},
		func() (ChunkMuxer, error) { return mux, nil })

	frames := &fakeFrames{w: 64, h: 64, ready: true}
	session, err := r.Begin(context.Background(), frames, testAudio(time.Second))
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	time.Sleep(80 * time.Millisecond)

	rec, err := r.Finalize()
	if err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	if session.ChunkCount() < 2 {
		t.Fatalf("expected several chunks, got %d", session.ChunkCount())
	}
	// concatenation reconstructs exactly the emitted bytes
	if int64(len(rec.Data)) != int64(session.ChunkCount())*512 {
		t.Errorf("data = %d bytes across %d chunks of 512", len(rec.Data), session.ChunkCount())
	}
}
