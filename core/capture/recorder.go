package capture

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"VizFM/logger"
	"VizFM/model"
)

// MediaTypeIntermediate is the declared media type of the chunks the
// production muxer emits.
const MediaTypeIntermediate = "video/mp2t"

// Config tunes the recorder.
type Config struct {
	CaptureFPS int
	MinBytes   int64 // finalize guard threshold
}

// Recorder samples finished frames plus the synchronized audio tap into an
// ordered chunk session. Only one recording may be in flight.
type Recorder struct {
	cfg      Config
	newMuxer MuxerFactory

	mu     sync.Mutex
	active *activeRecording
}

type activeRecording struct {
	session    *model.RecordingSession
	muxer      ChunkMuxer
	duration   time.Duration
	stop       chan struct{}
	captureEnd chan struct{}
	appendEnd  chan struct{}
}

// NewRecorder creates a recorder that builds one muxer per session.
func NewRecorder(cfg Config, newMuxer MuxerFactory) *Recorder {
	if cfg.CaptureFPS <= 0 {
		cfg.CaptureFPS = 30
	}
	return &Recorder{cfg: cfg, newMuxer: newMuxer}
}

// Active reports whether a recording is in flight.
func (r *Recorder) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active != nil
}

// Begin starts sampling the frame source and muxing it with the audio tap.
// Fails with ErrAlreadyRecording while another recording is in flight.
func (r *Recorder) Begin(ctx context.Context, frames FrameSource, audio *model.AudioAsset) (*model.RecordingSession, error) {
	r.mu.Lock()
	if r.active != nil {
		r.mu.Unlock()
		return nil, model.ErrAlreadyRecording
	}
	// reserve the slot before the muxer spins up
	rec := &activeRecording{
		stop:       make(chan struct{}),
		captureEnd: make(chan struct{}),
		appendEnd:  make(chan struct{}),
	}
	r.active = rec
	r.mu.Unlock()

	w, h, ok := frames.FrameSize()
	if !ok {
		r.clearActive()
		return nil, fmt.Errorf("frame source has no dimensions, no image loaded")
	}

	muxer, err := r.newMuxer()
	if err != nil {
		r.clearActive()
		return nil, fmt.Errorf("failed to create capture muxer: %w", err)
	}

	session := model.NewRecordingSession(uuid.NewString(), MediaTypeIntermediate)
	spec := MuxSpec{
		SessionID: session.ID,
		Width:     w,
		Height:    h,
		FPS:       r.cfg.CaptureFPS,
		Audio:     audio,
	}

	chunks, err := muxer.Start(ctx, spec)
	if err != nil {
		r.clearActive()
		releaseMuxer(muxer)
		return nil, fmt.Errorf("failed to start capture muxer: %w", err)
	}

	rec.session = session
	rec.muxer = muxer
	rec.duration = audio.Duration

	// chunk appender: arrival order is the session order
	go func() {
		defer close(rec.appendEnd)
		for c := range chunks {
			if !session.Append(c) {
				logger.Warn("chunk dropped after seal",
					logger.String("sessionId", session.ID),
					logger.Int("index", c.Index))
			}
		}
	}()

	// frame sampler at the configured capture rate
	go func() {
		defer close(rec.captureEnd)
		ticker := time.NewTicker(time.Second / time.Duration(r.cfg.CaptureFPS))
		defer ticker.Stop()
		for {
			select {
			case <-rec.stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				frame := frames.CaptureFrame()
				if frame == nil {
					continue // nothing to capture yet
				}
				if err := muxer.WriteFrame(frame); err != nil {
					logger.Warn("frame write failed",
						logger.String("sessionId", session.ID),
						logger.ErrorField(err))
					return
				}
			}
		}
	}()

	logger.Info("recording started",
		logger.String("sessionId", session.ID),
		logger.Int("width", w),
		logger.Int("height", h),
		logger.Int("captureFps", r.cfg.CaptureFPS))
	return session, nil
}

// Finalize seals the active session and hands back the assembled recording.
// Fails with ErrTooSmall when the capture produced implausibly little data,
// which signals a pipeline malfunction rather than a valid artifact.
func (r *Recorder) Finalize() (*model.SealedRecording, error) {
	r.mu.Lock()
	rec := r.active
	r.mu.Unlock()
	if rec == nil {
		return nil, fmt.Errorf("no recording in flight")
	}

	close(rec.stop)
	<-rec.captureEnd

	if err := rec.muxer.Finish(); err != nil {
		r.teardown(rec)
		return nil, fmt.Errorf("capture muxer finish failed: %w", err)
	}
	<-rec.appendEnd

	rec.session.Seal()
	size := rec.session.Size()
	chunkCount := rec.session.ChunkCount()
	releaseMuxer(rec.muxer)
	r.clearActive()

	logger.Info("recording sealed",
		logger.String("sessionId", rec.session.ID),
		logger.Int("chunks", chunkCount),
		logger.Int64("bytes", size))

	if size < r.cfg.MinBytes {
		return nil, fmt.Errorf("%w: %d bytes in %d chunks", model.ErrTooSmall, size, chunkCount)
	}

	return &model.SealedRecording{
		SessionID: rec.session.ID,
		MediaType: rec.session.MediaType,
		Data:      rec.session.Bytes(),
		Duration:  rec.duration,
	}, nil
}

// Abort tears down the active recording without the size guard, used when
// the surrounding job already failed.
func (r *Recorder) Abort() {
	r.mu.Lock()
	rec := r.active
	r.mu.Unlock()
	if rec == nil {
		return
	}
	r.teardown(rec)
}

func (r *Recorder) teardown(rec *activeRecording) {
	select {
	case <-rec.stop:
	default:
		close(rec.stop)
	}
	<-rec.captureEnd
	if rec.muxer != nil {
		if err := rec.muxer.Finish(); err != nil {
			logger.Warn("muxer finish during teardown failed", logger.ErrorField(err))
		}
		<-rec.appendEnd
		releaseMuxer(rec.muxer)
	}
	if rec.session != nil {
		rec.session.Seal()
	}
	r.clearActive()
}

func (r *Recorder) clearActive() {
	r.mu.Lock()
	r.active = nil
	r.mu.Unlock()
}

// releaseMuxer releases muxer resources, logging failures instead of
// escalating so cleanup never masks the original error.
func releaseMuxer(m ChunkMuxer) {
	if err := m.Release(); err != nil {
		logger.Warn("capture muxer release failed", logger.ErrorField(err))
	}
}
