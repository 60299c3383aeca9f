package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"VizFM/core/capture"
	"VizFM/core/dsp"
	"VizFM/core/player"
	"VizFM/core/session"
	"VizFM/core/visual"
	"VizFM/model"
)

// sineDecoder ignores its input and yields a fixed test tone, standing in for
// the ffmpeg decoder.
type sineDecoder struct {
	duration time.Duration
}

func (d *sineDecoder) Decode([]byte) (*model.AudioAsset, error) {
	rate := 8000
	n := int(float64(rate) * d.duration.Seconds())
	samples := make([]float64, n)
	for i := range samples {
		samples[i] = math.Sin(2 * math.Pi * 440 * float64(i) / float64(rate))
	}
	return &model.AudioAsset{
		Samples:    samples,
		SampleRate: rate,
		Channels:   1,
		Duration:   d.duration,
	}, nil
}

// testMuxer emits one synthetic transport chunk per written frame.
type testMuxer struct {
	mu       sync.Mutex
	chunks   chan model.Chunk
	next     int
	finished bool
}

func (m *testMuxer) Start(ctx context.Context, spec capture.MuxSpec) (<-chan model.Chunk, error) {
	m.chunks = make(chan model.Chunk, 256)
	return m.chunks, nil
}

func (m *testMuxer) WriteFrame(*model.RenderFrame) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.finished {
		return fmt.Errorf("write after finish")
	}
	m.chunks <- model.Chunk{Index: m.next, Data: bytes.Repeat([]byte{0x47}, 1024)}
	m.next++
	return nil
}

func (m *testMuxer) Finish() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.finished {
		m.finished = true
		close(m.chunks)
	}
	return nil
}

func (m *testMuxer) Release() error { return nil }

// testEngine remuxes by prefixing, reporting staged progress.
type testEngine struct {
	convertErr error
	released   atomic.Bool
}

func (e *testEngine) Convert(ctx context.Context, rec *model.SealedRecording, progress chan<- float64) ([]byte, error) {
	if e.convertErr != nil {
		return nil, e.convertErr
	}
	if len(rec.Data) == 0 {
		return nil, fmt.Errorf("empty recording handed to engine")
	}
	if rec.MediaType != capture.MediaTypeIntermediate {
		return nil, fmt.Errorf("unexpected intermediate media type %q", rec.MediaType)
	}
	for _, pct := range []float64{25, 50, 75, 100} {
		select {
		case progress <- pct:
		default:
		}
	}
	return append([]byte("ftypisom"), rec.Data...), nil
}

func (e *testEngine) Release() error {
	e.released.Store(true)
	return nil
}

// testRig wires a real session to the fake capture and transcode collaborators.
type testRig struct {
	sess    *session.Session
	manager *Manager

	muxerStarts  atomic.Int32
	engineStarts atomic.Int32
	engine       *testEngine
}

func newTestRig(t *testing.T, audioDur time.Duration) *testRig {
	t.Helper()

	analyzer, err := dsp.NewAnalyzer(&sineDecoder{duration: audioDur}, 128)
	if err != nil {
		t.Fatal(err)
	}
	effect, err := visual.NewDistortionEffect(visual.DefaultDistortionParams("#30c8ff"))
	if err != nil {
		t.Fatal(err)
	}
	pipeline := visual.NewPipeline(effect, 160)
	overlay := visual.NewOverlay(40)
	clock := player.NewClock(100)
	sess := session.New(analyzer, pipeline, overlay, clock)

	rig := &testRig{sess: sess, engine: &testEngine{}}

	recorder := capture.NewRecorder(
		capture.Config{CaptureFPS: 100, MinBytes: 512},
		func() (capture.ChunkMuxer, error) {
			rig.muxerStarts.Add(1)
			return &testMuxer{}, nil
		})
	rig.manager = NewManager(recorder,
		func() (Engine, error) {
			rig.engineStarts.Add(1)
			return rig.engine, nil
		},
		"visualization.mp4")
	sess.SetBusyCheck(func() bool { return rig.manager.Active() != nil })
	return rig
}

func (r *testRig) loadAssets(t *testing.T) {
	t.Helper()
	if _, err := r.sess.LoadAudio([]byte("tone")); err != nil {
		t.Fatalf("LoadAudio failed: %v", err)
	}

	img := image.NewRGBA(image.Rect(0, 0, 32, 24))
	for y := 0; y < 24; y++ {
		for x := 0; x < 32; x++ {
			img.SetRGBA(x, y, color.RGBA{uint8(x * 8), uint8(y * 10), 128, 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	if _, err := r.sess.LoadImage(buf.Bytes()); err != nil {
		t.Fatalf("LoadImage failed: %v", err)
	}
}

func waitJob(t *testing.T, job *Job) {
	t.Helper()
	select {
	case <-job.Done():
	case <-time.After(10 * time.Second):
		t.Fatalf("export did not finish, state %s", job.State())
	}
}

func TestExportEndToEnd(t *testing.T) {
	rig := newTestRig(t, 300*time.Millisecond)
	rig.loadAssets(t)

	job, err := rig.manager.Start(context.Background(), rig.sess)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if s := job.State(); s != model.ExportStateRecording {
		t.Errorf("state after Start = %s, want recording", s)
	}
	if got := job.StatusText(); got != "Recording…" {
		t.Errorf("status during recording = %q", got)
	}

	waitJob(t, job)

	if s := job.State(); s != model.ExportStateDone {
		t.Fatalf("final state = %s (err %v), want done", s, job.Err())
	}
	art := job.Artifact()
	if art == nil || len(art.Data) == 0 {
		t.Fatal("finished export carries no artifact")
	}
	if art.MIMEType != "video/mp4" {
		t.Errorf("artifact MIME = %q, want video/mp4", art.MIMEType)
	}
	if art.Filename != "visualization.mp4" {
		t.Errorf("artifact filename = %q", art.Filename)
	}
	if !bytes.HasPrefix(art.Data, []byte("ftypisom")) {
		t.Error("artifact does not start with the engine's container prefix")
	}
	if p := job.Progress(); p != 100 {
		t.Errorf("progress = %d, want 100", p)
	}
	if got := job.StatusText(); got != "Export MP4" {
		t.Errorf("status after done = %q", got)
	}
	if !rig.engine.released.Load() {
		t.Error("engine not released after conversion")
	}
	if rig.sess.Playing() {
		t.Error("playback should have ended with the export")
	}
}

func TestExportWithoutAudioFailsFast(t *testing.T) {
	rig := newTestRig(t, time.Second)
	// no assets loaded at all

	job, err := rig.manager.Start(context.Background(), rig.sess)
	if !errors.Is(err, model.ErrNoAudioLoaded) {
		t.Fatalf("Start error = %v, want ErrNoAudioLoaded", err)
	}
	if job != nil {
		t.Error("failed start must not hand back a job")
	}
	if n := rig.muxerStarts.Load(); n != 0 {
		t.Errorf("muxer instantiated %d times on a failed start", n)
	}
	if n := rig.engineStarts.Load(); n != 0 {
		t.Errorf("engine instantiated %d times on a failed start", n)
	}
}

func TestExportSyncFailureReleasesWaiters(t *testing.T) {
	rig := newTestRig(t, time.Second)
	// audio but no image: the recorder rejects the start synchronously
	if _, err := rig.sess.LoadAudio([]byte("tone")); err != nil {
		t.Fatal(err)
	}

	if _, err := rig.manager.Start(context.Background(), rig.sess); err == nil {
		t.Fatal("Start should fail without an image loaded")
	}

	job := rig.manager.LastJob()
	if job == nil {
		t.Fatal("a rejected start still leaves its aborted job visible")
	}
	if s := job.State(); s != model.ExportStateAborted {
		t.Errorf("state = %s, want aborted", s)
	}
	// Done must release even on the synchronous failure path
	select {
	case <-job.Done():
	case <-time.After(time.Second):
		t.Fatal("Done never closed for a synchronously aborted job")
	}
}

func TestExportSingleFlight(t *testing.T) {
	rig := newTestRig(t, 500*time.Millisecond)
	rig.loadAssets(t)

	first, err := rig.manager.Start(context.Background(), rig.sess)
	if err != nil {
		t.Fatalf("first Start failed: %v", err)
	}

	if _, err := rig.manager.Start(context.Background(), rig.sess); !errors.Is(err, model.ErrAlreadyRecording) {
		t.Fatalf("second Start error = %v, want ErrAlreadyRecording", err)
	}

	// asset swaps are rejected while the export is in flight
	if _, err := rig.sess.LoadAudio([]byte("other")); !errors.Is(err, model.ErrAlreadyRecording) {
		t.Errorf("LoadAudio during export error = %v, want ErrAlreadyRecording", err)
	}

	waitJob(t, first)
	if s := first.State(); s != model.ExportStateDone {
		t.Fatalf("first job state = %s (err %v), the rejected start must not disturb it", s, first.Err())
	}
}

func TestExportConversionFailure(t *testing.T) {
	rig := newTestRig(t, 200*time.Millisecond)
	rig.loadAssets(t)
	rig.engine.convertErr = fmt.Errorf("mp4 muxing failed")

	job, err := rig.manager.Start(context.Background(), rig.sess)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitJob(t, job)

	if s := job.State(); s != model.ExportStateAborted {
		t.Fatalf("state = %s, want aborted", s)
	}
	var ce *model.ConversionError
	if !errors.As(job.Err(), &ce) {
		t.Fatalf("job error = %v, want ConversionError", job.Err())
	}
	if job.Artifact() != nil {
		t.Error("aborted job must not expose an artifact")
	}
	if !rig.engine.released.Load() {
		t.Error("engine must be released even when conversion fails")
	}

	// the failure leaves the system ready for another attempt
	rig.engine.convertErr = nil
	second, err := rig.manager.Start(context.Background(), rig.sess)
	if err != nil {
		t.Fatalf("Start after failure = %v, want a fresh job", err)
	}
	waitJob(t, second)
	if s := second.State(); s != model.ExportStateDone {
		t.Fatalf("second job state = %s (err %v)", s, second.Err())
	}
}

func TestExportStopEarlyStillFinalizes(t *testing.T) {
	rig := newTestRig(t, 5*time.Second)
	rig.loadAssets(t)

	job, err := rig.manager.Start(context.Background(), rig.sess)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// give the capture loop time to produce frames, then cut playback short
	time.Sleep(200 * time.Millisecond)
	rig.sess.StopPlayback()

	waitJob(t, job)
	if s := job.State(); s != model.ExportStateDone {
		t.Fatalf("state after early stop = %s (err %v), want done", s, job.Err())
	}
	if art := job.Artifact(); art == nil || len(art.Data) == 0 {
		t.Fatal("early-stopped export should still deliver the partial artifact")
	}
}

func TestExportNotifySequence(t *testing.T) {
	rig := newTestRig(t, 200*time.Millisecond)
	rig.loadAssets(t)

	var mu sync.Mutex
	var states []string
	rig.manager.SetNotify(func(j *Job) {
		mu.Lock()
		states = append(states, j.State())
		mu.Unlock()
	})

	job, err := rig.manager.Start(context.Background(), rig.sess)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitJob(t, job)

	mu.Lock()
	defer mu.Unlock()
	if len(states) < 3 {
		t.Fatalf("notify fired %d times, want the full lifecycle", len(states))
	}
	if states[0] != model.ExportStateRecording {
		t.Errorf("first notification = %s, want recording", states[0])
	}
	if last := states[len(states)-1]; last != model.ExportStateDone {
		t.Errorf("last notification = %s, want done", last)
	}
}

func TestMapErrorMessage(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{model.ErrNoAudioLoaded, "Load an audio file before exporting."},
		{model.ErrAlreadyRecording, "An export is already in progress."},
		{fmt.Errorf("%w: 12 bytes", model.ErrTooSmall), "Recording malformed: the capture produced almost no data. Try again."},
	}
	for _, tt := range tests {
		if got := MapErrorMessage(tt.err); got != tt.want {
			t.Errorf("MapErrorMessage(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}

	if got := MapErrorMessage(fmt.Errorf("disk full")); got == "" {
		t.Error("unknown errors still need a user-facing message")
	}
}
