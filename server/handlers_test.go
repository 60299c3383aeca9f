package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"VizFM/config"
	"VizFM/core/capture"
	"VizFM/core/dsp"
	"VizFM/core/export"
	"VizFM/core/player"
	"VizFM/core/session"
	"VizFM/core/visual"
	"VizFM/model"
)

// toneDecoder ignores its input and yields a fixed test tone.
type toneDecoder struct {
	duration time.Duration
}

func (d *toneDecoder) Decode([]byte) (*model.AudioAsset, error) {
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

// stubMuxer emits one synthetic transport chunk per written frame.
type stubMuxer struct {
	mu       sync.Mutex
	chunks   chan model.Chunk
	next     int
	finished bool
}

func (m *stubMuxer) Start(ctx context.Context, spec capture.MuxSpec) (<-chan model.Chunk, error) {
	m.chunks = make(chan model.Chunk, 256)
	return m.chunks, nil
}

func (m *stubMuxer) WriteFrame(*model.RenderFrame) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.finished {
		return fmt.Errorf("write after finish")
	}
	m.chunks <- model.Chunk{Index: m.next, Data: bytes.Repeat([]byte{0x47}, 1024)}
	m.next++
	return nil
}

func (m *stubMuxer) Finish() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.finished {
		m.finished = true
		close(m.chunks)
	}
	return nil
}

func (m *stubMuxer) Release() error { return nil }

// stubEngine remuxes by prefixing the recording bytes.
type stubEngine struct{}

func (stubEngine) Convert(ctx context.Context, rec *model.SealedRecording, progress chan<- float64) ([]byte, error) {
	if len(rec.Data) == 0 {
		return nil, fmt.Errorf("empty recording handed to engine")
	}
	select {
	case progress <- 100:
	default:
	}
	return append([]byte("ftypisom"), rec.Data...), nil
}

func (stubEngine) Release() error { return nil }

type apiRig struct {
	ts      *httptest.Server
	manager *export.Manager
}

func newAPIRig(t *testing.T, audioDur time.Duration) *apiRig {
	t.Helper()

	cfg := &config.Config{
		OutputWidth:      160,
		ArtifactFilename: "visualization.mp4",
	}

	analyzer, err := dsp.NewAnalyzer(&toneDecoder{duration: audioDur}, 128)
	if err != nil {
		t.Fatal(err)
	}
	effect, err := visual.NewDistortionEffect(visual.DefaultDistortionParams("#30c8ff"))
	if err != nil {
		t.Fatal(err)
	}
	pipeline := visual.NewPipeline(effect, cfg.OutputWidth)
	sess := session.New(analyzer, pipeline, visual.NewOverlay(40), player.NewClock(100))

	recorder := capture.NewRecorder(
		capture.Config{CaptureFPS: 100, MinBytes: 512},
		func() (capture.ChunkMuxer, error) { return &stubMuxer{}, nil })
	manager := export.NewManager(recorder,
		func() (export.Engine, error) { return stubEngine{}, nil },
		cfg.ArtifactFilename)
	sess.SetBusyCheck(func() bool { return manager.Active() != nil })

	handler := NewAPIHandler(context.Background(), cfg, sess, manager, nil, NewStatusHub())
	router := mux.NewRouter()
	handler.RegisterRoutes(router)

	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)
	return &apiRig{ts: ts, manager: manager}
}

func (r *apiRig) post(t *testing.T, path string, body []byte) (*http.Response, map[string]string) {
	t.Helper()
	resp, err := http.Post(r.ts.URL+path, "application/octet-stream", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s failed: %v", path, err)
	}
	defer resp.Body.Close()
	var fields map[string]string
	json.NewDecoder(resp.Body).Decode(&fields)
	return resp, fields
}

func (r *apiRig) uploadAssets(t *testing.T) {
	t.Helper()
	if resp, _ := r.post(t, "/api/audio", []byte("tone")); resp.StatusCode != http.StatusOK {
		t.Fatalf("audio upload status = %d", resp.StatusCode)
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
	if resp, _ := r.post(t, "/api/image", buf.Bytes()); resp.StatusCode != http.StatusOK {
		t.Fatalf("image upload status = %d", resp.StatusCode)
	}
}

func TestExportLifecycleOverHTTP(t *testing.T) {
	rig := newAPIRig(t, 300*time.Millisecond)
	rig.uploadAssets(t)

	resp, fields := rig.post(t, "/api/export", nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("export start status = %d, want 202", resp.StatusCode)
	}
	jobID := fields["jobId"]
	if jobID == "" {
		t.Fatal("export start returned no job id")
	}

	// the request context died with the 202; the job must keep running on
	// the server context and still complete
	job := rig.manager.LastJob()
	select {
	case <-job.Done():
	case <-time.After(10 * time.Second):
		t.Fatalf("export never finished, state %s", job.State())
	}
	if s := job.State(); s != model.ExportStateDone {
		t.Fatalf("final state = %s (err %v), want done", s, job.Err())
	}

	dl, err := http.Get(rig.ts.URL + "/api/export/" + jobID + "/download")
	if err != nil {
		t.Fatal(err)
	}
	defer dl.Body.Close()
	if dl.StatusCode != http.StatusOK {
		t.Fatalf("download status = %d", dl.StatusCode)
	}
	if ct := dl.Header.Get("Content-Type"); ct != "video/mp4" {
		t.Errorf("download Content-Type = %q, want video/mp4", ct)
	}
	data, _ := io.ReadAll(dl.Body)
	if !bytes.HasPrefix(data, []byte("ftypisom")) || len(data) <= len("ftypisom") {
		t.Error("downloaded artifact is empty or malformed")
	}

	st, err := http.Get(rig.ts.URL + "/api/status")
	if err != nil {
		t.Fatal(err)
	}
	defer st.Body.Close()
	var status StatusMessage
	json.NewDecoder(st.Body).Decode(&status)
	if status.State != model.ExportStateDone {
		t.Errorf("status state = %q, want done", status.State)
	}
	if status.Status != "Export MP4" {
		t.Errorf("status text = %q, want idle button text", status.Status)
	}
}

func TestExportErrorMappingOverHTTP(t *testing.T) {
	rig := newAPIRig(t, 500*time.Millisecond)

	// cancelling with nothing in flight
	req, _ := http.NewRequest(http.MethodDelete, rig.ts.URL+"/api/export", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("cancel without export status = %d, want 404", resp.StatusCode)
	}

	// exporting before any audio loads
	if resp, fields := rig.post(t, "/api/export", nil); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("export without audio status = %d, want 400", resp.StatusCode)
	} else if fields["error"] == "" {
		t.Error("400 response carries no error message")
	}

	rig.uploadAssets(t)
	if resp, _ := rig.post(t, "/api/export", nil); resp.StatusCode != http.StatusAccepted {
		t.Fatalf("export start status = %d, want 202", resp.StatusCode)
	}

	// a second export and an asset swap are both rejected while in flight
	if resp, _ := rig.post(t, "/api/export", nil); resp.StatusCode != http.StatusConflict {
		t.Errorf("concurrent export status = %d, want 409", resp.StatusCode)
	}
	if resp, _ := rig.post(t, "/api/audio", []byte("other")); resp.StatusCode != http.StatusConflict {
		t.Errorf("audio swap during export status = %d, want 409", resp.StatusCode)
	}

	job := rig.manager.LastJob()
	select {
	case <-job.Done():
	case <-time.After(10 * time.Second):
		t.Fatalf("export never finished, state %s", job.State())
	}
	if s := job.State(); s != model.ExportStateDone {
		t.Fatalf("final state = %s (err %v), the rejected requests must not disturb the job", s, job.Err())
	}

	// downloads for unknown jobs miss
	dl, err := http.Get(rig.ts.URL + "/api/export/no-such-job/download")
	if err != nil {
		t.Fatal(err)
	}
	dl.Body.Close()
	if dl.StatusCode != http.StatusNotFound {
		t.Errorf("unknown download status = %d, want 404", dl.StatusCode)
	}
}
