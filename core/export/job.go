package export

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"VizFM/core/capture"
	"VizFM/core/player"
	"VizFM/logger"
	"VizFM/model"
)

// Source is the session state an export drives: the loaded asset, the frame
// stream, and playback control. Stopping playback deterministically takes the
// natural-end path, so an externally cancelled export still finalizes.
type Source interface {
	Asset() *model.AudioAsset
	Frames() capture.FrameSource
	Play(ctx context.Context, onEnd func(player.EndReason)) error
	StopPlayback()
}

// Job tracks one export through Requested -> Recording -> Converting -> Done,
// with Aborted reachable from Recording or Converting on any failure.
type Job struct {
	ID string

	mu       sync.Mutex
	state    string
	progress int
	err      error
	artifact *model.Artifact
	created  time.Time
	duration time.Duration
	done     chan struct{}
}

func newJob() *Job {
	return &Job{
		ID:      uuid.NewString(),
		state:   model.ExportStateRequested,
		created: time.Now(),
		done:    make(chan struct{}),
	}
}

// State returns the job's current state constant.
func (j *Job) State() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Err returns the failure that aborted the job, nil otherwise.
func (j *Job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

// Artifact returns the deliverable once the job is Done.
func (j *Job) Artifact() *model.Artifact {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.artifact
}

// Progress returns conversion progress 0-100.
func (j *Job) Progress() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.progress
}

// Done closes when the job reaches a terminal state.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// StatusText is the textual status surface bound by the UI.
func (j *Job) StatusText() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	switch j.state {
	case model.ExportStateRequested, model.ExportStateRecording:
		return "Recording…"
	case model.ExportStateConverting:
		return fmt.Sprintf("Converting: %d%%", j.progress)
	default:
		return "Export MP4"
	}
}

// Record snapshots the job into a persistable export record.
func (j *Job) Record() *model.ExportRecord {
	j.mu.Lock()
	defer j.mu.Unlock()
	rec := &model.ExportRecord{
		ID:          j.ID,
		State:       j.state,
		DurationSec: j.duration.Seconds(),
		CreatedAt:   j.created,
		UpdatedAt:   time.Now(),
	}
	if j.artifact != nil {
		rec.Filename = j.artifact.Filename
		rec.MIMEType = j.artifact.MIMEType
		rec.SizeBytes = int64(len(j.artifact.Data))
	}
	if j.err != nil {
		rec.ErrorMsg = j.err.Error()
	}
	return rec
}

func (j *Job) terminal() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state == model.ExportStateDone || j.state == model.ExportStateAborted
}

// Manager owns the one-at-a-time export lifecycle. A second start request
// while a job is active is rejected, never queued.
type Manager struct {
	recorder  *capture.Recorder
	newEngine EngineFactory
	filename  string

	mu     sync.Mutex
	active *Job

	notify func(*Job)
}

// NewManager creates an export manager.
func NewManager(recorder *capture.Recorder, newEngine EngineFactory, filename string) *Manager {
	return &Manager{
		recorder:  recorder,
		newEngine: newEngine,
		filename:  filename,
	}
}

// SetNotify installs a hook invoked on every state or progress change, used
// for the UI status surface and persistence. Must be set before Start.
func (m *Manager) SetNotify(fn func(*Job)) {
	m.notify = fn
}

// Active returns the in-flight job, nil when idle.
func (m *Manager) Active() *Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil && m.active.terminal() {
		return nil
	}
	return m.active
}

// LastJob returns the most recent job regardless of state.
func (m *Manager) LastJob() *Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// StatusText is the idle-aware status surface.
func (m *Manager) StatusText() string {
	if job := m.Active(); job != nil {
		return job.StatusText()
	}
	return "Export MP4"
}

// Start begins an export for the session's current asset and image. Fails
// synchronously with ErrNoAudioLoaded before any recorder or engine is
// instantiated, and with ErrAlreadyRecording while another job is active.
func (m *Manager) Start(ctx context.Context, src Source) (*Job, error) {
	asset := src.Asset()
	if asset == nil {
		return nil, model.ErrNoAudioLoaded
	}

	m.mu.Lock()
	if m.active != nil && !m.active.terminal() {
		m.mu.Unlock()
		return nil, model.ErrAlreadyRecording
	}
	job := newJob()
	m.active = job
	m.mu.Unlock()

	session, err := m.recorder.Begin(ctx, src.Frames(), asset)
	if err != nil {
		m.abort(job, err)
		return nil, err
	}

	m.transition(job, model.ExportStateRecording)
	logger.Info("export started",
		logger.String("jobId", job.ID),
		logger.String("sessionId", session.ID))

	job.mu.Lock()
	job.duration = asset.Duration
	job.mu.Unlock()

	if err := src.Play(ctx, func(reason player.EndReason) {
		go m.onPlaybackEnd(ctx, job, reason)
	}); err != nil {
		m.recorder.Abort()
		m.abort(job, err)
		return nil, err
	}

	return job, nil
}

// onPlaybackEnd runs once the clock goes idle: finalize the capture, then
// convert.
func (m *Manager) onPlaybackEnd(ctx context.Context, job *Job, reason player.EndReason) {
	if job.terminal() {
		return
	}
	if reason == player.EndError {
		m.recorder.Abort()
		m.abort(job, fmt.Errorf("playback aborted"))
		return
	}

	sealed, err := m.recorder.Finalize()
	if err != nil {
		m.abort(job, err)
		return
	}

	m.convert(ctx, job, sealed)
}

// convert runs the transcoding engine and completes the job.
func (m *Manager) convert(ctx context.Context, job *Job, sealed *model.SealedRecording) {
	m.transition(job, model.ExportStateConverting)

	engine, err := m.newEngine()
	if err != nil {
		m.abort(job, &model.ConversionError{Err: err})
		return
	}
	defer func() {
		// cleanup failure is logged, never escalated, and never masks the
		// job's own outcome
		if relErr := engine.Release(); relErr != nil {
			logger.Warn("engine release failed",
				logger.String("jobId", job.ID),
				logger.ErrorField(relErr))
		}
	}()

	progress := make(chan float64, 8)
	progressDone := make(chan struct{})
	go func() {
		defer close(progressDone)
		for pct := range progress {
			p := int(pct)
			job.mu.Lock()
			changed := p != job.progress
			job.progress = p
			job.mu.Unlock()
			if changed && m.notify != nil {
				m.notify(job)
			}
		}
	}()

	data, err := engine.Convert(ctx, sealed, progress)
	close(progress)
	<-progressDone

	if err != nil {
		m.abort(job, &model.ConversionError{Err: err})
		return
	}

	job.mu.Lock()
	job.artifact = &model.Artifact{
		Data:     data,
		MIMEType: "video/mp4",
		Filename: m.filename,
	}
	job.progress = 100
	job.mu.Unlock()

	m.transition(job, model.ExportStateDone)
	close(job.done)
	logger.Info("export done",
		logger.String("jobId", job.ID),
		logger.Int("artifactBytes", len(data)))
}

func (m *Manager) transition(job *Job, state string) {
	job.mu.Lock()
	job.state = state
	job.mu.Unlock()
	if m.notify != nil {
		m.notify(job)
	}
}

// abort moves the job to Aborted with the original failure. Done closes on
// every terminal transition, including the synchronous Start failure paths,
// so a waiter holding the job is always released.
func (m *Manager) abort(job *Job, err error) {
	job.mu.Lock()
	alreadyTerminal := job.state == model.ExportStateDone || job.state == model.ExportStateAborted
	if !alreadyTerminal {
		job.state = model.ExportStateAborted
		job.err = err
	}
	job.mu.Unlock()
	if alreadyTerminal {
		return
	}

	logger.Error("export aborted",
		logger.String("jobId", job.ID),
		logger.ErrorField(err))
	if m.notify != nil {
		m.notify(job)
	}
	close(job.done)
}

// MapErrorMessage renders a failure into the single user-visible message the
// UI shows, distinguishing the taxonomy kinds.
func MapErrorMessage(err error) string {
	var de *model.DecodeError
	var ce *model.ConversionError
	switch {
	case errors.Is(err, model.ErrNoAudioLoaded):
		return "Load an audio file before exporting."
	case errors.Is(err, model.ErrAlreadyRecording):
		return "An export is already in progress."
	case errors.Is(err, model.ErrTooSmall):
		return "Recording malformed: the capture produced almost no data. Try again."
	case errors.As(err, &de):
		return de.Error()
	case errors.As(err, &ce):
		return ce.Error()
	default:
		return fmt.Sprintf("Export failed: %v", err)
	}
}
