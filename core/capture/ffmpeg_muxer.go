package capture

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"VizFM/core/audio"
	"VizFM/logger"
	"VizFM/model"
)

// FFmpegMuxer encodes raw RGBA frames plus the WAV audio tap into segmented
// MPEG-TS through an ffmpeg child process. Segments land in a scratch
// directory and are harvested by an fsnotify watcher as they stabilize, then
// emitted strictly in segment index order so concatenating the chunks yields
// one valid transport stream.
type FFmpegMuxer struct {
	ffmpegPath   string
	scratchRoot  string
	chunkSeconds int
	bitrate      string

	scratchDir string
	cmd        *exec.Cmd
	stdin      io.WriteCloser
	stderr     bytes.Buffer
	watcher    *fsnotify.Watcher
	chunks     chan model.Chunk
	watchEnd   chan struct{}
	frameBytes int

	// harvest state, shared between the watcher loop and the final scan
	harvestMu sync.Mutex
	emitted   map[int]bool
	ready     map[int][]byte
	next      int

	finishOnce  sync.Once
	finishErr   error
	releaseOnce sync.Once
	releaseErr  error
}

// NewFFmpegMuxer creates a muxer writing scratch files under scratchRoot.
func NewFFmpegMuxer(ffmpegPath, scratchRoot string, chunkSeconds int, bitrate string) *FFmpegMuxer {
	if chunkSeconds <= 0 {
		chunkSeconds = 1
	}
	return &FFmpegMuxer{
		ffmpegPath:   ffmpegPath,
		scratchRoot:  scratchRoot,
		chunkSeconds: chunkSeconds,
		bitrate:      bitrate,
		emitted:      make(map[int]bool),
		ready:        make(map[int][]byte),
	}
}

// Start writes the audio tap, launches ffmpeg, and begins watching for
// finished segments.
func (m *FFmpegMuxer) Start(ctx context.Context, spec MuxSpec) (<-chan model.Chunk, error) {
	if err := os.MkdirAll(m.scratchRoot, 0755); err != nil {
		return nil, fmt.Errorf("failed to create scratch root %s: %w", m.scratchRoot, err)
	}
	dir, err := os.MkdirTemp(m.scratchRoot, "capture-"+spec.SessionID+"-")
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}
	m.scratchDir = dir

	tapPath := filepath.Join(dir, "tap.wav")
	if err := audio.WriteTapWAV(spec.Audio, tapPath); err != nil {
		return nil, err
	}

	segmentPattern := filepath.Join(dir, "chunk_%05d.ts")
	args := []string{
		"-f", "rawvideo",
		"-pixel_format", "rgba",
		"-video_size", fmt.Sprintf("%dx%d", spec.Width, spec.Height),
		"-framerate", strconv.Itoa(spec.FPS),
		"-i", "pipe:0",
		"-i", tapPath,
		"-c:v", "libx264",
		"-preset", "ultrafast",
		"-pix_fmt", "yuv420p",
		"-c:a", "aac",
		"-b:a", m.bitrate,
		"-shortest",
		"-f", "segment",
		"-segment_time", strconv.Itoa(m.chunkSeconds),
		"-segment_format", "mpegts",
		segmentPattern,
	}

	cmd := exec.CommandContext(ctx, m.ffmpegPath, args...)
	cmd.Stderr = &m.stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open ffmpeg stdin: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create segment watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch scratch directory: %w", err)
	}

	if err := cmd.Start(); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	m.cmd = cmd
	m.stdin = stdin
	m.watcher = watcher
	m.frameBytes = spec.Width * spec.Height * 4
	m.chunks = make(chan model.Chunk, 16)
	m.watchEnd = make(chan struct{})

	go m.watchSegments(ctx)

	logger.Info("capture muxer started",
		logger.String("sessionId", spec.SessionID),
		logger.String("scratchDir", dir))
	return m.chunks, nil
}

// WriteFrame pipes one raw frame to the encoder.
func (m *FFmpegMuxer) WriteFrame(frame *model.RenderFrame) error {
	if len(frame.Pix.Pix) != m.frameBytes {
		return fmt.Errorf("frame size mismatch: got %d bytes, want %d", len(frame.Pix.Pix), m.frameBytes)
	}
	if _, err := m.stdin.Write(frame.Pix.Pix); err != nil {
		return fmt.Errorf("ffmpeg stdin write failed: %w\nFFmpeg Error: %s", err, m.stderr.String())
	}
	return nil
}

// watchSegments harvests segment files once they stop growing.
func (m *FFmpegMuxer) watchSegments(ctx context.Context) {
	defer close(m.watchEnd)

	pending := make(map[string]time.Time)
	checkTicker := time.NewTicker(50 * time.Millisecond)
	defer checkTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 && filepath.Ext(event.Name) == ".ts" {
				pending[event.Name] = time.Now()
			}

		case <-checkTicker.C:
			now := time.Now()
			for path, lastEvent := range pending {
				// a segment still being written sees fresh events
				if now.Sub(lastEvent) < 100*time.Millisecond {
					continue
				}
				if !isFileStable(path) {
					continue
				}
				if m.harvest(path) {
					delete(pending, path)
				}
			}

		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("segment watcher error", logger.ErrorField(err))
		}
	}
}

// harvest reads a completed segment and emits every chunk that is now next
// in index order. Returns false when the file could not be read yet.
func (m *FFmpegMuxer) harvest(path string) bool {
	idx, err := segmentIndex(path)
	if err != nil {
		return true // not a segment file, forget it
	}

	m.harvestMu.Lock()
	if m.emitted[idx] {
		m.harvestMu.Unlock()
		return true
	}
	data, err := os.ReadFile(path)
	if err != nil {
		m.harvestMu.Unlock()
		return false
	}
	m.emitted[idx] = true
	m.ready[idx] = data

	var emit []model.Chunk
	for {
		d, ok := m.ready[m.next]
		if !ok {
			break
		}
		delete(m.ready, m.next)
		emit = append(emit, model.Chunk{Index: m.next, Data: d})
		m.next++
	}
	m.harvestMu.Unlock()

	for _, c := range emit {
		m.chunks <- c
	}
	return true
}

// Finish closes the frame stream, waits for ffmpeg, harvests any segments
// the watcher missed, and closes the chunk channel.
func (m *FFmpegMuxer) Finish() error {
	m.finishOnce.Do(func() {
		if m.cmd == nil {
			return
		}
		m.stdin.Close()
		err := m.cmd.Wait()

		// let the watcher settle on the final segment events
		time.Sleep(200 * time.Millisecond)
		m.watcher.Close()
		<-m.watchEnd

		// final scan for segments the watcher never saw complete
		if paths, globErr := filepath.Glob(filepath.Join(m.scratchDir, "chunk_*.ts")); globErr == nil {
			sort.Strings(paths)
			for _, p := range paths {
				m.harvest(p)
			}
		}
		close(m.chunks)

		if err != nil {
			m.finishErr = fmt.Errorf("ffmpeg exited with error: %w\nFFmpeg Error: %s", err, m.stderr.String())
		}
	})
	return m.finishErr
}

// Release removes the scratch directory.
func (m *FFmpegMuxer) Release() error {
	m.releaseOnce.Do(func() {
		if m.scratchDir != "" {
			m.releaseErr = os.RemoveAll(m.scratchDir)
		}
	})
	return m.releaseErr
}

// isFileStable checks that a file has a nonzero size that is no longer
// changing.
func isFileStable(path string) bool {
	info1, err := os.Stat(path)
	if err != nil || info1.Size() == 0 {
		return false
	}
	time.Sleep(30 * time.Millisecond)
	info2, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info1.Size() == info2.Size()
}

// segmentIndex parses the numeric index out of chunk_%05d.ts.
func segmentIndex(path string) (int, error) {
	name := filepath.Base(path)
	name = strings.TrimPrefix(name, "chunk_")
	name = strings.TrimSuffix(name, ".ts")
	return strconv.Atoi(name)
}
