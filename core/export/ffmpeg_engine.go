package export

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"VizFM/logger"
	"VizFM/model"
)

// FFmpegEngine converts the intermediate transport stream into an MP4 with
// ffmpeg, reporting conversion progress parsed from its -progress output.
type FFmpegEngine struct {
	ffmpegPath  string
	scratchRoot string
	scratchDir  string
}

// NewFFmpegEngine creates an engine writing scratch files under scratchRoot.
func NewFFmpegEngine(ffmpegPath, scratchRoot string) *FFmpegEngine {
	return &FFmpegEngine{ffmpegPath: ffmpegPath, scratchRoot: scratchRoot}
}

// Convert writes the recording to scratch, remuxes it into a faststart MP4,
// and reads the artifact back.
func (e *FFmpegEngine) Convert(ctx context.Context, rec *model.SealedRecording, progress chan<- float64) ([]byte, error) {
	if err := os.MkdirAll(e.scratchRoot, 0755); err != nil {
		return nil, fmt.Errorf("failed to create scratch root %s: %w", e.scratchRoot, err)
	}
	dir, err := os.MkdirTemp(e.scratchRoot, "convert-"+rec.SessionID+"-")
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}
	e.scratchDir = dir

	inPath := filepath.Join(dir, "recording.ts")
	outPath := filepath.Join(dir, "artifact.mp4")
	if err := os.WriteFile(inPath, rec.Data, 0644); err != nil {
		return nil, fmt.Errorf("failed to write recording: %w", err)
	}

	// streams are already encoded; the conversion is a container remux
	args := []string{
		"-progress", "pipe:1",
		"-i", inPath,
		"-c", "copy",
		"-movflags", "+faststart",
		"-f", "mp4",
		outPath,
	}

	cmd := exec.CommandContext(ctx, e.ffmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open ffmpeg stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	parserDone := make(chan struct{})
	go func() {
		defer close(parserDone)
		totalUS := rec.Duration.Microseconds()
		buf := make([]byte, 1024)
		for {
			n, err := stdout.Read(buf)
			if err != nil {
				return
			}
			for _, line := range strings.Split(string(buf[:n]), "\n") {
				if !strings.HasPrefix(line, "out_time_ms=") {
					continue
				}
				var us int64
				fmt.Sscanf(line, "out_time_ms=%d", &us)
				if totalUS <= 0 {
					continue
				}
				pct := float64(us) / float64(totalUS) * 100
				if pct > 100 {
					pct = 100
				}
				select {
				case progress <- pct:
				default:
				}
			}
		}
	}()

	waitErr := cmd.Wait()
	<-parserDone
	if waitErr != nil {
		return nil, fmt.Errorf("ffmpeg conversion failed: %w\nFFmpeg Error: %s", waitErr, stderr.String())
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("conversion produced an empty artifact")
	}

	logger.Info("conversion finished",
		logger.String("sessionId", rec.SessionID),
		logger.Int("artifactBytes", len(data)))
	return data, nil
}

// Release removes the engine's scratch files.
func (e *FFmpegEngine) Release() error {
	if e.scratchDir == "" {
		return nil
	}
	return os.RemoveAll(e.scratchDir)
}
