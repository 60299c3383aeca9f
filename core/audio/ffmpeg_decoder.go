package audio

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"VizFM/logger"
	"VizFM/model"
)

// FFmpegDecoder decodes arbitrary audio containers to mono PCM using ffmpeg,
// with ffprobe supplying the stream metadata.
type FFmpegDecoder struct {
	ffmpegPath string
	tempDir    string
}

// NewFFmpegDecoder creates a new FFmpegDecoder.
func NewFFmpegDecoder(ffmpegPath, tempDir string) *FFmpegDecoder {
	return &FFmpegDecoder{ffmpegPath: ffmpegPath, tempDir: tempDir}
}

// FFmpegPath returns the configured ffmpeg binary path.
func (d *FFmpegDecoder) FFmpegPath() string {
	return d.ffmpegPath
}

// ffprobeStreamInfo is the subset of ffprobe JSON output we care about.
type ffprobeStreamInfo struct {
	Streams []struct {
		CodecName  string `json:"codec_name"`
		SampleRate string `json:"sample_rate"`
		Channels   int    `json:"channels"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// probe runs ffprobe against the input file and parses stream metadata.
func (d *FFmpegDecoder) probe(inputFile string) (*ffprobeStreamInfo, error) {
	ffprobePath := strings.Replace(d.ffmpegPath, "ffmpeg", "ffprobe", 1)

	args := []string{
		"-v", "error",
		"-select_streams", "a:0",
		"-show_entries", "stream=codec_name,sample_rate,channels",
		"-show_entries", "format=duration",
		"-of", "json",
		inputFile,
	}

	cmd := exec.Command(ffprobePath, args...)
	var out bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffprobe execution failed for %s: %w\nFFprobe Error: %s", inputFile, err, stderr.String())
	}

	var info ffprobeStreamInfo
	if err := json.Unmarshal(out.Bytes(), &info); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ffprobe output: %w", err)
	}
	if len(info.Streams) == 0 {
		return nil, fmt.Errorf("no audio streams found in file")
	}
	return &info, nil
}

// Decode writes the bytes to a scratch file, probes them, and decodes to mono
// 64-bit float PCM at the source sample rate.
func (d *FFmpegDecoder) Decode(data []byte) (*model.AudioAsset, error) {
	if err := os.MkdirAll(d.tempDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create temp directory %s: %w", d.tempDir, err)
	}

	tmp, err := os.CreateTemp(d.tempDir, "decode-*.bin")
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("failed to write scratch file: %w", err)
	}
	tmp.Close()

	info, err := d.probe(tmpPath)
	if err != nil {
		return nil, err
	}

	sampleRate, err := strconv.Atoi(info.Streams[0].SampleRate)
	if err != nil || sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %q in ffprobe output", info.Streams[0].SampleRate)
	}
	channels := info.Streams[0].Channels

	args := []string{
		"-i", tmpPath,
		"-f", "f64le",
		"-acodec", "pcm_f64le",
		"-ac", "1",
		"-ar", strconv.Itoa(sampleRate),
		"pipe:1",
	}

	cmd := exec.Command(d.ffmpegPath, args...)
	var out bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg decode failed: %w\nFFmpeg Error: %s", err, stderr.String())
	}

	raw := out.Bytes()
	samples := make([]float64, len(raw)/8)
	for i := range samples {
		samples[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[i*8:]))
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("ffmpeg produced no samples")
	}

	duration := time.Duration(float64(len(samples)) / float64(sampleRate) * float64(time.Second))
	if info.Format.Duration != "" {
		if sec, err := strconv.ParseFloat(info.Format.Duration, 64); err == nil {
			duration = time.Duration(sec * float64(time.Second))
		}
	}

	logger.Debug("decoded audio asset",
		logger.String("codec", info.Streams[0].CodecName),
		logger.Int("samples", len(samples)),
		logger.Int("sampleRate", sampleRate))

	return &model.AudioAsset{
		Samples:    samples,
		SampleRate: sampleRate,
		Channels:   channels,
		Duration:   duration,
	}, nil
}

// ScratchDir returns a fresh per-session scratch directory under the
// decoder's temp root.
func (d *FFmpegDecoder) ScratchDir(prefix string) (string, error) {
	if err := os.MkdirAll(d.tempDir, 0755); err != nil {
		return "", err
	}
	return os.MkdirTemp(d.tempDir, prefix)
}
