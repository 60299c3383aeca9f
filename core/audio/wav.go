package audio

import (
	"fmt"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"VizFM/model"
)

// WriteTapWAV writes the asset's PCM to a 16-bit mono WAV file. The capture
// muxer feeds this tap to ffmpeg so the recording reuses the already decoded
// samples instead of re-decoding the source.
func WriteTapWAV(asset *model.AudioAsset, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create wav tap %s: %w", path, err)
	}
	defer f.Close()

	enc := wav.NewEncoder(f, asset.SampleRate, 16, 1, 1)

	buf := &goaudio.IntBuffer{
		Format: &goaudio.Format{
			NumChannels: 1,
			SampleRate:  asset.SampleRate,
		},
		Data:           make([]int, len(asset.Samples)),
		SourceBitDepth: 16,
	}
	for i, s := range asset.Samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		buf.Data[i] = int(s * 32767)
	}

	if err := enc.Write(buf); err != nil {
		enc.Close()
		return fmt.Errorf("failed to write wav tap: %w", err)
	}
	return enc.Close()
}
