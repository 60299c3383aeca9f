package capture

import (
	"context"

	"VizFM/model"
)

// MuxSpec describes one capture session to the muxer.
type MuxSpec struct {
	SessionID string
	Width     int
	Height    int
	FPS       int
	Audio     *model.AudioAsset // tapped, already decoded; never re-decoded
}

// ChunkMuxer multiplexes captured frames with the audio tap into a single
// chunked media stream. Chunks become available asynchronously on the channel
// returned by Start; after Finish the channel closes once the last chunk has
// been delivered. Finish and Release must tolerate repeated calls.
// Concatenating all chunk bytes in delivery order must reconstruct a playable
// recording.
type ChunkMuxer interface {
	Start(ctx context.Context, spec MuxSpec) (<-chan model.Chunk, error)
	WriteFrame(frame *model.RenderFrame) error
	Finish() error
	Release() error
}

// MuxerFactory creates one muxer per recording session.
type MuxerFactory func() (ChunkMuxer, error)

// FrameSource supplies finished frames to the recorder.
type FrameSource interface {
	// FrameSize reports the output dimensions, ok=false before an image loads.
	FrameSize() (w, h int, ok bool)
	// CaptureFrame returns the most recent composited frame, nil if none yet.
	CaptureFrame() *model.RenderFrame
}
