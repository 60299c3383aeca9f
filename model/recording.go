package model

import (
	"sync"
	"time"
)

// Chunk is one opaque encoded media chunk produced by the capture muxer.
type Chunk struct {
	Index int
	Data  []byte
}

// RecordingSession is an ordered sequence of encoded chunks plus a start
// timestamp and the declared media type. Chunks are appended in arrival order
// and concatenated byte-for-byte to reconstruct the recording; once sealed no
// further appends are accepted.
type RecordingSession struct {
	ID        string
	StartedAt time.Time
	MediaType string

	mu     sync.Mutex
	chunks []Chunk
	sealed bool
	size   int64
}

// NewRecordingSession creates an open session.
func NewRecordingSession(id, mediaType string) *RecordingSession {
	return &RecordingSession{
		ID:        id,
		StartedAt: time.Now(),
		MediaType: mediaType,
	}
}

// Append adds a chunk in arrival order. Appends after sealing are dropped.
func (s *RecordingSession) Append(c Chunk) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sealed {
		return false
	}
	s.chunks = append(s.chunks, c)
	s.size += int64(len(c.Data))
	return true
}

// Seal closes the session to further appends.
func (s *RecordingSession) Seal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sealed = true
}

// Sealed reports whether the session accepts more chunks.
func (s *RecordingSession) Sealed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sealed
}

// ChunkCount returns the number of appended chunks.
func (s *RecordingSession) ChunkCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chunks)
}

// Size returns the total byte size across all chunks.
func (s *RecordingSession) Size() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// Bytes concatenates all chunks in append order.
func (s *RecordingSession) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]byte, 0, s.size)
	for _, c := range s.chunks {
		out = append(out, c.Data...)
	}
	return out
}

// SealedRecording is the finalized capture handed to the transcode job.
type SealedRecording struct {
	SessionID string
	MediaType string
	Data      []byte
	Duration  time.Duration
}

// Artifact is the final deliverable: a byte blob with MIME type and a
// suggested filename.
type Artifact struct {
	Data     []byte
	MIMEType string
	Filename string
}
