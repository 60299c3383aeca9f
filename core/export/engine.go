package export

import (
	"context"

	"VizFM/model"
)

// Engine is the container/codec transcoding collaborator. It is loaded on
// demand, used for exactly one conversion, and released afterwards.
//
// Convert feeds the sealed recording's concatenated bytes through the engine
// and returns the artifact bytes in the delivery format. Progress updates in
// [0,100] are sent on the channel as they become available without ever
// blocking the conversion; no sends happen after Convert returns.
type Engine interface {
	Convert(ctx context.Context, rec *model.SealedRecording, progress chan<- float64) ([]byte, error)
	Release() error
}

// EngineFactory loads a fresh engine for one export.
type EngineFactory func() (Engine, error)
