// Package inference is the boundary to the detector and recognizer models.
// Models run out of process; every call goes through a single-flight Executor.
package inference

import (
	"context"
	"errors"
)

// Named model inputs.
const (
	DetectorInput   = "input.1"
	RecognizerInput = "input.1"
)

var (
	// ErrQueueTimeout is returned when no inference slot frees up in time.
	ErrQueueTimeout = errors.New("inference queue timeout")
	// ErrExecutorClosed is returned for calls submitted after Close.
	ErrExecutorClosed = errors.New("inference executor closed")
	// ErrEmptyEmbedding is returned when the recognizer produced no vector.
	ErrEmptyEmbedding = errors.New("empty embedding returned")
)

// Tensor is a named dense float32 tensor.
type Tensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float32 `json:"-"`
}

// StrideOutput is the raw detector output for one anchor grid.
type StrideOutput struct {
	Stride        int       `json:"stride"`
	ScoreChannels int       `json:"score_channels"` // 1 = face score, 2 = [background, face]
	Scores        []float32 `json:"scores"`
	Boxes         []float32 `json:"boxes"`     // 4 distances per anchor: left, top, right, bottom
	Landmarks     []float32 `json:"landmarks"` // 10 offsets per anchor, empty when the model has no landmark head
}

// DetectorOutput holds one StrideOutput per detector stride.
type DetectorOutput struct {
	Strides []StrideOutput `json:"strides"`
}

// Engine runs the models. Implementations need not be safe for concurrent use.
type Engine interface {
	// Detect runs the face detector on a CHW tensor.
	Detect(ctx context.Context, input Tensor) (*DetectorOutput, error)
	// Embed runs the recognizer on a CHW face crop tensor.
	Embed(ctx context.Context, input Tensor) ([]float32, error)
}
