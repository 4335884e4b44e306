// Package embedding crops detected faces, runs the recognizer and compares
// the resulting unit vectors.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/kozaktomas/faceclock/internal/config"
	"github.com/kozaktomas/faceclock/internal/facematch"
	"github.com/kozaktomas/faceclock/internal/imaging"
	"github.com/kozaktomas/faceclock/internal/inference"
)

// Recognizer input normalization.
const (
	tensorMean = 127.5
	tensorStd  = 128.0
)

// ErrEmptyCrop is returned when a face box does not overlap the frame.
var ErrEmptyCrop = errors.New("face crop is empty")

// Embedder produces L2-normalized face embeddings.
type Embedder struct {
	engine inference.Engine
	cfg    config.EmbeddingConfig
}

// NewEmbedder creates an embedder running on engine.
func NewEmbedder(engine inference.Engine, cfg config.EmbeddingConfig) *Embedder {
	return &Embedder{engine: engine, cfg: cfg}
}

// Crop cuts the face out of frame with the configured margin and resizes it
// to the recognizer input size.
func (e *Embedder) Crop(frame *image.RGBA, box facematch.Box) (*image.RGBA, error) {
	b := frame.Bounds()
	expanded := facematch.ClampBox(facematch.ExpandBox(box, e.cfg.CropMargin), float64(b.Dx()), float64(b.Dy()))

	r := image.Rect(
		int(math.Floor(expanded.X)),
		int(math.Floor(expanded.Y)),
		int(math.Ceil(expanded.X+expanded.W)),
		int(math.Ceil(expanded.Y+expanded.H)),
	)
	if r.Empty() {
		return nil, ErrEmptyCrop
	}
	crop := imaging.Crop(frame, r)
	if crop.Bounds().Empty() {
		return nil, ErrEmptyCrop
	}
	return imaging.Resize(crop, e.cfg.InputSize, e.cfg.InputSize), nil
}

// Embed crops box out of frame and returns its unit-length embedding.
func (e *Embedder) Embed(ctx context.Context, frame *image.RGBA, box facematch.Box) ([]float32, error) {
	crop, err := e.Crop(frame, box)
	if err != nil {
		return nil, err
	}

	raw, err := e.engine.Embed(ctx, inference.Tensor{
		Name:  inference.RecognizerInput,
		Shape: []int{1, 3, e.cfg.InputSize, e.cfg.InputSize},
		Data:  imaging.CHWTensor(crop, tensorMean, tensorStd),
	})
	if err != nil {
		return nil, fmt.Errorf("embed face: %w", err)
	}
	if len(raw) == 0 {
		return nil, inference.ErrEmptyEmbedding
	}
	if e.cfg.Dim > 0 && len(raw) != e.cfg.Dim {
		return nil, fmt.Errorf("expected %d-dimensional embedding, got %d", e.cfg.Dim, len(raw))
	}

	vec, ok := L2Normalize(raw)
	if !ok {
		return nil, fmt.Errorf("embed face: zero embedding")
	}
	return vec, nil
}

// L2Normalize returns v scaled to unit length. It reports false for a zero
// or non-finite vector.
func L2Normalize(v []float32) ([]float32, bool) {
	n := Norm(v)
	if n == 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return nil, false
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / n)
	}
	return out, true
}

// Norm returns the Euclidean length of v.
func Norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// CosineSimilarity returns the cosine of the angle between a and b, clamped
// to [-1, 1]. Mismatched lengths, zero vectors and non-finite values give 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}

	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if math.IsNaN(sim) {
		return 0
	}
	return max(-1, min(1, sim))
}
