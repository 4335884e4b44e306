package enrollment

import (
	"errors"
	"fmt"

	"github.com/kozaktomas/faceclock/internal/embedding"
)

// minWeightTotal is the detection score total below which weights fall back to equal.
const minWeightTotal = 1e-3

// Template is the weighted centroid of a person's live enrollment embeddings.
type Template struct {
	Vector    []float32 `json:"vector"`  // unit length
	Weights   []float64 `json:"weights"` // one per source, sum 1
	Norm      float64   `json:"norm"`    // magnitude of the weighted sum before normalization
	Sources   int       `json:"sources"`
	Attempted int       `json:"attempted"`
	Indices   []int     `json:"indices"` // input positions of the sources
}

// Weights returns detection-score proportional weights summing to 1, or equal
// weights when the scores are all near zero.
func Weights(scores []float64) []float64 {
	weights := make([]float64, len(scores))
	if len(scores) == 0 {
		return weights
	}

	var total float64
	for _, s := range scores {
		total += max(s, 0)
	}
	for i, s := range scores {
		if total < minWeightTotal {
			weights[i] = 1 / float64(len(scores))
		} else {
			weights[i] = max(s, 0) / total
		}
	}
	return weights
}

// BuildTemplate fuses embeddings into a template. scores are the detection
// scores of the sources, indices their input positions, attempted the number
// of images tried.
func BuildTemplate(embeddings [][]float32, scores []float64, indices []int, attempted int) (*Template, error) {
	if len(embeddings) == 0 {
		return nil, errors.New("no embeddings to build a template from")
	}
	if len(scores) != len(embeddings) {
		return nil, fmt.Errorf("got %d scores for %d embeddings", len(scores), len(embeddings))
	}

	dim := len(embeddings[0])
	weights := Weights(scores)
	sum := make([]float32, dim)
	for i, emb := range embeddings {
		if len(emb) != dim {
			return nil, fmt.Errorf("embedding %d has dimension %d, expected %d", i, len(emb), dim)
		}
		for j, v := range emb {
			sum[j] += float32(weights[i]) * v
		}
	}

	norm := embedding.Norm(sum)
	vec, ok := embedding.L2Normalize(sum)
	if !ok {
		return nil, errors.New("embeddings cancel out to a zero template")
	}

	return &Template{
		Vector:    vec,
		Weights:   weights,
		Norm:      norm,
		Sources:   len(embeddings),
		Attempted: attempted,
		Indices:   indices,
	}, nil
}
