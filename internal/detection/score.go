package detection

import (
	"math"
	"slices"
)

// LooksLikeProbability reports whether a raw score tensor already holds
// probabilities. It holds when there is at least one finite value, every
// finite value lies in [0, 1] and their median is below the 0.5 sigmoid
// midpoint: background anchors dominate every frame, so probability
// tensors have a low median.
func LooksLikeProbability(scores []float32) bool {
	finite := make([]float64, 0, len(scores))
	for _, s := range scores {
		v := float64(s)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		if v < 0 || v > 1 {
			return false
		}
		finite = append(finite, v)
	}
	if len(finite) == 0 {
		return false
	}
	return median(finite) < 0.5
}

// Sigmoid is the logistic function.
func Sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// sanitizeScore maps non-finite values to 0 and clamps to [0, 1].
func sanitizeScore(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return min(max(v, 0), 1)
}

func median(values []float64) float64 {
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	n := len(sorted)
	if n%2 == 0 {
		return (sorted[n/2-1] + sorted[n/2]) / 2
	}
	return sorted[n/2]
}
