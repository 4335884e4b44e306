package detection

import (
	"slices"

	"github.com/kozaktomas/faceclock/internal/facematch"
)

// NMS keeps the highest-scoring detection of every overlapping cluster.
// A detection is suppressed when its IoU with an already kept, higher-scored
// detection is at least iouThreshold. The result is sorted by score descending.
func NMS(dets []Detection, iouThreshold float64) []Detection {
	sorted := slices.Clone(dets)
	slices.SortStableFunc(sorted, func(a, b Detection) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		default:
			return 0
		}
	})

	kept := make([]Detection, 0, len(sorted))
	suppressed := make([]bool, len(sorted))
	for i := range sorted {
		if suppressed[i] {
			continue
		}
		kept = append(kept, sorted[i])
		for j := i + 1; j < len(sorted); j++ {
			if !suppressed[j] && facematch.IoU(sorted[i].Box, sorted[j].Box) >= iouThreshold {
				suppressed[j] = true
			}
		}
	}
	return kept
}
