package facematch

// ComputeIoU calculates Intersection over Union between two bounding boxes.
// bbox1 and bbox2 are [x1, y1, x2, y2] in the same coordinate system.
func ComputeIoU(bbox1, bbox2 []float64) float64 {
	if len(bbox1) != 4 || len(bbox2) != 4 {
		return 0
	}

	x1 := max(bbox1[0], bbox2[0])
	y1 := max(bbox1[1], bbox2[1])
	x2 := min(bbox1[2], bbox2[2])
	y2 := min(bbox1[3], bbox2[3])

	if x2 <= x1 || y2 <= y1 {
		return 0
	}

	intersection := (x2 - x1) * (y2 - y1)
	area1 := (bbox1[2] - bbox1[0]) * (bbox1[3] - bbox1[1])
	area2 := (bbox2[2] - bbox2[0]) * (bbox2[3] - bbox2[1])
	union := area1 + area2 - intersection

	if union <= 0 {
		return 0
	}

	return intersection / union
}

// IoU is ComputeIoU for Box values.
func IoU(a, b Box) float64 {
	return ComputeIoU(a.Corners(), b.Corners())
}

// ClampBox restricts a box to [0, width] x [0, height].
func ClampBox(b Box, width, height float64) Box {
	x1 := clamp(b.X, 0, width)
	y1 := clamp(b.Y, 0, height)
	x2 := clamp(b.X+b.W, 0, width)
	y2 := clamp(b.Y+b.H, 0, height)
	return BoxFromCorners(x1, y1, x2, y2)
}

// ExpandBox grows a box by margin times its size on every side.
func ExpandBox(b Box, margin float64) Box {
	dx, dy := b.W*margin, b.H*margin
	return Box{X: b.X - dx, Y: b.Y - dy, W: b.W + 2*dx, H: b.H + 2*dy}
}

// ConvertPixelBBoxToRelative converts pixel bbox to relative (0-1) coordinates.
// Input bbox is [x1, y1, x2, y2] in pixels, output is [x1, y1, x2, y2] in relative coords.
func ConvertPixelBBoxToRelative(bbox []float64, width, height int) []float64 {
	if len(bbox) != 4 || width <= 0 || height <= 0 {
		return bbox
	}
	return []float64{
		bbox[0] / float64(width),
		bbox[1] / float64(height),
		bbox[2] / float64(width),
		bbox[3] / float64(height),
	}
}

func clamp(v, lo, hi float64) float64 {
	return min(max(v, lo), hi)
}
