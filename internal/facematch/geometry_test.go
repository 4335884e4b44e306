package facematch

import (
	"math"
	"testing"
)

func TestComputeIoU(t *testing.T) {
	tests := []struct {
		name     string
		bbox1    []float64
		bbox2    []float64
		expected float64
	}{
		{
			name:     "identical boxes",
			bbox1:    []float64{0, 0, 10, 10},
			bbox2:    []float64{0, 0, 10, 10},
			expected: 1.0,
		},
		{
			name:     "no overlap",
			bbox1:    []float64{0, 0, 10, 10},
			bbox2:    []float64{20, 20, 30, 30},
			expected: 0.0,
		},
		{
			name:     "partial overlap",
			bbox1:    []float64{0, 0, 10, 10},
			bbox2:    []float64{5, 5, 15, 15},
			expected: 25.0 / 175.0, // intersection=25, union=100+100-25=175
		},
		{
			name:     "one inside other",
			bbox1:    []float64{0, 0, 20, 20},
			bbox2:    []float64{5, 5, 15, 15},
			expected: 100.0 / 400.0, // intersection=100, union=400 (larger box)
		},
		{
			name:     "invalid bbox1",
			bbox1:    []float64{0, 0, 10},
			bbox2:    []float64{0, 0, 10, 10},
			expected: 0.0,
		},
		{
			name:     "empty bboxes",
			bbox1:    []float64{},
			bbox2:    []float64{},
			expected: 0.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ComputeIoU(tt.bbox1, tt.bbox2)
			if math.Abs(result-tt.expected) > 0.0001 {
				t.Errorf("ComputeIoU(%v, %v) = %v, want %v", tt.bbox1, tt.bbox2, result, tt.expected)
			}
		})
	}
}

func TestConvertPixelBBoxToRelative(t *testing.T) {
	tests := []struct {
		name     string
		bbox     []float64
		width    int
		height   int
		expected []float64
	}{
		{
			name:     "simple conversion",
			bbox:     []float64{100, 200, 300, 400},
			width:    1000,
			height:   1000,
			expected: []float64{0.1, 0.2, 0.3, 0.4},
		},
		{
			name:     "full image",
			bbox:     []float64{0, 0, 1920, 1080},
			width:    1920,
			height:   1080,
			expected: []float64{0, 0, 1, 1},
		},
		{
			name:     "invalid bbox",
			bbox:     []float64{100, 200},
			width:    1000,
			height:   1000,
			expected: []float64{100, 200},
		},
		{
			name:     "zero dimensions",
			bbox:     []float64{100, 200, 300, 400},
			width:    0,
			height:   1000,
			expected: []float64{100, 200, 300, 400},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ConvertPixelBBoxToRelative(tt.bbox, tt.width, tt.height)
			if len(result) != len(tt.expected) {
				t.Errorf("ConvertPixelBBoxToRelative() length = %d, want %d", len(result), len(tt.expected))
				return
			}
			for i := range result {
				if math.Abs(result[i]-tt.expected[i]) > 0.0001 {
					t.Errorf("ConvertPixelBBoxToRelative()[%d] = %v, want %v", i, result[i], tt.expected[i])
				}
			}
		})
	}
}

func TestIoU_Box(t *testing.T) {
	// The duplicate pair used for NMS: two 100px boxes offset so IoU is ~0.73.
	a := Box{X: 0, Y: 0, W: 100, H: 100}
	b := Box{X: 0, Y: 0, W: 100, H: 73}
	if got := IoU(a, b); math.Abs(got-0.73) > 0.0001 {
		t.Errorf("IoU = %v, want 0.73", got)
	}
	if IoU(a, b) != IoU(b, a) {
		t.Error("IoU should be symmetric")
	}
}

func TestClampBox(t *testing.T) {
	tests := []struct {
		name     string
		box      Box
		expected Box
	}{
		{"inside", Box{X: 10, Y: 10, W: 20, H: 20}, Box{X: 10, Y: 10, W: 20, H: 20}},
		{"negative origin", Box{X: -10, Y: -5, W: 30, H: 20}, Box{X: 0, Y: 0, W: 20, H: 15}},
		{"past edge", Box{X: 90, Y: 40, W: 30, H: 30}, Box{X: 90, Y: 40, W: 10, H: 10}},
		{"fully outside", Box{X: 200, Y: 200, W: 10, H: 10}, Box{X: 100, Y: 50, W: 0, H: 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ClampBox(tt.box, 100, 50)
			if result != tt.expected {
				t.Errorf("ClampBox(%v) = %v, want %v", tt.box, result, tt.expected)
			}
		})
	}
}

func TestExpandBox(t *testing.T) {
	result := ExpandBox(Box{X: 100, Y: 100, W: 50, H: 100}, 0.1)
	expected := Box{X: 95, Y: 90, W: 60, H: 120}
	if math.Abs(result.X-expected.X) > 0.0001 || math.Abs(result.Y-expected.Y) > 0.0001 ||
		math.Abs(result.W-expected.W) > 0.0001 || math.Abs(result.H-expected.H) > 0.0001 {
		t.Errorf("ExpandBox() = %v, want %v", result, expected)
	}
	if c, e := result.Center(), expected.Center(); c != e {
		t.Errorf("expected centre preserved, got %v want %v", c, e)
	}
}

func TestBoxCorners(t *testing.T) {
	result := Box{X: 0.1, Y: 0.2, W: 0.3, H: 0.4}.Corners()
	expected := []float64{0.1, 0.2, 0.4, 0.6}
	for i := range result {
		if math.Abs(result[i]-expected[i]) > 0.0001 {
			t.Errorf("Corners() = %v, want %v", result, expected)
			break
		}
	}
	if back := BoxFromCorners(result[0], result[1], result[2], result[3]); math.Abs(back.W-0.3) > 0.0001 {
		t.Errorf("BoxFromCorners width = %v, want 0.3", back.W)
	}
}

func TestRejection_Error(t *testing.T) {
	plain := Reject("no_face", "no face detected")
	if plain.Error() != "no_face: no face detected" {
		t.Errorf("unexpected message: %s", plain.Error())
	}

	evidence := RejectWithEvidence("face_too_small", "face too small", 60, 85)
	expected := "face_too_small: face too small (value 60.00, threshold 85.00)"
	if evidence.Error() != expected {
		t.Errorf("expected %q, got %q", expected, evidence.Error())
	}
}
