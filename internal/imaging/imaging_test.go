package imaging

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math"
	"testing"
)

func createTestImage(width, height int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := range height {
		for x := range width {
			img.Set(x, y, c)
		}
	}
	return img
}

// checkerboard returns an image with alternating black and white cells of the given size.
func checkerboard(width, height, cell int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := range height {
		for x := range width {
			if (x/cell+y/cell)%2 == 0 {
				img.Set(x, y, color.White)
			} else {
				img.Set(x, y, color.Black)
			}
		}
	}
	return img
}

func TestDecode(t *testing.T) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, createTestImage(20, 10, color.White)); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}

	img, err := Decode(buf.Bytes())
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if img.Bounds().Dx() != 20 || img.Bounds().Dy() != 10 {
		t.Errorf("expected 20x10, got %dx%d", img.Bounds().Dx(), img.Bounds().Dy())
	}
}

func TestDecode_Invalid(t *testing.T) {
	if _, err := Decode([]byte("not an image")); !errors.Is(err, ErrInvalidImage) {
		t.Errorf("expected ErrInvalidImage, got %v", err)
	}
}

func TestEncodeJPEG_RoundTrip(t *testing.T) {
	data, err := EncodeJPEG(createTestImage(16, 16, color.Gray{Y: 128}), 85)
	if err != nil {
		t.Fatalf("EncodeJPEG failed: %v", err)
	}
	img, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if img.Bounds().Dx() != 16 {
		t.Errorf("expected width 16, got %d", img.Bounds().Dx())
	}
}

func TestFitInside(t *testing.T) {
	tests := []struct {
		name         string
		w, h, size   int
		wantW, wantH int
	}{
		{"landscape downscale", 2240, 1120, 1120, 1120, 560},
		{"portrait downscale", 1000, 2000, 1120, 560, 1120},
		{"square upscale", 640, 640, 1120, 1120, 1120},
		{"small landscape upscale", 800, 600, 1120, 1120, 840},
		{"extreme aspect", 5000, 1, 1120, 1120, 1},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w, h := FitInside(tc.w, tc.h, tc.size)
			if w != tc.wantW || h != tc.wantH {
				t.Errorf("FitInside(%d, %d, %d) = %dx%d; want %dx%d", tc.w, tc.h, tc.size, w, h, tc.wantW, tc.wantH)
			}
		})
	}
}

func TestMeanBrightness(t *testing.T) {
	tests := []struct {
		name     string
		c        color.Color
		expected float64
	}{
		{"black", color.Black, 0},
		{"white", color.White, 1},
		{"mid gray", color.Gray{Y: 128}, 128.0 / 255},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			img := createTestImage(8, 8, tc.c)
			result := MeanBrightness(Luma(img))
			if math.Abs(result-tc.expected) > 0.01 {
				t.Errorf("MeanBrightness = %f; want %f", result, tc.expected)
			}
		})
	}
}

func TestMeanBrightness_Empty(t *testing.T) {
	if got := MeanBrightness(nil); got != 0 {
		t.Errorf("expected 0 for empty luma, got %f", got)
	}
}

func TestLaplacianVariance(t *testing.T) {
	flat := createTestImage(32, 32, color.Gray{Y: 100})
	if v := LaplacianVariance(Luma(flat), 32, 32); v != 0 {
		t.Errorf("expected zero variance for flat image, got %f", v)
	}

	sharp := checkerboard(32, 32, 4)
	soft := gaussianBlur(sharp, 2)
	sharpVar := LaplacianVariance(Luma(sharp), 32, 32)
	softVar := LaplacianVariance(Luma(soft), 32, 32)
	if sharpVar <= softVar {
		t.Errorf("expected checkerboard (%f) to be sharper than its blurred copy (%f)", sharpVar, softVar)
	}
}

func TestLaplacianVariance_TooSmall(t *testing.T) {
	if v := LaplacianVariance([]float64{1, 2, 3, 4}, 2, 2); v != 0 {
		t.Errorf("expected 0 for 2x2 image, got %f", v)
	}
}

func TestAdjustBrightness(t *testing.T) {
	img := createTestImage(4, 4, color.Gray{Y: 100})

	brighter := AdjustBrightness(img, 0.2)
	if got := brighter.Pix[0]; got != 151 {
		t.Errorf("expected 151 after +0.2, got %d", got)
	}

	clamped := AdjustBrightness(img, 1)
	if got := clamped.Pix[0]; got != 255 {
		t.Errorf("expected clamp to 255, got %d", got)
	}
	if clamped.Pix[3] != 255 {
		t.Errorf("expected alpha preserved, got %d", clamped.Pix[3])
	}
}

func TestSharpen_IncreasesVariance(t *testing.T) {
	img := Resize(checkerboard(16, 16, 4), 64, 64)
	before := LaplacianVariance(Luma(img), 64, 64)
	after := LaplacianVariance(Luma(Sharpen(img, 1.5, 2)), 64, 64)
	if after <= before {
		t.Errorf("expected sharpening to increase variance: before=%f after=%f", before, after)
	}
}

func TestNormalizeContrast(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 10, 10))
	for y := range 10 {
		for x := range 10 {
			v := uint8(100 + x*5) // 100..145
			img.Set(x, y, color.RGBA{R: v, G: v, B: v, A: 255})
		}
	}

	out := NormalizeContrast(img)
	lo, hi := uint8(255), uint8(0)
	for i := 0; i < len(out.Pix); i += 4 {
		lo = min(lo, out.Pix[i])
		hi = max(hi, out.Pix[i])
	}
	if lo > 5 || hi < 250 {
		t.Errorf("expected stretched range, got [%d, %d]", lo, hi)
	}
}

func TestNormalizeContrast_Flat(t *testing.T) {
	img := createTestImage(4, 4, color.Gray{Y: 80})
	if out := NormalizeContrast(img); out.Pix[0] != 80 {
		t.Errorf("expected flat image unchanged, got %d", out.Pix[0])
	}
}

func TestCrop(t *testing.T) {
	img := checkerboard(20, 20, 5)
	out := Crop(img, image.Rect(15, 15, 30, 30))
	if out.Bounds().Dx() != 5 || out.Bounds().Dy() != 5 {
		t.Errorf("expected crop clipped to 5x5, got %dx%d", out.Bounds().Dx(), out.Bounds().Dy())
	}
}

func TestCHWTensor(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 1))
	img.Set(0, 0, color.RGBA{R: 255, G: 0, B: 128, A: 255})
	img.Set(1, 0, color.RGBA{R: 0, G: 255, B: 128, A: 255})

	tensor := CHWTensor(img, 127.5, 128)
	if len(tensor) != 6 {
		t.Fatalf("expected 6 values, got %d", len(tensor))
	}

	expected := []float32{
		(255 - 127.5) / 128, (0 - 127.5) / 128, // R plane
		(0 - 127.5) / 128, (255 - 127.5) / 128, // G plane
		(128 - 127.5) / 128, (128 - 127.5) / 128, // B plane
	}
	for i := range expected {
		if math.Abs(float64(tensor[i]-expected[i])) > 1e-6 {
			t.Errorf("tensor[%d] = %f; want %f", i, tensor[i], expected[i])
		}
	}
}
