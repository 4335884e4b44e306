// Package imaging holds the pixel-level operations shared by the quality
// gate, the canonical preprocessor and the face cropper.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"math"
	"sort"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

var (
	// ErrEmptyImage is returned for zero-sized images.
	ErrEmptyImage = errors.New("empty image")
	// ErrInvalidImage is returned when data is not a supported image format.
	ErrInvalidImage = errors.New("invalid image")
)

// Decode decodes JPEG, PNG, GIF, BMP or WebP data into an RGBA image anchored at (0,0).
func Decode(data []byte) (*image.RGBA, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidImage, err)
	}
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, ErrEmptyImage
	}
	return ToRGBA(img), nil
}

// ToRGBA copies img into a new RGBA image with origin (0,0).
func ToRGBA(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

// EncodeJPEG encodes an image as JPEG.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), nil
}

// Resize scales an image to exactly width x height.
func Resize(img image.Image, width, height int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

// FitInside returns the dimensions of w x h scaled so the longer side equals size.
// Images smaller than size are scaled up.
func FitInside(w, h, size int) (int, int) {
	if w >= h {
		nh := int(math.Round(float64(h) * float64(size) / float64(w)))
		return size, max(1, nh)
	}
	nw := int(math.Round(float64(w) * float64(size) / float64(h)))
	return max(1, nw), size
}

// Luma returns the ITU-R BT.601 luma plane of img, row-major.
func Luma(img *image.RGBA) []float64 {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := make([]float64, w*h)
	for y := range h {
		row := img.Pix[y*img.Stride:]
		for x := range w {
			p := row[x*4:]
			out[y*w+x] = 0.299*float64(p[0]) + 0.587*float64(p[1]) + 0.114*float64(p[2])
		}
	}
	return out
}

// MeanBrightness returns mean luma scaled to 0..1.
func MeanBrightness(luma []float64) float64 {
	if len(luma) == 0 {
		return 0
	}
	var sum float64
	for _, v := range luma {
		sum += v
	}
	return sum / float64(len(luma)) / 255
}

// LaplacianVariance computes the variance of |4c - l - r - t - b| over interior pixels.
func LaplacianVariance(luma []float64, w, h int) float64 {
	if w < 3 || h < 3 {
		return 0
	}
	var sum, sumSq float64
	n := 0
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			i := y*w + x
			v := math.Abs(4*luma[i] - luma[i-1] - luma[i+1] - luma[i-w] - luma[i+w])
			sum += v
			sumSq += v * v
			n++
		}
	}
	mean := sum / float64(n)
	return sumSq/float64(n) - mean*mean
}

// AdjustBrightness shifts every channel by offset (in 0..1 units) and clamps.
func AdjustBrightness(img *image.RGBA, offset float64) *image.RGBA {
	dst := image.NewRGBA(img.Bounds())
	delta := offset * 255
	for i := 0; i < len(img.Pix); i += 4 {
		dst.Pix[i] = clamp8(float64(img.Pix[i]) + delta)
		dst.Pix[i+1] = clamp8(float64(img.Pix[i+1]) + delta)
		dst.Pix[i+2] = clamp8(float64(img.Pix[i+2]) + delta)
		dst.Pix[i+3] = img.Pix[i+3]
	}
	return dst
}

// Sharpen applies an unsharp mask: out = in + amount*(in - gaussian(in, sigma)).
func Sharpen(img *image.RGBA, sigma, amount float64) *image.RGBA {
	blurred := gaussianBlur(img, sigma)
	dst := image.NewRGBA(img.Bounds())
	for i := 0; i < len(img.Pix); i += 4 {
		for c := range 3 {
			orig := float64(img.Pix[i+c])
			dst.Pix[i+c] = clamp8(orig + amount*(orig-float64(blurred.Pix[i+c])))
		}
		dst.Pix[i+3] = img.Pix[i+3]
	}
	return dst
}

// NormalizeContrast stretches luma so the 1st and 99th percentiles span the full range.
func NormalizeContrast(img *image.RGBA) *image.RGBA {
	luma := Luma(img)
	if len(luma) == 0 {
		return img
	}
	sorted := make([]float64, len(luma))
	copy(sorted, luma)
	sort.Float64s(sorted)
	lo := sorted[len(sorted)/100]
	hi := sorted[len(sorted)-1-len(sorted)/100]
	if hi-lo < 1 {
		return img
	}
	scale := 255 / (hi - lo)
	dst := image.NewRGBA(img.Bounds())
	for i := 0; i < len(img.Pix); i += 4 {
		for c := range 3 {
			dst.Pix[i+c] = clamp8((float64(img.Pix[i+c]) - lo) * scale)
		}
		dst.Pix[i+3] = img.Pix[i+3]
	}
	return dst
}

// Crop copies the rectangle r out of img, clipped to its bounds.
func Crop(img *image.RGBA, r image.Rectangle) *image.RGBA {
	r = r.Intersect(img.Bounds())
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(dst, dst.Bounds(), img, r.Min, draw.Src)
	return dst
}

// CHWTensor lays out RGB pixels channel-first as (p - mean) / std.
func CHWTensor(img *image.RGBA, mean, std float32) []float32 {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	plane := w * h
	out := make([]float32, 3*plane)
	for y := range h {
		row := img.Pix[y*img.Stride:]
		for x := range w {
			p := row[x*4:]
			i := y*w + x
			out[i] = (float32(p[0]) - mean) / std
			out[plane+i] = (float32(p[1]) - mean) / std
			out[2*plane+i] = (float32(p[2]) - mean) / std
		}
	}
	return out
}

func gaussianBlur(img *image.RGBA, sigma float64) *image.RGBA {
	radius := int(math.Ceil(sigma * 3))
	if radius < 1 {
		return img
	}
	kernel := make([]float64, 2*radius+1)
	var total float64
	for i := -radius; i <= radius; i++ {
		v := math.Exp(-float64(i*i) / (2 * sigma * sigma))
		kernel[i+radius] = v
		total += v
	}
	for i := range kernel {
		kernel[i] /= total
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	tmp := make([]float64, len(img.Pix))
	for y := range h {
		for x := range w {
			for c := range 3 {
				var acc float64
				for k := -radius; k <= radius; k++ {
					xx := min(max(x+k, 0), w-1)
					acc += kernel[k+radius] * float64(img.Pix[y*img.Stride+xx*4+c])
				}
				tmp[y*img.Stride+x*4+c] = acc
			}
		}
	}

	dst := image.NewRGBA(b)
	for y := range h {
		for x := range w {
			for c := range 3 {
				var acc float64
				for k := -radius; k <= radius; k++ {
					yy := min(max(y+k, 0), h-1)
					acc += kernel[k+radius] * tmp[yy*img.Stride+x*4+c]
				}
				dst.Pix[y*dst.Stride+x*4+c] = clamp8(acc)
			}
			dst.Pix[y*dst.Stride+x*4+3] = img.Pix[y*img.Stride+x*4+3]
		}
	}
	return dst
}

func clamp8(v float64) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v + 0.5)
}
