// Package preprocess normalizes frame geometry: it resizes accepted frames to
// the canonical size, builds the square detector input and records the affine
// mapping between detector space and canonical pixels.
package preprocess

import (
	"fmt"
	"image"
	"math"

	"golang.org/x/image/draw"

	"github.com/kozaktomas/faceclock/internal/config"
	"github.com/kozaktomas/faceclock/internal/facematch"
	"github.com/kozaktomas/faceclock/internal/imaging"
)

// Tensor normalization for the detector input.
const (
	TensorMean = 127.5
	TensorStd  = 128.0
)

// Mapping converts between canonical pixels and detector-space pixels:
// detector = canonical*scale - offset.
type Mapping struct {
	ScaleX  float64 `json:"scale_x"`
	ScaleY  float64 `json:"scale_y"`
	OffsetX float64 `json:"offset_x"`
	OffsetY float64 `json:"offset_y"`
}

// ToDetection maps a canonical point into detector space.
func (m Mapping) ToDetection(x, y float64) (float64, float64) {
	return x*m.ScaleX - m.OffsetX, y*m.ScaleY - m.OffsetY
}

// ToCanonical maps a detector-space point back into canonical pixels.
func (m Mapping) ToCanonical(x, y float64) (float64, float64) {
	return (x + m.OffsetX) / m.ScaleX, (y + m.OffsetY) / m.ScaleY
}

// BoxToCanonical maps a detector-space box into canonical pixels.
func (m Mapping) BoxToCanonical(b facematch.Box) facematch.Box {
	x1, y1 := m.ToCanonical(b.X, b.Y)
	x2, y2 := m.ToCanonical(b.X+b.W, b.Y+b.H)
	return facematch.BoxFromCorners(x1, y1, x2, y2)
}

// Result is the output of preprocessing one frame. Immutable once built.
type Result struct {
	Canonical      *image.RGBA
	Width          int
	Height         int
	OriginalWidth  int
	OriginalHeight int
	ScaleX         float64 // original -> canonical
	ScaleY         float64
	DetectionSize  int
	Mapping        Mapping
	Tensor         []float32 // CHW, DetectionSize x DetectionSize
}

// Preprocessor builds canonical frames and detector inputs.
type Preprocessor struct {
	canonicalSize int
	inputSize     int
	fitMode       string
}

// New creates a preprocessor from detection settings.
func New(cfg config.DetectionConfig) (*Preprocessor, error) {
	if cfg.FitMode != config.FitLetterbox && cfg.FitMode != config.FitCover {
		return nil, fmt.Errorf("unknown fit mode %q", cfg.FitMode)
	}
	if cfg.InputSize <= 0 || cfg.CanonicalSize <= 0 {
		return nil, fmt.Errorf("invalid sizes: input %d, canonical %d", cfg.InputSize, cfg.CanonicalSize)
	}
	return &Preprocessor{
		canonicalSize: cfg.CanonicalSize,
		inputSize:     cfg.InputSize,
		fitMode:       cfg.FitMode,
	}, nil
}

// Process resizes img to the canonical frame and builds the detector tensor.
func (p *Preprocessor) Process(img *image.RGBA) (*Result, error) {
	b := img.Bounds()
	ow, oh := b.Dx(), b.Dy()
	if ow == 0 || oh == 0 {
		return nil, imaging.ErrEmptyImage
	}

	cw, ch := imaging.FitInside(ow, oh, p.canonicalSize)
	canonical := img
	if cw != ow || ch != oh {
		canonical = imaging.Resize(img, cw, ch)
	}

	square, mapping := p.detectorInput(canonical)

	return &Result{
		Canonical:      canonical,
		Width:          cw,
		Height:         ch,
		OriginalWidth:  ow,
		OriginalHeight: oh,
		ScaleX:         float64(cw) / float64(ow),
		ScaleY:         float64(ch) / float64(oh),
		DetectionSize:  p.inputSize,
		Mapping:        mapping,
		Tensor:         imaging.CHWTensor(square, TensorMean, TensorStd),
	}, nil
}

// detectorInput renders the canonical frame into the detector square and
// returns the mapping derived from the integer rectangle actually drawn.
func (p *Preprocessor) detectorInput(canonical *image.RGBA) (*image.RGBA, Mapping) {
	w, h := canonical.Bounds().Dx(), canonical.Bounds().Dy()
	square := image.NewRGBA(image.Rect(0, 0, p.inputSize, p.inputSize))
	r := fitRect(w, h, p.inputSize, p.fitMode)
	draw.BiLinear.Scale(square, r, canonical, canonical.Bounds(), draw.Src, nil)
	return square, mappingFor(w, h, r)
}

// NewMapping computes the detector mapping for a w x h canonical frame without rendering.
func NewMapping(w, h, size int, fitMode string) Mapping {
	return mappingFor(w, h, fitRect(w, h, size, fitMode))
}

// fitRect returns where the scaled frame lands inside the size x size square.
// Under cover the rectangle overhangs the square and its origin is negative.
func fitRect(w, h, size int, fitMode string) image.Rectangle {
	s := float64(size)
	var scale float64
	if fitMode == config.FitCover {
		scale = math.Max(s/float64(w), s/float64(h))
	} else {
		scale = math.Min(s/float64(w), s/float64(h))
	}
	sw := max(1, int(math.Round(float64(w)*scale)))
	sh := max(1, int(math.Round(float64(h)*scale)))
	dx := (size - sw) / 2
	dy := (size - sh) / 2
	return image.Rect(dx, dy, dx+sw, dy+sh)
}

func mappingFor(w, h int, r image.Rectangle) Mapping {
	return Mapping{
		ScaleX:  float64(r.Dx()) / float64(w),
		ScaleY:  float64(r.Dy()) / float64(h),
		OffsetX: float64(-r.Min.X),
		OffsetY: float64(-r.Min.Y),
	}
}
