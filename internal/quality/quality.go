// Package quality gates captured frames on resolution, lighting and
// sharpness before any detection work, repairing mildly blurry or badly
// exposed frames when it can.
package quality

import (
	"fmt"
	"image"
	"log"
	"math"

	"github.com/kozaktomas/faceclock/internal/config"
	"github.com/kozaktomas/faceclock/internal/constants"
	"github.com/kozaktomas/faceclock/internal/facematch"
	"github.com/kozaktomas/faceclock/internal/imaging"
)

// CameraClass is the capture class inferred from resolution, sharpness and device history.
type CameraClass string

const (
	CameraLow    CameraClass = "low"
	CameraMedium CameraClass = "medium"
	CameraHigh   CameraClass = "high"
)

// Tier is a device quality tier derived from its clock-in history.
type Tier string

const (
	TierUnknown Tier = ""
	TierLow     Tier = "low"
	TierMedium  Tier = "medium"
	TierHigh    Tier = "high"
)

const (
	aggressiveStrength = 1.2
	moderateStrength   = 1.0
)

// Options adjust a single gate check.
type Options struct {
	Strict     bool // enrollment-grade thresholds
	DeviceTier Tier // tier of the capturing device, if known
}

// Assessment describes an accepted frame.
type Assessment struct {
	Width                int         `json:"width"`
	Height               int         `json:"height"`
	Brightness           float64     `json:"brightness"`
	Variance             float64     `json:"variance"`
	OriginalVariance     float64     `json:"original_variance"`
	Sharpness            float64     `json:"sharpness"`
	BlurThreshold        float64     `json:"blur_threshold"`
	Camera               CameraClass `json:"camera"`
	EnhancementAttempted bool        `json:"enhancement_attempted"`
	Enhanced             bool        `json:"enhanced"`
	BrightnessCorrected  bool        `json:"brightness_corrected"`
	Warnings             []string    `json:"warnings,omitempty"`
}

// Gate applies the capture quality policy.
type Gate struct {
	cfg config.QualityConfig
}

// NewGate creates a quality gate.
func NewGate(cfg config.QualityConfig) *Gate {
	return &Gate{cfg: cfg}
}

// Check validates img and returns the frame to use downstream, which may be
// a brightness-corrected or enhanced copy. Failures are *facematch.Rejection.
func (g *Gate) Check(img *image.RGBA, opts Options) (*image.RGBA, *Assessment, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	a := &Assessment{Width: w, Height: h}

	if w < g.cfg.MinImageWidth {
		return nil, nil, facematch.RejectWithEvidence(constants.IssueImageTooSmall,
			"Image resolution too low. Please use a better camera", float64(w), float64(g.cfg.MinImageWidth))
	}
	if w < g.cfg.MinImageWidthStrict {
		if opts.Strict {
			return nil, nil, facematch.RejectWithEvidence(constants.IssueImageTooSmall,
				"Image resolution too low for registration", float64(w), float64(g.cfg.MinImageWidthStrict))
		}
		a.Warnings = append(a.Warnings, fmt.Sprintf("low resolution image (%dpx wide)", w))
	}

	luma := imaging.Luma(img)
	a.Brightness = imaging.MeanBrightness(luma)
	if err := g.checkLighting(a.Brightness); err != nil {
		return nil, nil, err
	}
	if a.Brightness < g.cfg.BrightnessMin || a.Brightness > g.cfg.BrightnessMax {
		offset := clamp(0.5-a.Brightness, -g.cfg.BrightnessMaxCorrection, g.cfg.BrightnessMaxCorrection)
		img = imaging.AdjustBrightness(img, offset)
		luma = imaging.Luma(img)
		a.Warnings = append(a.Warnings, fmt.Sprintf("brightness corrected from %.2f", a.Brightness))
		a.Brightness = imaging.MeanBrightness(luma)
		a.BrightnessCorrected = true
	}

	a.Variance = imaging.LaplacianVariance(luma, w, h)
	a.OriginalVariance = a.Variance
	a.Camera = g.cameraClass(w, a.Variance, opts.DeviceTier)

	veryBlurry := a.Variance < g.cfg.VeryBlurryVariance
	if strength, ok := g.enhancementStrength(a.Variance, a.Camera); ok {
		a.EnhancementAttempted = true
		enhanced := Enhance(img, strength)
		if v := imaging.LaplacianVariance(imaging.Luma(enhanced), w, h); v > a.Variance {
			img = enhanced
			a.Variance = v
			a.Enhanced = true
		}
	}

	a.BlurThreshold = g.blurThreshold(a, veryBlurry, opts.Strict)
	if a.Variance < a.BlurThreshold {
		log.Printf("Frame rejected as blurry: variance %.1f < %.1f (camera %s, enhanced %v)",
			a.Variance, a.BlurThreshold, a.Camera, a.Enhanced)
		return nil, nil, facematch.RejectWithEvidence(constants.IssueBlur,
			"Image is too blurry. Hold still and ensure camera is focused.", a.Variance, a.BlurThreshold)
	}

	a.Sharpness = math.Min(1, a.Variance/g.cfg.SharpnessScale)
	return img, a, nil
}

func (g *Gate) checkLighting(brightness float64) error {
	low := g.cfg.BrightnessMin * g.cfg.BrightnessRejectLow
	high := g.cfg.BrightnessMax * g.cfg.BrightnessRejectHigh
	if brightness < low {
		return facematch.RejectWithEvidence(constants.IssueLighting,
			"Image too dark. Adjust lighting. Not too dark or too bright", brightness, low)
	}
	if brightness > high {
		return facematch.RejectWithEvidence(constants.IssueLighting,
			"Image too bright. Adjust lighting. Not too dark or too bright", brightness, high)
	}
	return nil
}

func (g *Gate) cameraClass(width int, variance float64, tier Tier) CameraClass {
	switch {
	case tier == TierLow:
		return CameraLow
	case width < g.cfg.LowCameraWidth && variance < g.cfg.BlurThreshold:
		return CameraLow
	case width < g.cfg.LowCameraWidth || tier == TierMedium:
		return CameraMedium
	default:
		return CameraHigh
	}
}

// enhancementStrength picks aggressive enhancement for very blurry frames or
// low-class cameras and moderate enhancement for blurry frames.
func (g *Gate) enhancementStrength(variance float64, camera CameraClass) (float64, bool) {
	if variance >= g.cfg.BlurThreshold {
		return 0, false
	}
	if variance < g.cfg.VeryBlurryVariance || camera == CameraLow {
		return aggressiveStrength, true
	}
	if variance > g.cfg.EnhanceMinRatio*g.cfg.BlurThreshold {
		return moderateStrength, true
	}
	return 0, false
}

func (g *Gate) blurThreshold(a *Assessment, veryBlurry, strict bool) float64 {
	if strict {
		return g.cfg.BlurThresholdStrict
	}

	floor := g.cfg.BlurThreshold
	var threshold float64
	switch {
	case a.Camera == CameraLow:
		threshold = g.cfg.BlurThresholdLowCamera
	case a.Enhanced:
		threshold = floor * 0.6
	case a.EnhancementAttempted || veryBlurry:
		threshold = floor * 0.5
	case a.Camera == CameraMedium:
		threshold = floor * 0.8
	default:
		threshold = floor
	}

	if veryBlurry && a.Variance < threshold {
		if alt := math.Max(g.cfg.BlurThresholdLowCamera, a.Variance*1.5); alt < threshold {
			threshold = alt
		}
	}
	return threshold
}

// Enhance sharpens and contrast-normalizes a frame. Strength scales the
// sharpening radius and amount.
func Enhance(img *image.RGBA, strength float64) *image.RGBA {
	sigma := math.Min(1.5*strength, 3)
	amount := math.Min(strength, 2)
	return imaging.NormalizeContrast(imaging.Sharpen(img, sigma, amount))
}

// FrameScore combines sharpness, detection confidence and exposure into a 0..1 quality score.
func FrameScore(a *Assessment, detScore float64) float64 {
	if a == nil {
		return 0
	}
	exposure := clamp(1-math.Abs(a.Brightness-0.55)/0.45, 0, 1)
	return clamp(0.5*a.Sharpness+0.3*detScore+0.2*exposure, 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}
