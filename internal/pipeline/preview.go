package pipeline

import (
	"context"
	"errors"
	"math"

	"github.com/kozaktomas/faceclock/internal/constants"
	"github.com/kozaktomas/faceclock/internal/detection"
	"github.com/kozaktomas/faceclock/internal/facematch"
	"github.com/kozaktomas/faceclock/internal/imaging"
)

// Feedback messages shown to the person in front of the camera.
const (
	feedbackNoFace        = "Position your face in the circle"
	feedbackMultipleFaces = "Multiple faces detected. Please ensure only you are in frame"
	feedbackTooSmall      = "Please move closer to the camera"
	feedbackTooLarge      = "Please move further from the camera"
	feedbackBlur          = "Image is too blurry. Hold still and ensure camera is focused."
	feedbackLighting      = "Adjust lighting. Not too dark or too bright"
	feedbackResolution    = "Image resolution too low. Please use a better camera"
	feedbackTilted        = "Look straight into the camera for better recognition"
	feedbackFaceCamera    = "Face the camera more directly for best results"
	feedbackLowQuality    = "Move to better lighting"
	feedbackPerfect       = "Perfect! Ready to capture ✓"
	feedbackExcellent     = "Excellent! Ready to capture ✓"
	feedbackGood          = "Good! Ready to capture ✓"
)

// PreviewMetadata locates the face for client overlays in relative (0-1) coordinates.
type PreviewMetadata struct {
	BBox       []float64             `json:"bbox,omitempty"` // [x1, y1, x2, y2]
	Landmarks  [][2]float64          `json:"landmarks,omitempty"`
	Attributes *detection.Attributes `json:"attributes,omitempty"`
	Brightness float64               `json:"brightness,omitempty"`
	Sharpness  float64               `json:"sharpness,omitempty"`
	Camera     string                `json:"camera,omitempty"`
	Warnings   []string              `json:"warnings,omitempty"`
}

// PreviewResult tells a capture client whether the current frame is usable.
type PreviewResult struct {
	Ready    bool            `json:"ready"`
	Quality  int             `json:"quality"` // detection score as a percentage
	Issues   []string        `json:"issues"`
	Feedback string          `json:"feedback"`
	Metadata PreviewMetadata `json:"metadata"`
}

// Preview validates a live frame without embedding it. Capture problems are
// reported as issues; only undecodable input and inference failures are errors.
func (p *Pipeline) Preview(ctx context.Context, data []byte) (*PreviewResult, error) {
	img, err := imaging.Decode(data)
	if err != nil {
		return nil, err
	}

	analysis, err := p.Analyze(ctx, img, Options{Mode: detection.ModeLive})
	if err != nil {
		var rej *facematch.Rejection
		if !errors.As(err, &rej) {
			return nil, err
		}
		return &PreviewResult{
			Issues:   []string{rej.Code},
			Feedback: rejectionFeedback(rej.Code),
		}, nil
	}

	face := analysis.Face()
	res := &PreviewResult{
		Quality: int(math.Round(face.Score * 100)),
		Issues:  []string{},
		Metadata: PreviewMetadata{
			BBox:       facematch.ConvertPixelBBoxToRelative(face.Box.Corners(), analysis.Frame.Width, analysis.Frame.Height),
			Brightness: analysis.Assessment.Brightness,
			Sharpness:  analysis.Assessment.Sharpness,
			Camera:     string(analysis.Assessment.Camera),
			Warnings:   analysis.Assessment.Warnings,
		},
	}

	if pts, ok := face.Landmarks.Points(); ok {
		for _, pt := range pts {
			res.Metadata.Landmarks = append(res.Metadata.Landmarks, [2]float64{
				pt.X / float64(analysis.Frame.Width),
				pt.Y / float64(analysis.Frame.Height),
			})
		}
		attrs := analysis.Attributes
		res.Metadata.Attributes = &attrs
	}

	// Head angle only blocks when it is severe and the detector is unsure.
	if deviation := angleDeviation(analysis.Attributes); deviation > 0 {
		switch {
		case deviation > constants.MaxFaceAngle*2.5 && face.Score < 0.70:
			res.Issues = append(res.Issues, constants.IssueAngleTooTilted)
			res.Feedback = feedbackTilted
		case deviation > constants.MaxFaceAngle*2.0 && face.Score < constants.ExcellentQuality:
			res.Feedback = feedbackFaceCamera
		}
	}

	if face.Score < constants.MinFaceQuality {
		res.Issues = append(res.Issues, constants.IssueQualityTooLow)
		if res.Feedback == "" {
			res.Feedback = feedbackLowQuality
		}
	}

	res.Ready = len(res.Issues) == 0
	if res.Feedback == "" {
		switch {
		case face.Score >= constants.ExcellentQuality:
			res.Feedback = feedbackPerfect
		case face.Score >= constants.GoodQuality:
			res.Feedback = feedbackExcellent
		default:
			res.Feedback = feedbackGood
		}
	}
	return res, nil
}

// angleDeviation estimates the larger of roll and yaw in degrees; 0 when unknown.
func angleDeviation(a detection.Attributes) float64 {
	if !a.Known {
		return 0
	}
	roll := math.Abs(a.RollDegrees)
	if roll > 90 {
		roll = 180 - roll
	}
	yaw := math.Abs(a.NoseOffset) * 45
	return math.Max(roll, yaw)
}

func rejectionFeedback(code string) string {
	switch code {
	case constants.IssueNoFace:
		return feedbackNoFace
	case constants.IssueMultipleFaces:
		return feedbackMultipleFaces
	case constants.IssueFaceTooSmall:
		return feedbackTooSmall
	case constants.IssueFaceTooLarge:
		return feedbackTooLarge
	case constants.IssueBlur:
		return feedbackBlur
	case constants.IssueLighting:
		return feedbackLighting
	case constants.IssueImageTooSmall:
		return feedbackResolution
	default:
		return feedbackNoFace
	}
}
