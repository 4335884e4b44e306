package pipeline

import (
	"context"
	"errors"
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/kozaktomas/faceclock/internal/config"
	"github.com/kozaktomas/faceclock/internal/constants"
	"github.com/kozaktomas/faceclock/internal/detection"
	"github.com/kozaktomas/faceclock/internal/embedding"
	"github.com/kozaktomas/faceclock/internal/facematch"
	"github.com/kozaktomas/faceclock/internal/imaging"
	"github.com/kozaktomas/faceclock/internal/inference"
	"github.com/kozaktomas/faceclock/internal/quality"
)

// fakeEngine reports one face on the stride-32 grid at row 5, col 10 with
// the given score and box distance (in strides).
type fakeEngine struct {
	score       float32
	distance    float32
	detectErr   error
	detectCalls int
	embedCalls  int
}

func (f *fakeEngine) Detect(ctx context.Context, input inference.Tensor) (*inference.DetectorOutput, error) {
	f.detectCalls++
	if f.detectErr != nil {
		return nil, f.detectErr
	}
	const anchors = 20 * 20 * 2
	idx := (5*20 + 10) * 2
	so := inference.StrideOutput{
		Stride:        32,
		ScoreChannels: 1,
		Scores:        make([]float32, anchors),
		Boxes:         make([]float32, anchors*4),
	}
	for i := range so.Scores {
		so.Scores[i] = 0.01
	}
	so.Scores[idx] = f.score
	d := f.distance
	copy(so.Boxes[idx*4:], []float32{d, d, d, d})
	return &inference.DetectorOutput{Strides: []inference.StrideOutput{so}}, nil
}

func (f *fakeEngine) Embed(ctx context.Context, input inference.Tensor) ([]float32, error) {
	f.embedCalls++
	vec := make([]float32, 512)
	for i := range vec {
		vec[i] = 1
	}
	return vec, nil
}

func newTestPipeline(t *testing.T, engine inference.Engine) *Pipeline {
	t.Helper()
	p, err := New(config.DefaultPipeline(), engine)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return p
}

func checkerImage(width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := range height {
		for x := range width {
			v := uint8(0)
			if (x/4+y/4)%2 == 0 {
				v = 255
			}
			img.Set(x, y, color.Gray{Y: v})
		}
	}
	return img
}

func flatImage(width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for i := range img.Pix {
		img.Pix[i] = 128
	}
	return img
}

func encode(t *testing.T, img image.Image) []byte {
	t.Helper()
	data, err := imaging.EncodeJPEG(img, 95)
	if err != nil {
		t.Fatalf("EncodeJPEG failed: %v", err)
	}
	return data
}

func assertRejection(t *testing.T, err error, code string) *facematch.Rejection {
	t.Helper()
	var rej *facematch.Rejection
	if !errors.As(err, &rej) {
		t.Fatalf("expected rejection %q, got %v", code, err)
	}
	if rej.Code != code {
		t.Fatalf("expected rejection code %q, got %q", code, rej.Code)
	}
	return rej
}

func TestProcess(t *testing.T) {
	engine := &fakeEngine{score: 0.9, distance: 2}
	res, err := newTestPipeline(t, engine).Process(context.Background(), checkerImage(800, 600), Options{Mode: detection.ModeLive})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if res.Frame.Width != 1120 || res.Frame.Height != 840 {
		t.Errorf("expected canonical 1120x840, got %dx%d", res.Frame.Width, res.Frame.Height)
	}
	// 128px detector box scaled by 1120/640.
	if box := res.Face().Box; math.Abs(box.W-224) > 1e-6 || math.Abs(box.H-224) > 1e-6 {
		t.Errorf("expected 224px face, got %+v", box)
	}
	if len(res.Embedding) != 512 || math.Abs(embedding.Norm(res.Embedding)-1) > 1e-5 {
		t.Errorf("expected unit 512-d embedding, got len %d norm %v", len(res.Embedding), embedding.Norm(res.Embedding))
	}
	if want := quality.FrameScore(res.Assessment, res.Face().Score); math.Abs(res.Quality-want) > 1e-9 {
		t.Errorf("expected quality %v, got %v", want, res.Quality)
	}
	if res.Attributes.Known {
		t.Error("expected unknown attributes without landmarks")
	}
	if engine.detectCalls != 1 || engine.embedCalls != 1 {
		t.Errorf("expected one detect and one embed call, got %d/%d", engine.detectCalls, engine.embedCalls)
	}
}

func TestProcess_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		engine *fakeEngine
		opts   Options
		code   string
	}{
		{"no face", &fakeEngine{score: 0.2, distance: 2}, Options{Mode: detection.ModeLive}, constants.IssueNoFace},
		{"face too small", &fakeEngine{score: 0.9, distance: 0.5}, Options{Mode: detection.ModeLive}, constants.IssueFaceTooSmall},
		{"strict face too small", &fakeEngine{score: 0.9, distance: 0.9}, Options{Mode: detection.ModeLive, Strict: true}, constants.IssueFaceTooSmall},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTestPipeline(t, tt.engine).Process(context.Background(), checkerImage(800, 600), tt.opts)
			assertRejection(t, err, tt.code)
			if tt.engine.embedCalls != 0 {
				t.Error("expected no embedding for a rejected frame")
			}
		})
	}
}

func TestProcess_DocumentMode(t *testing.T) {
	engine := &fakeEngine{score: 0.35, distance: 2}
	res, err := newTestPipeline(t, engine).Process(context.Background(), checkerImage(800, 600), Options{Mode: detection.ModeDocument})
	if err != nil {
		t.Fatalf("expected low-score face to pass in document mode, got %v", err)
	}
	if math.Abs(res.Face().Score-0.35) > 1e-6 {
		t.Errorf("expected score 0.35, got %v", res.Face().Score)
	}
}

func TestProcess_DetectError(t *testing.T) {
	engine := &fakeEngine{detectErr: inference.ErrQueueTimeout}
	_, err := newTestPipeline(t, engine).Process(context.Background(), checkerImage(800, 600), Options{})
	if !errors.Is(err, inference.ErrQueueTimeout) {
		t.Errorf("expected wrapped ErrQueueTimeout, got %v", err)
	}
	var rej *facematch.Rejection
	if errors.As(err, &rej) {
		t.Error("inference failures must not be reported as rejections")
	}
}

func TestProcess_QualityRejectedBeforeInference(t *testing.T) {
	engine := &fakeEngine{score: 0.9, distance: 2}
	_, err := newTestPipeline(t, engine).Process(context.Background(), checkerImage(300, 300), Options{})
	assertRejection(t, err, constants.IssueImageTooSmall)
	if engine.detectCalls != 0 {
		t.Error("expected no inference for a frame failing the quality gate")
	}
}

func TestPreview_Ready(t *testing.T) {
	p := newTestPipeline(t, &fakeEngine{score: 0.9, distance: 2})
	res, err := p.Preview(context.Background(), encode(t, checkerImage(800, 600)))
	if err != nil {
		t.Fatalf("Preview failed: %v", err)
	}
	if !res.Ready {
		t.Errorf("expected ready preview, got issues %v", res.Issues)
	}
	if res.Quality != 90 {
		t.Errorf("expected quality 90, got %d", res.Quality)
	}
	if res.Feedback != feedbackPerfect {
		t.Errorf("expected %q, got %q", feedbackPerfect, res.Feedback)
	}
	if len(res.Metadata.BBox) != 4 || res.Metadata.BBox[2] > 1 {
		t.Errorf("expected relative bbox, got %v", res.Metadata.BBox)
	}
}

func TestPreview_Issues(t *testing.T) {
	tests := []struct {
		name     string
		engine   *fakeEngine
		img      image.Image
		issue    string
		feedback string
	}{
		{"no face", &fakeEngine{score: 0.1, distance: 2}, checkerImage(800, 600), constants.IssueNoFace, feedbackNoFace},
		{"too far", &fakeEngine{score: 0.9, distance: 0.5}, checkerImage(800, 600), constants.IssueFaceTooSmall, feedbackTooSmall},
		{"blurry", &fakeEngine{score: 0.9, distance: 2}, flatImage(800, 600), constants.IssueBlur, feedbackBlur},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := newTestPipeline(t, tt.engine).Preview(context.Background(), encode(t, tt.img))
			if err != nil {
				t.Fatalf("Preview failed: %v", err)
			}
			if res.Ready {
				t.Error("expected preview not ready")
			}
			if len(res.Issues) != 1 || res.Issues[0] != tt.issue {
				t.Errorf("expected issues [%s], got %v", tt.issue, res.Issues)
			}
			if res.Feedback != tt.feedback {
				t.Errorf("expected feedback %q, got %q", tt.feedback, res.Feedback)
			}
		})
	}
}

func TestPreview_InvalidImage(t *testing.T) {
	if _, err := newTestPipeline(t, &fakeEngine{}).Preview(context.Background(), []byte("not an image")); err == nil {
		t.Error("expected decode error")
	}
}

func TestAngleDeviation(t *testing.T) {
	tests := []struct {
		name     string
		attrs    detection.Attributes
		expected float64
	}{
		{"unknown", detection.Attributes{}, 0},
		{"frontal", detection.Attributes{Known: true}, 0},
		{"rolled", detection.Attributes{Known: true, RollDegrees: -20}, 20},
		{"upside down roll", detection.Attributes{Known: true, RollDegrees: 170}, 10},
		{"turned", detection.Attributes{Known: true, NoseOffset: 0.5, RollDegrees: 5}, 22.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := angleDeviation(tt.attrs); math.Abs(got-tt.expected) > 1e-9 {
				t.Errorf("angleDeviation() = %v, want %v", got, tt.expected)
			}
		})
	}
}
