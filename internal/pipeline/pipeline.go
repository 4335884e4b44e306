// Package pipeline runs a single frame through quality gating, canonical
// preprocessing, detection and embedding.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log"

	"github.com/kozaktomas/faceclock/internal/config"
	"github.com/kozaktomas/faceclock/internal/detection"
	"github.com/kozaktomas/faceclock/internal/embedding"
	"github.com/kozaktomas/faceclock/internal/facematch"
	"github.com/kozaktomas/faceclock/internal/imaging"
	"github.com/kozaktomas/faceclock/internal/inference"
	"github.com/kozaktomas/faceclock/internal/preprocess"
	"github.com/kozaktomas/faceclock/internal/quality"
)

// candidateFloor drops anchors that cannot matter for selection or evidence.
const candidateFloor = 0.05

// Options control how one frame is processed.
type Options struct {
	Mode       detection.Mode
	Strict     bool         // enrollment-grade quality and face size thresholds
	DeviceTier quality.Tier // tier of the capturing device, if known
}

// Analysis is a frame that passed quality gating and face selection.
type Analysis struct {
	Assessment *quality.Assessment
	Frame      *preprocess.Result
	Selection  *detection.Selection
	Attributes detection.Attributes
}

// Face returns the selected detection.
func (a *Analysis) Face() detection.Detection {
	return a.Selection.Face
}

// FrameResult is a fully processed frame with its embedding.
type FrameResult struct {
	*Analysis
	Embedding []float32
	Quality   float64 // combined sharpness, detection and exposure score
}

// Pipeline wires the per-frame stages together. It is safe for concurrent
// use when its engine is; wrap backends in an inference.Executor.
type Pipeline struct {
	gate     *quality.Gate
	pre      *preprocess.Preprocessor
	decoder  *detection.Decoder
	embedder *embedding.Embedder
	engine   inference.Engine
}

// New builds a pipeline from configuration.
func New(cfg config.PipelineConfig, engine inference.Engine) (*Pipeline, error) {
	pre, err := preprocess.New(cfg.Detection)
	if err != nil {
		return nil, fmt.Errorf("preprocessor: %w", err)
	}
	decoder, err := detection.NewDecoder(cfg.Detection)
	if err != nil {
		return nil, fmt.Errorf("decoder: %w", err)
	}
	return &Pipeline{
		gate:     quality.NewGate(cfg.Quality),
		pre:      pre,
		decoder:  decoder,
		embedder: embedding.NewEmbedder(engine, cfg.Embedding),
		engine:   engine,
	}, nil
}

// Analyze gates the frame, runs the detector and selects the face. Capture
// and detection failures are returned as *facematch.Rejection.
func (p *Pipeline) Analyze(ctx context.Context, img *image.RGBA, opts Options) (*Analysis, error) {
	accepted, assessment, err := p.gate.Check(img, quality.Options{Strict: opts.Strict, DeviceTier: opts.DeviceTier})
	if err != nil {
		return nil, err
	}

	frame, err := p.pre.Process(accepted)
	if err != nil {
		return nil, fmt.Errorf("preprocess: %w", err)
	}

	out, err := p.engine.Detect(ctx, inference.Tensor{
		Name:  inference.DetectorInput,
		Shape: []int{1, 3, frame.DetectionSize, frame.DetectionSize},
		Data:  frame.Tensor,
	})
	if err != nil {
		return nil, fmt.Errorf("detect faces: %w", err)
	}

	dets, err := p.decoder.Decode(out, frame.Mapping, frame.Width, frame.Height, candidateFloor)
	if err != nil {
		return nil, fmt.Errorf("decode detections: %w", err)
	}

	sel, err := p.decoder.Select(dets, opts.Mode, opts.Strict)
	if err != nil {
		var rej *facematch.Rejection
		if errors.As(err, &rej) {
			log.Printf("Detection rejected (%s mode, %d candidates): %v", opts.Mode, len(dets), rej)
		}
		return nil, err
	}

	return &Analysis{
		Assessment: assessment,
		Frame:      frame,
		Selection:  sel,
		Attributes: sel.Face.Attributes(),
	}, nil
}

// Process analyzes the frame and embeds the selected face.
func (p *Pipeline) Process(ctx context.Context, img *image.RGBA, opts Options) (*FrameResult, error) {
	analysis, err := p.Analyze(ctx, img, opts)
	if err != nil {
		return nil, err
	}

	face := analysis.Face()
	vec, err := p.embedder.Embed(ctx, analysis.Frame.Canonical, face.Box)
	if err != nil {
		return nil, err
	}

	return &FrameResult{
		Analysis:  analysis,
		Embedding: vec,
		Quality:   quality.FrameScore(analysis.Assessment, face.Score),
	}, nil
}

// ProcessBytes decodes image data and processes it.
func (p *Pipeline) ProcessBytes(ctx context.Context, data []byte, opts Options) (*FrameResult, error) {
	img, err := imaging.Decode(data)
	if err != nil {
		return nil, err
	}
	return p.Process(ctx, img, opts)
}
