// Package enrollment builds a person's face template from several live
// photos and an identity document photo.
package enrollment

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/kozaktomas/faceclock/internal/config"
	"github.com/kozaktomas/faceclock/internal/constants"
	"github.com/kozaktomas/faceclock/internal/detection"
	"github.com/kozaktomas/faceclock/internal/embedding"
	"github.com/kozaktomas/faceclock/internal/facematch"
	"github.com/kozaktomas/faceclock/internal/pipeline"
)

var (
	// ErrQuorumNotMet is returned when too few live photos produced an embedding.
	ErrQuorumNotMet = errors.New("not enough usable photos")
	// ErrDocumentRequired is returned when the document photo is missing or unusable under the required policy.
	ErrDocumentRequired = errors.New("document photo embedding required")
	// ErrDocumentMismatch is returned when the live template does not resemble
	// the document photo under the required policy.
	ErrDocumentMismatch = errors.New("face does not match document photo")
	// ErrNoPhotos is returned when no live photos were submitted.
	ErrNoPhotos = errors.New("no photos provided")
)

// FrameProcessor turns an encoded image into an embedding.
type FrameProcessor interface {
	ProcessBytes(ctx context.Context, data []byte, opts pipeline.Options) (*pipeline.FrameResult, error)
}

// DuplicateFinder looks up the existing person closest to a template.
type DuplicateFinder interface {
	FindDuplicate(ctx context.Context, vector []float32) (*Duplicate, error)
}

// DocumentMatcher supplies the similarity a template must reach against the
// document photo.
type DocumentMatcher interface {
	DocumentThreshold(frameQuality float64) float64
}

// Duplicate is an existing person whose template resembles a new one.
type Duplicate struct {
	StaffID    string  `json:"staff_id"`
	Name       string  `json:"name"`
	Similarity float64 `json:"similarity"`
}

// Outcome is the diagnostic for one submitted photo.
type Outcome struct {
	Index    int     `json:"index"`
	OK       bool    `json:"ok"`
	Code     string  `json:"code,omitempty"`
	Message  string  `json:"message,omitempty"`
	DetScore float64 `json:"det_score,omitempty"`
	Quality  float64 `json:"quality,omitempty"`
}

// Request is one registration attempt.
type Request struct {
	Photos   [][]byte
	Document []byte
}

// Result is a registration outcome. On ErrQuorumNotMet, ErrDocumentRequired or
// ErrDocumentMismatch it still carries the per-photo diagnostics.
type Result struct {
	Template          *Template   `json:"template,omitempty"`
	Embeddings        [][]float32 `json:"-"`
	DetScores         []float64   `json:"det_scores"`
	Outcomes          []Outcome   `json:"outcomes"`
	Document          *Outcome    `json:"document,omitempty"`
	DocumentEmbedding []float32   `json:"-"`
	DocumentMatch     *Similarity `json:"document_match,omitempty"`
	Duplicate         *Duplicate  `json:"duplicate,omitempty"`
	Note              string      `json:"note"`
	Warnings          []string    `json:"warnings,omitempty"`
}

// Similarity is a template compared against a reference embedding.
type Similarity struct {
	Similarity float64 `json:"similarity"`
	Threshold  float64 `json:"threshold"`
	Matched    bool    `json:"matched"`
}

// Succeeded returns the number of live photos that produced an embedding.
func (r *Result) Succeeded() int {
	return len(r.Embeddings)
}

// Builder runs registration photos through the pipeline and fuses the results.
type Builder struct {
	proc  FrameProcessor
	cfg   config.EnrollmentConfig
	dupes DuplicateFinder
	docs  DocumentMatcher
}

// NewBuilder creates a builder. dupes may be nil to skip the duplicate check
// and docs may be nil to skip comparing the template with the document photo.
func NewBuilder(proc FrameProcessor, cfg config.EnrollmentConfig, dupes DuplicateFinder, docs DocumentMatcher) *Builder {
	return &Builder{proc: proc, cfg: cfg, dupes: dupes, docs: docs}
}

// Enroll processes the live photos one by one in input order, applies the
// quorum and document policies and builds the template.
func (b *Builder) Enroll(ctx context.Context, req Request) (*Result, error) {
	if len(req.Photos) == 0 {
		return nil, ErrNoPhotos
	}
	if b.cfg.Photos > 0 && len(req.Photos) > b.cfg.Photos {
		return nil, fmt.Errorf("at most %d photos are accepted, got %d", b.cfg.Photos, len(req.Photos))
	}

	res := &Result{}
	var indices []int
	for i, data := range req.Photos {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		outcome, frame, err := b.processOne(ctx, i, data, pipeline.Options{Mode: detection.ModeLive, Strict: true})
		if err != nil {
			return nil, err
		}
		res.Outcomes = append(res.Outcomes, outcome)
		if frame != nil {
			res.Embeddings = append(res.Embeddings, frame.Embedding)
			res.DetScores = append(res.DetScores, outcome.DetScore)
			indices = append(indices, i)
		}
	}

	attempted := len(req.Photos)
	succeeded := res.Succeeded()
	res.Note = fmt.Sprintf("%d/%d embeddings", succeeded, attempted)
	if succeeded < b.cfg.Quorum {
		log.Printf("Enrollment failed: %d/%d photos usable, minimum %d", succeeded, attempted, b.cfg.Quorum)
		return res, fmt.Errorf("%w: %d/%d succeeded, minimum %d", ErrQuorumNotMet, succeeded, attempted, b.cfg.Quorum)
	}

	tmpl, err := BuildTemplate(res.Embeddings, res.DetScores, indices, attempted)
	if err != nil {
		return nil, fmt.Errorf("build template: %w", err)
	}
	res.Template = tmpl

	if err := b.enrollDocument(ctx, req.Document, res); err != nil {
		return res, err
	}

	if b.dupes != nil {
		dup, err := b.dupes.FindDuplicate(ctx, tmpl.Vector)
		if err != nil {
			log.Printf("WARNING: duplicate check failed: %v", err)
		} else if dup != nil {
			res.Duplicate = dup
			res.Warnings = append(res.Warnings,
				fmt.Sprintf("face resembles existing staff %s (similarity %.2f)", dup.Name, dup.Similarity))
		}
	}

	return res, nil
}

// enrollDocument embeds the document photo separately from the live template.
func (b *Builder) enrollDocument(ctx context.Context, data []byte, res *Result) error {
	required := b.cfg.DocumentPolicy != config.DocumentOptional

	if len(data) == 0 {
		if required {
			return fmt.Errorf("%w: no document photo provided", ErrDocumentRequired)
		}
		res.Warnings = append(res.Warnings, "no document photo provided")
		return nil
	}

	outcome, frame, err := b.processOne(ctx, -1, data, pipeline.Options{Mode: detection.ModeDocument})
	if err != nil {
		return err
	}
	res.Document = &outcome
	if frame == nil {
		if required {
			return fmt.Errorf("%w: %s", ErrDocumentRequired, outcome.Message)
		}
		res.Warnings = append(res.Warnings, "document photo unusable: "+outcome.Message)
		return nil
	}
	res.DocumentEmbedding = frame.Embedding

	if b.docs == nil {
		return nil
	}
	threshold := b.docs.DocumentThreshold(frame.Quality)
	sim := embedding.CosineSimilarity(res.Template.Vector, frame.Embedding)
	res.DocumentMatch = &Similarity{Similarity: sim, Threshold: threshold, Matched: sim >= threshold}
	if res.DocumentMatch.Matched {
		return nil
	}
	log.Printf("Enrollment document mismatch: similarity %.3f below %.2f", sim, threshold)
	if required {
		return fmt.Errorf("%w: similarity %.2f below %.2f", ErrDocumentMismatch, sim, threshold)
	}
	res.Warnings = append(res.Warnings, fmt.Sprintf("face does not match document photo (similarity %.2f)", sim))
	return nil
}

// processOne returns the outcome for one photo. Only cancellation is fatal;
// every other failure is recorded on the outcome.
func (b *Builder) processOne(ctx context.Context, index int, data []byte, opts pipeline.Options) (Outcome, *pipeline.FrameResult, error) {
	outcome := Outcome{Index: index}
	frame, err := b.proc.ProcessBytes(ctx, data, opts)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return outcome, nil, ctxErr
		}
		var rej *facematch.Rejection
		if errors.As(err, &rej) {
			outcome.Code = rej.Code
			outcome.Message = rej.Message
		} else {
			log.Printf("Enrollment photo %d failed: %v", index, err)
			outcome.Code = constants.IssueDetectionFailed
			outcome.Message = err.Error()
		}
		return outcome, nil, nil
	}

	outcome.OK = true
	outcome.DetScore = frame.Face().Score
	outcome.Quality = frame.Quality
	return outcome, frame, nil
}
