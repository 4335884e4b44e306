package enrollment

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/kozaktomas/faceclock/internal/config"
	"github.com/kozaktomas/faceclock/internal/constants"
	"github.com/kozaktomas/faceclock/internal/detection"
	"github.com/kozaktomas/faceclock/internal/embedding"
	"github.com/kozaktomas/faceclock/internal/facematch"
	"github.com/kozaktomas/faceclock/internal/pipeline"
)

// fakeProcessor interprets the first byte of each photo: 0 means no face,
// anything else is the detection score in percent. The second byte picks
// the embedding axis.
type fakeProcessor struct {
	calls []pipeline.Options
	order []byte
}

func (f *fakeProcessor) ProcessBytes(ctx context.Context, data []byte, opts pipeline.Options) (*pipeline.FrameResult, error) {
	f.calls = append(f.calls, opts)
	f.order = append(f.order, data[1])
	if data[0] == 0 {
		return nil, facematch.Reject(constants.IssueNoFace, "Position your face in the circle")
	}

	vec := make([]float32, 4)
	vec[int(data[1])%4] = 1
	return &pipeline.FrameResult{
		Analysis: &pipeline.Analysis{
			Selection: &detection.Selection{Face: detection.Detection{Score: float64(data[0]) / 100}},
		},
		Embedding: vec,
		Quality:   0.8,
	}, nil
}

type fakeFinder struct {
	dup *Duplicate
	err error
}

func (f *fakeFinder) FindDuplicate(ctx context.Context, vector []float32) (*Duplicate, error) {
	return f.dup, f.err
}

type fakeDocs struct {
	threshold float64
	qualities []float64
}

func (f *fakeDocs) DocumentThreshold(frameQuality float64) float64 {
	f.qualities = append(f.qualities, frameQuality)
	return f.threshold
}

func testConfig(policy string) config.EnrollmentConfig {
	cfg := config.DefaultPipeline().Enrollment
	cfg.DocumentPolicy = policy
	return cfg
}

func photo(score, axis byte) []byte {
	return []byte{score, axis}
}

func TestEnroll_FourOfFive(t *testing.T) {
	proc := &fakeProcessor{}
	b := NewBuilder(proc, testConfig(config.DocumentRequired), nil, nil)

	res, err := b.Enroll(context.Background(), Request{
		Photos:   [][]byte{photo(90, 0), photo(80, 0), photo(70, 0), photo(60, 0), photo(0, 0)},
		Document: photo(40, 9),
	})
	if err != nil {
		t.Fatalf("Enroll failed: %v", err)
	}

	if res.Note != "4/5 embeddings" {
		t.Errorf("expected note %q, got %q", "4/5 embeddings", res.Note)
	}
	if res.Template.Sources != 4 || res.Template.Attempted != 5 {
		t.Errorf("expected 4 sources of 5, got %d of %d", res.Template.Sources, res.Template.Attempted)
	}
	var sum float64
	for _, w := range res.Template.Weights {
		sum += w
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Errorf("expected weights to sum to 1, got %v", sum)
	}
	if got := res.Outcomes[4]; got.OK || got.Code != constants.IssueNoFace || got.Index != 4 {
		t.Errorf("expected photo 5 to fail with no_face, got %+v", got)
	}
	if len(res.Template.Indices) != 4 || res.Template.Indices[3] != 3 {
		t.Errorf("unexpected source indices %v", res.Template.Indices)
	}
	if res.Document == nil || !res.Document.OK || len(res.DocumentEmbedding) == 0 {
		t.Errorf("expected document embedding, got %+v", res.Document)
	}
	// The document vector must not leak into the live template.
	if res.Template.Vector[1] != 0 {
		t.Errorf("document embedding merged into template: %v", res.Template.Vector)
	}
}

func TestEnroll_ProcessesInOrder(t *testing.T) {
	proc := &fakeProcessor{}
	b := NewBuilder(proc, testConfig(config.DocumentRequired), nil, nil)

	_, err := b.Enroll(context.Background(), Request{
		Photos:   [][]byte{photo(90, 0), photo(90, 1), photo(90, 2)},
		Document: photo(90, 3),
	})
	if err != nil {
		t.Fatalf("Enroll failed: %v", err)
	}

	if string(proc.order) != string([]byte{0, 1, 2, 3}) {
		t.Errorf("expected photos in input order then document, got %v", proc.order)
	}
	for i, opts := range proc.calls[:3] {
		if opts.Mode != detection.ModeLive || !opts.Strict {
			t.Errorf("photo %d: expected strict live mode, got %+v", i, opts)
		}
	}
	if proc.calls[3].Mode != detection.ModeDocument {
		t.Errorf("expected document mode for the document photo, got %+v", proc.calls[3])
	}
}

func TestEnroll_Quorum(t *testing.T) {
	tests := []struct {
		name    string
		photos  [][]byte
		wantErr bool
		note    string
	}{
		{"exactly quorum", [][]byte{photo(90, 0), photo(90, 0), photo(90, 0), photo(0, 0), photo(0, 0)}, false, "3/5 embeddings"},
		{"below quorum", [][]byte{photo(90, 0), photo(90, 0), photo(0, 0), photo(0, 0), photo(0, 0)}, true, "2/5 embeddings"},
		{"all failed", [][]byte{photo(0, 0), photo(0, 0), photo(0, 0)}, true, "0/3 embeddings"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBuilder(&fakeProcessor{}, testConfig(config.DocumentOptional), nil, nil)
			res, err := b.Enroll(context.Background(), Request{Photos: tt.photos})

			if tt.wantErr {
				if !errors.Is(err, ErrQuorumNotMet) {
					t.Fatalf("expected ErrQuorumNotMet, got %v", err)
				}
				if res == nil || len(res.Outcomes) != len(tt.photos) {
					t.Fatal("expected per-photo diagnostics on quorum failure")
				}
				if res.Template != nil {
					t.Error("expected no template on quorum failure")
				}
			} else if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if res.Note != tt.note {
				t.Errorf("expected note %q, got %q", tt.note, res.Note)
			}
		})
	}
}

func TestEnroll_QuorumMessage(t *testing.T) {
	b := NewBuilder(&fakeProcessor{}, testConfig(config.DocumentOptional), nil, nil)
	_, err := b.Enroll(context.Background(), Request{
		Photos: [][]byte{photo(90, 0), photo(90, 0), photo(0, 0), photo(0, 0), photo(0, 0)},
	})
	if err == nil || !strings.Contains(err.Error(), "2/5 succeeded, minimum 3") {
		t.Errorf("expected count in error, got %v", err)
	}
}

func TestEnroll_DocumentPolicy(t *testing.T) {
	live := [][]byte{photo(90, 0), photo(90, 0), photo(90, 0)}
	tests := []struct {
		name     string
		policy   string
		document []byte
		wantErr  bool
	}{
		{"required and missing", config.DocumentRequired, nil, true},
		{"required and faceless", config.DocumentRequired, photo(0, 0), true},
		{"optional and missing", config.DocumentOptional, nil, false},
		{"optional and faceless", config.DocumentOptional, photo(0, 0), false},
		{"required and usable", config.DocumentRequired, photo(50, 0), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBuilder(&fakeProcessor{}, testConfig(tt.policy), nil, nil)
			res, err := b.Enroll(context.Background(), Request{Photos: live, Document: tt.document})

			if tt.wantErr {
				if !errors.Is(err, ErrDocumentRequired) {
					t.Fatalf("expected ErrDocumentRequired, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if res.Template == nil {
				t.Fatal("expected a template")
			}
			if tt.policy == config.DocumentOptional && len(res.Warnings) == 0 {
				t.Error("expected a warning about the document photo")
			}
		})
	}
}

func TestEnroll_Duplicate(t *testing.T) {
	finder := &fakeFinder{dup: &Duplicate{StaffID: "abc", Name: "Jana Novak", Similarity: 0.91}}
	b := NewBuilder(&fakeProcessor{}, testConfig(config.DocumentOptional), finder, nil)

	res, err := b.Enroll(context.Background(), Request{Photos: [][]byte{photo(90, 0), photo(90, 0), photo(90, 0)}, Document: photo(90, 0)})
	if err != nil {
		t.Fatalf("Enroll failed: %v", err)
	}
	if res.Duplicate == nil || res.Duplicate.StaffID != "abc" {
		t.Errorf("expected duplicate to be reported, got %+v", res.Duplicate)
	}
	if len(res.Warnings) != 1 || !strings.Contains(res.Warnings[0], "Jana Novak") {
		t.Errorf("expected duplicate warning, got %v", res.Warnings)
	}

	// A failing lookup never blocks registration.
	b = NewBuilder(&fakeProcessor{}, testConfig(config.DocumentOptional), &fakeFinder{err: errors.New("index offline")}, nil)
	if _, err := b.Enroll(context.Background(), Request{Photos: [][]byte{photo(90, 0), photo(90, 0), photo(90, 0)}, Document: photo(90, 0)}); err != nil {
		t.Errorf("expected duplicate lookup failure to be ignored, got %v", err)
	}
}

func TestEnroll_DocumentCrossCheck(t *testing.T) {
	tests := []struct {
		name     string
		policy   string
		document []byte
		matched  bool
		err      error
		warnings int
	}{
		{"required and same face", config.DocumentRequired, photo(90, 0), true, nil, 0},
		{"required and different face", config.DocumentRequired, photo(90, 1), false, ErrDocumentMismatch, 0},
		{"optional and same face", config.DocumentOptional, photo(90, 0), true, nil, 0},
		{"optional and different face", config.DocumentOptional, photo(90, 1), false, nil, 1},
	}

	live := [][]byte{photo(90, 0), photo(90, 0), photo(90, 0)}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docs := &fakeDocs{threshold: 0.75}
			b := NewBuilder(&fakeProcessor{}, testConfig(tt.policy), nil, docs)
			res, err := b.Enroll(context.Background(), Request{Photos: live, Document: tt.document})
			if tt.err != nil {
				if !errors.Is(err, tt.err) {
					t.Fatalf("expected %v, got %v", tt.err, err)
				}
			} else if err != nil {
				t.Fatalf("Enroll failed: %v", err)
			}
			if res == nil || res.DocumentMatch == nil {
				t.Fatalf("expected a document comparison, got %+v", res)
			}
			if res.DocumentMatch.Matched != tt.matched {
				t.Errorf("expected matched=%v, got %+v", tt.matched, res.DocumentMatch)
			}
			if math.Abs(res.DocumentMatch.Threshold-0.75) > 1e-9 {
				t.Errorf("expected threshold 0.75, got %v", res.DocumentMatch.Threshold)
			}
			if len(res.Warnings) != tt.warnings {
				t.Errorf("expected %d warnings, got %v", tt.warnings, res.Warnings)
			}
			if len(docs.qualities) != 1 || math.Abs(docs.qualities[0]-0.8) > 1e-9 {
				t.Errorf("expected the document frame quality to pick the threshold, got %v", docs.qualities)
			}
		})
	}
}

func TestEnroll_NoDocumentSkipsCrossCheck(t *testing.T) {
	docs := &fakeDocs{threshold: 0.75}
	b := NewBuilder(&fakeProcessor{}, testConfig(config.DocumentOptional), nil, docs)

	res, err := b.Enroll(context.Background(), Request{Photos: [][]byte{photo(90, 0), photo(90, 0), photo(90, 0)}})
	if err != nil {
		t.Fatalf("Enroll failed: %v", err)
	}
	if res.DocumentMatch != nil || len(docs.qualities) != 0 {
		t.Errorf("expected no comparison without a document, got %+v", res.DocumentMatch)
	}
}

func TestEnroll_InvalidRequests(t *testing.T) {
	b := NewBuilder(&fakeProcessor{}, testConfig(config.DocumentOptional), nil, nil)

	if _, err := b.Enroll(context.Background(), Request{}); !errors.Is(err, ErrNoPhotos) {
		t.Errorf("expected ErrNoPhotos, got %v", err)
	}

	six := make([][]byte, 6)
	for i := range six {
		six[i] = photo(90, 0)
	}
	if _, err := b.Enroll(context.Background(), Request{Photos: six}); err == nil {
		t.Error("expected error for too many photos")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := b.Enroll(ctx, Request{Photos: [][]byte{photo(90, 0)}}); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestWeights(t *testing.T) {
	tests := []struct {
		name     string
		scores   []float64
		expected []float64
	}{
		{"proportional", []float64{0.9, 0.6, 0.3, 0.2}, []float64{0.45, 0.3, 0.15, 0.1}},
		{"equal scores", []float64{0.5, 0.5}, []float64{0.5, 0.5}},
		{"near zero total", []float64{0.0001, 0.0002, 0}, []float64{1.0 / 3, 1.0 / 3, 1.0 / 3}},
		{"empty", nil, []float64{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Weights(tt.scores)
			if len(got) != len(tt.expected) {
				t.Fatalf("expected %d weights, got %d", len(tt.expected), len(got))
			}
			for i := range got {
				if math.Abs(got[i]-tt.expected[i]) > 1e-9 {
					t.Errorf("weight %d = %v, want %v", i, got[i], tt.expected[i])
				}
			}
		})
	}
}

func TestBuildTemplate(t *testing.T) {
	t.Run("consistent photos", func(t *testing.T) {
		same := []float32{0.6, 0.8}
		tmpl, err := BuildTemplate([][]float32{same, same, same}, []float64{0.9, 0.8, 0.7}, []int{0, 1, 2}, 3)
		if err != nil {
			t.Fatalf("BuildTemplate failed: %v", err)
		}
		if math.Abs(tmpl.Norm-1) > 1e-6 {
			t.Errorf("expected norm 1 for identical embeddings, got %v", tmpl.Norm)
		}
		if math.Abs(embedding.CosineSimilarity(tmpl.Vector, same)-1) > 1e-6 {
			t.Error("expected template to equal the shared embedding")
		}
	})

	t.Run("divergent photos", func(t *testing.T) {
		tmpl, err := BuildTemplate([][]float32{{1, 0}, {0, 1}}, []float64{0.5, 0.5}, []int{0, 1}, 2)
		if err != nil {
			t.Fatalf("BuildTemplate failed: %v", err)
		}
		if math.Abs(tmpl.Norm-math.Sqrt(0.5)) > 1e-6 {
			t.Errorf("expected norm sqrt(0.5), got %v", tmpl.Norm)
		}
		if math.Abs(embedding.Norm(tmpl.Vector)-1) > 1e-6 {
			t.Errorf("expected unit template, got norm %v", embedding.Norm(tmpl.Vector))
		}
	})

	t.Run("errors", func(t *testing.T) {
		if _, err := BuildTemplate(nil, nil, nil, 0); err == nil {
			t.Error("expected error for no embeddings")
		}
		if _, err := BuildTemplate([][]float32{{1, 0}, {1}}, []float64{1, 1}, nil, 2); err == nil {
			t.Error("expected error for mismatched dimensions")
		}
		if _, err := BuildTemplate([][]float32{{1, 0}, {-1, 0}}, []float64{1, 1}, nil, 2); err == nil {
			t.Error("expected error for cancelling embeddings")
		}
	})
}
