package enrollment

import "github.com/kozaktomas/faceclock/internal/database"

// Records converts a successful registration into the staff row and the raw
// embeddings to store with it. Each embedding keeps its input position and
// capture scores.
func (r *Result) Records(name string) (*database.Staff, []database.StoredEmbedding) {
	staff := &database.Staff{
		Name:              name,
		DocumentEmbedding: r.DocumentEmbedding,
		RegistrationNote:  r.Note,
	}
	if r.Template != nil {
		staff.Template = r.Template.Vector
		staff.TemplateWeights = r.Template.Weights
		staff.TemplateNorm = r.Template.Norm
	}

	stored := make([]database.StoredEmbedding, len(r.Embeddings))
	for i, vec := range r.Embeddings {
		e := database.StoredEmbedding{Position: i, Embedding: vec}
		if i < len(r.DetScores) {
			e.DetScore = r.DetScores[i]
		}
		if r.Template != nil && i < len(r.Template.Indices) {
			e.Position = r.Template.Indices[i]
		}
		if e.Position < len(r.Outcomes) {
			e.Quality = r.Outcomes[e.Position].Quality
		}
		stored[i] = e
	}
	return staff, stored
}

// RebuildTemplate recomputes a template from stored embeddings, weighted by
// their detection scores.
func RebuildTemplate(stored []database.StoredEmbedding) (*Template, error) {
	embeddings := make([][]float32, len(stored))
	scores := make([]float64, len(stored))
	indices := make([]int, len(stored))
	for i, e := range stored {
		embeddings[i] = e.Embedding
		scores[i] = e.DetScore
		indices[i] = e.Position
	}
	return BuildTemplate(embeddings, scores, indices, len(stored))
}
