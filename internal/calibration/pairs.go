package calibration

import (
	"context"
	"sync"

	"github.com/kozaktomas/faceclock/internal/constants"
	"github.com/kozaktomas/faceclock/internal/embedding"
)

// Label marks a pair as two photos of the same person or of different people.
type Label string

const (
	Genuine  Label = "genuine"
	Impostor Label = "impostor"
)

// Pair is one scored comparison.
type Pair struct {
	A     string  `json:"a"`
	B     string  `json:"b"`
	Score float64 `json:"score"`
	Label Label   `json:"label"`
}

// Identity is one person's stored embeddings.
type Identity struct {
	ID         string
	Name       string
	Embeddings [][]float32
}

// PairSet holds every scored pair of a calibration run.
type PairSet struct {
	Genuine    []Pair
	Impostor   []Pair
	Identities int // identities with enough embeddings
	Skipped    int // identities with fewer than two embeddings
}

// Scores returns the genuine and impostor scores.
func (ps *PairSet) Scores() (genuine, impostor []float64) {
	genuine = make([]float64, len(ps.Genuine))
	for i, p := range ps.Genuine {
		genuine[i] = p.Score
	}
	impostor = make([]float64, len(ps.Impostor))
	for i, p := range ps.Impostor {
		impostor[i] = p.Score
	}
	return genuine, impostor
}

func eligible(identities []Identity) ([]Identity, int) {
	var out []Identity
	skipped := 0
	for _, id := range identities {
		if len(id.Embeddings) < 2 {
			skipped++
			continue
		}
		out = append(out, id)
	}
	return out, skipped
}

// Tasks returns the number of progress steps GeneratePairs reports.
func Tasks(identities []Identity) int {
	ok, _ := eligible(identities)
	return 2 * len(ok)
}

// GeneratePairs scores all genuine pairs within each identity and one
// impostor pair per identity pair, using the first embedding of each.
// Scoring fans out over workers goroutines; the result does not depend on
// scheduling. progress, if set, is called once per finished task.
func GeneratePairs(ctx context.Context, identities []Identity, workers int, progress func()) (*PairSet, error) {
	ids, skipped := eligible(identities)
	if workers <= 0 {
		workers = constants.CalibrationWorkers
	}

	genuine := make([][]Pair, len(ids))
	impostor := make([][]Pair, len(ids))
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	var mu sync.Mutex

	done := func() {
		if progress != nil {
			mu.Lock()
			progress()
			mu.Unlock()
		}
	}

	for i := range ids {
		wg.Add(2)
		go func(idx int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			if ctx.Err() == nil {
				genuine[idx] = genuinePairs(ids[idx])
			}
			done()
		}(i)
		go func(idx int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			if ctx.Err() == nil {
				impostor[idx] = impostorPairs(ids, idx)
			}
			done()
		}(i)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ps := &PairSet{Identities: len(ids), Skipped: skipped}
	for i := range ids {
		ps.Genuine = append(ps.Genuine, genuine[i]...)
		ps.Impostor = append(ps.Impostor, impostor[i]...)
	}
	return ps, nil
}

func genuinePairs(id Identity) []Pair {
	n := len(id.Embeddings)
	pairs := make([]Pair, 0, n*(n-1)/2)
	for i := range n {
		for j := i + 1; j < n; j++ {
			pairs = append(pairs, Pair{
				A:     id.ID,
				B:     id.ID,
				Score: embedding.CosineSimilarity(id.Embeddings[i], id.Embeddings[j]),
				Label: Genuine,
			})
		}
	}
	return pairs
}

func impostorPairs(ids []Identity, i int) []Pair {
	pairs := make([]Pair, 0, len(ids)-i-1)
	for j := i + 1; j < len(ids); j++ {
		pairs = append(pairs, Pair{
			A:     ids[i].ID,
			B:     ids[j].ID,
			Score: embedding.CosineSimilarity(ids[i].Embeddings[0], ids[j].Embeddings[0]),
			Label: Impostor,
		})
	}
	return pairs
}
