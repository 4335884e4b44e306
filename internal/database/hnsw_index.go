package database

import (
	"bytes"
	"context"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/coder/hnsw"

	"github.com/kozaktomas/faceclock/internal/embedding"
)

// IndexMetadata stores metadata for validating a cached template index.
type IndexMetadata struct {
	StaffCount   int       `json:"staff_count"`
	MaxUpdatedAt time.Time `json:"max_updated_at"`
	BuildTime    time.Time `json:"build_time"`
	Version      int       `json:"version"`
}

const indexMetadataVersion = 1

// ErrDimensionMismatch is returned when a template does not match the index dimension.
var ErrDimensionMismatch = errors.New("template dimension mismatch")

// TemplateIndex is an in-memory HNSW graph over staff templates, keyed by staff ID.
type TemplateIndex struct {
	graph *hnsw.Graph[string]
	staff map[string]*Staff
	dim   int
	mu    sync.RWMutex
	path  string
}

// NewTemplateIndex creates an empty index for dim-sized templates.
func NewTemplateIndex(dim int) *TemplateIndex {
	return &TemplateIndex{
		staff: make(map[string]*Staff),
		dim:   dim,
	}
}

func (h *TemplateIndex) newGraph() *hnsw.Graph[string] {
	g := hnsw.NewGraph[string]()
	g.M = HNSWMaxNeighbors
	g.Ml = 1.0 / float64(HNSWMaxNeighbors)
	g.EfSearch = HNSWEfSearch
	g.Distance = hnsw.CosineDistance
	return g
}

// Build replaces the index contents. Staff without a template are skipped.
func (h *TemplateIndex) Build(staff []Staff) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	g := h.newGraph()
	byID := make(map[string]*Staff, len(staff))
	for i := range staff {
		s := &staff[i]
		if len(s.Template) == 0 {
			continue
		}
		if len(s.Template) != h.dim {
			return fmt.Errorf("%w: staff %s has %d values, want %d", ErrDimensionMismatch, s.ID, len(s.Template), h.dim)
		}
		g.Add(hnsw.MakeNode(s.ID, s.Template))
		byID[s.ID] = s
	}

	h.graph = g
	h.staff = byID
	return nil
}

// Upsert adds a staff template, replacing any previous one.
func (h *TemplateIndex) Upsert(s *Staff) error {
	if len(s.Template) != h.dim {
		return fmt.Errorf("%w: got %d values, want %d", ErrDimensionMismatch, len(s.Template), h.dim)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.graph == nil {
		h.graph = h.newGraph()
	}
	if _, ok := h.staff[s.ID]; ok {
		h.graph.Delete(s.ID)
	}
	h.graph.Add(hnsw.MakeNode(s.ID, s.Template))
	h.staff[s.ID] = s
	return nil
}

// Remove drops a staff member from the index.
func (h *TemplateIndex) Remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.staff[id]; !ok {
		return
	}
	delete(h.staff, id)
	if h.graph != nil {
		h.graph.Delete(id)
	}
}

// Search returns up to k staff ordered by cosine similarity to query.
func (h *TemplateIndex) Search(query []float32, k int) ([]TemplateMatch, error) {
	if len(query) != h.dim {
		return nil, fmt.Errorf("%w: query has %d values, want %d", ErrDimensionMismatch, len(query), h.dim)
	}
	if k <= 0 {
		return nil, nil
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.graph == nil || len(h.staff) == 0 {
		return nil, nil
	}

	neighbors := h.graph.Search(query, k*HNSWSearchMultiplier)
	matches := make([]TemplateMatch, 0, len(neighbors))
	for _, n := range neighbors {
		s, ok := h.staff[n.Key]
		if !ok {
			continue
		}
		matches = append(matches, TemplateMatch{
			StaffID:    s.ID,
			Name:       s.Name,
			Similarity: embedding.CosineSimilarity(query, n.Value),
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// SearchTemplates implements TemplateSearcher.
func (h *TemplateIndex) SearchTemplates(_ context.Context, query []float32, k int) ([]TemplateMatch, error) {
	return h.Search(query, k)
}

// Get returns the indexed staff member, or nil.
func (h *TemplateIndex) Get(id string) *Staff {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.staff[id]
}

// Count returns the number of indexed templates.
func (h *TemplateIndex) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.staff)
}

// SetPath sets the path used by Save.
func (h *TemplateIndex) SetPath(path string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.path = path
}

// Path returns the configured persistence path.
func (h *TemplateIndex) Path() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.path
}

// Save persists the graph, its metadata and the staff records next to it.
func (h *TemplateIndex) Save(metadata IndexMetadata) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.path == "" {
		return nil
	}
	if h.graph == nil || len(h.staff) == 0 {
		_ = os.Remove(h.path)
		_ = os.Remove(h.path + ".meta")
		_ = os.Remove(h.path + ".staff")
		return nil
	}

	f, err := os.Create(h.path) //nolint:gosec // path is from trusted config
	if err != nil {
		return fmt.Errorf("failed to create HNSW index file: %w", err)
	}
	if err := h.graph.Export(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("exporting HNSW graph: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing HNSW index file: %w", err)
	}

	staff := make([]Staff, 0, len(h.staff))
	for _, s := range h.staff {
		staff = append(staff, *s)
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(staff); err != nil {
		return fmt.Errorf("failed to encode staff: %w", err)
	}
	if err := os.WriteFile(h.path+".staff", buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write staff file: %w", err)
	}

	metadata.Version = indexMetadataVersion
	metadata.StaffCount = len(h.staff)
	metaData, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := os.WriteFile(h.path+".meta", metaData, 0600); err != nil {
		return fmt.Errorf("failed to write metadata file: %w", err)
	}

	log.Printf("Template index: wrote %d templates to %s", len(h.staff), h.path)
	return nil
}

// LoadIndexMetadata reads the .meta file written by Save.
func LoadIndexMetadata(path string) (IndexMetadata, error) {
	var metadata IndexMetadata

	data, err := os.ReadFile(path + ".meta") //nolint:gosec // path is from trusted config
	if err != nil {
		return metadata, fmt.Errorf("failed to read metadata file: %w", err)
	}
	if err := json.Unmarshal(data, &metadata); err != nil {
		return metadata, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	if metadata.Version != indexMetadataVersion {
		return metadata, fmt.Errorf("unsupported index metadata version %d", metadata.Version)
	}
	return metadata, nil
}

// Load restores a graph and its staff records saved at path.
func (h *TemplateIndex) Load(path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("HNSW index file not found: %w", err)
	}
	saved, err := hnsw.LoadSavedGraph[string](path)
	if err != nil {
		return fmt.Errorf("failed to load HNSW index: %w", err)
	}

	data, err := os.ReadFile(path + ".staff") //nolint:gosec // path is from trusted config
	if err != nil {
		return fmt.Errorf("failed to read staff file: %w", err)
	}
	var staff []Staff
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&staff); err != nil {
		return fmt.Errorf("failed to decode staff: %w", err)
	}

	byID := make(map[string]*Staff, len(staff))
	for i := range staff {
		if len(staff[i].Template) != h.dim {
			return fmt.Errorf("%w: cached staff %s", ErrDimensionMismatch, staff[i].ID)
		}
		byID[staff[i].ID] = &staff[i]
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.graph = saved.Graph
	h.graph.Distance = hnsw.CosineDistance
	h.staff = byID
	h.path = path
	return nil
}
