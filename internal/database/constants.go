package database

// FaceEmbeddingDim is the fixed dimension of face embeddings and templates.
const FaceEmbeddingDim = 512

// HNSW index parameters for 512-dim face templates
const (
	// HNSWMaxNeighbors (M) is the maximum number of neighbors per node.
	// Higher values improve recall but increase memory and build time.
	HNSWMaxNeighbors = 16

	// HNSWSearchMultiplier widens the candidate pool so removed staff can be
	// filtered out and still leave enough results.
	HNSWSearchMultiplier = 3
)

// HNSWEfSearch is the candidate list size used during search.
// pgvector uses the same value for its hnsw.ef_search setting.
const HNSWEfSearch = 100
