package handlers

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/kozaktomas/faceclock/internal/database"
)

const statsCacheTTL = time.Minute

// statsCache holds cached stats with expiry
type statsCache struct {
	mu        sync.RWMutex
	data      *StatsResponse
	expiresAt time.Time
}

func (c *statsCache) get() (*StatsResponse, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.data == nil || time.Now().After(c.expiresAt) {
		return nil, false
	}
	return c.data, true
}

func (c *statsCache) set(data *StatsResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = data
	c.expiresAt = time.Now().Add(statsCacheTTL)
}

func (c *statsCache) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = nil
}

// StatsHandler handles statistics and index maintenance endpoints
type StatsHandler struct {
	cache statsCache
}

// NewStatsHandler creates a new stats handler
func NewStatsHandler() *StatsHandler {
	return &StatsHandler{}
}

// StatsResponse represents enrollment statistics
type StatsResponse struct {
	Staff            int `json:"staff"`
	IndexedTemplates int `json:"indexed_templates"` // 0 when searches go to PostgreSQL
}

// Get returns enrollment statistics
func (h *StatsHandler) Get(w http.ResponseWriter, r *http.Request) {
	if cached, ok := h.cache.get(); ok {
		respondJSON(w, http.StatusOK, cached)
		return
	}

	reader, err := database.GetStaffReader(r.Context())
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	count, err := reader.CountStaff(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to count staff")
		return
	}

	stats := &StatsResponse{Staff: count}
	if rebuilder := database.GetIndexRebuilder(); rebuilder != nil {
		stats.IndexedTemplates = rebuilder.IndexCount()
	}
	h.cache.set(stats)
	respondJSON(w, http.StatusOK, stats)
}

// RebuildIndex rebuilds the in-memory template index from PostgreSQL and
// persists it when a path is configured.
func (h *StatsHandler) RebuildIndex(w http.ResponseWriter, r *http.Request) {
	rebuilder := database.GetIndexRebuilder()
	if rebuilder == nil {
		respondError(w, http.StatusServiceUnavailable, "template index not registered")
		return
	}

	start := time.Now()
	if err := rebuilder.RebuildIndex(r.Context()); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to rebuild template index")
		return
	}
	h.cache.invalidate()

	response := map[string]any{
		"templates":   rebuilder.IndexCount(),
		"duration_ms": time.Since(start).Milliseconds(),
	}
	// The rebuilt index is usable in memory even when saving fails.
	if err := rebuilder.SaveIndex(); err != nil {
		log.Printf("WARNING: failed to save template index: %v", err)
		response["warning"] = "index rebuilt but not saved"
	}
	respondJSON(w, http.StatusOK, response)
}
