// Package mock provides in-memory implementations of database interfaces for testing.
package mock

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kozaktomas/faceclock/internal/database"
	"github.com/kozaktomas/faceclock/internal/embedding"
	"github.com/kozaktomas/faceclock/internal/facematch"
)

// MockStaffStore is a mock implementation of database.StaffWriter and database.TemplateSearcher
type MockStaffStore struct {
	mu         sync.RWMutex
	staff      map[string]*database.Staff
	embeddings map[string][]database.StoredEmbedding
	nextID     int64

	// Error injection
	GetError    error
	ListError   error
	CreateError error
	UpdateError error
	SearchError error
}

// NewMockStaffStore creates a new mock staff store
func NewMockStaffStore() *MockStaffStore {
	return &MockStaffStore{
		staff:      make(map[string]*database.Staff),
		embeddings: make(map[string][]database.StoredEmbedding),
	}
}

// AddStaff adds a staff member with optional raw embeddings
func (m *MockStaffStore) AddStaff(s database.Staff, embeddings ...[]float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.staff[s.ID] = &s
	for i, e := range embeddings {
		m.nextID++
		m.embeddings[s.ID] = append(m.embeddings[s.ID], database.StoredEmbedding{
			ID: m.nextID, StaffID: s.ID, Position: i, Embedding: e,
		})
	}
}

// GetStaff retrieves a staff member by ID
func (m *MockStaffStore) GetStaff(_ context.Context, id string) (*database.Staff, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.staff[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (m *MockStaffStore) sorted() []database.Staff {
	out := make([]database.Staff, 0, len(m.staff))
	for _, s := range m.staff {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		ni, nj := facematch.NormalizeStaffName(out[i].Name), facematch.NormalizeStaffName(out[j].Name)
		if ni != nj {
			return ni < nj
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ListStaff returns staff ordered by name
func (m *MockStaffStore) ListStaff(_ context.Context, limit, offset int) ([]database.Staff, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := m.sorted()
	if offset >= len(all) {
		return nil, nil
	}
	end := min(offset+limit, len(all))
	return all[offset:end], nil
}

// CountStaff returns the number of staff
func (m *MockStaffStore) CountStaff(_ context.Context) (int, error) {
	if m.ListError != nil {
		return 0, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.staff), nil
}

// FindStaffByName finds staff by normalized name
func (m *MockStaffStore) FindStaffByName(_ context.Context, name string) ([]database.Staff, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	want := facematch.NormalizeStaffName(name)
	var out []database.Staff
	for _, s := range m.sorted() {
		if facematch.NormalizeStaffName(s.Name) == want {
			out = append(out, s)
		}
	}
	return out, nil
}

// GetEmbeddings returns the raw embeddings of a staff member
func (m *MockStaffStore) GetEmbeddings(_ context.Context, staffID string) ([]database.StoredEmbedding, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]database.StoredEmbedding(nil), m.embeddings[staffID]...), nil
}

// GetAllTemplates returns all staff
func (m *MockStaffStore) GetAllTemplates(_ context.Context) ([]database.Staff, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sorted(), nil
}

// GetIdentityEmbeddings returns raw embeddings grouped by staff ID
func (m *MockStaffStore) GetIdentityEmbeddings(_ context.Context) ([]database.IdentityEmbeddings, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.embeddings))
	for id := range m.embeddings {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]database.IdentityEmbeddings, 0, len(ids))
	for _, id := range ids {
		group := database.IdentityEmbeddings{StaffID: id}
		if s, ok := m.staff[id]; ok {
			group.Name = s.Name
		}
		for _, e := range m.embeddings[id] {
			group.Embeddings = append(group.Embeddings, e.Embedding)
		}
		out = append(out, group)
	}
	return out, nil
}

// CreateStaff stores a staff member and their embeddings
func (m *MockStaffStore) CreateStaff(_ context.Context, s *database.Staff, embeddings []database.StoredEmbedding) error {
	if m.CreateError != nil {
		return m.CreateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	s.CreatedAt, s.UpdatedAt = now, now
	cp := *s
	m.staff[s.ID] = &cp
	for i := range embeddings {
		m.nextID++
		embeddings[i].ID = m.nextID
		embeddings[i].StaffID = s.ID
		m.embeddings[s.ID] = append(m.embeddings[s.ID], embeddings[i])
	}
	return nil
}

// UpdateTemplate replaces the template of a staff member
func (m *MockStaffStore) UpdateTemplate(
	_ context.Context, staffID string, template []float32, weights []float64, norm float64,
) error {
	if m.UpdateError != nil {
		return m.UpdateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.staff[staffID]
	if !ok {
		return fmt.Errorf("staff %s not found", staffID)
	}
	s.Template, s.TemplateWeights, s.TemplateNorm = template, weights, norm
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// UpdateEmbedding replaces the vector of a stored embedding
func (m *MockStaffStore) UpdateEmbedding(_ context.Context, id int64, vec []float32) error {
	if m.UpdateError != nil {
		return m.UpdateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for staffID, list := range m.embeddings {
		for i := range list {
			if list[i].ID == id {
				m.embeddings[staffID][i].Embedding = vec
				return nil
			}
		}
	}
	return fmt.Errorf("embedding %d not found", id)
}

// SearchTemplates scans every template by cosine similarity
func (m *MockStaffStore) SearchTemplates(_ context.Context, vec []float32, k int) ([]database.TemplateMatch, error) {
	if m.SearchError != nil {
		return nil, m.SearchError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matches []database.TemplateMatch
	for _, s := range m.staff {
		if len(s.Template) == 0 {
			continue
		}
		matches = append(matches, database.TemplateMatch{
			StaffID:    s.ID,
			Name:       s.Name,
			Similarity: embedding.CosineSimilarity(vec, s.Template),
		})
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].StaffID < matches[j].StaffID
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// MockClockEventStore is a mock implementation of database.ClockEventWriter
type MockClockEventStore struct {
	mu     sync.RWMutex
	events []database.ClockEvent

	// Error injection
	SaveError  error
	QueryError error
}

// NewMockClockEventStore creates a new mock clock event store
func NewMockClockEventStore() *MockClockEventStore {
	return &MockClockEventStore{}
}

// AddEvent adds an event to the mock store
func (m *MockClockEventStore) AddEvent(e database.ClockEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
}

// Events returns every stored event in insertion order
func (m *MockClockEventStore) Events() []database.ClockEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]database.ClockEvent(nil), m.events...)
}

// SaveClockEvent stores an event
func (m *MockClockEventStore) SaveClockEvent(_ context.Context, e *database.ClockEvent) error {
	if m.SaveError != nil {
		return m.SaveError
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	m.AddEvent(*e)
	return nil
}

func (m *MockClockEventStore) newestFirst(keep func(*database.ClockEvent) bool, limit int) []database.ClockEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []database.ClockEvent
	for i := range m.events {
		if keep(&m.events[i]) {
			out = append(out, m.events[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// ListClockEvents returns the newest events of a staff member
func (m *MockClockEventStore) ListClockEvents(_ context.Context, staffID string, limit int) ([]database.ClockEvent, error) {
	if m.QueryError != nil {
		return nil, m.QueryError
	}
	return m.newestFirst(func(e *database.ClockEvent) bool { return e.StaffID == staffID }, limit), nil
}

// RecentMatchedEvents returns matched events since the given time, newest first
func (m *MockClockEventStore) RecentMatchedEvents(
	_ context.Context, staffID string, since time.Time, limit int,
) ([]database.ClockEvent, error) {
	if m.QueryError != nil {
		return nil, m.QueryError
	}
	return m.newestFirst(func(e *database.ClockEvent) bool {
		return e.StaffID == staffID && e.Matched && !e.Timestamp.Before(since)
	}, limit), nil
}

// CountDeviceMatches counts matched events from one device since the given time
func (m *MockClockEventStore) CountDeviceMatches(
	_ context.Context, staffID, fingerprint string, since time.Time,
) (int, error) {
	if m.QueryError != nil {
		return 0, m.QueryError
	}
	return len(m.newestFirst(func(e *database.ClockEvent) bool {
		return e.StaffID == staffID && e.DeviceFingerprint == fingerprint && e.Matched && !e.Timestamp.Before(since)
	}, 0)), nil
}

// MockDeviceQualityStore is a mock implementation of database.DeviceQualityStore
type MockDeviceQualityStore struct {
	mu      sync.RWMutex
	devices map[string]database.DeviceQuality

	// Error injection
	GetError  error
	SaveError error
}

// NewMockDeviceQualityStore creates a new mock device quality store
func NewMockDeviceQualityStore() *MockDeviceQualityStore {
	return &MockDeviceQualityStore{devices: make(map[string]database.DeviceQuality)}
}

// GetDeviceQuality returns the history of a device, nil if unknown
func (m *MockDeviceQualityStore) GetDeviceQuality(_ context.Context, fingerprint string) (*database.DeviceQuality, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	dq, ok := m.devices[fingerprint]
	if !ok {
		return nil, nil
	}
	dq.Samples = append([]database.DeviceSample(nil), dq.Samples...)
	return &dq, nil
}

// SaveDeviceQuality upserts the history of a device
func (m *MockDeviceQualityStore) SaveDeviceQuality(_ context.Context, dq *database.DeviceQuality) error {
	if m.SaveError != nil {
		return m.SaveError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	dq.UpdatedAt = time.Now().UTC()
	cp := *dq
	cp.Samples = append([]database.DeviceSample(nil), dq.Samples...)
	m.devices[dq.Fingerprint] = cp
	return nil
}
