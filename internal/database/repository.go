package database

import (
	"context"
	"time"
)

// StaffReader provides read-only access to enrolled staff
type StaffReader interface {
	// GetStaff retrieves a staff member by ID, returns nil if not found
	GetStaff(ctx context.Context, id string) (*Staff, error)
	// ListStaff returns staff ordered by name
	ListStaff(ctx context.Context, limit, offset int) ([]Staff, error)
	// CountStaff returns the number of enrolled staff
	CountStaff(ctx context.Context) (int, error)
	// FindStaffByName finds staff whose normalized name matches (lowercase, no diacritics, dashes to spaces)
	FindStaffByName(ctx context.Context, name string) ([]Staff, error)
	// GetEmbeddings returns the raw embeddings of a staff member ordered by position
	GetEmbeddings(ctx context.Context, staffID string) ([]StoredEmbedding, error)
	// GetAllTemplates returns every staff member with a template, for building the search index
	GetAllTemplates(ctx context.Context) ([]Staff, error)
	// GetIdentityEmbeddings returns raw embeddings grouped by staff member, for calibration
	GetIdentityEmbeddings(ctx context.Context) ([]IdentityEmbeddings, error)
}

// StaffWriter provides write access to staff data
type StaffWriter interface {
	StaffReader

	// CreateStaff stores a staff member with their raw embeddings in one transaction.
	// An empty ID is replaced with a new UUID.
	CreateStaff(ctx context.Context, staff *Staff, embeddings []StoredEmbedding) error

	// UpdateTemplate replaces the template of a staff member
	UpdateTemplate(ctx context.Context, staffID string, template []float32, weights []float64, norm float64) error

	// UpdateEmbedding replaces the vector of a stored embedding
	UpdateEmbedding(ctx context.Context, id int64, embedding []float32) error
}

// ClockEventReader provides read-only access to clock events
type ClockEventReader interface {
	// ListClockEvents returns the newest events of a staff member
	ListClockEvents(ctx context.Context, staffID string, limit int) ([]ClockEvent, error)
	// RecentMatchedEvents returns matched events of a staff member since the given time, newest first
	RecentMatchedEvents(ctx context.Context, staffID string, since time.Time, limit int) ([]ClockEvent, error)
	// CountDeviceMatches counts matched events of a staff member from one device since the given time
	CountDeviceMatches(ctx context.Context, staffID, fingerprint string, since time.Time) (int, error)
}

// ClockEventWriter provides write access to clock events
type ClockEventWriter interface {
	ClockEventReader

	// SaveClockEvent stores an event. An empty ID is replaced with a new UUID.
	SaveClockEvent(ctx context.Context, event *ClockEvent) error
}

// DeviceQualityStore persists per-device capture history
type DeviceQualityStore interface {
	// GetDeviceQuality returns the history of a device, nil if unknown
	GetDeviceQuality(ctx context.Context, fingerprint string) (*DeviceQuality, error)
	// SaveDeviceQuality upserts the history of a device
	SaveDeviceQuality(ctx context.Context, dq *DeviceQuality) error
}

// TemplateSearcher finds the staff templates nearest to an embedding
type TemplateSearcher interface {
	// SearchTemplates returns up to k staff ordered by cosine similarity, descending
	SearchTemplates(ctx context.Context, embedding []float32, k int) ([]TemplateMatch, error)
}

// TemplateMatch is one search hit.
type TemplateMatch struct {
	StaffID    string
	Name       string
	Similarity float64
}
