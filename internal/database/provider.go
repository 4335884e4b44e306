package database

import (
	"context"
	"fmt"
)

// IndexRebuilder is implemented by repositories that keep an in-memory template index
type IndexRebuilder interface {
	// RebuildIndex rebuilds the in-memory HNSW index from stored templates
	RebuildIndex(ctx context.Context) error
	// IndexCount returns the number of templates in the index
	IndexCount() int
	// SaveIndex saves the current index to disk (if path configured)
	SaveIndex() error
}

var (
	postgresStaffWriter      func() StaffWriter
	postgresClockEventWriter func() ClockEventWriter
	postgresDeviceQuality    func() DeviceQualityStore
	postgresTemplateSearcher func() TemplateSearcher
	postgresIndex            IndexRebuilder // Singleton for template index rebuilding
	postgresInitialized      bool
)

// RegisterPostgresBackend registers PostgreSQL repository constructors.
// This is called by the postgres package to avoid import cycles.
func RegisterPostgresBackend(
	staff func() StaffWriter,
	events func() ClockEventWriter,
	devices func() DeviceQualityStore,
) {
	postgresStaffWriter = staff
	postgresClockEventWriter = events
	postgresDeviceQuality = devices
	postgresInitialized = true
}

// RegisterTemplateIndex registers the template searcher and its rebuilder.
func RegisterTemplateIndex(searcher func() TemplateSearcher, rebuilder IndexRebuilder) {
	postgresTemplateSearcher = searcher
	postgresIndex = rebuilder
}

// GetIndexRebuilder returns the registered index rebuilder, or nil if not registered.
func GetIndexRebuilder() IndexRebuilder {
	return postgresIndex
}

// IsInitialized returns whether the PostgreSQL backend has been initialized.
func IsInitialized() bool {
	return postgresInitialized
}

func notInitialized() error {
	return fmt.Errorf("PostgreSQL backend not initialized: DATABASE_URL is required")
}

// GetStaffReader returns a StaffReader from the PostgreSQL backend
func GetStaffReader(ctx context.Context) (StaffReader, error) {
	return GetStaffWriter(ctx)
}

// GetStaffWriter returns a StaffWriter from the PostgreSQL backend
func GetStaffWriter(ctx context.Context) (StaffWriter, error) {
	if !postgresInitialized {
		return nil, notInitialized()
	}
	if postgresStaffWriter == nil {
		return nil, fmt.Errorf("PostgreSQL staff writer not registered")
	}
	return postgresStaffWriter(), nil
}

// GetClockEventWriter returns a ClockEventWriter from the PostgreSQL backend
func GetClockEventWriter(ctx context.Context) (ClockEventWriter, error) {
	if !postgresInitialized {
		return nil, notInitialized()
	}
	if postgresClockEventWriter == nil {
		return nil, fmt.Errorf("PostgreSQL clock event writer not registered")
	}
	return postgresClockEventWriter(), nil
}

// GetDeviceQualityStore returns a DeviceQualityStore from the PostgreSQL backend
func GetDeviceQualityStore(ctx context.Context) (DeviceQualityStore, error) {
	if !postgresInitialized {
		return nil, notInitialized()
	}
	if postgresDeviceQuality == nil {
		return nil, fmt.Errorf("PostgreSQL device quality store not registered")
	}
	return postgresDeviceQuality(), nil
}

// GetTemplateSearcher returns the registered TemplateSearcher
func GetTemplateSearcher(ctx context.Context) (TemplateSearcher, error) {
	if !postgresInitialized {
		return nil, notInitialized()
	}
	if postgresTemplateSearcher == nil {
		return nil, fmt.Errorf("PostgreSQL template searcher not registered")
	}
	return postgresTemplateSearcher(), nil
}

// ResetForTesting clears all registered backends.
func ResetForTesting() {
	postgresStaffWriter = nil
	postgresClockEventWriter = nil
	postgresDeviceQuality = nil
	postgresTemplateSearcher = nil
	postgresIndex = nil
	postgresInitialized = false
}
