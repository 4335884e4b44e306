// Package constants provides shared constants used across the codebase.
package constants

// Handler pagination constants
const (
	// DefaultHandlerPageSize is the page size for paginated handler endpoints
	DefaultHandlerPageSize = 100

	// DefaultClockEventLimit is the default number of clock events returned per staff member
	DefaultClockEventLimit = 50
)

// File upload constants
const (
	// MaxUploadSize is the maximum upload size in bytes for a registration request (50MB)
	MaxUploadSize = 50 << 20

	// MaxImageSize is the maximum size of a single uploaded image (10MB)
	MaxImageSize = 10 << 20
)
