package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/kozaktomas/faceclock/internal/constants"
	"github.com/kozaktomas/faceclock/internal/facematch"
	"github.com/kozaktomas/faceclock/internal/imaging"
	"github.com/kozaktomas/faceclock/internal/inference"
)

// errInvalidForm is a shared error message for unparseable multipart bodies.
const errInvalidForm = "failed to parse multipart form"

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// rejectionResponse carries a capture rejection with its evidence.
type rejectionResponse struct {
	Error     string  `json:"error"`
	Code      string  `json:"code"`
	Value     float64 `json:"value,omitempty"`
	Threshold float64 `json:"threshold,omitempty"`
}

// respondProcessingError maps pipeline errors to HTTP responses. Capture
// problems are the client's to fix and come back as 422 with their code.
func respondProcessingError(w http.ResponseWriter, err error) {
	var rej *facematch.Rejection
	switch {
	case errors.As(err, &rej):
		respondJSON(w, http.StatusUnprocessableEntity, rejectionResponse{
			Error:     rej.Message,
			Code:      rej.Code,
			Value:     rej.Value,
			Threshold: rej.Threshold,
		})
	case errors.Is(err, imaging.ErrInvalidImage), errors.Is(err, imaging.ErrEmptyImage):
		respondError(w, http.StatusBadRequest, "unsupported or corrupt image")
	case errors.Is(err, inference.ErrQueueTimeout):
		respondError(w, http.StatusServiceUnavailable, "face analysis is busy, try again")
	default:
		log.Printf("ERROR: processing failed: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to process image")
	}
}

// readFormFile reads one uploaded file, bounded by the per-image limit.
func readFormFile(fh *multipart.FileHeader) ([]byte, error) {
	if fh.Size > constants.MaxImageSize {
		return nil, fmt.Errorf("%s exceeds %d bytes", fh.Filename, constants.MaxImageSize)
	}
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %s", fh.Filename)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, constants.MaxImageSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %s", fh.Filename)
	}
	if len(data) > constants.MaxImageSize {
		return nil, fmt.Errorf("%s exceeds %d bytes", fh.Filename, constants.MaxImageSize)
	}
	return data, nil
}

// readImageField parses the multipart form and returns the single image in field.
func readImageField(r *http.Request, field string) ([]byte, error) {
	if err := r.ParseMultipartForm(constants.MaxUploadSize); err != nil {
		return nil, errors.New(errInvalidForm)
	}
	files := r.MultipartForm.File[field]
	if len(files) == 0 {
		return nil, fmt.Errorf("%s is required", field)
	}
	return readFormFile(files[0])
}

// HealthCheck handles the health check endpoint.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}
