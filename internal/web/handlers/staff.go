package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/faceclock/internal/constants"
	"github.com/kozaktomas/faceclock/internal/database"
	"github.com/kozaktomas/faceclock/internal/enrollment"
)

// maxNameLength bounds staff names accepted at registration.
const maxNameLength = 200

// Enroller turns registration photos into a template.
type Enroller interface {
	Enroll(ctx context.Context, req enrollment.Request) (*enrollment.Result, error)
}

// StaffHandler handles staff registration and lookup.
type StaffHandler struct {
	enroller Enroller
}

// NewStaffHandler creates a new staff handler.
func NewStaffHandler(e Enroller) *StaffHandler {
	return &StaffHandler{enroller: e}
}

// StaffResponse represents a staff member in API responses
type StaffResponse struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	RegistrationNote string    `json:"registration_note"`
	TemplateSources  int       `json:"template_sources"`
	TemplateNorm     float64   `json:"template_norm"`
	HasDocument      bool      `json:"has_document"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func staffToResponse(s *database.Staff) StaffResponse {
	return StaffResponse{
		ID:               s.ID,
		Name:             s.Name,
		RegistrationNote: s.RegistrationNote,
		TemplateSources:  len(s.TemplateWeights),
		TemplateNorm:     s.TemplateNorm,
		HasDocument:      len(s.DocumentEmbedding) > 0,
		CreatedAt:        s.CreatedAt,
		UpdatedAt:        s.UpdatedAt,
	}
}

// registrationFailure is returned when photos were processed but the staff
// member could not be registered.
type registrationFailure struct {
	Error  string             `json:"error"`
	Result *enrollment.Result `json:"result"`
}

// Create registers a staff member from live photos and an optional document photo.
func (h *StaffHandler) Create(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(constants.MaxUploadSize); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidForm)
		return
	}

	name := strings.TrimSpace(r.FormValue("name"))
	if name == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}
	if len(name) > maxNameLength {
		respondError(w, http.StatusBadRequest, "name is too long")
		return
	}

	files := r.MultipartForm.File["photos"]
	if len(files) == 0 {
		respondError(w, http.StatusBadRequest, "no photos provided")
		return
	}
	req := enrollment.Request{Photos: make([][]byte, 0, len(files))}
	for _, fh := range files {
		data, err := readFormFile(fh)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		req.Photos = append(req.Photos, data)
	}
	if docs := r.MultipartForm.File["document"]; len(docs) > 0 {
		data, err := readFormFile(docs[0])
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		req.Document = data
	}

	writer, err := database.GetStaffWriter(r.Context())
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	res, err := h.enroller.Enroll(r.Context(), req)
	switch {
	case errors.Is(err, enrollment.ErrQuorumNotMet), errors.Is(err, enrollment.ErrDocumentRequired),
		errors.Is(err, enrollment.ErrDocumentMismatch):
		respondJSON(w, http.StatusUnprocessableEntity, registrationFailure{Error: err.Error(), Result: res})
		return
	case errors.Is(err, enrollment.ErrNoPhotos):
		respondError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		respondProcessingError(w, err)
		return
	}

	staff, embeddings := res.Records(name)
	if err := writer.CreateStaff(r.Context(), staff, embeddings); err != nil {
		log.Printf("ERROR: failed to store staff %q: %v", sanitizeForLog(name), err)
		respondError(w, http.StatusInternalServerError, "failed to store staff")
		return
	}

	log.Printf("Registered staff %s (%s): %s", staff.ID, sanitizeForLog(name), res.Note)
	respondJSON(w, http.StatusCreated, map[string]any{
		"staff":  staffToResponse(staff),
		"result": res,
	})
}

// List returns registered staff, optionally filtered by name.
func (h *StaffHandler) List(w http.ResponseWriter, r *http.Request) {
	reader, err := database.GetStaffReader(r.Context())
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	var staff []database.Staff
	total := 0
	if q := strings.TrimSpace(r.URL.Query().Get("q")); q != "" {
		staff, err = reader.FindStaffByName(r.Context(), q)
		total = len(staff)
	} else {
		count, _ := strconv.Atoi(r.URL.Query().Get("count"))
		if count <= 0 {
			count = constants.DefaultHandlerPageSize
		}
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		staff, err = reader.ListStaff(r.Context(), count, max(offset, 0))
		if err == nil {
			total, err = reader.CountStaff(r.Context())
		}
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list staff")
		return
	}

	response := make([]StaffResponse, len(staff))
	for i := range staff {
		response[i] = staffToResponse(&staff[i])
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"staff": response,
		"total": total,
	})
}

// lookupStaff resolves the {id} URL parameter. It writes the error response
// and returns nil when the staff member cannot be served.
func lookupStaff(w http.ResponseWriter, r *http.Request) *database.Staff {
	id := chi.URLParam(r, "id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "missing staff ID")
		return nil
	}

	reader, err := database.GetStaffReader(r.Context())
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, err.Error())
		return nil
	}
	s, err := reader.GetStaff(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get staff")
		return nil
	}
	if s == nil {
		respondError(w, http.StatusNotFound, "staff not found")
		return nil
	}
	return s
}

// Get returns a single staff member.
func (h *StaffHandler) Get(w http.ResponseWriter, r *http.Request) {
	s := lookupStaff(w, r)
	if s == nil {
		return
	}
	respondJSON(w, http.StatusOK, staffToResponse(s))
}
