package handlers

import (
	"context"
	"net/http"

	"github.com/kozaktomas/faceclock/internal/pipeline"
)

// Previewer validates a live frame without embedding it.
type Previewer interface {
	Preview(ctx context.Context, data []byte) (*pipeline.PreviewResult, error)
}

// PreviewHandler handles capture feedback for the camera UI.
type PreviewHandler struct {
	previewer Previewer
}

// NewPreviewHandler creates a new preview handler.
func NewPreviewHandler(p Previewer) *PreviewHandler {
	return &PreviewHandler{previewer: p}
}

// Preview reports whether a frame is ready for capture. Capture problems are
// part of a 200 response; only unreadable input fails.
func (h *PreviewHandler) Preview(w http.ResponseWriter, r *http.Request) {
	data, err := readImageField(r, "image")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.previewer.Preview(r.Context(), data)
	if err != nil {
		respondProcessingError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}
