package handlers

import (
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/photoevent/facematch/internal/constants"
	"github.com/photoevent/facematch/internal/engine"
	"github.com/photoevent/facematch/internal/imaging"
)

// MatchHandler serves the public selfie-matching endpoint.
type MatchHandler struct {
	engine *engine.Engine
}

// NewMatchHandler creates a new match handler.
func NewMatchHandler(e *engine.Engine) *MatchHandler {
	return &MatchHandler{engine: e}
}

// FindMyPhotos takes a guest selfie under the "selfie" field and returns
// the event photos the guest appears in, ranked by similarity.
func (h *MatchHandler) FindMyPhotos(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")
	if eventID == "" {
		respondError(w, http.StatusBadRequest, "event ID is required")
		return
	}

	if err := r.ParseMultipartForm(constants.MaxUploadSize); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse multipart form")
		return
	}

	file, _, err := r.FormFile("selfie")
	if err != nil {
		respondError(w, http.StatusBadRequest, "selfie file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read selfie file")
		return
	}

	results, err := h.engine.FindMatches(r.Context(), eventID, data)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrUnknownEvent):
			respondError(w, http.StatusNotFound, "event not found")
		case errors.Is(err, engine.ErrNoFaceDetected):
			respondError(w, http.StatusUnprocessableEntity, "no face detected in selfie")
		case errors.Is(err, imaging.ErrDecode):
			respondError(w, http.StatusBadRequest, "could not decode selfie image")
		default:
			log.Printf("could not match selfie for event %s: %v", sanitizeForLog(eventID), err)
			respondError(w, http.StatusInternalServerError, "failed to match selfie")
		}
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"event_id": eventID,
		"matches":  results,
	})
}
