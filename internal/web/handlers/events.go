package handlers

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/photoevent/facematch/internal/engine"
)

// EventHandler manages per-event index lifecycle operations.
type EventHandler struct {
	engine *engine.Engine
}

// NewEventHandler creates a new event handler.
func NewEventHandler(e *engine.Engine) *EventHandler {
	return &EventHandler{engine: e}
}

// ListEvents returns the identifiers of all events with a live index.
func (h *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"events": h.engine.Registry().EventIDs(),
	})
}

// DeletePhoto removes a single photo from an event index.
func (h *EventHandler) DeletePhoto(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")
	photoID := chi.URLParam(r, "photoID")
	if eventID == "" || photoID == "" {
		respondError(w, http.StatusBadRequest, "event ID and photo ID are required")
		return
	}

	removed, err := h.engine.RemovePhoto(r.Context(), eventID, photoID)
	if err != nil {
		log.Printf("could not delete photo %s from event %s: %v",
			sanitizeForLog(photoID), sanitizeForLog(eventID), err)
		respondError(w, http.StatusInternalServerError, "failed to delete photo")
		return
	}
	if !removed {
		respondError(w, http.StatusNotFound, "photo not found")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// DeleteEvent drops the whole event index and its persisted descriptors.
func (h *EventHandler) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")
	if eventID == "" {
		respondError(w, http.StatusBadRequest, "event ID is required")
		return
	}

	dropped, err := h.engine.DropEvent(r.Context(), eventID)
	if err != nil {
		log.Printf("could not drop event %s: %v", sanitizeForLog(eventID), err)
		respondError(w, http.StatusInternalServerError, "failed to delete event")
		return
	}
	if !dropped {
		respondError(w, http.StatusNotFound, "event not found")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
