package handlers

import (
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/photoevent/facematch/internal/constants"
	"github.com/photoevent/facematch/internal/engine"
)

// IngestHandler handles photo upload batches for an event.
type IngestHandler struct {
	engine *engine.Engine
}

// NewIngestHandler creates a new ingest handler.
func NewIngestHandler(e *engine.Engine) *IngestHandler {
	return &IngestHandler{engine: e}
}

// photoOutcome is the per-photo result reported to the upload caller.
type photoOutcome struct {
	PhotoID   string `json:"photo_id"`
	Filename  string `json:"filename"`
	State     string `json:"state"`
	FaceCount int    `json:"face_count"`
	Error     string `json:"error,omitempty"`
}

// readPart opens a multipart part and reads it fully into memory.
func readPart(fh *multipart.FileHeader) ([]byte, error) {
	file, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open uploaded file: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("read uploaded file: %w", err)
	}
	return data, nil
}

// IngestBatch accepts a multipart batch of photos under the "files" field
// and indexes them for the event. One bad upload never fails the batch:
// the response always carries a per-photo outcome for every file.
func (h *IngestHandler) IngestBatch(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")
	if eventID == "" {
		respondError(w, http.StatusBadRequest, "event ID is required")
		return
	}

	if err := r.ParseMultipartForm(constants.MaxUploadSize); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse multipart form")
		return
	}

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		respondError(w, http.StatusBadRequest, "no files provided")
		return
	}

	response := make([]photoOutcome, len(files))
	uploads := make([]engine.Upload, 0, len(files))
	uploadPos := make([]int, 0, len(files))
	for i, fileHeader := range files {
		safeName := filepath.Base(fileHeader.Filename)
		data, err := readPart(fileHeader)
		if err != nil {
			// An unreadable part fails that photo, not the batch.
			response[i] = photoOutcome{
				PhotoID:  uuid.NewString(),
				Filename: safeName,
				State:    string(engine.StateFailed),
				Error:    err.Error(),
			}
			continue
		}

		uploads = append(uploads, engine.Upload{
			PhotoID:   uuid.NewString(),
			SourceRef: safeName,
			Data:      data,
		})
		uploadPos = append(uploadPos, i)
	}

	outcomes := h.engine.IngestBatch(r.Context(), eventID, uploads)

	log.Printf("ingested batch of %d photos for event %s", len(files), sanitizeForLog(eventID))

	for i, o := range outcomes {
		pos := uploadPos[i]
		response[pos] = photoOutcome{
			PhotoID:   o.PhotoID,
			Filename:  o.SourceRef,
			State:     string(o.State),
			FaceCount: o.FaceCount,
		}
		if o.Err != nil {
			response[pos].Error = o.Err.Error()
		}
	}
	respondJSON(w, http.StatusOK, response)
}
