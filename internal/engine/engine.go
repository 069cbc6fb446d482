// Package engine orchestrates the face locator, the descriptor extractor
// and the event indexes into the two pipelines the surrounding product
// calls: batch ingestion of uploaded photos and selfie match queries.
package engine

import (
	"context"
	"errors"

	"github.com/photoevent/facematch/internal/config"
	"github.com/photoevent/facematch/internal/descriptor"
	"github.com/photoevent/facematch/internal/index"
	"github.com/photoevent/facematch/internal/locate"
)

// Typed failures surfaced to callers. Decode failures are reported via
// imaging.ErrDecode, extractor contract violations via
// descriptor.ErrInvalidRegion.
var (
	// ErrNoFaceDetected means a selfie query contained no detectable face.
	// Distinct from a valid empty match result.
	ErrNoFaceDetected = errors.New("no face detected")

	// ErrUnknownEvent means a query targeted a non-existent or deleted event.
	ErrUnknownEvent = errors.New("unknown event")
)

// State is the terminal state of one photo within an ingestion batch.
type State string

const (
	// StateIndexed means faces were extracted and the photo can be matched.
	StateIndexed State = "indexed"
	// StateSkipped means no face was found; the photo is indexed with an
	// empty descriptor list and stays visible in the ordinary gallery.
	StateSkipped State = "skipped"
	// StateFailed means the photo could not be processed and was excluded
	// from the index.
	StateFailed State = "failed"
)

// Upload is one photo handed to the ingestion pipeline. The engine never
// retains Data beyond descriptor extraction.
type Upload struct {
	PhotoID   string
	SourceRef string
	Data      []byte
}

// Outcome is the per-photo result of an ingestion batch.
type Outcome struct {
	PhotoID   string
	SourceRef string
	State     State
	FaceCount int
	Err       error // set only when State is StateFailed
}

// DescriptorStore persists descriptors keyed by (event_id, photo_id).
// The in-memory registry stays authoritative; the store is write-through.
type DescriptorStore interface {
	SavePhoto(ctx context.Context, eventID string, rec index.PhotoRecord) error
	DeletePhoto(ctx context.Context, eventID, photoID string) error
	DeleteEvent(ctx context.Context, eventID string) error
}

// DescriptorLoader restores persisted records, grouped by event ID.
type DescriptorLoader interface {
	LoadAll(ctx context.Context) (map[string][]index.PhotoRecord, error)
}

// Engine is the photo-identity matching engine.
type Engine struct {
	cfg       *config.Config
	registry  *index.Registry
	locator   locate.Locator
	extractor descriptor.Extractor
	store     DescriptorStore // nil disables persistence
}

// New creates an engine with the default locator and extractor.
// store may be nil to keep the index purely in memory.
func New(cfg *config.Config, store DescriptorStore) *Engine {
	return NewWithStrategies(cfg, locate.NewSkinLocator(cfg.Locator), descriptor.NewHOGExtractor(), store)
}

// NewWithStrategies creates an engine with explicit locator and extractor
// implementations, so either can be swapped without touching the pipelines.
func NewWithStrategies(cfg *config.Config, loc locate.Locator, ext descriptor.Extractor, store DescriptorStore) *Engine {
	return &Engine{
		cfg:       cfg,
		registry:  index.NewRegistry(cfg.Index),
		locator:   loc,
		extractor: ext,
		store:     store,
	}
}

// Registry exposes the event registry for boundary operations.
func (e *Engine) Registry() *index.Registry {
	return e.registry
}

// Restore loads persisted records into the in-memory registry. Used on
// startup when a descriptor store is configured.
func (e *Engine) Restore(ctx context.Context, loader DescriptorLoader) error {
	records, err := loader.LoadAll(ctx)
	if err != nil {
		return err
	}
	for eventID, recs := range records {
		ix := e.registry.Ensure(eventID)
		for _, rec := range recs {
			if err := ix.Upsert(rec.PhotoID, rec.SourceRef, rec.Faces); err != nil {
				return err
			}
		}
	}
	return nil
}

// RemovePhoto deletes one photo from an event's index and from the store.
// Removing an unknown photo or event is a no-op.
func (e *Engine) RemovePhoto(ctx context.Context, eventID, photoID string) (bool, error) {
	removed := false
	if ix, ok := e.registry.Get(eventID); ok {
		removed = ix.Remove(photoID)
	}
	if e.store != nil {
		if err := e.store.DeletePhoto(ctx, eventID, photoID); err != nil {
			return removed, err
		}
	}
	return removed, nil
}

// DropEvent destroys an event's index and its persisted records.
func (e *Engine) DropEvent(ctx context.Context, eventID string) (bool, error) {
	dropped := e.registry.Drop(eventID)
	if e.store != nil {
		if err := e.store.DeleteEvent(ctx, eventID); err != nil {
			return dropped, err
		}
	}
	return dropped, nil
}
