package engine

import (
	"context"
	"log"
	"sync"

	"github.com/photoevent/facematch/internal/constants"
	"github.com/photoevent/facematch/internal/descriptor"
	"github.com/photoevent/facematch/internal/imaging"
	"github.com/photoevent/facematch/internal/index"
)

// IngestBatch processes a batch of uploaded photos for one event. Photos
// are handled independently by a bounded worker pool; one bad upload never
// blocks the others, and the batch itself always succeeds. Outcomes are
// returned in input order.
func (e *Engine) IngestBatch(ctx context.Context, eventID string, uploads []Upload) []Outcome {
	ix := e.registry.Ensure(eventID)

	workers := e.cfg.Ingest.Workers
	if workers <= 0 {
		workers = constants.DefaultWorkerPoolSize
	}

	outcomes := make([]Outcome, len(uploads))
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup

	for i, up := range uploads {
		wg.Add(1)
		go func(i int, up Upload) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				outcomes[i] = Outcome{PhotoID: up.PhotoID, SourceRef: up.SourceRef, State: StateFailed, Err: ctx.Err()}
				return
			}
			defer func() { <-sem }()

			outcomes[i] = e.ingestOne(ctx, ix, eventID, up)
		}(i, up)
	}
	wg.Wait()

	return outcomes
}

// ingestOne runs the per-photo state machine:
// Received -> Decoded -> Located -> Extracted -> Indexed, with terminal
// Skipped (no faces) and Failed (undecodable image or extractor contract
// violation) states.
func (e *Engine) ingestOne(ctx context.Context, ix *index.EventIndex, eventID string, up Upload) Outcome {
	img, err := imaging.Decode(up.Data)
	if err != nil {
		return Outcome{PhotoID: up.PhotoID, SourceRef: up.SourceRef, State: StateFailed, Err: err}
	}

	boxes := e.locator.Locate(img)
	if len(boxes) == 0 {
		// Indexed with an empty descriptor list: visible in the gallery,
		// never a selfie match.
		if err := ix.Upsert(up.PhotoID, up.SourceRef, nil); err != nil {
			return Outcome{PhotoID: up.PhotoID, SourceRef: up.SourceRef, State: StateFailed, Err: err}
		}
		e.persist(ctx, eventID, index.PhotoRecord{PhotoID: up.PhotoID, SourceRef: up.SourceRef})
		return Outcome{PhotoID: up.PhotoID, SourceRef: up.SourceRef, State: StateSkipped}
	}

	faces := make([]descriptor.Descriptor, 0, len(boxes))
	for _, box := range boxes {
		desc, err := e.extractor.Extract(img, box)
		if err != nil {
			// Contract violation between locator and extractor.
			log.Printf("descriptor extraction failed for photo %s box %v: %v", up.PhotoID, box, err)
			return Outcome{PhotoID: up.PhotoID, SourceRef: up.SourceRef, State: StateFailed, Err: err}
		}
		faces = append(faces, desc)
	}

	if err := ix.Upsert(up.PhotoID, up.SourceRef, faces); err != nil {
		return Outcome{PhotoID: up.PhotoID, SourceRef: up.SourceRef, State: StateFailed, Err: err}
	}
	e.persist(ctx, eventID, index.PhotoRecord{PhotoID: up.PhotoID, SourceRef: up.SourceRef, Faces: faces})

	return Outcome{PhotoID: up.PhotoID, SourceRef: up.SourceRef, State: StateIndexed, FaceCount: len(faces)}
}

// persist writes a record through to the store when one is configured.
// Persistence failures do not fail the photo: the in-memory index is
// authoritative and the store can be rebuilt from re-ingestion.
func (e *Engine) persist(ctx context.Context, eventID string, rec index.PhotoRecord) {
	if e.store == nil {
		return
	}
	if err := e.store.SavePhoto(ctx, eventID, rec); err != nil {
		log.Printf("persisting photo %s for event %s: %v", rec.PhotoID, eventID, err)
	}
}
