package engine

import (
	"context"
	"fmt"

	"github.com/photoevent/facematch/internal/imaging"
	"github.com/photoevent/facematch/internal/matcher"
)

// FindMatches runs a selfie query against an event's index and returns
// the ranked matches. The pipeline performs no writes; a caller that
// abandons the query simply discards the result.
//
// Failure modes: ErrUnknownEvent for a missing event, imaging.ErrDecode
// for unreadable selfie bytes, ErrNoFaceDetected when the selfie contains
// no detectable face. Zero matches is a successful empty result.
func (e *Engine) FindMatches(ctx context.Context, eventID string, selfie []byte) ([]matcher.Result, error) {
	ix, ok := e.registry.Get(eventID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, eventID)
	}

	img, err := imaging.Decode(selfie)
	if err != nil {
		return nil, err
	}

	boxes := e.locator.Locate(img)
	if len(boxes) == 0 {
		return nil, ErrNoFaceDetected
	}

	// Selfies are assumed single-subject; the locator orders boxes largest
	// first, so boxes[0] is the dominant face.
	desc, err := e.extractor.Extract(img, boxes[0])
	if err != nil {
		return nil, err
	}

	snapshot := ix.CandidatePhotos(desc.Vector, 0)
	return matcher.Match(desc.Vector, snapshot, e.cfg.Matching.Threshold), nil
}
