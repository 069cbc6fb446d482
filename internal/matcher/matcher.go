// Package matcher compares a query descriptor against an event index
// snapshot and returns ranked, thresholded results.
package matcher

import (
	"math"
	"sort"

	"github.com/photoevent/facematch/internal/constants"
	"github.com/photoevent/facematch/internal/descriptor"
	"github.com/photoevent/facematch/internal/index"
)

// Result is one matched photo. Results are ephemeral, produced per query.
type Result struct {
	PhotoID   string `json:"photo_id"`
	SourceRef string `json:"source_ref"`
	Score     int    `json:"similarity"` // 0-100, monotonic with descriptor closeness
}

// Score maps a cosine similarity in [-1, 1] to the 0-100 integer scale
// surfaced to guests. The mapping is fixed and monotonic.
func Score(similarity float64) int {
	s := int(math.Round(50 * (1 + similarity)))
	if s < 0 {
		return 0
	}
	if s > constants.MaxScore {
		return constants.MaxScore
	}
	return s
}

// Match scans every descriptor in the snapshot, scores each photo by the
// best of its faces, drops photos below the threshold and returns the rest
// ordered by descending score with ties broken by ascending photo ID.
// A photo without descriptors can never match. An empty result is a valid
// outcome, not an error.
func Match(query []float32, snapshot []index.PhotoRecord, threshold int) []Result {
	results := make([]Result, 0)

	for _, rec := range snapshot {
		best := -1
		for _, face := range rec.Faces {
			if s := Score(descriptor.CosineSimilarity(query, face.Vector)); s > best {
				best = s
			}
		}
		if best < 0 || best < threshold {
			continue
		}
		results = append(results, Result{
			PhotoID:   rec.PhotoID,
			SourceRef: rec.SourceRef,
			Score:     best,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].PhotoID < results[j].PhotoID
	})
	return results
}
