package index

import (
	"github.com/coder/hnsw"

	"github.com/photoevent/facematch/internal/constants"
)

// annIndex is an HNSW graph over every descriptor of an event, used to
// order and narrow the candidate set before exact rescoring when the event
// has grown past the configured cutover. Graphs are immutable once built;
// writes to the event index invalidate them by generation.
type annIndex struct {
	graph   *hnsw.Graph[int64]
	photoID map[int64]string // HNSW node ID -> owning photo
	gen     uint64           // index generation this graph was built from
}

// buildANN constructs a graph from a snapshot. Called without holding the
// index lock; the result is published separately.
func buildANN(snapshot []PhotoRecord, gen uint64) *annIndex {
	g := hnsw.NewGraph[int64]()
	g.M = constants.HNSWMaxNeighbors
	g.Ml = 1.0 / float64(constants.HNSWMaxNeighbors) // Standard HNSW formula
	g.Distance = hnsw.CosineDistance

	ann := &annIndex{
		graph:   g,
		photoID: make(map[int64]string),
		gen:     gen,
	}

	var id int64
	for _, rec := range snapshot {
		for _, face := range rec.Faces {
			g.Add(hnsw.MakeNode(id, face.Vector))
			ann.photoID[id] = rec.PhotoID
			id++
		}
	}
	return ann
}

// search returns the photo IDs owning the k nearest descriptors,
// deduplicated, nearest first.
func (a *annIndex) search(query []float32, k int) []string {
	neighbors := a.graph.Search(query, k)

	seen := make(map[string]struct{}, len(neighbors))
	out := make([]string, 0, len(neighbors))
	for _, n := range neighbors {
		pid := a.photoID[n.Key]
		if _, ok := seen[pid]; ok {
			continue
		}
		seen[pid] = struct{}{}
		out = append(out, pid)
	}
	return out
}

// Accelerated reports whether queries against this index currently use the
// HNSW candidate path instead of a plain linear scan.
func (ix *EventIndex) Accelerated() bool {
	return ix.hnswCutover > 0 && ix.DescriptorCount() >= ix.hnswCutover
}

// CandidatePhotos returns the records a match query must score, ordered by
// photo ID. Below the HNSW cutover this is the full snapshot. Above it,
// the graph is searched across every descriptor and the candidates are
// checked for coverage: whenever the approximate search fails to reach a
// photo that holds descriptors, completeness cannot be guaranteed and the
// full snapshot is returned instead. Either way, every photo the linear
// scan would match is present; candidates are always rescored with the
// exact metric by the caller.
//
// limit > 0 instead bounds the search to the photos owning the limit
// nearest descriptors, for callers that only want a top-k candidate set.
func (ix *EventIndex) CandidatePhotos(query []float32, limit int) []PhotoRecord {
	full := ix.Snapshot()
	if !ix.Accelerated() {
		return full
	}

	total := 0
	matchable := 0
	for _, rec := range full {
		total += len(rec.Faces)
		if len(rec.Faces) > 0 {
			matchable++
		}
	}

	bounded := limit > 0 && limit < total
	k := limit
	if !bounded {
		k = total
	}

	ann := ix.annFor()
	ids := ann.search(query, k)

	keep := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		keep[id] = struct{}{}
	}

	out := make([]PhotoRecord, 0, len(ids))
	for _, rec := range full {
		if _, ok := keep[rec.PhotoID]; ok {
			out = append(out, rec)
		}
	}

	// An unbounded search that did not reach every descriptor-bearing photo
	// means the graph missed nodes; only the snapshot is safe then.
	if !bounded && len(out) < matchable {
		return full
	}
	return out
}

// annFor returns a graph matching the current index generation, building
// one outside the lock if the cached graph is stale.
func (ix *EventIndex) annFor() *annIndex {
	ix.mu.RLock()
	ann := ix.ann
	gen := ix.annGen
	ix.mu.RUnlock()

	if ann != nil && ann.gen == gen {
		return ann
	}

	// Build from a consistent snapshot without holding the lock; the
	// graph is tagged with the generation the snapshot came from.
	ix.mu.RLock()
	gen = ix.annGen
	snapshot := make([]PhotoRecord, 0, len(ix.records))
	for _, rec := range ix.records {
		snapshot = append(snapshot, *rec)
	}
	ix.mu.RUnlock()

	built := buildANN(snapshot, gen)

	ix.mu.Lock()
	// Another goroutine may have published a fresher graph meanwhile;
	// keep whichever matches the newer generation.
	if ix.ann == nil || ix.ann.gen <= built.gen {
		ix.ann = built
	}
	ann = ix.ann
	ix.mu.Unlock()
	return ann
}
