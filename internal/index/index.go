// Package index maintains the per-event collections of photo descriptors.
//
// Each event owns an independent EventIndex; a process-wide Registry maps
// event IDs to their indexes so that operations on one event never contend
// with another. Records are published atomically: a snapshot either sees a
// photo with all of its descriptors or not at all.
package index

import (
	"fmt"
	"sort"
	"sync"

	"github.com/photoevent/facematch/internal/config"
	"github.com/photoevent/facematch/internal/descriptor"
)

// PhotoRecord is one indexed photo. Faces may be empty: a photo with no
// detectable face stays in the index but can never be returned as a match.
type PhotoRecord struct {
	PhotoID   string
	SourceRef string
	Faces     []descriptor.Descriptor
}

// EventIndex holds the records of a single event. All methods are safe for
// concurrent use; the lock covers only the bookkeeping of publishing a
// record or taking a snapshot, never descriptor computation.
type EventIndex struct {
	eventID     string
	hnswCutover int

	mu      sync.RWMutex
	records map[string]*PhotoRecord // values are immutable once published
	ann     *annIndex               // built lazily, nil when linear scan suffices
	annGen  uint64                  // bumped on every write, invalidates ann
}

func newEventIndex(eventID string, hnswCutover int) *EventIndex {
	return &EventIndex{
		eventID:     eventID,
		hnswCutover: hnswCutover,
		records:     make(map[string]*PhotoRecord),
	}
}

// EventID returns the event this index belongs to.
func (ix *EventIndex) EventID() string {
	return ix.eventID
}

// Upsert inserts or replaces the record for a photo. Repeating the call
// with identical arguments leaves the index unchanged. Every descriptor
// must have the process-wide vector length.
func (ix *EventIndex) Upsert(photoID, sourceRef string, faces []descriptor.Descriptor) error {
	for i, f := range faces {
		if len(f.Vector) != descriptor.Dim {
			return fmt.Errorf("photo %s face %d: vector length %d, want %d",
				photoID, i, len(f.Vector), descriptor.Dim)
		}
	}

	rec := &PhotoRecord{
		PhotoID:   photoID,
		SourceRef: sourceRef,
		Faces:     append([]descriptor.Descriptor(nil), faces...),
	}

	ix.mu.Lock()
	ix.records[photoID] = rec
	ix.annGen++
	ix.mu.Unlock()
	return nil
}

// Remove deletes the record for a photo if present; no-op otherwise.
func (ix *EventIndex) Remove(photoID string) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if _, ok := ix.records[photoID]; !ok {
		return false
	}
	delete(ix.records, photoID)
	ix.annGen++
	return true
}

// Has reports whether a photo is indexed.
func (ix *EventIndex) Has(photoID string) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	_, ok := ix.records[photoID]
	return ok
}

// Len returns the number of indexed photos.
func (ix *EventIndex) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.records)
}

// DescriptorCount returns the total number of descriptors in the index.
func (ix *EventIndex) DescriptorCount() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	count := 0
	for _, rec := range ix.records {
		count += len(rec.Faces)
	}
	return count
}

// Snapshot returns a consistent point-in-time view of the index, ordered
// by photo ID for determinism. Record values are copies; the descriptors
// they reference are never mutated after publication.
func (ix *EventIndex) Snapshot() []PhotoRecord {
	ix.mu.RLock()
	out := make([]PhotoRecord, 0, len(ix.records))
	for _, rec := range ix.records {
		out = append(out, *rec)
	}
	ix.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].PhotoID < out[j].PhotoID })
	return out
}

// Registry maps event IDs to their indexes. Indexes are created lazily on
// first ingestion and destroyed when their event is deleted.
type Registry struct {
	hnswCutover int

	mu     sync.RWMutex
	events map[string]*EventIndex
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg config.IndexConfig) *Registry {
	return &Registry{
		hnswCutover: cfg.HNSWCutover,
		events:      make(map[string]*EventIndex),
	}
}

// Get returns the index for an event, if it exists.
func (r *Registry) Get(eventID string) (*EventIndex, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ix, ok := r.events[eventID]
	return ix, ok
}

// Ensure returns the index for an event, creating it if needed.
func (r *Registry) Ensure(eventID string) *EventIndex {
	r.mu.RLock()
	ix, ok := r.events[eventID]
	r.mu.RUnlock()
	if ok {
		return ix
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if ix, ok := r.events[eventID]; ok {
		return ix
	}
	ix = newEventIndex(eventID, r.hnswCutover)
	r.events[eventID] = ix
	return ix
}

// Drop destroys an event's index. Returns false if the event was unknown.
func (r *Registry) Drop(eventID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.events[eventID]; !ok {
		return false
	}
	delete(r.events, eventID)
	return true
}

// EventIDs returns the IDs of all known events, sorted.
func (r *Registry) EventIDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.events))
	for id := range r.events {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}
