package postgres

import (
	"context"
	"fmt"
	"image"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/photoevent/facematch/internal/descriptor"
	"github.com/photoevent/facematch/internal/index"
)

// DescriptorStore provides PostgreSQL-backed persistence for photo
// descriptors, one photo row plus one face row per descriptor, keyed by
// (event_id, photo_id).
type DescriptorStore struct {
	pool *Pool
}

// NewDescriptorStore creates a new descriptor store.
func NewDescriptorStore(pool *Pool) *DescriptorStore {
	return &DescriptorStore{pool: pool}
}

// SavePhoto writes a photo record and its descriptors. Replaces any
// previous rows for the same (event_id, photo_id), so repeated saves are
// idempotent.
func (s *DescriptorStore) SavePhoto(ctx context.Context, eventID string, rec index.PhotoRecord) error {
	tx, err := s.pool.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save photo: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO photos (event_id, photo_id, source_ref, face_count)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (event_id, photo_id) DO UPDATE SET
			source_ref = EXCLUDED.source_ref,
			face_count = EXCLUDED.face_count
	`, eventID, rec.PhotoID, rec.SourceRef, len(rec.Faces))
	if err != nil {
		return fmt.Errorf("upsert photo %s: %w", rec.PhotoID, err)
	}

	_, err = tx.ExecContext(ctx,
		"DELETE FROM faces WHERE event_id = $1 AND photo_id = $2", eventID, rec.PhotoID)
	if err != nil {
		return fmt.Errorf("clear faces for %s: %w", rec.PhotoID, err)
	}

	for i, face := range rec.Faces {
		bbox := []float64{
			float64(face.Box.Min.X), float64(face.Box.Min.Y),
			float64(face.Box.Max.X), float64(face.Box.Max.Y),
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO faces (event_id, photo_id, face_index, embedding, bbox)
			VALUES ($1, $2, $3, $4, $5)
		`, eventID, rec.PhotoID, i, pgvector.NewVector(face.Vector), pq.Array(bbox))
		if err != nil {
			return fmt.Errorf("insert face %d of %s: %w", i, rec.PhotoID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save photo %s: %w", rec.PhotoID, err)
	}
	return nil
}

// DeletePhoto removes one photo and its descriptors.
func (s *DescriptorStore) DeletePhoto(ctx context.Context, eventID, photoID string) error {
	_, err := s.pool.db.ExecContext(ctx,
		"DELETE FROM photos WHERE event_id = $1 AND photo_id = $2", eventID, photoID)
	if err != nil {
		return fmt.Errorf("delete photo %s: %w", photoID, err)
	}
	return nil
}

// DeleteEvent removes every record of an event.
func (s *DescriptorStore) DeleteEvent(ctx context.Context, eventID string) error {
	_, err := s.pool.db.ExecContext(ctx,
		"DELETE FROM photos WHERE event_id = $1", eventID)
	if err != nil {
		return fmt.Errorf("delete event %s: %w", eventID, err)
	}
	return nil
}

// LoadAll reads every persisted record, grouped by event ID. Used to warm
// the in-memory registry on startup.
func (s *DescriptorStore) LoadAll(ctx context.Context) (map[string][]index.PhotoRecord, error) {
	records := make(map[string]map[string]*index.PhotoRecord)

	rows, err := s.pool.db.QueryContext(ctx,
		"SELECT event_id, photo_id, source_ref FROM photos")
	if err != nil {
		return nil, fmt.Errorf("query photos: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var eventID, photoID, sourceRef string
		if err := rows.Scan(&eventID, &photoID, &sourceRef); err != nil {
			return nil, fmt.Errorf("scan photo: %w", err)
		}
		if records[eventID] == nil {
			records[eventID] = make(map[string]*index.PhotoRecord)
		}
		records[eventID][photoID] = &index.PhotoRecord{PhotoID: photoID, SourceRef: sourceRef}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate photos: %w", err)
	}

	faceRows, err := s.pool.db.QueryContext(ctx, `
		SELECT event_id, photo_id, embedding, bbox
		FROM faces
		ORDER BY event_id, photo_id, face_index
	`)
	if err != nil {
		return nil, fmt.Errorf("query faces: %w", err)
	}
	defer faceRows.Close()

	for faceRows.Next() {
		var eventID, photoID string
		var vec pgvector.Vector
		var bbox pq.Float64Array
		if err := faceRows.Scan(&eventID, &photoID, &vec, &bbox); err != nil {
			return nil, fmt.Errorf("scan face: %w", err)
		}

		rec := records[eventID][photoID]
		if rec == nil {
			// Orphan face row; the photos table is the source of truth.
			continue
		}
		vector := vec.Slice()
		if len(vector) != descriptor.Dim {
			return nil, fmt.Errorf("photo %s: stored vector length %d, want %d",
				photoID, len(vector), descriptor.Dim)
		}
		face := descriptor.Descriptor{Vector: vector}
		if len(bbox) == 4 {
			face.Box = image.Rect(int(bbox[0]), int(bbox[1]), int(bbox[2]), int(bbox[3]))
		}
		rec.Faces = append(rec.Faces, face)
	}
	if err := faceRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate faces: %w", err)
	}

	out := make(map[string][]index.PhotoRecord, len(records))
	for eventID, byPhoto := range records {
		recs := make([]index.PhotoRecord, 0, len(byPhoto))
		for _, rec := range byPhoto {
			recs = append(recs, *rec)
		}
		out[eventID] = recs
	}
	return out, nil
}
