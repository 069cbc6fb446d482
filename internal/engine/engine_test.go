package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"reflect"
	"sync"
	"testing"

	"github.com/photoevent/facematch/internal/config"
	"github.com/photoevent/facematch/internal/imaging"
	"github.com/photoevent/facematch/internal/index"
)

// Synthetic subjects: faces are skin-toned regions whose internal banding
// pattern identifies the person. Band orientation differs per subject, so
// descriptors of different subjects diverge while two photos of the same
// subject land close together.
const (
	subjectA = iota // vertical bands
	subjectB        // horizontal bands
)

var (
	skinLight  = color.RGBA{220, 160, 120, 255}
	skinDark   = color.RGBA{180, 120, 90, 255}
	backdropBl = color.RGBA{30, 60, 200, 255}
)

type faceSpec struct {
	region  image.Rectangle
	subject int
}

// fixturePhoto renders a photo with the given faces on a blue backdrop and
// returns it PNG-encoded (lossless, so descriptor tests stay deterministic).
func fixturePhoto(t *testing.T, width, height int, faces ...faceSpec) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := range width {
		for y := range height {
			img.Set(x, y, backdropBl)
		}
	}
	for _, f := range faces {
		for x := f.region.Min.X; x < f.region.Max.X; x++ {
			for y := f.region.Min.Y; y < f.region.Max.Y; y++ {
				c := skinLight
				switch f.subject {
				case subjectA:
					if ((x-f.region.Min.X)/4)%2 == 1 {
						c = skinDark
					}
				case subjectB:
					if ((y-f.region.Min.Y)/4)%2 == 1 {
						c = skinDark
					}
				}
				img.Set(x, y, c)
			}
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode fixture photo: %v", err)
	}
	return buf.Bytes()
}

func testEngine(store DescriptorStore) *Engine {
	cfg := &config.Config{
		Matching: config.MatchingConfig{Threshold: 60},
		Ingest:   config.IngestConfig{Workers: 4},
		Locator:  config.LocatorConfig{MaxDim: 320, MinFaceFraction: 0.08},
		Index:    config.IndexConfig{HNSWCutover: 2048},
	}
	return New(cfg, store)
}

func selfieOf(t *testing.T, subject int) []byte {
	t.Helper()
	return fixturePhoto(t, 160, 200, faceSpec{region: image.Rect(40, 40, 120, 160), subject: subject})
}

func TestIngestBatch_PerPhotoOutcomes(t *testing.T) {
	e := testEngine(nil)
	ctx := context.Background()

	uploads := []Upload{
		{PhotoID: "p1", SourceRef: "ref/p1", Data: fixturePhoto(t, 200, 160, faceSpec{image.Rect(60, 30, 130, 130), subjectA})},
		{PhotoID: "p2", SourceRef: "ref/p2", Data: fixturePhoto(t, 200, 160)}, // no faces
		{PhotoID: "p3", SourceRef: "ref/p3", Data: []byte("corrupt image bytes")},
		{PhotoID: "p4", SourceRef: "ref/p4", Data: fixturePhoto(t, 200, 160, faceSpec{image.Rect(50, 20, 120, 120), subjectB})},
		{PhotoID: "p5", SourceRef: "ref/p5", Data: fixturePhoto(t, 200, 160, faceSpec{image.Rect(40, 40, 110, 140), subjectA})},
	}

	outcomes := e.IngestBatch(ctx, "event-1", uploads)

	if len(outcomes) != 5 {
		t.Fatalf("got %d outcomes, want 5", len(outcomes))
	}
	wantStates := []State{StateIndexed, StateSkipped, StateFailed, StateIndexed, StateIndexed}
	for i, want := range wantStates {
		if outcomes[i].State != want {
			t.Errorf("photo %s state = %s, want %s (err: %v)", outcomes[i].PhotoID, outcomes[i].State, want, outcomes[i].Err)
		}
	}
	if !errors.Is(outcomes[2].Err, imaging.ErrDecode) {
		t.Errorf("corrupt photo error = %v, want ErrDecode", outcomes[2].Err)
	}

	// Failed photo excluded, skipped photo retained.
	ix, _ := e.Registry().Get("event-1")
	if ix.Len() != 4 {
		t.Errorf("index size = %d, want 4 (failed photo excluded)", ix.Len())
	}
	if !ix.Has("p2") {
		t.Error("skipped photo p2 missing from index")
	}
	if ix.Has("p3") {
		t.Error("failed photo p3 present in index")
	}
}

func TestIngestBatch_Idempotent(t *testing.T) {
	e := testEngine(nil)
	ctx := context.Background()

	upload := Upload{PhotoID: "p1", SourceRef: "ref/p1", Data: fixturePhoto(t, 200, 160, faceSpec{image.Rect(60, 30, 130, 130), subjectA})}

	e.IngestBatch(ctx, "event-1", []Upload{upload})
	ix, _ := e.Registry().Get("event-1")
	size := ix.Len()
	count := ix.DescriptorCount()

	e.IngestBatch(ctx, "event-1", []Upload{upload})

	if ix.Len() != size {
		t.Errorf("index size changed on re-ingest: %d -> %d", size, ix.Len())
	}
	if ix.DescriptorCount() != count {
		t.Errorf("descriptor count changed on re-ingest: %d -> %d", count, ix.DescriptorCount())
	}
}

func TestFindMatches_ScenarioSubjectA(t *testing.T) {
	e := testEngine(nil)
	ctx := context.Background()

	uploads := []Upload{
		{PhotoID: "a-alone", SourceRef: "ref/1", Data: fixturePhoto(t, 200, 180, faceSpec{image.Rect(60, 30, 130, 140), subjectA})},
		{PhotoID: "a-group", SourceRef: "ref/2", Data: fixturePhoto(t, 320, 180,
			faceSpec{image.Rect(30, 30, 100, 140), subjectA},
			faceSpec{image.Rect(190, 30, 260, 140), subjectB},
		)},
		{PhotoID: "faceless", SourceRef: "ref/3", Data: fixturePhoto(t, 200, 180)},
	}
	outcomes := e.IngestBatch(ctx, "event-1", uploads)
	for _, o := range outcomes {
		if o.State == StateFailed {
			t.Fatalf("ingest of %s failed: %v", o.PhotoID, o.Err)
		}
	}

	results, err := e.FindMatches(ctx, "event-1", selfieOf(t, subjectA))
	if err != nil {
		t.Fatalf("FindMatches() error: %v", err)
	}

	got := make(map[string]bool)
	for _, r := range results {
		got[r.PhotoID] = true
	}
	if got["faceless"] {
		t.Error("faceless photo returned as a match")
	}
	if !got["a-alone"] || !got["a-group"] {
		t.Errorf("matches = %v, want both photos containing subject A", results)
	}
	for i := 1; i < len(results); i++ {
		if results[i-1].Score < results[i].Score {
			t.Error("results not sorted by descending score")
		}
	}
}

func TestFindMatches_NoFaceDetected(t *testing.T) {
	e := testEngine(nil)
	ctx := context.Background()

	e.IngestBatch(ctx, "event-1", []Upload{
		{PhotoID: "p1", SourceRef: "ref/1", Data: fixturePhoto(t, 200, 160, faceSpec{image.Rect(60, 30, 130, 130), subjectA})},
	})

	_, err := e.FindMatches(ctx, "event-1", fixturePhoto(t, 160, 200))
	if !errors.Is(err, ErrNoFaceDetected) {
		t.Errorf("expected ErrNoFaceDetected, got %v", err)
	}
}

func TestFindMatches_UnknownEvent(t *testing.T) {
	e := testEngine(nil)

	_, err := e.FindMatches(context.Background(), "never-created", selfieOf(t, subjectA))
	if !errors.Is(err, ErrUnknownEvent) {
		t.Errorf("expected ErrUnknownEvent, got %v", err)
	}
}

func TestFindMatches_DecodeError(t *testing.T) {
	e := testEngine(nil)
	ctx := context.Background()
	e.IngestBatch(ctx, "event-1", []Upload{
		{PhotoID: "p1", SourceRef: "ref/1", Data: fixturePhoto(t, 200, 160, faceSpec{image.Rect(60, 30, 130, 130), subjectA})},
	})

	_, err := e.FindMatches(ctx, "event-1", []byte("not an image"))
	if !errors.Is(err, imaging.ErrDecode) {
		t.Errorf("expected ErrDecode, got %v", err)
	}
}

func TestConcurrentIngestAndQueries(t *testing.T) {
	e := testEngine(nil)
	ctx := context.Background()

	// Seed the event so queries never race its creation.
	seed := Upload{PhotoID: "seed", SourceRef: "ref/seed", Data: fixturePhoto(t, 200, 180, faceSpec{image.Rect(60, 30, 130, 140), subjectA})}
	e.IngestBatch(ctx, "event-1", []Upload{seed})

	valid := make(map[string]bool)
	valid["seed"] = true
	var uploads []Upload
	photoData := fixturePhoto(t, 200, 180, faceSpec{image.Rect(60, 30, 130, 140), subjectA})
	for i := range 100 {
		id := fmt.Sprintf("photo-%03d", i)
		valid[id] = true
		uploads = append(uploads, Upload{PhotoID: id, SourceRef: "ref/" + id, Data: photoData})
	}
	selfie := selfieOf(t, subjectA)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		e.IngestBatch(ctx, "event-1", uploads)
	}()

	var mu sync.Mutex
	var unexpected []string
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results, err := e.FindMatches(ctx, "event-1", selfie)
			if err != nil {
				t.Errorf("FindMatches() during ingest: %v", err)
				return
			}
			for _, r := range results {
				if !valid[r.PhotoID] {
					mu.Lock()
					unexpected = append(unexpected, r.PhotoID)
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	if len(unexpected) > 0 {
		t.Errorf("queries returned unknown photo IDs: %v", unexpected)
	}
}

func TestRemovePhotoAndDropEvent(t *testing.T) {
	e := testEngine(nil)
	ctx := context.Background()

	e.IngestBatch(ctx, "event-1", []Upload{
		{PhotoID: "p1", SourceRef: "ref/1", Data: fixturePhoto(t, 200, 180, faceSpec{image.Rect(60, 30, 130, 140), subjectA})},
		{PhotoID: "p2", SourceRef: "ref/2", Data: fixturePhoto(t, 200, 180, faceSpec{image.Rect(60, 30, 130, 140), subjectA})},
	})

	removed, err := e.RemovePhoto(ctx, "event-1", "p1")
	if err != nil || !removed {
		t.Fatalf("RemovePhoto() = %v, %v, want true, nil", removed, err)
	}

	results, err := e.FindMatches(ctx, "event-1", selfieOf(t, subjectA))
	if err != nil {
		t.Fatalf("FindMatches() error: %v", err)
	}
	for _, r := range results {
		if r.PhotoID == "p1" {
			t.Error("removed photo still returned by FindMatches")
		}
	}

	dropped, err := e.DropEvent(ctx, "event-1")
	if err != nil || !dropped {
		t.Fatalf("DropEvent() = %v, %v, want true, nil", dropped, err)
	}
	if _, err := e.FindMatches(ctx, "event-1", selfieOf(t, subjectA)); !errors.Is(err, ErrUnknownEvent) {
		t.Errorf("expected ErrUnknownEvent after drop, got %v", err)
	}
}

func TestFindMatches_AcceleratedEqualsLinearScan(t *testing.T) {
	ctx := context.Background()

	// Same photos, two engines: one below the HNSW cutover (plain linear
	// scan), one far above it (graph-assisted candidates).
	linear := testEngine(nil)
	accelerated := New(&config.Config{
		Matching: config.MatchingConfig{Threshold: 60},
		Ingest:   config.IngestConfig{Workers: 4},
		Locator:  config.LocatorConfig{MaxDim: 320, MinFaceFraction: 0.08},
		Index:    config.IndexConfig{HNSWCutover: 2},
	}, nil)

	uploads := []Upload{
		{PhotoID: "a1", SourceRef: "ref/a1", Data: fixturePhoto(t, 200, 180, faceSpec{image.Rect(60, 30, 130, 140), subjectA})},
		{PhotoID: "a2", SourceRef: "ref/a2", Data: fixturePhoto(t, 220, 200, faceSpec{image.Rect(70, 40, 150, 160), subjectA})},
		{PhotoID: "a3", SourceRef: "ref/a3", Data: fixturePhoto(t, 200, 180, faceSpec{image.Rect(40, 30, 110, 140), subjectA})},
		{PhotoID: "b1", SourceRef: "ref/b1", Data: fixturePhoto(t, 200, 180, faceSpec{image.Rect(60, 30, 130, 140), subjectB})},
		{PhotoID: "b2", SourceRef: "ref/b2", Data: fixturePhoto(t, 220, 200, faceSpec{image.Rect(70, 40, 150, 160), subjectB})},
		{PhotoID: "none", SourceRef: "ref/none", Data: fixturePhoto(t, 200, 180)},
	}
	linear.IngestBatch(ctx, "event-1", uploads)
	accelerated.IngestBatch(ctx, "event-1", uploads)

	ix, _ := accelerated.Registry().Get("event-1")
	if !ix.Accelerated() {
		t.Fatal("accelerated engine's index did not pass the HNSW cutover")
	}

	for _, subject := range []int{subjectA, subjectB} {
		selfie := selfieOf(t, subject)

		want, err := linear.FindMatches(ctx, "event-1", selfie)
		if err != nil {
			t.Fatalf("linear FindMatches() error: %v", err)
		}
		got, err := accelerated.FindMatches(ctx, "event-1", selfie)
		if err != nil {
			t.Fatalf("accelerated FindMatches() error: %v", err)
		}

		if !reflect.DeepEqual(got, want) {
			t.Errorf("subject %d: accelerated results %+v differ from linear results %+v", subject, got, want)
		}
	}
}

// fakeStore records engine persistence calls for verification.
type fakeStore struct {
	mu      sync.Mutex
	saved   map[string][]index.PhotoRecord
	deleted []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{saved: make(map[string][]index.PhotoRecord)}
}

func (s *fakeStore) SavePhoto(_ context.Context, eventID string, rec index.PhotoRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved[eventID] = append(s.saved[eventID], rec)
	return nil
}

func (s *fakeStore) DeletePhoto(_ context.Context, eventID, photoID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, eventID+"/"+photoID)
	return nil
}

func (s *fakeStore) DeleteEvent(_ context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, eventID)
	return nil
}

func (s *fakeStore) LoadAll(_ context.Context) (map[string][]index.PhotoRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]index.PhotoRecord, len(s.saved))
	for k, v := range s.saved {
		out[k] = append([]index.PhotoRecord(nil), v...)
	}
	return out, nil
}

func TestEngine_WriteThroughAndRestore(t *testing.T) {
	store := newFakeStore()
	e := testEngine(store)
	ctx := context.Background()

	outcomes := e.IngestBatch(ctx, "event-1", []Upload{
		{PhotoID: "p1", SourceRef: "ref/1", Data: fixturePhoto(t, 200, 180, faceSpec{image.Rect(60, 30, 130, 140), subjectA})},
		{PhotoID: "p2", SourceRef: "ref/2", Data: fixturePhoto(t, 200, 180)}, // skipped, still persisted
		{PhotoID: "p3", SourceRef: "ref/3", Data: []byte("corrupt")},         // failed, not persisted
	})
	if outcomes[2].State != StateFailed {
		t.Fatalf("expected p3 to fail, got %s", outcomes[2].State)
	}
	if len(store.saved["event-1"]) != 2 {
		t.Errorf("store holds %d records, want 2 (indexed + skipped)", len(store.saved["event-1"]))
	}

	// A fresh engine restored from the store answers the same queries.
	restored := testEngine(nil)
	if err := restored.Restore(ctx, store); err != nil {
		t.Fatalf("Restore() error: %v", err)
	}
	results, err := restored.FindMatches(ctx, "event-1", selfieOf(t, subjectA))
	if err != nil {
		t.Fatalf("FindMatches() after restore: %v", err)
	}
	found := false
	for _, r := range results {
		if r.PhotoID == "p1" {
			found = true
		}
	}
	if !found {
		t.Error("restored engine did not match the persisted photo")
	}
}
