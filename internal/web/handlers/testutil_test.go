package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/photoevent/facematch/internal/config"
	"github.com/photoevent/facematch/internal/engine"
)

// testEngine creates an engine with test tuning and no persistence.
func testEngine() *engine.Engine {
	cfg := &config.Config{
		Matching: config.MatchingConfig{Threshold: 60},
		Ingest:   config.IngestConfig{Workers: 4},
		Locator:  config.LocatorConfig{MaxDim: 320, MinFaceFraction: 0.08},
		Index:    config.IndexConfig{HNSWCutover: 2048},
	}
	return engine.New(cfg, nil)
}

// facePhoto renders a PNG with a single skin-toned face region on a blue
// backdrop, large enough for the locator to accept it.
func facePhoto(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 200, 160))
	backdrop := color.RGBA{30, 60, 200, 255}
	skinLight := color.RGBA{220, 160, 120, 255}
	skinDark := color.RGBA{180, 120, 90, 255}
	for x := range 200 {
		for y := range 160 {
			img.Set(x, y, backdrop)
		}
	}
	for x := 60; x < 130; x++ {
		for y := 30; y < 130; y++ {
			c := skinLight
			if ((x-60)/4)%2 == 1 {
				c = skinDark
			}
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode fixture photo: %v", err)
	}
	return buf.Bytes()
}

// facelessPhoto renders a PNG with no skin-toned region.
func facelessPhoto(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 200, 160))
	backdrop := color.RGBA{30, 60, 200, 255}
	for x := range 200 {
		for y := range 160 {
			img.Set(x, y, backdrop)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode fixture photo: %v", err)
	}
	return buf.Bytes()
}

// multipartBody builds a multipart form with the given files under one field.
func multipartBody(t *testing.T, field string, files map[string][]byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for name, data := range files {
		part, err := writer.CreateFormFile(field, name)
		if err != nil {
			t.Fatalf("failed to create form file: %v", err)
		}
		if _, err := part.Write(data); err != nil {
			t.Fatalf("failed to write form file: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close multipart writer: %v", err)
	}
	return body, writer.FormDataContentType()
}

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// parseJSONResponse parses a JSON response body into the target type
func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nBody: %s", err, recorder.Body.String())
	}
}

// assertStatusCode checks if the response has the expected status code
func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Errorf("expected status %d, got %d\nBody: %s", expected, recorder.Code, recorder.Body.String())
	}
}

// assertJSONError checks if the response is a JSON error with the expected message
func assertJSONError(t *testing.T, recorder *httptest.ResponseRecorder, expectedMessage string) {
	t.Helper()
	var result map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse error response: %v\nBody: %s", err, recorder.Body.String())
	}
	if result["error"] != expectedMessage {
		t.Errorf("expected error '%s', got '%s'", expectedMessage, result["error"])
	}
}

// ingestFixture ingests one face photo into the engine's event and returns
// its assigned photo ID.
func ingestFixture(t *testing.T, e *engine.Engine, eventID string) string {
	t.Helper()
	outcomes := e.IngestBatch(context.Background(), eventID, []engine.Upload{
		{PhotoID: "fixture-1", SourceRef: "fixture.png", Data: facePhoto(t)},
	})
	if len(outcomes) != 1 || outcomes[0].State != engine.StateIndexed {
		t.Fatalf("fixture ingest failed: %+v", outcomes)
	}
	return outcomes[0].PhotoID
}
