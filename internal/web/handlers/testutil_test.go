package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/cin-capture/internal/capture"
	"github.com/kozaktomas/cin-capture/internal/record"
	"github.com/kozaktomas/cin-capture/internal/search"
	"github.com/kozaktomas/cin-capture/internal/upload"
	"github.com/kozaktomas/cin-capture/internal/web/middleware"
)

type fakeRecognizer struct {
	mu      sync.Mutex
	results []record.RawFieldSet
	err     error
	calls   int
}

func (f *fakeRecognizer) Recognize(_ context.Context, _ *upload.CapturedImage) (*record.Recognition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if len(f.results) == 0 {
		return &record.Recognition{Fields: record.RawFieldSet{}}, nil
	}
	fields := f.results[0]
	f.results = f.results[1:]
	return &record.Recognition{Fields: fields}, nil
}

type noPortraits struct{}

func (noPortraits) ExtractPortrait(context.Context, *upload.CapturedImage) (*record.Portrait, error) {
	return nil, nil
}

type fakeSaver struct {
	mu       sync.Mutex
	payloads []record.SavePayload
}

func (f *fakeSaver) Save(_ context.Context, payload record.SavePayload, _ *upload.CapturedImage) (*record.SaveResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, payload)
	return &record.SaveResult{DatabaseID: 42, Message: "Document enregistré"}, nil
}

type detailError struct {
	status int
	detail string
}

func (e *detailError) Error() string  { return fmt.Sprintf("request failed with status %d: %s", e.status, e.detail) }
func (e *detailError) Detail() string { return e.detail }
func (e *detailError) Is(target error) bool {
	return e.status == http.StatusNotFound && target == record.ErrNotFound
}

type fakeStore struct {
	mu        sync.Mutex
	docs      []record.DocumentRecord
	searchErr error
	deleteErr error
	deleted   []int64
}

func (f *fakeStore) List(_ context.Context, skip, limit int) ([]record.DocumentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if skip >= len(f.docs) {
		return []record.DocumentRecord{}, nil
	}
	end := min(skip+limit, len(f.docs))
	return append([]record.DocumentRecord(nil), f.docs[skip:end]...), nil
}

func (f *fakeStore) Get(_ context.Context, id int64) (*record.DocumentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.docs {
		if d.ID == id {
			return &d, nil
		}
	}
	return nil, &detailError{status: http.StatusNotFound, detail: "Document non trouvé"}
}

func (f *fakeStore) SearchByTerm(_ context.Context, term string) ([]record.DocumentRecord, error) {
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []record.DocumentRecord
	for _, d := range f.docs {
		if strings.Contains(strings.ToLower(d.Nom), strings.ToLower(term)) {
			out = append(out, d)
		}
	}
	if len(out) == 0 {
		return nil, &detailError{status: http.StatusNotFound, detail: "Aucun document trouvé"}
	}
	return out, nil
}

func (f *fakeStore) Delete(_ context.Context, id int64) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	for i, d := range f.docs {
		if d.ID == id {
			f.docs = append(f.docs[:i], f.docs[i+1:]...)
			return nil
		}
	}
	return &detailError{status: http.StatusNotFound, detail: "Document non trouvé"}
}

type fakeFaces struct {
	matches []record.SimilarityMatch
	err     error
}

func (f *fakeFaces) FaceSearch(context.Context, *upload.CapturedImage, float64, int) ([]record.SimilarityMatch, error) {
	return f.matches, f.err
}

type fakePortraitLinker struct{}

func (fakePortraitLinker) PortraitURL(path string) string {
	return "http://cin.test/" + path
}

var errUnreachable = errors.New("dial tcp: connection refused")

// testDocuments returns five stored documents.
func testDocuments() []record.DocumentRecord {
	return []record.DocumentRecord{
		{ID: 1, NumeroCIN: "AB123456", Nom: "Dupont", Prenoms: "Jean", HasFacePhoto: true, PhotoVisagePath: "photos/1.jpg"},
		{ID: 2, NumeroCIN: "CD654321", Nom: "Rakoto", Prenoms: "Hery"},
		{ID: 3, NumeroCIN: "EF111111", Nom: "Rasoa", Prenoms: "Fara", DateExpiration: "01/01/2020"},
		{ID: 4, NumeroCIN: "GH222222", Nom: "Martin", Prenoms: "Luc"},
		{ID: 5, NumeroCIN: "IJ333333", Nom: "Andria", Prenoms: "Naina"},
	}
}

// newTestWorkspace builds a workspace over fakes. The reset delay is long enough for
// tests to observe the saved state.
func newTestWorkspace(t *testing.T, rec *fakeRecognizer, saver *fakeSaver, store *fakeStore, faces *fakeFaces) *Workspace {
	t.Helper()
	ctrl := capture.NewController(rec, noPortraits{}, saver, capture.Options{ResetDelay: time.Hour})
	t.Cleanup(ctrl.Reset)

	correlator := search.NewCorrelator(faces, search.DefaultOptions())
	return &Workspace{
		Capture: ctrl,
		Listing: search.NewListing(store, correlator, search.ListingOptions{}),
	}
}

// requestWithWorkspace attaches ws to the request as the session workspace.
func requestWithWorkspace(r *http.Request, ws *Workspace) *http.Request {
	return r.WithContext(middleware.SetSessionValue(r.Context(), ws))
}

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// multipartRequest builds a request whose "file" part carries data with contentType.
func multipartRequest(t *testing.T, method, path, filename, contentType string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	h.Set("Content-Type", contentType)
	part, err := writer.CreatePart(h)
	if err != nil {
		t.Fatalf("failed to create part: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("failed to write part: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}

	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

// pngBytes encodes a small solid image.
func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 5))
	for x := range 8 {
		for y := range 5 {
			img.Set(x, y, color.RGBA{R: 200, G: 120, B: 40, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	return buf.Bytes()
}
