package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"
	"time"

	"github.com/kozaktomas/cin-capture/internal/record"
	"github.com/kozaktomas/cin-capture/internal/search"
)

func decodeView(t *testing.T, recorder *httptest.ResponseRecorder) search.View {
	t.Helper()
	var view search.View
	if err := json.Unmarshal(recorder.Body.Bytes(), &view); err != nil {
		t.Fatalf("failed to unmarshal response: %v (%s)", err, recorder.Body.String())
	}
	return view
}

func viewIDs(view search.View) []int64 {
	ids := make([]int64, len(view.Documents))
	for i, d := range view.Documents {
		ids[i] = d.ID
	}
	return ids
}

func loadedWorkspace(t *testing.T, store *fakeStore, faces *fakeFaces) (*Workspace, *DocumentsHandler) {
	t.Helper()
	ws := newTestWorkspace(t, &fakeRecognizer{}, &fakeSaver{}, store, faces)
	handler := NewDocumentsHandler(fakePortraitLinker{}, nil, nil)

	recorder := httptest.NewRecorder()
	handler.List(recorder, requestWithWorkspace(httptest.NewRequest(http.MethodGet, "/api/v1/documents", nil), ws))
	if recorder.Code != http.StatusOK {
		t.Fatalf("list: expected status 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	return ws, handler
}

func TestDocumentsHandler_List(t *testing.T) {
	ws, handler := loadedWorkspace(t, &fakeStore{docs: testDocuments()}, &fakeFaces{})

	recorder := httptest.NewRecorder()
	handler.View(recorder, requestWithWorkspace(httptest.NewRequest(http.MethodGet, "/api/v1/documents/view", nil), ws))

	view := decodeView(t, recorder)
	if view.Mode != search.ModeAll || view.Total != 5 || len(view.Documents) != 5 {
		t.Errorf("unexpected view: mode=%s total=%d docs=%d", view.Mode, view.Total, len(view.Documents))
	}
}

func TestDocumentsHandler_Filter(t *testing.T) {
	ws, handler := loadedWorkspace(t, &fakeStore{docs: testDocuments()}, &fakeFaces{})

	tests := []struct {
		query string
		want  []int64
		mode  search.Mode
	}{
		{"ras", []int64{3}, search.ModeText},
		{"DUP", []int64{1}, search.ModeText},
		{"ab1234", []int64{1}, search.ModeText},
		{"hery", []int64{2}, search.ModeText},
		{"   ", []int64{1, 2, 3, 4, 5}, search.ModeAll},
		{"zzz", []int64{}, search.ModeText},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/documents/filter", nil)
			q := req.URL.Query()
			q.Set("q", tt.query)
			req.URL.RawQuery = q.Encode()

			recorder := httptest.NewRecorder()
			handler.Filter(recorder, requestWithWorkspace(req, ws))

			view := decodeView(t, recorder)
			if !slices.Equal(viewIDs(view), tt.want) {
				t.Errorf("filter %q = %v, want %v", tt.query, viewIDs(view), tt.want)
			}
			if view.Mode != tt.mode {
				t.Errorf("mode = %s, want %s", view.Mode, tt.mode)
			}
		})
	}
}

func TestDocumentsHandler_SearchRemote(t *testing.T) {
	store := &fakeStore{docs: testDocuments()}
	ws, handler := loadedWorkspace(t, store, &fakeFaces{})

	search := func(term string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/documents/search?term="+term, nil)
		recorder := httptest.NewRecorder()
		handler.Search(recorder, requestWithWorkspace(req, ws))
		return recorder
	}

	if view := decodeView(t, search("rakoto")); !slices.Equal(viewIDs(view), []int64{2}) {
		t.Errorf("expected document 2, got %v", viewIDs(view))
	}

	recorder := search("personne")
	if recorder.Code != http.StatusOK {
		t.Fatalf("not found must not be an error, got %d", recorder.Code)
	}
	if view := decodeView(t, recorder); len(view.Documents) != 0 {
		t.Errorf("expected empty result, got %v", viewIDs(view))
	}

	store.searchErr = errUnreachable
	recorder = search("dupont")
	if recorder.Code != http.StatusBadGateway {
		t.Errorf("expected status 502, got %d", recorder.Code)
	}
}

func TestDocumentsHandler_PhotoSearchAndReset(t *testing.T) {
	faces := &fakeFaces{matches: []record.SimilarityMatch{
		{DocumentID: 4, Similarity: 91.2},
		{DocumentID: 2, Similarity: 70.5},
	}}
	ws, handler := loadedWorkspace(t, &fakeStore{docs: testDocuments()}, faces)

	req := multipartRequest(t, http.MethodPost, "/api/v1/documents/photo-search", "face.png", "image/png", pngBytes(t))
	recorder := httptest.NewRecorder()
	handler.PhotoSearch(recorder, requestWithWorkspace(req, ws))
	if recorder.Code != http.StatusOK {
		t.Fatalf("photo search: expected status 200, got %d: %s", recorder.Code, recorder.Body.String())
	}

	var resp PhotoSearchResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if resp.Matched != 2 || resp.Mode != search.ModePhoto {
		t.Errorf("unexpected photo search response: matched=%d mode=%s", resp.Matched, resp.Mode)
	}
	if !slices.Equal(viewIDs(resp.View), []int64{4, 2}) {
		t.Errorf("expected matches in rank order, got %v", viewIDs(resp.View))
	}
	for _, d := range resp.Documents {
		if !d.Matched || d.Similarity == 0 {
			t.Errorf("document %d should carry its score", d.ID)
		}
	}

	recorder = httptest.NewRecorder()
	handler.ResetPhotoSearch(recorder, requestWithWorkspace(httptest.NewRequest(http.MethodPost, "/api/v1/documents/photo-search/reset", nil), ws))
	view := decodeView(t, recorder)
	if len(view.Documents) != 5 || view.Mode != search.ModeAll {
		t.Errorf("expected all 5 documents after reset, got %d (%s)", len(view.Documents), view.Mode)
	}
}

func TestDocumentsHandler_PhotoSearchRejectsType(t *testing.T) {
	ws, handler := loadedWorkspace(t, &fakeStore{docs: testDocuments()}, &fakeFaces{})

	req := multipartRequest(t, http.MethodPost, "/api/v1/documents/photo-search", "face.gif", "image/gif", []byte("GIF89a"))
	recorder := httptest.NewRecorder()
	handler.PhotoSearch(recorder, requestWithWorkspace(req, ws))

	if recorder.Code != http.StatusUnsupportedMediaType {
		t.Errorf("expected status 415, got %d", recorder.Code)
	}
}

func TestDocumentsHandler_Get(t *testing.T) {
	ws, handler := loadedWorkspace(t, &fakeStore{docs: testDocuments()}, &fakeFaces{})
	handler.now = func() time.Time { return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC) }

	tests := []struct {
		name       string
		id         string
		wantStatus int
		wantState  record.ExpiryStatus
		wantURL    string
	}{
		{"with portrait", "1", http.StatusOK, record.StatusUnknown, "http://cin.test/photos/1.jpg"},
		{"expired", "3", http.StatusOK, record.StatusExpired, ""},
		{"missing", "99", http.StatusNotFound, "", ""},
		{"invalid", "abc", http.StatusBadRequest, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/documents/"+tt.id, nil)
			req = requestWithChiParams(req, map[string]string{"id": tt.id})
			recorder := httptest.NewRecorder()
			handler.Get(recorder, requestWithWorkspace(req, ws))

			if recorder.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d: %s", tt.wantStatus, recorder.Code, recorder.Body.String())
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			var detail DocumentDetail
			if err := json.Unmarshal(recorder.Body.Bytes(), &detail); err != nil {
				t.Fatalf("failed to unmarshal response: %v", err)
			}
			if detail.Status != tt.wantState {
				t.Errorf("status = %q, want %q", detail.Status, tt.wantState)
			}
			if detail.PortraitURL != tt.wantURL {
				t.Errorf("portrait url = %q, want %q", detail.PortraitURL, tt.wantURL)
			}
		})
	}
}

func TestDocumentsHandler_Delete(t *testing.T) {
	store := &fakeStore{docs: testDocuments()}
	ws := newTestWorkspace(t, &fakeRecognizer{}, &fakeSaver{}, store, &fakeFaces{})
	var forgotten []int64
	handler := NewDocumentsHandler(nil, func(id int64) error {
		forgotten = append(forgotten, id)
		return nil
	}, nil)
	handler.List(httptest.NewRecorder(), requestWithWorkspace(httptest.NewRequest(http.MethodGet, "/api/v1/documents", nil), ws))

	req := requestWithChiParams(httptest.NewRequest(http.MethodDelete, "/api/v1/documents/2", nil), map[string]string{"id": "2"})
	recorder := httptest.NewRecorder()
	handler.Delete(recorder, requestWithWorkspace(req, ws))

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	if !slices.Equal(forgotten, []int64{2}) {
		t.Errorf("expected delete hook for 2, got %v", forgotten)
	}
	if slices.Contains(viewIDs(ws.Listing.View()), 2) {
		t.Error("deleted document still listed")
	}

	store.deleteErr = errUnreachable
	req = requestWithChiParams(httptest.NewRequest(http.MethodDelete, "/api/v1/documents/3", nil), map[string]string{"id": "3"})
	recorder = httptest.NewRecorder()
	handler.Delete(recorder, requestWithWorkspace(req, ws))

	if recorder.Code != http.StatusBadGateway {
		t.Errorf("expected status 502, got %d", recorder.Code)
	}
	if !slices.Contains(viewIDs(ws.Listing.View()), 3) {
		t.Error("failed delete must keep the document listed")
	}
	if len(forgotten) != 1 {
		t.Errorf("delete hook must not run on failure, got %v", forgotten)
	}
}
