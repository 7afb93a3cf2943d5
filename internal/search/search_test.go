package search

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/kozaktomas/cin-capture/internal/record"
	"github.com/kozaktomas/cin-capture/internal/upload"
)

type fakeSearcher struct {
	matches   []record.SimilarityMatch
	err       error
	threshold float64
	topK      int
	calls     int
}

func (f *fakeSearcher) FaceSearch(_ context.Context, _ *upload.CapturedImage, threshold float64, topK int) ([]record.SimilarityMatch, error) {
	f.calls++
	f.threshold = threshold
	f.topK = topK
	return f.matches, f.err
}

type fakeStore struct {
	docs       []record.DocumentRecord
	listCalls  int
	searchDocs []record.DocumentRecord
	searchErr  error
	deleteErr  error
	deleted    []int64

	// listing blocks List until release is closed.
	listing chan struct{}
	release chan struct{}
}

func (f *fakeStore) List(_ context.Context, skip, limit int) ([]record.DocumentRecord, error) {
	f.listCalls++
	if f.release != nil {
		close(f.listing)
		<-f.release
	}
	return append([]record.DocumentRecord(nil), f.docs...), nil
}

func (f *fakeStore) Get(_ context.Context, id int64) (*record.DocumentRecord, error) {
	for _, d := range f.docs {
		if d.ID == id {
			return &d, nil
		}
	}
	return nil, fmt.Errorf("document %d: %w", id, record.ErrNotFound)
}

func (f *fakeStore) SearchByTerm(_ context.Context, _ string) ([]record.DocumentRecord, error) {
	return f.searchDocs, f.searchErr
}

func (f *fakeStore) Delete(_ context.Context, id int64) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func sampleDocs() []record.DocumentRecord {
	return []record.DocumentRecord{
		{ID: 1, Nom: "Dupont", Prenoms: "Jean", NumeroCIN: "AB123456"},
		{ID: 2, Nom: "Rakoto", Prenoms: "Hery", NumeroCIN: "101201301401"},
		{ID: 3, Nom: "Martin", Prenoms: "Élodie", NumeroCIN: "CD987654"},
		{ID: 4, Nom: "RASOA", Prenoms: "Fara", NumeroCIN: "201202203204"},
		{ID: 5, Nom: "Durand", Prenoms: "Paul", NumeroCIN: "EF555000"},
	}
}

func photoUpload() upload.Upload {
	data := []byte("\x89PNG\r\n\x1a\n face")
	return upload.Upload{Name: "face.png", ContentType: "image/png", Size: int64(len(data)), Reader: bytes.NewReader(data)}
}

func ids(docs []Annotated) []int64 {
	out := make([]int64, len(docs))
	for i, d := range docs {
		out[i] = d.ID
	}
	return out
}

func TestCorrelate(t *testing.T) {
	docs := sampleDocs()

	t.Run("keeps match order", func(t *testing.T) {
		res := Correlate(docs, []record.SimilarityMatch{
			{DocumentID: 4, Similarity: 91.2},
			{DocumentID: 2, Similarity: 70.5},
		})

		if got := ids(res.Matches); fmt.Sprint(got) != "[4 2]" {
			t.Errorf("expected [4 2], got %v", got)
		}
		if res.Matches[0].Similarity != 91.2 {
			t.Errorf("expected similarity 91.2, got %f", res.Matches[0].Similarity)
		}
		if len(res.All) != 5 {
			t.Fatalf("expected every document annotated, got %d", len(res.All))
		}
		if !res.All[1].Matched || res.All[0].Matched {
			t.Errorf("unexpected annotation flags: %+v", res.All)
		}
	})

	t.Run("drops unknown ids", func(t *testing.T) {
		res := Correlate(docs, []record.SimilarityMatch{
			{DocumentID: 99, Similarity: 99},
			{DocumentID: 3, Similarity: 80},
		})
		if got := ids(res.Matches); fmt.Sprint(got) != "[3]" {
			t.Errorf("expected [3], got %v", got)
		}
	})

	t.Run("first duplicate wins", func(t *testing.T) {
		res := Correlate(docs, []record.SimilarityMatch{
			{DocumentID: 1, Similarity: 88},
			{DocumentID: 1, Similarity: 67},
		})
		if len(res.Matches) != 1 || res.Matches[0].Similarity != 88 {
			t.Errorf("expected single match at 88, got %+v", res.Matches)
		}
	})

	t.Run("empty matches", func(t *testing.T) {
		res := Correlate(docs, nil)
		if len(res.Matches) != 0 {
			t.Errorf("expected no matches, got %v", ids(res.Matches))
		}
	})
}

func TestCorrelator_SendsOptions(t *testing.T) {
	searcher := &fakeSearcher{}
	c := NewCorrelator(searcher, Options{})

	if _, err := c.Search(context.Background(), sampleDocs(), &upload.CapturedImage{}); err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if searcher.threshold != 0.65 || searcher.topK != 10 {
		t.Errorf("expected defaults 0.65/10, got %v/%d", searcher.threshold, searcher.topK)
	}
}

func TestCorrelator_Error(t *testing.T) {
	c := NewCorrelator(&fakeSearcher{err: errors.New("boom")}, DefaultOptions())

	_, err := c.Search(context.Background(), sampleDocs(), &upload.CapturedImage{})
	if got := record.UserMessage(err); got != "Photo search failed" {
		t.Errorf("expected fallback message, got %q", got)
	}
}

func TestFilterLocal(t *testing.T) {
	docs := sampleDocs()

	tests := []struct {
		name  string
		query string
		want  string
	}{
		{"blank keeps order", "", "[1 2 3 4 5]"},
		{"whitespace keeps order", "   ", "[1 2 3 4 5]"},
		{"nom case insensitive", "dupont", "[1]"},
		{"partial nom", "ra", "[2 4 5]"},
		{"prenoms with accents", "élodie", "[3]"},
		{"folded accents upper", "ÉLODIE", "[3]"},
		{"numero cin", "cd98", "[3]"},
		{"no match", "zzz", "[]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FilterLocal(docs, tt.query)
			gotIDs := make([]int64, len(got))
			for i, d := range got {
				gotIDs[i] = d.ID
			}
			if fmt.Sprint(gotIDs) != tt.want {
				t.Errorf("FilterLocal(%q) = %v, want %s", tt.query, gotIDs, tt.want)
			}
		})
	}
}

func TestListing_PhotoSearchAndReset(t *testing.T) {
	store := &fakeStore{docs: sampleDocs()}
	searcher := &fakeSearcher{matches: []record.SimilarityMatch{
		{DocumentID: 2, Similarity: 83.4},
		{DocumentID: 5, Similarity: 66.1},
	}}
	l := NewListing(store, NewCorrelator(searcher, DefaultOptions()), ListingOptions{})
	ctx := context.Background()

	if err := l.Load(ctx); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got := len(l.View().Documents); got != 5 {
		t.Fatalf("expected 5 documents, got %d", got)
	}

	res, err := l.SearchPhoto(ctx, photoUpload())
	if err != nil {
		t.Fatalf("SearchPhoto failed: %v", err)
	}
	view := l.View()
	if view.Mode != ModePhoto {
		t.Errorf("expected photo mode, got %s", view.Mode)
	}
	if fmt.Sprint(ids(view.Documents)) != "[2 5]" {
		t.Errorf("expected [2 5], got %v", ids(view.Documents))
	}
	for _, d := range view.Documents {
		if !d.Matched || d.Similarity == 0 {
			t.Errorf("expected matched document with score, got %+v", d)
		}
	}
	matched := 0
	for _, a := range res.All {
		if a.Matched {
			matched++
		}
	}
	if matched != 2 {
		t.Errorf("expected exactly 2 flagged documents, got %d", matched)
	}

	if err := l.ResetPhotoSearch(ctx); err != nil {
		t.Fatalf("ResetPhotoSearch failed: %v", err)
	}
	view = l.View()
	if view.Mode != ModeAll || len(view.Documents) != 5 {
		t.Errorf("expected 5 documents in all mode, got %d in %s", len(view.Documents), view.Mode)
	}
	for _, d := range view.Documents {
		if d.Matched {
			t.Errorf("annotation survived reset: %+v", d)
		}
	}
	if store.listCalls != 2 {
		t.Errorf("expected reload from persistence, list called %d times", store.listCalls)
	}
}

func TestListing_PhotoSearchRejectsInvalidUpload(t *testing.T) {
	searcher := &fakeSearcher{}
	l := NewListing(&fakeStore{docs: sampleDocs()}, NewCorrelator(searcher, DefaultOptions()), ListingOptions{})
	ctx := context.Background()
	_ = l.Load(ctx)

	_, err := l.SearchPhoto(ctx, upload.Upload{Name: "x.gif", ContentType: "image/gif", Size: 3, Reader: bytes.NewReader([]byte("GIF"))})
	if !errors.Is(err, upload.ErrInvalidType) {
		t.Fatalf("expected ErrInvalidType, got %v", err)
	}
	if searcher.calls != 0 {
		t.Error("face search must not be called for rejected photo")
	}
	if v := l.View(); v.Mode != ModeAll || len(v.Documents) != 5 || v.Error == "" {
		t.Errorf("expected untouched view with error, got %+v", v)
	}
}

func TestListing_RejectedPhotoKeepsPendingLoad(t *testing.T) {
	store := &fakeStore{docs: sampleDocs(), listing: make(chan struct{}), release: make(chan struct{})}
	searcher := &fakeSearcher{}
	l := NewListing(store, NewCorrelator(searcher, DefaultOptions()), ListingOptions{})
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- l.Load(ctx) }()
	<-store.listing

	_, err := l.SearchPhoto(ctx, upload.Upload{Name: "x.gif", ContentType: "image/gif", Size: 3, Reader: bytes.NewReader([]byte("GIF"))})
	if !errors.Is(err, upload.ErrInvalidType) {
		t.Fatalf("expected ErrInvalidType, got %v", err)
	}

	close(store.release)
	if err := <-done; err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if v := l.View(); len(v.Documents) != 5 || v.Total != 5 {
		t.Errorf("pending load should still apply, got %d of %d", len(v.Documents), v.Total)
	}
}

func TestListing_TextFilterLeavesPhotoMode(t *testing.T) {
	searcher := &fakeSearcher{matches: []record.SimilarityMatch{{DocumentID: 1, Similarity: 90}}}
	l := NewListing(&fakeStore{docs: sampleDocs()}, NewCorrelator(searcher, DefaultOptions()), ListingOptions{})
	ctx := context.Background()
	_ = l.Load(ctx)
	_, _ = l.SearchPhoto(ctx, photoUpload())

	l.FilterText("ra")
	v := l.View()
	if v.Mode != ModeText || fmt.Sprint(ids(v.Documents)) != "[2 4 5]" {
		t.Errorf("expected text mode [2 4 5], got %s %v", v.Mode, ids(v.Documents))
	}
	for _, d := range v.Documents {
		if d.Matched {
			t.Error("text mode must not carry photo annotations")
		}
	}

	l.FilterText(" ")
	if v := l.View(); v.Mode != ModeAll || len(v.Documents) != 5 {
		t.Errorf("blank filter should show all, got %s with %d", v.Mode, len(v.Documents))
	}
}

func TestListing_SearchRemote(t *testing.T) {
	ctx := context.Background()

	t.Run("results", func(t *testing.T) {
		store := &fakeStore{docs: sampleDocs(), searchDocs: sampleDocs()[:1]}
		l := NewListing(store, nil, ListingOptions{})
		_ = l.Load(ctx)

		if err := l.SearchRemote(ctx, "Dupont"); err != nil {
			t.Fatalf("SearchRemote failed: %v", err)
		}
		if v := l.View(); v.Mode != ModeRemote || len(v.Documents) != 1 {
			t.Errorf("expected 1 remote result, got %+v", v)
		}
	})

	t.Run("not found is empty", func(t *testing.T) {
		store := &fakeStore{docs: sampleDocs(), searchErr: fmt.Errorf("search: %w", record.ErrNotFound)}
		l := NewListing(store, nil, ListingOptions{})
		_ = l.Load(ctx)

		if err := l.SearchRemote(ctx, "nobody"); err != nil {
			t.Fatalf("not found must not be an error: %v", err)
		}
		if v := l.View(); len(v.Documents) != 0 || v.Error != "" {
			t.Errorf("expected empty view without error, got %+v", v)
		}
	})

	t.Run("loaded collection survives", func(t *testing.T) {
		store := &fakeStore{docs: sampleDocs(), searchErr: fmt.Errorf("search: %w", record.ErrNotFound)}
		searcher := &fakeSearcher{matches: []record.SimilarityMatch{{DocumentID: 3, Similarity: 88}, {DocumentID: 1, Similarity: 71}}}
		l := NewListing(store, NewCorrelator(searcher, DefaultOptions()), ListingOptions{})
		_ = l.Load(ctx)

		if err := l.SearchRemote(ctx, "nobody"); err != nil {
			t.Fatalf("SearchRemote failed: %v", err)
		}
		if v := l.View(); len(v.Documents) != 0 || v.Total != 5 {
			t.Errorf("expected empty view over 5 loaded documents, got %d of %d", len(v.Documents), v.Total)
		}

		l.FilterText("")
		if v := l.View(); v.Mode != ModeAll || len(v.Documents) != 5 {
			t.Errorf("blank filter should show all 5 documents, got %s with %d", v.Mode, len(v.Documents))
		}

		res, err := l.SearchPhoto(ctx, photoUpload())
		if err != nil {
			t.Fatalf("SearchPhoto failed: %v", err)
		}
		if fmt.Sprint(ids(res.Matches)) != "[3 1]" || len(res.All) != 5 {
			t.Errorf("expected matches [3 1] over 5 documents, got %v over %d", ids(res.Matches), len(res.All))
		}
	})

	t.Run("failure keeps view", func(t *testing.T) {
		store := &fakeStore{docs: sampleDocs(), searchErr: errors.New("timeout")}
		l := NewListing(store, nil, ListingOptions{})
		_ = l.Load(ctx)

		if err := l.SearchRemote(ctx, "Dupont"); err == nil {
			t.Fatal("expected error")
		}
		v := l.View()
		if len(v.Documents) != 5 || v.Mode != ModeAll {
			t.Errorf("prior view must be untouched, got %+v", v)
		}
		if v.Error != "Search failed" {
			t.Errorf("expected fallback message, got %q", v.Error)
		}
	})

	t.Run("blank reloads", func(t *testing.T) {
		store := &fakeStore{docs: sampleDocs()}
		l := NewListing(store, nil, ListingOptions{})

		if err := l.SearchRemote(ctx, "  "); err != nil {
			t.Fatalf("SearchRemote failed: %v", err)
		}
		if store.listCalls != 1 || len(l.View().Documents) != 5 {
			t.Errorf("expected reload of all documents, list calls=%d", store.listCalls)
		}
	})
}

func TestListing_Delete(t *testing.T) {
	ctx := context.Background()

	t.Run("success removes locally", func(t *testing.T) {
		store := &fakeStore{docs: sampleDocs()}
		l := NewListing(store, nil, ListingOptions{})
		_ = l.Load(ctx)
		l.FilterText("ra")

		if err := l.Delete(ctx, 4); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		v := l.View()
		if fmt.Sprint(ids(v.Documents)) != "[2 5]" || v.Total != 4 {
			t.Errorf("expected [2 5] of 4, got %v of %d", ids(v.Documents), v.Total)
		}
		if fmt.Sprint(store.deleted) != "[4]" {
			t.Errorf("expected delete of 4, got %v", store.deleted)
		}
	})

	t.Run("failure keeps document", func(t *testing.T) {
		store := &fakeStore{docs: sampleDocs(), deleteErr: errors.New("locked")}
		l := NewListing(store, nil, ListingOptions{})
		_ = l.Load(ctx)

		if err := l.Delete(ctx, 4); err == nil {
			t.Fatal("expected error")
		}
		if v := l.View(); len(v.Documents) != 5 || v.Error != "Delete failed" {
			t.Errorf("expected untouched view with error, got %+v", v)
		}
	})
}

func TestListing_Get(t *testing.T) {
	l := NewListing(&fakeStore{docs: sampleDocs()}, nil, ListingOptions{})

	doc, err := l.Get(context.Background(), 3)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if doc.Nom != "Martin" {
		t.Errorf("expected Martin, got %q", doc.Nom)
	}

	_, err = l.Get(context.Background(), 42)
	if !errors.Is(err, record.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if got := record.UserMessage(err); got != "Failed to load document details" {
		t.Errorf("expected fallback, got %q", got)
	}
}
