// Package search correlates face-similarity results with the loaded document collection
// and filters that collection for display.
package search

import (
	"context"
	"fmt"

	"github.com/kozaktomas/cin-capture/internal/constants"
	"github.com/kozaktomas/cin-capture/internal/record"
	"github.com/kozaktomas/cin-capture/internal/upload"
)

// FaceSearcher ranks stored portraits by similarity to a probe photo.
type FaceSearcher interface {
	FaceSearch(ctx context.Context, photo *upload.CapturedImage, threshold float64, topK int) ([]record.SimilarityMatch, error)
}

// Options are the face search parameters.
type Options struct {
	// Threshold is the minimum similarity in [0,1].
	Threshold float64
	TopK      int
}

// DefaultOptions returns threshold 0.65 and top 10.
func DefaultOptions() Options {
	return Options{
		Threshold: constants.DefaultSimilarityThreshold,
		TopK:      constants.DefaultTopK,
	}
}

// Annotated is a document with its face search outcome.
type Annotated struct {
	record.DocumentRecord
	Matched bool `json:"matched"`
	// Similarity is a percentage, set only when Matched.
	Similarity float64 `json:"similarity,omitempty"`
}

// Result is the outcome of one face search.
type Result struct {
	// All holds every document of the collection in its original order.
	All []Annotated
	// Matches holds the matched documents in the order the searcher ranked them.
	Matches []Annotated
}

// Correlator submits probe photos to a FaceSearcher. It holds no state between searches.
type Correlator struct {
	searcher FaceSearcher
	opts     Options
}

// NewCorrelator creates a correlator. Non-positive options fall back to defaults.
func NewCorrelator(searcher FaceSearcher, opts Options) *Correlator {
	def := DefaultOptions()
	if opts.Threshold <= 0 {
		opts.Threshold = def.Threshold
	}
	if opts.TopK <= 0 {
		opts.TopK = def.TopK
	}
	return &Correlator{searcher: searcher, opts: opts}
}

// Options returns the parameters sent with every search.
func (c *Correlator) Options() Options {
	return c.opts
}

// Search runs a face search and correlates the matches with docs.
func (c *Correlator) Search(ctx context.Context, docs []record.DocumentRecord, photo *upload.CapturedImage) (Result, error) {
	matches, err := c.searcher.FaceSearch(ctx, photo, c.opts.Threshold, c.opts.TopK)
	if err != nil {
		return Result{}, fmt.Errorf("face search: %w", record.NewCollaboratorError(record.OpFaceSearch, err))
	}
	return Correlate(docs, matches), nil
}

// Correlate annotates docs with matches. Matches whose id is not in docs are dropped and
// only the first match for a given id counts. The match order is kept as is.
func Correlate(docs []record.DocumentRecord, matches []record.SimilarityMatch) Result {
	index := make(map[int64]int, len(docs))
	for i, d := range docs {
		if _, ok := index[d.ID]; !ok {
			index[d.ID] = i
		}
	}

	all := make([]Annotated, len(docs))
	for i, d := range docs {
		all[i] = Annotated{DocumentRecord: d}
	}

	ordered := make([]Annotated, 0, len(matches))
	for _, m := range matches {
		i, ok := index[m.DocumentID]
		if !ok || all[i].Matched {
			continue
		}
		all[i].Matched = true
		all[i].Similarity = m.Similarity
		ordered = append(ordered, all[i])
	}

	return Result{All: all, Matches: ordered}
}
