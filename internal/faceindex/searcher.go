package faceindex

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/kozaktomas/cin-capture/internal/logger"
	"github.com/kozaktomas/cin-capture/internal/record"
	"github.com/kozaktomas/cin-capture/internal/upload"
)

// Embedder detects faces in an image and embeds them.
type Embedder interface {
	ComputeFaceEmbeddings(ctx context.Context, img *upload.CapturedImage) (*FaceResponse, error)
}

// Searcher answers face searches from a local Index.
type Searcher struct {
	embedder Embedder
	index    *Index
	log      *zap.Logger
}

// NewSearcher creates a searcher over index.
func NewSearcher(embedder Embedder, index *Index, log *zap.Logger) *Searcher {
	return &Searcher{embedder: embedder, index: index, log: logger.OrNop(log)}
}

// Index returns the underlying index.
func (s *Searcher) Index() *Index {
	return s.index
}

// FaceSearch embeds the most confident face of photo and returns the indexed documents
// whose normalized similarity reaches threshold, best first, at most topK of them.
// Similarity is reported as a percentage.
func (s *Searcher) FaceSearch(ctx context.Context, photo *upload.CapturedImage, threshold float64, topK int) ([]record.SimilarityMatch, error) {
	resp, err := s.embedder.ComputeFaceEmbeddings(ctx, photo)
	if err != nil {
		return nil, fmt.Errorf("embed probe photo: %w", err)
	}
	best, ok := resp.Best()
	if !ok {
		return nil, ErrNoFace
	}

	neighbors := s.index.Search(best.Embedding, topK)
	matches := make([]record.SimilarityMatch, 0, len(neighbors))
	for _, n := range neighbors {
		similarity := Normalize(n.Cosine)
		if similarity < threshold {
			continue
		}
		matches = append(matches, record.SimilarityMatch{
			DocumentID: n.DocumentID,
			Similarity: math.Round(similarity*10000) / 100,
		})
	}

	s.log.Debug("local face search",
		zap.Int("indexed", s.index.Count()),
		zap.Int("candidates", len(neighbors)),
		zap.Int("matches", len(matches)),
		zap.Float64("threshold", threshold))
	return matches, nil
}

// Forget drops a deleted document from the index and persists the change.
func (s *Searcher) Forget(id int64) error {
	if !s.index.Remove(id) {
		return nil
	}
	if err := s.index.Save(); err != nil {
		return fmt.Errorf("save face index: %w", err)
	}
	s.log.Info("document removed from face index", zap.Int64("id", id))
	return nil
}
