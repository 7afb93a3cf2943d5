package cinapi

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/kozaktomas/cin-capture/internal/record"
	"github.com/kozaktomas/cin-capture/internal/upload"
)

type faceMatch struct {
	DocumentID      int64    `json:"document_id"`
	Similarity      float64  `json:"similarity"`
	ScorePercentage *float64 `json:"score_percentage"`
}

type faceSearchResponse struct {
	Matches []faceMatch `json:"matches"`
}

// FaceSearch sends a probe photo to the face similarity endpoint and returns the matches
// in the order the service ranked them, with similarity as a percentage.
func (c *Client) FaceSearch(ctx context.Context, photo *upload.CapturedImage, threshold float64, topK int) ([]record.SimilarityMatch, error) {
	q := url.Values{}
	q.Set("threshold", strconv.FormatFloat(threshold, 'f', -1, 64))
	q.Set("top_k", strconv.Itoa(topK))

	resp, err := doMultipartJSON[faceSearchResponse](ctx, c, record.OpFaceSearch, "face/search?"+q.Encode(), photo)
	if err != nil {
		return nil, fmt.Errorf("face search: %w", err)
	}

	matches := make([]record.SimilarityMatch, 0, len(resp.Matches))
	for _, m := range resp.Matches {
		similarity := m.Similarity
		if m.ScorePercentage != nil {
			similarity = *m.ScorePercentage
		}
		matches = append(matches, record.SimilarityMatch{DocumentID: m.DocumentID, Similarity: similarity})
	}
	return matches, nil
}
