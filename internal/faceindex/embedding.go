// Package faceindex is a local face similarity backend. Portraits are embedded by the
// embedding server and kept in an HNSW graph keyed by document id.
package faceindex

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/kozaktomas/cin-capture/internal/upload"
)

const defaultEmbeddingURL = "http://localhost:8000"

// ErrNoFace is returned when the embedding server finds no face in an image.
var ErrNoFace error = noFaceError{}

type noFaceError struct{}

func (noFaceError) Error() string  { return "no face detected" }
func (noFaceError) Detail() string { return "No face detected in the photo" }

// EmbeddingClient computes face embeddings using the embedding server.
type EmbeddingClient struct {
	baseURL string
	client  *http.Client
}

// NewEmbeddingClient creates a new embedding client.
func NewEmbeddingClient(baseURL string, timeout time.Duration) *EmbeddingClient {
	if baseURL == "" {
		baseURL = defaultEmbeddingURL
	}
	return &EmbeddingClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// FaceDetection is a single detected face.
type FaceDetection struct {
	FaceIndex int       `json:"face_index"`
	Dim       int       `json:"dim"`
	Embedding []float32 `json:"embedding"`
	BBox      []float64 `json:"bbox"` // [x1, y1, x2, y2]
	DetScore  float64   `json:"det_score"`
}

// FaceResponse is the response of the face embedding endpoint.
type FaceResponse struct {
	FacesCount int             `json:"faces_count"`
	Faces      []FaceDetection `json:"faces"`
	Model      string          `json:"model"`
}

// Best returns the detection with the highest score.
func (r *FaceResponse) Best() (FaceDetection, bool) {
	var best FaceDetection
	found := false
	for _, f := range r.Faces {
		if len(f.Embedding) == 0 {
			continue
		}
		if !found || f.DetScore > best.DetScore {
			best = f
			found = true
		}
	}
	return best, found
}

func (c *EmbeddingClient) postImage(ctx context.Context, endpoint string, img *upload.CapturedImage) ([]byte, error) {
	contentType := img.ContentType
	if contentType == "" {
		contentType = http.DetectContentType(img.Data)
	}
	name := img.Name
	if name == "" {
		name = "image.jpg"
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
	h.Set("Content-Type", contentType)
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(img.Data); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}
	return body, nil
}

// ComputeFaceEmbeddings detects faces and computes their embeddings.
func (c *EmbeddingClient) ComputeFaceEmbeddings(ctx context.Context, img *upload.CapturedImage) (*FaceResponse, error) {
	if img == nil || len(img.Data) == 0 {
		return nil, errors.New("empty image")
	}

	body, err := c.postImage(ctx, "/embed/face", img)
	if err != nil {
		return nil, err
	}

	var faceResp FaceResponse
	if err := json.Unmarshal(body, &faceResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &faceResp, nil
}

// FaceEmbedding returns the embedding of the most confident face in img.
func (c *EmbeddingClient) FaceEmbedding(ctx context.Context, img *upload.CapturedImage) ([]float32, error) {
	resp, err := c.ComputeFaceEmbeddings(ctx, img)
	if err != nil {
		return nil, err
	}
	best, ok := resp.Best()
	if !ok {
		return nil, ErrNoFace
	}
	return best.Embedding, nil
}
