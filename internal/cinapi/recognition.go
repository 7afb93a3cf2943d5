package cinapi

import (
	"context"
	"errors"
	"fmt"

	"github.com/kozaktomas/cin-capture/internal/record"
	"github.com/kozaktomas/cin-capture/internal/upload"
)

type ocrResponse struct {
	Markdown    string         `json:"markdown"`
	Data        map[string]any `json:"data"`
	ImageBase64 string         `json:"image_base64"`
}

// Recognize sends one side of the card to the OCR endpoint.
func (c *Client) Recognize(ctx context.Context, img *upload.CapturedImage) (*record.Recognition, error) {
	resp, err := doMultipartJSON[ocrResponse](ctx, c, record.OpRecognize, "ocr", img)
	if err != nil {
		return nil, fmt.Errorf("recognize %s: %w", img.Name, err)
	}
	return &record.Recognition{
		Fields:      record.FromAny(resp.Data),
		ImageBase64: resp.ImageBase64,
		Markdown:    resp.Markdown,
	}, nil
}

type portraitResponse struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	PhotoBase64 string `json:"photo_base64"`
	PhotoSize   int    `json:"photo_size"`
}

// ExtractPortrait asks the service to crop the face out of a recto image. It returns
// nil without error when the service finds no face.
func (c *Client) ExtractPortrait(ctx context.Context, img *upload.CapturedImage) (*record.Portrait, error) {
	resp, err := doMultipartJSON[portraitResponse](ctx, c, record.OpPortrait, "extract-photo", img)
	if err != nil {
		if errors.Is(err, record.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("extract portrait: %w", err)
	}
	if !resp.Success || resp.PhotoBase64 == "" {
		return nil, nil
	}
	return &record.Portrait{Base64: resp.PhotoBase64, Size: resp.PhotoSize}, nil
}
