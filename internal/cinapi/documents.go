package cinapi

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/kozaktomas/cin-capture/internal/record"
	"github.com/kozaktomas/cin-capture/internal/upload"
)

type saveRequest struct {
	Data        record.SavePayload `json:"data"`
	ImageBase64 string             `json:"image_base64"`
	Filename    string             `json:"filename"`
}

type saveResponse struct {
	Success       bool   `json:"success"`
	DatabaseID    int64  `json:"database_id"`
	Message       string `json:"message"`
	ExistingPhoto string `json:"existing_photo"`
	Files         struct {
		PhotoVisage string `json:"photo_visage"`
	} `json:"files"`
}

// Save stores a record together with the recto image.
func (c *Client) Save(ctx context.Context, payload record.SavePayload, recto *upload.CapturedImage) (*record.SaveResult, error) {
	if recto == nil {
		return nil, errors.New("save: no recto image")
	}
	filename := recto.Name
	if filename == "" {
		filename = "cin_" + uuid.NewString() + ".jpg"
	}

	resp, err := doPostJSON[saveResponse](ctx, c, record.OpSave, "save", saveRequest{
		Data:        payload,
		ImageBase64: recto.Base64(),
		Filename:    filename,
	})
	if err != nil {
		return nil, fmt.Errorf("save document: %w", err)
	}

	result := &record.SaveResult{
		DatabaseID:   resp.DatabaseID,
		Message:      resp.Message,
		PortraitPath: resp.Files.PhotoVisage,
	}
	if resp.ExistingPhoto != "" || (resp.Files.PhotoVisage == "" && strings.Contains(resp.Message, "already exists")) {
		result.AlreadyStored = true
		result.PortraitPath = resp.ExistingPhoto
	}
	return result, nil
}

// List returns one page of stored documents, newest first.
func (c *Client) List(ctx context.Context, skip, limit int) ([]record.DocumentRecord, error) {
	q := url.Values{}
	q.Set("skip", strconv.Itoa(skip))
	q.Set("limit", strconv.Itoa(limit))

	docs, err := doGetJSON[[]record.DocumentRecord](ctx, c, record.OpList, "documents/db?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return *docs, nil
}

// ListAll pages through the whole collection.
func (c *Client) ListAll(ctx context.Context, pageSize int) ([]record.DocumentRecord, error) {
	var all []record.DocumentRecord
	for skip := 0; ; skip += pageSize {
		page, err := c.List(ctx, skip, pageSize)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < pageSize {
			return all, nil
		}
	}
}

// Get returns one stored document.
func (c *Client) Get(ctx context.Context, id int64) (*record.DocumentRecord, error) {
	doc, err := doGetJSON[record.DocumentRecord](ctx, c, record.OpGet, "documents/db/"+strconv.FormatInt(id, 10))
	if err != nil {
		return nil, fmt.Errorf("get document %d: %w", id, err)
	}
	return doc, nil
}

type searchResponse struct {
	Count     int                     `json:"count"`
	Documents []record.DocumentRecord `json:"documents"`
}

// SearchByTerm finds documents whose CIN number contains term. The service answers 404
// when nothing matches; that error is returned and matches record.ErrNotFound.
func (c *Client) SearchByTerm(ctx context.Context, term string) ([]record.DocumentRecord, error) {
	resp, err := doGetJSON[searchResponse](ctx, c, record.OpSearchByTerm, "documents/db/search/"+url.PathEscape(term))
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", term, err)
	}
	return resp.Documents, nil
}

type deleteResponse struct {
	Success   bool  `json:"success"`
	DeletedID int64 `json:"deleted_id"`
}

// Delete removes a stored document and its portrait.
func (c *Client) Delete(ctx context.Context, id int64) error {
	resp, err := doDeleteJSON[deleteResponse](ctx, c, record.OpDelete, "documents/db/"+strconv.FormatInt(id, 10))
	if err != nil {
		return fmt.Errorf("delete document %d: %w", id, err)
	}
	if !resp.Success {
		return fmt.Errorf("delete document %d: service reported failure", id)
	}
	return nil
}

// Health is the service status.
type Health struct {
	Status         string `json:"status"`
	Service        string `json:"service"`
	Version        string `json:"version"`
	TotalDocuments int    `json:"total_documents"`
	TotalPhotos    int    `json:"total_photos"`
}

// Health checks that the service is running.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	h, err := doGetJSON[Health](ctx, c, record.OpHealth, "")
	if err != nil {
		return nil, fmt.Errorf("health: %w", err)
	}
	return h, nil
}

// PortraitURL resolves a stored portrait path to a URL served by the service.
func (c *Client) PortraitURL(path string) string {
	path = strings.TrimLeft(strings.ReplaceAll(path, "\\", "/"), "/")
	if path == "" {
		return ""
	}
	return c.resolveURL(strings.Split(path, "/")...)
}

// DownloadPortrait fetches the stored portrait of a document.
func (c *Client) DownloadPortrait(ctx context.Context, doc record.DocumentRecord) (*upload.CapturedImage, error) {
	path := strings.TrimLeft(strings.ReplaceAll(doc.PhotoVisagePath, "\\", "/"), "/")
	if !doc.HasFacePhoto || path == "" {
		return nil, fmt.Errorf("document %d has no portrait: %w", doc.ID, record.ErrNotFound)
	}

	data, contentType, err := doGetRaw(ctx, c, record.OpPortrait, path)
	if err != nil {
		return nil, fmt.Errorf("download portrait of document %d: %w", doc.ID, err)
	}
	name := path[strings.LastIndex(path, "/")+1:]
	return &upload.CapturedImage{Data: data, ContentType: contentType, Name: name}, nil
}
