// Package upload implements the validation gate for card and face images and converts
// an accepted file into the payload handed to collaborators.
package upload

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"

	_ "golang.org/x/image/webp" // register decoder

	"github.com/kozaktomas/cin-capture/internal/constants"
)

// Validation failures. Match them with errors.Is.
var (
	ErrInvalidType = errors.New("invalid file type")
	ErrTooLarge    = errors.New("file too large")
	ErrEmpty       = errors.New("empty file")
)

// ValidationError is returned when an upload is rejected before any collaborator call.
type ValidationError struct {
	Reason  error
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Unwrap() error {
	return e.Reason
}

// Upload is a file selected by the operator, not yet read.
type Upload struct {
	Name        string
	ContentType string
	Size        int64
	Reader      io.Reader
}

// Rules controls what the gate accepts. The zero value is not usable; see DefaultRules.
type Rules struct {
	MaxBytes     int64
	AllowedTypes []string
}

// DefaultRules accepts png, jpeg and webp images up to 10MB.
func DefaultRules() Rules {
	return Rules{
		MaxBytes:     constants.MaxUploadSize,
		AllowedTypes: slices.Clone(constants.AllowedImageTypes),
	}
}

// MediaType returns the lower-cased declared media type without parameters.
func (u Upload) MediaType() string {
	mt, _, err := mime.ParseMediaType(u.ContentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(u.ContentType))
	}
	return mt
}

// Validate checks the declared type and size against the rules without reading the body.
func (r Rules) Validate(u Upload) error {
	mt := u.MediaType()
	if !slices.Contains(r.AllowedTypes, mt) {
		return &ValidationError{
			Reason:  ErrInvalidType,
			Message: fmt.Sprintf("Unsupported file type %q. Allowed: %s", u.ContentType, strings.Join(r.AllowedTypes, ", ")),
		}
	}
	if u.Size > r.MaxBytes {
		return tooLarge(r.MaxBytes)
	}
	return nil
}

// Read validates u and reads its bytes into a CapturedImage. A body that turns out larger
// than the declared size allows is rejected the same way an oversized declaration is.
func (r Rules) Read(ctx context.Context, u Upload) (*CapturedImage, error) {
	if err := r.Validate(u); err != nil {
		return nil, err
	}
	if u.Reader == nil {
		return nil, &ValidationError{Reason: ErrEmpty, Message: "No file provided"}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(io.LimitReader(u.Reader, r.MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("could not read upload: %w", err)
	}
	if int64(len(data)) > r.MaxBytes {
		return nil, tooLarge(r.MaxBytes)
	}
	if len(data) == 0 {
		return nil, &ValidationError{Reason: ErrEmpty, Message: "The file is empty"}
	}

	return &CapturedImage{
		Data:        data,
		ContentType: u.MediaType(),
		Name:        filepath.Base(u.Name),
	}, nil
}

func tooLarge(limit int64) error {
	return &ValidationError{
		Reason:  ErrTooLarge,
		Message: fmt.Sprintf("File too large (max %d MB)", limit>>20),
	}
}

// FromFile opens path as an Upload. The content type is sniffed from the file contents,
// falling back to the extension. The caller must close the returned file.
func FromFile(path string) (Upload, *os.File, error) {
	f, err := os.Open(path) //nolint:gosec // path is provided by the operator
	if err != nil {
		return Upload{}, nil, fmt.Errorf("could not open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return Upload{}, nil, fmt.Errorf("could not stat %s: %w", path, err)
	}

	head := make([]byte, 512)
	n, _ := io.ReadFull(f, head)
	contentType := http.DetectContentType(head[:n])
	if contentType == "application/octet-stream" {
		if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); byExt != "" {
			contentType = byExt
		}
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return Upload{}, nil, fmt.Errorf("could not rewind %s: %w", path, err)
	}

	return Upload{
		Name:        filepath.Base(path),
		ContentType: contentType,
		Size:        info.Size(),
		Reader:      f,
	}, f, nil
}

// CapturedImage is an accepted image: the bytes sent to collaborators plus what is needed
// to display it.
type CapturedImage struct {
	Data        []byte
	ContentType string
	Name        string
}

// FromBase64 rebuilds an image from a base64 echo returned by the recognition service.
func FromBase64(encoded, contentType, name string) (*CapturedImage, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("could not decode image: %w", err)
	}
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return &CapturedImage{Data: data, ContentType: contentType, Name: name}, nil
}

// Base64 returns the standard base64 encoding of the image bytes.
func (c *CapturedImage) Base64() string {
	if c == nil {
		return ""
	}
	return base64.StdEncoding.EncodeToString(c.Data)
}

// DataURL returns the image as a data: URL suitable for an <img> src.
func (c *CapturedImage) DataURL() string {
	if c == nil {
		return ""
	}
	return "data:" + c.ContentType + ";base64," + c.Base64()
}

// Dimensions decodes only the image header and returns its size in pixels.
func (c *CapturedImage) Dimensions() (int, int, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(c.Data))
	if err != nil {
		return 0, 0, fmt.Errorf("could not decode image config: %w", err)
	}
	return cfg.Width, cfg.Height, nil
}
