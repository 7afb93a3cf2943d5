package cinapi

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
	"slices"
	"strings"
	"time"

	"github.com/kozaktomas/cin-capture/internal/metrics"
	"github.com/kozaktomas/cin-capture/internal/record"
	"github.com/kozaktomas/cin-capture/internal/upload"
)

// doGetJSON performs a GET request and unmarshals the JSON response into the result type.
// The endpoint is the path after the base URL (e.g., "documents/db/12").
func doGetJSON[T any](ctx context.Context, c *Client, op record.Op, endpoint string) (*T, error) {
	return doRequestJSON[T](ctx, c, op, http.MethodGet, endpoint, nil, http.StatusOK)
}

// doPostJSON performs a POST request with a JSON body and unmarshals the JSON response.
func doPostJSON[T any](ctx context.Context, c *Client, op record.Op, endpoint string, requestBody any) (*T, error) {
	return doRequestJSON[T](ctx, c, op, http.MethodPost, endpoint, requestBody, http.StatusOK, http.StatusCreated)
}

// doDeleteJSON performs a DELETE request and unmarshals the JSON response.
func doDeleteJSON[T any](ctx context.Context, c *Client, op record.Op, endpoint string) (*T, error) {
	return doRequestJSON[T](ctx, c, op, http.MethodDelete, endpoint, nil, http.StatusOK)
}

// doRequestJSON performs an HTTP request with an optional JSON body and a JSON response.
// It accepts one or more valid status codes. Any other status yields an *APIError.
func doRequestJSON[T any](ctx context.Context, c *Client, op record.Op, method, endpoint string, requestBody any, expectedStatuses ...int) (*T, error) {
	var bodyReader io.Reader
	if requestBody != nil {
		jsonBody, err := json.Marshal(requestBody)
		if err != nil {
			return nil, fmt.Errorf("could not marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.resolveURL(endpoint), bodyReader)
	if err != nil {
		return nil, fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if requestBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return send[T](c, op, req, endpoint, expectedStatuses...)
}

// doMultipartJSON posts img as the multipart field "file" and unmarshals the JSON response.
func doMultipartJSON[T any](ctx context.Context, c *Client, op record.Op, endpoint string, img *upload.CapturedImage) (*T, error) {
	if img == nil || len(img.Data) == 0 {
		return nil, errors.New("no image to send")
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	name := img.Name
	if name == "" {
		name = "image"
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
	header.Set("Content-Type", img.ContentType)

	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("could not create form file: %w", err)
	}
	if _, err := part.Write(img.Data); err != nil {
		return nil, fmt.Errorf("could not copy file data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("could not close writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.resolveURL(endpoint), &body)
	if err != nil {
		return nil, fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", writer.FormDataContentType())

	return send[T](c, op, req, endpoint, http.StatusOK)
}

// send executes req, records the call and decodes the response.
func send[T any](c *Client, op record.Op, req *http.Request, endpoint string, expectedStatuses ...int) (*T, error) {
	start := time.Now()
	outcome := metrics.OutcomeError
	defer func() { metrics.ObserveCall(string(op), outcome, start) }()

	resp, err := c.httpClient.Do(req) //nolint:gosec // URL constructed from validated parsedURL via resolveURL
	if err != nil {
		return nil, fmt.Errorf("could not send request: %w", err)
	}
	defer resp.Body.Close()

	if !slices.Contains(expectedStatuses, resp.StatusCode) {
		apiErr := newAPIError(resp)
		if resp.StatusCode == http.StatusNotFound {
			outcome = metrics.OutcomeNotFound
		}
		return nil, apiErr
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("could not read response body: %w", err)
	}

	c.captureResponse(endpoint, body)

	var result T
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("could not unmarshal response: %w", err)
	}

	outcome = metrics.OutcomeOK
	return &result, nil
}

// doGetRaw performs a GET request and returns the raw response body and its content type.
func doGetRaw(ctx context.Context, c *Client, op record.Op, endpoint string) ([]byte, string, error) {
	start := time.Now()
	outcome := metrics.OutcomeError
	defer func() { metrics.ObserveCall(string(op), outcome, start) }()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.resolveURL(endpoint), nil)
	if err != nil {
		return nil, "", fmt.Errorf("could not create request: %w", err)
	}

	resp, err := c.httpClient.Do(req) //nolint:gosec // URL constructed from validated parsedURL via resolveURL
	if err != nil {
		return nil, "", fmt.Errorf("could not send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusNotFound {
			outcome = metrics.OutcomeNotFound
		}
		return nil, "", newAPIError(resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("could not read response body: %w", err)
	}

	outcome = metrics.OutcomeOK
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" || strings.HasPrefix(contentType, "application/octet-stream") {
		contentType = http.DetectContentType(data)
	}
	return data, contentType, nil
}
