package cinapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/kozaktomas/cin-capture/internal/record"
)

// APIError is a non-success response from the service.
type APIError struct {
	StatusCode int
	Body       string
	detail     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Body)
}

// Detail returns the "detail" message of the response, if any.
func (e *APIError) Detail() string {
	return e.detail
}

// Is makes 404 responses match record.ErrNotFound.
func (e *APIError) Is(target error) bool {
	return target == record.ErrNotFound && e.StatusCode == http.StatusNotFound
}

// readErrorBody reads the response body for error messages.
// Returns a placeholder if reading fails (we're already in an error path).
func readErrorBody(r io.Reader) string {
	body, err := io.ReadAll(io.LimitReader(r, 64<<10))
	if err != nil {
		return "(could not read error body)"
	}
	return string(body)
}

func newAPIError(resp *http.Response) *APIError {
	body := readErrorBody(resp.Body)
	return &APIError{
		StatusCode: resp.StatusCode,
		Body:       body,
		detail:     parseDetail(body),
	}
}

// parseDetail extracts the detail of an error body. The service answers either
// {"detail": "..."} or, on request validation errors, {"detail": [{"msg": "..."}]}.
func parseDetail(body string) string {
	var envelope struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal([]byte(body), &envelope); err != nil || len(envelope.Detail) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(envelope.Detail, &s); err == nil {
		return s
	}

	var items []struct {
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(envelope.Detail, &items); err == nil {
		msgs := make([]string, 0, len(items))
		for _, it := range items {
			if it.Msg != "" {
				msgs = append(msgs, it.Msg)
			}
		}
		return strings.Join(msgs, "; ")
	}
	return ""
}

// IsNotFoundError returns true if the error indicates a 404 Not Found response.
func IsNotFoundError(err error) bool {
	return errors.Is(err, record.ErrNotFound)
}
