package record

import (
	"errors"
	"fmt"
)

// ErrNotFound is matched by collaborator errors that carry a not-found status.
var ErrNotFound = errors.New("not found")

// Op names a collaborator operation for error reporting.
type Op string

const (
	OpRecognize    Op = "recognize"
	OpPortrait     Op = "extract_portrait"
	OpSave         Op = "save"
	OpList         Op = "list"
	OpGet          Op = "get"
	OpSearchByTerm Op = "search_by_term"
	OpDelete       Op = "delete"
	OpFaceSearch   Op = "face_search"
	OpHealth       Op = "health"
)

var fallbackMessages = map[Op]string{
	OpRecognize:    "Extraction failed",
	OpPortrait:     "Portrait extraction failed",
	OpSave:         "Save failed",
	OpList:         "Failed to load documents",
	OpGet:          "Failed to load document details",
	OpSearchByTerm: "Search failed",
	OpDelete:       "Delete failed",
	OpFaceSearch:   "Photo search failed",
	OpHealth:       "Service unavailable",
}

// Fallback returns the operator-facing message used when a collaborator gives no detail.
func (o Op) Fallback() string {
	if msg, ok := fallbackMessages[o]; ok {
		return msg
	}
	return "Request failed"
}

// Detailer is implemented by errors that carry a human-readable detail from the collaborator.
type Detailer interface {
	Detail() string
}

// CollaboratorError wraps a failed collaborator call.
type CollaboratorError struct {
	Op  Op
	Err error
}

// NewCollaboratorError wraps err for op. A nil err yields nil.
func NewCollaboratorError(op Op, err error) error {
	if err == nil {
		return nil
	}
	var ce *CollaboratorError
	if errors.As(err, &ce) && ce.Op == op {
		return err
	}
	return &CollaboratorError{Op: op, Err: err}
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *CollaboratorError) Unwrap() error {
	return e.Err
}

// Message is what the operator sees: the collaborator's detail verbatim when present,
// otherwise the fixed fallback for the operation.
func (e *CollaboratorError) Message() string {
	var d Detailer
	if errors.As(e.Err, &d) {
		if detail := d.Detail(); detail != "" {
			return detail
		}
	}
	return e.Op.Fallback()
}

// UserMessage extracts an operator-facing message from any error.
// Errors that expose Message() use it; anything else falls back to err.Error().
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var m interface{ Message() string }
	if errors.As(err, &m) {
		return m.Message()
	}
	return err.Error()
}
