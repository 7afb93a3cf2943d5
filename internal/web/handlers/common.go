package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/kozaktomas/cin-capture/internal/capture"
	"github.com/kozaktomas/cin-capture/internal/constants"
	"github.com/kozaktomas/cin-capture/internal/record"
	"github.com/kozaktomas/cin-capture/internal/search"
	"github.com/kozaktomas/cin-capture/internal/upload"
	"github.com/kozaktomas/cin-capture/internal/web/middleware"
)

// errInvalidRequestBody is a shared error message for invalid JSON request bodies.
const errInvalidRequestBody = "invalid request body"

// Workspace is the state of one operator: a capture run and a document listing.
type Workspace struct {
	Capture *capture.Controller
	Listing *search.Listing
}

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// errorStatus maps domain errors to HTTP status codes.
func errorStatus(err error) int {
	var ce *record.CollaboratorError
	switch {
	case errors.Is(err, upload.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, upload.ErrInvalidType):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, upload.ErrEmpty), errors.Is(err, capture.ErrNothingToSave):
		return http.StatusBadRequest
	case errors.Is(err, capture.ErrBusy), errors.Is(err, capture.ErrWrongState), errors.Is(err, capture.ErrDiscarded):
		return http.StatusConflict
	case errors.Is(err, record.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &ce):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// respondDomainError sends err with its mapped status and operator-facing message.
func respondDomainError(w http.ResponseWriter, err error) {
	respondError(w, errorStatus(err), record.UserMessage(err))
}

// workspace returns the caller's workspace or answers 500 when the session
// middleware is missing.
func workspace(w http.ResponseWriter, r *http.Request) *Workspace {
	ws, ok := middleware.SessionValue[*Workspace](r.Context())
	if !ok || ws == nil {
		respondError(w, http.StatusInternalServerError, "no workspace")
		return nil
	}
	return ws
}

// formUpload reads the "file" part of a multipart request. The returned close function
// must be called once the upload has been consumed.
func formUpload(w http.ResponseWriter, r *http.Request) (upload.Upload, func(), bool) {
	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxMultipartMemory)
	if err := r.ParseMultipartForm(constants.MaxMultipartMemory); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse multipart form")
		return upload.Upload{}, nil, false
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "file is required")
		return upload.Upload{}, nil, false
	}

	u := upload.Upload{
		Name:        header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Reader:      file,
	}
	return u, func() {
		file.Close()
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}, true
}

// HealthCheck handles the health check endpoint.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}
