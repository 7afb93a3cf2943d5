package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/kozaktomas/cin-capture/internal/capture"
	"github.com/kozaktomas/cin-capture/internal/logger"
	"github.com/kozaktomas/cin-capture/internal/record"
)

// CaptureHandler exposes the capture workflow of the caller's workspace.
type CaptureHandler struct {
	log *zap.Logger
}

// NewCaptureHandler creates a new capture handler.
func NewCaptureHandler(log *zap.Logger) *CaptureHandler {
	return &CaptureHandler{log: logger.OrNop(log)}
}

// captureResponse is the snapshot plus the outcome of the last save, when there was one.
type captureResponse struct {
	capture.Snapshot
	Saved *record.SaveResult `json:"saved,omitempty"`
}

func (h *CaptureHandler) respondSnapshot(w http.ResponseWriter, status int, ws *Workspace, saved *record.SaveResult) {
	respondJSON(w, status, captureResponse{Snapshot: ws.Capture.Snapshot(), Saved: saved})
}

// Get returns the current capture state.
func (h *CaptureHandler) Get(w http.ResponseWriter, r *http.Request) {
	ws := workspace(w, r)
	if ws == nil {
		return
	}
	h.respondSnapshot(w, http.StatusOK, ws, nil)
}

// UploadRecto recognizes the front side of the card.
func (h *CaptureHandler) UploadRecto(w http.ResponseWriter, r *http.Request) {
	ws := workspace(w, r)
	if ws == nil {
		return
	}
	u, closeUpload, ok := formUpload(w, r)
	if !ok {
		return
	}
	defer closeUpload()

	if err := ws.Capture.UploadRecto(r.Context(), u); err != nil {
		h.log.Info("recto upload rejected",
			zap.String("file", sanitizeForLog(u.Name)),
			zap.Error(err))
		respondDomainError(w, err)
		return
	}
	h.respondSnapshot(w, http.StatusOK, ws, nil)
}

// UploadVerso recognizes the back side of the card.
func (h *CaptureHandler) UploadVerso(w http.ResponseWriter, r *http.Request) {
	ws := workspace(w, r)
	if ws == nil {
		return
	}
	u, closeUpload, ok := formUpload(w, r)
	if !ok {
		return
	}
	defer closeUpload()

	if err := ws.Capture.UploadVerso(r.Context(), u); err != nil {
		h.log.Info("verso upload rejected",
			zap.String("file", sanitizeForLog(u.Name)),
			zap.Error(err))
		respondDomainError(w, err)
		return
	}
	h.respondSnapshot(w, http.StatusOK, ws, nil)
}

// SkipVerso moves to the edit step without a verso.
func (h *CaptureHandler) SkipVerso(w http.ResponseWriter, r *http.Request) {
	ws := workspace(w, r)
	if ws == nil {
		return
	}
	if err := ws.Capture.SkipVerso(); err != nil {
		respondDomainError(w, err)
		return
	}
	h.respondSnapshot(w, http.StatusOK, ws, nil)
}

type editFieldRequest struct {
	Value string `json:"value"`
}

// EditField sets one field of the combined record.
func (h *CaptureHandler) EditField(w http.ResponseWriter, r *http.Request) {
	ws := workspace(w, r)
	if ws == nil {
		return
	}
	key := chi.URLParam(r, "key")
	if key == "" {
		respondError(w, http.StatusBadRequest, "field key is required")
		return
	}

	var req editFieldRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	if err := ws.Capture.EditField(key, req.Value); err != nil {
		respondDomainError(w, err)
		return
	}
	h.respondSnapshot(w, http.StatusOK, ws, nil)
}

// Save persists the combined record with the recto image.
func (h *CaptureHandler) Save(w http.ResponseWriter, r *http.Request) {
	ws := workspace(w, r)
	if ws == nil {
		return
	}
	result, err := ws.Capture.Save(r.Context())
	if err != nil {
		respondDomainError(w, err)
		return
	}
	h.respondSnapshot(w, http.StatusCreated, ws, result)
}

// Reset discards the current capture run.
func (h *CaptureHandler) Reset(w http.ResponseWriter, r *http.Request) {
	ws := workspace(w, r)
	if ws == nil {
		return
	}
	ws.Capture.Reset()
	h.respondSnapshot(w, http.StatusOK, ws, nil)
}
