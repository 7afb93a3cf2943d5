package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/kozaktomas/cin-capture/internal/logger"
	"github.com/kozaktomas/cin-capture/internal/record"
	"github.com/kozaktomas/cin-capture/internal/search"
)

// PortraitLinker resolves stored portrait paths to URLs.
type PortraitLinker interface {
	PortraitURL(path string) string
}

// DocumentsHandler exposes the document listing of the caller's workspace.
type DocumentsHandler struct {
	portraits PortraitLinker
	onDelete  func(id int64) error
	log       *zap.Logger
	now       func() time.Time
}

// NewDocumentsHandler creates a new documents handler. onDelete, if not nil, runs after
// a document was deleted from persistence.
func NewDocumentsHandler(portraits PortraitLinker, onDelete func(id int64) error, log *zap.Logger) *DocumentsHandler {
	return &DocumentsHandler{
		portraits: portraits,
		onDelete:  onDelete,
		log:       logger.OrNop(log),
		now:       time.Now,
	}
}

// DocumentDetail is a full record with derived display fields.
type DocumentDetail struct {
	Document    *record.DocumentRecord `json:"document"`
	Status      record.ExpiryStatus    `json:"status"`
	PortraitURL string                 `json:"portrait_url,omitempty"`
}

// PhotoSearchResponse is the outcome of a face search.
type PhotoSearchResponse struct {
	search.View
	Matched int `json:"matched"`
}

func parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		respondError(w, http.StatusBadRequest, "invalid document id")
		return 0, false
	}
	return id, true
}

// List reloads the collection from persistence.
func (h *DocumentsHandler) List(w http.ResponseWriter, r *http.Request) {
	ws := workspace(w, r)
	if ws == nil {
		return
	}
	if err := ws.Listing.Load(r.Context()); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, ws.Listing.View())
}

// View returns the current view without any network call.
func (h *DocumentsHandler) View(w http.ResponseWriter, r *http.Request) {
	ws := workspace(w, r)
	if ws == nil {
		return
	}
	respondJSON(w, http.StatusOK, ws.Listing.View())
}

// Filter narrows the loaded collection by name, first names or card number.
func (h *DocumentsHandler) Filter(w http.ResponseWriter, r *http.Request) {
	ws := workspace(w, r)
	if ws == nil {
		return
	}
	ws.Listing.FilterText(r.URL.Query().Get("q"))
	respondJSON(w, http.StatusOK, ws.Listing.View())
}

// Search asks persistence for documents matching a term.
func (h *DocumentsHandler) Search(w http.ResponseWriter, r *http.Request) {
	ws := workspace(w, r)
	if ws == nil {
		return
	}
	if err := ws.Listing.SearchRemote(r.Context(), r.URL.Query().Get("term")); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, ws.Listing.View())
}

// PhotoSearch shows the documents whose portrait matches the uploaded face photo.
func (h *DocumentsHandler) PhotoSearch(w http.ResponseWriter, r *http.Request) {
	ws := workspace(w, r)
	if ws == nil {
		return
	}
	u, closeUpload, ok := formUpload(w, r)
	if !ok {
		return
	}
	defer closeUpload()

	res, err := ws.Listing.SearchPhoto(r.Context(), u)
	if err != nil {
		h.log.Info("photo search failed",
			zap.String("file", sanitizeForLog(u.Name)),
			zap.Error(err))
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, PhotoSearchResponse{View: ws.Listing.View(), Matched: len(res.Matches)})
}

// ResetPhotoSearch leaves photo search mode and reloads the collection.
func (h *DocumentsHandler) ResetPhotoSearch(w http.ResponseWriter, r *http.Request) {
	ws := workspace(w, r)
	if ws == nil {
		return
	}
	if err := ws.Listing.ResetPhotoSearch(r.Context()); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, ws.Listing.View())
}

// Get returns one document with its expiry status.
func (h *DocumentsHandler) Get(w http.ResponseWriter, r *http.Request) {
	ws := workspace(w, r)
	if ws == nil {
		return
	}
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	doc, err := ws.Listing.Get(r.Context(), id)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	detail := DocumentDetail{
		Document: doc,
		Status:   record.Status(doc.DateExpiration, h.now()),
	}
	if h.portraits != nil && doc.HasFacePhoto {
		detail.PortraitURL = h.portraits.PortraitURL(doc.PhotoVisagePath)
	}
	respondJSON(w, http.StatusOK, detail)
}

// Delete removes a document from persistence and from the workspace listing.
func (h *DocumentsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ws := workspace(w, r)
	if ws == nil {
		return
	}
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	if err := ws.Listing.Delete(r.Context(), id); err != nil {
		respondDomainError(w, err)
		return
	}
	if h.onDelete != nil {
		if err := h.onDelete(id); err != nil {
			h.log.Warn("post-delete hook failed", zap.Int64("id", id), zap.Error(err))
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"deleted_id": id,
	})
}
