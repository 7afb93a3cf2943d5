package handlers

import (
	"net/http"

	"github.com/kozaktomas/cin-capture/internal/config"
)

// ConfigHandler handles configuration endpoints
type ConfigHandler struct {
	config *config.Config
}

// NewConfigHandler creates a new config handler
func NewConfigHandler(cfg *config.Config) *ConfigHandler {
	return &ConfigHandler{
		config: cfg,
	}
}

// ConfigResponse is what the front-end needs to know about the workflow settings.
type ConfigResponse struct {
	Recognizer        string         `json:"recognizer"`
	Providers         []ProviderInfo `json:"providers"`
	FaceSearchBackend string         `json:"face_search_backend"`
	Threshold         float64        `json:"threshold"`
	TopK              int            `json:"top_k"`
	MaxUploadBytes    int64          `json:"max_upload_bytes"`
	AllowedTypes      []string       `json:"allowed_types"`
	ResetDelayMs      int64          `json:"reset_delay_ms"`
}

// ProviderInfo represents information about a recognizer backend
type ProviderInfo struct {
	Name      string `json:"name"`
	Available bool   `json:"available"`
}

// Get returns the available configuration
func (h *ConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	providers := []ProviderInfo{
		{
			Name:      config.RecognizerRemote,
			Available: h.config.API.URL != "",
		},
		{
			Name:      config.RecognizerOpenAI,
			Available: h.config.OpenAI.Token != "",
		},
		{
			Name:      config.RecognizerGemini,
			Available: h.config.Gemini.APIKey != "",
		},
		{
			Name:      config.RecognizerOllama,
			Available: h.config.Ollama.URL != "",
		},
	}

	allowed := h.config.Upload.AllowedTypes
	if allowed == nil {
		allowed = []string{}
	}

	respondJSON(w, http.StatusOK, ConfigResponse{
		Recognizer:        h.config.Recognizer.Backend,
		Providers:         providers,
		FaceSearchBackend: h.config.FaceSearch.Backend,
		Threshold:         h.config.FaceSearch.Threshold,
		TopK:              h.config.FaceSearch.TopK,
		MaxUploadBytes:    h.config.Upload.MaxBytes,
		AllowedTypes:      allowed,
		ResetDelayMs:      h.config.Workflow.ResetDelay.Milliseconds(),
	})
}
