package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/kozaktomas/cin-capture/internal/constants"
	"github.com/kozaktomas/cin-capture/internal/record"
	"github.com/kozaktomas/cin-capture/internal/upload"
)

const (
	defaultOllamaURL   = "http://localhost:11434"
	defaultOllamaModel = "llama3.2-vision:11b"
)

// OllamaRecognizer reads cards with a vision model served by a local Ollama instance.
type OllamaRecognizer struct {
	usageTracker
	baseURL string
	model   string
	client  *http.Client
}

// NewOllamaRecognizer creates a recognizer. Empty arguments use the defaults.
func NewOllamaRecognizer(baseURL, model string) *OllamaRecognizer {
	if baseURL == "" {
		baseURL = defaultOllamaURL
	}
	if model == "" {
		model = defaultOllamaModel
	}
	return &OllamaRecognizer{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		model:   model,
		client:  &http.Client{},
	}
}

// Name returns the model name.
func (r *OllamaRecognizer) Name() string {
	return r.model
}

// ollamaRequest represents a request to the Ollama chat API
type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  ollamaOptions   `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"` // base64 encoded images
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

// ollamaResponse represents a response from the Ollama chat API
type ollamaResponse struct {
	Model   string `json:"model"`
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done            bool `json:"done"`
	PromptEvalCount int  `json:"prompt_eval_count"`
	EvalCount       int  `json:"eval_count"`
}

// Recognize sends one side of the card to the model.
func (r *OllamaRecognizer) Recognize(ctx context.Context, img *upload.CapturedImage) (*record.Recognition, error) {
	resized, err := ResizeImage(img.Data, constants.MaxImageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to resize image: %w", err)
	}

	resp, err := r.sendRequest(ctx, []ollamaMessage{
		{
			Role:    "user",
			Content: cinPrompt,
			Images:  []string{encodeBase64(resized)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("ollama API error: %w", err)
	}

	// Ollama is free, but tokens are tracked for stats.
	r.track(int64(resp.PromptEvalCount), int64(resp.EvalCount))

	return recognition(resp.Message.Content, img.Data), nil
}

func (r *OllamaRecognizer) sendRequest(ctx context.Context, messages []ollamaMessage) (*ollamaResponse, error) {
	jsonBody, err := json.Marshal(ollamaRequest{
		Model:    r.model,
		Messages: messages,
		Stream:   false,
		Options: ollamaOptions{
			Temperature: 0.2,
			NumPredict:  2048,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/api/chat", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	var ollamaResp ollamaResponse
	if err := json.Unmarshal(body, &ollamaResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	return &ollamaResp, nil
}
