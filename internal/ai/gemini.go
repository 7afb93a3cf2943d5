package ai

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"github.com/kozaktomas/cin-capture/internal/constants"
	"github.com/kozaktomas/cin-capture/internal/record"
	"github.com/kozaktomas/cin-capture/internal/upload"
)

const geminiModel = "gemini-2.5-flash"

// GeminiRecognizer reads cards with a Gemini model.
type GeminiRecognizer struct {
	usageTracker
	client *genai.Client
}

// NewGeminiRecognizer creates a recognizer for the Gemini API.
func NewGeminiRecognizer(ctx context.Context, apiKey string, pricing RequestPricing) (*GeminiRecognizer, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiRecognizer{
		usageTracker: usageTracker{pricing: pricing},
		client:       client,
	}, nil
}

// Name returns the model name.
func (r *GeminiRecognizer) Name() string {
	return geminiModel
}

// Recognize sends one side of the card to the model.
func (r *GeminiRecognizer) Recognize(ctx context.Context, img *upload.CapturedImage) (*record.Recognition, error) {
	resized, err := ResizeImage(img.Data, constants.MaxImageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to resize image: %w", err)
	}

	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{Text: cinPrompt},
				{InlineData: &genai.Blob{Data: resized, MIMEType: "image/jpeg"}},
			},
		},
	}

	temperature := float32(0.2)
	result, err := r.client.Models.GenerateContent(ctx, geminiModel, contents, &genai.GenerateContentConfig{
		Temperature:     &temperature,
		MaxOutputTokens: 2048,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini API error: %w", err)
	}

	if result.UsageMetadata != nil {
		r.track(int64(result.UsageMetadata.PromptTokenCount), int64(result.UsageMetadata.CandidatesTokenCount))
	}

	content := result.Text()
	if content == "" {
		return nil, errors.New("no response from Gemini")
	}
	return recognition(content, img.Data), nil
}
