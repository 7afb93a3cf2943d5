package ai

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/kozaktomas/cin-capture/internal/constants"
	"github.com/kozaktomas/cin-capture/internal/record"
	"github.com/kozaktomas/cin-capture/internal/upload"
)

const chatModel = openai.ChatModelGPT4_1Mini

// OpenAIRecognizer reads cards with an OpenAI vision model.
type OpenAIRecognizer struct {
	usageTracker
	client *openai.Client
	model  string
}

// NewOpenAIRecognizer creates a recognizer. Extra request options (base URL, HTTP
// client) are passed through to the SDK.
func NewOpenAIRecognizer(apiKey string, pricing RequestPricing, opts ...option.RequestOption) *OpenAIRecognizer {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	client := openai.NewClient(opts...)
	return &OpenAIRecognizer{
		usageTracker: usageTracker{pricing: pricing},
		client:       &client,
		model:        chatModel,
	}
}

// Name returns the model name.
func (r *OpenAIRecognizer) Name() string {
	return r.model
}

// Recognize sends one side of the card to the model.
func (r *OpenAIRecognizer) Recognize(ctx context.Context, img *upload.CapturedImage) (*record.Recognition, error) {
	resized, err := ResizeImage(img.Data, constants.MaxImageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to resize image: %w", err)
	}

	resp, err := r.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: r.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			{
				OfUser: &openai.ChatCompletionUserMessageParam{
					Content: openai.ChatCompletionUserMessageParamContentUnion{
						OfArrayOfContentParts: []openai.ChatCompletionContentPartUnionParam{
							openai.TextContentPart(cinPrompt),
							openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
								URL:    "data:image/jpeg;base64," + encodeBase64(resized),
								Detail: "high",
							}),
						},
					},
				},
			},
		},
		Temperature: openai.Float(0.2),
		MaxTokens:   openai.Int(2048),
	})
	if err != nil {
		return nil, fmt.Errorf("OpenAI API error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("no response from OpenAI")
	}

	if resp.Usage.PromptTokens > 0 || resp.Usage.CompletionTokens > 0 {
		r.track(resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	}

	return recognition(resp.Choices[0].Message.Content, img.Data), nil
}
