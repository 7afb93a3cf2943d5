package cmd

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/kozaktomas/cin-capture/internal/ai"
	"github.com/kozaktomas/cin-capture/internal/capture"
	"github.com/kozaktomas/cin-capture/internal/cinapi"
	"github.com/kozaktomas/cin-capture/internal/config"
	"github.com/kozaktomas/cin-capture/internal/faceindex"
	"github.com/kozaktomas/cin-capture/internal/search"
)

// model names used to look up pricing
const (
	openAIPricingModel = "gpt-4.1-mini"
	geminiPricingModel = "gemini-2.5-flash"
)

// newServiceClient connects to the CIN document service.
func newServiceClient(cfg *config.Config, log *zap.Logger) (*cinapi.Client, error) {
	client, err := cinapi.New(cfg.API.URL,
		cinapi.WithTimeout(cfg.API.Timeout),
		cinapi.WithLogger(log))
	if err != nil {
		return nil, fmt.Errorf("failed to create service client: %w", err)
	}
	if err := client.SetCaptureDir(cfg.API.CaptureDir); err != nil {
		return nil, fmt.Errorf("failed to set capture directory: %w", err)
	}
	return client, nil
}

func aiPricing(cfg *config.Config, model string) ai.RequestPricing {
	p := cfg.GetModelPricing(model).Standard
	return ai.RequestPricing{Input: p.Input, Output: p.Output}
}

// usageReporter is implemented by recognizers that bill per token.
type usageReporter interface {
	GetUsage() ai.Usage
}

// newRecognizer builds the recognizer selected by the configuration.
func newRecognizer(ctx context.Context, cfg *config.Config, client *cinapi.Client) (capture.Recognizer, error) {
	switch cfg.Recognizer.Backend {
	case config.RecognizerRemote, "":
		return client, nil
	case config.RecognizerOpenAI:
		if cfg.OpenAI.Token == "" {
			return nil, errors.New("OPENAI_TOKEN environment variable is required")
		}
		return ai.NewOpenAIRecognizer(cfg.OpenAI.Token, aiPricing(cfg, openAIPricingModel)), nil
	case config.RecognizerGemini:
		if cfg.Gemini.APIKey == "" {
			return nil, errors.New("GEMINI_API_KEY environment variable is required")
		}
		r, err := ai.NewGeminiRecognizer(ctx, cfg.Gemini.APIKey, aiPricing(cfg, geminiPricingModel))
		if err != nil {
			return nil, err
		}
		return r, nil
	case config.RecognizerOllama:
		return ai.NewOllamaRecognizer(cfg.Ollama.URL, cfg.Ollama.Model), nil
	}
	return nil, fmt.Errorf("unknown recognizer backend %q", cfg.Recognizer.Backend)
}

// printUsage reports token usage of recognizers that track it.
func printUsage(r capture.Recognizer) {
	u, ok := r.(usageReporter)
	if !ok {
		return
	}
	usage := u.GetUsage()
	if usage.InputTokens == 0 && usage.OutputTokens == 0 {
		return
	}
	fmt.Printf("\nTokens: %d in / %d out, cost $%.4f\n", usage.InputTokens, usage.OutputTokens, usage.TotalCost)
}

// newFaceSearcher builds the face searcher selected by the configuration. The returned
// hook, if not nil, must run after a document is deleted.
func newFaceSearcher(cfg *config.Config, client *cinapi.Client, log *zap.Logger) (search.FaceSearcher, func(int64) error, error) {
	switch cfg.FaceSearch.Backend {
	case config.FaceSearchRemote, "":
		return client, nil, nil
	case config.FaceSearchLocal:
		index := faceindex.NewIndex(cfg.FaceSearch.IndexPath)
		if err := index.Load(); err != nil {
			return nil, nil, fmt.Errorf("failed to load face index: %w", err)
		}
		log.Info("face index loaded",
			zap.String("path", cfg.FaceSearch.IndexPath),
			zap.Int("documents", index.Count()))
		embedder := faceindex.NewEmbeddingClient(cfg.Embedding.URL, cfg.API.Timeout)
		searcher := faceindex.NewSearcher(embedder, index, log)
		return searcher, searcher.Forget, nil
	}
	return nil, nil, fmt.Errorf("unknown face search backend %q", cfg.FaceSearch.Backend)
}
