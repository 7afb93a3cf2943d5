// Package ai provides card recognizers backed by vision language models. Each recognizer
// sends one side of the card with a fixed prompt and splits the reply into a Markdown
// transcription and the field set.
package ai

import (
	_ "embed"
	"encoding/json"
	"maps"
	"strings"
	"sync"

	"github.com/kozaktomas/cin-capture/internal/record"
)

//go:embed prompts/cin_ocr.txt
var cinPrompt string

// Fallback document types used when the model reply has no usable JSON block.
const (
	UnknownDocument = "Document inconnu"
	ParseError      = "Erreur parsing"
	rawTextKey      = "texte_brut"
)

// Usage tracks token usage and calculates cost.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalCost    float64 // in USD
}

// RequestPricing holds input/output prices per 1M tokens
type RequestPricing struct {
	Input  float64
	Output float64
}

// usageTracker accumulates usage across concurrent calls.
type usageTracker struct {
	mu      sync.Mutex
	usage   Usage
	pricing RequestPricing
}

func (t *usageTracker) track(inputTokens, outputTokens int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.usage.InputTokens += int(inputTokens)
	t.usage.OutputTokens += int(outputTokens)
	t.usage.TotalCost += float64(inputTokens) / 1_000_000 * t.pricing.Input
	t.usage.TotalCost += float64(outputTokens) / 1_000_000 * t.pricing.Output
}

// GetUsage returns a copy of the accumulated usage.
func (t *usageTracker) GetUsage() Usage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.usage
}

// ResetUsage clears the accumulated usage.
func (t *usageTracker) ResetUsage() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.usage = Usage{}
}

// ParseReply splits a model reply into its Markdown part and the fields of its ```json
// block. Blank values are dropped, so a key the model could not read counts as absent.
// A reply without a JSON block yields type "Document inconnu" and a reply with an
// invalid block yields "Erreur parsing"; both keep the raw reply under "texte_brut".
func ParseReply(reply string) (string, record.RawFieldSet) {
	before, after, found := strings.Cut(reply, "```json")
	if !found {
		return reply, record.RawFieldSet{
			record.FieldTypeDocument: UnknownDocument,
			rawTextKey:               reply,
		}
	}

	markdown := strings.TrimSpace(before)
	jsonText, _, _ := strings.Cut(after, "```")

	var data map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(jsonText)), &data); err != nil {
		return markdown, record.RawFieldSet{
			record.FieldTypeDocument: ParseError,
			rawTextKey:               reply,
		}
	}
	fields := record.FromAny(data)
	maps.DeleteFunc(fields, func(_, v string) bool { return strings.TrimSpace(v) == "" })
	return markdown, fields
}

// recognition builds the result of a recognize call. The echo is always the uploaded
// image, not the resized copy sent to the model.
func recognition(reply string, original []byte) *record.Recognition {
	markdown, fields := ParseReply(reply)
	return &record.Recognition{
		Fields:      fields,
		ImageBase64: encodeBase64(original),
		Markdown:    markdown,
	}
}
