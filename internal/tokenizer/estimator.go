package tokenizer

import (
	"sync"

	"github.com/tiktoken-go/tokenizer"

	"claude-bridge/internal/models"
)

// Estimator approximates token counts. It encodes with the o200k_base
// BPE when available and falls back to the chars/4 heuristic, so every
// number it produces is an approximation: deterministic for identical
// input and monotonic in input length.
type Estimator struct {
	once  sync.Once
	codec tokenizer.Codec
}

// New builds an Estimator. The BPE codec is loaded lazily on first use.
func New() *Estimator {
	return &Estimator{}
}

func (e *Estimator) getCodec() tokenizer.Codec {
	e.once.Do(func() {
		codec, err := tokenizer.Get(tokenizer.O200kBase)
		if err == nil {
			e.codec = codec
		}
	})
	return e.codec
}

// Count returns the approximate token count of text.
func (e *Estimator) Count(text string) int {
	if text == "" {
		return 0
	}
	if codec := e.getCodec(); codec != nil {
		if n, err := codec.Count(text); err == nil {
			return n
		}
	}
	n := len(text) / 4
	if n == 0 {
		n = 1
	}
	return n
}

// CountRequest approximates the input token count of a request body:
// system prompt, every content block and the tool schemas. Never less
// than one.
func (e *Estimator) CountRequest(system models.SystemPrompt, messages []models.ClaudeMessage, tools []models.ClaudeTool) int {
	total := e.Count(string(system))
	for _, m := range messages {
		for _, b := range m.Content {
			switch b.Type {
			case "text":
				total += e.Count(b.Text)
			case "tool_use":
				total += e.Count(string(b.Input))
			case "tool_result":
				total += e.Count(string(b.Content))
			}
		}
	}
	for _, t := range tools {
		total += e.Count(t.Name)
		total += e.Count(t.Description)
		total += e.Count(string(t.InputSchema))
	}
	if total < 1 {
		total = 1
	}
	return total
}
