package translator

import (
	"fmt"

	"claude-bridge/internal/models"

	"github.com/google/uuid"
)

// TokenCounter approximates a token count for a span of text. Used
// whenever the backend omits exact usage numbers.
type TokenCounter interface {
	Count(text string) int
}

var stopReasonByFinish = map[string]string{
	"stop":           "end_turn",
	"length":         "max_tokens",
	"tool_calls":     "tool_use",
	"function_call":  "tool_use",
	"content_filter": "stop_sequence",
}

// mapFinishReason maps a backend finish_reason onto a Messages API
// stop_reason. Unknown reasons degrade to end_turn so clients never see
// a foreign enum value.
func mapFinishReason(reason string) string {
	if mapped, ok := stopReasonByFinish[reason]; ok {
		return mapped
	}
	return "end_turn"
}

// BuildMessagesResponse translates a complete chat.completions response
// into a Messages API response. Text blocks always precede tool_use
// blocks, which falls out of the upstream payload shape (content string
// plus tool_calls array) and matches what Messages API clients expect.
// fallbackInput seeds input_tokens when the backend omits usage.
func BuildMessagesResponse(resp *models.OpenAIChatResponse, requestedModel string, counter TokenCounter, fallbackInput int) (*models.ClaudeMessagesResponse, error) {
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("upstream response has no choices")
	}
	choice := resp.Choices[0]

	var content []models.ContentBlock
	if choice.Message.Content != "" {
		content = append(content, models.ContentBlock{Type: "text", Text: choice.Message.Content})
	}
	for _, tc := range choice.Message.ToolCalls {
		content = append(content, fromToolCall(tc))
	}

	usage := models.ClaudeUsage{}
	if resp.Usage != nil {
		usage.InputTokens = resp.Usage.PromptTokens
		usage.OutputTokens = resp.Usage.CompletionTokens
	} else {
		usage.InputTokens = fallbackInput
		out := counter.Count(choice.Message.Content)
		for _, tc := range choice.Message.ToolCalls {
			out += counter.Count(tc.Function.Arguments)
		}
		usage.OutputTokens = out
	}

	id := resp.ID
	if id == "" {
		id = "msg_" + uuid.New().String()
	}

	return &models.ClaudeMessagesResponse{
		ID:         id,
		Type:       "message",
		Role:       "assistant",
		Model:      requestedModel,
		Content:    content,
		StopReason: mapFinishReason(choice.FinishReason),
		Usage:      usage,
	}, nil
}
