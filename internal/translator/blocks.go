package translator

import (
	"encoding/json"
	"fmt"
	"strings"

	"claude-bridge/internal/models"
)

// toolResultErrorPrefix marks errored tool results on the way upstream.
// The chat.completions tool message has no native error flag, so the
// is_error bit is folded into the content string.
const toolResultErrorPrefix = "Error: "

// toContentPart converts a text or image block into an upstream content
// part. Blocks of other kinds return ok=false.
func toContentPart(b models.ContentBlock) (models.OpenAIContentPart, bool) {
	switch b.Type {
	case "text":
		return models.OpenAIContentPart{Type: "text", Text: b.Text}, true
	case "image":
		if b.Source == nil {
			return models.OpenAIContentPart{}, false
		}
		url := b.Source.URL
		if b.Source.Type == "base64" {
			mediaType := b.Source.MediaType
			if mediaType == "" {
				mediaType = "image/jpeg"
			}
			url = fmt.Sprintf("data:%s;base64,%s", mediaType, b.Source.Data)
		}
		return models.OpenAIContentPart{Type: "image_url", ImageURL: &models.OpenAIImageURL{URL: url}}, true
	}
	return models.OpenAIContentPart{}, false
}

// toToolCall converts a tool_use block into an upstream tool call. The
// structured input becomes a string-encoded JSON blob.
func toToolCall(b models.ContentBlock) models.OpenAIToolCall {
	args := "{}"
	if len(b.Input) > 0 && json.Valid(b.Input) {
		args = string(b.Input)
	}
	return models.OpenAIToolCall{
		ID:       b.ID,
		Type:     "function",
		Function: models.OpenAIFunctionCall{Name: b.Name, Arguments: args},
	}
}

// toToolMessage converts a tool_result block into a tool-role message.
func toToolMessage(b models.ContentBlock) models.OpenAIMessage {
	content := stringifyToolResult(b.Content)
	if b.IsError {
		content = toolResultErrorPrefix + content
	}
	return models.OpenAIMessage{Role: "tool", ToolCallID: b.ToolUseID, Content: content}
}

// stringifyToolResult flattens tool_result content to the plain string
// the upstream tool message requires. String content is used verbatim,
// text-block arrays are joined, anything else stays serialized JSON.
func stringifyToolResult(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []models.ContentBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		parts := make([]string, 0, len(blocks))
		for _, b := range blocks {
			if b.Type == "text" {
				parts = append(parts, b.Text)
			}
		}
		return strings.Join(parts, "\n")
	}
	return string(raw)
}

// fromToolCall converts an upstream tool call into a tool_use block.
// Argument strings that do not parse as JSON degrade to an empty input
// object instead of failing the whole response.
func fromToolCall(tc models.OpenAIToolCall) models.ContentBlock {
	input := json.RawMessage(`{}`)
	if tc.Function.Arguments != "" && json.Valid([]byte(tc.Function.Arguments)) {
		input = json.RawMessage(tc.Function.Arguments)
	}
	return models.ContentBlock{Type: "tool_use", ID: tc.ID, Name: tc.Function.Name, Input: input}
}
