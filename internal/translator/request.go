package translator

import (
	"encoding/json"
	"strings"

	"claude-bridge/internal/models"
)

// BuildChatRequest translates a Messages API request into a
// chat.completions request. Sampling bounds are copied without
// re-validation; the backend owns range checks.
func BuildChatRequest(req *models.ClaudeMessagesRequest, mm ModelMap) (*models.OpenAIChatRequest, error) {
	if len(req.Messages) == 0 {
		return nil, NewValidationError("messages: at least one message is required")
	}
	if req.MaxTokens <= 0 {
		return nil, NewValidationError("max_tokens: must be a positive integer, got %d", req.MaxTokens)
	}

	out := &models.OpenAIChatRequest{
		Model:       mm.Resolve(req.Model),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.StopSequences,
		Stream:      req.Stream,
	}

	if req.System != "" {
		out.Messages = append(out.Messages, models.OpenAIMessage{Role: "system", Content: string(req.System)})
	}
	for _, msg := range req.Messages {
		out.Messages = append(out.Messages, expandMessage(msg)...)
	}

	for _, t := range req.Tools {
		out.Tools = append(out.Tools, models.OpenAITool{
			Type:     "function",
			Function: models.OpenAIFunction{Name: t.Name, Description: t.Description, Parameters: t.InputSchema},
		})
	}
	out.ToolChoice = translateToolChoice(req.ToolChoice)

	return out, nil
}

// expandMessage converts one Claude message into the upstream messages
// it implies: tool_result blocks split into one tool-role message per
// result, tool_use blocks fold into an assistant tool_calls list, and
// text-only content collapses to a plain-string message.
func expandMessage(msg models.ClaudeMessage) []models.OpenAIMessage {
	var (
		out       []models.OpenAIMessage
		parts     []models.OpenAIContentPart
		toolCalls []models.OpenAIToolCall
		textOnly  = true
	)

	for _, b := range msg.Content {
		switch b.Type {
		case "tool_result":
			out = append(out, toToolMessage(b))
		case "tool_use":
			toolCalls = append(toolCalls, toToolCall(b))
		default:
			if part, ok := toContentPart(b); ok {
				if part.Type != "text" {
					textOnly = false
				}
				parts = append(parts, part)
			}
		}
	}

	if len(toolCalls) > 0 {
		m := models.OpenAIMessage{Role: "assistant", ToolCalls: toolCalls}
		if text := joinTextParts(parts); text != "" {
			m.Content = text
		}
		return append(out, m)
	}
	if len(parts) == 0 {
		return out
	}

	m := models.OpenAIMessage{Role: msg.Role}
	if textOnly {
		m.Content = joinTextParts(parts)
	} else {
		m.Content = parts
	}
	return append(out, m)
}

func joinTextParts(parts []models.OpenAIContentPart) string {
	texts := make([]string, 0, len(parts))
	for _, p := range parts {
		if p.Type == "text" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// translateToolChoice maps the Messages API tool_choice directive onto
// its chat.completions equivalent: {"type":"auto"} becomes "auto",
// {"type":"any"} becomes "required" and {"type":"tool","name":N}
// becomes the function selector object. Unrecognized directives are
// dropped rather than rejected.
func translateToolChoice(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	var tc struct {
		Type string `json:"type"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw, &tc); err != nil {
		return nil
	}
	switch tc.Type {
	case "auto":
		return json.RawMessage(`"auto"`)
	case "any":
		return json.RawMessage(`"required"`)
	case "tool":
		out, _ := json.Marshal(map[string]any{
			"type":     "function",
			"function": map[string]string{"name": tc.Name},
		})
		return out
	}
	return nil
}
