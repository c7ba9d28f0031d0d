package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ContentBlock is a single unit of message content. Exactly one variant
// is active, discriminated by Type: "text", "image", "tool_use" or
// "tool_result".
type ContentBlock struct {
	Type string `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// image
	Source *ImageSource `json:"source,omitempty"`

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

// ImageSource describes where image bytes come from.
type ImageSource struct {
	Type      string `json:"type"` // "base64" or "url"
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

// MessageContent accepts both wire shapes of message content: a bare
// string or an array of content blocks. A bare string decodes to a
// single text block, so downstream code only ever sees blocks.
type MessageContent []ContentBlock

func (m *MessageContent) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*m = MessageContent{{Type: "text", Text: s}}
		return nil
	}
	var blocks []ContentBlock
	if err := json.Unmarshal(data, &blocks); err != nil {
		return fmt.Errorf("content must be a string or an array of blocks: %w", err)
	}
	*m = blocks
	return nil
}

// ClaudeMessage is one turn of the conversation.
type ClaudeMessage struct {
	Role    string         `json:"role"`
	Content MessageContent `json:"content"`
}

// SystemPrompt accepts a string or an array of text blocks, flattened
// to one newline-joined string either way.
type SystemPrompt string

func (s *SystemPrompt) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		*s = SystemPrompt(str)
		return nil
	}
	var blocks []ContentBlock
	if err := json.Unmarshal(data, &blocks); err != nil {
		return fmt.Errorf("system must be a string or an array of text blocks: %w", err)
	}
	parts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		if b.Type == "text" && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	*s = SystemPrompt(strings.Join(parts, "\n"))
	return nil
}

// ClaudeTool is a tool definition with a JSON-schema parameter object.
type ClaudeTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// ClaudeMessagesRequest is the /v1/messages request body.
type ClaudeMessagesRequest struct {
	Model         string          `json:"model"`
	MaxTokens     int             `json:"max_tokens"`
	Messages      []ClaudeMessage `json:"messages"`
	System        SystemPrompt    `json:"system,omitempty"`
	Temperature   *float64        `json:"temperature,omitempty"`
	TopP          *float64        `json:"top_p,omitempty"`
	TopK          *int            `json:"top_k,omitempty"`
	Stream        bool            `json:"stream,omitempty"`
	StopSequences []string        `json:"stop_sequences,omitempty"`
	Tools         []ClaudeTool    `json:"tools,omitempty"`
	ToolChoice    json.RawMessage `json:"tool_choice,omitempty"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
}

// ClaudeUsage carries token accounting for one response.
type ClaudeUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ClaudeMessagesResponse is the non-streaming /v1/messages response body.
type ClaudeMessagesResponse struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"` // "message"
	Role         string         `json:"role"` // "assistant"
	Model        string         `json:"model"`
	Content      []ContentBlock `json:"content"`
	StopReason   string         `json:"stop_reason,omitempty"`
	StopSequence *string        `json:"stop_sequence"`
	Usage        ClaudeUsage    `json:"usage"`
}

// ClaudeTokenCountRequest is the /v1/messages/count_tokens request body.
type ClaudeTokenCountRequest struct {
	Model    string          `json:"model"`
	System   SystemPrompt    `json:"system,omitempty"`
	Messages []ClaudeMessage `json:"messages"`
	Tools    []ClaudeTool    `json:"tools,omitempty"`
}

// ClaudeTokenCountResponse is the /v1/messages/count_tokens response body.
type ClaudeTokenCountResponse struct {
	InputTokens int `json:"input_tokens"`
}

// StreamContentBlock is the block snapshot carried by content_block_start.
// Text blocks open with an explicit empty text field and tool_use blocks
// with an empty input object, matching what clients expect to merge into.
type StreamContentBlock struct {
	Type  string          `json:"type"`
	Text  *string         `json:"text,omitempty"`
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

// NewTextStartBlock returns the content_block_start payload for a text block.
func NewTextStartBlock() *StreamContentBlock {
	empty := ""
	return &StreamContentBlock{Type: "text", Text: &empty}
}

// NewToolUseStartBlock returns the content_block_start payload for a
// tool_use block with id and name fixed at open time.
func NewToolUseStartBlock(id, name string) *StreamContentBlock {
	return &StreamContentBlock{Type: "tool_use", ID: id, Name: name, Input: json.RawMessage(`{}`)}
}

// StreamDelta is the delta payload of content_block_delta and
// message_delta events.
type StreamDelta struct {
	Type         string  `json:"type,omitempty"`
	Text         string  `json:"text,omitempty"`
	PartialJSON  string  `json:"partial_json,omitempty"`
	StopReason   string  `json:"stop_reason,omitempty"`
	StopSequence *string `json:"stop_sequence,omitempty"`
}

// ClaudeStreamEvent is one event of the streaming envelope. Type is one
// of message_start, ping, content_block_start, content_block_delta,
// content_block_stop, message_delta, message_stop.
type ClaudeStreamEvent struct {
	Type         string                  `json:"type"`
	Message      *ClaudeMessagesResponse `json:"message,omitempty"`
	Index        *int                    `json:"index,omitempty"`
	ContentBlock *StreamContentBlock     `json:"content_block,omitempty"`
	Delta        *StreamDelta            `json:"delta,omitempty"`
	Usage        *ClaudeUsage            `json:"usage,omitempty"`
}
