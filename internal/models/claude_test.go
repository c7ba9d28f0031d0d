package models

import (
	"encoding/json"
	"testing"
)

func TestMessageContentUnmarshalString(t *testing.T) {
	var m ClaudeMessage
	if err := json.Unmarshal([]byte(`{"role":"user","content":"plain text"}`), &m); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if len(m.Content) != 1 || m.Content[0].Type != "text" || m.Content[0].Text != "plain text" {
		t.Errorf("Bare string must decode to one text block, got %+v", m.Content)
	}
}

func TestMessageContentUnmarshalBlocks(t *testing.T) {
	payload := `{"role":"user","content":[
		{"type":"text","text":"look at this"},
		{"type":"image","source":{"type":"base64","media_type":"image/png","data":"AAAA"}},
		{"type":"tool_result","tool_use_id":"toolu_1","content":"done","is_error":true}
	]}`
	var m ClaudeMessage
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if len(m.Content) != 3 {
		t.Fatalf("Expected 3 blocks, got %d", len(m.Content))
	}
	img := m.Content[1]
	if img.Source == nil || img.Source.MediaType != "image/png" {
		t.Errorf("Image source wrong: %+v", img.Source)
	}
	tr := m.Content[2]
	if tr.ToolUseID != "toolu_1" || !tr.IsError {
		t.Errorf("tool_result block wrong: %+v", tr)
	}
}

func TestMessageContentUnmarshalRejectsOther(t *testing.T) {
	var m ClaudeMessage
	if err := json.Unmarshal([]byte(`{"role":"user","content":42}`), &m); err == nil {
		t.Error("Numeric content must be rejected")
	}
}

func TestSystemPromptUnmarshal(t *testing.T) {
	var s SystemPrompt
	if err := json.Unmarshal([]byte(`"be brief"`), &s); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if s != "be brief" {
		t.Errorf("Got %q", s)
	}

	if err := json.Unmarshal([]byte(`[{"type":"text","text":"one"},{"type":"text","text":"two"}]`), &s); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if s != "one\ntwo" {
		t.Errorf("Block list must flatten newline-joined, got %q", s)
	}
}

func TestStreamEventOmitsAbsentFields(t *testing.T) {
	body, err := json.Marshal(ClaudeStreamEvent{Type: "message_stop"})
	if err != nil {
		t.Fatal(err)
	}
	if string(body) != `{"type":"message_stop"}` {
		t.Errorf("Absent fields must be omitted, got %s", body)
	}
}

func TestTextStartBlockSerialization(t *testing.T) {
	body, err := json.Marshal(NewTextStartBlock())
	if err != nil {
		t.Fatal(err)
	}
	if string(body) != `{"type":"text","text":""}` {
		t.Errorf("Text start block must carry an explicit empty text, got %s", body)
	}

	body, err = json.Marshal(NewToolUseStartBlock("toolu_1", "f"))
	if err != nil {
		t.Fatal(err)
	}
	if string(body) != `{"type":"tool_use","id":"toolu_1","name":"f","input":{}}` {
		t.Errorf("Tool start block wrong: %s", body)
	}
}
