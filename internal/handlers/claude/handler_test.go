package claude

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"claude-bridge/internal/config"
	"claude-bridge/internal/models"
	"claude-bridge/internal/providers"
	"claude-bridge/internal/tokenizer"
)

type fakeProvider struct {
	lastRequest *models.OpenAIChatRequest
	lastAPIKey  string

	response *models.OpenAIChatResponse
	chunks   []string
	err      error
}

func (f *fakeProvider) Complete(ctx context.Context, req *models.OpenAIChatRequest, apiKey string) (*models.OpenAIChatResponse, error) {
	f.lastRequest = req
	f.lastAPIKey = apiKey
	if f.err != nil {
		return nil, f.err
	}
	return f.response, nil
}

func (f *fakeProvider) StreamComplete(ctx context.Context, req *models.OpenAIChatRequest, apiKey string) (providers.ChunkStream, error) {
	f.lastRequest = req
	f.lastAPIKey = apiKey
	if f.err != nil {
		return nil, f.err
	}
	return &sliceStream{chunks: f.chunks}, nil
}

type sliceStream struct {
	chunks []string
	pos    int
}

func (s *sliceStream) Next() ([]byte, error) {
	if s.pos >= len(s.chunks) {
		return nil, io.EOF
	}
	chunk := s.chunks[s.pos]
	s.pos++
	return []byte(chunk), nil
}

func (s *sliceStream) Close() error { return nil }

func testConfig() *config.Config {
	return &config.Config{
		Server:   config.ServerConfig{Port: "8085"},
		Upstream: config.UpstreamConfig{APIKey: "sk-upstream", BaseURL: "http://backend", TimeoutSeconds: 5},
		Models:   config.ModelsConfig{Big: "gpt-4o", Small: "gpt-4o-mini", MaxTokensLimit: 4096},
	}
}

func newTestApp(provider providers.CompletionProvider, cfg *config.Config) *fiber.App {
	h := NewHandler(provider, cfg, tokenizer.New(), zap.NewNop())
	app := fiber.New()
	app.Post("/v1/messages", h.HandleMessages)
	app.Post("/v1/messages/count_tokens", h.HandleCountTokens)
	app.Get("/test-connection", h.HandleTestConnection)
	return app
}

func postJSON(t *testing.T, app *fiber.App, path, body string, headers map[string]string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("Failed to decode body: %v", err)
	}
	return out
}

func TestHandleMessagesNonStreaming(t *testing.T) {
	fp := &fakeProvider{
		response: &models.OpenAIChatResponse{
			ID: "chatcmpl-1",
			Choices: []models.OpenAIChoice{
				{
					Message:      models.OpenAIResponseMessage{Role: "assistant", Content: "Hi!"},
					FinishReason: "stop",
				},
			},
			Usage: &models.OpenAIUsage{PromptTokens: 5, CompletionTokens: 2},
		},
	}
	app := newTestApp(fp, testConfig())

	resp := postJSON(t, app, "/v1/messages", `{
		"model": "claude-3-opus-20240229",
		"max_tokens": 100,
		"messages": [{"role":"user","content":"Hello"}]
	}`, nil)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	out := decodeBody[models.ClaudeMessagesResponse](t, resp)
	if out.Type != "message" || out.Role != "assistant" {
		t.Errorf("Envelope wrong: %+v", out)
	}
	if out.Model != "claude-3-opus-20240229" {
		t.Errorf("Requested model must be echoed, got %q", out.Model)
	}
	if len(out.Content) != 1 || out.Content[0].Text != "Hi!" {
		t.Errorf("Content wrong: %+v", out.Content)
	}
	if out.StopReason != "end_turn" || out.Usage.InputTokens != 5 {
		t.Errorf("stop_reason/usage wrong: %q %+v", out.StopReason, out.Usage)
	}

	if fp.lastRequest.Model != "gpt-4o" {
		t.Errorf("Upstream must see the mapped model, got %q", fp.lastRequest.Model)
	}
	if fp.lastAPIKey != "sk-upstream" {
		t.Errorf("Fixed-key mode must use the configured key, got %q", fp.lastAPIKey)
	}
}

func TestHandleMessagesBadRequests(t *testing.T) {
	app := newTestApp(&fakeProvider{}, testConfig())

	resp := postJSON(t, app, "/v1/messages", `{not json`, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Malformed JSON: expected 400, got %d", resp.StatusCode)
	}
	errBody := decodeBody[models.ErrorResponse](t, resp)
	if errBody.Type != "error" || errBody.Error.Type != models.ErrTypeInvalidRequest {
		t.Errorf("Error body wrong: %+v", errBody)
	}

	resp = postJSON(t, app, "/v1/messages", `{"model":"m","max_tokens":10,"messages":[]}`, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Empty messages: expected 400, got %d", resp.StatusCode)
	}

	resp = postJSON(t, app, "/v1/messages", `{"model":"m","messages":[{"role":"user","content":"hi"}]}`, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Missing max_tokens: expected 400, got %d", resp.StatusCode)
	}
}

func TestHandleMessagesMaxTokensClamp(t *testing.T) {
	fp := &fakeProvider{
		response: &models.OpenAIChatResponse{
			Choices: []models.OpenAIChoice{{Message: models.OpenAIResponseMessage{Content: "ok"}, FinishReason: "stop"}},
		},
	}
	app := newTestApp(fp, testConfig())

	resp := postJSON(t, app, "/v1/messages", `{
		"model": "m",
		"max_tokens": 999999,
		"messages": [{"role":"user","content":"hi"}]
	}`, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	if fp.lastRequest.MaxTokens != 4096 {
		t.Errorf("max_tokens must clamp to the configured limit, got %d", fp.lastRequest.MaxTokens)
	}
}

func TestAuthFixedKeyWithValidation(t *testing.T) {
	cfg := testConfig()
	cfg.Server.AuthKey = "proxy-secret"
	fp := &fakeProvider{
		response: &models.OpenAIChatResponse{
			Choices: []models.OpenAIChoice{{Message: models.OpenAIResponseMessage{Content: "ok"}, FinishReason: "stop"}},
		},
	}
	app := newTestApp(fp, cfg)

	body := `{"model":"m","max_tokens":10,"messages":[{"role":"user","content":"hi"}]}`

	resp := postJSON(t, app, "/v1/messages", body, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Missing credential: expected 401, got %d", resp.StatusCode)
	}
	errBody := decodeBody[models.ErrorResponse](t, resp)
	if errBody.Error.Type != models.ErrTypeAuthentication {
		t.Errorf("Expected authentication_error, got %q", errBody.Error.Type)
	}

	resp = postJSON(t, app, "/v1/messages", body, map[string]string{"x-api-key": "wrong"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Wrong credential: expected 401, got %d", resp.StatusCode)
	}

	resp = postJSON(t, app, "/v1/messages", body, map[string]string{"x-api-key": "proxy-secret"})
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Valid credential: expected 200, got %d", resp.StatusCode)
	}
	if fp.lastAPIKey != "sk-upstream" {
		t.Errorf("Upstream key must replace the client credential, got %q", fp.lastAPIKey)
	}
}

func TestAuthPassthrough(t *testing.T) {
	cfg := testConfig()
	cfg.Upstream.APIKey = ""
	fp := &fakeProvider{
		response: &models.OpenAIChatResponse{
			Choices: []models.OpenAIChoice{{Message: models.OpenAIResponseMessage{Content: "ok"}, FinishReason: "stop"}},
		},
	}
	app := newTestApp(fp, cfg)

	body := `{"model":"m","max_tokens":10,"messages":[{"role":"user","content":"hi"}]}`

	resp := postJSON(t, app, "/v1/messages", body, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Passthrough without credential: expected 401, got %d", resp.StatusCode)
	}

	resp = postJSON(t, app, "/v1/messages", body, map[string]string{"Authorization": "Bearer sk-client"})
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Passthrough with Bearer: expected 200, got %d", resp.StatusCode)
	}
	if fp.lastAPIKey != "sk-client" {
		t.Errorf("Client credential must be forwarded, got %q", fp.lastAPIKey)
	}
}

func TestHandleMessagesUpstreamError(t *testing.T) {
	fp := &fakeProvider{err: &providers.UpstreamError{StatusCode: 429, Message: "rate limited"}}
	app := newTestApp(fp, testConfig())

	resp := postJSON(t, app, "/v1/messages", `{"model":"m","max_tokens":10,"messages":[{"role":"user","content":"hi"}]}`, nil)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("Upstream status must be preserved, got %d", resp.StatusCode)
	}
	errBody := decodeBody[models.ErrorResponse](t, resp)
	if errBody.Error.Type != models.ErrTypeAPI || errBody.Error.Message != "rate limited" {
		t.Errorf("Error body wrong: %+v", errBody)
	}
}

func TestHandleMessagesStreaming(t *testing.T) {
	fp := &fakeProvider{
		chunks: []string{
			`{"choices":[{"delta":{"role":"assistant"},"finish_reason":null}]}`,
			`{"choices":[{"delta":{"content":"He"},"finish_reason":null}]}`,
			`{"choices":[{"delta":{"content":"llo"},"finish_reason":null}]}`,
			`{"choices":[{"delta":{},"finish_reason":"stop"}],"usage":{"prompt_tokens":4,"completion_tokens":2}}`,
		},
	}
	app := newTestApp(fp, testConfig())

	resp := postJSON(t, app, "/v1/messages", `{
		"model": "claude-sonnet-4",
		"max_tokens": 50,
		"stream": true,
		"messages": [{"role":"user","content":"Hello"}]
	}`, nil)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Errorf("Expected SSE content type, got %q", ct)
	}

	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read stream: %v", err)
	}

	var types []string
	var texts []string
	for _, line := range strings.Split(string(raw), "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev models.ClaudeStreamEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			t.Fatalf("Bad event payload %q: %v", line, err)
		}
		types = append(types, ev.Type)
		if ev.Delta != nil && ev.Delta.Text != "" {
			texts = append(texts, ev.Delta.Text)
		}
	}

	want := []string{
		"message_start",
		"ping",
		"content_block_start",
		"content_block_delta",
		"content_block_delta",
		"content_block_stop",
		"message_delta",
		"message_stop",
	}
	if len(types) != len(want) {
		t.Fatalf("Expected events %v, got %v", want, types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("Event %d: expected %q, got %q (full %v)", i, want[i], types[i], types)
		}
	}
	if strings.Join(texts, "") != "Hello" {
		t.Errorf("Concatenated text deltas must equal the full text, got %q", strings.Join(texts, ""))
	}
}

func TestHandleMessagesStreamingSingleChunkCompletion(t *testing.T) {
	fp := &fakeProvider{
		chunks: []string{
			`{"choices":[{"delta":{"content":"hi"},"finish_reason":"stop"}]}`,
		},
	}
	app := newTestApp(fp, testConfig())

	resp := postJSON(t, app, "/v1/messages", `{
		"model": "m", "max_tokens": 10, "stream": true,
		"messages": [{"role":"user","content":"hi"}]
	}`, nil)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}

	var types []string
	for _, line := range strings.Split(string(raw), "\n") {
		if strings.HasPrefix(line, "event: ") {
			types = append(types, strings.TrimPrefix(line, "event: "))
		}
	}

	want := []string{
		"message_start",
		"ping",
		"content_block_start",
		"content_block_delta",
		"content_block_stop",
		"message_delta",
		"message_stop",
	}
	if len(types) != len(want) {
		t.Fatalf("Expected events %v, got %v", want, types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("Event %d: expected %q, got %q (full %v)", i, want[i], types[i], types)
		}
	}
	if types[len(types)-1] != "message_stop" {
		t.Error("Stream must end with message_stop")
	}
}

func TestHandleMessagesStreamingEventFraming(t *testing.T) {
	fp := &fakeProvider{
		chunks: []string{
			`{"choices":[{"delta":{"content":"x"},"finish_reason":null}]}`,
			`{"choices":[{"delta":{},"finish_reason":"stop"}]}`,
		},
	}
	app := newTestApp(fp, testConfig())

	resp := postJSON(t, app, "/v1/messages", `{
		"model": "m", "max_tokens": 10, "stream": true,
		"messages": [{"role":"user","content":"hi"}]
	}`, nil)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}

	// Every data line must be preceded by its matching event line.
	lines := strings.Split(string(raw), "\n")
	for i, line := range lines {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		if i == 0 || !strings.HasPrefix(lines[i-1], "event: ") {
			t.Fatalf("data line %d has no event line before it", i)
		}
		var ev models.ClaudeStreamEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			t.Fatal(err)
		}
		if lines[i-1] != "event: "+ev.Type {
			t.Errorf("Event name %q does not match payload type %q", lines[i-1], ev.Type)
		}
	}
}

func TestHandleMessagesStreamingUpstreamError(t *testing.T) {
	fp := &fakeProvider{err: &providers.UpstreamError{StatusCode: 401, Message: "bad key"}}
	app := newTestApp(fp, testConfig())

	resp := postJSON(t, app, "/v1/messages", `{
		"model": "m", "max_tokens": 10, "stream": true,
		"messages": [{"role":"user","content":"hi"}]
	}`, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Pre-stream upstream failure must keep its status, got %d", resp.StatusCode)
	}
}

func TestHandleCountTokens(t *testing.T) {
	app := newTestApp(&fakeProvider{}, testConfig())

	resp := postJSON(t, app, "/v1/messages/count_tokens", `{
		"model": "claude-3-5-haiku-20241022",
		"messages": [{"role":"user","content":"How many tokens is this?"}]
	}`, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	out := decodeBody[models.ClaudeTokenCountResponse](t, resp)
	if out.InputTokens < 1 {
		t.Errorf("Expected a positive estimate, got %d", out.InputTokens)
	}

	resp = postJSON(t, app, "/v1/messages/count_tokens", `{"model":"m","messages":[]}`, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Empty messages: expected 400, got %d", resp.StatusCode)
	}
}

func TestHandleTestConnection(t *testing.T) {
	fp := &fakeProvider{
		response: &models.OpenAIChatResponse{
			Choices: []models.OpenAIChoice{{Message: models.OpenAIResponseMessage{Content: "Hi"}, FinishReason: "stop"}},
		},
	}
	app := newTestApp(fp, testConfig())

	req := httptest.NewRequest(http.MethodGet, "/test-connection", nil)
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	if fp.lastRequest.Model != "gpt-4o-mini" {
		t.Errorf("Probe must use the small tier, got %q", fp.lastRequest.Model)
	}

	fp.err = &providers.UpstreamError{StatusCode: 500, Message: "down"}
	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/test-connection", nil), -1)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Backend failure: expected 503, got %d", resp.StatusCode)
	}
}
