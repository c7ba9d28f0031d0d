package openai

import (
	"context"
	"strings"
	"time"

	"github.com/imroc/req/v3"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"claude-bridge/internal/config"
	"claude-bridge/internal/models"
	"claude-bridge/internal/providers"
)

// Client talks to a chat.completions backend. One instance is shared
// by all requests; per-request credentials arrive as arguments.
type Client struct {
	http    *req.Client
	stream  *req.Client
	baseURL string
	log     *zap.Logger
}

func NewClient(cfg *config.Config, log *zap.Logger) *Client {
	timeout := time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second

	httpClient := req.NewClient().
		SetTimeout(timeout).
		SetCommonHeaders(defaultHeaders)

	// Streaming responses are consumed incrementally, so body
	// auto-reading is disabled on a dedicated client.
	streamClient := req.NewClient().
		SetTimeout(timeout).
		SetCommonHeaders(defaultHeaders).
		DisableAutoReadResponse()

	return &Client{
		http:    httpClient,
		stream:  streamClient,
		baseURL: strings.TrimRight(cfg.Upstream.BaseURL, "/"),
		log:     log,
	}
}

// Complete performs a non-streaming chat completion.
func (c *Client) Complete(ctx context.Context, body *models.OpenAIChatRequest, apiKey string) (*models.OpenAIChatResponse, error) {
	var out models.OpenAIChatResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBearerAuthToken(apiKey).
		SetBody(body).
		SetSuccessResult(&out).
		Post(c.baseURL + chatCompletionsPath)
	if err != nil {
		return nil, err
	}
	if resp.IsErrorState() {
		return nil, upstreamError(resp.StatusCode, resp.String())
	}
	return &out, nil
}

// StreamComplete performs a streaming chat completion and returns the
// raw chunk stream. The caller owns the stream and must close it.
func (c *Client) StreamComplete(ctx context.Context, body *models.OpenAIChatRequest, apiKey string) (providers.ChunkStream, error) {
	resp, err := c.stream.R().
		SetContext(ctx).
		SetBearerAuthToken(apiKey).
		SetHeader("Accept", "text/event-stream").
		SetBody(body).
		Post(c.baseURL + chatCompletionsPath)
	if err != nil {
		return nil, err
	}
	if resp.IsErrorState() {
		defer resp.Body.Close()
		errBody, _ := resp.ToString()
		return nil, upstreamError(resp.StatusCode, errBody)
	}
	return newChunkStream(resp.Body), nil
}

// upstreamError extracts the backend's error message where it follows
// the {"error":{"message":...}} convention, falling back to the raw body.
func upstreamError(status int, body string) *providers.UpstreamError {
	msg := gjson.Get(body, "error.message").String()
	if msg == "" {
		msg = strings.TrimSpace(body)
	}
	if msg == "" {
		msg = "upstream request failed"
	}
	return &providers.UpstreamError{StatusCode: status, Message: msg}
}
