package claude

import (
	"bufio"
	"context"
	"errors"
	"io"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"claude-bridge/internal/config"
	"claude-bridge/internal/models"
	"claude-bridge/internal/providers"
	"claude-bridge/internal/tokenizer"
	"claude-bridge/internal/translator"
)

type Handler struct {
	provider  providers.CompletionProvider
	cfg       *config.Config
	estimator *tokenizer.Estimator
	log       *zap.Logger
}

func NewHandler(provider providers.CompletionProvider, cfg *config.Config, estimator *tokenizer.Estimator, log *zap.Logger) *Handler {
	return &Handler{
		provider:  provider,
		cfg:       cfg,
		estimator: estimator,
		log:       log,
	}
}

func (h *Handler) modelMap() translator.ModelMap {
	return translator.ModelMap{Big: h.cfg.Models.Big, Small: h.cfg.Models.Small}
}

// HandleMessages handles the main chat endpoint
// @Summary Claude-compatible chat
// @Description Accepts requests in Anthropic Messages format and proxies them to the configured OpenAI-compatible backend
// @Tags Claude Compatible
// @Accept json
// @Produce json
// @Param request body models.ClaudeMessagesRequest true "Messages request"
// @Success 200 {object} models.ClaudeMessagesResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 401 {object} models.ErrorResponse
// @Failure 502 {object} models.ErrorResponse
// @Router /v1/messages [post]
func (h *Handler) HandleMessages(c *fiber.Ctx) error {
	apiKey, err := h.authorize(c)
	if err != nil {
		return unauthorized(c, err)
	}

	var req models.ClaudeMessagesRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid JSON body")
	}
	if limit := h.cfg.Models.MaxTokensLimit; req.MaxTokens > limit {
		req.MaxTokens = limit
	}

	upstreamReq, err := translator.BuildChatRequest(&req, h.modelMap())
	if err != nil {
		var verr *translator.ValidationError
		if errors.As(err, &verr) {
			return badRequest(c, verr.Message)
		}
		return badRequest(c, err.Error())
	}

	requestID := "msg_" + uuid.New().String()
	h.log.Info("processing request",
		zap.String("request_id", requestID),
		zap.String("model", req.Model),
		zap.String("backend_model", upstreamReq.Model),
		zap.Bool("stream", req.Stream),
		zap.Int("max_tokens", req.MaxTokens))

	if req.Stream {
		return h.streamMessages(c, &req, upstreamReq, apiKey, requestID)
	}

	resp, err := h.provider.Complete(c.Context(), upstreamReq, apiKey)
	if err != nil {
		return h.upstreamFailure(c, requestID, err)
	}

	inputFallback := h.estimator.CountRequest(req.System, req.Messages, req.Tools)
	out, err := translator.BuildMessagesResponse(resp, req.Model, h.estimator, inputFallback)
	if err != nil {
		h.log.Error("invalid upstream response", zap.String("request_id", requestID), zap.Error(err))
		return c.Status(fiber.StatusBadGateway).JSON(models.NewErrorResponse(models.ErrTypeAPI, err.Error()))
	}
	return c.JSON(out)
}

// streamMessages opens the upstream chunk stream first, so upstream
// failures still yield a proper error status, then hands the
// translated event sequence to the client as SSE.
func (h *Handler) streamMessages(c *fiber.Ctx, req *models.ClaudeMessagesRequest, upstreamReq *models.OpenAIChatRequest, apiKey, requestID string) error {
	stream, err := h.provider.StreamComplete(c.Context(), upstreamReq, apiKey)
	if err != nil {
		return h.upstreamFailure(c, requestID, err)
	}

	tr := translator.NewStreamTranslator(requestID, req.Model, h.estimator, h.log)
	tr.SetInputTokenFallback(h.estimator.CountRequest(req.System, req.Messages, req.Tools))

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set("Connection", "keep-alive")

	ctx := c.Context()
	ctx.SetBodyStreamWriter(func(w *bufio.Writer) {
		defer stream.Close()
		h.runStream(ctx, w, tr, stream)
	})
	return nil
}

// runStream pumps upstream chunks through the translator, flushing each
// event before the next chunk is read. A client disconnect stops
// upstream consumption promptly.
func (h *Handler) runStream(ctx context.Context, w *bufio.Writer, tr *translator.StreamTranslator, stream providers.ChunkStream) {
	sentPing := false
	for {
		if ctx.Err() != nil {
			return
		}
		chunk, err := stream.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				h.log.Warn("upstream stream ended abnormally", zap.Error(err))
			}
			writeEvents(w, h.log, tr.Finish())
			return
		}

		events, feedErr := tr.Feed(chunk)
		if !sentPing && len(events) > 0 {
			// The first batch opens with message_start; the ping goes
			// out right behind it, before any block events.
			if !writeEvent(w, h.log, events[0]) {
				return
			}
			if !writeEvent(w, h.log, models.ClaudeStreamEvent{Type: "ping"}) {
				return
			}
			sentPing = true
			events = events[1:]
		}
		if !writeEvents(w, h.log, events) {
			return
		}
		if feedErr != nil {
			h.log.Error("aborting stream", zap.Error(feedErr))
			return
		}
	}
}

// HandleCountTokens handles token counting
// @Summary Count tokens
// @Description Estimates the input token count for a Messages request
// @Tags Claude Compatible
// @Accept json
// @Produce json
// @Param request body models.ClaudeTokenCountRequest true "Token count request"
// @Success 200 {object} models.ClaudeTokenCountResponse
// @Failure 400 {object} models.ErrorResponse
// @Router /v1/messages/count_tokens [post]
func (h *Handler) HandleCountTokens(c *fiber.Ctx) error {
	if _, err := h.authorize(c); err != nil {
		return unauthorized(c, err)
	}

	var req models.ClaudeTokenCountRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid JSON body")
	}
	if len(req.Messages) == 0 {
		return badRequest(c, "messages: at least one message is required")
	}

	return c.JSON(models.ClaudeTokenCountResponse{
		InputTokens: h.estimator.CountRequest(req.System, req.Messages, req.Tools),
	})
}

// HandleTestConnection fires a tiny completion at the backend
// @Summary Test backend connectivity
// @Description Sends a minimal completion to the configured backend and reports the outcome
// @Tags Service
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 503 {object} map[string]interface{}
// @Router /test-connection [get]
func (h *Handler) HandleTestConnection(c *fiber.Ctx) error {
	probe := &models.ClaudeMessagesRequest{
		Model:     "claude-3-5-haiku-20241022",
		MaxTokens: 5,
		Messages: []models.ClaudeMessage{
			{Role: "user", Content: models.MessageContent{{Type: "text", Text: "Hello"}}},
		},
	}
	upstreamReq, err := translator.BuildChatRequest(probe, h.modelMap())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(models.NewErrorResponse(models.ErrTypeAPI, err.Error()))
	}

	apiKey := h.cfg.Upstream.APIKey
	if apiKey == "" {
		apiKey = extractAPIKey(c)
	}

	if _, err := h.provider.Complete(c.Context(), upstreamReq, apiKey); err != nil {
		h.log.Error("connection test failed", zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status":    "failed",
			"error":     err.Error(),
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"suggestions": []string{
				"Check your OPENAI_API_KEY is valid",
				"Verify API key permissions",
				"Check rate limits and quotas",
			},
		})
	}

	return c.JSON(fiber.Map{
		"status":     "success",
		"message":    "Successfully connected to target API",
		"model_used": h.cfg.Models.Small,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) upstreamFailure(c *fiber.Ctx, requestID string, err error) error {
	var uerr *providers.UpstreamError
	if errors.As(err, &uerr) {
		status := uerr.StatusCode
		if status < 400 || status > 599 {
			status = fiber.StatusBadGateway
		}
		h.log.Error("upstream error",
			zap.String("request_id", requestID),
			zap.Int("status", uerr.StatusCode),
			zap.String("message", uerr.Message))
		return c.Status(status).JSON(models.NewErrorResponse(models.ErrTypeAPI, uerr.Message))
	}
	h.log.Error("upstream request failed", zap.String("request_id", requestID), zap.Error(err))
	return c.Status(fiber.StatusBadGateway).JSON(models.NewErrorResponse(models.ErrTypeAPI, "upstream request failed"))
}

func badRequest(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(models.NewErrorResponse(models.ErrTypeInvalidRequest, message))
}
