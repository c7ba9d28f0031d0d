package main

import (
	"claude-bridge/internal/config"
	claudeHandlers "claude-bridge/internal/handlers/claude"
	"claude-bridge/internal/providers"
	"claude-bridge/internal/providers/openai"
	"claude-bridge/internal/server"
	"claude-bridge/internal/tokenizer"
	"claude-bridge/pkg/logger"

	_ "claude-bridge/cmd/swag/docs"

	"go.uber.org/fx"
)

// @title Claude Bridge API
// @version 0.1.0
// @description HTTP gateway that accepts Anthropic Messages API requests and serves them from an OpenAI-compatible Chat Completions backend, including streaming translation.
// @host localhost:8085
// @BasePath /
func main() {
	fx.New(
		fx.Provide(
			config.New,
			logger.New,
			tokenizer.New,
			openai.NewClient,
			func(c *openai.Client) providers.CompletionProvider { return c },
			claudeHandlers.NewHandler,
		),
		fx.Invoke(
			server.New,
		),
		fx.NopLogger,
	).Run()
}
