package server

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	fiberSwagger "github.com/swaggo/fiber-swagger"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"claude-bridge/internal/config"
	claudeHandlers "claude-bridge/internal/handlers/claude"
	"claude-bridge/pkg/logger"
)

const version = "0.1.0"

type Server struct {
	app           *fiber.App
	claudeHandler *claudeHandlers.Handler
	cfg           *config.Config
	log           *zap.Logger
}

func New(lc fx.Lifecycle, claudeHandler *claudeHandlers.Handler, cfg *config.Config, log *zap.Logger) (*Server, error) {
	app := fiber.New(fiber.Config{
		AppName: "Claude Bridge",
	})

	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Requested-With, x-api-key, anthropic-version",
		AllowMethods: "GET, POST, OPTIONS",
	}))

	app.Use(logger.NewMiddleware(log))
	app.Use(recover.New())

	server := &Server{
		app:           app,
		claudeHandler: claudeHandler,
		cfg:           cfg,
		log:           log,
	}

	server.registerRoutes()

	if cfg.AuthKeyIgnored {
		log.Warn("AUTH_KEY is ignored in passthrough mode; set OPENAI_API_KEY to enable client validation")
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("claude-bridge starting",
				zap.String("addr", ":"+cfg.Server.Port),
				zap.String("target", cfg.Upstream.BaseURL),
				zap.String("big_model", cfg.Models.Big),
				zap.String("small_model", cfg.Models.Small),
				zap.Bool("auth_key_validation", cfg.Server.AuthKey != ""),
				zap.Bool("fixed_key_mode", cfg.FixedKeyMode()))
			go func() {
				if err := app.Listen(":" + cfg.Server.Port); err != nil {
					log.Error("Failed to start server", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return app.Shutdown()
		},
	})

	return server, nil
}

func (s *Server) registerRoutes() {
	s.app.Get("/swagger/*", fiberSwagger.WrapHandler)

	v1Group := s.app.Group("/v1")
	v1Group.Post("/messages", s.claudeHandler.HandleMessages)
	v1Group.Post("/messages/count_tokens", s.claudeHandler.HandleCountTokens)

	s.app.Get("/test-connection", s.claudeHandler.HandleTestConnection)

	s.app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":    "healthy",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"version":   version,
			"config": fiber.Map{
				"openai_api_configured": s.cfg.FixedKeyMode(),
				"api_key_validation":    s.cfg.Server.AuthKey != "",
				"big_model":             s.cfg.Models.Big,
				"small_model":           s.cfg.Models.Small,
				"max_tokens_limit":      s.cfg.Models.MaxTokensLimit,
			},
		})
	})

	s.app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"message": "Claude Bridge v" + version,
			"status":  "running",
			"config": fiber.Map{
				"openai_base_url":    s.cfg.Upstream.BaseURL,
				"max_tokens_limit":   s.cfg.Models.MaxTokensLimit,
				"api_key_configured": s.cfg.FixedKeyMode(),
				"api_key_validation": s.cfg.Server.AuthKey != "",
				"big_model":          s.cfg.Models.Big,
				"small_model":        s.cfg.Models.Small,
			},
			"endpoints": fiber.Map{
				"messages":        "/v1/messages",
				"count_tokens":    "/v1/messages/count_tokens",
				"health":          "/health",
				"test_connection": "/test-connection",
			},
		})
	})
}

// App exposes the underlying fiber app for tests.
func (s *Server) App() *fiber.App {
	return s.app
}
