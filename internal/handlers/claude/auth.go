package claude

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"claude-bridge/internal/models"
)

var (
	errInvalidAuthKey = errors.New("invalid API key")
	errNoCredential   = errors.New("no API key available; either set OPENAI_API_KEY on the proxy or send one with the request")
)

// extractAPIKey pulls the inbound credential: x-api-key first, then
// Authorization Bearer.
func extractAPIKey(c *fiber.Ctx) string {
	if key := c.Get("x-api-key"); key != "" {
		return key
	}
	if auth := c.Get(fiber.HeaderAuthorization); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

// authorize validates proxy access and resolves the key to send
// upstream. Fixed-key mode optionally validates the inbound credential
// against AUTH_KEY and always substitutes the configured key;
// passthrough mode forwards the inbound credential verbatim.
func (h *Handler) authorize(c *fiber.Ctx) (string, error) {
	clientKey := extractAPIKey(c)

	if h.cfg.Server.AuthKey != "" && clientKey != h.cfg.Server.AuthKey {
		return "", errInvalidAuthKey
	}
	if h.cfg.FixedKeyMode() {
		return h.cfg.Upstream.APIKey, nil
	}
	if clientKey == "" {
		return "", errNoCredential
	}
	return clientKey, nil
}

func unauthorized(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusUnauthorized).JSON(models.NewErrorResponse(models.ErrTypeAuthentication, err.Error()))
}
