package api

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"
)

const (
	apiKeyHeader     = "X-API-Key"
	adminTokenHeader = "X-Admin-Token"

	tenantKeyLocal = "tenant_key"
)

// TenantAuth extracts the caller's API key from X-API-Key and stashes it
// for the handlers. The key doubles as the tenant identity; whether it is
// actually configured is decided downstream, so existence of a tenant is
// not leaked by the middleware.
func TenantAuth() fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := c.Get(apiKeyHeader)
		if key == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(ErrorResponse{
				Code:    "missing_api_key",
				Message: "X-API-Key header is required",
			})
		}
		c.Locals(tenantKeyLocal, key)
		return c.Next()
	}
}

// tenantKey returns the API key stored by TenantAuth.
func tenantKey(c *fiber.Ctx) string {
	key, _ := c.Locals(tenantKeyLocal).(string)
	return key
}

// AdminAuth guards the credential management surface with a static token.
// An empty configured token disables enforcement, for local development
// only; main logs a warning when that happens.
func AdminAuth(token string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if token == "" {
			return c.Next()
		}
		presented := c.Get(adminTokenHeader)
		if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(ErrorResponse{
				Code:    "invalid_admin_token",
				Message: "missing or invalid X-Admin-Token",
			})
		}
		return c.Next()
	}
}
