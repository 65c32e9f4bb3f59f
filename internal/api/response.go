package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"tastygate/internal/credstore"
	"tastygate/internal/session"
)

// ErrorResponse is the uniform error body. Code is machine-readable and
// stable; Message is for humans and may change.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"error"`
}

// CredentialStatus is the secret-free admin view of one tenant.
type CredentialStatus struct {
	TenantKey  string `json:"tenant_key"`
	Configured bool   `json:"configured"`
}

// errorJSON maps a service error onto the HTTP error taxonomy. Unmatched
// errors become an opaque 500; their detail goes to the log, not the wire.
func errorJSON(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, session.ErrUnknownTenant):
		return c.Status(fiber.StatusUnauthorized).JSON(ErrorResponse{
			Code:    "unknown_api_key",
			Message: "no credentials configured for this API key",
		})
	case errors.Is(err, session.ErrCredentialsRevoked):
		return c.Status(fiber.StatusUnauthorized).JSON(ErrorResponse{
			Code:    "credentials_revoked",
			Message: "stored refresh token was rejected by Tastytrade; re-register credentials",
		})
	case errors.Is(err, session.ErrAccountNotFound):
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{
			Code:    "account_not_found",
			Message: err.Error(),
		})
	case errors.Is(err, session.ErrUpstreamTransient):
		return c.Status(fiber.StatusBadGateway).JSON(ErrorResponse{
			Code:    "upstream_transient",
			Message: "temporary Tastytrade failure; retry shortly",
		})
	case errors.Is(err, credstore.ErrStorage):
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Code:    "storage_unavailable",
			Message: "credential storage unavailable",
		})
	case errors.Is(err, credstore.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{
			Code:    "credential_not_found",
			Message: "no credential for this tenant key",
		})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Code:    "internal",
			Message: "internal error",
		})
	}
}
