package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"tastygate/internal/credstore"
	"tastygate/internal/publisher"
	"tastygate/pkg/utils"
)

// AdminHandler manages the tenant credential inventory. Secrets flow in
// through it and never flow back out: reads return configuration status
// only.
type AdminHandler struct {
	logger *zap.Logger
	store  credstore.Store
	events *publisher.Publisher
}

// NewAdminHandler creates an AdminHandler. events may be nil.
func NewAdminHandler(logger *zap.Logger, store credstore.Store, events *publisher.Publisher) *AdminHandler {
	return &AdminHandler{
		logger: logger,
		store:  store,
		events: events,
	}
}

// PutCredential registers or replaces the credential for one tenant key.
// Replacement invalidates any live session for the tenant via the store's
// change notification.
func (h *AdminHandler) PutCredential(c *fiber.Ctx) error {
	key := c.Params("tenantKey")

	var req CredentialRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Code: "bad_request", Message: err.Error()})
	}
	if err := req.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Code: "bad_request", Message: err.Error()})
	}

	cred := credstore.Credential{
		TenantKey:        key,
		ClientSecret:     req.ClientSecret,
		RefreshToken:     req.RefreshToken,
		DefaultAccountID: req.DefaultAccountID,
	}
	if err := cred.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Code: "bad_request", Message: err.Error()})
	}

	if err := h.store.Put(c.Context(), cred); err != nil {
		h.logger.Error("admin.put_credential.failed",
			zap.String("tenant", utils.KeyPreview(key)),
			zap.Error(err))
		return errorJSON(c, err)
	}

	h.events.CredentialUpdated(key)
	h.logger.Info("admin.credential_stored",
		zap.String("tenant", utils.KeyPreview(key)))

	return c.Status(fiber.StatusOK).JSON(CredentialStatus{TenantKey: key, Configured: true})
}

// ListCredentials returns the configured tenant keys without any secret
// material.
func (h *AdminHandler) ListCredentials(c *fiber.Ctx) error {
	entries, err := h.store.List(c.Context())
	if err != nil {
		h.logger.Error("admin.list_credentials.failed", zap.Error(err))
		return errorJSON(c, err)
	}

	out := make([]CredentialStatus, 0, len(entries))
	for _, e := range entries {
		out = append(out, CredentialStatus{TenantKey: e.TenantKey, Configured: e.Configured})
	}
	return c.JSON(fiber.Map{"items": out})
}

// DeleteCredential removes a tenant's credential and, through the store's
// change notification, its live session.
func (h *AdminHandler) DeleteCredential(c *fiber.Ctx) error {
	key := c.Params("tenantKey")

	if err := h.store.Delete(c.Context(), key); err != nil {
		if !errors.Is(err, credstore.ErrNotFound) {
			h.logger.Error("admin.delete_credential.failed",
				zap.String("tenant", utils.KeyPreview(key)),
				zap.Error(err))
		}
		return errorJSON(c, err)
	}

	h.events.CredentialDeleted(key)
	h.logger.Info("admin.credential_deleted",
		zap.String("tenant", utils.KeyPreview(key)))

	return c.SendStatus(fiber.StatusNoContent)
}
