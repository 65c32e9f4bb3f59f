package api

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"tastygate/internal/session"
	"tastygate/internal/tasty"
	"tastygate/pkg/utils"
)

// SessionSource hands out live sessions and resolved accounts. Satisfied
// by *session.Accessor.
type SessionSource interface {
	WithSession(ctx context.Context, tenantKey, accountID string) (*session.Session, string, error)
	Session(ctx context.Context, tenantKey string) (*session.Session, error)
}

// BrokerAPI is the slice of the upstream REST client the broker surface
// uses.
type BrokerAPI interface {
	ListAccounts(ctx context.Context, accessToken string) ([]tasty.Account, error)
	GetBalances(ctx context.Context, accessToken, accountID string) (*tasty.Balance, error)
	GetPositions(ctx context.Context, accessToken, accountID string) ([]tasty.Position, error)
	QuoteToken(ctx context.Context, accessToken string) (token, dxlinkURL string, err error)
}

// QuoteStreamer fetches one-shot quote snapshots over the market data
// websocket.
type QuoteStreamer interface {
	Snapshot(ctx context.Context, wsURL, token string, symbols []string) ([]tasty.Quote, error)
}

// BrokerHandler serves the tenant-facing brokerage endpoints. Every
// handler goes through the session source, so callers never see token
// mechanics; they either get data or a classified error.
type BrokerHandler struct {
	logger   *zap.Logger
	sessions SessionSource
	upstream BrokerAPI
	streamer QuoteStreamer
}

// NewBrokerHandler creates a BrokerHandler.
func NewBrokerHandler(logger *zap.Logger, sessions SessionSource, upstream BrokerAPI, streamer QuoteStreamer) *BrokerHandler {
	return &BrokerHandler{
		logger:   logger,
		sessions: sessions,
		upstream: upstream,
		streamer: streamer,
	}
}

// ListAccounts returns the accounts visible to the caller's session.
func (h *BrokerHandler) ListAccounts(c *fiber.Ctx) error {
	key := tenantKey(c)

	s, err := h.sessions.Session(c.Context(), key)
	if err != nil {
		return h.fail(c, "accounts", key, err)
	}

	accounts, err := h.upstream.ListAccounts(c.Context(), s.AccessToken)
	if err != nil {
		return h.fail(c, "accounts", key, err)
	}
	return c.JSON(fiber.Map{"items": accounts})
}

// GetBalances returns the balance snapshot for the resolved account.
func (h *BrokerHandler) GetBalances(c *fiber.Ctx) error {
	key := tenantKey(c)

	s, account, err := h.sessions.WithSession(c.Context(), key, c.Query("account_id"))
	if err != nil {
		return h.fail(c, "balances", key, err)
	}

	balance, err := h.upstream.GetBalances(c.Context(), s.AccessToken, account)
	if err != nil {
		return h.fail(c, "balances", key, err)
	}
	return c.JSON(balance)
}

// GetPositions returns the open positions for the resolved account.
func (h *BrokerHandler) GetPositions(c *fiber.Ctx) error {
	key := tenantKey(c)

	s, account, err := h.sessions.WithSession(c.Context(), key, c.Query("account_id"))
	if err != nil {
		return h.fail(c, "positions", key, err)
	}

	positions, err := h.upstream.GetPositions(c.Context(), s.AccessToken, account)
	if err != nil {
		return h.fail(c, "positions", key, err)
	}
	return c.JSON(fiber.Map{"account": account, "items": positions})
}

// GetQuotes returns a one-shot quote snapshot for the requested symbols,
// fetched over the DXLink websocket with a per-session streamer token.
func (h *BrokerHandler) GetQuotes(c *fiber.Ctx) error {
	key := tenantKey(c)

	var req QuoteRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Code:    "bad_request",
			Message: err.Error(),
		})
	}
	symbols := normalizeSymbols(req.Symbols)
	if len(symbols) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Code:    "bad_request",
			Message: "symbols is required and must not be empty",
		})
	}

	s, err := h.sessions.Session(c.Context(), key)
	if err != nil {
		return h.fail(c, "quotes", key, err)
	}

	token, wsURL, err := h.upstream.QuoteToken(c.Context(), s.AccessToken)
	if err != nil {
		return h.fail(c, "quotes", key, err)
	}

	quotes, err := h.streamer.Snapshot(c.Context(), wsURL, token, symbols)
	if err != nil {
		return h.fail(c, "quotes", key, err)
	}
	return c.JSON(fiber.Map{"items": quotes})
}

func (h *BrokerHandler) fail(c *fiber.Ctx, op, key string, err error) error {
	h.logger.Warn("broker."+op+".failed",
		zap.String("tenant", utils.KeyPreview(key)),
		zap.Error(err))
	return errorJSON(c, err)
}
