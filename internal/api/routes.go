package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tastygate/internal/credstore"
)

// RegisterRoutes registers all HTTP routes on the Fiber app. nc may be
// nil when eventing is disabled.
func RegisterRoutes(app *fiber.App, nc *nats.Conn, store credstore.Store, admin *AdminHandler, broker *BrokerHandler, adminToken string) {
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		checks := map[string]string{
			"store": "ok",
		}
		status := "ok"
		code := fiber.StatusOK

		if nc != nil {
			checks["nats"] = "ok"
			if !nc.IsConnected() {
				checks["nats"] = "disconnected"
				status = "degraded"
				code = fiber.StatusServiceUnavailable
			} else if err := nc.FlushTimeout(1 * time.Second); err != nil {
				checks["nats"] = err.Error()
				status = "degraded"
				code = fiber.StatusServiceUnavailable
			}
		}

		healthCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := store.HealthCheck(healthCtx); err != nil {
			checks["store"] = err.Error()
			status = "degraded"
			code = fiber.StatusServiceUnavailable
		}

		return c.Status(code).JSON(fiber.Map{
			"status": status,
			"checks": checks,
		})
	})

	// Credential management
	adm := app.Group("/admin", AdminAuth(adminToken))
	adm.Get("/credentials", admin.ListCredentials)
	adm.Put("/credentials/:tenantKey", admin.PutCredential)
	adm.Delete("/credentials/:tenantKey", admin.DeleteCredential)

	// Tenant-facing brokerage surface
	v1 := app.Group("/api/v1", TenantAuth())
	v1.Get("/accounts", broker.ListAccounts)
	v1.Get("/balances", broker.GetBalances)
	v1.Get("/positions", broker.GetPositions)
	v1.Post("/quotes", broker.GetQuotes)
}
