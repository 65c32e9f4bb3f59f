package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"

	"tastygate/internal/api"
	"tastygate/internal/config"
	"tastygate/internal/credstore"
	"tastygate/internal/publisher"
	"tastygate/internal/rate"
	"tastygate/internal/session"
	"tastygate/internal/tasty"
	"tastygate/pkg/logger"
	"tastygate/pkg/secrets"
	"tastygate/pkg/utils"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Load configuration ---
	cfg := config.Load()

	logger.Init(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	defer logger.Sync()
	logg := logger.S()
	logg.Info("starting [tastygate]...")

	// --- Credential store (durable layer) ---
	var durable credstore.Store
	if cfg.DatabaseURL != "" {
		logg.Info("connecting to DSN: ", utils.MaskDSN(cfg.DatabaseURL))
		pg, err := credstore.NewPostgres(ctx, cfg.DatabaseURL, credstore.PGPoolConfig{
			MaxConns:          int32(cfg.PGMaxConns),
			MinConns:          int32(cfg.PGMinConns),
			MaxConnLifetime:   cfg.PGMaxConnLifetime,
			MaxConnIdleTime:   cfg.PGMaxConnIdleTime,
			HealthCheckPeriod: cfg.PGHealthCheckPeriod,
		}, logger.L())
		if err != nil {
			logg.Fatalw("failed to init postgres credential store", "error", err)
		}
		durable = pg
	} else {
		logg.Warn("DATABASE_URL not set; credentials are held in memory only")
		durable = credstore.NewMemory()
	}

	// --- Optional Redis hot cache in front of the durable store ---
	store := durable
	if cfg.RedisAddr != "" {
		rl, err := credstore.NewRedisLayer(durable, cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB, cfg.RedisCredTTL, logger.L())
		if err != nil {
			logg.Fatalw("failed to init redis credential cache", "error", err)
		}
		store = rl
	}

	// --- NATS + lifecycle event publisher (optional) ---
	var nc *nats.Conn
	var pub *publisher.Publisher
	if cfg.NATSURL != "" {
		var err error
		nc, err = nats.Connect(cfg.NATSURL)
		if err != nil {
			logg.Fatalw("failed to connect to NATS", "error", err)
		}
		pub, err = publisher.New(nc, cfg.OutboundSubjectPrefix, cfg.ServiceName, logger.L())
		if err != nil {
			logg.Fatalw("failed to init publisher", "error", err)
		}
	} else {
		logg.Info("NATS_URL not set; lifecycle events disabled")
	}

	// --- Shared upstream rate gate ---
	gate := rate.New(rate.Config{
		RequestsPerSecond: cfg.RateLimitPerSecond,
		Burst:             cfg.RateLimitBurst,
	})

	// --- Tastytrade REST client + quote streamer ---
	tastyClient := tasty.NewClient(logger.L(), gate, tasty.Options{
		Sandbox: cfg.Sandbox,
		Timeout: cfg.UpstreamTimeout,
	})
	streamer := tasty.NewStreamer(logger.L(), cfg.UpstreamTimeout)

	// --- Session manager ---
	mgr := session.NewManager(store, tastyClient, pub, cfg.Sandbox, logger.L())

	// Every credential Put/Delete must kill the tenant's live session.
	store = credstore.WithInvalidation(store, mgr.Invalidate)

	accessor := session.NewAccessor(mgr, store, tastyClient, cfg.ContextCacheTTL, logger.L())
	stopCleaner := make(chan struct{})
	go accessor.StartCacheCleaner(cfg.CacheCleanupFreq, stopCleaner)

	// --- Seed credentials (admin-stored entries always win) ---
	seeded, err := credstore.Seed(ctx, logger.L(), store, credstore.SeedConfig{
		DefaultTenantKey:    cfg.DefaultTenantKey,
		DefaultClientSecret: cfg.DefaultClientSecret,
		DefaultRefreshToken: cfg.DefaultRefreshToken,
		DefaultAccountID:    cfg.DefaultAccountID,
		BulkJSON:            cfg.BulkCredentialsJSON,
	})
	if err != nil {
		logg.Fatalw("credential seed failed", "error", err)
	}

	if cfg.SeedFromAWS {
		awsProvider, err := secrets.NewAWSProvider(cfg.AWSRegion)
		if err != nil {
			logg.Fatalw("failed to create AWS Secrets Manager provider", "error", err)
		}
		n, err := credstore.SeedFromSecrets(ctx, logger.L(), store, awsProvider, cfg.Env)
		if err != nil {
			logg.Warnw("secrets manager seed failed", "error", err)
		}
		seeded += n
	}
	logg.Infow("credential seed complete", "seeded", seeded)

	// --- Proactive refresh scheduler ---
	sched := session.NewScheduler(mgr, cfg.RefreshInterval, cfg.RefreshBuffer, logger.L())
	go sched.Run(ctx)

	// --- Fiber HTTP Server ---
	app := fiber.New(fiber.Config{
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	})

	if cfg.AdminToken == "" {
		logg.Warn("ADMIN_TOKEN not set; credential admin endpoints are unauthenticated")
	}

	adminHandler := api.NewAdminHandler(logger.L(), store, pub)
	brokerHandler := api.NewBrokerHandler(logger.L(), accessor, tastyClient, streamer)
	api.RegisterRoutes(app, nc, store, adminHandler, brokerHandler, cfg.AdminToken)

	go func() {
		logg.Infof("HTTP API listening on :%d", cfg.Port)
		if err := app.Listen(fmt.Sprintf(":%d", cfg.Port)); err != nil {
			logg.Fatalw("fiber.listen_failed", "error", err)
		}
	}()

	logg.Infow("[tastygate] running",
		"env", cfg.Env,
		"sandbox", cfg.Sandbox,
		"refresh_interval", cfg.RefreshInterval,
		"seeded_tenants", seeded)

	<-ctx.Done()
	logg.Info("shutting down [tastygate]...")

	close(stopCleaner)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logg.Warnw("fiber.shutdown_failed", "error", err)
	}
	if nc != nil {
		if err := nc.Drain(); err != nil {
			logg.Warnw("nats.drain_failed", "error", err)
		}
	}
	if err := store.Close(); err != nil {
		logg.Warnw("store.close_failed", "error", err)
	}
}
