package session

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"tastygate/pkg/utils"
)

// Scheduler proactively refreshes sessions approaching expiry so that
// request traffic rarely pays refresh latency. It only touches tenants
// that already hold a cached session; idle tenants are left alone.
type Scheduler struct {
	manager  *Manager
	interval time.Duration
	buffer   time.Duration
	logger   *zap.Logger
}

// NewScheduler creates a Scheduler that wakes every interval and refreshes
// any session expiring within interval+buffer. The buffer must cover at
// least one full tick so a session can never expire between wakeups.
func NewScheduler(manager *Manager, interval, buffer time.Duration, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		manager:  manager,
		interval: interval,
		buffer:   buffer,
		logger:   logger,
	}
}

// Run blocks until ctx is canceled. Refresh failures are logged and
// counted but never stop the loop; a revoked tenant drops out of the
// Expiring set on its own.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("scheduler.started",
		zap.Duration("interval", s.interval),
		zap.Duration("buffer", s.buffer))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler.stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	deadline := time.Now().Add(s.interval + s.buffer)
	keys := s.manager.Expiring(deadline)
	if len(keys) == 0 {
		return
	}

	s.logger.Debug("scheduler.tick", zap.Int("candidates", len(keys)))

	for _, key := range keys {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.manager.ForceRefresh(ctx, key); err != nil {
			switch {
			case errors.Is(err, ErrCredentialsRevoked):
				// Already terminal in the manager; the operator event has
				// fired. Nothing more for the loop to do.
				s.logger.Warn("scheduler.tenant_revoked",
					zap.String("tenant", utils.KeyPreview(key)))
			case errors.Is(err, ErrUnknownTenant):
				// Credential deleted between Expiring and refresh.
				s.logger.Info("scheduler.tenant_gone",
					zap.String("tenant", utils.KeyPreview(key)))
			default:
				s.logger.Warn("scheduler.refresh_failed",
					zap.String("tenant", utils.KeyPreview(key)),
					zap.Error(err))
			}
		}
	}
}
