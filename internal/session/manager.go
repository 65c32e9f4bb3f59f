package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"tastygate/internal/credstore"
	"tastygate/internal/metrics"
	"tastygate/internal/tasty"
	"tastygate/pkg/utils"
)

// defaultExpiryMargin is how much validity a session handed to a caller is
// guaranteed to still have. Anything closer to expiry is refreshed first.
const defaultExpiryMargin = 5 * time.Second

// Authenticator is the upstream OAuth collaborator. First-time
// authentication and refresh are the same exchange upstream, so one method
// covers both.
type Authenticator interface {
	Authenticate(ctx context.Context, clientSecret, refreshToken string) (*tasty.TokenGrant, error)
}

// identitySource is optionally implemented by the Authenticator to expose
// the upstream customer handle behind a grant. *tasty.Client implements it.
type identitySource interface {
	CustomerID(ctx context.Context, accessToken string) (string, error)
}

var _ identitySource = (*tasty.Client)(nil)

// Events receives lifecycle notifications. May be a nil *publisher.Publisher.
type Events interface {
	SessionRefreshed(tenantKey string, expiresAt time.Time)
	SessionRevoked(tenantKey, reason string)
}

// Manager is the single source of truth for "what is the current usable
// upstream session for tenant X". One cached session per tenant; refreshes
// per tenant are strictly serialized through a singleflight group while
// different tenants refresh fully in parallel.
type Manager struct {
	creds    credstore.Store
	upstream Authenticator
	events   Events
	logger   *zap.Logger
	margin   time.Duration
	sandbox  bool

	group singleflight.Group

	// mu guards map structure only, never the upstream call itself.
	mu       sync.Mutex
	sessions map[string]*Session
	revoked  map[string]error  // terminal revocations with their upstream cause
	gens     map[string]uint64 // bumped on Invalidate; stale refresh results are discarded

	hooks []func(tenantKey string)
}

// NewManager creates a Manager. events may be nil.
func NewManager(creds credstore.Store, upstream Authenticator, events Events, sandbox bool, logger *zap.Logger) *Manager {
	return &Manager{
		creds:    creds,
		upstream: upstream,
		events:   events,
		logger:   logger,
		margin:   defaultExpiryMargin,
		sandbox:  sandbox,
		sessions: make(map[string]*Session),
		revoked:  make(map[string]error),
		gens:     make(map[string]uint64),
	}
}

// AddInvalidationHook registers fn to run whenever a tenant's session is
// invalidated. Used by the accessor to drop account-scoped context caches.
// Not safe to call after the manager is in use.
func (m *Manager) AddInvalidationHook(fn func(tenantKey string)) {
	m.hooks = append(m.hooks, fn)
}

// GetOrRefresh returns a live session for tenantKey, refreshing first if
// the cached one is absent or within the expiry margin. Concurrent callers
// for the same tenant share a single upstream refresh.
func (m *Manager) GetOrRefresh(ctx context.Context, tenantKey string) (*Session, error) {
	m.mu.Lock()
	if cause, bad := m.revoked[tenantKey]; bad {
		m.mu.Unlock()
		metrics.SessionCacheAccess.WithLabelValues("revoked").Inc()
		return nil, fmt.Errorf("%w (upstream: %v)", ErrCredentialsRevoked, cause)
	}
	if s := m.sessions[tenantKey]; s.ValidFor(m.margin) {
		m.mu.Unlock()
		metrics.SessionCacheAccess.WithLabelValues("hit").Inc()
		return s, nil
	}
	m.mu.Unlock()

	metrics.SessionCacheAccess.WithLabelValues("miss").Inc()
	return m.refresh(ctx, tenantKey, "request")
}

// ForceRefresh refreshes tenantKey's session regardless of remaining
// margin. Used by the scheduler; folds into any refresh already in flight.
func (m *Manager) ForceRefresh(ctx context.Context, tenantKey string) (*Session, error) {
	m.mu.Lock()
	if cause, bad := m.revoked[tenantKey]; bad {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w (upstream: %v)", ErrCredentialsRevoked, cause)
	}
	m.mu.Unlock()
	return m.refresh(ctx, tenantKey, "scheduler")
}

// Invalidate discards any cached session and terminal state for tenantKey.
// Called by the credential store on every Put/Delete. Linearized against
// in-flight refreshes: bumping the generation makes any refresh started
// under the old credential discard its result.
func (m *Manager) Invalidate(tenantKey string) {
	m.mu.Lock()
	delete(m.sessions, tenantKey)
	delete(m.revoked, tenantKey)
	m.gens[tenantKey]++
	metrics.LiveSessions.Set(float64(len(m.sessions)))
	m.mu.Unlock()

	for _, fn := range m.hooks {
		fn(tenantKey)
	}

	m.logger.Info("session.invalidated",
		zap.String("tenant", utils.KeyPreview(tenantKey)))
}

// Expiring returns the tenant keys whose cached session expires before
// deadline. Revoked tenants are excluded; they must not be retried.
func (m *Manager) Expiring(deadline time.Time) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var keys []string
	for key, s := range m.sessions {
		if s.ExpiresAt.Before(deadline) {
			keys = append(keys, key)
		}
	}
	return keys
}

// refresh serializes refreshes per tenant via singleflight; all waiters
// for the same tenant share one upstream call and one result.
func (m *Manager) refresh(ctx context.Context, tenantKey, trigger string) (*Session, error) {
	// A credential replacement can land while our refresh is in flight;
	// its result is discarded and the new credential is picked up on the
	// immediate retry. One retry is enough: a second replacement racing
	// the retry just fails the call, and the next access starts clean.
	for attempt := 0; attempt < 2; attempt++ {
		v, err, _ := m.group.Do(tenantKey, func() (interface{}, error) {
			return m.doRefresh(ctx, tenantKey, trigger)
		})
		if errors.Is(err, errStaleGeneration) {
			continue
		}
		if err != nil {
			return nil, err
		}
		s := v.(*Session)
		// The shared result may predate this waiter joining; a session
		// already back inside the margin is only possible with extreme
		// clock pressure, and the next call will refresh it again.
		return s, nil
	}
	return nil, fmt.Errorf("%w: credential replaced repeatedly during refresh", ErrUpstreamTransient)
}

// doRefresh performs one upstream token exchange for tenantKey and
// installs the result. Runs inside the per-tenant singleflight slot.
func (m *Manager) doRefresh(ctx context.Context, tenantKey, trigger string) (*Session, error) {
	m.mu.Lock()
	gen := m.gens[tenantKey]
	prev := m.sessions[tenantKey]
	m.mu.Unlock()

	// Someone may have completed a refresh while we waited for the slot.
	if prev.ValidFor(m.margin) && trigger == "request" {
		return prev, nil
	}

	cred, err := m.creds.Get(ctx, tenantKey)
	if err != nil {
		if errors.Is(err, credstore.ErrNotFound) {
			return nil, ErrUnknownTenant
		}
		return nil, err // ErrStorage passes through untouched
	}

	// Prefer the session's rotated refresh token over the stored one.
	refreshToken := cred.RefreshToken
	if prev != nil && prev.RefreshToken != "" {
		refreshToken = prev.RefreshToken
	}

	start := time.Now()
	grant, err := m.upstream.Authenticate(ctx, cred.ClientSecret, refreshToken)
	metrics.ObserveSince(metrics.RefreshDuration, start)

	if err != nil {
		return nil, m.classifyFailure(tenantKey, gen, trigger, err)
	}

	// The upstream identity never changes for a grant, so fetch it only on
	// first authentication and carry it across refreshes. Best effort: a
	// session without an identity handle is still fully usable.
	identity := ""
	if prev != nil {
		identity = prev.Identity
	}
	if identity == "" {
		if src, ok := m.upstream.(identitySource); ok {
			id, err := src.CustomerID(ctx, grant.AccessToken)
			if err != nil {
				m.logger.Warn("session.identity_fetch_failed",
					zap.String("tenant", utils.KeyPreview(tenantKey)),
					zap.Error(err))
			} else {
				identity = id
			}
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.gens[tenantKey] != gen {
		// Credential replaced mid-flight: this grant belongs to the old
		// credential and must not survive.
		m.logger.Info("session.refresh_discarded",
			zap.String("tenant", utils.KeyPreview(tenantKey)))
		return nil, errStaleGeneration
	}

	// Install a fresh Session rather than mutating the cached one: handles
	// already held by request goroutines stay readable without a lock.
	next := &Session{
		TenantKey:    tenantKey,
		AccessToken:  grant.AccessToken,
		ExpiresAt:    grant.ExpiresAt,
		RefreshToken: refreshToken,
		Identity:     identity,
		IsSandbox:    m.sandbox,
	}
	if grant.RefreshToken != "" {
		next.RefreshToken = grant.RefreshToken
	}
	m.sessions[tenantKey] = next
	delete(m.revoked, tenantKey)
	metrics.LiveSessions.Set(float64(len(m.sessions)))
	metrics.RefreshTotal.WithLabelValues(trigger, "ok").Inc()

	if m.events != nil {
		m.events.SessionRefreshed(tenantKey, grant.ExpiresAt)
	}
	m.logger.Info("session.refreshed",
		zap.String("tenant", utils.KeyPreview(tenantKey)),
		zap.String("trigger", trigger),
		zap.Time("expires_at", grant.ExpiresAt))

	return next, nil
}

// classifyFailure maps an upstream authentication failure onto the error
// taxonomy and updates terminal state for permanent rejections.
func (m *Manager) classifyFailure(tenantKey string, gen uint64, trigger string, err error) error {
	if tasty.IsPermanentAuth(err) {
		m.mu.Lock()
		if m.gens[tenantKey] == gen {
			delete(m.sessions, tenantKey)
			m.revoked[tenantKey] = err
			metrics.LiveSessions.Set(float64(len(m.sessions)))
		}
		m.mu.Unlock()

		metrics.RefreshTotal.WithLabelValues(trigger, "revoked").Inc()
		if m.events != nil {
			m.events.SessionRevoked(tenantKey, err.Error())
		}
		m.logger.Warn("session.revoked",
			zap.String("tenant", utils.KeyPreview(tenantKey)),
			zap.Error(err))
		return fmt.Errorf("%w (upstream: %v)", ErrCredentialsRevoked, err)
	}

	// Transient: no state change. The cached (possibly expired) session
	// stays; the next access or scheduler tick retries cleanly.
	metrics.RefreshTotal.WithLabelValues(trigger, "transient").Inc()
	m.logger.Warn("session.refresh_failed_transient",
		zap.String("tenant", utils.KeyPreview(tenantKey)),
		zap.Error(err))
	return fmt.Errorf("%w: %v", ErrUpstreamTransient, err)
}
