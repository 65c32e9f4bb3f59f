package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"tastygate/internal/credstore"
	"tastygate/internal/tasty"
	"tastygate/pkg/secrets"
	"tastygate/pkg/utils"
)

// AccountLister is the slice of the upstream client the accessor needs to
// resolve account numbers under a live session.
type AccountLister interface {
	ListAccounts(ctx context.Context, accessToken string) ([]tasty.Account, error)
}

// Accessor is the request-path entry point: it hands callers a live
// session together with the account the call should act on, hiding both
// refresh mechanics and account resolution.
//
// Account precedence: an explicit account in the request wins, then the
// tenant's configured default, then the first account the upstream lists.
// Resolutions are cached per tenant+account and busted whenever the
// tenant's credential changes.
type Accessor struct {
	manager *Manager
	creds   credstore.Store
	api     AccountLister
	cache   *secrets.Cache[string]
	logger  *zap.Logger
}

// NewAccessor creates an Accessor and registers its cache invalidation
// with the manager.
func NewAccessor(manager *Manager, creds credstore.Store, api AccountLister, cacheTTL time.Duration, logger *zap.Logger) *Accessor {
	a := &Accessor{
		manager: manager,
		creds:   creds,
		api:     api,
		cache:   secrets.NewCache[string](cacheTTL),
		logger:  logger,
	}
	manager.AddInvalidationHook(func(tenantKey string) {
		a.cache.BustPrefix(tenantKey + "|")
	})
	return a
}

// StartCacheCleaner sweeps expired resolution entries until stop closes.
// Run it in its own goroutine.
func (a *Accessor) StartCacheCleaner(interval time.Duration, stop <-chan struct{}) {
	a.cache.StartCleaner(interval, stop)
}

// WithSession returns a live session for tenantKey and the resolved
// account number the caller should operate on. accountID may be empty,
// in which case the tenant default or the first listed account is used.
func (a *Accessor) WithSession(ctx context.Context, tenantKey, accountID string) (*Session, string, error) {
	s, err := a.manager.GetOrRefresh(ctx, tenantKey)
	if err != nil {
		return nil, "", err
	}

	resolved, err := a.resolveAccount(ctx, s, tenantKey, accountID)
	if err != nil {
		return nil, "", err
	}
	return s, resolved, nil
}

// Session returns a live session without account resolution, for calls
// that are not account-scoped (account listing, quote tokens).
func (a *Accessor) Session(ctx context.Context, tenantKey string) (*Session, error) {
	return a.manager.GetOrRefresh(ctx, tenantKey)
}

func (a *Accessor) resolveAccount(ctx context.Context, s *Session, tenantKey, accountID string) (string, error) {
	cacheKey := tenantKey + "|" + accountID
	if resolved, ok := a.cache.Get(cacheKey); ok {
		return resolved, nil
	}

	resolved, err := a.lookupAccount(ctx, s, tenantKey, accountID)
	if err != nil {
		return "", err
	}

	a.cache.Put(cacheKey, resolved)
	return resolved, nil
}

func (a *Accessor) lookupAccount(ctx context.Context, s *Session, tenantKey, accountID string) (string, error) {
	if accountID == "" {
		cred, err := a.creds.Get(ctx, tenantKey)
		if err != nil {
			if errors.Is(err, credstore.ErrNotFound) {
				return "", ErrUnknownTenant
			}
			return "", err
		}
		if cred.DefaultAccountID != "" {
			accountID = cred.DefaultAccountID
		}
	}

	accounts, err := a.api.ListAccounts(ctx, s.AccessToken)
	if err != nil {
		return "", fmt.Errorf("resolve account: %w", err)
	}
	if len(accounts) == 0 {
		return "", fmt.Errorf("%w: tenant has no accounts", ErrAccountNotFound)
	}

	if accountID == "" {
		first := accounts[0].AccountNumber
		a.logger.Debug("accessor.default_account",
			zap.String("tenant", utils.KeyPreview(tenantKey)),
			zap.String("account", first))
		return first, nil
	}

	for _, acct := range accounts {
		if acct.AccountNumber == accountID {
			return accountID, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrAccountNotFound, accountID)
}
