package credstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"tastygate/pkg/secrets"
	"tastygate/pkg/utils"
)

// SeedConfig declares the one-time startup seeds. Seeds never overwrite a
// credential the store already holds for the same tenant key: the
// administrative write path wins over process configuration.
type SeedConfig struct {
	// Single implicit tenant.
	DefaultTenantKey    string
	DefaultClientSecret string
	DefaultRefreshToken string
	DefaultAccountID    string

	// Bulk declaration: JSON map of tenant_key -> credential fields.
	BulkJSON string
}

type bulkEntry struct {
	ClientSecret     string `json:"client_secret"`
	RefreshToken     string `json:"refresh_token"`
	DefaultAccountID string `json:"default_account_id"`
}

// Seed ingests env-declared credentials into the store. Returns the number
// of tenants seeded. Malformed bulk entries are skipped with a warning;
// a malformed JSON document as a whole is an error.
func Seed(ctx context.Context, logger *zap.Logger, store Store, cfg SeedConfig) (int, error) {
	seeded := 0

	if cfg.BulkJSON != "" {
		var bulk map[string]bulkEntry
		if err := json.Unmarshal([]byte(cfg.BulkJSON), &bulk); err != nil {
			return 0, fmt.Errorf("parse bulk credentials JSON: %w", err)
		}
		for tenantKey, entry := range bulk {
			if entry.ClientSecret == "" || entry.RefreshToken == "" {
				logger.Warn("credstore.seed.skipped_incomplete",
					zap.String("tenant", utils.KeyPreview(tenantKey)))
				continue
			}
			ok, err := seedOne(ctx, store, Credential{
				TenantKey:        tenantKey,
				ClientSecret:     entry.ClientSecret,
				RefreshToken:     entry.RefreshToken,
				DefaultAccountID: entry.DefaultAccountID,
			})
			if err != nil {
				return seeded, err
			}
			if ok {
				seeded++
			}
		}
	}

	if cfg.DefaultClientSecret != "" && cfg.DefaultRefreshToken != "" {
		ok, err := seedOne(ctx, store, Credential{
			TenantKey:        cfg.DefaultTenantKey,
			ClientSecret:     cfg.DefaultClientSecret,
			RefreshToken:     cfg.DefaultRefreshToken,
			DefaultAccountID: cfg.DefaultAccountID,
		})
		if err != nil {
			return seeded, err
		}
		if ok {
			seeded++
			logger.Info("credstore.seed.default_tenant",
				zap.String("tenant", utils.KeyPreview(cfg.DefaultTenantKey)))
		}
	}

	return seeded, nil
}

// SeedFromSecrets discovers tenants in a secrets manager under the naming
// convention {env}/{tenant}/tastytrade and seeds each one. Each secret is
// a JSON map with client_secret / refresh_token / default_account_id keys.
func SeedFromSecrets(ctx context.Context, logger *zap.Logger, store Store, provider secrets.Provider, env string) (int, error) {
	prefix := strings.ToLower(env) + "/"
	const suffix = "/tastytrade"

	names, err := provider.ListSecrets(ctx, prefix)
	if err != nil {
		return 0, fmt.Errorf("discover tenants: %w", err)
	}

	seeded := 0
	for _, name := range names {
		lower := strings.ToLower(name)
		if !strings.HasSuffix(lower, suffix) {
			continue
		}
		tenantKey := strings.TrimSuffix(strings.TrimPrefix(lower, prefix), suffix)
		if tenantKey == "" || strings.Contains(tenantKey, "/") {
			continue
		}

		secretMap, err := provider.GetSecret(ctx, name)
		if err != nil {
			logger.Warn("credstore.seed.secret_fetch_failed",
				zap.String("secret", name),
				zap.Error(err))
			continue
		}
		cred := Credential{
			TenantKey:        tenantKey,
			ClientSecret:     secretMap["client_secret"],
			RefreshToken:     secretMap["refresh_token"],
			DefaultAccountID: secretMap["default_account_id"],
		}
		if cred.ClientSecret == "" || cred.RefreshToken == "" {
			logger.Warn("credstore.seed.skipped_incomplete",
				zap.String("secret", name))
			continue
		}
		ok, err := seedOne(ctx, store, cred)
		if err != nil {
			return seeded, err
		}
		if ok {
			seeded++
		}
	}

	logger.Info("credstore.seed.secrets_manager_done",
		zap.Int("seeded", seeded),
		zap.String("env", env))
	return seeded, nil
}

// seedOne writes cred only if no credential exists yet for its tenant key.
func seedOne(ctx context.Context, store Store, cred Credential) (bool, error) {
	_, err := store.Get(ctx, cred.TenantKey)
	if err == nil {
		return false, nil // admin-written entry wins
	}
	if !errors.Is(err, ErrNotFound) {
		return false, err
	}
	if err := store.Put(ctx, cred); err != nil {
		return false, err
	}
	return true, nil
}
