package credstore

import (
	"context"
	"errors"
	"strings"
)

// Credential is the canonical per-tenant credential record. All ingestion
// paths (admin API, env seed, bulk JSON, Secrets Manager) normalize into
// this shape at the store boundary; nothing downstream handles any other
// representation.
type Credential struct {
	TenantKey        string `json:"tenant_key"`
	ClientSecret     string `json:"client_secret"`
	RefreshToken     string `json:"refresh_token"`
	DefaultAccountID string `json:"default_account_id,omitempty"`
}

// Validate checks the required fields.
func (c Credential) Validate() error {
	if strings.TrimSpace(c.TenantKey) == "" {
		return errors.New("tenant_key is required")
	}
	if c.ClientSecret == "" || c.RefreshToken == "" {
		return errors.New("client_secret and refresh_token are required")
	}
	return nil
}

// Entry is the secret-free listing row.
type Entry struct {
	TenantKey  string `json:"tenant_key"`
	Configured bool   `json:"configured"`
}

var (
	// ErrNotFound means no credential exists for the tenant key.
	ErrNotFound = errors.New("credential not found")
	// ErrStorage wraps backing-storage failures. Never swallowed.
	ErrStorage = errors.New("credential storage unavailable")
)

// Store is the durable tenant_key -> Credential mapping. A credential is
// mutated by full replacement only; there are no partial updates.
type Store interface {
	// Put upserts a credential. The previous record for the same tenant
	// key, if any, is fully replaced.
	Put(ctx context.Context, cred Credential) error
	Get(ctx context.Context, tenantKey string) (*Credential, error)
	List(ctx context.Context) ([]Entry, error)
	Delete(ctx context.Context, tenantKey string) error
	HealthCheck(ctx context.Context) error
	Close() error
}

// notifyingStore decorates a Store so that every successful Put or Delete
// signals the session layer: a replaced credential must never leave a
// stale session alive.
type notifyingStore struct {
	Store
	onChange func(tenantKey string)
}

// WithInvalidation wraps store so onChange fires after every successful
// Put and Delete for the affected tenant key.
func WithInvalidation(store Store, onChange func(tenantKey string)) Store {
	return &notifyingStore{Store: store, onChange: onChange}
}

func (s *notifyingStore) Put(ctx context.Context, cred Credential) error {
	if err := s.Store.Put(ctx, cred); err != nil {
		return err
	}
	s.onChange(cred.TenantKey)
	return nil
}

func (s *notifyingStore) Delete(ctx context.Context, tenantKey string) error {
	if err := s.Store.Delete(ctx, tenantKey); err != nil {
		return err
	}
	s.onChange(tenantKey)
	return nil
}
