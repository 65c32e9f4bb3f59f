package credstore

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-process Store. Used when no DATABASE_URL is
// configured (single-node, env-seeded deployments) and in tests.
type MemoryStore struct {
	mu    sync.RWMutex
	creds map[string]Credential
}

// NewMemory creates an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{creds: make(map[string]Credential)}
}

func (s *MemoryStore) Put(_ context.Context, cred Credential) error {
	if err := cred.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.creds[cred.TenantKey] = cred
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, tenantKey string) (*Credential, error) {
	s.mu.RLock()
	cred, ok := s.creds[tenantKey]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return &cred, nil
}

func (s *MemoryStore) List(_ context.Context) ([]Entry, error) {
	s.mu.RLock()
	entries := make([]Entry, 0, len(s.creds))
	for key, cred := range s.creds {
		entries = append(entries, Entry{
			TenantKey:  key,
			Configured: cred.ClientSecret != "" && cred.RefreshToken != "",
		})
	}
	s.mu.RUnlock()
	sort.Slice(entries, func(i, j int) bool { return entries[i].TenantKey < entries[j].TenantKey })
	return entries, nil
}

func (s *MemoryStore) Delete(_ context.Context, tenantKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.creds[tenantKey]; !ok {
		return ErrNotFound
	}
	delete(s.creds, tenantKey)
	return nil
}

func (s *MemoryStore) HealthCheck(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
