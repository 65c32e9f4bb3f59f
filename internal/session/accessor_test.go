package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tastygate/internal/credstore"
	"tastygate/internal/tasty"
)

// fakeLister serves a fixed account listing and counts calls.
type fakeLister struct {
	mu       sync.Mutex
	calls    int
	accounts []tasty.Account
	err      error
}

func (f *fakeLister) ListAccounts(context.Context, string) ([]tasty.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.accounts, nil
}

func (f *fakeLister) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestAccessor(t *testing.T, lister AccountLister) (*Accessor, *Manager, *credstore.MemoryStore) {
	t.Helper()
	store := credstore.NewMemory()
	mgr := NewManager(store, &fakeUpstream{}, nil, false, zap.NewNop())
	acc := NewAccessor(mgr, store, lister, 30*time.Minute, zap.NewNop())
	return acc, mgr, store
}

func TestWithSessionExplicitAccountWins(t *testing.T) {
	lister := &fakeLister{accounts: []tasty.Account{
		{AccountNumber: "5WT00001"},
		{AccountNumber: "5WT00002"},
	}}
	acc, _, store := newTestAccessor(t, lister)
	err := store.Put(context.Background(), credstore.Credential{
		TenantKey:        "t1",
		ClientSecret:     "s",
		RefreshToken:     "r",
		DefaultAccountID: "5WT00001",
	})
	require.NoError(t, err)

	s, account, err := acc.WithSession(context.Background(), "t1", "5WT00002")
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, "5WT00002", account, "explicit account overrides the configured default")
}

func TestWithSessionFallsBackToConfiguredDefault(t *testing.T) {
	lister := &fakeLister{accounts: []tasty.Account{
		{AccountNumber: "5WT00001"},
		{AccountNumber: "5WT00002"},
	}}
	acc, _, store := newTestAccessor(t, lister)
	err := store.Put(context.Background(), credstore.Credential{
		TenantKey:        "t1",
		ClientSecret:     "s",
		RefreshToken:     "r",
		DefaultAccountID: "5WT00002",
	})
	require.NoError(t, err)

	_, account, err := acc.WithSession(context.Background(), "t1", "")
	require.NoError(t, err)
	assert.Equal(t, "5WT00002", account)
}

func TestWithSessionFallsBackToFirstListedAccount(t *testing.T) {
	lister := &fakeLister{accounts: []tasty.Account{
		{AccountNumber: "5WT00007"},
		{AccountNumber: "5WT00008"},
	}}
	acc, _, store := newTestAccessor(t, lister)
	seedTenant(t, store, "t1") // no default account configured

	_, account, err := acc.WithSession(context.Background(), "t1", "")
	require.NoError(t, err)
	assert.Equal(t, "5WT00007", account)
}

func TestWithSessionUnknownAccount(t *testing.T) {
	lister := &fakeLister{accounts: []tasty.Account{
		{AccountNumber: "5WT00001"},
	}}
	acc, _, store := newTestAccessor(t, lister)
	seedTenant(t, store, "t1")

	_, _, err := acc.WithSession(context.Background(), "t1", "5WT99999")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestWithSessionNoAccounts(t *testing.T) {
	lister := &fakeLister{}
	acc, _, store := newTestAccessor(t, lister)
	seedTenant(t, store, "t1")

	_, _, err := acc.WithSession(context.Background(), "t1", "")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestWithSessionUnknownTenant(t *testing.T) {
	acc, _, _ := newTestAccessor(t, &fakeLister{})

	_, _, err := acc.WithSession(context.Background(), "nobody", "")
	assert.ErrorIs(t, err, ErrUnknownTenant)
}

func TestAccountResolutionIsCached(t *testing.T) {
	lister := &fakeLister{accounts: []tasty.Account{{AccountNumber: "5WT00001"}}}
	acc, _, store := newTestAccessor(t, lister)
	seedTenant(t, store, "t1")

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, account, err := acc.WithSession(ctx, "t1", "")
		require.NoError(t, err)
		assert.Equal(t, "5WT00001", account)
	}
	assert.Equal(t, 1, lister.callCount(), "repeat resolutions must hit the cache")
}

func TestResolutionCacheBustedOnInvalidate(t *testing.T) {
	lister := &fakeLister{accounts: []tasty.Account{{AccountNumber: "5WT00001"}}}
	acc, mgr, store := newTestAccessor(t, lister)
	seedTenant(t, store, "t1")

	ctx := context.Background()
	_, _, err := acc.WithSession(ctx, "t1", "")
	require.NoError(t, err)
	require.Equal(t, 1, lister.callCount())

	// A credential replacement may point at a different login entirely,
	// so the cached resolution must not survive it.
	mgr.Invalidate("t1")

	lister.mu.Lock()
	lister.accounts = []tasty.Account{{AccountNumber: "5WT00099"}}
	lister.mu.Unlock()

	_, account, err := acc.WithSession(ctx, "t1", "")
	require.NoError(t, err)
	assert.Equal(t, "5WT00099", account)
	assert.Equal(t, 2, lister.callCount())
}

func TestSessionSkipsAccountResolution(t *testing.T) {
	lister := &fakeLister{}
	acc, _, store := newTestAccessor(t, lister)
	seedTenant(t, store, "t1")

	s, err := acc.Session(context.Background(), "t1")
	require.NoError(t, err)
	assert.NotEmpty(t, s.AccessToken)
	assert.Zero(t, lister.callCount())
}
