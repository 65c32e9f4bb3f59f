package session

import (
	"time"
)

// Session is the live upstream session for one tenant. A Session handed
// out by the Manager is an immutable snapshot: a refresh installs a fresh
// Session in the cache rather than writing to one already published, so
// holders may read fields freely from any goroutine.
type Session struct {
	TenantKey    string
	AccessToken  string
	ExpiresAt    time.Time
	RefreshToken string // token the next refresh will present; rotated by the upstream
	Identity     string // opaque upstream customer handle, empty until resolved
	IsSandbox    bool
}

// ValidFor reports whether the access token is good for at least margin
// beyond now.
func (s *Session) ValidFor(margin time.Duration) bool {
	return s != nil && time.Until(s.ExpiresAt) > margin
}
