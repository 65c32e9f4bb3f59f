package session

import "errors"

var (
	// ErrUnknownTenant means the tenant key has no credential on record.
	// The caller must register credentials before anything else can work.
	ErrUnknownTenant = errors.New("unknown tenant: no credentials configured")

	// ErrCredentialsRevoked means the upstream explicitly rejected the
	// tenant's refresh token. Terminal until a new credential is stored;
	// the gateway never retries it on its own.
	ErrCredentialsRevoked = errors.New("tastytrade refresh token is invalid or revoked; re-register credentials")

	// ErrUpstreamTransient covers network failures, timeouts and upstream
	// 5xx during authentication. The next caller or the next scheduler
	// tick retries naturally; no state is reset.
	ErrUpstreamTransient = errors.New("transient upstream authentication failure")

	// ErrAccountNotFound means an explicitly requested account is not
	// visible under the tenant's session.
	ErrAccountNotFound = errors.New("account not found for tenant")

	// errStaleGeneration is an internal signal: the credential was
	// replaced while a refresh was in flight, so its result was discarded.
	errStaleGeneration = errors.New("credential replaced during refresh")
)
