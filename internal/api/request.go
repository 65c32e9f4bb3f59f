package api

import (
	"errors"
	"strings"
)

// CredentialRequest is the admin payload for registering or replacing a
// tenant's Tastytrade OAuth credential. The record is replaced whole;
// there are no partial updates.
type CredentialRequest struct {
	ClientSecret     string `json:"client_secret"`
	RefreshToken     string `json:"refresh_token"`
	DefaultAccountID string `json:"default_account_id,omitempty"`
}

// Validate checks the required fields.
func (r CredentialRequest) Validate() error {
	if r.ClientSecret == "" {
		return errors.New("client_secret is required")
	}
	if r.RefreshToken == "" {
		return errors.New("refresh_token is required")
	}
	return nil
}

// QuoteRequest asks for a one-shot quote snapshot.
type QuoteRequest struct {
	Symbols []string `json:"symbols"`
}

// normalizeSymbols uppercases and trims the requested symbols, dropping
// empties.
func normalizeSymbols(raw []string) []string {
	symbols := make([]string, 0, len(raw))
	for _, p := range raw {
		if s := strings.TrimSpace(p); s != "" {
			symbols = append(symbols, strings.ToUpper(s))
		}
	}
	return symbols
}
