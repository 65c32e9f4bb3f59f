package utils

import "regexp"

var dsnPasswordRegex = regexp.MustCompile(`(:)([^:@]+)(@)`)

// MaskDSN hides the password portion of a database connection string.
func MaskDSN(dsn string) string {
	return dsnPasswordRegex.ReplaceAllString(dsn, ":***@")
}

// KeyPreview returns a short, log-safe preview of an API key or secret.
// Full key material must never reach the logs.
func KeyPreview(key string) string {
	if len(key) <= 8 {
		return key
	}
	return key[:8] + "..."
}
