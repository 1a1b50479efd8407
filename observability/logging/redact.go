package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue is the placeholder written in place of sensitive log fields.
const RedactedValue = "[REDACTED]"

var redactionAllowlist = map[string]struct{}{
	"service":   {},
	"env":       {},
	"message":   {},
	"severity":  {},
	"timestamp": {},
	"error":     {},
	"component": {},
	"method":    {},
	"path":      {},
	"status":    {},
	"requestid": {},
}

// IsAllowlisted reports whether the key may be logged verbatim.
func IsAllowlisted(key string) bool {
	_, ok := redactionAllowlist[strings.ToLower(strings.TrimSpace(key))]
	return ok
}

// MaskField returns a slog.Attr carrying the value only when the key is
// allowlisted; anything else is masked. Used for request attributes that may
// carry bearer tokens or account secrets.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" || IsAllowlisted(key) {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}
