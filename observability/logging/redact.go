package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue replaces sensitive values in log lines.
const RedactedValue = "[REDACTED]"

// Keys that identify ledger objects rather than people are logged as is.
var plainKeys = map[string]struct{}{
	"vaultid":    {},
	"schemeid":   {},
	"height":     {},
	"op":         {},
	"code":       {},
	"reason":     {},
	"error":      {},
	"method":     {},
	"request_id": {},
}

func isPlainKey(key string) bool {
	_, ok := plainKeys[strings.ToLower(strings.TrimSpace(key))]
	return ok
}

// MaskField logs value under key, redacted unless the key names a ledger
// object. Empty values pass through.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" || isPlainKey(key) {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}

// MaskAddress keeps the bech32 prefix and the last four characters of an
// address so log lines can be correlated without exposing the account.
func MaskAddress(addr string) string {
	trimmed := strings.TrimSpace(addr)
	if trimmed == "" {
		return trimmed
	}
	sep := strings.LastIndexByte(trimmed, '1')
	if sep <= 0 || len(trimmed)-sep <= 5 {
		return RedactedValue
	}
	return trimmed[:sep+1] + "..." + trimmed[len(trimmed)-4:]
}
