package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue is the canonical placeholder for sensitive fields in logs.
const RedactedValue = "[REDACTED]"

// Seed masks a wallet seed for logging. Seeds are signing material and must
// never be emitted; only a short prefix survives so operators can correlate
// requests without recovering the key.
func Seed(key, seed string) slog.Attr {
	seed = strings.TrimSpace(seed)
	if seed == "" {
		return slog.String(key, seed)
	}
	if len(seed) <= 4 {
		return slog.String(key, RedactedValue)
	}
	return slog.String(key, seed[:4]+RedactedValue)
}

// MaskValue returns the redaction placeholder for non-empty values. Empty
// values pass through unchanged to keep logs terse.
func MaskValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return value
	}
	return RedactedValue
}
