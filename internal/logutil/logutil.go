package logutil

import (
	"strings"
)

// RedactedValue replaces sensitive values in logs and reports.
const RedactedValue = "[REDACTED]"

// IsSensitiveLogField returns true when a key or selector likely refers to sensitive data.
func IsSensitiveLogField(key string) bool {
	normalized := strings.ToLower(strings.TrimSpace(key))
	normalized = strings.ReplaceAll(normalized, "-", "")
	normalized = strings.ReplaceAll(normalized, "_", "")

	switch {
	case normalized == "authorization":
		return true
	case strings.Contains(normalized, "token"):
		return true
	case strings.Contains(normalized, "secret"):
		return true
	case strings.Contains(normalized, "password"):
		return true
	case strings.Contains(normalized, "apikey"):
		return true
	case strings.Contains(normalized, "cookie"):
		return true
	default:
		return false
	}
}

// RedactValue redacts value when key looks sensitive.
func RedactValue(key, value string) string {
	if IsSensitiveLogField(key) {
		return RedactedValue
	}
	return value
}

// TruncateForLog returns a single-line truncated preview for unstructured values.
func TruncateForLog(value string, maxChars int) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	normalized := strings.ReplaceAll(trimmed, "\n", "\\n")
	if maxChars <= 0 || len(normalized) <= maxChars {
		return normalized
	}
	cut := maxChars
	// keep multi-byte text (Bengali instructions) valid
	for cut > 0 && !isRuneStart(normalized[cut]) {
		cut--
	}
	return normalized[:cut] + "... [truncated]"
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
