// Package secret centralizes masking of caller-supplied credentials so
// no ad-hoc log line can leak a raw provider key or HF token. The
// webhook dispatcher masks the webhook URL and redacts error strings
// through here before logging them. Deployment documents are
// serialized directly (SSE, GET): they hold no raw provider key or HF
// token, and their AWS credential fields are excluded from JSON by
// struct tags.
package secret

import "strings"

// visibleChars is how many leading characters of a secret are kept
// visible — enough to recognize a key in logs without exposing it.
const visibleChars = 4

// Mask returns a redacted form of value: its first visibleChars
// characters followed by "...redacted". A value of visibleChars
// characters or fewer becomes "***redacted" with nothing kept visible.
// Empty strings pass through unchanged.
func Mask(value string) string {
	if value == "" {
		return ""
	}
	if len(value) <= visibleChars {
		return "***redacted"
	}
	return value[:visibleChars] + "...redacted"
}

// Redact replaces every verbatim occurrence of secretValue in text
// with its masked form, for safe inclusion of an error string in logs.
func Redact(text, secretValue string) string {
	if secretValue == "" {
		return text
	}
	return strings.ReplaceAll(text, secretValue, Mask(secretValue))
}

// Contains reports whether haystack contains any non-empty string in
// secrets verbatim — used in tests to assert a logged/serialized blob
// never echoes a raw credential.
func Contains(haystack string, secrets ...string) bool {
	for _, s := range secrets {
		if s != "" && strings.Contains(haystack, s) {
			return true
		}
	}
	return false
}
