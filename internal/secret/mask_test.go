package secret

import "testing"

func TestMaskEmptyPassesThrough(t *testing.T) {
	if got := Mask(""); got != "" {
		t.Errorf("expected empty string, got %q", got)
	}
}

func TestMaskShortValueFullyRedacted(t *testing.T) {
	got := Mask("abc")
	if got != "***redacted" {
		t.Errorf("expected fully redacted short value, got %q", got)
	}
	if Contains(got, "abc") {
		t.Error("masked output must not contain the raw secret")
	}
}

func TestMaskLongValueKeepsPrefixOnly(t *testing.T) {
	raw := "sk-live-1234567890abcdef"
	got := Mask(raw)
	if Contains(got, raw) {
		t.Error("masked output must not contain the raw secret verbatim")
	}
	if got[:4] != raw[:4] {
		t.Errorf("expected visible prefix %q, got %q", raw[:4], got[:4])
	}
}

func TestRedactRemovesAllOccurrences(t *testing.T) {
	raw := "supersecretkey"
	text := "request failed: auth header was Bearer " + raw + " (key " + raw + ")"
	redacted := Redact(text, raw)
	if Contains(redacted, raw) {
		t.Errorf("redacted text still contains raw secret: %q", redacted)
	}
}

func TestRedactEmptySecretIsNoop(t *testing.T) {
	text := "nothing to redact here"
	if got := Redact(text, ""); got != text {
		t.Errorf("expected unchanged text, got %q", got)
	}
}

func TestContainsDetectsAnyMatch(t *testing.T) {
	if !Contains("prefix-abc-suffix", "xyz", "abc") {
		t.Error("expected Contains to find the matching secret")
	}
	if Contains("prefix-suffix", "abc") {
		t.Error("expected Contains to report no match")
	}
}
