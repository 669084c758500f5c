package logger

import "testing"

func TestSanitizeValueHashesUserAndConcern(t *testing.T) {
	if got := sanitizeValue("user_id", "u-1"); got == "u-1" {
		t.Fatalf("user_id should be hashed, got=%v", got)
	}
	if got := sanitizeValue("concern", "I want to quit my job"); got == "I want to quit my job" {
		t.Fatalf("concern should be hashed, got=%v", got)
	}
	if got := sanitizeValue("concern_category", "career"); got != "career" {
		t.Fatalf("concern_category: want=career got=%v", got)
	}
}

func TestSanitizeValueRedactsSecrets(t *testing.T) {
	for _, key := range []string{"api_key", "authorization", "jwt_secret", "access_token"} {
		if got := sanitizeValue(key, "value"); got != "[REDACTED]" {
			t.Fatalf("%s: want=[REDACTED] got=%v", key, got)
		}
	}
	if got := sanitizeValue("input_tokens", 42); got != 42 {
		t.Fatalf("input_tokens: want=42 got=%v", got)
	}
}

func TestHashValueIsStable(t *testing.T) {
	a := hashValue("user-42")
	b := hashValue("user-42")
	if a != b {
		t.Fatalf("hash not stable: %s vs %s", a, b)
	}
	if hashValue("") != "" {
		t.Fatalf("empty input should hash to empty")
	}
}
