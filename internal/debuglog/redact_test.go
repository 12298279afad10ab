package debuglog

import (
	"encoding/json"
	"net/http"
	"testing"
)

func TestRedactHeadersBlanksKnownKeys(t *testing.T) {
	h := http.Header{}
	h.Set("Authorization", "Bearer sk-ant-abc123")
	h.Set("X-Api-Key", "secret-value")
	h.Set("Content-Type", "application/json")

	out := RedactHeaders(h)
	if out.Get("Authorization") != redactedPlaceholder {
		t.Fatalf("Authorization not redacted: %q", out.Get("Authorization"))
	}
	if out.Get("X-Api-Key") != redactedPlaceholder {
		t.Fatalf("X-Api-Key not redacted: %q", out.Get("X-Api-Key"))
	}
	if out.Get("Content-Type") != "application/json" {
		t.Fatalf("unrelated header was mutated: %q", out.Get("Content-Type"))
	}
	// original must be untouched
	if h.Get("Authorization") == redactedPlaceholder {
		t.Fatal("RedactHeaders must not mutate its input")
	}
}

func TestRedactJSONBlanksNestedSensitiveKeys(t *testing.T) {
	var parsed map[string]any
	raw := []byte(`{"model":"x","auth":{"api_key":"sk-123","other":"keep"},"items":[{"password":"hunter2"}]}`)
	if err := json.Unmarshal(raw, &parsed); err != nil {
		t.Fatal(err)
	}

	redacted := RedactJSON(parsed).(map[string]any)
	auth := redacted["auth"].(map[string]any)
	if auth["api_key"] != redactedPlaceholder {
		t.Fatalf("nested api_key not redacted: %v", auth["api_key"])
	}
	if auth["other"] != "keep" {
		t.Fatalf("unrelated nested key mutated: %v", auth["other"])
	}
	items := redacted["items"].([]any)
	first := items[0].(map[string]any)
	if first["password"] != redactedPlaceholder {
		t.Fatalf("password in array element not redacted: %v", first["password"])
	}
}

func TestMaskTokensMasksLongRunsKeepingPrefixAndSuffix(t *testing.T) {
	text := "Bearer sk-ant-REDACTED trailing text"
	masked := MaskTokens(text)
	if masked == text {
		t.Fatal("expected the long token run to be masked")
	}
	if masked[len(masked)-len("trailing text"):] != "trailing text" {
		t.Fatalf("surrounding text should be preserved: %q", masked)
	}
}

func TestMaskTokensLeavesShortWordsAlone(t *testing.T) {
	text := "model claude-3 ok"
	if got := MaskTokens(text); got != text {
		t.Fatalf("short tokens should not be masked: %q", got)
	}
}
