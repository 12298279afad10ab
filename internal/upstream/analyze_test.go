package upstream

import (
	"encoding/json"
	"testing"
)

func TestAnalyzeRequestBody(t *testing.T) {
	raw := []byte(`{
		"model": "claude-opus-4",
		"system": "be brief",
		"thinking": {"type": "enabled", "budget_tokens": 1024},
		"messages": [
			{"role": "user", "content": "hello there, how are you today"},
			{"role": "user", "content": [
				{"type": "text", "text": "look at this"},
				{"type": "image", "source": {"type": "base64"}},
				{"type": "image", "source": {"type": "base64"}}
			]}
		]
	}`)
	var parsed map[string]any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	record := &RequestRecord{}
	analyzeRequestBody(parsed, record)

	if !record.ReasonRequested {
		t.Fatal("thinking field present, ReasonRequested should be true")
	}
	if record.ImageCount != 2 {
		t.Fatalf("ImageCount = %d, want 2", record.ImageCount)
	}
	// "be brief" + "hello there, how are you today" + "look at this" = 50 chars.
	if record.InputTokens != 50/4 {
		t.Fatalf("InputTokens = %d, want %d", record.InputTokens, 50/4)
	}
}

func TestAnalyzeRequestBodyPlainRequest(t *testing.T) {
	var parsed map[string]any
	if err := json.Unmarshal([]byte(`{"model":"m","messages":[{"role":"user","content":"hi"}]}`), &parsed); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	record := &RequestRecord{}
	analyzeRequestBody(parsed, record)

	if record.ReasonRequested || record.ImageCount != 0 {
		t.Fatalf("unexpected analysis: %+v", record)
	}
}
