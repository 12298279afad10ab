package reasoning

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/anyclaude/anyclaude/internal/config"
)

func TestStripTransformerRemovesReasoningAndContextManagement(t *testing.T) {
	tr := &StripTransformer{}
	body := map[string]any{
		"context_management": map[string]any{"edits": []any{}},
		"messages": []any{
			map[string]any{
				"role": "assistant",
				"content": []any{
					map[string]any{"type": "thinking", "text": "scratch"},
					map[string]any{"type": "text", "text": "answer"},
				},
			},
		},
	}

	changed, stats, err := tr.TransformRequest(body, RequestContext{})
	if err != nil {
		t.Fatalf("TransformRequest: %v", err)
	}
	if !changed {
		t.Fatal("expected change")
	}
	if stats.ItemsRemoved != 1 {
		t.Fatalf("expected 1 item removed, got %d", stats.ItemsRemoved)
	}
	if _, ok := body["context_management"]; ok {
		t.Fatal("context_management should be removed")
	}
	msg := body["messages"].([]any)[0].(map[string]any)
	if len(msg["content"].([]any)) != 1 {
		t.Fatal("only the text block should remain")
	}
}

func TestSummarizeTransformerPrependsPendingSummary(t *testing.T) {
	cfg := &config.SummarizeConfig{BaseURL: "http://example.invalid", Model: "m", MaxTokens: 100}
	tr := NewSummarizeTransformer(cfg, nil)
	tr.pendingSummary = "earlier context"

	body := map[string]any{
		"messages": []any{
			map[string]any{"role": "user", "content": "hello"},
		},
	}

	changed, _, err := tr.TransformRequest(body, RequestContext{})
	if err != nil {
		t.Fatalf("TransformRequest: %v", err)
	}
	if !changed {
		t.Fatal("expected change")
	}
	msg := body["messages"].([]any)[0].(map[string]any)
	got := msg["content"].(string)
	want := "[CONTEXT FROM PREVIOUS SESSION]earlier context[/CONTEXT FROM PREVIOUS SESSION]\n\nhello"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
	if tr.pendingSummary != "" {
		t.Fatal("pending summary should be cleared after use")
	}
}

func TestSummarizeTransformerOnBackendSwitchCallsEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("missing bearer auth header")
		}
		w.Header().Set("Content-Type", "text/event-stream")
		sse := `data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"<system-reminder>skip</system-reminder>kept summary"}}
data: [DONE]
`
		_, _ = w.Write([]byte(sse))
	}))
	defer srv.Close()

	cfg := &config.SummarizeConfig{BaseURL: srv.URL, APIKey: "tok", Model: "m", MaxTokens: 50}
	tr := NewSummarizeTransformer(cfg, nil)
	tr.lastMessages = []any{map[string]any{"role": "user", "content": "hi"}}

	if err := tr.OnBackendSwitchErr(context.Background(), "a", "b"); err != nil {
		t.Fatalf("OnBackendSwitchErr: %v", err)
	}
	if tr.pendingSummary != "kept summary" {
		t.Fatalf("pendingSummary = %q", tr.pendingSummary)
	}
}

func TestSummarizeTransformerSwitchFailureYieldsSummarizationError(t *testing.T) {
	cfg := &config.SummarizeConfig{BaseURL: "http://127.0.0.1:0", APIKey: "tok", Model: "m", MaxTokens: 50}
	tr := NewSummarizeTransformer(cfg, nil)
	tr.lastMessages = []any{map[string]any{"role": "user", "content": "hi"}}

	err := tr.OnBackendSwitchErr(context.Background(), "a", "b")
	if err == nil {
		t.Fatal("expected error from unreachable summarizer")
	}
	if _, ok := err.(*SummarizationError); !ok {
		t.Fatalf("expected *SummarizationError, got %T", err)
	}
}

func TestStripSystemReminders(t *testing.T) {
	in := "before<system-reminder>hidden</system-reminder>after"
	if got := stripSystemReminders(in); got != "beforeafter" {
		t.Fatalf("got %q", got)
	}
}

func TestPrependSummaryBlockContent(t *testing.T) {
	messages := []any{
		map[string]any{
			"role": "user",
			"content": []any{
				map[string]any{"type": "text", "text": "hello"},
			},
		},
	}
	if !prependSummary(messages, "ctx") {
		t.Fatal("expected prepend to succeed")
	}
	item := messages[0].(map[string]any)["content"].([]any)[0].(map[string]any)
	if !strings.Contains(item["text"].(string), "hello") {
		t.Fatal("original text should be preserved")
	}
}
