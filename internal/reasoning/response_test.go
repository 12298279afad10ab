package reasoning

import "testing"

func TestRegisterFromResponseBody(t *testing.T) {
	r := New("a")
	body := []byte(`{"content":[{"type":"thinking","text":"I should say hi"},{"type":"text","text":"hi there"}]}`)
	RegisterFromResponseBody(r, body)
	if r.Len() != 1 {
		t.Fatalf("expected 1 registered reasoning block, got %d", r.Len())
	}
}

func TestRegisterFromResponseBodyMalformedIsIgnored(t *testing.T) {
	r := New("a")
	RegisterFromResponseBody(r, []byte("not json"))
	if r.Len() != 0 {
		t.Fatal("malformed body should not register anything")
	}
}

func TestStreamAccumulatorRegistersOnlyOnStop(t *testing.T) {
	r := New("a")
	acc := NewStreamAccumulator(r)

	acc.HandleEvent("content_block_start", []byte(`{"index":0,"content_block":{"type":"thinking"}}`))
	acc.HandleEvent("content_block_delta", []byte(`{"index":0,"delta":{"type":"thinking_delta","text":"I should "}}`))
	acc.HandleEvent("content_block_delta", []byte(`{"index":0,"delta":{"type":"thinking_delta","text":"say hi"}}`))
	if r.Len() != 0 {
		t.Fatal("partial block must not be registered before content_block_stop")
	}

	acc.HandleEvent("content_block_stop", []byte(`{"index":0}`))
	if r.Len() != 1 {
		t.Fatalf("expected 1 registered block after stop, got %d", r.Len())
	}

	if Hash("I should say hi") != firstEntryHash(r) {
		t.Fatal("registered block content did not match accumulated deltas")
	}
}

func TestStreamAccumulatorIgnoresNonReasoningBlocks(t *testing.T) {
	r := New("a")
	acc := NewStreamAccumulator(r)

	acc.HandleEvent("content_block_start", []byte(`{"index":0,"content_block":{"type":"text"}}`))
	acc.HandleEvent("content_block_delta", []byte(`{"index":0,"delta":{"type":"text_delta","text":"hi there"}}`))
	acc.HandleEvent("content_block_stop", []byte(`{"index":0}`))
	if r.Len() != 0 {
		t.Fatal("plain text blocks should never be registered")
	}
}

func TestStreamAccumulatorHandlesRedactedThinking(t *testing.T) {
	r := New("a")
	acc := NewStreamAccumulator(r)

	acc.HandleEvent("content_block_start", []byte(`{"index":0,"content_block":{"type":"redacted_thinking"}}`))
	acc.HandleEvent("content_block_delta", []byte(`{"index":0,"delta":{"type":"redacted_delta","data":"opaque"}}`))
	acc.HandleEvent("content_block_stop", []byte(`{"index":0}`))
	if r.Len() != 1 {
		t.Fatalf("expected redacted_thinking block registered, got %d entries", r.Len())
	}
}

func firstEntryHash(r *Registry) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	for h := range r.entries {
		return h
	}
	return 0
}
