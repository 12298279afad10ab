package reasoning

import "testing"

func TestHolderCurrentReturnsLatestSet(t *testing.T) {
	h := NewHolder(&StripTransformer{})
	if h.Current().Name() != "strip" {
		t.Fatalf("Current().Name() = %q, want strip", h.Current().Name())
	}

	h.Set(NewSummarizeTransformer(nil, nil))
	if h.Current().Name() != "summarize" {
		t.Fatalf("Current().Name() = %q, want summarize", h.Current().Name())
	}
}
