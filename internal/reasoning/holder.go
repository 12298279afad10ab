package reasoning

import "sync/atomic"

// Holder publishes the currently active Transformer so the Upstream Client
// can read it without locking (hot-swappable between strip and
// summarize), matching the same atomic-pointer publish pattern
// [[internal/config]]'s Store uses for its own hot-reloaded snapshot.
type Holder struct {
	current atomic.Pointer[Transformer]
}

// NewHolder creates a Holder seeded with initial.
func NewHolder(initial Transformer) *Holder {
	h := &Holder{}
	h.Set(initial)
	return h
}

// Current implements upstream.TransformerProvider.
func (h *Holder) Current() Transformer {
	p := h.current.Load()
	if p == nil {
		return nil
	}
	return *p
}

// Set publishes a new active transformer, e.g. when the config hot-reloads
// a new reasoning.mode.
func (h *Holder) Set(t Transformer) {
	h.current.Store(&t)
}
