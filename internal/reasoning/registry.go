// Package reasoning implements the Reasoning Registry and Reasoning
// Transformer: tracking which reasoning blocks are valid for
// the currently active backend and stripping/summarizing the rest so a
// backend switch never forwards a block signed by another provider.
package reasoning

import (
	"sync"
	"time"
)

// reasoning content block types this registry tracks.
const (
	typeThinking         = "thinking"
	typeRedactedThinking = "redacted_thinking"
)

func isReasoningType(t string) bool {
	return t == typeThinking || t == typeRedactedThinking
}

// DefaultOrphanThreshold is the registry's default orphan sweep window.
const DefaultOrphanThreshold = 5 * time.Minute

// BlockEntry tracks one registered reasoning block.
type BlockEntry struct {
	Hash         uint64
	SessionID    uint64
	Confirmed    bool
	RegisteredAt time.Time
}

// Registry is the Reasoning Registry state. All mutating
// operations take the lock; each call is O(blocks in the request).
type Registry struct {
	mu              sync.Mutex
	currentSession  uint64
	currentBackend  string
	entries         map[uint64]*BlockEntry
	orphanThreshold time.Duration
	now             func() time.Time
}

// New creates a Registry seeded with the active backend id.
func New(initialBackendID string) *Registry {
	return &Registry{
		currentBackend:  initialBackendID,
		entries:         make(map[uint64]*BlockEntry),
		orphanThreshold: DefaultOrphanThreshold,
		now:             time.Now,
	}
}

// CurrentSessionID returns the registry's session counter.
func (r *Registry) CurrentSessionID() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentSession
}

// NotifyBackendSwitch increments the session id iff newID differs from the
// backend the registry currently believes is active.
func (r *Registry) NotifyBackendSwitch(newID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if newID == r.currentBackend {
		return
	}
	r.currentBackend = newID
	r.currentSession++
}

// FilterStats reports what the outbound filter pass did.
type FilterStats struct {
	Extracted int
	Confirmed int
	Removed   int
	Retained  int
	Dropped   int
}

// FilterRequest runs the four-step outbound protocol: extract,
// confirm, cleanup, filter. body is the parsed request; messages is a
// mutable view of body["messages"] as []any (already unmarshaled by the
// caller, who owns re-serialization). FilterRequest mutates messages in
// place, dropping reasoning items that don't survive the filter, and
// returns whether anything changed plus stats for observability.
func (r *Registry) FilterRequest(messages []any) (bool, FilterStats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	var stats FilterStats
	present := make(map[uint64]bool)

	// Step 1: extract.
	for _, m := range messages {
		msg, ok := m.(map[string]any)
		if !ok {
			continue
		}
		items, ok := msg["content"].([]any)
		if !ok {
			continue
		}
		for _, it := range items {
			item, ok := it.(map[string]any)
			if !ok {
				continue
			}
			typ, _ := item["type"].(string)
			if !isReasoningType(typ) {
				continue
			}
			h := hashOf(typ, item)
			present[h] = true
			stats.Extracted++
		}
	}

	// Step 2: confirm.
	for h := range present {
		if e, ok := r.entries[h]; ok {
			e.Confirmed = true
			stats.Confirmed++
		}
	}

	// Step 3: cleanup.
	for h, e := range r.entries {
		switch {
		case e.SessionID != r.currentSession:
			delete(r.entries, h)
			stats.Removed++
		case e.Confirmed && !present[h]:
			delete(r.entries, h)
			stats.Removed++
		case !e.Confirmed && !present[h] && now.Sub(e.RegisteredAt) > r.orphanThreshold:
			delete(r.entries, h)
			stats.Removed++
		}
	}

	// Step 4: filter.
	changed := false
	for _, m := range messages {
		msg, ok := m.(map[string]any)
		if !ok {
			continue
		}
		items, ok := msg["content"].([]any)
		if !ok {
			continue
		}
		kept := items[:0:0]
		for _, it := range items {
			item, ok := it.(map[string]any)
			if !ok {
				kept = append(kept, it)
				continue
			}
			typ, _ := item["type"].(string)
			if !isReasoningType(typ) {
				kept = append(kept, it)
				continue
			}
			h := hashOf(typ, item)
			entry, ok := r.entries[h]
			if ok && entry.SessionID == r.currentSession {
				kept = append(kept, it)
				stats.Retained++
			} else {
				changed = true
				stats.Dropped++
			}
		}
		if len(kept) != len(items) {
			msg["content"] = kept
		}
	}

	return changed, stats
}

// RegisterFromResponse inserts unconfirmed entries for reasoning items found
// in a complete (non-streaming) response body's content array (response
// side). A failure to register never fails response delivery; callers
// should log but not propagate errors from this path's callers.
func (r *Registry) RegisterFromResponse(items []any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	for _, it := range items {
		item, ok := it.(map[string]any)
		if !ok {
			continue
		}
		typ, _ := item["type"].(string)
		if !isReasoningType(typ) {
			continue
		}
		h := hashOf(typ, item)
		r.entries[h] = &BlockEntry{
			Hash:         h,
			SessionID:    r.currentSession,
			Confirmed:    false,
			RegisteredAt: now,
		}
	}
}

// RegisterBlock inserts a single accumulated streaming block (SSE
// case): content is the fully accumulated text/data for the block, typ is
// its reasoning type.
func (r *Registry) RegisterBlock(typ, content string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := Hash(content)
	r.entries[h] = &BlockEntry{
		Hash:         h,
		SessionID:    r.currentSession,
		Confirmed:    false,
		RegisteredAt: r.now(),
	}
}

func hashOf(typ string, item map[string]any) uint64 {
	var text string
	if typ == typeRedactedThinking {
		text, _ = item["data"].(string)
	} else {
		text, _ = item["text"].(string)
	}
	return Hash(text)
}

// Len reports the number of entries currently tracked, for tests and
// observability snapshots.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
