package observability

import "github.com/anyclaude/anyclaude/internal/upstream"

// PreRequestContext is handed to every plugin's PreRequest hook before the
// Upstream Client forwards the request.
type PreRequestContext struct {
	RequestID string
	BackendID string
	Path      string
	Method    string
}

// BackendOverride lets a plugin redirect a request to a different backend.
// No shipped plugin currently returns one, but the hook exists so
// enrichment plugins can implement A/B routing or cost-based steering
// without changing the Hub's interface.
type BackendOverride struct {
	BackendID string
}

// PostResponseContext is handed to every plugin's PostResponse hook once a
// request's Record is finalized.
type PostResponseContext struct {
	Record *upstream.RequestRecord
}

// Plugin is the Observability Hub's enrichment surface.
type Plugin interface {
	Name() string
	PreRequest(ctx PreRequestContext) (*BackendOverride, error)
	PostResponse(ctx PostResponseContext)
}

// Register adds a plugin. It takes the same lock as RunPreRequest and
// RunPostResponse, so it may run concurrently with them; a run already in
// progress uses the plugin list as it was when that run started.
func (h *Hub) Register(p Plugin) {
	h.pluginsMu.Lock()
	defer h.pluginsMu.Unlock()
	h.plugins = append(h.plugins, p)
}

// RunPreRequest invokes every registered plugin's PreRequest hook in
// registration order and returns the first non-nil override. A panicking
// plugin is caught, logged, and treated as having returned no override;
// the proxy keeps serving.
func (h *Hub) RunPreRequest(ctx PreRequestContext) *BackendOverride {
	h.pluginsMu.Lock()
	plugins := make([]Plugin, len(h.plugins))
	copy(plugins, h.plugins)
	h.pluginsMu.Unlock()

	for _, p := range plugins {
		override := h.safePreRequest(p, ctx)
		if override != nil {
			return override
		}
	}
	return nil
}

func (h *Hub) safePreRequest(p Plugin, ctx PreRequestContext) (override *BackendOverride) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("observability plugin panicked in pre_request", "plugin", p.Name(), "panic", r)
			override = nil
		}
	}()
	result, err := p.PreRequest(ctx)
	if err != nil {
		h.log.Warn("observability plugin pre_request error", "plugin", p.Name(), "err", err)
		return nil
	}
	return result
}

// RunPostResponse invokes every registered plugin's PostResponse hook,
// recovering from and logging any panic.
func (h *Hub) RunPostResponse(ctx PostResponseContext) {
	h.pluginsMu.Lock()
	plugins := make([]Plugin, len(h.plugins))
	copy(plugins, h.plugins)
	h.pluginsMu.Unlock()

	for _, p := range plugins {
		h.safePostResponse(p, ctx)
	}
}

func (h *Hub) safePostResponse(p Plugin, ctx PostResponseContext) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("observability plugin panicked in post_response", "plugin", p.Name(), "panic", r)
		}
	}()
	p.PostResponse(ctx)
}
