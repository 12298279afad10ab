package observability

import (
	"errors"
	"testing"
)

type recordingPlugin struct {
	name      string
	override  *BackendOverride
	preErr    error
	postCalls []PostResponseContext
}

func (p *recordingPlugin) Name() string { return p.name }
func (p *recordingPlugin) PreRequest(ctx PreRequestContext) (*BackendOverride, error) {
	return p.override, p.preErr
}
func (p *recordingPlugin) PostResponse(ctx PostResponseContext) {
	p.postCalls = append(p.postCalls, ctx)
}

type panickingPlugin struct{}

func (panickingPlugin) Name() string { return "panicky" }
func (panickingPlugin) PreRequest(ctx PreRequestContext) (*BackendOverride, error) {
	panic("boom")
}
func (panickingPlugin) PostResponse(ctx PostResponseContext) {
	panic("boom")
}

func TestRunPreRequestReturnsFirstOverride(t *testing.T) {
	h := New(10)
	h.Register(&recordingPlugin{name: "noop"})
	h.Register(&recordingPlugin{name: "router", override: &BackendOverride{BackendID: "fallback"}})

	got := h.RunPreRequest(PreRequestContext{RequestID: "r1"})
	if got == nil || got.BackendID != "fallback" {
		t.Fatalf("got %+v, want override to fallback", got)
	}
}

func TestRunPreRequestSkipsPluginsThatError(t *testing.T) {
	h := New(10)
	h.Register(&recordingPlugin{name: "broken", preErr: errors.New("boom")})

	got := h.RunPreRequest(PreRequestContext{})
	if got != nil {
		t.Fatalf("expected nil override from an erroring plugin, got %+v", got)
	}
}

func TestRunPreRequestRecoversFromPanic(t *testing.T) {
	h := New(10)
	h.Register(panickingPlugin{})
	h.Register(&recordingPlugin{name: "after", override: &BackendOverride{BackendID: "b"}})

	got := h.RunPreRequest(PreRequestContext{})
	if got == nil || got.BackendID != "b" {
		t.Fatalf("a panicking plugin must not stop later plugins from running: got %+v", got)
	}
}

func TestRunPostResponseRecoversFromPanic(t *testing.T) {
	h := New(10)
	rp := &recordingPlugin{name: "after"}
	h.Register(panickingPlugin{})
	h.Register(rp)

	h.RunPostResponse(PostResponseContext{})
	if len(rp.postCalls) != 1 {
		t.Fatalf("post-response plugin after a panicking one should still run, got %d calls", len(rp.postCalls))
	}
}

func TestPushInvokesPostResponsePlugins(t *testing.T) {
	h := New(10)
	rp := &recordingPlugin{name: "watcher"}
	h.Register(rp)

	h.Push(rec("a", 200, 1, nil))

	if len(rp.postCalls) != 1 {
		t.Fatalf("Push should fire PostResponse plugins, got %d calls", len(rp.postCalls))
	}
}
