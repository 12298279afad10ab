package shutdown

import "sync/atomic"

// atomicPhase is a small typed wrapper around atomic.Int32 so Coordinator
// can expose Phase() as a cheap lock-free read from any goroutine; each
// owner polls the phase rather than being driven by a dispatcher.
type atomicPhase struct {
	v atomic.Int32
}

func (a *atomicPhase) load() Phase { return Phase(a.v.Load()) }

func (a *atomicPhase) store(p Phase) { a.v.Store(int32(p)) }
