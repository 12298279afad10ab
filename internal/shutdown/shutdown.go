// Package shutdown implements the Shutdown Coordinator: a phased,
// monotonic state machine that drives cooperative termination of the guest
// child process and the proxy listener in parallel, then restores the
// terminal and tears down the async runtime, all against a ~5s wall-clock
// budget.
package shutdown

import (
	"context"
	"sync"
	"time"

	"github.com/anyclaude/anyclaude/internal/logging"
)

// Phase is one step of the coordinator's state machine. Phases are
// advisory: each owner observes the current phase via a cheap atomic load
// rather than being driven by it directly.
type Phase int32

const (
	PhaseRunning Phase = iota
	PhaseSignaled
	PhaseStoppingInput
	PhaseTerminatingChild
	PhaseClosingProxy
	PhaseCleanup
	PhaseComplete
)

func (p Phase) String() string {
	switch p {
	case PhaseRunning:
		return "running"
	case PhaseSignaled:
		return "signaled"
	case PhaseStoppingInput:
		return "stopping_input"
	case PhaseTerminatingChild:
		return "terminating_child"
	case PhaseClosingProxy:
		return "closing_proxy"
	case PhaseCleanup:
		return "cleanup"
	case PhaseComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// Per-phase time budgets; total wall time stays under ~5s.
const (
	ChildTermGrace      = 300 * time.Millisecond
	ProxyDrainDeadline  = 500 * time.Millisecond
	CleanupDeadline     = 2 * time.Second
	TotalWallTimeTarget = 5 * time.Second
)

// ChildProcess is the minimal surface the coordinator needs from the
// guest's PTY child (implemented by internal/ptyhost).
type ChildProcess interface {
	CloseStdin() error
	Terminate() error // sends SIGTERM
	Kill() error       // sends SIGKILL
	Exited() <-chan struct{}
}

// ProxyCloser is the minimal surface the coordinator needs from the Proxy
// Server (implemented by internal/proxyserver).
type ProxyCloser interface {
	Shutdown(ctx context.Context) error
}

// Coordinator tracks the shutdown phase and runs the termination sequence
// exactly once.
type Coordinator struct {
	phase atomicPhase

	signalOnce sync.Once
	triggered  chan struct{}
	reason     string

	runOnce sync.Once
	now     func() time.Time
	log     interface {
		Info(string, ...any)
		Warn(string, ...any)
	}
}

// New creates a Coordinator in PhaseRunning.
func New() *Coordinator {
	return &Coordinator{
		triggered: make(chan struct{}),
		now:       time.Now,
		log:       logging.WithComponent("shutdown"),
	}
}

// Phase returns the current phase.
func (c *Coordinator) Phase() Phase { return c.phase.load() }

// Reason returns why shutdown was signaled, if it has been.
func (c *Coordinator) Reason() string { return c.reason }

// Signal arms shutdown exactly once; subsequent calls are no-ops. reason
// describes the trigger (operator quit, "signal: SIGINT", an unrecoverable
// failure's message, ...).
func (c *Coordinator) Signal(reason string) {
	c.signalOnce.Do(func() {
		c.reason = reason
		c.phase.store(PhaseSignaled)
		c.log.Info("shutdown signaled", "reason", reason)
		close(c.triggered)
	})
}

// Triggered is closed once Signal has been called.
func (c *Coordinator) Triggered() <-chan struct{} { return c.triggered }

// Run executes the phased termination sequence. It must only be called
// after Signal; calling it more than once is a no-op beyond the first.
// child and proxy may be nil (nothing to terminate / close). restoreTerm
// and shutdownRuntime may also be nil.
func (c *Coordinator) Run(child ChildProcess, proxy ProxyCloser, restoreTerm func() error, shutdownRuntime func(ctx context.Context) error) {
	c.runOnce.Do(func() {
		start := c.now()

		c.phase.store(PhaseStoppingInput)

		c.phase.store(PhaseTerminatingChild)
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			terminateChild(child)
		}()
		go func() {
			defer wg.Done()
			c.phase.store(PhaseClosingProxy)
			closeProxy(proxy)
		}()
		wg.Wait()

		c.phase.store(PhaseCleanup)
		if restoreTerm != nil {
			if err := restoreTerm(); err != nil {
				c.log.Warn("terminal restore failed", "error", err)
			}
		}
		if shutdownRuntime != nil {
			ctx, cancel := context.WithTimeout(context.Background(), CleanupDeadline)
			if err := shutdownRuntime(ctx); err != nil {
				c.log.Warn("runtime shutdown error", "error", err)
			}
			cancel()
		}

		c.phase.store(PhaseComplete)
		if elapsed := c.now().Sub(start); elapsed > TotalWallTimeTarget {
			c.log.Warn("shutdown exceeded wall-time target", "elapsed", elapsed, "target", TotalWallTimeTarget)
		}
	})
}

// terminateChild runs the child termination sequence: close
// stdin, SIGTERM, wait up to ChildTermGrace, SIGKILL if still alive, join
// the reader (observed via Exited()).
func terminateChild(child ChildProcess) {
	if child == nil {
		return
	}
	_ = child.CloseStdin()
	_ = child.Terminate()

	select {
	case <-child.Exited():
		return
	case <-time.After(ChildTermGrace):
	}

	_ = child.Kill()
	<-child.Exited()
}

func closeProxy(proxy ProxyCloser) {
	if proxy == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), ProxyDrainDeadline)
	defer cancel()
	_ = proxy.Shutdown(ctx)
}
