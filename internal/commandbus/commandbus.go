// Package commandbus implements the Command Bus: a bounded,
// typed channel carrying requests from the synchronous front-end to the
// asynchronous runtime, each with a one-shot reply channel and a deadline
// the caller applies itself. Not exposed over a socket; in-process only.
package commandbus

import (
	"errors"
	"sync"
	"time"

	"github.com/anyclaude/anyclaude/internal/config"
	"github.com/anyclaude/anyclaude/internal/observability"
)

// Capacity is the bus's fixed channel depth.
const Capacity = 16

// DefaultDeadline is the reply wait the front-end applies per call;
// expiry is treated as non-fatal.
const DefaultDeadline = time.Second

// ErrTimeout is returned when a command or its reply is not serviced
// within the deadline. Callers treat this as non-fatal.
var ErrTimeout = errors.New("commandbus: deadline exceeded")

// ErrClosed is returned when Send is called after the bus has been closed.
var ErrClosed = errors.New("commandbus: closed")

// Kind enumerates the typed commands the bus carries.
type Kind int

const (
	KindSwitchBackend Kind = iota
	KindGetStatus
	KindGetMetrics
	KindListBackends
	KindSetDebugLogging
	KindGetDebugLogging
)

func (k Kind) String() string {
	switch k {
	case KindSwitchBackend:
		return "switch_backend"
	case KindGetStatus:
		return "get_status"
	case KindGetMetrics:
		return "get_metrics"
	case KindListBackends:
		return "list_backends"
	case KindSetDebugLogging:
		return "set_debug_logging"
	case KindGetDebugLogging:
		return "get_debug_logging"
	default:
		return "unknown"
	}
}

// BackendInfo is one entry in a ListBackends reply.
type BackendInfo struct {
	ID      string
	Label   string
	BaseURL string
	Active  bool
}

// ProxyStatus is the GetStatus reply payload.
type ProxyStatus struct {
	ListenAddr      string
	ActiveBackendID string
	SessionMinted   bool
	Uptime          time.Duration
}

// Command is one request traveling from the front-end to the runtime.
// Exactly one of the request fields is populated, matching Kind.
type Command struct {
	Kind Kind

	// KindSwitchBackend
	BackendID string
	// KindGetMetrics (optional filter; empty means all backends)
	MetricsBackendID string
	// KindSetDebugLogging
	DebugConfig config.Debug

	reply chan Reply
}

// Reply carries whichever result field matches the originating Command's
// Kind, plus Err on failure.
type Reply struct {
	// KindSwitchBackend
	NewBackendID string
	// KindGetStatus
	Status ProxyStatus
	// KindGetMetrics
	Metrics observability.Snapshot
	// KindListBackends
	Backends []BackendInfo
	// KindGetDebugLogging / KindSetDebugLogging echo
	DebugConfig config.Debug

	Err error
}

// Bus is the Command Bus. The zero value is not usable; construct with New.
type Bus struct {
	commands  chan *Command
	closed    chan struct{}
	closeOnce sync.Once
}

// New creates a Bus with the fixed channel capacity.
func New() *Bus {
	return &Bus{
		commands: make(chan *Command, Capacity),
		closed:   make(chan struct{}),
	}
}

// Close signals shutdown: senders get ErrClosed and the runtime's receive
// loop observes Next returning ok=false once queued commands have drained.
// Safe to call from either side, and more than once. A runtime that is
// still processing an in-flight command is unaffected.
func (b *Bus) Close() {
	b.closeOnce.Do(func() { close(b.closed) })
}

// send submits cmd and waits for its reply, each half bounded by deadline.
// If the runtime has stopped consuming (or never started), the send itself
// respects the deadline rather than blocking forever.
func (b *Bus) send(cmd *Command, deadline time.Duration) (Reply, error) {
	cmd.reply = make(chan Reply, 1)

	select {
	case <-b.closed:
		return Reply{}, ErrClosed
	default:
	}

	select {
	case b.commands <- cmd:
	case <-time.After(deadline):
		return Reply{}, ErrTimeout
	case <-b.closed:
		return Reply{}, ErrClosed
	}

	select {
	case r := <-cmd.reply:
		return r, nil
	case <-time.After(deadline):
		return Reply{}, ErrTimeout
	}
}

// Next blocks until a command is available or the bus is closed. The
// runtime's consumer loop calls this. ok is false once Close has been
// called and every queued command has drained.
func (b *Bus) Next() (cmd *Command, ok bool) {
	select {
	case cmd = <-b.commands:
		return cmd, true
	case <-b.closed:
		// Drain anything queued before the close rather than dropping it.
		select {
		case cmd = <-b.commands:
			return cmd, true
		default:
			return nil, false
		}
	}
}

// Reply delivers r to whoever is waiting on cmd. Must be called at most
// once per Command.
func (cmd *Command) Reply(r Reply) {
	cmd.reply <- r
}

// --- Front-end convenience methods, each applying DefaultDeadline. ---

// SwitchBackend asks the runtime to switch the active backend to id.
func (b *Bus) SwitchBackend(id string) (string, error) {
	r, err := b.send(&Command{Kind: KindSwitchBackend, BackendID: id}, DefaultDeadline)
	if err != nil {
		return "", err
	}
	return r.NewBackendID, r.Err
}

// GetStatus fetches the current ProxyStatus.
func (b *Bus) GetStatus() (ProxyStatus, error) {
	r, err := b.send(&Command{Kind: KindGetStatus}, DefaultDeadline)
	if err != nil {
		return ProxyStatus{}, err
	}
	return r.Status, r.Err
}

// GetMetrics fetches an Observability snapshot, optionally filtered to one
// backend (pass "" for all).
func (b *Bus) GetMetrics(backendID string) (observability.Snapshot, error) {
	r, err := b.send(&Command{Kind: KindGetMetrics, MetricsBackendID: backendID}, DefaultDeadline)
	if err != nil {
		return observability.Snapshot{}, err
	}
	return r.Metrics, r.Err
}

// ListBackends fetches every configured backend and which one is active.
func (b *Bus) ListBackends() ([]BackendInfo, error) {
	r, err := b.send(&Command{Kind: KindListBackends}, DefaultDeadline)
	if err != nil {
		return nil, err
	}
	return r.Backends, r.Err
}

// SetDebugLogging pushes a new debug logger configuration.
func (b *Bus) SetDebugLogging(cfg config.Debug) error {
	r, err := b.send(&Command{Kind: KindSetDebugLogging, DebugConfig: cfg}, DefaultDeadline)
	if err != nil {
		return err
	}
	return r.Err
}

// GetDebugLogging fetches the debug logger's current configuration.
func (b *Bus) GetDebugLogging() (config.Debug, error) {
	r, err := b.send(&Command{Kind: KindGetDebugLogging}, DefaultDeadline)
	if err != nil {
		return config.Debug{}, err
	}
	return r.DebugConfig, r.Err
}
