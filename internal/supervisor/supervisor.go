// Package supervisor implements the Runtime Supervisor: it wires
// every other component together, owns the async runtime's long-lived
// tasks, and is the one place that knows the full dependency graph.
package supervisor

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/anyclaude/anyclaude/internal/backendstate"
	"github.com/anyclaude/anyclaude/internal/commandbus"
	"github.com/anyclaude/anyclaude/internal/config"
	"github.com/anyclaude/anyclaude/internal/debuglog"
	"github.com/anyclaude/anyclaude/internal/errregistry"
	"github.com/anyclaude/anyclaude/internal/logging"
	"github.com/anyclaude/anyclaude/internal/observability"
	"github.com/anyclaude/anyclaude/internal/proxyserver"
	"github.com/anyclaude/anyclaude/internal/reasoning"
	"github.com/anyclaude/anyclaude/internal/routing"
	"github.com/anyclaude/anyclaude/internal/subagent"
	"github.com/anyclaude/anyclaude/internal/upstream"
)

// Options configures the Runtime Supervisor at process start.
type Options struct {
	ConfigPath string

	// GuestPath/MuxPath, when both set, enable the Sub-agent Shim.
	// Neither is read from the TOML config: they name real binaries on this
	// machine, a launch-time concern rather than a persisted setting.
	GuestPath string
	MuxPath   string
}

// Runtime holds every long-lived component the supervisor wires together.
// Construct with New, then call Run.
type Runtime struct {
	opts Options

	Store        *config.Store
	SessionToken string
	Hub          *observability.Hub
	Backends     *backendstate.State
	Registry     *reasoning.Registry
	Transformer  *reasoning.Holder
	DebugLogger  *debuglog.Logger
	ErrRegistry  *errregistry.Registry
	Upstream     *upstream.Client
	Proxy        *proxyserver.Server
	Bus          *commandbus.Bus
	SubAgent     *subagent.Shim

	startedAt time.Time

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New loads the configuration from opts.ConfigPath (or the default path if
// empty) and wires every component. It does not yet start any
// goroutine; call Run for that.
func New(opts Options) (*Runtime, error) {
	path := opts.ConfigPath
	if path == "" {
		path = config.DefaultPath()
	}
	store, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("supervisor: loading config: %w", err)
	}
	snap := store.Current()

	token, err := mintSessionToken()
	if err != nil {
		return nil, fmt.Errorf("supervisor: minting session token: %w", err)
	}

	hub := observability.New(observability.DefaultRingCapacity)
	backends := backendstate.New(snap)
	registry := reasoning.New(snap.Defaults.ActiveBackendID)
	transformer := reasoning.NewHolder(reasoning.NewTransformer(snap.Reasoning.Mode, snap.Reasoning.Summarize, registry))
	errReg := errregistry.New(errregistry.DefaultCapacity)

	debugLogger, err := debuglog.New(snap.Debug)
	if err != nil {
		return nil, fmt.Errorf("supervisor: constructing debug logger: %w", err)
	}
	hub.Register(debugLogger)

	routingTable := buildRoutingTable(snap)

	retrySink := func(evt upstream.RetryEvent) {
		const name = "backend_connection"
		switch {
		case evt.Final && evt.Err != nil:
			errReg.FailRecovery(name, evt.Attempt, evt.Err)
		case evt.Final:
			errReg.SucceedRecovery(name)
		default:
			errReg.UpdateRecovery(name, evt.Attempt, evt.Err)
		}
	}
	upstreamClient := upstream.New(store, backends, registry, transformer, hub.Push, retrySink)

	proxy := proxyserver.New(proxyserver.Config{
		BindAddr:     snap.Proxy.BindAddr,
		SessionToken: token,
		Routing:      routingTable,
		Client:       upstreamClient,
		ErrRegistry:  errReg,
		Hub:          hub,
	})

	bus := commandbus.New()

	backends.Subscribe(func(sw backendstate.Switch) {
		registry.NotifyBackendSwitch(sw.To)
		transformer.Current().OnBackendSwitch(sw.From, sw.To)
	})

	rt := &Runtime{
		opts:         opts,
		Store:        store,
		SessionToken: token,
		Hub:          hub,
		Backends:     backends,
		Registry:     registry,
		Transformer:  transformer,
		DebugLogger:  debugLogger,
		ErrRegistry:  errReg,
		Upstream:     upstreamClient,
		Proxy:        proxy,
		Bus:          bus,
	}

	return rt, nil
}

// InstallSubAgentShim materializes the PATH shim scripts. It must run
// after the proxy listener has bound (the scripts embed the actual bound
// address, which port fallback may have moved off the configured one).
// A no-op when the guest/mux binary paths were not supplied or a shim is
// already installed. An install failure degrades the feature rather than
// failing startup: the guest still runs, sub-agent traffic just is not
// routed separately.
func (rt *Runtime) InstallSubAgentShim() {
	if rt.opts.GuestPath == "" || rt.opts.MuxPath == "" || rt.SubAgent != nil {
		return
	}
	snap := rt.Store.Current()
	shim, err := subagent.Install(subagent.Config{
		MuxPath:   rt.opts.MuxPath,
		GuestPath: rt.opts.GuestPath,
		BaseURL:   "http://" + rt.Proxy.BoundAddr(),
		Prefix:    snap.SubAgent.Prefix,
	})
	if err != nil {
		rt.ErrRegistry.Publish(errregistry.SeverityWarning, errregistry.CategoryProcess,
			"sub-agent shim install failed", err.Error(), "sub-agent traffic will not be routed separately")
		rt.ErrRegistry.SetFeatureDegraded(errregistry.FeatureBackendSwitch, "sub-agent shim unavailable: "+err.Error())
		return
	}
	rt.SubAgent = shim
}

// mintSessionToken mints the one random bearer token the guest uses for
// the whole process lifetime.
func mintSessionToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// buildRoutingTable builds a single PathPrefixRule routing
// sub_agent-prefixed traffic to the teammate backend, or an empty table
// (zero per-request cost) when no teammate backend is configured.
func buildRoutingTable(snap config.Snapshot) *routing.Table {
	if snap.SubAgent.TeammateBackendID == "" {
		return routing.NewTable()
	}
	prefix := snap.SubAgent.Prefix
	if prefix == "" {
		prefix = subagent.DefaultPrefix
	}
	return routing.NewTable(routing.PathPrefixRule{
		Prefix:    prefix,
		BackendID: snap.SubAgent.TeammateBackendID,
	})
}

// BoundAddr returns the proxy's actually-bound address. Only meaningful
// after Run has started the proxy listener.
func (rt *Runtime) BoundAddr() string { return rt.Proxy.BoundAddr() }

// Uptime returns how long the runtime has been running.
func (rt *Runtime) Uptime() time.Duration {
	if rt.startedAt.IsZero() {
		return 0
	}
	return time.Since(rt.startedAt)
}

// Run starts every long-lived task and blocks until ctx is cancelled or
// the proxy listener fails.
// Shutdown of individual tasks is cooperative: cancelling ctx stops the
// config watcher; Close unblocks the command loop and the listener. The
// Shutdown Coordinator drains and closes the proxy first with its own
// deadline, and Close's Shutdown call is then a no-op.
func (rt *Runtime) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	rt.cancel = cancel
	rt.startedAt = time.Now()

	proxyErr := make(chan error, 1)
	rt.wg.Add(1)
	go func() {
		defer rt.wg.Done()
		proxyErr <- rt.Proxy.ListenAndServe()
	}()

	rt.wg.Add(1)
	go func() {
		defer rt.wg.Done()
		rt.runCommandLoop(runCtx)
	}()

	rt.wg.Add(1)
	go func() {
		defer rt.wg.Done()
		if err := rt.Store.WatchDebounced(runCtx, 200*time.Millisecond, rt.onConfigReloaded); err != nil {
			logging.WithComponent("supervisor").Warn("config watcher stopped", "err", err)
		}
	}()

	select {
	case <-runCtx.Done():
		return nil
	case err := <-proxyErr:
		cancel()
		return err
	}
}

// Close stops the runtime's background tasks and tears down the sub-agent
// shim, if any. It closes the Command Bus so the command loop wakes from
// Next, shuts down the proxy listener if the Shutdown Coordinator has not
// already done so (a second Shutdown is a no-op), and waits for every
// long-lived goroutine, bounded by ctx's deadline.
func (rt *Runtime) Close(ctx context.Context) error {
	if rt.cancel != nil {
		rt.cancel()
	}
	rt.Bus.Close()
	_ = rt.Proxy.Shutdown(ctx)

	done := make(chan struct{})
	go func() {
		rt.wg.Wait()
		close(done)
	}()
	var waitErr error
	select {
	case <-done:
	case <-ctx.Done():
		waitErr = ctx.Err()
	}

	if rt.SubAgent != nil {
		if err := rt.SubAgent.Close(); err != nil && waitErr == nil {
			waitErr = err
		}
	}
	return waitErr
}

// onConfigReloaded reacts to a published config reload: re-evaluate
// Backend State's active-id existence, swap the Reasoning Transformer
// variant if reasoning.mode changed, push the Debug Logger's new config.
// Upstream Client pool/timeout settings are fixed at construction and
// require a restart.
func (rt *Runtime) onConfigReloaded(snap config.Snapshot) {
	log := logging.WithComponent("supervisor")

	rt.Backends.UpdateConfig(snap)
	if !rt.Backends.Exists(rt.Backends.Get()) {
		log.Warn("active backend no longer exists after config reload", "backend_id", rt.Backends.Get())
		rt.ErrRegistry.Publish(errregistry.SeverityWarning, errregistry.CategoryConfig,
			"active backend removed by config reload", rt.Backends.Get(),
			"switch to a configured backend")
	}

	if rt.Transformer.Current().Name() != transformerNameFor(snap.Reasoning.Mode) {
		rt.Transformer.Set(reasoning.NewTransformer(snap.Reasoning.Mode, snap.Reasoning.Summarize, rt.Registry))
		log.Info("reasoning transformer swapped on config reload", "mode", snap.Reasoning.Mode)
	}

	rt.DebugLogger.SetConfig(snap.Debug)
}

func transformerNameFor(mode string) string {
	if mode == "summarize" {
		return "summarize"
	}
	return "strip"
}

// runCommandLoop is the async side of the Command Bus: it consumes
// commands from the front-end loop and mutates Backend State / reads the
// Observability Hub / reconfigures the Debug Logger on its behalf.
func (rt *Runtime) runCommandLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		cmd, ok := rt.Bus.Next()
		if !ok {
			return
		}
		rt.dispatch(cmd)
	}
}

func (rt *Runtime) dispatch(cmd *commandbus.Command) {
	switch cmd.Kind {
	case commandbus.KindSwitchBackend:
		err := rt.Backends.Set(cmd.BackendID)
		if err != nil {
			cmd.Reply(commandbus.Reply{Err: err})
			return
		}
		cmd.Reply(commandbus.Reply{NewBackendID: cmd.BackendID})

	case commandbus.KindGetStatus:
		cmd.Reply(commandbus.Reply{Status: commandbus.ProxyStatus{
			ListenAddr:      rt.Proxy.BoundAddr(),
			ActiveBackendID: rt.Backends.Get(),
			SessionMinted:   rt.SessionToken != "",
			Uptime:          rt.Uptime(),
		}})

	case commandbus.KindGetMetrics:
		snap := rt.Hub.Snapshot()
		if id := cmd.MetricsBackendID; id != "" {
			filtered := observability.Snapshot{GeneratedAt: snap.GeneratedAt, PerBackend: map[string]observability.BackendAggregate{}}
			if agg, ok := snap.PerBackend[id]; ok {
				filtered.PerBackend[id] = agg
			}
			for _, rec := range snap.Recent {
				if rec.BackendID == id {
					filtered.Recent = append(filtered.Recent, rec)
				}
			}
			snap = filtered
		}
		cmd.Reply(commandbus.Reply{Metrics: snap})

	case commandbus.KindListBackends:
		snap := rt.Store.Current()
		active := rt.Backends.Get()
		infos := make([]commandbus.BackendInfo, 0, len(snap.Backends))
		for _, b := range snap.Backends {
			infos = append(infos, commandbus.BackendInfo{
				ID:      b.ID,
				Label:   b.Label,
				BaseURL: b.BaseURL,
				Active:  b.ID == active,
			})
		}
		cmd.Reply(commandbus.Reply{Backends: infos})

	case commandbus.KindSetDebugLogging:
		rt.DebugLogger.SetConfig(cmd.DebugConfig)
		cmd.Reply(commandbus.Reply{DebugConfig: cmd.DebugConfig})

	case commandbus.KindGetDebugLogging:
		cmd.Reply(commandbus.Reply{DebugConfig: rt.DebugLogger.Config()})

	default:
		cmd.Reply(commandbus.Reply{Err: fmt.Errorf("supervisor: unknown command kind %v", cmd.Kind)})
	}
}

// GuestEnv builds the environment the PTY host should launch the guest
// with: at least ANTHROPIC_BASE_URL and
// ANTHROPIC_AUTH_TOKEN, plus PATH prepended with the sub-agent shim
// directory when one is installed.
func (rt *Runtime) GuestEnv(base []string) []string {
	baseURL := "http://" + rt.BoundAddr()
	env := make([]string, 0, len(base)+2)
	for _, kv := range base {
		if strings.HasPrefix(kv, "ANTHROPIC_BASE_URL=") || strings.HasPrefix(kv, "ANTHROPIC_AUTH_TOKEN=") {
			continue
		}
		env = append(env, kv)
	}
	env = append(env, "ANTHROPIC_BASE_URL="+baseURL, "ANTHROPIC_AUTH_TOKEN="+rt.SessionToken)
	if rt.SubAgent != nil {
		env = rt.SubAgent.PrependPath(env)
	}
	return env
}
