package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/anyclaude/anyclaude/internal/frontend"
	"github.com/anyclaude/anyclaude/internal/logging"
	"github.com/anyclaude/anyclaude/internal/ptyhost"
	"github.com/anyclaude/anyclaude/internal/shutdown"
	"github.com/anyclaude/anyclaude/internal/supervisor"
)

// runOptions collects the run command's resolved flags.
type runOptions struct {
	configPath string
	guestPath  string
	muxPath    string
	guestArgs  []string
}

func newRunCmd() *cobra.Command {
	opts := runOptions{guestPath: "claude", muxPath: "tmux"}

	cmd := &cobra.Command{
		Use:   "run [-- guest-args...]",
		Short: "Start the proxy and launch the guest inside it (default command)",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.configPath = cfgFile
			opts.guestArgs = args
			return runRun(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.guestPath, "guest", opts.guestPath, "guest binary name or path")
	cmd.Flags().StringVar(&opts.muxPath, "mux", opts.muxPath, "multiplexer binary name or path, for the sub-agent shim")

	return cmd
}

// runRun wires the Runtime Supervisor, the guest PTY, the front-end loop,
// and the Shutdown Coordinator together, and blocks until the guest exits
// or a termination signal arrives.
func runRun(ctx context.Context, opts runOptions) error {
	if err := logging.Init(logging.DefaultConfig()); err != nil {
		return fmt.Errorf("anyclaude: init logging: %w", err)
	}
	log := logging.WithComponent("main")

	guestPath, err := exec.LookPath(opts.guestPath)
	if err != nil {
		return fmt.Errorf("anyclaude: guest binary %q not found on PATH: %w", opts.guestPath, err)
	}

	supOpts := supervisor.Options{ConfigPath: opts.configPath}
	if muxPath, err := exec.LookPath(opts.muxPath); err == nil {
		supOpts.GuestPath = guestPath
		supOpts.MuxPath = muxPath
	} else {
		log.Info("multiplexer binary not found; sub-agent shim disabled", "mux", opts.muxPath)
	}

	rt, err := supervisor.New(supOpts)
	if err != nil {
		return fmt.Errorf("anyclaude: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- rt.Run(runCtx) }()

	// The proxy listener binds synchronously inside ListenAndServe; give it
	// a moment to publish BoundAddr before building the guest environment.
	addr, err := waitForBoundAddr(runCtx, rt)
	if err != nil {
		cancel()
		return fmt.Errorf("anyclaude: proxy never bound: %w", err)
	}
	log.Info("proxy listening", "addr", addr)
	rt.InstallSubAgentShim()

	cols, rows := 80, 24
	if w, h, err := term.GetSize(int(os.Stdin.Fd())); err == nil && w > 0 && h > 0 {
		cols, rows = w, h
	}

	host, err := ptyhost.Start(ptyhost.Options{
		Path: guestPath,
		Args: opts.guestArgs,
		Env:  rt.GuestEnv(os.Environ()),
	})
	if err != nil {
		cancel()
		return fmt.Errorf("anyclaude: starting guest: %w", err)
	}
	_ = host.Resize(cols, rows)

	coordinator := shutdown.New()
	go copyGuestOutput(host, coordinator)
	go watchResize(runCtx, host)
	go watchGuestExit(host, coordinator)
	go watchSignals(runCtx, coordinator)

	loop := &frontend.Loop{In: os.Stdin, Guest: host, Bus: rt.Bus}
	loopErr := make(chan error, 1)
	go func() { loopErr <- loop.Run(runCtx) }()

	select {
	case <-coordinator.Triggered():
	case err := <-runErr:
		if err != nil {
			log.Warn("supervisor exited", "err", err)
		}
		coordinator.Signal("supervisor exited")
	case err := <-loopErr:
		if err != nil {
			log.Warn("front-end loop exited", "err", err)
		}
		coordinator.Signal("front-end loop exited")
	}

	coordinator.Run(host, rt.Proxy, nil, rt.Close)
	cancel()
	return nil
}

// waitForBoundAddr polls BoundAddr until the listener has published it or
// the runtime fails outright. The Proxy Server has no separate "ready"
// signal; bindWithFallback completes synchronously at the very start of
// ListenAndServe, so a short poll is sufficient.
func waitForBoundAddr(ctx context.Context, rt *supervisor.Runtime) (string, error) {
	deadline := 2000
	for i := 0; i < deadline/10; i++ {
		if addr := rt.BoundAddr(); addr != "" {
			return addr, nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-afterMs(10):
		}
	}
	return "", fmt.Errorf("timed out waiting for proxy bind")
}

func copyGuestOutput(host *ptyhost.Host, coordinator *shutdown.Coordinator) {
	_, err := io.Copy(os.Stdout, host)
	if err != nil && coordinator.Phase() == shutdown.PhaseRunning {
		// The guest may have exited, closing the PTY master; that is not
		// itself an error worth surfacing here, watchGuestExit handles it.
		return
	}
}

func watchGuestExit(host *ptyhost.Host, coordinator *shutdown.Coordinator) {
	<-host.Exited()
	coordinator.Signal("guest process exited")
}

func watchSignals(ctx context.Context, coordinator *shutdown.Coordinator) {
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigc)
	select {
	case sig := <-sigc:
		coordinator.Signal("signal: " + sig.String())
	case <-ctx.Done():
	}
}
