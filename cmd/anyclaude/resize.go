package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/anyclaude/anyclaude/internal/ptyhost"
)

// afterMs returns a channel that fires once after d milliseconds, a tiny
// wrapper kept local to this package so runRun's poll loop reads cleanly.
func afterMs(d int) <-chan time.Time {
	return time.After(time.Duration(d) * time.Millisecond)
}

// watchResize propagates the controlling terminal's size to the guest's
// PTY whenever the process receives SIGWINCH, until ctx is cancelled.
func watchResize(ctx context.Context, host *ptyhost.Host) {
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGWINCH)
	defer signal.Stop(sigc)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sigc:
			if w, h, err := term.GetSize(int(os.Stdin.Fd())); err == nil && w > 0 && h > 0 {
				_ = host.Resize(w, h)
			}
		}
	}
}
