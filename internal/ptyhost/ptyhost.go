// Package ptyhost adapts creack/pty into the thin interface the Runtime
// Supervisor and Shutdown Coordinator need from the guest process.
// VT parsing, scrollback, and rendering are explicitly out of scope —
// this package only starts the guest under a pseudo-terminal and moves
// raw bytes and signals in and out of it.
package ptyhost

import (
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/creack/pty"
)

// eot is the byte a terminal driver interprets as end-of-input (Ctrl-D),
// used to simulate "close stdin" on a PTY, which has no independent stdin
// half to shut down the way a pipe does.
const eot = 0x04

// Options configures how the guest process is started.
type Options struct {
	Path string   // absolute path to the guest binary
	Args []string
	Env  []string // full environment, including ANTHROPIC_BASE_URL/ANTHROPIC_AUTH_TOKEN
	Dir  string
}

// Host is the running guest process attached to a pseudo-terminal.
type Host struct {
	cmd  *exec.Cmd
	ptmx *os.File

	waitOnce sync.Once
	waitErr  error
	exited   chan struct{}
}

// Start launches the guest under a new pseudo-terminal.
func Start(opts Options) (*Host, error) {
	cmd := exec.Command(opts.Path, opts.Args...)
	cmd.Env = opts.Env
	cmd.Dir = opts.Dir

	ptmx, err := pty.Start(cmd)
	if err != nil {
		return nil, err
	}

	h := &Host{cmd: cmd, ptmx: ptmx, exited: make(chan struct{})}
	go h.waitForExit()
	return h, nil
}

func (h *Host) waitForExit() {
	h.waitErr = h.cmd.Wait()
	close(h.exited)
}

// Read copies raw guest output. The caller is responsible for copying this
// byte-for-byte to the real stdout; ptyhost never interprets it.
func (h *Host) Read(p []byte) (int, error) { return h.ptmx.Read(p) }

// Write sends raw input bytes to the guest.
func (h *Host) Write(p []byte) (int, error) { return h.ptmx.Write(p) }

// Resize propagates a terminal size change to the guest.
func (h *Host) Resize(cols, rows int) error {
	return pty.Setsize(h.ptmx, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
}

// Pid returns the guest process's pid.
func (h *Host) Pid() int {
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

// Close closes the PTY master side. Safe to call after the child has
// already exited.
func (h *Host) Close() error { return h.ptmx.Close() }

// Wait blocks until the guest process has exited and returns its exit error
// (nil on a clean exit).
func (h *Host) Wait() error {
	<-h.exited
	return h.waitErr
}

// Exited implements shutdown.ChildProcess: closed once the guest process
// has been reaped.
func (h *Host) Exited() <-chan struct{} { return h.exited }

// CloseStdin implements shutdown.ChildProcess. A PTY has no independent
// stdin half, so this writes the terminal's end-of-input byte instead;
// best-effort, errors ignored by callers per the coordinator's contract.
func (h *Host) CloseStdin() error {
	_, err := h.ptmx.Write([]byte{eot})
	return err
}

// Terminate implements shutdown.ChildProcess.
func (h *Host) Terminate() error {
	if h.cmd.Process == nil {
		return nil
	}
	return h.cmd.Process.Signal(syscall.SIGTERM)
}

// Kill implements shutdown.ChildProcess.
func (h *Host) Kill() error {
	if h.cmd.Process == nil {
		return nil
	}
	return h.cmd.Process.Signal(syscall.SIGKILL)
}
