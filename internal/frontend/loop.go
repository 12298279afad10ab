package frontend

import (
	"bufio"
	"context"
	"io"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/term"

	"github.com/anyclaude/anyclaude/internal/commandbus"
	"github.com/anyclaude/anyclaude/internal/logging"
)

// HotkeyByte is the single control byte that opens the backend-switcher
// popup: Ctrl-B (0x02), chosen because it is otherwise unused by the guest
// coding assistant's own keybindings and matches the mnemonic "backend".
const HotkeyByte = 0x02

// GuestInput is the subset of ptyhost.Host the loop writes operator
// keystrokes to.
type GuestInput interface {
	Write(p []byte) (int, error)
}

// Loop is the synchronous, single-threaded front-end loop. It owns
// the real controlling terminal, copies every non-hotkey byte straight
// through to the guest, and opens the popup on the hotkey. It never
// performs blocking network I/O; all runtime interaction is mediated by
// the Command Bus with its own bounded deadline.
type Loop struct {
	In    io.Reader // the real stdin; os.Stdin in production
	Guest GuestInput
	Bus   *commandbus.Bus
}

// Run puts stdin into raw mode (if it is a terminal) and copies keystrokes
// to the guest until ctx is canceled or the input stream ends. Raw-mode
// restoration is the caller's responsibility when stdin is the process's
// real controlling terminal and a ptyhost.Host is also in play; Run itself
// only manages the mode for the duration of the call.
func (l *Loop) Run(ctx context.Context) error {
	log := logging.WithComponent("frontend")

	var restore func()
	if f, ok := l.In.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		state, err := term.MakeRaw(int(f.Fd()))
		if err != nil {
			log.Warn("could not enter raw mode", "err", err)
		} else {
			restore = func() { _ = term.Restore(int(f.Fd()), state) }
		}
	}
	if restore != nil {
		defer restore()
	}

	r := bufio.NewReader(l.In)
	buf := make([]byte, 1)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := r.Read(buf)
		if n > 0 {
			if buf[0] == HotkeyByte {
				l.openPopup()
			} else if l.Guest != nil {
				if _, werr := l.Guest.Write(buf[:n]); werr != nil {
					return werr
				}
			}
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}

// openPopup fetches the backend list and runs the popup model to
// completion, switching the active backend if the operator selects one.
// Errors are logged, never propagated: a popup failure must never bring
// down guest passthrough.
func (l *Loop) openPopup() {
	log := logging.WithComponent("frontend")
	if l.Bus == nil {
		return
	}

	backends, err := l.Bus.ListBackends()
	if err != nil {
		log.Warn("list backends for popup failed", "err", err)
		return
	}

	p := tea.NewProgram(newPopupModel(l.Bus, backends))
	final, err := p.Run()
	if err != nil {
		log.Warn("popup exited with error", "err", err)
		return
	}
	if m, ok := final.(popupModel); ok && m.switched != "" {
		log.Info("backend switched via hotkey popup", "backend_id", m.switched)
	}
}
