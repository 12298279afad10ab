// Package subagent implements the Sub-agent Shim: temp-directory
// wrapper scripts that intercept the guest's sub-process spawning (via a
// tmux-like multiplexer) so worker processes' traffic can be tagged with a
// URL path prefix and routed to a different backend by the Routing
// Middleware.
package subagent

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// EnvIndicator is the environment variable the guest-binary wrapper checks
// before rewriting ANTHROPIC_BASE_URL.
const EnvIndicator = "ANYCLAUDE_SUBAGENT"

// DefaultPrefix is the URL path prefix sub-agent traffic is tagged with
// when the operator does not configure one explicitly.
const DefaultPrefix = "/teammate"

// Config describes the real binaries the shim wraps and the base URL
// sub-agent traffic should be routed through.
type Config struct {
	MuxPath   string // absolute path to the real multiplexer binary (e.g. tmux)
	GuestPath string // absolute path to the real guest binary
	BaseURL   string // the proxy's own base URL, e.g. http://127.0.0.1:8787
	Prefix    string // URL path prefix; DefaultPrefix if empty
}

// Shim is an installed pair of wrapper scripts in a per-process temp
// directory.
type Shim struct {
	dir       string
	muxName   string
	guestName string
}

// Install materializes the two wrapper scripts into a fresh temp
// directory and returns a handle to it. The caller is responsible for
// prepending Dir() to the guest's PATH before spawning it, and calling
// Close on shutdown.
func Install(cfg Config) (*Shim, error) {
	dir, err := os.MkdirTemp("", "anyclaude-shim-*")
	if err != nil {
		return nil, err
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	subAgentBaseURL := strings.TrimSuffix(cfg.BaseURL, "/") + prefix

	muxName := filepath.Base(cfg.MuxPath)
	guestName := filepath.Base(cfg.GuestPath)

	muxScript := muxWrapperScript(cfg.GuestPath, subAgentBaseURL, cfg.MuxPath)
	if err := os.WriteFile(filepath.Join(dir, muxName), []byte(muxScript), 0o755); err != nil {
		os.RemoveAll(dir)
		return nil, err
	}

	guestScript := guestWrapperScript(subAgentBaseURL, cfg.GuestPath)
	if err := os.WriteFile(filepath.Join(dir, guestName), []byte(guestScript), 0o755); err != nil {
		os.RemoveAll(dir)
		return nil, err
	}

	return &Shim{dir: dir, muxName: muxName, guestName: guestName}, nil
}

// Dir returns the shim's temp directory, to be prepended to the guest's PATH.
func (s *Shim) Dir() string { return s.dir }

// Close removes the shim's temp directory; called on shutdown.
func (s *Shim) Close() error {
	if s == nil {
		return nil
	}
	return os.RemoveAll(s.dir)
}

// PrependPath returns env with PATH rewritten to put the shim's directory
// first, appending a PATH entry if env has none.
func (s *Shim) PrependPath(env []string) []string {
	out := make([]string, 0, len(env)+1)
	found := false
	for _, kv := range env {
		if strings.HasPrefix(kv, "PATH=") {
			out = append(out, "PATH="+s.dir+string(os.PathListSeparator)+strings.TrimPrefix(kv, "PATH="))
			found = true
			continue
		}
		out = append(out, kv)
	}
	if !found {
		out = append(out, "PATH="+s.dir)
	}
	return out
}

// muxWrapperScript is the multiplexer-name wrapper: when
// invoked as "send-keys" with a payload argument that contains guestPath,
// it injects an ANTHROPIC_BASE_URL assignment (plus the indicator env var
// for the guest wrapper's defense-in-depth check) immediately before the
// guest path in that argument, then delegates to the real multiplexer
// unchanged. Any other invocation passes through untouched.
//
// The for/shift/set-- loop is the standard POSIX trick for rewriting one
// element of "$@" while preserving the others' exact word boundaries and
// quoting; a naive string-join-and-resplit would break on arguments
// containing spaces.
func muxWrapperScript(guestPath, subAgentBaseURL, realMuxPath string) string {
	return fmt.Sprintf(`#!/bin/sh
# anyclaude sub-agent shim: tags traffic from worker panes spawned via
# "send-keys <guest-path> ..." with the sub-agent base URL.
guest_path=%s
base_url=%s
real=%s

if [ "$1" = "send-keys" ]; then
	matched=0
	for a in "$@"; do
		shift
		case "$a" in
			*"$guest_path"*)
				if [ "$matched" -eq 0 ]; then
					head=${a%%%%"$guest_path"*}
					a="${head}ANTHROPIC_BASE_URL=$base_url %s=1 ${a#"$head"}"
					matched=1
				fi
				;;
		esac
		set -- "$@" "$a"
	done
fi

exec "$real" "$@"
`, shQuote(guestPath), shQuote(subAgentBaseURL), shQuote(realMuxPath), EnvIndicator)
}

// guestWrapperScript is the guest-name wrapper, a second line of defense:
// if the indicator env var is already set (meaning this guest
// process was spawned as a tagged sub-agent but resolved via PATH instead
// of the absolute path the multiplexer wrapper injects), it rewrites
// ANTHROPIC_BASE_URL before exec'ing the real guest binary. Any other
// invocation execs unchanged.
func guestWrapperScript(subAgentBaseURL, realGuestPath string) string {
	return fmt.Sprintf(`#!/bin/sh
# anyclaude sub-agent shim: defense-in-depth guest-binary wrapper.
real=%s

if [ -n "$%s" ]; then
	ANTHROPIC_BASE_URL=%s
	export ANTHROPIC_BASE_URL
fi

exec "$real" "$@"
`, shQuote(realGuestPath), EnvIndicator, shQuote(subAgentBaseURL))
}

// shQuote wraps s in single quotes for embedding as a POSIX sh literal,
// escaping any embedded single quotes.
func shQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
