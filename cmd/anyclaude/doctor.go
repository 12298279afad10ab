package main

import (
	"fmt"
	"net"
	"net/http"
	"os/exec"
	"time"

	"github.com/spf13/cobra"

	"github.com/anyclaude/anyclaude/internal/config"
)

// checkStatus is the three-state outcome of one doctor check.
type checkStatus int

const (
	statusOK checkStatus = iota
	statusWarn
	statusError
)

func (s checkStatus) symbol() string {
	switch s {
	case statusOK:
		return "✅"
	case statusWarn:
		return "⚠️ "
	default:
		return "❌"
	}
}

type check struct {
	name    string
	status  checkStatus
	message string
}

func newDoctorCmd() *cobra.Command {
	var (
		guestPath string
		muxPath   string
	)

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run preflight checks: guest binary, config, port, backend reachability",
		Long: `Doctor runs the read-only checks anyclaude relies on before it starts:
the guest binary resolves on PATH, the configuration file parses and
validates, the configured proxy port is free, and every configured
backend responds to a lightweight probe.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(cmd, guestPath, muxPath)
		},
	}

	cmd.Flags().StringVar(&guestPath, "guest", "claude", "guest binary name or path")
	cmd.Flags().StringVar(&muxPath, "mux", "tmux", "multiplexer binary name or path")

	return cmd
}

func runDoctor(cmd *cobra.Command, guestPath, muxPath string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "anyclaude doctor")
	fmt.Fprintln(out, "================")
	fmt.Fprintln(out)

	var checks []check
	checks = append(checks, checkBinary("guest binary", guestPath, true))
	checks = append(checks, checkBinary("multiplexer", muxPath, false))

	path := resolveConfigPath()
	cfg, cfgCheck := checkConfig(path)
	checks = append(checks, cfgCheck)

	if cfg != nil {
		checks = append(checks, checkPort(cfg.Proxy.BindAddr))
		for _, b := range cfg.Backends {
			checks = append(checks, checkBackend(b.ID, b.BaseURL))
		}
	}

	errors, warnings := 0, 0
	for _, c := range checks {
		fmt.Fprintf(out, "  %s %-28s %s\n", c.status.symbol(), c.name, c.message)
		switch c.status {
		case statusError:
			errors++
		case statusWarn:
			warnings++
		}
	}
	fmt.Fprintln(out)

	switch {
	case errors > 0:
		fmt.Fprintf(out, "%d error(s), %d warning(s): anyclaude will not start cleanly.\n", errors, warnings)
		return fmt.Errorf("doctor: %d check(s) failed", errors)
	case warnings > 0:
		fmt.Fprintf(out, "%d warning(s): anyclaude will start, with reduced functionality.\n", warnings)
	default:
		fmt.Fprintln(out, "All checks passed.")
	}
	return nil
}

func checkBinary(name, path string, required bool) check {
	resolved, err := exec.LookPath(path)
	if err != nil {
		if required {
			return check{name, statusError, fmt.Sprintf("%q not found on PATH", path)}
		}
		return check{name, statusWarn, fmt.Sprintf("%q not found on PATH; sub-agent shim will be disabled", path)}
	}
	return check{name, statusOK, resolved}
}

func checkConfig(path string) (*config.Config, check) {
	cfg, err := config.LoadFile(path)
	if err != nil {
		return nil, check{"config", statusError, fmt.Sprintf("%s: %v", path, err)}
	}
	return cfg, check{"config", statusOK, fmt.Sprintf("%s (%d backend(s))", path, len(cfg.Backends))}
}

func checkPort(bindAddr string) check {
	ln, err := net.Listen("tcp", bindAddr)
	if err != nil {
		return check{"proxy port", statusWarn, fmt.Sprintf("%s busy, will fall back to the next free port: %v", bindAddr, err)}
	}
	ln.Close()
	return check{"proxy port", statusOK, bindAddr + " free"}
}

func checkBackend(id, baseURL string) check {
	name := "backend " + id
	client := http.Client{Timeout: 3 * time.Second}
	resp, err := client.Head(baseURL)
	if err != nil {
		return check{name, statusWarn, fmt.Sprintf("%s unreachable: %v", baseURL, err)}
	}
	defer resp.Body.Close()
	return check{name, statusOK, fmt.Sprintf("%s responded %d", baseURL, resp.StatusCode)}
}
