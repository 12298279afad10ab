// Command anyclaude hosts a terminal-based coding assistant behind a local
// reverse proxy, letting the operator reroute its traffic across multiple
// upstream providers without restarting the guest.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/anyclaude/anyclaude/internal/config"
)

var (
	version   = "0.1.0"
	buildTime = "unknown"
	cfgFile   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "anyclaude [-- guest-args...]",
		Short: "Run a coding assistant behind a local, switchable reverse proxy",
		Long: `anyclaude hosts an Anthropic-compatible coding assistant inside a
pseudo-terminal and sits between it and its upstream API as a reverse
proxy, so the operator can switch providers or accounts mid-session
without restarting the guest.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd.Context(), runOptions{
				configPath: cfgFile,
				guestPath:  "claude",
				muxPath:    "tmux",
				guestArgs:  args,
			})
		},
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is "+config.DefaultPath()+")")

	rootCmd.AddCommand(
		newRunCmd(),
		newConfigCmd(),
		newDoctorCmd(),
		newVersionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the anyclaude version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("anyclaude %s (built %s)\n", version, buildTime)
			return nil
		},
	}
}
