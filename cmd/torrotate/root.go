package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	torlog "github.com/nao1215/torrotate/internal/log"
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command for torrotate.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "torrotate",
		Short: "Rotate your exit IP address through Tor",
		Long: `torrotate launches Tor processes and asks them for new circuits until the
exit address changes, keeping track of every address seen.

Each tor process is started with its own data directory, relaying
disabled and, with --exit-nodes, a strict set of exit countries.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")
	cmd.PersistentFlags().Bool("log-json", false, "Write logs as JSON")

	cmd.AddCommand(NewRotateCmd())
	cmd.AddCommand(NewHistoryCmd())
	cmd.AddCommand(NewInitCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// getBoolFlag reads a local or persistent boolean flag, false if absent.
func getBoolFlag(cmd *cobra.Command, name string) bool {
	v, err := cmd.Flags().GetBool(name)
	if err != nil {
		v, err = cmd.Root().PersistentFlags().GetBool(name)
		if err != nil {
			return false
		}
	}
	return v
}

// setupLogger builds the masking logger used by every subcommand.
func setupLogger(w io.Writer, verbose, jsonOutput bool) *slog.Logger {
	if jsonOutput {
		return torlog.NewSecureJSONLogger(w, verbose)
	}
	return torlog.NewSecureLogger(w, verbose)
}
