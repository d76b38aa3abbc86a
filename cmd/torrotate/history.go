package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nao1215/torrotate/internal/config"
	"github.com/nao1215/torrotate/internal/database"
	"github.com/nao1215/torrotate/internal/report"
	"github.com/spf13/cobra"
)

// NewHistoryCmd creates the history command.
func NewHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show addresses saved by rotate --save",
		Long: `History lists the exit addresses recorded in the IP log, oldest first.

Examples:
  # Last 20 observations
  torrotate history --limit 20

  # Everything, as Markdown
  torrotate history --markdown > history.md`,
		Args: cobra.NoArgs,
		RunE: runHistoryCmd,
	}

	cmd.Flags().IntP("limit", "l", 0, "Show only the newest N observations (0 for all)")
	cmd.Flags().String("db-dir", config.XDGDataDir(), "Directory of the IP log")
	cmd.Flags().BoolP("json", "j", false, "Output JSON (mutually exclusive with --markdown)")
	cmd.Flags().BoolP("markdown", "m", false, "Output Markdown (mutually exclusive with --json)")

	return cmd
}

func runHistoryCmd(cmd *cobra.Command, _ []string) error {
	limit, err := cmd.Flags().GetInt("limit")
	if err != nil {
		return err
	}
	dir, err := cmd.Flags().GetString("db-dir")
	if err != nil {
		return err
	}
	jsonReport, err := cmd.Flags().GetBool("json")
	if err != nil {
		return err
	}
	markdownReport, err := cmd.Flags().GetBool("markdown")
	if err != nil {
		return err
	}
	if jsonReport && markdownReport {
		return config.ErrConflictingReportFormats
	}

	history := &report.History{}
	// A missing log means nothing was saved yet; don't create one just to read it.
	if _, err := os.Stat(filepath.Join(dir, database.IPLogFile)); err == nil {
		ipLog, err := database.Open(dir)
		if err != nil {
			return fmt.Errorf("failed to open ip log: %w", err)
		}
		defer ipLog.Close()

		history.Observations, err = ipLog.List(cmd.Context(), limit)
		if err != nil {
			return err
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to open ip log: %w", err)
	}

	_, err = newReportWriter(cmd.OutOrStdout(), jsonReport, markdownReport, false).WriteHistory(history)
	return err
}
