package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ctxwatch/ctxwatch/internal/report"
	"github.com/ctxwatch/ctxwatch/internal/trace"
)

var reportFormat string

func init() {
	rootCmd.AddCommand(reportCmd)
	reportCmd.Flags().StringVar(&reportFormat, "format", "text", "Output format: text, markdown, or json")
}

var reportCmd = &cobra.Command{
	Use:   "report [session]",
	Short: "Summarize a session's trace",
	Long:  "Analyzes one session's trace into per-tool usage, an event-type histogram, and an error list. Defaults to the most recent session.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runReport,
}

func runReport(cmd *cobra.Command, args []string) error {
	s, _, err := openStore()
	if err != nil {
		return err
	}
	sessionID, err := resolveSession(s, args)
	if err != nil {
		return err
	}
	tr, err := trace.LoadSession(s, sessionID)
	if err != nil {
		return err
	}

	a := report.Analyze(tr)
	switch reportFormat {
	case "text":
		fmt.Print(report.FormatText(a))
	case "markdown", "md":
		fmt.Print(report.FormatMarkdown(a))
	case "json":
		out, err := report.FormatJSON(a)
		if err != nil {
			return err
		}
		fmt.Println(out)
	default:
		return fmt.Errorf("unknown format %q (valid: text, markdown, json)", reportFormat)
	}
	return nil
}
