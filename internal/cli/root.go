package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ctxwatch/ctxwatch/internal/config"
	"github.com/ctxwatch/ctxwatch/internal/redact"
	"github.com/ctxwatch/ctxwatch/internal/trace"
)

var projectDir string

var rootCmd = &cobra.Command{
	Use:           "ctxwatch",
	Short:         "Trace capture and analysis for agentic runtimes",
	Long:          "Captures lifecycle events from an agentic runtime into per-session traces and turns them into reports, anomaly audits, cross-session diffs, and a health score.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&projectDir, "project", ".", "Project directory containing the .ctxwatch tree")
}

// Execute runs the root command. Exit code 2 marks an execution error;
// commands that detect critical findings exit 1 themselves.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
}

func loadConfig() (*config.Config, error) {
	return config.Load(projectDir)
}

func openStore() (*trace.Store, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	s, err := trace.NewStore(config.TracesDir(projectDir), cfg)
	if err != nil {
		return nil, nil, err
	}
	return s, cfg, nil
}

func newRedactor(cfg *config.Config) (*redact.Engine, error) {
	return redact.NewEngine(cfg.RedactPatterns)
}

// resolveSession picks the session to operate on: the given id, or the
// newest trace file when none was named.
func resolveSession(s *trace.Store, args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	files, err := s.TraceFiles()
	if err != nil {
		return "", err
	}
	if len(files) == 0 {
		return "", fmt.Errorf("no trace files in %s", s.Dir())
	}
	return trace.SessionIDFromPath(files[0]), nil
}
