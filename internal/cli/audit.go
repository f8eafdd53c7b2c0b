package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ctxwatch/ctxwatch/internal/audit"
	"github.com/ctxwatch/ctxwatch/internal/config"
)

var (
	auditType    string
	auditSources string
	auditJSON    bool
)

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.Flags().StringVar(&auditType, "type", "all", "Module to run: all, intermittency, conflicts, tokens, or compliance")
	auditCmd.Flags().StringVar(&auditSources, "sources", "", "Directory of configuration sources for conflict detection (default: the project's .ctxwatch tree)")
	auditCmd.Flags().BoolVar(&auditJSON, "json", false, "Output as JSON")
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Run anomaly audits over recorded traces",
	Long:  "Runs the selected analyzer modules over every readable trace and prints merged findings. Exits 1 when at least one critical finding exists.",
	Args:  cobra.NoArgs,
	RunE:  runAudit,
}

func runAudit(cmd *cobra.Command, args []string) error {
	selected, err := audit.ParseModules(auditType)
	if err != nil {
		return err
	}

	s, _, err := openStore()
	if err != nil {
		return err
	}

	sourcesDir := auditSources
	if sourcesDir == "" {
		sourcesDir = filepath.Join(projectDir, config.ConfigDirName)
	}
	sources, err := audit.LoadSources(sourcesDir)
	if err != nil {
		return err
	}

	in, loadErrs := audit.GatherInput(s, sources)
	for _, e := range loadErrs {
		fmt.Fprintf(os.Stderr, "warning: %v\n", e)
	}

	r, err := audit.Run(in, selected)
	if err != nil {
		return err
	}

	if auditJSON {
		out, err := audit.FormatJSON(r)
		if err != nil {
			return err
		}
		fmt.Println(out)
	} else {
		fmt.Print(audit.FormatText(r))
	}

	if r.ExitStatus() != 0 {
		os.Exit(1)
	}
	return nil
}
