package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ctxwatch/ctxwatch/internal/bundle"
	"github.com/ctxwatch/ctxwatch/internal/config"
	"github.com/ctxwatch/ctxwatch/internal/redact"
)

var (
	exportOutput    string
	exportNoAnon    bool
	exportMaxTraces int
)

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Archive path (default: ctxwatch-bundle-<timestamp>.tar.zst)")
	exportCmd.Flags().BoolVar(&exportNoAnon, "no-anonymize", false, "Skip redaction of exported traces and config")
	exportCmd.Flags().IntVar(&exportMaxTraces, "max-traces", 0, "Only include the N most recent traces (0 = all)")
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Package traces, config, and a report into a shareable archive",
	Long:  "Builds a tar.zst bundle of recent traces, a config snapshot, an environment snapshot, and a summary report. Exported data is anonymized unless explicitly disabled.",
	Args:  cobra.NoArgs,
	RunE:  runExport,
}

func runExport(cmd *cobra.Command, args []string) error {
	s, cfg, err := openStore()
	if err != nil {
		return err
	}

	anonymize := cfg.AnonymizeOnExport && !exportNoAnon
	var redactor *redact.Engine
	if anonymize {
		redactor, err = newRedactor(cfg)
		if err != nil {
			return err
		}
	} else {
		// Opt-out is allowed but never silent.
		fmt.Fprintln(os.Stderr, "warning: exporting without anonymization; the archive may contain secrets and personal data")
	}

	cfgPath := config.Path(projectDir)
	if _, err := os.Stat(cfgPath); err != nil {
		cfgPath = ""
	}

	path, err := bundle.Export(cmd.Context(), bundle.Options{
		Store:      s,
		ConfigPath: cfgPath,
		Output:     exportOutput,
		Anonymize:  anonymize,
		Redactor:   redactor,
		MaxTraces:  exportMaxTraces,
	})
	if err != nil {
		return err
	}
	fmt.Printf("Bundle written to %s\n", path)
	return nil
}
