package cli

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ctxwatch/ctxwatch/internal/config"
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configStatusCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configEnableCmd)
	configCmd.AddCommand(configDisableCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configClearCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the project configuration document",
}

var configStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		state := "disabled"
		if cfg.Enabled {
			state = "enabled"
		}
		fmt.Printf("Monitoring:            %s\n", state)
		fmt.Printf("Log level:             %s\n", cfg.LogLevel)
		fmt.Printf("Captured event types:  %d\n", len(cfg.Events))
		fmt.Printf("Anonymize on export:   %v\n", cfg.AnonymizeOnExport)
		fmt.Printf("Custom redact rules:   %d\n", len(cfg.RedactPatterns))
		fmt.Printf("Retention days:        %d (declared, not enforced)\n", cfg.RetentionDays)
		fmt.Printf("Max sessions:          %d (declared, not enforced)\n", cfg.MaxSessions)
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration document",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.Path(projectDir)
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
		if err := config.Save(projectDir, config.Default(), ""); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", path)
		return nil
	},
}

var configEnableCmd = &cobra.Command{
	Use:   "enable",
	Short: "Enable event capture",
	Args:  cobra.NoArgs,
	RunE:  func(cmd *cobra.Command, args []string) error { return setEnabled(true) },
}

var configDisableCmd = &cobra.Command{
	Use:   "disable",
	Short: "Disable event capture",
	Args:  cobra.NoArgs,
	RunE:  func(cmd *cobra.Command, args []string) error { return setEnabled(false) },
}

func setEnabled(on bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.Enabled = on
	if err := config.Save(projectDir, cfg, ""); err != nil {
		return err
	}
	state := "disabled"
	if on {
		state = "enabled"
	}
	fmt.Printf("Capture %s.\n", state)
	return nil
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print one configuration value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		switch args[0] {
		case "enabled":
			fmt.Println(cfg.Enabled)
		case "log_level":
			fmt.Println(cfg.LogLevel)
		case "events":
			fmt.Println(strings.Join(cfg.Events, ","))
		case "anonymize_on_export":
			fmt.Println(cfg.AnonymizeOnExport)
		case "retention_days":
			fmt.Println(cfg.RetentionDays)
		case "max_sessions":
			fmt.Println(cfg.MaxSessions)
		default:
			return fmt.Errorf("unknown key %q", args[0])
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set one configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		key, value := args[0], args[1]
		switch key {
		case "enabled", "anonymize_on_export":
			b, err := strconv.ParseBool(value)
			if err != nil {
				return fmt.Errorf("%s wants true or false, got %q", key, value)
			}
			if key == "enabled" {
				cfg.Enabled = b
			} else {
				cfg.AnonymizeOnExport = b
			}
		case "log_level":
			cfg.LogLevel = config.LogLevel(value)
		case "events":
			cfg.Events = strings.Split(value, ",")
		case "retention_days", "max_sessions":
			n, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("%s wants an integer, got %q", key, value)
			}
			if key == "retention_days" {
				cfg.RetentionDays = n
			} else {
				cfg.MaxSessions = n
			}
		default:
			return fmt.Errorf("unknown key %q", key)
		}

		if errs := cfg.Validate(); len(errs) > 0 {
			return errs[0]
		}
		if err := config.Save(projectDir, cfg, ""); err != nil {
			return err
		}
		fmt.Printf("%s = %s\n", key, value)
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration document for errors",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		errs := cfg.Validate()
		if len(errs) == 0 {
			fmt.Println("Configuration is valid.")
			return nil
		}
		for _, e := range errs {
			fmt.Fprintf(os.Stderr, "  %v\n", e)
		}
		return fmt.Errorf("%d configuration error(s)", len(errs))
	},
}

var configClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete traces of sessions that ended",
	Long:  "Removes trace files whose sessions recorded a SessionEnd event, prunes them from the index, and reports the space freed. Active sessions are kept.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, _, err := openStore()
		if err != nil {
			return err
		}
		res, err := s.ClearEnded()
		if err != nil {
			return err
		}
		fmt.Printf("Removed %d ended session(s), freed %d bytes; %d session(s) kept.\n",
			len(res.Cleared), res.FreedBytes, res.Kept)
		return nil
	},
}
