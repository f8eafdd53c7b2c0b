package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var sessionsJSON bool

func init() {
	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.Flags().BoolVar(&sessionsJSON, "json", false, "Output as JSON")
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List recorded sessions",
	Args:  cobra.NoArgs,
	RunE:  runSessions,
}

func runSessions(cmd *cobra.Command, args []string) error {
	s, _, err := openStore()
	if err != nil {
		return err
	}
	entries, err := s.Sessions()
	if err != nil {
		return err
	}

	if sessionsJSON {
		out, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	if len(entries) == 0 {
		fmt.Println("No sessions recorded.")
		return nil
	}
	fmt.Printf("%-38s %-26s %8s  %s\n", "SESSION", "STARTED", "EVENTS", "CWD")
	for _, e := range entries {
		fmt.Printf("%-38s %-26s %8d  %s\n", e.SessionID, e.StartedAt, e.EventCount, e.CWD)
	}
	return nil
}
