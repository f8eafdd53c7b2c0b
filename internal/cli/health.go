package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ctxwatch/ctxwatch/internal/health"
	"github.com/ctxwatch/ctxwatch/internal/trace"
)

var healthJSON bool

func init() {
	rootCmd.AddCommand(healthCmd)
	healthCmd.Flags().BoolVar(&healthJSON, "json", false, "Output as JSON")
}

var healthCmd = &cobra.Command{
	Use:   "health [session]",
	Short: "Compute a session's health score",
	Long:  "Scores a session 0-100 from its error rate, unreliable tools, completeness, and pre/post pairing. Defaults to the most recent session.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runHealth,
}

func runHealth(cmd *cobra.Command, args []string) error {
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

	score := health.Compute(tr)
	if healthJSON {
		out, err := json.MarshalIndent(score, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	b := score.Breakdown
	fmt.Printf("Session %s: health %.1f/100\n\n", sessionID, score.Value)
	fmt.Printf("  Error penalty:      %5.1f (%d errors over %d tool calls)\n", b.ErrorPenalty, b.Errors, b.TotalPostToolCalls)
	fmt.Printf("  Unreliable penalty: %5.1f", b.UnreliablePenalty)
	if len(b.UnreliableTools) > 0 {
		fmt.Printf(" (%v)", b.UnreliableTools)
	}
	fmt.Println()
	fmt.Printf("  Incomplete penalty: %5.1f (start: %v, end: %v)\n", b.IncompletePenalty, b.HasSessionStart, b.HasSessionEnd)
	fmt.Printf("  Pairing penalty:    %5.1f\n", b.PairingPenalty)
	return nil
}
