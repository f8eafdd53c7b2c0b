package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ctxwatch/ctxwatch/internal/diff"
	"github.com/ctxwatch/ctxwatch/internal/trace"
)

var (
	diffJSON bool
	diffLast int
)

func init() {
	rootCmd.AddCommand(diffCmd)
	diffCmd.Flags().BoolVar(&diffJSON, "json", false, "Output as JSON")
	diffCmd.Flags().IntVar(&diffLast, "last", 1, "Compare the newest session against the session N back")
}

var diffCmd = &cobra.Command{
	Use:   "diff [session-a session-b]",
	Short: "Compare two sessions",
	Long:  "Diffs two session traces: tool usage deltas, new and resolved errors, and the first point where the event sequences diverge. With no arguments, compares the two most recent sessions.",
	Args:  cobra.RangeArgs(0, 2),
	RunE:  runDiff,
}

func runDiff(cmd *cobra.Command, args []string) error {
	s, _, err := openStore()
	if err != nil {
		return err
	}

	var idA, idB string
	switch len(args) {
	case 2:
		idA, idB = args[0], args[1]
	case 0:
		if diffLast < 1 {
			return fmt.Errorf("--last must be at least 1")
		}
		files, err := s.TraceFiles()
		if err != nil {
			return err
		}
		if len(files) < diffLast+1 {
			return fmt.Errorf("need %d sessions to diff, have %d", diffLast+1, len(files))
		}
		// Files come newest first; A is the older of the pair.
		idA = trace.SessionIDFromPath(files[diffLast])
		idB = trace.SessionIDFromPath(files[0])
	default:
		return fmt.Errorf("pass two session ids or none")
	}

	a, err := trace.LoadSession(s, idA)
	if err != nil {
		return err
	}
	b, err := trace.LoadSession(s, idB)
	if err != nil {
		return err
	}

	r := diff.Diff(a, b)
	if diffJSON {
		out, err := json.MarshalIndent(r, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}
	fmt.Print(formatDiff(r))
	return nil
}

func formatDiff(r *diff.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Diff: %s → %s\n", r.SessionA, r.SessionB)
	if !r.HasChanges() {
		b.WriteString("\nNo changes detected.\n")
		return b.String()
	}

	if len(r.AddedTools) > 0 {
		b.WriteString("\n  Added tools:\n")
		for _, t := range r.AddedTools {
			fmt.Fprintf(&b, "    + %s (%d calls, %d errors)\n", t.Tool, t.Calls, t.Errors)
		}
	}
	if len(r.RemovedTools) > 0 {
		b.WriteString("\n  Removed tools:\n")
		for _, t := range r.RemovedTools {
			fmt.Fprintf(&b, "    - %s (%d calls, %d errors)\n", t.Tool, t.Calls, t.Errors)
		}
	}
	if len(r.ChangedTools) > 0 {
		b.WriteString("\n  Changed tools:\n")
		for _, c := range r.ChangedTools {
			fmt.Fprintf(&b, "    ~ %s: %d → %d calls, %.0f%% → %.0f%% errors\n",
				c.Tool, c.CallsA, c.CallsB, c.ErrRateA*100, c.ErrRateB*100)
		}
	}
	if len(r.NewErrors) > 0 {
		b.WriteString("\n  New errors:\n")
		for _, e := range r.NewErrors {
			fmt.Fprintf(&b, "    + [%s] %s\n", e.Tool, e.Message)
		}
	}
	if len(r.ResolvedErrors) > 0 {
		b.WriteString("\n  Resolved errors:\n")
		for _, e := range r.ResolvedErrors {
			fmt.Fprintf(&b, "    - [%s] %s\n", e.Tool, e.Message)
		}
	}
	if d := r.Divergence; d != nil {
		fmt.Fprintf(&b, "\n  Sequences diverge at event %d (%s):\n", d.Index+1, d.Kind)
		fmt.Fprintf(&b, "    a: %s\n", stepLabel(d.A))
		fmt.Fprintf(&b, "    b: %s\n", stepLabel(d.B))
	}
	return b.String()
}

func stepLabel(s *diff.Step) string {
	if s == nil {
		return "(end of sequence)"
	}
	if s.Tool == "" {
		return string(s.Type)
	}
	return fmt.Sprintf("%s %s", s.Type, s.Tool)
}
