package report

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// FormatText renders the analysis as human-readable text.
func FormatText(a *Analysis) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Session %s\n", a.SessionID)
	fmt.Fprintf(&b, "  Events:   %d\n", a.EventCount)
	if a.StartedAt != "" {
		fmt.Fprintf(&b, "  Span:     %s → %s (%.1fs)\n", a.StartedAt, a.EndedAt, a.DurationSeconds)
	}
	fmt.Fprintf(&b, "  Errors:   %d\n", len(a.Errors))
	if a.MalformedLines > 0 {
		fmt.Fprintf(&b, "  Malformed lines: %d\n", a.MalformedLines)
	}

	if len(a.EventTypes) > 0 {
		b.WriteString("\n  Event types:\n")
		for _, t := range sortedTypes(a.EventTypes) {
			fmt.Fprintf(&b, "    %-18s %d\n", t+":", a.EventTypes[t])
		}
	}

	if len(a.Tools) > 0 {
		b.WriteString("\n  Tool usage:\n")
		fmt.Fprintf(&b, "    %-16s %6s %7s %10s\n", "TOOL", "CALLS", "ERRORS", "MEAN MS")
		for _, t := range a.Tools {
			fmt.Fprintf(&b, "    %-16s %6d %7d %10.1f\n", truncate(t.Tool, 16), t.Calls, t.Errors, t.MeanDurationMS)
		}
	}

	if len(a.Errors) > 0 {
		b.WriteString("\n  Errors:\n")
		for _, e := range a.Errors {
			label := e.Tool
			if label == "" {
				label = "-"
			}
			fmt.Fprintf(&b, "    [%s] %s: %s\n", e.Timestamp, label, truncate(e.Message, 80))
		}
	}
	return b.String()
}

// FormatMarkdown renders the analysis as a markdown document.
func FormatMarkdown(a *Analysis) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Session %s\n\n", a.SessionID)
	fmt.Fprintf(&b, "- **Events**: %d\n", a.EventCount)
	if a.StartedAt != "" {
		fmt.Fprintf(&b, "- **Span**: %s to %s (%.1fs)\n", a.StartedAt, a.EndedAt, a.DurationSeconds)
	}
	fmt.Fprintf(&b, "- **Errors**: %d\n", len(a.Errors))
	if a.MalformedLines > 0 {
		fmt.Fprintf(&b, "- **Malformed lines**: %d\n", a.MalformedLines)
	}

	if len(a.Tools) > 0 {
		b.WriteString("\n| Tool | Calls | Errors | Mean ms |\n")
		b.WriteString("|------|-------|--------|---------|\n")
		for _, t := range a.Tools {
			fmt.Fprintf(&b, "| %s | %d | %d | %.1f |\n", t.Tool, t.Calls, t.Errors, t.MeanDurationMS)
		}
	}

	if len(a.Errors) > 0 {
		b.WriteString("\n### Errors\n\n")
		for _, e := range a.Errors {
			label := e.Tool
			if label == "" {
				label = "-"
			}
			fmt.Fprintf(&b, "- `%s` %s: %s\n", e.Timestamp, label, truncate(e.Message, 80))
		}
	}
	return b.String()
}

// FormatJSON renders the analysis as indented JSON.
func FormatJSON(a *Analysis) (string, error) {
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return "", fmt.Errorf("report: marshal analysis: %w", err)
	}
	return string(data), nil
}

func sortedTypes(m map[string]int) []string {
	types := make([]string, 0, len(m))
	for t := range m {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
