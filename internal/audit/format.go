package audit

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FormatText renders the report as human-readable text, grouped by module.
func FormatText(r *Report) string {
	if len(r.Findings) == 0 {
		return "No findings.\n"
	}

	var b strings.Builder
	var current ModuleName
	for _, f := range r.Findings {
		if f.Module != current {
			if current != "" {
				b.WriteString("\n")
			}
			fmt.Fprintf(&b, "%s:\n", f.Module)
			current = f.Module
		}
		fmt.Fprintf(&b, "  [%s] %s: %s\n", f.Severity, f.Category, f.Description)
		if len(f.Evidence) > 0 {
			fmt.Fprintf(&b, "      evidence: %s\n", strings.Join(f.Evidence, ", "))
		}
	}

	counts := r.CountBySeverity()
	fmt.Fprintf(&b, "\n%d finding(s): %d critical, %d warning, %d info\n",
		len(r.Findings), counts[SeverityCritical], counts[SeverityWarning], counts[SeverityInfo])
	return b.String()
}

// FormatJSON renders the report as indented JSON.
func FormatJSON(r *Report) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("audit: marshal report: %w", err)
	}
	return string(data), nil
}
