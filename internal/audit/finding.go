package audit

import (
	"fmt"
	"sort"
)

// Severity classifies a finding. The set is closed: free-form severities
// would break exit-status computation and report grouping.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

func (s Severity) rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityWarning:
		return 1
	case SeverityInfo:
		return 2
	}
	return 3
}

// ModuleName identifies one analyzer module.
type ModuleName string

const (
	ModuleIntermittency ModuleName = "intermittency"
	ModuleConflicts     ModuleName = "conflicts"
	ModuleTokens        ModuleName = "tokens"
	ModuleCompliance    ModuleName = "compliance"
)

// moduleOrder fixes report grouping. Findings are grouped by module in this
// order regardless of which modules ran.
var moduleOrder = []ModuleName{
	ModuleIntermittency,
	ModuleConflicts,
	ModuleTokens,
	ModuleCompliance,
}

// ParseModules resolves a --type value into the modules to run.
// "all" or empty selects every module.
func ParseModules(s string) ([]ModuleName, error) {
	if s == "" || s == "all" {
		return moduleOrder, nil
	}
	for _, m := range moduleOrder {
		if s == string(m) {
			return []ModuleName{m}, nil
		}
	}
	return nil, fmt.Errorf("audit: unknown module %q (valid: all, intermittency, conflicts, tokens, compliance)", s)
}

// Finding is one detected anomaly. Findings are produced fresh on every run
// and never persisted; they must be regenerable from the same inputs.
type Finding struct {
	Module      ModuleName `json:"module"`
	Severity    Severity   `json:"severity"`
	Category    string     `json:"category"`
	Description string     `json:"description"`
	Evidence    []string   `json:"evidence,omitempty"`  // event_ids
	Component   string     `json:"component,omitempty"` // tool, session, file
	Timestamp   string     `json:"timestamp,omitempty"` // first occurrence
}

// Report is the merged output of an audit run.
type Report struct {
	Findings []Finding `json:"findings"`
}

// ExitStatus is 1 when at least one critical finding exists, else 0.
func (r *Report) ExitStatus() int {
	for _, f := range r.Findings {
		if f.Severity == SeverityCritical {
			return 1
		}
	}
	return 0
}

// CountBySeverity tallies findings for summaries.
func (r *Report) CountBySeverity() map[Severity]int {
	out := make(map[Severity]int)
	for _, f := range r.Findings {
		out[f.Severity]++
	}
	return out
}

func moduleRank(m ModuleName) int {
	for i, name := range moduleOrder {
		if name == m {
			return i
		}
	}
	return len(moduleOrder)
}

// sortFindings orders by module, then severity, then first-occurrence
// timestamp. Findings without a timestamp (static config conflicts) sort
// ahead of timestamped ones within their severity.
func sortFindings(fs []Finding) {
	sort.SliceStable(fs, func(i, j int) bool {
		if a, b := moduleRank(fs[i].Module), moduleRank(fs[j].Module); a != b {
			return a < b
		}
		if a, b := fs[i].Severity.rank(), fs[j].Severity.rank(); a != b {
			return a < b
		}
		return fs[i].Timestamp < fs[j].Timestamp
	})
}
