package audit

import (
	"fmt"

	"github.com/ctxwatch/ctxwatch/internal/trace"
)

// Input is everything an audit run reads. Modules are pure functions over
// it: same input, same findings.
type Input struct {
	Traces     []*trace.Trace
	Sessions   []trace.IndexEntry
	LineCounts map[string]int // session_id -> actual trace file line count
	Sources    *Sources       // nil when no config sources are available
}

// GatherInput loads every readable trace plus the session index from the
// store. Unreadable files do not abort the run; what can be analyzed is
// analyzed, and the read errors are returned alongside.
func GatherInput(s *trace.Store, sources *Sources) (*Input, []error) {
	traces, errs := trace.LoadAll(s)
	sessions, err := s.Sessions()
	if err != nil {
		errs = append(errs, fmt.Errorf("audit: read session index: %w", err))
	}

	counts := make(map[string]int, len(traces))
	for _, tr := range traces {
		n, err := s.LineCount(tr.SessionID)
		if err != nil {
			errs = append(errs, fmt.Errorf("audit: count lines for %s: %w", tr.SessionID, err))
			continue
		}
		counts[tr.SessionID] = n
	}

	return &Input{
		Traces:     traces,
		Sessions:   sessions,
		LineCounts: counts,
		Sources:    sources,
	}, errs
}

var modules = map[ModuleName]func(*Input) []Finding{
	ModuleIntermittency: Intermittency,
	ModuleConflicts:     Conflicts,
	ModuleTokens:        Tokens,
	ModuleCompliance:    Compliance,
}

// Run executes the selected modules and merges their findings into one
// report, grouped by module and sorted by severity then first occurrence.
func Run(in *Input, selected []ModuleName) (*Report, error) {
	r := &Report{}
	for _, name := range selected {
		fn, ok := modules[name]
		if !ok {
			return nil, fmt.Errorf("audit: unknown module %q", name)
		}
		r.Findings = append(r.Findings, fn(in)...)
	}
	sortFindings(r.Findings)
	return r, nil
}
