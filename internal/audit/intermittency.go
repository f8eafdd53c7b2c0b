package audit

import (
	"fmt"
	"time"

	"github.com/ctxwatch/ctxwatch/internal/event"
	"github.com/ctxwatch/ctxwatch/internal/trace"
)

const (
	// minSamples guards against single-sample false positives.
	minSamples = 2

	// Oscillation thresholds: a tool flipping between success and error
	// this often is intermittent, not just occasionally failing.
	oscillationMinSamples = 4
	oscillationMinFlips   = 3
	oscillationFlipRate   = 0.4

	// Short-session clustering: repeated tiny sessions in quick
	// succession signal a crash loop or misconfigured hook.
	shortSessionMaxEvents = 5
	shortSessionMinCount  = 3
	shortSessionWindow    = 10 * time.Minute
)

type toolOutcomes struct {
	total    int
	errors   int
	sequence []bool // true = error, in arrival order
	errIDs   []string
	firstTS  string
}

// Intermittency detects tools that fail some of the time, orphaned
// pre-tool events, oscillating outcome sequences, unstable session
// lifecycles, and clusters of short-lived sessions.
func Intermittency(in *Input) []Finding {
	var findings []Finding
	for _, tr := range in.Traces {
		findings = append(findings, intermittentTools(tr)...)
		findings = append(findings, unpairedPreTool(tr)...)
		findings = append(findings, oscillatingTools(tr)...)
		findings = append(findings, sessionInstability(tr)...)
	}
	findings = append(findings, shortSessionClusters(in.Sessions)...)
	return findings
}

func collectOutcomes(tr *trace.Trace) map[string]*toolOutcomes {
	byTool := make(map[string]*toolOutcomes)
	for _, ev := range tr.Events {
		if ev.Type != event.PostToolUse || ev.ToolName == "" {
			continue
		}
		o := byTool[ev.ToolName]
		if o == nil {
			o = &toolOutcomes{firstTS: ev.Timestamp}
			byTool[ev.ToolName] = o
		}
		isErr := ev.Status == event.StatusError
		o.total++
		o.sequence = append(o.sequence, isErr)
		if isErr {
			o.errors++
			o.errIDs = append(o.errIDs, ev.EventID)
		}
	}
	return byTool
}

func intermittentTools(tr *trace.Trace) []Finding {
	var findings []Finding
	for tool, o := range collectOutcomes(tr) {
		if o.total < minSamples || o.errors == 0 || o.errors == o.total {
			continue
		}
		rate := float64(o.errors) / float64(o.total)
		if rate > 0.5 {
			continue
		}
		findings = append(findings, Finding{
			Module:   ModuleIntermittency,
			Severity: SeverityWarning,
			Category: "intermittent-tool",
			Description: fmt.Sprintf("tool %s failed %d of %d calls (%.0f%% error rate) in session %s",
				tool, o.errors, o.total, rate*100, tr.SessionID),
			Evidence:  o.errIDs,
			Component: tool,
			Timestamp: o.firstTS,
		})
	}
	sortFindings(findings)
	return findings
}

// unpairedPreTool pairs PreToolUse with PostToolUse positionally per tool
// name. Pairing by adjacency is best-effort: nested or interleaved calls can
// defeat it, so leftovers are reported as explicitly unpaired, never guessed
// into a pair.
func unpairedPreTool(tr *trace.Trace) []Finding {
	pending := make(map[string][]event.Record)
	for _, ev := range tr.Events {
		switch ev.Type {
		case event.PreToolUse:
			if ev.ToolName != "" {
				pending[ev.ToolName] = append(pending[ev.ToolName], ev)
			}
		case event.PostToolUse:
			if q := pending[ev.ToolName]; len(q) > 0 {
				pending[ev.ToolName] = q[1:]
			}
		}
	}

	var findings []Finding
	for tool, q := range pending {
		if len(q) == 0 {
			continue
		}
		ids := make([]string, 0, len(q))
		for _, ev := range q {
			ids = append(ids, ev.EventID)
		}
		findings = append(findings, Finding{
			Module:   ModuleIntermittency,
			Severity: SeverityWarning,
			Category: "unpaired-pre-tool",
			Description: fmt.Sprintf("%d PreToolUse event(s) for tool %s have no matching PostToolUse in session %s",
				len(q), tool, tr.SessionID),
			Evidence:  ids,
			Component: tool,
			Timestamp: q[0].Timestamp,
		})
	}
	sortFindings(findings)
	return findings
}

func oscillatingTools(tr *trace.Trace) []Finding {
	var findings []Finding
	for tool, o := range collectOutcomes(tr) {
		if len(o.sequence) < oscillationMinSamples {
			continue
		}
		flips := 0
		for i := 1; i < len(o.sequence); i++ {
			if o.sequence[i] != o.sequence[i-1] {
				flips++
			}
		}
		rate := float64(flips) / float64(len(o.sequence)-1)
		if flips < oscillationMinFlips || rate <= oscillationFlipRate {
			continue
		}
		findings = append(findings, Finding{
			Module:   ModuleIntermittency,
			Severity: SeverityWarning,
			Category: "oscillating-tool",
			Description: fmt.Sprintf("tool %s alternated between success and error %d times over %d calls in session %s",
				tool, flips, len(o.sequence), tr.SessionID),
			Evidence:  o.errIDs,
			Component: tool,
			Timestamp: o.firstTS,
		})
	}
	sortFindings(findings)
	return findings
}

// sessionInstability flags a trace with more SessionStart events than its
// SessionEnd count can account for. One unmatched start is a session still
// running; beyond that the runtime restarted mid-session.
func sessionInstability(tr *trace.Trace) []Finding {
	starts, ends := 0, 0
	var startIDs []string
	firstTS := ""
	for _, ev := range tr.Events {
		switch ev.Type {
		case event.SessionStart:
			starts++
			startIDs = append(startIDs, ev.EventID)
			if firstTS == "" {
				firstTS = ev.Timestamp
			}
		case event.SessionEnd:
			ends++
		}
	}
	if starts <= ends+1 {
		return nil
	}
	return []Finding{{
		Module:      ModuleIntermittency,
		Severity:    SeverityInfo,
		Category:    "session-instability",
		Description: fmt.Sprintf("session %s has %d starts but only %d ends; it may have crashed or been interrupted", tr.SessionID, starts, ends),
		Evidence:    startIDs,
		Component:   tr.SessionID,
		Timestamp:   firstTS,
	}}
}

func shortSessionClusters(sessions []trace.IndexEntry) []Finding {
	var short []trace.IndexEntry
	for _, s := range sessions {
		if s.EventCount < shortSessionMaxEvents {
			short = append(short, s)
		}
	}
	if len(short) < shortSessionMinCount {
		return nil
	}

	parsed := make([]time.Time, len(short))
	for i, s := range short {
		t, err := time.Parse(event.TimestampFormat, s.StartedAt)
		if err != nil {
			t, err = time.Parse(time.RFC3339, s.StartedAt)
			if err != nil {
				return nil
			}
		}
		parsed[i] = t
	}

	// Index entries are kept in insertion order, which tracks start time.
	for i := 0; i+shortSessionMinCount <= len(short); i++ {
		j := i + shortSessionMinCount - 1
		if parsed[j].Sub(parsed[i]) > shortSessionWindow {
			continue
		}
		ids := make([]string, 0, j-i+1)
		for _, s := range short[i : j+1] {
			ids = append(ids, s.SessionID)
		}
		return []Finding{{
			Module:   ModuleIntermittency,
			Severity: SeverityWarning,
			Category: "short-session-cluster",
			Description: fmt.Sprintf("%d sessions with fewer than %d events started within %s of each other",
				len(ids), shortSessionMaxEvents, shortSessionWindow),
			Evidence:  ids,
			Component: "sessions",
			Timestamp: short[i].StartedAt,
		}}
	}
	return nil
}
