package audit

import (
	"fmt"
	"strings"

	"github.com/ctxwatch/ctxwatch/internal/event"
	"github.com/ctxwatch/ctxwatch/internal/trace"
)

// Token estimates divide character counts by four. The proxy is directional:
// it ranks inputs and sessions by size, it does not count real tokens.
const charsPerToken = 4

const (
	// largeInputTokens flags a single oversized tool input; double it and
	// the finding escalates from info to warning.
	largeInputTokens = 2000

	// heavyStartEvents is the prefix of a trace inspected for
	// heavy-context patterns at session start.
	heavyStartEvents = 10
	heavyStartReads  = 5

	// Inefficient tools burn tokens on calls that keep failing.
	inefficientMinCalls     = 3
	inefficientErrRate      = 0.3
	inefficientTokensPerUse = 1000

	// redundantReadCount flags the same tool input repeated this many
	// times or more.
	redundantReadCount = 3
)

func estimateTokens(ev event.Record) int {
	return (len(ev.ArgsPreview) + len(ev.ResultPreview)) / charsPerToken
}

// Tokens flags oversized inputs, token-heavy failing sessions,
// heavy-context session starts, inefficient tools, and redundant repeated
// reads. All counts are estimates from preview sizes.
func Tokens(in *Input) []Finding {
	var findings []Finding
	totals := make(map[string]int, len(in.Traces))
	hasErrors := make(map[string]bool, len(in.Traces))

	for _, tr := range in.Traces {
		total := 0
		for _, ev := range tr.Events {
			total += estimateTokens(ev)
			if ev.Status == event.StatusError {
				hasErrors[tr.SessionID] = true
			}
		}
		totals[tr.SessionID] = total

		findings = append(findings, oversizedInputs(tr)...)
		findings = append(findings, heavyContextStart(tr)...)
		findings = append(findings, inefficientTools(tr)...)
		findings = append(findings, redundantReads(tr)...)
	}

	findings = append(findings, heavySessions(in.Traces, totals, hasErrors)...)
	sortFindings(findings)
	return findings
}

func oversizedInputs(tr *trace.Trace) []Finding {
	var findings []Finding
	for _, ev := range tr.Events {
		if ev.Type != event.PreToolUse {
			continue
		}
		est := len(ev.ArgsPreview) / charsPerToken
		if est < largeInputTokens {
			continue
		}
		sev := SeverityInfo
		if est >= 2*largeInputTokens {
			sev = SeverityWarning
		}
		findings = append(findings, Finding{
			Module:   ModuleTokens,
			Severity: sev,
			Category: "oversized-input",
			Description: fmt.Sprintf("tool %s received an input of roughly %d tokens in session %s",
				ev.ToolName, est, tr.SessionID),
			Evidence:  []string{ev.EventID},
			Component: ev.ToolName,
			Timestamp: ev.Timestamp,
		})
	}
	return findings
}

// heavySessions compares each session's total estimate against the
// cross-session average; twice the average plus at least one error is worth
// a warning.
func heavySessions(traces []*trace.Trace, totals map[string]int, hasErrors map[string]bool) []Finding {
	if len(traces) < 2 {
		return nil
	}
	sum := 0
	for _, t := range totals {
		sum += t
	}
	avg := float64(sum) / float64(len(totals))
	if avg == 0 {
		return nil
	}

	var findings []Finding
	for _, tr := range traces {
		total := totals[tr.SessionID]
		if float64(total) < 2*avg || !hasErrors[tr.SessionID] {
			continue
		}
		ts := ""
		if len(tr.Events) > 0 {
			ts = tr.Events[0].Timestamp
		}
		findings = append(findings, Finding{
			Module:   ModuleTokens,
			Severity: SeverityWarning,
			Category: "heavy-failing-session",
			Description: fmt.Sprintf("session %s used roughly %d tokens (average %.0f) and recorded errors",
				tr.SessionID, total, avg),
			Component: tr.SessionID,
			Timestamp: ts,
		})
	}
	return findings
}

// heavyContextStart looks at the first events of a trace for signs the
// session began with an oversized context: an early compaction, or a burst
// of reads before any other work.
func heavyContextStart(tr *trace.Trace) []Finding {
	limit := heavyStartEvents
	if len(tr.Events) < limit {
		limit = len(tr.Events)
	}
	reads := 0
	for _, ev := range tr.Events[:limit] {
		switch {
		case ev.Type == event.PreCompact:
			return []Finding{{
				Module:   ModuleTokens,
				Severity: SeverityWarning,
				Category: "heavy-context-start",
				Description: fmt.Sprintf("session %s hit context compaction within its first %d events",
					tr.SessionID, limit),
				Evidence:  []string{ev.EventID},
				Component: tr.SessionID,
				Timestamp: ev.Timestamp,
			}}
		case ev.Type == event.PreToolUse && ev.ToolName == "Read":
			reads++
		}
	}
	if reads >= heavyStartReads {
		return []Finding{{
			Module:   ModuleTokens,
			Severity: SeverityInfo,
			Category: "heavy-context-start",
			Description: fmt.Sprintf("session %s issued %d Read calls within its first %d events",
				tr.SessionID, reads, limit),
			Component: tr.SessionID,
			Timestamp: tr.Events[0].Timestamp,
		}}
	}
	return nil
}

func inefficientTools(tr *trace.Trace) []Finding {
	type usage struct {
		calls   int
		errors  int
		tokens  int
		firstTS string
	}
	byTool := make(map[string]*usage)
	for _, ev := range tr.Events {
		if ev.Type != event.PostToolUse || ev.ToolName == "" {
			continue
		}
		u := byTool[ev.ToolName]
		if u == nil {
			u = &usage{firstTS: ev.Timestamp}
			byTool[ev.ToolName] = u
		}
		u.calls++
		u.tokens += estimateTokens(ev)
		if ev.Status == event.StatusError {
			u.errors++
		}
	}

	var findings []Finding
	for tool, u := range byTool {
		if u.calls < inefficientMinCalls {
			continue
		}
		errRate := float64(u.errors) / float64(u.calls)
		perCall := u.tokens / u.calls
		if errRate <= inefficientErrRate || perCall <= inefficientTokensPerUse {
			continue
		}
		findings = append(findings, Finding{
			Module:   ModuleTokens,
			Severity: SeverityWarning,
			Category: "inefficient-tool",
			Description: fmt.Sprintf("tool %s averages roughly %d tokens per call with a %.0f%% error rate over %d calls in session %s",
				tool, perCall, errRate*100, u.calls, tr.SessionID),
			Component: tool,
			Timestamp: u.firstTS,
		})
	}
	sortFindings(findings)
	return findings
}

func redundantReads(tr *trace.Trace) []Finding {
	type repeat struct {
		count   int
		ids     []string
		firstTS string
	}
	seen := make(map[string]*repeat)
	for _, ev := range tr.Events {
		if ev.Type != event.PreToolUse || ev.ToolName == "" || ev.ArgsPreview == "" {
			continue
		}
		key := ev.ToolName + "\x00" + ev.ArgsPreview
		r := seen[key]
		if r == nil {
			r = &repeat{firstTS: ev.Timestamp}
			seen[key] = r
		}
		r.count++
		r.ids = append(r.ids, ev.EventID)
	}

	var findings []Finding
	for key, r := range seen {
		if r.count < redundantReadCount {
			continue
		}
		tool, _, _ := strings.Cut(key, "\x00")
		findings = append(findings, Finding{
			Module:   ModuleTokens,
			Severity: SeverityInfo,
			Category: "redundant-calls",
			Description: fmt.Sprintf("tool %s was called %d times with identical arguments in session %s",
				tool, r.count, tr.SessionID),
			Evidence:  r.ids,
			Component: tool,
			Timestamp: r.firstTS,
		})
	}
	sortFindings(findings)
	return findings
}
