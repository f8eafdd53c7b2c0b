package audit

import (
	"fmt"
	"strings"
	"time"

	"github.com/ctxwatch/ctxwatch/internal/event"
	"github.com/ctxwatch/ctxwatch/internal/trace"
)

// genericErrorMessages are error_message values that carry no diagnostic
// content.
var genericErrorMessages = map[string]bool{
	"":        true,
	"error":   true,
	"failed":  true,
	"failure": true,
	"unknown": true,
}

// frequentErrorPrefix flags the same error opening recurring this many
// times in one session.
const (
	frequentErrorCount = 3
	errorPrefixLen     = 40
)

// Compliance validates trace integrity: parseable monotonic timestamps,
// unique event ids, required fields per event type, legal enum values,
// canonical tool-name casing, index counts that match the file, and loader
// defects. Structural defects become findings here, never load failures.
func Compliance(in *Input) []Finding {
	var findings []Finding
	for _, tr := range in.Traces {
		findings = append(findings, timestampOrder(tr)...)
		findings = append(findings, duplicateEventIDs(tr)...)
		findings = append(findings, requiredFields(tr)...)
		findings = append(findings, enumValues(tr)...)
		findings = append(findings, toolNameCase(tr)...)
		findings = append(findings, loaderDefects(tr)...)
		findings = append(findings, errorMessageQuality(tr)...)
		findings = append(findings, indexMismatch(tr, in.LineCounts, in.Sessions)...)
	}
	sortFindings(findings)
	return findings
}

func timestampOrder(tr *trace.Trace) []Finding {
	var findings []Finding
	var prev time.Time
	havePrev := false
	for i, ev := range tr.Events {
		t, err := ev.Time()
		if err != nil {
			findings = append(findings, Finding{
				Module:      ModuleCompliance,
				Severity:    SeverityWarning,
				Category:    "unparseable-timestamp",
				Description: fmt.Sprintf("event %d in session %s has unparseable timestamp %q", i+1, tr.SessionID, ev.Timestamp),
				Evidence:    []string{ev.EventID},
				Component:   tr.SessionID,
				Timestamp:   ev.Timestamp,
			})
			continue
		}
		// Ties are legal; inversions are not.
		if havePrev && t.Before(prev) {
			findings = append(findings, Finding{
				Module:      ModuleCompliance,
				Severity:    SeverityWarning,
				Category:    "timestamp-inversion",
				Description: fmt.Sprintf("event %d in session %s is timestamped before its predecessor (%s < %s)", i+1, tr.SessionID, ev.Timestamp, prev.UTC().Format(event.TimestampFormat)),
				Evidence:    []string{ev.EventID},
				Component:   tr.SessionID,
				Timestamp:   ev.Timestamp,
			})
		}
		prev, havePrev = t, true
	}
	return findings
}

func duplicateEventIDs(tr *trace.Trace) []Finding {
	seen := make(map[string]int)
	first := make(map[string]string)
	for _, ev := range tr.Events {
		if ev.EventID == "" {
			continue
		}
		seen[ev.EventID]++
		if _, ok := first[ev.EventID]; !ok {
			first[ev.EventID] = ev.Timestamp
		}
	}
	var findings []Finding
	for _, id := range sortedKeys(seen) {
		if seen[id] < 2 {
			continue
		}
		findings = append(findings, Finding{
			Module:      ModuleCompliance,
			Severity:    SeverityCritical,
			Category:    "duplicate-event-id",
			Description: fmt.Sprintf("event_id %s appears %d times in session %s", id, seen[id], tr.SessionID),
			Evidence:    []string{id},
			Component:   tr.SessionID,
			Timestamp:   first[id],
		})
	}
	return findings
}

func requiredFields(tr *trace.Trace) []Finding {
	var findings []Finding
	for i, ev := range tr.Events {
		missing := ev.MissingFields()
		if len(missing) == 0 {
			continue
		}
		findings = append(findings, Finding{
			Module:   ModuleCompliance,
			Severity: SeverityCritical,
			Category: "missing-required-fields",
			Description: fmt.Sprintf("event %d (%s) in session %s is missing required fields: %s",
				i+1, ev.Type, tr.SessionID, strings.Join(missing, ", ")),
			Evidence:  []string{ev.EventID},
			Component: tr.SessionID,
			Timestamp: ev.Timestamp,
		})
	}
	return findings
}

func enumValues(tr *trace.Trace) []Finding {
	var findings []Finding
	for i, ev := range tr.Events {
		if !ev.Type.Valid() {
			findings = append(findings, Finding{
				Module:      ModuleCompliance,
				Severity:    SeverityWarning,
				Category:    "invalid-event-type",
				Description: fmt.Sprintf("event %d in session %s has unknown event_type %q", i+1, tr.SessionID, ev.Type),
				Evidence:    []string{ev.EventID},
				Component:   tr.SessionID,
				Timestamp:   ev.Timestamp,
			})
		}
		if ev.Status != "" && !ev.Status.Valid() {
			findings = append(findings, Finding{
				Module:      ModuleCompliance,
				Severity:    SeverityWarning,
				Category:    "invalid-status",
				Description: fmt.Sprintf("event %d in session %s has unknown status %q", i+1, tr.SessionID, ev.Status),
				Evidence:    []string{ev.EventID},
				Component:   tr.SessionID,
				Timestamp:   ev.Timestamp,
			})
		}
	}
	return findings
}

// knownToolCasing maps lowercased well-known tool names to their canonical
// spelling. A recorder that lowercases tool names splits one tool's stats
// in two, so a case-only variant is worth surfacing.
var knownToolCasing = map[string]string{}

func init() {
	for _, name := range []string{
		"Read", "Write", "Edit", "Bash", "Glob", "Grep",
		"Task", "WebFetch", "WebSearch", "TodoWrite", "AskUserQuestion",
		"NotebookEdit", "EnterPlanMode", "ExitPlanMode",
	} {
		knownToolCasing[strings.ToLower(name)] = name
	}
}

func toolNameCase(tr *trace.Trace) []Finding {
	counts := make(map[string]int)
	firstID := make(map[string]string)
	firstTS := make(map[string]string)
	for _, ev := range tr.Events {
		if ev.ToolName == "" {
			continue
		}
		counts[ev.ToolName]++
		if _, ok := firstID[ev.ToolName]; !ok {
			firstID[ev.ToolName] = ev.EventID
			firstTS[ev.ToolName] = ev.Timestamp
		}
	}

	var findings []Finding
	for _, name := range sortedKeys(counts) {
		canonical, known := knownToolCasing[strings.ToLower(name)]
		if !known || name == canonical {
			continue
		}
		findings = append(findings, Finding{
			Module:      ModuleCompliance,
			Severity:    SeverityInfo,
			Category:    "tool-name-case",
			Description: fmt.Sprintf("tool name %q in session %s should be %q (%d events)", name, tr.SessionID, canonical, counts[name]),
			Evidence:    []string{firstID[name]},
			Component:   tr.SessionID,
			Timestamp:   firstTS[name],
		})
	}
	return findings
}

func loaderDefects(tr *trace.Trace) []Finding {
	var findings []Finding
	for _, d := range tr.Defects {
		findings = append(findings, Finding{
			Module:      ModuleCompliance,
			Severity:    SeverityWarning,
			Category:    "malformed-line",
			Description: fmt.Sprintf("line %d of session %s is not valid JSON (%s): %s", d.Line, tr.SessionID, d.Reason, d.Excerpt),
			Component:   tr.Path,
		})
	}
	return findings
}

func errorMessageQuality(tr *trace.Trace) []Finding {
	var findings []Finding
	prefixes := make(map[string]*struct {
		count   int
		ids     []string
		firstTS string
	})
	for i, ev := range tr.Events {
		if ev.Status != event.StatusError {
			continue
		}
		msg := strings.TrimSpace(strings.ToLower(ev.ErrorMessage))
		if genericErrorMessages[msg] {
			findings = append(findings, Finding{
				Module:   ModuleCompliance,
				Severity: SeverityInfo,
				Category: "generic-error-message",
				Description: fmt.Sprintf("event %d in session %s reports an error with no usable message (%q)",
					i+1, tr.SessionID, ev.ErrorMessage),
				Evidence:  []string{ev.EventID},
				Component: tr.SessionID,
				Timestamp: ev.Timestamp,
			})
			continue
		}
		prefix := msg
		if len(prefix) > errorPrefixLen {
			prefix = prefix[:errorPrefixLen]
		}
		p := prefixes[prefix]
		if p == nil {
			p = &struct {
				count   int
				ids     []string
				firstTS string
			}{firstTS: ev.Timestamp}
			prefixes[prefix] = p
		}
		p.count++
		p.ids = append(p.ids, ev.EventID)
	}
	for _, prefix := range sortedKeys(prefixes) {
		p := prefixes[prefix]
		if p.count < frequentErrorCount {
			continue
		}
		findings = append(findings, Finding{
			Module:   ModuleCompliance,
			Severity: SeverityWarning,
			Category: "recurring-error",
			Description: fmt.Sprintf("the same error recurs %d times in session %s: %q",
				p.count, tr.SessionID, prefix),
			Evidence:  p.ids,
			Component: tr.SessionID,
			Timestamp: p.firstTS,
		})
	}
	return findings
}

func indexMismatch(tr *trace.Trace, lineCounts map[string]int, sessions []trace.IndexEntry) []Finding {
	actual, ok := lineCounts[tr.SessionID]
	if !ok {
		return nil
	}
	for _, s := range sessions {
		if s.SessionID != tr.SessionID {
			continue
		}
		if s.EventCount == actual {
			return nil
		}
		return []Finding{{
			Module:   ModuleCompliance,
			Severity: SeverityWarning,
			Category: "index-count-mismatch",
			Description: fmt.Sprintf("index records %d events for session %s but the trace file has %d lines",
				s.EventCount, tr.SessionID, actual),
			Component: tr.SessionID,
			Timestamp: s.StartedAt,
		}}
	}
	return nil
}
