// Package report turns a loaded trace into per-session usage statistics
// and renders them as text, markdown, or JSON.
package report

import (
	"sort"

	"github.com/ctxwatch/ctxwatch/internal/event"
	"github.com/ctxwatch/ctxwatch/internal/trace"
)

// ToolUsage aggregates one tool's activity in a session.
type ToolUsage struct {
	Tool           string  `json:"tool"`
	Calls          int     `json:"calls"`
	Errors         int     `json:"errors"`
	MeanDurationMS float64 `json:"mean_duration_ms"`
}

// ErrorDetail is one recorded error occurrence.
type ErrorDetail struct {
	Tool      string `json:"tool,omitempty"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// Analysis is the per-session summary derived from a trace.
type Analysis struct {
	SessionID       string         `json:"session_id"`
	EventCount      int            `json:"event_count"`
	StartedAt       string         `json:"started_at,omitempty"`
	EndedAt         string         `json:"ended_at,omitempty"`
	DurationSeconds float64        `json:"duration_seconds"`
	EventTypes      map[string]int `json:"event_types"`
	Tools           []ToolUsage    `json:"tools,omitempty"`
	Errors          []ErrorDetail  `json:"errors,omitempty"`
	MalformedLines  int            `json:"malformed_lines,omitempty"`
}

// Analyze computes usage statistics for one trace. It never fails: defects
// are counted, not fatal.
func Analyze(tr *trace.Trace) *Analysis {
	a := &Analysis{
		SessionID:      tr.SessionID,
		EventCount:     len(tr.Events),
		EventTypes:     make(map[string]int),
		MalformedLines: len(tr.Defects),
	}

	type acc struct {
		calls, errors int
		durationMS    int64
		durations     int
	}
	byTool := make(map[string]*acc)

	for _, ev := range tr.Events {
		a.EventTypes[string(ev.Type)]++

		if ev.Status == event.StatusError {
			a.Errors = append(a.Errors, ErrorDetail{
				Tool:      ev.ToolName,
				Message:   ev.ErrorMessage,
				Timestamp: ev.Timestamp,
			})
		}
		if ev.Type == event.PostToolUse && ev.ToolName != "" {
			t := byTool[ev.ToolName]
			if t == nil {
				t = &acc{}
				byTool[ev.ToolName] = t
			}
			t.calls++
			if ev.Status == event.StatusError {
				t.errors++
			}
			if ev.DurationMS > 0 {
				t.durationMS += ev.DurationMS
				t.durations++
			}
		}
	}

	if len(tr.Events) > 0 {
		a.StartedAt = tr.Events[0].Timestamp
		a.EndedAt = tr.Events[len(tr.Events)-1].Timestamp
		if start, err := tr.Events[0].Time(); err == nil {
			if end, err := tr.Events[len(tr.Events)-1].Time(); err == nil {
				a.DurationSeconds = end.Sub(start).Seconds()
			}
		}
	}

	for tool, t := range byTool {
		u := ToolUsage{Tool: tool, Calls: t.calls, Errors: t.errors}
		if t.durations > 0 {
			u.MeanDurationMS = float64(t.durationMS) / float64(t.durations)
		}
		a.Tools = append(a.Tools, u)
	}
	sort.Slice(a.Tools, func(i, j int) bool {
		if a.Tools[i].Calls != a.Tools[j].Calls {
			return a.Tools[i].Calls > a.Tools[j].Calls
		}
		return a.Tools[i].Tool < a.Tools[j].Tool
	})
	return a
}
