// Package health derives a single 0-100 score from a loaded trace. The
// formula's weights are part of the contract: changing them breaks
// comparability across runs.
package health

import (
	"sort"

	"github.com/ctxwatch/ctxwatch/internal/event"
	"github.com/ctxwatch/ctxwatch/internal/trace"
)

// unreliableThreshold is exclusive: a tool counts as unreliable only when
// its error rate is strictly above it.
const unreliableThreshold = 0.2

// Breakdown itemizes each penalty applied to the score.
type Breakdown struct {
	ErrorPenalty       float64  `json:"error_penalty"`      // error rate * 40
	UnreliablePenalty  float64  `json:"unreliable_penalty"` // 10 per unreliable tool, max 30
	IncompletePenalty  float64  `json:"incomplete_penalty"` // 10 per missing session boundary
	PairingPenalty     float64  `json:"pairing_penalty"`    // unpaired pre-tool ratio * 10
	TotalPostToolCalls int      `json:"total_post_tool_calls"`
	Errors             int      `json:"errors"`
	UnreliableTools    []string `json:"unreliable_tools,omitempty"`
	HasSessionStart    bool     `json:"has_session_start"`
	HasSessionEnd      bool     `json:"has_session_end"`
}

// Score is the derived health value with its penalty breakdown.
// Recomputable deterministically from the same trace; never persisted.
type Score struct {
	Value     float64   `json:"value"`
	Breakdown Breakdown `json:"breakdown"`
}

// Compute scores a trace. An empty trace loses only the two completeness
// penalties and scores 80.
func Compute(tr *trace.Trace) *Score {
	b := Breakdown{}

	preCount := 0
	toolTotals := make(map[string]int)
	toolErrors := make(map[string]int)

	for _, ev := range tr.Events {
		switch ev.Type {
		case event.SessionStart:
			b.HasSessionStart = true
		case event.SessionEnd, event.Stop:
			// A Stop event also marks an orderly end.
			b.HasSessionEnd = true
		case event.PreToolUse:
			preCount++
		case event.PostToolUse:
			b.TotalPostToolCalls++
			toolTotals[ev.ToolName]++
			if ev.Status == event.StatusError {
				b.Errors++
				toolErrors[ev.ToolName]++
			}
		}
	}

	total := b.TotalPostToolCalls
	if total < 1 {
		total = 1
	}
	b.ErrorPenalty = float64(b.Errors) / float64(total) * 40

	for tool, calls := range toolTotals {
		if float64(toolErrors[tool])/float64(calls) > unreliableThreshold {
			b.UnreliableTools = append(b.UnreliableTools, tool)
		}
	}
	sort.Strings(b.UnreliableTools)
	b.UnreliablePenalty = float64(len(b.UnreliableTools)) * 10
	if b.UnreliablePenalty > 30 {
		b.UnreliablePenalty = 30
	}

	if !b.HasSessionStart {
		b.IncompletePenalty += 10
	}
	if !b.HasSessionEnd {
		b.IncompletePenalty += 10
	}

	if preCount > 0 {
		b.PairingPenalty = (1 - float64(b.TotalPostToolCalls)/float64(preCount)) * 10
		if b.PairingPenalty < 0 {
			b.PairingPenalty = 0
		}
		if b.PairingPenalty > 10 {
			b.PairingPenalty = 10
		}
	}

	value := 100 - b.ErrorPenalty - b.UnreliablePenalty - b.IncompletePenalty - b.PairingPenalty
	if value < 0 {
		value = 0
	}
	if value > 100 {
		value = 100
	}
	return &Score{Value: value, Breakdown: b}
}
