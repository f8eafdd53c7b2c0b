package diff

import (
	"regexp"
	"sort"
	"strings"

	"github.com/ctxwatch/ctxwatch/internal/event"
	"github.com/ctxwatch/ctxwatch/internal/trace"
)

// epsilon bounds error-rate comparison; differences below it are noise.
const epsilon = 1e-9

// ToolStat summarizes one tool's activity in one trace.
type ToolStat struct {
	Tool   string `json:"tool"`
	Calls  int    `json:"calls"`
	Errors int    `json:"errors"`
}

// ToolChange records a tool present in both traces whose call count or
// error rate moved.
type ToolChange struct {
	Tool     string  `json:"tool"`
	CallsA   int     `json:"calls_a"`
	CallsB   int     `json:"calls_b"`
	ErrRateA float64 `json:"error_rate_a"`
	ErrRateB float64 `json:"error_rate_b"`
}

// ErrorEntry is one distinct (tool, normalized message) error observed in a
// trace.
type ErrorEntry struct {
	Tool    string `json:"tool"`
	Message string `json:"message"`
}

// Step is one element of the compared event sequence.
type Step struct {
	Type event.Type `json:"event_type"`
	Tool string     `json:"tool_name,omitempty"`
}

// Divergence locates the first point where the two event sequences stop
// agreeing. Kind is "insertion" when the step only exists in B, "deletion"
// when it only exists in A, "replacement" when both sides disagree, and
// "truncation" when one sequence simply ended.
type Divergence struct {
	Index int    `json:"index"`
	Kind  string `json:"kind"`
	A     *Step  `json:"a,omitempty"`
	B     *Step  `json:"b,omitempty"`
}

// Result is the categorized delta between two traces. Derived, never
// persisted.
type Result struct {
	SessionA       string       `json:"session_a"`
	SessionB       string       `json:"session_b"`
	AddedTools     []ToolStat   `json:"added_tools,omitempty"`
	RemovedTools   []ToolStat   `json:"removed_tools,omitempty"`
	ChangedTools   []ToolChange `json:"changed_tools,omitempty"`
	NewErrors      []ErrorEntry `json:"new_errors,omitempty"`
	ResolvedErrors []ErrorEntry `json:"resolved_errors,omitempty"`
	Divergence     *Divergence  `json:"divergence,omitempty"`
}

// HasChanges reports whether any category is non-empty.
func (r *Result) HasChanges() bool {
	return len(r.AddedTools) > 0 || len(r.RemovedTools) > 0 ||
		len(r.ChangedTools) > 0 || len(r.NewErrors) > 0 ||
		len(r.ResolvedErrors) > 0 || r.Divergence != nil
}

// Diff compares two traces. Tool sets are order-independent and sorted for
// determinism; sequence divergence is order-dependent but deterministic.
// Diffing a trace against itself yields an empty result.
func Diff(a, b *trace.Trace) *Result {
	r := &Result{SessionA: a.SessionID, SessionB: b.SessionID}

	statsA := toolStats(a)
	statsB := toolStats(b)

	for _, tool := range sortedTools(statsB) {
		if _, ok := statsA[tool]; !ok {
			r.AddedTools = append(r.AddedTools, statsB[tool])
		}
	}
	for _, tool := range sortedTools(statsA) {
		sa := statsA[tool]
		sb, inB := statsB[tool]
		if !inB {
			r.RemovedTools = append(r.RemovedTools, sa)
			continue
		}
		rateA := errRate(sa)
		rateB := errRate(sb)
		if sa.Calls != sb.Calls || rateDiffers(rateA, rateB) {
			r.ChangedTools = append(r.ChangedTools, ToolChange{
				Tool: tool, CallsA: sa.Calls, CallsB: sb.Calls,
				ErrRateA: rateA, ErrRateB: rateB,
			})
		}
	}

	errsA := errorSet(a)
	errsB := errorSet(b)
	r.NewErrors = errorsOnlyIn(errsB, errsA)
	r.ResolvedErrors = errorsOnlyIn(errsA, errsB)

	r.Divergence = firstDivergence(steps(a), steps(b))
	return r
}

func toolStats(tr *trace.Trace) map[string]ToolStat {
	stats := make(map[string]ToolStat)
	for _, ev := range tr.Events {
		if ev.Type != event.PostToolUse || ev.ToolName == "" {
			continue
		}
		s := stats[ev.ToolName]
		s.Tool = ev.ToolName
		s.Calls++
		if ev.Status == event.StatusError {
			s.Errors++
		}
		stats[ev.ToolName] = s
	}
	return stats
}

func errRate(s ToolStat) float64 {
	if s.Calls == 0 {
		return 0
	}
	return float64(s.Errors) / float64(s.Calls)
}

func rateDiffers(a, b float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d > epsilon
}

func sortedTools(m map[string]ToolStat) []string {
	tools := make([]string, 0, len(m))
	for t := range m {
		tools = append(tools, t)
	}
	sort.Strings(tools)
	return tools
}

var digitRuns = regexp.MustCompile(`\d+`)

// normalizeError makes messages comparable across runs: lowercase with
// digit runs collapsed, so "timeout after 31s" and "timeout after 4s" are
// the same error.
func normalizeError(msg string) string {
	return digitRuns.ReplaceAllString(strings.ToLower(strings.TrimSpace(msg)), "#")
}

func errorSet(tr *trace.Trace) map[ErrorEntry]bool {
	set := make(map[ErrorEntry]bool)
	for _, ev := range tr.Events {
		if ev.Status != event.StatusError {
			continue
		}
		set[ErrorEntry{Tool: ev.ToolName, Message: normalizeError(ev.ErrorMessage)}] = true
	}
	return set
}

func errorsOnlyIn(in, notIn map[ErrorEntry]bool) []ErrorEntry {
	var out []ErrorEntry
	for e := range in {
		if !notIn[e] {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Tool != out[j].Tool {
			return out[i].Tool < out[j].Tool
		}
		return out[i].Message < out[j].Message
	})
	return out
}

func steps(tr *trace.Trace) []Step {
	out := make([]Step, 0, len(tr.Events))
	for _, ev := range tr.Events {
		out = append(out, Step{Type: ev.Type, Tool: ev.ToolName})
	}
	return out
}

// firstDivergence aligns the two sequences with a longest-common-subsequence
// table and reports where the alignment first emits a non-match. Localizing
// the break beats a bare "sequences differ".
func firstDivergence(a, b []Step) *Divergence {
	n, m := len(a), len(b)
	// lcs[i][j] = LCS length of a[i:], b[j:].
	lcs := make([][]int, n+1)
	for i := range lcs {
		lcs[i] = make([]int, m+1)
	}
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if a[i] == b[j] {
				lcs[i][j] = lcs[i+1][j+1] + 1
			} else if lcs[i+1][j] >= lcs[i][j+1] {
				lcs[i][j] = lcs[i+1][j]
			} else {
				lcs[i][j] = lcs[i][j+1]
			}
		}
	}

	i := 0
	for i < n && i < m && a[i] == b[i] {
		i++
	}
	switch {
	case i == n && i == m:
		return nil
	case i == n:
		return &Divergence{Index: i, Kind: "truncation", B: &b[i]}
	case i == m:
		return &Divergence{Index: i, Kind: "truncation", A: &a[i]}
	}

	d := &Divergence{Index: i, A: &a[i], B: &b[i]}
	switch {
	case lcs[i][i+1] > lcs[i+1][i]:
		d.Kind = "insertion" // b[i] is extra, a rejoins later
	case lcs[i+1][i] > lcs[i][i+1]:
		d.Kind = "deletion" // a[i] is extra, b rejoins later
	default:
		d.Kind = "replacement"
	}
	return d
}
