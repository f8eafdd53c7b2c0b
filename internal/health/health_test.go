package health

import (
	"math"
	"testing"

	"github.com/ctxwatch/ctxwatch/internal/event"
	"github.com/ctxwatch/ctxwatch/internal/trace"
)

func rec(typ event.Type, status event.Status, tool string) event.Record {
	return event.Record{
		EventID:   "e",
		Timestamp: "2026-08-30T10:00:00.000Z",
		Type:      typ,
		Status:    status,
		ToolName:  tool,
	}
}

func almost(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestEmptyTraceScores80(t *testing.T) {
	s := Compute(&trace.Trace{SessionID: "s1"})
	if !almost(s.Value, 80) {
		t.Errorf("empty trace value = %v, want 80", s.Value)
	}
	if !almost(s.Breakdown.IncompletePenalty, 20) {
		t.Errorf("incomplete penalty = %v, want 20", s.Breakdown.IncompletePenalty)
	}
	if s.Breakdown.PairingPenalty != 0 || s.Breakdown.ErrorPenalty != 0 {
		t.Errorf("only completeness should apply: %+v", s.Breakdown)
	}
}

func TestEightOfTenSuccessExample(t *testing.T) {
	events := []event.Record{
		rec(event.SessionStart, event.StatusStarted, ""),
	}
	for i := 0; i < 10; i++ {
		events = append(events, rec(event.PreToolUse, event.StatusPending, "Write"))
		status := event.StatusSuccess
		if i < 2 {
			status = event.StatusError
		}
		events = append(events, rec(event.PostToolUse, status, "Write"))
	}
	events = append(events, rec(event.SessionEnd, event.StatusEnded, ""))

	s := Compute(&trace.Trace{SessionID: "s1", Events: events})
	if !almost(s.Breakdown.ErrorPenalty, 8) {
		t.Errorf("error penalty = %v, want (2/10)*40 = 8", s.Breakdown.ErrorPenalty)
	}
	// 0.2 is not above the threshold: Write is not unreliable.
	if s.Breakdown.UnreliablePenalty != 0 {
		t.Errorf("unreliable penalty = %v, want 0 at exactly 0.2", s.Breakdown.UnreliablePenalty)
	}
	if !almost(s.Value, 92) {
		t.Errorf("value = %v, want 92", s.Value)
	}
}

func TestUnreliableBoundaryIsExclusive(t *testing.T) {
	tests := []struct {
		name           string
		errors, total  int
		wantUnreliable bool
	}{
		{"exactly 0.2", 2, 10, false},
		{"just above", 3, 10, true},
		{"all failing", 5, 5, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var events []event.Record
			for i := 0; i < tt.total; i++ {
				status := event.StatusSuccess
				if i < tt.errors {
					status = event.StatusError
				}
				events = append(events, rec(event.PostToolUse, status, "Fetch"))
			}
			s := Compute(&trace.Trace{SessionID: "s1", Events: events})
			got := len(s.Breakdown.UnreliableTools) > 0
			if got != tt.wantUnreliable {
				t.Errorf("unreliable = %v, want %v (breakdown %+v)", got, tt.wantUnreliable, s.Breakdown)
			}
		})
	}
}

func TestUnreliablePenaltyCapsAt30(t *testing.T) {
	var events []event.Record
	for _, tool := range []string{"A", "B", "C", "D"} {
		events = append(events,
			rec(event.PostToolUse, event.StatusError, tool),
			rec(event.PostToolUse, event.StatusError, tool),
		)
	}
	s := Compute(&trace.Trace{SessionID: "s1", Events: events})
	if s.Breakdown.UnreliablePenalty != 30 {
		t.Errorf("penalty = %v, want cap 30", s.Breakdown.UnreliablePenalty)
	}
}

func TestStopCountsAsSessionEnd(t *testing.T) {
	events := []event.Record{
		rec(event.SessionStart, event.StatusStarted, ""),
		rec(event.Stop, event.StatusCompleted, ""),
	}
	s := Compute(&trace.Trace{SessionID: "s1", Events: events})
	if s.Breakdown.IncompletePenalty != 0 {
		t.Errorf("Stop should satisfy completeness, penalty = %v", s.Breakdown.IncompletePenalty)
	}
	if !almost(s.Value, 100) {
		t.Errorf("value = %v, want 100", s.Value)
	}
}

func TestPairingPenalty(t *testing.T) {
	events := []event.Record{
		rec(event.SessionStart, event.StatusStarted, ""),
		rec(event.PreToolUse, event.StatusPending, "Bash"),
		rec(event.PreToolUse, event.StatusPending, "Bash"),
		rec(event.PostToolUse, event.StatusSuccess, "Bash"),
		rec(event.SessionEnd, event.StatusEnded, ""),
	}
	s := Compute(&trace.Trace{SessionID: "s1", Events: events})
	if !almost(s.Breakdown.PairingPenalty, 5) {
		t.Errorf("pairing penalty = %v, want (1 - 1/2)*10 = 5", s.Breakdown.PairingPenalty)
	}
}

func TestScoreStaysInRange(t *testing.T) {
	var events []event.Record
	for _, tool := range []string{"A", "B", "C", "D", "E"} {
		for i := 0; i < 4; i++ {
			events = append(events, rec(event.PreToolUse, event.StatusPending, tool))
		}
		events = append(events, rec(event.PostToolUse, event.StatusError, tool))
	}
	s := Compute(&trace.Trace{SessionID: "s1", Events: events})
	if s.Value < 0 || s.Value > 100 {
		t.Errorf("value out of range: %v", s.Value)
	}
}

func TestDeterministic(t *testing.T) {
	events := []event.Record{
		rec(event.SessionStart, event.StatusStarted, ""),
		rec(event.PostToolUse, event.StatusError, "Zeta"),
		rec(event.PostToolUse, event.StatusError, "Alpha"),
	}
	tr := &trace.Trace{SessionID: "s1", Events: events}
	a, b := Compute(tr), Compute(tr)
	if a.Value != b.Value {
		t.Errorf("score not deterministic: %v vs %v", a.Value, b.Value)
	}
	if len(a.Breakdown.UnreliableTools) != 2 || a.Breakdown.UnreliableTools[0] != "Alpha" {
		t.Errorf("unreliable tools should be sorted: %v", a.Breakdown.UnreliableTools)
	}
}
