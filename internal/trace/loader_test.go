package trace

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTrace(t *testing.T, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0640); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadSkipsMalformedLinesAndContinues(t *testing.T) {
	path := writeTrace(t, "session_s1.jsonl",
		`{"event_id":"e1","session_id":"s1","timestamp":"2026-03-01T10:00:00.000Z","event_type":"SessionStart","status":"started"}`,
		`{this is not json`,
		`{"event_id":"e2","session_id":"s1","timestamp":"2026-03-01T10:00:01.000Z","event_type":"PreToolUse","tool_name":"Bash"}`,
	)

	tr, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(tr.Events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(tr.Events))
	}
	if len(tr.Defects) != 1 {
		t.Fatalf("expected 1 defect, got %d", len(tr.Defects))
	}
	d := tr.Defects[0]
	if d.Line != 2 {
		t.Fatalf("defect line %d, want 2", d.Line)
	}
	if !strings.Contains(d.Excerpt, "{this is not") {
		t.Fatalf("defect excerpt missing raw text: %q", d.Excerpt)
	}
}

func TestLoadPreservesEventOrder(t *testing.T) {
	path := writeTrace(t, "session_s1.jsonl",
		`{"event_id":"b","session_id":"s1","timestamp":"2026-03-01T10:00:05.000Z","event_type":"Stop"}`,
		`{"event_id":"a","session_id":"s1","timestamp":"2026-03-01T10:00:01.000Z","event_type":"Stop"}`,
	)

	tr, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	// Append order wins, not timestamp order.
	if tr.Events[0].EventID != "b" || tr.Events[1].EventID != "a" {
		t.Fatalf("load reordered events: %v", tr.Events)
	}
}

func TestLoadInvalidEnumsAreNotDefects(t *testing.T) {
	path := writeTrace(t, "session_s1.jsonl",
		`{"event_id":"e1","session_id":"s1","timestamp":"x","event_type":"Bogus","status":"nope"}`,
	)

	tr, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(tr.Defects) != 0 {
		t.Fatalf("schema violations must not be load defects: %v", tr.Defects)
	}
	if len(tr.Events) != 1 {
		t.Fatalf("violating record must still load, got %d events", len(tr.Events))
	}
}

func TestLoadSessionIDFallsBackToRecords(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "weird-name.jsonl")
	err := os.WriteFile(path, []byte(
		`{"event_id":"e1","session_id":"from-record","timestamp":"2026-03-01T10:00:00.000Z","event_type":"Stop"}`+"\n"), 0640)
	if err != nil {
		t.Fatal(err)
	}

	tr, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if tr.SessionID != "from-record" {
		t.Fatalf("expected session id from record, got %q", tr.SessionID)
	}
}

func TestLoadMissingFileIsExplicitError(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.jsonl")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func FuzzLoadNeverPanics(f *testing.F) {
	f.Add(`{"event_id":"e1","event_type":"Stop"}`)
	f.Add(`{broken`)
	f.Add("")
	f.Add("\x00\xff\xfe")
	f.Fuzz(func(t *testing.T, line string) {
		path := filepath.Join(t.TempDir(), "session_f.jsonl")
		if err := os.WriteFile(path, []byte(line+"\n"), 0640); err != nil {
			t.Skip()
		}
		tr, err := Load(path)
		if err != nil {
			t.Skip()
		}
		_ = tr.Events
		_ = tr.Defects
	})
}

func TestLoadRecoversAfterOversizedLine(t *testing.T) {
	huge := `{"event_id":"big","args_preview":"` + strings.Repeat("x", 2*maxLineBytes) + `"}`
	path := writeTrace(t, "session_s1.jsonl",
		`{"event_id":"e1","session_id":"s1","timestamp":"2026-03-01T10:00:00.000Z","event_type":"SessionStart","status":"started"}`,
		huge,
		`{"event_id":"e2","session_id":"s1","timestamp":"2026-03-01T10:00:01.000Z","event_type":"PostToolUse","tool_name":"Bash","status":"success"}`,
	)

	tr, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(tr.Events) != 2 {
		t.Fatalf("expected 2 events around the oversized line, got %d", len(tr.Events))
	}
	if tr.Events[0].EventID != "e1" || tr.Events[1].EventID != "e2" {
		t.Fatalf("wrong events survived: %+v", tr.Events)
	}
	if len(tr.Defects) != 1 {
		t.Fatalf("expected 1 defect, got %d: %+v", len(tr.Defects), tr.Defects)
	}
	d := tr.Defects[0]
	if d.Line != 2 {
		t.Fatalf("defect line %d, want 2", d.Line)
	}
	if !strings.Contains(d.Reason, "exceeds") {
		t.Fatalf("defect reason %q should name the size cap", d.Reason)
	}
	if len(d.Excerpt) > excerptLen {
		t.Fatalf("excerpt not capped: %d bytes", len(d.Excerpt))
	}
}

func TestLoadLineAtExactCapIsNotOversized(t *testing.T) {
	prefix := `{"event_id":"e1","event_type":"Stop","args_preview":"`
	suffix := `"}`
	pad := maxLineBytes - len(prefix) - len(suffix)
	path := writeTrace(t, "session_s1.jsonl",
		prefix+strings.Repeat("y", pad)+suffix,
	)

	tr, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(tr.Events) != 1 || len(tr.Defects) != 0 {
		t.Fatalf("line of exactly %d bytes must load: events=%d defects=%+v", maxLineBytes, len(tr.Events), tr.Defects)
	}
}
