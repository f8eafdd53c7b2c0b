package trace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ctxwatch/ctxwatch/internal/config"
	"github.com/ctxwatch/ctxwatch/internal/event"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir(), config.Default())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

func testRecord(id string, typ event.Type) event.Record {
	rec := event.Record{
		EventID:   id,
		Timestamp: event.Now(),
		Type:      typ,
		Status:    event.StatusSuccess,
	}
	if typ == event.PreToolUse || typ == event.PostToolUse {
		rec.ToolName = "Bash"
	}
	return rec
}

func TestAppendThenLoadPreservesOrder(t *testing.T) {
	s := newTestStore(t)

	for i := 0; i < 10; i++ {
		rec := testRecord(fmt.Sprintf("e%d", i), event.PostToolUse)
		if err := s.Append("abc", rec); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	tr, err := LoadSession(s, "abc")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(tr.Events) != 10 {
		t.Fatalf("expected 10 events, got %d", len(tr.Events))
	}
	for i, rec := range tr.Events {
		if rec.EventID != fmt.Sprintf("e%d", i) {
			t.Fatalf("order broken at %d: got %q", i, rec.EventID)
		}
		if rec.SessionID != "abc" {
			t.Fatalf("session id not stamped: %+v", rec)
		}
	}
}

func TestIndexCountMatchesLineCount(t *testing.T) {
	s := newTestStore(t)

	for i := 0; i < 7; i++ {
		if err := s.Append("s1", testRecord(fmt.Sprintf("e%d", i), event.PostToolUse)); err != nil {
			t.Fatal(err)
		}
	}

	sessions, err := s.Sessions()
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 1 {
		t.Fatalf("expected one index entry, got %d", len(sessions))
	}
	if sessions[0].EventCount != 7 {
		t.Fatalf("index count %d, want 7", sessions[0].EventCount)
	}

	lines, err := s.LineCount("s1")
	if err != nil {
		t.Fatal(err)
	}
	if lines != sessions[0].EventCount {
		t.Fatalf("line count %d != index count %d", lines, sessions[0].EventCount)
	}
}

func TestConcurrentAppendsLoseNoIncrements(t *testing.T) {
	s := newTestStore(t)

	const writers = 8
	const perWriter = 10

	var wg sync.WaitGroup
	errs := make(chan error, writers*perWriter)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				rec := testRecord(fmt.Sprintf("w%d-e%d", w, i), event.PostToolUse)
				if err := s.Append("shared", rec); err != nil {
					errs <- err
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("append failed: %v", err)
	}

	sessions, err := s.Sessions()
	if err != nil {
		t.Fatal(err)
	}
	if sessions[0].EventCount != writers*perWriter {
		t.Fatalf("lost updates: index count %d, want %d", sessions[0].EventCount, writers*perWriter)
	}
	lines, err := s.LineCount("shared")
	if err != nil {
		t.Fatal(err)
	}
	if lines != writers*perWriter {
		t.Fatalf("lost lines: %d, want %d", lines, writers*perWriter)
	}
}

func TestDisabledConfigIsSilentNoop(t *testing.T) {
	cfg := config.Default()
	cfg.Enabled = false
	s, err := NewStore(t.TempDir(), cfg)
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Append("s1", testRecord("e1", event.PreToolUse)); err != nil {
		t.Fatalf("disabled append must not error: %v", err)
	}
	if _, err := os.Stat(s.TracePath("s1")); !os.IsNotExist(err) {
		t.Fatal("disabled append must leave no trace file")
	}
	sessions, err := s.Sessions()
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 0 {
		t.Fatal("disabled append must leave no index entry")
	}
}

func TestFilteredEventTypeIsSkipped(t *testing.T) {
	cfg := config.Default()
	cfg.Events = []string{"SessionStart"}
	s, err := NewStore(t.TempDir(), cfg)
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Append("s1", testRecord("e1", event.PostToolUse)); err != nil {
		t.Fatal(err)
	}
	if err := s.Append("s1", testRecord("e2", event.SessionStart)); err != nil {
		t.Fatal(err)
	}
	lines, err := s.LineCount("s1")
	if err != nil {
		t.Fatal(err)
	}
	if lines != 1 {
		t.Fatalf("expected only the allow-listed event, got %d lines", lines)
	}
}

func TestAppendTruncatesPreviewsPerLogLevel(t *testing.T) {
	cfg := config.Default()
	cfg.LogLevel = config.LevelMinimal
	s, err := NewStore(t.TempDir(), cfg)
	if err != nil {
		t.Fatal(err)
	}

	rec := testRecord("e1", event.PostToolUse)
	for i := 0; i < 50; i++ {
		rec.ResultPreview += "0123456789"
	}
	if err := s.Append("s1", rec); err != nil {
		t.Fatal(err)
	}

	tr, err := LoadSession(s, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if got := len(tr.Events[0].ResultPreview); got != 100 {
		t.Fatalf("minimal level must cap previews at 100 chars, got %d", got)
	}
}

func TestClearEndedRemovesOnlyEndedSessions(t *testing.T) {
	s := newTestStore(t)

	// Ended session
	if err := s.Append("done", testRecord("e1", event.SessionStart)); err != nil {
		t.Fatal(err)
	}
	end := testRecord("e2", event.SessionEnd)
	end.Status = event.StatusEnded
	if err := s.Append("done", end); err != nil {
		t.Fatal(err)
	}

	// Running session
	if err := s.Append("live", testRecord("e3", event.SessionStart)); err != nil {
		t.Fatal(err)
	}

	result, err := s.ClearEnded()
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Cleared) != 1 || result.Kept != 1 {
		t.Fatalf("expected 1 cleared / 1 kept, got %+v", result)
	}
	if result.FreedBytes == 0 {
		t.Fatal("expected freed bytes to be reported")
	}

	if _, err := os.Stat(s.TracePath("done")); !os.IsNotExist(err) {
		t.Fatal("ended session trace must be removed")
	}
	if _, err := os.Stat(s.TracePath("live")); err != nil {
		t.Fatal("running session trace must be kept")
	}

	sessions, err := s.Sessions()
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 1 || sessions[0].SessionID != "live" {
		t.Fatalf("index not pruned: %+v", sessions)
	}
}

func TestSessionIDFromPath(t *testing.T) {
	got := SessionIDFromPath(filepath.Join("x", "session_ab-12.jsonl"))
	if got != "ab-12" {
		t.Fatalf("got %q", got)
	}
}

func TestOversizedLineDoesNotStopCountingOrEndDetection(t *testing.T) {
	s := newTestStore(t)
	if err := s.Append("sx", testRecord("e1", event.SessionStart)); err != nil {
		t.Fatal(err)
	}

	// A foreign writer wedges a runaway line into the middle of the file.
	f, err := os.OpenFile(s.TracePath("sx"), os.O_APPEND|os.O_WRONLY, 0640)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString(strings.Repeat("z", 2*maxLineBytes) + "\n"); err != nil {
		t.Fatal(err)
	}
	f.Close()

	end := testRecord("e2", event.SessionEnd)
	end.Status = event.StatusEnded
	if err := s.Append("sx", end); err != nil {
		t.Fatal(err)
	}

	count, err := s.LineCount("sx")
	if err != nil {
		t.Fatalf("line count: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 lines counted past the oversized one, got %d", count)
	}

	ended, err := hasSessionEnd(s.TracePath("sx"))
	if err != nil {
		t.Fatalf("has session end: %v", err)
	}
	if !ended {
		t.Fatal("SessionEnd after an oversized line must still be found")
	}
}

func TestStaleIndexLockIsBroken(t *testing.T) {
	s := newTestStore(t)
	lockPath := filepath.Join(s.Dir(), indexFilename+".lock")
	if err := os.WriteFile(lockPath, nil, 0640); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-2 * lockTimeout)
	if err := os.Chtimes(lockPath, old, old); err != nil {
		t.Fatal(err)
	}

	// The stale lock must not block the append past its age.
	if err := s.Append("sl", testRecord("e1", event.SessionStart)); err != nil {
		t.Fatalf("append past stale lock: %v", err)
	}
	if _, err := os.Stat(lockPath); !os.IsNotExist(err) {
		t.Fatal("broken lock must be released after the append")
	}
}
