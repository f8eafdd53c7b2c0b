package bundle

import (
	"archive/tar"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/zstd"

	"github.com/ctxwatch/ctxwatch/internal/config"
	"github.com/ctxwatch/ctxwatch/internal/event"
	"github.com/ctxwatch/ctxwatch/internal/redact"
	"github.com/ctxwatch/ctxwatch/internal/trace"
)

func fixtureStore(t *testing.T) *trace.Store {
	t.Helper()
	cfg := config.Default()
	s, err := trace.NewStore(t.TempDir(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	events := []event.Record{
		{EventID: "e1", Timestamp: "2026-08-30T10:00:00.000Z", Type: event.SessionStart, Status: event.StatusStarted},
		{EventID: "e2", Timestamp: "2026-08-30T10:00:01.000Z", Type: event.PreToolUse, Status: event.StatusPending, ToolName: "Bash", ArgsPreview: "curl -u ops@example.com https://api"},
		{EventID: "e3", Timestamp: "2026-08-30T10:00:02.000Z", Type: event.SessionEnd, Status: event.StatusEnded},
	}
	for _, ev := range events {
		if err := s.Append("sess1", ev); err != nil {
			t.Fatal(err)
		}
	}
	return s
}

func readArchive(t *testing.T, path string) map[string]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	zr, err := zstd.NewReader(f)
	if err != nil {
		t.Fatal(err)
	}
	defer zr.Close()

	members := make(map[string]string)
	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			t.Fatal(err)
		}
		members[hdr.Name] = string(data)
	}
	return members
}

func TestExportRedactsByDefault(t *testing.T) {
	s := fixtureStore(t)
	eng, err := redact.NewEngine(nil)
	if err != nil {
		t.Fatal(err)
	}

	cfgPath := filepath.Join(t.TempDir(), "ctxwatch.local.md")
	if err := os.WriteFile(cfgPath, []byte("---\nenabled: true\n---\nContact ops@example.com\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	out := filepath.Join(t.TempDir(), "bundle.tar.zst")
	got, err := Export(context.Background(), Options{
		Store:      s,
		ConfigPath: cfgPath,
		Output:     out,
		Anonymize:  true,
		Redactor:   eng,
	})
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if got != out {
		t.Errorf("path = %q, want %q", got, out)
	}

	members := readArchive(t, out)
	for _, name := range []string{"traces/session_sess1.jsonl", "config/ctxwatch.local.md", "environment.json", "report.md"} {
		if _, ok := members[name]; !ok {
			t.Errorf("archive missing member %s (have %v)", name, keys(members))
		}
	}
	for name, content := range members {
		if strings.Contains(content, "ops@example.com") {
			t.Errorf("member %s leaks the email", name)
		}
	}
	if !strings.Contains(members["traces/session_sess1.jsonl"], redact.Sentinel("email")) {
		t.Error("trace member should carry the redaction sentinel")
	}
}

func TestExportWithoutAnonymizationKeepsRawBytes(t *testing.T) {
	s := fixtureStore(t)
	out := filepath.Join(t.TempDir(), "bundle.tar.zst")
	if _, err := Export(context.Background(), Options{Store: s, Output: out, Anonymize: false}); err != nil {
		t.Fatalf("Export: %v", err)
	}
	members := readArchive(t, out)
	if !strings.Contains(members["traces/session_sess1.jsonl"], "ops@example.com") {
		t.Error("opt-out export should keep raw bytes")
	}
}

func TestExportAnonymizeRequiresRedactor(t *testing.T) {
	s := fixtureStore(t)
	if _, err := Export(context.Background(), Options{Store: s, Anonymize: true}); err == nil {
		t.Error("anonymize without redactor should fail")
	}
}

func keys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
