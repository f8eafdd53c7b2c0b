package event

import (
	"strings"
	"testing"
	"time"
)

func TestParseTypeRejectsUnknown(t *testing.T) {
	if _, err := ParseType("ToolUse"); err == nil {
		t.Fatal("expected error for unknown event type")
	}
	typ, err := ParseType("PreToolUse")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if typ != PreToolUse {
		t.Fatalf("expected PreToolUse, got %q", typ)
	}
}

func TestStatusValid(t *testing.T) {
	cases := []struct {
		status Status
		want   bool
	}{
		{StatusSuccess, true},
		{StatusError, true},
		{Status(""), true},
		{Status("failed"), false},
		{Status("SUCCESS"), false},
	}
	for _, tc := range cases {
		if got := tc.status.Valid(); got != tc.want {
			t.Errorf("Status(%q).Valid() = %v, want %v", tc.status, got, tc.want)
		}
	}
}

func TestMissingFields(t *testing.T) {
	r := Record{
		EventID:   "e1",
		SessionID: "s1",
		Timestamp: Now(),
		Type:      PostToolUse,
	}
	missing := r.MissingFields()
	if len(missing) != 2 {
		t.Fatalf("expected 2 missing fields, got %v", missing)
	}
	// PostToolUse requires both tool_name and status.
	want := map[string]bool{"tool_name": true, "status": true}
	for _, f := range missing {
		if !want[f] {
			t.Errorf("unexpected missing field %q", f)
		}
	}

	r.ToolName = "Bash"
	r.Status = StatusSuccess
	if missing := r.MissingFields(); len(missing) != 0 {
		t.Fatalf("expected complete record, got missing %v", missing)
	}
}

func TestTimeParsesCanonicalAndRFC3339(t *testing.T) {
	for _, ts := range []string{
		"2026-03-01T10:00:00.123Z",
		"2026-03-01T10:00:00Z",
		"2026-03-01T10:00:00.123456+02:00",
	} {
		r := Record{Timestamp: ts}
		if _, err := r.Time(); err != nil {
			t.Errorf("Time() failed for %q: %v", ts, err)
		}
	}

	r := Record{Timestamp: "last tuesday"}
	if _, err := r.Time(); err == nil {
		t.Error("expected error for unparseable timestamp")
	}
}

func TestTimeNormalizesToUTC(t *testing.T) {
	r := Record{Timestamp: "2026-03-01T12:00:00.000+03:00"}
	got, err := r.Time()
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestBoundCapsPreviews(t *testing.T) {
	long := strings.Repeat("x", HardPreviewCeiling+500)
	r := Record{ArgsPreview: long, ResultPreview: long, ErrorMessage: long}

	r.Bound(500)
	if len(r.ArgsPreview) != 500 || len(r.ResultPreview) != 500 || len(r.ErrorMessage) != 500 {
		t.Fatalf("expected 500-char previews, got %d/%d/%d",
			len(r.ArgsPreview), len(r.ResultPreview), len(r.ErrorMessage))
	}

	// Zero cap means "uncapped" but the hard ceiling still applies.
	r2 := Record{ArgsPreview: long}
	r2.Bound(0)
	if len(r2.ArgsPreview) != HardPreviewCeiling {
		t.Fatalf("expected hard ceiling %d, got %d", HardPreviewCeiling, len(r2.ArgsPreview))
	}
}
