package event

import (
	"fmt"
	"time"
)

// TimestampFormat is the canonical wall-clock format for event records:
// UTC, millisecond precision, trailing Z.
const TimestampFormat = "2006-01-02T15:04:05.000Z"

// Type identifies the kind of lifecycle occurrence an event records.
type Type string

const (
	SessionStart     Type = "SessionStart"
	SessionEnd       Type = "SessionEnd"
	PreToolUse       Type = "PreToolUse"
	PostToolUse      Type = "PostToolUse"
	Stop             Type = "Stop"
	SubagentStop     Type = "SubagentStop"
	UserPromptSubmit Type = "UserPromptSubmit"
	PreCompact       Type = "PreCompact"
	Notification     Type = "Notification"
)

// Types lists every valid event type in a stable order.
var Types = []Type{
	SessionStart, SessionEnd, PreToolUse, PostToolUse,
	Stop, SubagentStop, UserPromptSubmit, PreCompact, Notification,
}

// Valid reports whether t is a member of the closed event type set.
func (t Type) Valid() bool {
	for _, known := range Types {
		if t == known {
			return true
		}
	}
	return false
}

// ParseType converts a raw string to a Type, rejecting unknown values.
func ParseType(s string) (Type, error) {
	t := Type(s)
	if !t.Valid() {
		return "", fmt.Errorf("event: unknown event type %q", s)
	}
	return t, nil
}

// Status is the outcome recorded on an event.
type Status string

const (
	StatusPending    Status = "pending"
	StatusSuccess    Status = "success"
	StatusError      Status = "error"
	StatusStarted    Status = "started"
	StatusEnded      Status = "ended"
	StatusCompleted  Status = "completed"
	StatusSubmitted  Status = "submitted"
	StatusCompacting Status = "compacting"
	StatusNotified   Status = "notified"
	StatusUnknown    Status = "unknown"
)

var validStatuses = map[Status]bool{
	StatusPending: true, StatusSuccess: true, StatusError: true,
	StatusStarted: true, StatusEnded: true, StatusCompleted: true,
	StatusSubmitted: true, StatusCompacting: true, StatusNotified: true,
	StatusUnknown: true,
}

// Valid reports whether s is a member of the closed status set.
// The empty status is valid for event types that do not require one.
func (s Status) Valid() bool {
	return s == "" || validStatuses[s]
}

// Record is one captured occurrence in a session's execution. Every record
// is self-contained: correlation between PreToolUse and PostToolUse is
// positional best-effort, not a foreign key (see audit.Intermittency).
type Record struct {
	EventID   string `json:"event_id"`
	SessionID string `json:"session_id"`
	Timestamp string `json:"timestamp"`
	Type      Type   `json:"event_type"`
	Status    Status `json:"status,omitempty"`

	ToolName         string `json:"tool_name,omitempty"`
	ArgsPreview      string `json:"args_preview,omitempty"`
	ResultPreview    string `json:"result_preview,omitempty"`
	DurationMS       int64  `json:"duration_ms,omitempty"`
	ErrorMessage     string `json:"error_message,omitempty"`
	Reason           string `json:"reason,omitempty"`
	PromptLength     int    `json:"prompt_length,omitempty"`
	NotificationKind string `json:"notification_kind,omitempty"`
	CWD              string `json:"cwd,omitempty"`
}

// requiredFields maps each event type to the JSON fields a well-formed
// record must carry. Every type requires the base identity fields.
var requiredFields = map[Type][]string{
	SessionStart:     {"event_id", "session_id", "timestamp", "event_type", "status"},
	SessionEnd:       {"event_id", "session_id", "timestamp", "event_type", "status"},
	PreToolUse:       {"event_id", "session_id", "timestamp", "event_type", "tool_name"},
	PostToolUse:      {"event_id", "session_id", "timestamp", "event_type", "tool_name", "status"},
	Stop:             {"event_id", "session_id", "timestamp", "event_type"},
	SubagentStop:     {"event_id", "session_id", "timestamp", "event_type"},
	UserPromptSubmit: {"event_id", "session_id", "timestamp", "event_type", "status"},
	PreCompact:       {"event_id", "session_id", "timestamp", "event_type", "status"},
	Notification:     {"event_id", "session_id", "timestamp", "event_type", "status"},
}

// RequiredFields returns the required JSON field names for an event type.
// Unknown types fall back to the base identity fields.
func RequiredFields(t Type) []string {
	if fields, ok := requiredFields[t]; ok {
		return fields
	}
	return []string{"event_id", "session_id", "timestamp", "event_type"}
}

// MissingFields returns the required fields that are absent from r.
func (r *Record) MissingFields() []string {
	var missing []string
	for _, f := range RequiredFields(r.Type) {
		if !r.hasField(f) {
			missing = append(missing, f)
		}
	}
	return missing
}

func (r *Record) hasField(name string) bool {
	switch name {
	case "event_id":
		return r.EventID != ""
	case "session_id":
		return r.SessionID != ""
	case "timestamp":
		return r.Timestamp != ""
	case "event_type":
		return r.Type != ""
	case "status":
		return r.Status != ""
	case "tool_name":
		return r.ToolName != ""
	default:
		return true
	}
}

// Time parses the record's timestamp. Accepts the canonical millisecond
// format plus RFC 3339 variants the host may emit.
func (r *Record) Time() (time.Time, error) {
	for _, layout := range []string{TimestampFormat, time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, r.Timestamp); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("event: unparseable timestamp %q", r.Timestamp)
}

// Now returns the current instant formatted as a canonical event timestamp.
func Now() string {
	return time.Now().UTC().Format(TimestampFormat)
}

// Truncate caps preview payloads at max characters. A zero or negative max
// means no cap. Truncation appends no marker: previews are bounded copies,
// not faithful excerpts.
func Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max]
}

// HardPreviewCeiling bounds a single preview even at full log level so one
// pathological event cannot blow up a trace file.
const HardPreviewCeiling = 10000

// Bound applies the level cap and the hard ceiling to all preview fields.
func (r *Record) Bound(previewCap int) {
	limit := previewCap
	if limit <= 0 || limit > HardPreviewCeiling {
		limit = HardPreviewCeiling
	}
	r.ArgsPreview = Truncate(r.ArgsPreview, limit)
	r.ResultPreview = Truncate(r.ResultPreview, limit)
	r.ErrorMessage = Truncate(r.ErrorMessage, limit)
}
