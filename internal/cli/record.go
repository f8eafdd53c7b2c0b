package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ctxwatch/ctxwatch/internal/event"
)

var (
	recordType    string
	recordSession string
)

// appendDeadline bounds how long a record call may hold up the host hook.
const appendDeadline = 5 * time.Second

func init() {
	rootCmd.AddCommand(recordCmd)
	recordCmd.Flags().StringVar(&recordType, "type", "", "Event type (required)")
	recordCmd.Flags().StringVar(&recordSession, "session", "", "Session id; defaults to the session_id field of the payload")
	recordCmd.MarkFlagRequired("type")
}

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Append one event from a hook payload on stdin",
	Long:  "Reads the host hook's JSON payload on stdin, normalizes it into an event record, and appends it to the session's trace. The append is bounded so a slow filesystem never stalls the host session.",
	Args:  cobra.NoArgs,
	RunE:  runRecord,
}

// defaultStatus is used when the payload carries no status of its own.
var defaultStatus = map[event.Type]event.Status{
	event.SessionStart:     event.StatusStarted,
	event.SessionEnd:       event.StatusEnded,
	event.PreToolUse:       event.StatusPending,
	event.PostToolUse:      event.StatusSuccess,
	event.Stop:             event.StatusCompleted,
	event.SubagentStop:     event.StatusCompleted,
	event.UserPromptSubmit: event.StatusSubmitted,
	event.PreCompact:       event.StatusCompacting,
	event.Notification:     event.StatusNotified,
}

func runRecord(cmd *cobra.Command, args []string) error {
	typ, err := event.ParseType(recordType)
	if err != nil {
		return err
	}

	raw, err := io.ReadAll(io.LimitReader(os.Stdin, event.HardPreviewCeiling*4))
	if err != nil {
		return fmt.Errorf("read payload: %w", err)
	}

	var rec event.Record
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &rec); err != nil {
			return fmt.Errorf("parse payload: %w", err)
		}
	}

	rec.EventID = uuid.NewString()
	rec.Timestamp = event.Now()
	rec.Type = typ
	if rec.Status == "" {
		rec.Status = defaultStatus[typ]
	}

	sessionID := recordSession
	if sessionID == "" {
		sessionID = rec.SessionID
	}
	if sessionID == "" {
		return fmt.Errorf("no session id: pass --session or a session_id payload field")
	}

	s, _, err := openStore()
	if err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() { done <- s.Append(sessionID, rec) }()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("append event: %w", err)
		}
		return nil
	case <-time.After(appendDeadline):
		return fmt.Errorf("append event: deadline of %s exceeded", appendDeadline)
	}
}
