package trace

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ctxwatch/ctxwatch/internal/event"
)

// maxLineBytes bounds a single trace line. Full-level events carry large
// previews; the hard per-event ceiling keeps real lines well under this.
const maxLineBytes = 1 << 20

// Defect is a load-time ingestion problem: the line could not be decoded
// at all. Schema-level violations (bad enums, missing fields) are NOT
// defects; they load fine and the compliance audit reports them.
type Defect struct {
	Line    int    `json:"line"`
	Excerpt string `json:"excerpt"`
	Reason  string `json:"reason"`
}

// Trace is an in-memory materialized session trace: the events in exact
// append order plus any ingestion defects encountered on the way in.
type Trace struct {
	SessionID string
	Path      string
	Events    []event.Record
	Defects   []Defect
}

// excerptLen caps how much of a malformed line a defect carries.
const excerptLen = 80

// forEachLine walks r line by line. A line longer than maxLineBytes is
// never materialized whole: fn receives the capped prefix with
// oversized=true and the rest of the line is consumed and discarded, so
// one runaway line cannot abort the walk or exhaust memory.
func forEachLine(r io.Reader, fn func(line []byte, oversized bool)) error {
	br := bufio.NewReaderSize(r, 64*1024)
	var (
		buf       []byte
		oversized bool
	)
	flush := func() {
		fn(buf, oversized)
		buf, oversized = buf[:0], false
	}
	for {
		chunk, err := br.ReadSlice('\n')
		if !oversized && len(chunk) > 0 {
			buf = append(buf, chunk...)
			// +1 leaves room for the trailing newline on a line of
			// exactly maxLineBytes.
			if len(buf) > maxLineBytes+1 {
				oversized = true
				buf = buf[:maxLineBytes]
			}
		}
		switch err {
		case nil:
			if !oversized {
				buf = bytes.TrimSuffix(buf, []byte{'\n'})
			}
			flush()
		case bufio.ErrBufferFull:
			continue
		case io.EOF:
			if len(buf) > 0 {
				flush()
			}
			return nil
		default:
			return err
		}
	}
}

// Load streams a trace file line by line and materializes it. One bad line
// never aborts the load; it becomes a Defect and parsing continues. The
// file may grow during the read: Load reads to the EOF it observes.
func Load(path string) (*Trace, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("trace: open %s: %w", path, err)
	}
	defer f.Close()

	tr := &Trace{
		SessionID: SessionIDFromPath(path),
		Path:      path,
	}

	lineNum := 0
	walkErr := forEachLine(f, func(raw []byte, oversized bool) {
		lineNum++
		if oversized {
			head := raw
			if len(head) > excerptLen {
				head = head[:excerptLen]
			}
			tr.Defects = append(tr.Defects, Defect{
				Line:    lineNum,
				Excerpt: string(head),
				Reason:  fmt.Sprintf("line exceeds %d bytes", maxLineBytes),
			})
			return
		}
		line := strings.TrimSpace(string(raw))
		if line == "" {
			return
		}

		var rec event.Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			tr.Defects = append(tr.Defects, Defect{
				Line:    lineNum,
				Excerpt: event.Truncate(line, excerptLen),
				Reason:  err.Error(),
			})
			return
		}
		tr.Events = append(tr.Events, rec)
	})
	if walkErr != nil {
		// Partial result is still useful: report what was readable.
		tr.Defects = append(tr.Defects, Defect{
			Line:   lineNum + 1,
			Reason: fmt.Sprintf("read aborted: %v", walkErr),
		})
	}

	if tr.SessionID == "" && len(tr.Events) > 0 {
		tr.SessionID = tr.Events[0].SessionID
	}
	return tr, nil
}

// LoadSession loads the trace for a session id from a store.
func LoadSession(s *Store, sessionID string) (*Trace, error) {
	return Load(s.TracePath(sessionID))
}

// LoadAll loads every trace in the store, newest first. Unreadable files
// are skipped with their error collected so callers can analyze what is
// readable instead of failing outright.
func LoadAll(s *Store) ([]*Trace, []error) {
	files, err := s.TraceFiles()
	if err != nil {
		return nil, []error{err}
	}

	var traces []*Trace
	var errs []error
	for _, path := range files {
		tr, err := Load(path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		traces = append(traces, tr)
	}
	return traces, errs
}
