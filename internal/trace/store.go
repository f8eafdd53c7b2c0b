package trace

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ctxwatch/ctxwatch/internal/config"
	"github.com/ctxwatch/ctxwatch/internal/event"
)

// lockTimeout bounds how long an append waits for the index lock. A slow or
// wedged filesystem fails the append loudly instead of stalling the caller.
const lockTimeout = 2 * time.Second

// lockRetryInterval is the poll interval while waiting for the lock file.
const lockRetryInterval = 10 * time.Millisecond

// Store owns the per-session trace files and the session index. Appends are
// serialized: one JSON line per write-then-sync, and index updates happen
// under an advisory lock file so concurrent event sources (main agent,
// subagent tool calls) cannot lose increments to each other.
type Store struct {
	dir string
	cfg *config.Config
}

// NewStore creates a store rooted at dir, creating the directory if needed.
func NewStore(dir string, cfg *config.Config) (*Store, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("trace: create traces directory: %w", err)
	}
	if cfg == nil {
		cfg = config.Default()
	}
	return &Store{dir: dir, cfg: cfg}, nil
}

// Dir returns the traces directory.
func (s *Store) Dir() string { return s.dir }

// TracePath returns the trace file path for a session id.
func (s *Store) TracePath(sessionID string) string {
	return filepath.Join(s.dir, "session_"+sessionID+".jsonl")
}

// Append writes one event record to the session's trace file and updates
// the session index. If configuration disables monitoring or filters the
// event out, Append is a silent no-op.
func (s *Store) Append(sessionID string, rec event.Record) error {
	if !s.cfg.ShouldCapture(rec.Type, rec.ToolName) {
		return nil
	}

	rec.SessionID = sessionID
	rec.Bound(s.cfg.LogLevel.PreviewCap())

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("trace: marshal event: %w", err)
	}

	if err := s.appendLine(sessionID, line); err != nil {
		return err
	}
	return s.updateIndex(sessionID, rec)
}

// appendLine writes line+\n in a single Write on an O_APPEND descriptor and
// syncs before returning, so a concurrent reader never sees a partial line.
func (s *Store) appendLine(sessionID string, line []byte) error {
	f, err := os.OpenFile(s.TracePath(sessionID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0640)
	if err != nil {
		return fmt.Errorf("trace: open trace file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("trace: write event: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("trace: sync: %w", err)
	}
	return nil
}

// updateIndex performs a locked read-modify-write of sessions.json:
// insert-if-absent, else increment event_count.
func (s *Store) updateIndex(sessionID string, rec event.Record) error {
	unlock, err := s.acquireLock()
	if err != nil {
		return err
	}
	defer unlock()

	ix, err := readIndex(s.dir)
	if err != nil {
		return err
	}

	if entry := ix.Find(sessionID); entry != nil {
		entry.EventCount++
		if entry.CWD == "" && rec.CWD != "" {
			entry.CWD = rec.CWD
		}
	} else {
		ix.Sessions = append(ix.Sessions, IndexEntry{
			SessionID:  sessionID,
			StartedAt:  rec.Timestamp,
			CWD:        rec.CWD,
			EventCount: 1,
		})
	}

	return writeIndex(s.dir, ix)
}

// acquireLock takes the advisory index lock with a bounded deadline.
// The lock file is created O_EXCL; a holder that crashed leaves a stale
// lock that expires with the file's age.
func (s *Store) acquireLock() (func(), error) {
	lockPath := filepath.Join(s.dir, indexFilename+".lock")
	deadline := time.Now().Add(lockTimeout)

	for {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0640)
		if err == nil {
			f.Close()
			return func() { os.Remove(lockPath) }, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("trace: create index lock: %w", err)
		}

		// Break stale locks left by a crashed writer. Rename is atomic,
		// so only one waiter wins the break; re-checking the age after
		// the rename catches a fresh lock created between the stat and
		// the rename, which must go back instead of being stolen.
		if info, statErr := os.Stat(lockPath); statErr == nil && time.Since(info.ModTime()) > lockTimeout {
			aside := fmt.Sprintf("%s.stale.%d", lockPath, time.Now().UnixNano())
			if renameErr := os.Rename(lockPath, aside); renameErr == nil {
				if asideInfo, err := os.Stat(aside); err == nil && time.Since(asideInfo.ModTime()) <= lockTimeout {
					os.Rename(aside, lockPath)
				} else {
					os.Remove(aside)
				}
			}
			continue
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("trace: index lock held past %s deadline", lockTimeout)
		}
		time.Sleep(lockRetryInterval)
	}
}

// Sessions returns the index entries sorted by started_at then session_id.
func (s *Store) Sessions() ([]IndexEntry, error) {
	ix, err := readIndex(s.dir)
	if err != nil {
		return nil, err
	}
	sort.Slice(ix.Sessions, func(i, j int) bool {
		if ix.Sessions[i].StartedAt != ix.Sessions[j].StartedAt {
			return ix.Sessions[i].StartedAt < ix.Sessions[j].StartedAt
		}
		return ix.Sessions[i].SessionID < ix.Sessions[j].SessionID
	})
	return ix.Sessions, nil
}

// LineCount counts the lines in a session's trace file. A missing file
// counts as zero lines.
func (s *Store) LineCount(sessionID string) (int, error) {
	f, err := os.Open(s.TracePath(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("trace: open trace file: %w", err)
	}
	defer f.Close()

	count := 0
	walkErr := forEachLine(f, func(line []byte, oversized bool) {
		if oversized || len(bytes.TrimSpace(line)) > 0 {
			count++
		}
	})
	if walkErr != nil {
		return 0, fmt.Errorf("trace: count lines: %w", walkErr)
	}
	return count, nil
}

// TraceFiles returns session trace file paths sorted newest-first by mtime.
func (s *Store) TraceFiles() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "session_*.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("trace: glob traces: %w", err)
	}
	sort.Slice(matches, func(i, j int) bool {
		fi, errI := os.Stat(matches[i])
		fj, errJ := os.Stat(matches[j])
		if errI != nil || errJ != nil {
			return matches[i] > matches[j]
		}
		return fi.ModTime().After(fj.ModTime())
	})
	return matches, nil
}

// SessionIDFromPath extracts the session id from a trace file path.
func SessionIDFromPath(path string) string {
	name := filepath.Base(path)
	name = strings.TrimPrefix(name, "session_")
	return strings.TrimSuffix(name, ".jsonl")
}

// ClearResult reports what ClearEnded removed.
type ClearResult struct {
	Cleared    []string `json:"cleared"`
	Kept       int      `json:"kept"`
	FreedBytes int64    `json:"freed_bytes"`
}

// ClearEnded deletes trace files for sessions that recorded a SessionEnd
// event, then prunes the index to match. Sessions still running (no end
// marker) are kept.
func (s *Store) ClearEnded() (*ClearResult, error) {
	files, err := s.TraceFiles()
	if err != nil {
		return nil, err
	}

	result := &ClearResult{}
	clearedIDs := make(map[string]bool)

	for _, path := range files {
		ended, err := hasSessionEnd(path)
		if err != nil {
			return nil, err
		}
		if !ended {
			result.Kept++
			continue
		}
		info, err := os.Stat(path)
		if err == nil {
			result.FreedBytes += info.Size()
		}
		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("trace: remove %s: %w", path, err)
		}
		id := SessionIDFromPath(path)
		clearedIDs[id] = true
		result.Cleared = append(result.Cleared, filepath.Base(path))
	}

	if len(clearedIDs) == 0 {
		return result, nil
	}

	unlock, err := s.acquireLock()
	if err != nil {
		return nil, err
	}
	defer unlock()

	ix, err := readIndex(s.dir)
	if err != nil {
		return nil, err
	}
	kept := ix.Sessions[:0]
	for _, entry := range ix.Sessions {
		if !clearedIDs[entry.SessionID] {
			kept = append(kept, entry)
		}
	}
	ix.Sessions = kept
	if err := writeIndex(s.dir, ix); err != nil {
		return nil, err
	}
	return result, nil
}

// hasSessionEnd scans a trace file for a SessionEnd record.
func hasSessionEnd(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, fmt.Errorf("trace: open %s: %w", path, err)
	}
	defer f.Close()

	found := false
	walkErr := forEachLine(f, func(line []byte, oversized bool) {
		if found || oversized {
			return
		}
		var rec event.Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return
		}
		if rec.Type == event.SessionEnd {
			found = true
		}
	})
	return found, walkErr
}
