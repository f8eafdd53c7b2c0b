package trace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// IndexEntry is one summary row in sessions.json.
type IndexEntry struct {
	SessionID  string `json:"session_id"`
	StartedAt  string `json:"started_at"`
	CWD        string `json:"cwd,omitempty"`
	EventCount int    `json:"event_count"`
}

// Index is the session index document: one entry per known session_id.
type Index struct {
	Sessions []IndexEntry `json:"sessions"`
}

// Find returns a pointer to the entry for id, or nil.
func (ix *Index) Find(id string) *IndexEntry {
	for i := range ix.Sessions {
		if ix.Sessions[i].SessionID == id {
			return &ix.Sessions[i]
		}
	}
	return nil
}

// indexFilename is the session index file inside the traces directory.
const indexFilename = "sessions.json"

// readIndex loads sessions.json. A missing or empty file yields an empty
// index; corrupt JSON is an error for writers (readers degrade via the
// compliance audit instead).
func readIndex(dir string) (*Index, error) {
	data, err := os.ReadFile(filepath.Join(dir, indexFilename))
	if err != nil {
		if os.IsNotExist(err) {
			return &Index{}, nil
		}
		return nil, fmt.Errorf("trace: read index: %w", err)
	}
	if len(data) == 0 {
		return &Index{}, nil
	}
	var ix Index
	if err := json.Unmarshal(data, &ix); err != nil {
		return nil, fmt.Errorf("trace: parse index: %w", err)
	}
	return &ix, nil
}

// writeIndex replaces sessions.json atomically: temp file then rename, so a
// concurrent reader never observes a partial document.
func writeIndex(dir string, ix *Index) error {
	data, err := json.MarshalIndent(ix, "", "  ")
	if err != nil {
		return fmt.Errorf("trace: marshal index: %w", err)
	}
	path := filepath.Join(dir, indexFilename)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0640); err != nil {
		return fmt.Errorf("trace: write index: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("trace: replace index: %w", err)
	}
	return nil
}
