package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/ctxwatch/ctxwatch/internal/trace"
)

// watchDebounce coalesces bursts of write events before reading. Appends
// arrive one line at a time; reading once per burst keeps up without
// spinning.
const watchDebounce = 200 * time.Millisecond

func init() {
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow live events as they are recorded",
	Long:  "Watches the traces directory and streams newly appended events to stdout. Each trace file is read from its last seen offset, so a file growing mid-read is picked up on the next change.",
	Args:  cobra.NoArgs,
	RunE:  runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	s, _, err := openStore()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(s.Dir()); err != nil {
		return fmt.Errorf("watch %s: %w", s.Dir(), err)
	}

	f := newFollower(os.Stdout)

	// Start from current EOF on existing files: watch shows new events,
	// not history.
	files, err := s.TraceFiles()
	if err != nil {
		return err
	}
	for _, path := range files {
		if info, err := os.Stat(path); err == nil {
			f.offsets[path] = info.Size()
		}
	}

	fmt.Fprintf(os.Stderr, "watching %s\n", s.Dir())

	var mu sync.Mutex
	pending := make(map[string]bool)
	timer := time.NewTimer(watchDebounce)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(os.Stderr, "watch error: %v\n", err)
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isTraceFile(ev.Name) || !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			mu.Lock()
			pending[ev.Name] = true
			mu.Unlock()
			timer.Reset(watchDebounce)
		case <-timer.C:
			mu.Lock()
			batch := pending
			pending = make(map[string]bool)
			mu.Unlock()
			for path := range batch {
				if err := f.catchUp(path); err != nil {
					fmt.Fprintf(os.Stderr, "watch %s: %v\n", filepath.Base(path), err)
				}
			}
		}
	}
}

func isTraceFile(path string) bool {
	base := filepath.Base(path)
	return strings.HasPrefix(base, "session_") && strings.HasSuffix(base, ".jsonl")
}

// follower tracks a read offset per trace file and emits complete new
// lines.
type follower struct {
	out     io.Writer
	offsets map[string]int64
}

func newFollower(out io.Writer) *follower {
	return &follower{out: out, offsets: make(map[string]int64)}
}

// catchUp reads from the file's last offset to the observed EOF, printing
// each complete line prefixed with its session id. A trailing partial line
// is left for the next call.
func (f *follower) catchUp(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	offset := f.offsets[path]
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return err
	}

	session := trace.SessionIDFromPath(path)
	reader := bufio.NewReader(file)
	for {
		line, err := reader.ReadString('\n')
		if err == io.EOF {
			// Partial line: re-read it once the writer finishes.
			break
		}
		if err != nil {
			return err
		}
		offset += int64(len(line))
		fmt.Fprintf(f.out, "[%s] %s", session, line)
	}
	f.offsets[path] = offset
	return nil
}
