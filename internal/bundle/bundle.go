// Package bundle packages traces, a config snapshot, an environment
// snapshot, and a summary report into a single shareable tar.zst archive.
package bundle

import (
	"archive/tar"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/ctxwatch/ctxwatch/internal/envinfo"
	"github.com/ctxwatch/ctxwatch/internal/redact"
	"github.com/ctxwatch/ctxwatch/internal/report"
	"github.com/ctxwatch/ctxwatch/internal/trace"
)

// Options configures one export.
type Options struct {
	Store      *trace.Store
	ConfigPath string // config snapshot to include; empty skips it
	Output     string // archive path; empty generates one in the working dir
	Anonymize  bool   // default-on at the CLI; opt-out is the caller's explicit decision
	Redactor   *redact.Engine
	MaxTraces  int // newest-first cap; 0 means all
}

// Export writes the archive and returns its path. Trace bytes and the
// config snapshot pass through the redactor unless anonymization was
// explicitly disabled.
func Export(ctx context.Context, opts Options) (string, error) {
	if opts.Store == nil {
		return "", fmt.Errorf("bundle: no trace store")
	}
	if opts.Anonymize && opts.Redactor == nil {
		return "", fmt.Errorf("bundle: anonymization requested without a redactor")
	}

	out := opts.Output
	if out == "" {
		out = fmt.Sprintf("ctxwatch-bundle-%s.tar.zst", time.Now().UTC().Format("20060102-150405"))
	}

	f, err := os.Create(out)
	if err != nil {
		return "", fmt.Errorf("bundle: create archive: %w", err)
	}
	defer f.Close()

	zw, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return "", fmt.Errorf("bundle: init zstd: %w", err)
	}
	tw := tar.NewWriter(zw)

	if err := writeMembers(ctx, tw, opts); err != nil {
		tw.Close()
		zw.Close()
		os.Remove(out)
		return "", err
	}

	if err := tw.Close(); err != nil {
		return "", fmt.Errorf("bundle: finalize tar: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("bundle: finalize zstd: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("bundle: close archive: %w", err)
	}
	return out, nil
}

func writeMembers(ctx context.Context, tw *tar.Writer, opts Options) error {
	files, err := opts.Store.TraceFiles()
	if err != nil {
		return fmt.Errorf("bundle: list traces: %w", err)
	}
	if opts.MaxTraces > 0 && len(files) > opts.MaxTraces {
		files = files[:opts.MaxTraces]
	}

	var summary strings.Builder
	summary.WriteString("# ctxwatch export\n")

	for _, path := range files {
		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("bundle: read trace: %w", err)
		}
		if opts.Anonymize {
			raw, err = opts.Redactor.RedactLines(raw)
			if err != nil {
				return err
			}
		}
		if err := addMember(tw, "traces/"+filepath.Base(path), raw); err != nil {
			return err
		}

		tr, err := trace.Load(path)
		if err == nil {
			summary.WriteString("\n")
			summary.WriteString(report.FormatMarkdown(report.Analyze(tr)))
		}
	}

	if opts.ConfigPath != "" {
		raw, err := os.ReadFile(opts.ConfigPath)
		if err != nil {
			return fmt.Errorf("bundle: read config snapshot: %w", err)
		}
		if opts.Anonymize {
			raw = []byte(opts.Redactor.Redact(string(raw)))
		}
		if err := addMember(tw, "config/"+filepath.Base(opts.ConfigPath), raw); err != nil {
			return err
		}
	}

	env, err := json.MarshalIndent(envinfo.Collect(ctx), "", "  ")
	if err != nil {
		return fmt.Errorf("bundle: marshal environment: %w", err)
	}
	if err := addMember(tw, "environment.json", env); err != nil {
		return err
	}

	return addMember(tw, "report.md", []byte(summary.String()))
}

func addMember(tw *tar.Writer, name string, data []byte) error {
	hdr := &tar.Header{
		Name:    name,
		Mode:    0o644,
		Size:    int64(len(data)),
		ModTime: time.Now().UTC(),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("bundle: write header %s: %w", name, err)
	}
	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("bundle: write member %s: %w", name, err)
	}
	return nil
}
