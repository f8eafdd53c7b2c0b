// Package envinfo captures a snapshot of the host environment for export
// bundles. Everything is best-effort: a missing tool leaves its field
// empty, it never fails the export.
package envinfo

import (
	"context"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

// probeTimeout bounds each external version probe so a wedged binary
// cannot stall an export.
const probeTimeout = 2 * time.Second

// Info is the environment metadata embedded in a bundle.
type Info struct {
	OS           string            `json:"os"`
	Arch         string            `json:"arch"`
	GoVersion    string            `json:"go_version"`
	Hostname     string            `json:"hostname,omitempty"`
	WorkingDir   string            `json:"working_dir,omitempty"`
	CapturedAt   string            `json:"captured_at"`
	ToolVersions map[string]string `json:"tool_versions,omitempty"`
}

// Collect gathers the snapshot. The context bounds the total probe time.
func Collect(ctx context.Context) *Info {
	info := &Info{
		OS:         runtime.GOOS,
		Arch:       runtime.GOARCH,
		GoVersion:  runtime.Version(),
		CapturedAt: time.Now().UTC().Format("2006-01-02T15:04:05.000Z"),
	}
	if host, err := os.Hostname(); err == nil {
		info.Hostname = host
	}
	if wd, err := os.Getwd(); err == nil {
		info.WorkingDir = wd
	}

	info.ToolVersions = make(map[string]string)
	for name, args := range map[string][]string{
		"git":  {"--version"},
		"node": {"--version"},
		"uv":   {"--version"},
	} {
		if v := probe(ctx, name, args...); v != "" {
			info.ToolVersions[name] = v
		}
	}
	if len(info.ToolVersions) == 0 {
		info.ToolVersions = nil
	}
	return info
}

func probe(ctx context.Context, name string, args ...string) string {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		return ""
	}
	line, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\n")
	return line
}
