package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ctxwatch/ctxwatch/internal/event"
)

// Filename is the per-project configuration document: Markdown with a YAML
// frontmatter block carrying the actual settings.
const Filename = "ctxwatch.local.md"

// ConfigDirName is the dot-directory holding config and trace data.
const ConfigDirName = ".ctxwatch"

// LogLevel controls which payloads are captured and how far previews are cut.
type LogLevel string

const (
	LevelMinimal LogLevel = "minimal"
	LevelMedium  LogLevel = "medium"
	LevelFull    LogLevel = "full"
)

// Valid reports whether l is one of the three known levels.
func (l LogLevel) Valid() bool {
	switch l {
	case LevelMinimal, LevelMedium, LevelFull:
		return true
	}
	return false
}

// PreviewCap returns the preview character cap for a level. Zero means
// uncapped (the hard per-event ceiling still applies at encode time).
func (l LogLevel) PreviewCap() int {
	switch l {
	case LevelMinimal:
		return 100
	case LevelFull:
		return 0
	default:
		return 500
	}
}

// Config is the project-level ctxwatch configuration. retention_days,
// max_sessions, tools_filter and exclude_patterns are declared knobs the
// capture path reads but retention enforcement does not yet act on.
type Config struct {
	Enabled           bool     `yaml:"enabled"`
	LogLevel          LogLevel `yaml:"log_level"`
	Events            []string `yaml:"events"`
	AnonymizeOnExport bool     `yaml:"anonymize_on_export"`
	RedactPatterns    []string `yaml:"redact_patterns"`
	RetentionDays     int      `yaml:"retention_days"`
	MaxSessions       int      `yaml:"max_sessions"`
	ToolsFilter       []string `yaml:"tools_filter"`
	ExcludePatterns   []string `yaml:"exclude_patterns"`
}

// Default returns the configuration used when no document exists.
func Default() *Config {
	events := make([]string, 0, len(event.Types))
	for _, t := range event.Types {
		events = append(events, string(t))
	}
	return &Config{
		Enabled:           true,
		LogLevel:          LevelMedium,
		Events:            events,
		AnonymizeOnExport: true,
		RetentionDays:     30,
		MaxSessions:       100,
	}
}

// Path returns the config document path for a project directory.
func Path(projectDir string) string {
	return filepath.Join(projectDir, ConfigDirName, Filename)
}

// TracesDir returns the traces directory for a project directory.
func TracesDir(projectDir string) string {
	return filepath.Join(projectDir, ConfigDirName, "traces")
}

// Load reads the config document for a project. A missing document yields
// the defaults (not an error); an unreadable or malformed one is a
// configuration error reported to the caller.
func Load(projectDir string) (*Config, error) {
	data, err := os.ReadFile(Path(projectDir))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("config: read %s: %w", Path(projectDir), err)
	}
	return Parse(data)
}

// Parse decodes a frontmatter document. Settings live between the leading
// "---" fence pair; everything after the closing fence is operator notes.
func Parse(data []byte) (*Config, error) {
	front, _, err := splitFrontmatter(data)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(front, cfg); err != nil {
		return nil, fmt.Errorf("config: parse frontmatter: %w", err)
	}
	return cfg, nil
}

// Save writes the config document, preserving the given markdown body.
// The write is atomic: temp file then rename.
func Save(projectDir string, cfg *Config, body string) error {
	dir := filepath.Join(projectDir, ConfigDirName)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("config: create directory: %w", err)
	}

	front, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal frontmatter: %w", err)
	}
	if body == "" {
		body = defaultBody
	}
	doc := fmt.Sprintf("---\n%s---\n\n%s", front, body)

	path := Path(projectDir)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(doc), 0640); err != nil {
		return fmt.Errorf("config: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("config: replace %s: %w", path, err)
	}
	return nil
}

const defaultBody = `# Project-specific ctxwatch configuration

Edit the YAML frontmatter above to customize capture behavior for this
project. Run "ctxwatch config validate" after editing.
`

// Validate checks field values, returning one error per violation with a
// remediation hint. Regex fields are compiled here so a bad pattern fails
// at config time, never silently at capture or export time.
func (c *Config) Validate() []error {
	var errs []error

	if !c.LogLevel.Valid() {
		errs = append(errs, fmt.Errorf("log_level %q is not one of minimal|medium|full", c.LogLevel))
	}
	for _, e := range c.Events {
		if _, err := event.ParseType(e); err != nil {
			errs = append(errs, fmt.Errorf("events entry %q is not a known event type", e))
		}
	}
	if c.RetentionDays < 1 {
		errs = append(errs, fmt.Errorf("retention_days must be a positive integer, got %d", c.RetentionDays))
	}
	if c.MaxSessions < 1 {
		errs = append(errs, fmt.Errorf("max_sessions must be a positive integer, got %d", c.MaxSessions))
	}
	for _, p := range c.RedactPatterns {
		if _, err := regexp.Compile(p); err != nil {
			errs = append(errs, fmt.Errorf("redact_patterns entry %q does not compile: %w", p, err))
		}
	}
	for _, p := range c.ExcludePatterns {
		if _, err := regexp.Compile(p); err != nil {
			errs = append(errs, fmt.Errorf("exclude_patterns entry %q does not compile: %w", p, err))
		}
	}

	return errs
}

// ShouldCapture reports whether an event of the given type and tool should
// be appended. A false result is the silent no-op path: disabled
// monitoring, a type outside the allow-list, or a filtered tool.
func (c *Config) ShouldCapture(t event.Type, tool string) bool {
	if !c.Enabled {
		return false
	}
	if len(c.Events) > 0 {
		found := false
		for _, e := range c.Events {
			if e == string(t) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(c.ToolsFilter) > 0 && tool != "" {
		for _, allowed := range c.ToolsFilter {
			if allowed == tool {
				return true
			}
		}
		return false
	}
	return true
}

// splitFrontmatter separates the YAML fence block from the markdown body.
func splitFrontmatter(data []byte) (front, body []byte, err error) {
	text := string(data)
	if !strings.HasPrefix(text, "---") {
		return nil, nil, fmt.Errorf("config: document missing frontmatter fence")
	}
	parts := strings.SplitN(text, "---", 3)
	if len(parts) < 3 {
		return nil, nil, fmt.Errorf("config: unterminated frontmatter fence")
	}
	return []byte(parts[1]), []byte(strings.TrimSpace(parts[2])), nil
}
