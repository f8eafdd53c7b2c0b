package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Sources are the configuration-bearing inputs the conflicts module scans.
// They come from the project's config tree, not from the trace.
type Sources struct {
	Rules    []RulesDoc
	Settings []SettingsDoc
	Hooks    []HooksDoc
	Commands []string
	Skills   []string
}

// RulesDoc is a markdown instruction file reduced to what conflict
// detection needs: its section headers and instruction lines.
type RulesDoc struct {
	Path    string
	Headers []string
	Lines   []string
}

// SettingsDoc carries the permission lists from one settings JSON file.
type SettingsDoc struct {
	Path  string
	Allow []string
	Deny  []string
}

// HooksDoc maps event type to hook entries from one hooks YAML file.
type HooksDoc struct {
	Path    string
	Entries map[string][]HookEntry
}

// HookEntry is one registered hook: a matcher pattern and the command run
// when it fires.
type HookEntry struct {
	Matcher string `yaml:"matcher"`
	Command string `yaml:"command"`
}

type settingsFile struct {
	Permissions struct {
		Allow []string `json:"allow"`
		Deny  []string `json:"deny"`
	} `json:"permissions"`
}

// LoadSources reads configuration-bearing files under dir by convention:
// *.md at the top level are rules docs, settings*.json carry permissions,
// hooks*.yaml|yml carry hook definitions, and the commands/ and skills/
// subdirectories contribute names. Missing pieces are fine; unreadable or
// unparseable ones are errors.
func LoadSources(dir string) (*Sources, error) {
	src := &Sources{}

	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return src, nil
	}
	if err != nil {
		return nil, fmt.Errorf("audit: read sources dir: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		path := filepath.Join(dir, name)
		switch {
		case strings.HasSuffix(name, ".md"):
			doc, err := loadRulesDoc(path)
			if err != nil {
				return nil, err
			}
			src.Rules = append(src.Rules, doc)
		case strings.HasPrefix(name, "settings") && strings.HasSuffix(name, ".json"):
			doc, err := loadSettingsDoc(path)
			if err != nil {
				return nil, err
			}
			src.Settings = append(src.Settings, doc)
		case strings.HasPrefix(name, "hooks") && (strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml")):
			doc, err := loadHooksDoc(path)
			if err != nil {
				return nil, err
			}
			src.Hooks = append(src.Hooks, doc)
		}
	}

	src.Commands, err = namesIn(filepath.Join(dir, "commands"))
	if err != nil {
		return nil, err
	}
	src.Skills, err = namesIn(filepath.Join(dir, "skills"))
	if err != nil {
		return nil, err
	}
	return src, nil
}

func loadRulesDoc(path string) (RulesDoc, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return RulesDoc{}, fmt.Errorf("audit: read rules doc: %w", err)
	}
	doc := RulesDoc{Path: path}
	for _, line := range strings.Split(string(raw), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, "#") {
			doc.Headers = append(doc.Headers, strings.TrimSpace(strings.TrimLeft(trimmed, "#")))
			continue
		}
		doc.Lines = append(doc.Lines, trimmed)
	}
	return doc, nil
}

func loadSettingsDoc(path string) (SettingsDoc, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return SettingsDoc{}, fmt.Errorf("audit: read settings: %w", err)
	}
	var sf settingsFile
	if err := json.Unmarshal(raw, &sf); err != nil {
		return SettingsDoc{}, fmt.Errorf("audit: parse settings %s: %w", path, err)
	}
	return SettingsDoc{Path: path, Allow: sf.Permissions.Allow, Deny: sf.Permissions.Deny}, nil
}

func loadHooksDoc(path string) (HooksDoc, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return HooksDoc{}, fmt.Errorf("audit: read hooks: %w", err)
	}
	doc := HooksDoc{Path: path}
	if err := yaml.Unmarshal(raw, &doc.Entries); err != nil {
		return HooksDoc{}, fmt.Errorf("audit: parse hooks %s: %w", path, err)
	}
	return doc, nil
}

func namesIn(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("audit: read %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() {
			name = strings.TrimSuffix(name, filepath.Ext(name))
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
