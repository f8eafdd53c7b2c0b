package audit

import (
	"fmt"
	"sort"
	"strings"
)

// Conflicts scans the configuration sources for contradictions: duplicate
// section headers, overlapping hook matchers, duplicate command or skill
// names, permission rules both allowed and denied, and instruction lines
// that say always and never about the same thing.
func Conflicts(in *Input) []Finding {
	if in.Sources == nil {
		return nil
	}
	var findings []Finding
	findings = append(findings, duplicateHeaders(in.Sources)...)
	findings = append(findings, overlappingHooks(in.Sources)...)
	findings = append(findings, duplicateNames("command", in.Sources.Commands)...)
	findings = append(findings, duplicateNames("skill", in.Sources.Skills)...)
	findings = append(findings, permissionContradictions(in.Sources)...)
	findings = append(findings, instructionContradictions(in.Sources)...)
	sortFindings(findings)
	return findings
}

func duplicateHeaders(src *Sources) []Finding {
	var findings []Finding
	for _, doc := range src.Rules {
		seen := make(map[string]int)
		for _, h := range doc.Headers {
			seen[strings.ToLower(h)]++
		}
		for _, h := range sortedKeys(seen) {
			if seen[h] < 2 {
				continue
			}
			findings = append(findings, Finding{
				Module:      ModuleConflicts,
				Severity:    SeverityWarning,
				Category:    "duplicate-header",
				Description: fmt.Sprintf("section header %q appears %d times in %s", h, seen[h], doc.Path),
				Component:   doc.Path,
			})
		}
	}
	return findings
}

// overlappingHooks flags two hook entries for the same event type whose
// matchers would both fire on the same input: identical matchers, or a
// wildcard alongside anything else.
func overlappingHooks(src *Sources) []Finding {
	var findings []Finding
	for _, doc := range src.Hooks {
		for _, eventType := range sortedKeys(doc.Entries) {
			entries := doc.Entries[eventType]
			for i := 0; i < len(entries); i++ {
				for j := i + 1; j < len(entries); j++ {
					a, b := entries[i].Matcher, entries[j].Matcher
					if !matchersOverlap(a, b) {
						continue
					}
					findings = append(findings, Finding{
						Module:   ModuleConflicts,
						Severity: SeverityWarning,
						Category: "overlapping-hooks",
						Description: fmt.Sprintf("hooks for %s have overlapping matchers %q and %q in %s",
							eventType, a, b, doc.Path),
						Component: doc.Path,
					})
				}
			}
		}
	}
	return findings
}

func matchersOverlap(a, b string) bool {
	if a == b {
		return true
	}
	return a == "*" || b == "*" || a == "" || b == ""
}

func duplicateNames(kind string, names []string) []Finding {
	seen := make(map[string]int)
	for _, n := range names {
		seen[strings.ToLower(n)]++
	}
	var findings []Finding
	for _, n := range sortedKeys(seen) {
		if seen[n] < 2 {
			continue
		}
		findings = append(findings, Finding{
			Module:      ModuleConflicts,
			Severity:    SeverityWarning,
			Category:    "duplicate-" + kind,
			Description: fmt.Sprintf("%s name %q is defined %d times", kind, n, seen[n]),
			Component:   n,
		})
	}
	return findings
}

// permissionContradictions is the one critical conflict: a matcher that is
// both allowed and denied leaves effective permissions undefined.
func permissionContradictions(src *Sources) []Finding {
	var findings []Finding
	for _, doc := range src.Settings {
		denied := make(map[string]bool, len(doc.Deny))
		for _, d := range doc.Deny {
			denied[d] = true
		}
		for _, a := range doc.Allow {
			if !denied[a] {
				continue
			}
			findings = append(findings, Finding{
				Module:      ModuleConflicts,
				Severity:    SeverityCritical,
				Category:    "permission-contradiction",
				Description: fmt.Sprintf("matcher %q is in both allow and deny in %s", a, doc.Path),
				Component:   doc.Path,
			})
		}
	}
	return findings
}

// instructionContradictions pairs "always X" with "never X" lines across
// all rules docs, comparing the normalized remainder of the line.
func instructionContradictions(src *Sources) []Finding {
	always := make(map[string]string) // normalized subject -> doc path
	never := make(map[string]string)
	for _, doc := range src.Rules {
		for _, line := range doc.Lines {
			norm := strings.ToLower(strings.Trim(line, "-* \t"))
			if rest, ok := strings.CutPrefix(norm, "always "); ok {
				always[strings.TrimSpace(rest)] = doc.Path
			}
			if rest, ok := strings.CutPrefix(norm, "never "); ok {
				never[strings.TrimSpace(rest)] = doc.Path
			}
		}
	}
	var findings []Finding
	for _, subject := range sortedKeys(always) {
		path, ok := never[subject]
		if !ok {
			continue
		}
		findings = append(findings, Finding{
			Module:      ModuleConflicts,
			Severity:    SeverityWarning,
			Category:    "instruction-contradiction",
			Description: fmt.Sprintf("instructions both always and never %q (see %s and %s)", subject, always[subject], path),
			Component:   path,
		})
	}
	return findings
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
