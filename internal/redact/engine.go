package redact

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// sentinelRe recognizes already-placed sentinels. The engine never applies
// rules inside a sentinel, which makes redaction idempotent even when a
// custom pattern would otherwise match sentinel text.
var sentinelRe = regexp.MustCompile(`\[REDACTED:[A-Z0-9\-]+\]`)

// Engine applies an ordered rule set to text and structured JSON.
type Engine struct {
	rules []Rule
}

// NewEngine builds an engine over the built-in rules plus custom patterns.
// Custom patterns that fail to compile are a configuration error.
func NewEngine(custom []string) (*Engine, error) {
	rules, err := CompileRules(custom)
	if err != nil {
		return nil, err
	}
	return &Engine{rules: rules}, nil
}

// Redact rewrites every rule match in text to its category sentinel.
// Idempotent: redact(redact(x)) == redact(x).
func (e *Engine) Redact(text string) string {
	if text == "" {
		return text
	}

	// Protect existing sentinels: apply rules only to the spans between them.
	locs := sentinelRe.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return e.applyAll(text)
	}

	var b strings.Builder
	prev := 0
	for _, loc := range locs {
		b.WriteString(e.applyAll(text[prev:loc[0]]))
		b.WriteString(text[loc[0]:loc[1]])
		prev = loc[1]
	}
	b.WriteString(e.applyAll(text[prev:]))
	return b.String()
}

func (e *Engine) applyAll(text string) string {
	for _, r := range e.rules {
		text = r.Apply(text)
	}
	return text
}

// RedactJSON decodes raw JSON, redacts every string value at any depth
// (object fields, array elements, nested previews), and re-encodes. Input
// that is not valid JSON is redacted as plain text instead.
func (e *Engine) RedactJSON(raw []byte) ([]byte, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return []byte(e.Redact(string(raw))), nil
	}
	out, err := json.Marshal(e.redactValue(doc))
	if err != nil {
		return nil, fmt.Errorf("redact: re-encode: %w", err)
	}
	return out, nil
}

func (e *Engine) redactValue(v any) any {
	switch val := v.(type) {
	case string:
		return e.Redact(val)
	case map[string]any:
		for k, inner := range val {
			val[k] = e.redactValue(inner)
		}
		return val
	case []any:
		for i, inner := range val {
			val[i] = e.redactValue(inner)
		}
		return val
	default:
		return v
	}
}

// RedactLines redacts a JSONL document line by line, preserving line
// structure. Lines that fail to parse as JSON are redacted as plain text.
func (e *Engine) RedactLines(raw []byte) ([]byte, error) {
	lines := strings.Split(string(raw), "\n")
	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		out, err := e.RedactJSON([]byte(line))
		if err != nil {
			return nil, err
		}
		lines[i] = string(out)
	}
	return []byte(strings.Join(lines, "\n")), nil
}
