package redact

import (
	"fmt"
	"regexp"
	"strings"
)

// Rule matches one category of sensitive text and rewrites every occurrence
// to that category's sentinel. Implementations must be idempotent: applying
// a rule to already-redacted text is a no-op.
type Rule interface {
	Category() string
	Apply(text string) string
}

// Sentinel returns the fixed replacement for a category. The sentinel never
// preserves length or entropy of the original value.
func Sentinel(category string) string {
	return "[REDACTED:" + strings.ToUpper(category) + "]"
}

// regexRule substitutes regex matches with the category sentinel. When the
// pattern has a capture group, the group is treated as the prefix to keep
// (e.g. "api_key=") and only the remainder is replaced.
type regexRule struct {
	category string
	re       *regexp.Regexp
	keep     bool // pattern captures a prefix to preserve
}

func (r *regexRule) Category() string { return r.category }

func (r *regexRule) Apply(text string) string {
	sentinel := Sentinel(r.category)
	if !r.keep {
		return r.re.ReplaceAllString(text, sentinel)
	}
	return r.re.ReplaceAllString(text, "${1}"+sentinel)
}

// builtinRules is the ordered default rule set. Order matters: credential
// rules run before the broader email/path rules so a secret inside a URL
// is categorized as a credential, not a host.
func builtinRules() []Rule {
	return []Rule{
		prefixed("api-key", `(?i)(api[_-]?key\s*[=:]\s*)["']?[\w\-]{8,}["']?`),
		prefixed("token", `(?i)(token\s*[=:]\s*)["']?[\w\-.]{8,}["']?`),
		prefixed("token", `(?i)(bearer\s+)[\w\-.]+`),
		prefixed("password", `(?i)(password\s*[=:]\s*)["']?[^\s"']+["']?`),
		prefixed("secret", `(?i)(secret\s*[=:]\s*)["']?[\w\-]{6,}["']?`),
		plain("aws-key", `\bAKIA[0-9A-Z]{16}\b`),
		prefixed("dsn-credentials", `((?:mongodb(?:\+srv)?|postgres(?:ql)?|mysql|redis)://)[^@\s]+@`),
		plain("email", `\b[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}\b`),
		plain("private-ip", `\b10\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`),
		plain("private-ip", `\b172\.(?:1[6-9]|2[0-9]|3[0-1])\.\d{1,3}\.\d{1,3}\b`),
		plain("private-ip", `\b192\.168\.\d{1,3}\.\d{1,3}\b`),
		plain("user-path", `/Users/[^/\s'"]+`),
		plain("user-path", `/home/[^/\s'"]+`),
		plain("user-path", `C:\\Users\\[^\\\s'"]+`),
	}
}

func plain(category, pattern string) Rule {
	return &regexRule{category: category, re: regexp.MustCompile(pattern)}
}

func prefixed(category, pattern string) Rule {
	return &regexRule{category: category, re: regexp.MustCompile(pattern), keep: true}
}

// CompileRules builds an engine rule set from custom pattern strings
// appended after the built-ins. A pattern that does not compile is a
// configuration error reported with the offending pattern named — never a
// silent skip. Custom patterns redact under the "custom" category.
func CompileRules(custom []string) ([]Rule, error) {
	rules := builtinRules()
	for i, p := range custom {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("redact: custom pattern %d %q does not compile: %w (fix the pattern in redact_patterns)", i, p, err)
		}
		rules = append(rules, &regexRule{category: "custom", re: re})
	}
	return rules, nil
}
