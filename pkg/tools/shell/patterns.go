package shell

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	// MatchTypePrefix matches a command that starts with the pattern at a word boundary.
	MatchTypePrefix = "prefix"
	// MatchTypeExact matches only the identical command.
	MatchTypeExact = "exact"
)

// DefaultDenyPatterns catch destructive commands. They are matched
// case-insensitively against the whole command line.
var DefaultDenyPatterns = []string{
	`\brm\s+-[rf]{1,2}\b`,
	`\bdel\s+/[fq]\b`,
	`\brmdir\s+/s\b`,
	`\b(format|mkfs|diskpart)\b`,
	`\bdd\s+if=`,
	`>\s*/dev/sd`,
	`\b(shutdown|reboot|poweroff)\b`,
	`:\(\)\s*\{.*\};\s*:`,
}

// DenyList holds compiled deny patterns.
type DenyList struct {
	patterns []*regexp.Regexp
}

// NewDenyList compiles the default patterns followed by extra.
func NewDenyList(extra ...string) (*DenyList, error) {
	d := &DenyList{}
	for _, p := range append(append([]string{}, DefaultDenyPatterns...), extra...) {
		if strings.TrimSpace(p) == "" {
			continue
		}
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("invalid deny pattern %q: %w", p, err)
		}
		d.patterns = append(d.patterns, re)
	}
	return d, nil
}

// Match returns the first deny pattern matching command.
func (d *DenyList) Match(command string) (string, bool) {
	if d == nil {
		return "", false
	}
	lower := strings.ToLower(strings.TrimSpace(command))
	for _, re := range d.patterns {
		if re.MatchString(lower) {
			return re.String(), true
		}
	}
	return "", false
}

// CommandPattern is one allow-list entry.
type CommandPattern struct {
	Pattern string `yaml:"pattern" json:"pattern"`
	Type    string `yaml:"type" json:"type"` // "prefix" or "exact"
}

// AllowList restricts exec to matching commands. An empty list allows
// every command that is not denied.
type AllowList struct {
	patterns []CommandPattern
}

// NewAllowList builds an allow-list from config strings. A leading "="
// marks an exact pattern; anything else is a prefix pattern.
func NewAllowList(entries []string) *AllowList {
	a := &AllowList{}
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if strings.HasPrefix(e, "=") {
			a.patterns = append(a.patterns, CommandPattern{Pattern: strings.TrimSpace(e[1:]), Type: MatchTypeExact})
			continue
		}
		a.patterns = append(a.patterns, CommandPattern{Pattern: e, Type: MatchTypePrefix})
	}
	return a
}

// Empty reports whether the list has no entries.
func (a *AllowList) Empty() bool {
	return a == nil || len(a.patterns) == 0
}

// Patterns returns a copy of the entries.
func (a *AllowList) Patterns() []CommandPattern {
	if a == nil {
		return nil
	}
	out := make([]CommandPattern, len(a.patterns))
	copy(out, a.patterns)
	return out
}

// Allows reports whether command is permitted. Every segment of a
// compound command (joined by &&, ||, ; or |) must match some entry.
//
// Prefix examples:
//   - "git status" matches "git status" and "git status --short"
//   - "ls" matches "ls" and "ls -la" but not "lsblk"
//
// Exact examples:
//   - "=pwd" matches only "pwd"
func (a *AllowList) Allows(command string) bool {
	if a.Empty() {
		return true
	}
	segments := splitSegments(command)
	if len(segments) == 0 {
		return false
	}
	for _, seg := range segments {
		if !a.allowsSegment(seg) {
			return false
		}
	}
	return true
}

func (a *AllowList) allowsSegment(command string) bool {
	for _, p := range a.patterns {
		if matchesPattern(command, p.Pattern, p.Type) {
			return true
		}
	}
	return false
}

var segmentSplitter = regexp.MustCompile(`&&|\|\||;|\|`)

func splitSegments(command string) []string {
	var out []string
	for _, s := range segmentSplitter.Split(command, -1) {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func matchesPattern(command, pattern, matchType string) bool {
	pattern = strings.TrimSpace(pattern)
	command = strings.TrimSpace(command)

	if command == pattern {
		return true
	}
	if matchType == MatchTypeExact {
		return false
	}
	return strings.HasPrefix(command, pattern+" ") || strings.HasPrefix(command, pattern+"\t")
}
