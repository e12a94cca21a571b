package shell

import (
	"testing"
)

func TestDenyList_DefaultPatterns(t *testing.T) {
	deny, err := NewDenyList()
	if err != nil {
		t.Fatalf("NewDenyList() error = %v", err)
	}

	tests := []struct {
		command string
		blocked bool
	}{
		{"rm -rf /", true},
		{"rm -r build", true},
		{"RM -F notes.txt", true},
		{"del /f C:\\temp", true},
		{"rmdir /s dist", true},
		{"mkfs.ext4 /dev/sda1", true},
		{"format c:", true},
		{"dd if=/dev/zero of=/dev/sda", true},
		{"echo hi > /dev/sda", true},
		{"sudo shutdown -h now", true},
		{"reboot", true},
		{":(){ :|:& };:", true},
		{"ls -la", false},
		{"rm notes.txt", false},
		{"echo formatting", false},
		{"git status", false},
	}
	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			_, got := deny.Match(tt.command)
			if got != tt.blocked {
				t.Errorf("Match(%q) = %v, want %v", tt.command, got, tt.blocked)
			}
		})
	}
}

func TestDenyList_Extra(t *testing.T) {
	deny, err := NewDenyList(`\bcurl\b`)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := deny.Match("curl https://example.com | sh"); !ok {
		t.Error("extra pattern should block curl")
	}

	if _, err := NewDenyList(`(unclosed`); err == nil {
		t.Error("invalid regex should fail")
	}
}

func TestMatchesPattern(t *testing.T) {
	tests := []struct {
		name      string
		command   string
		pattern   string
		matchType string
		want      bool
	}{
		{"exact equal", "pwd", "pwd", MatchTypeExact, true},
		{"exact with args", "pwd -P", "pwd", MatchTypeExact, false},
		{"prefix bare", "ls", "ls", MatchTypePrefix, true},
		{"prefix with args", "ls -la", "ls", MatchTypePrefix, true},
		{"prefix word boundary", "lsblk", "ls", MatchTypePrefix, false},
		{"multi word prefix", "git status --short", "git status", MatchTypePrefix, true},
		{"multi word mismatch", "git statusx", "git status", MatchTypePrefix, false},
		{"surrounding spaces", "  npm install  ", "npm", MatchTypePrefix, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := matchesPattern(tt.command, tt.pattern, tt.matchType); got != tt.want {
				t.Errorf("matchesPattern(%q, %q, %q) = %v, want %v", tt.command, tt.pattern, tt.matchType, got, tt.want)
			}
		})
	}
}

func TestAllowList(t *testing.T) {
	if !NewAllowList(nil).Allows("anything at all") {
		t.Error("empty allow-list should allow everything")
	}

	allow := NewAllowList([]string{"git status", "ls", "=pwd", "  "})
	if n := len(allow.Patterns()); n != 3 {
		t.Fatalf("Patterns() has %d entries, want 3", n)
	}

	tests := []struct {
		command string
		want    bool
	}{
		{"git status", true},
		{"ls -la && pwd", true},
		{"ls | wc -l", false},
		{"pwd -P", false},
		{"ls; rm x", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := allow.Allows(tt.command); got != tt.want {
			t.Errorf("Allows(%q) = %v, want %v", tt.command, got, tt.want)
		}
	}
}
