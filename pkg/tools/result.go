package tools

import (
	"fmt"
	"time"
	"unicode/utf8"
)

// Result is the outcome of one invocation.
type Result struct {
	Tool           string                 `json:"tool"`
	Output         string                 `json:"output"`
	Truncated      bool                   `json:"truncated,omitempty"`
	OriginalLength int                    `json:"original_length,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	Error          *Error                 `json:"error,omitempty"`
	Duration       time.Duration          `json:"duration_ns,omitempty"`
}

// Failed reports whether the invocation failed.
func (r *Result) Failed() bool {
	return r != nil && r.Error != nil
}

// Err returns the failure as an error, or nil.
func (r *Result) Err() error {
	if r == nil || r.Error == nil {
		return nil
	}
	return r.Error
}

// Text renders the result the way an agent loop feeds it back to a model.
func (r *Result) Text() string {
	if r.Error != nil {
		return fmt.Sprintf("Error (%s): %s", r.Error.Kind, r.Error.Error())
	}
	if r.Truncated {
		if more := r.OriginalLength - utf8.RuneCountInString(r.Output); more > 0 {
			return fmt.Sprintf("%s\n\n... (truncated, %d more chars)", r.Output, more)
		}
		return r.Output + "\n\n... (truncated)"
	}
	return r.Output
}

// Truncate cuts s to at most limit characters (runes). It reports whether
// anything was removed. A limit <= 0 disables truncation.
func Truncate(s string, limit int) (string, bool) {
	if limit <= 0 || len(s) <= limit {
		return s, false
	}
	if utf8.RuneCountInString(s) <= limit {
		return s, false
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i], true
		}
		n++
	}
	return s, false
}
