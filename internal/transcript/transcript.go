// Package transcript holds the bounded interaction log shared by the client
// core and the gateway.
package transcript

import (
	"fmt"
	"strings"
	"time"
)

const (
	// ClientCap bounds the per-session log kept with persona state.
	ClientCap = 80
	// ServerCap bounds the per-session log kept by the gateway store.
	ServerCap = 50
	// ServerTextLimit is the number of runes of model text kept per server entry.
	ServerTextLimit = 500
)

// Entry is a single logged interaction. At is epoch milliseconds.
type Entry struct {
	Type string         `json:"type"`
	Text string         `json:"text"`
	Meta map[string]any `json:"meta,omitempty"`
	At   int64          `json:"at"`
}

// NewEntry stamps an entry with t.
func NewEntry(kind, text string, meta map[string]any, t time.Time) Entry {
	return Entry{Type: kind, Text: text, Meta: meta, At: t.UnixMilli()}
}

// Append adds e and drops the oldest entries beyond limit. The input slice is
// not modified.
func Append(entries []Entry, e Entry, limit int) []Entry {
	out := make([]Entry, 0, len(entries)+1)
	out = append(out, entries...)
	out = append(out, e)
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// Truncate cuts text to at most n runes.
func Truncate(text string, n int) string {
	runes := []rune(text)
	if n <= 0 || len(runes) <= n {
		return text
	}
	return string(runes[:n])
}

// Render formats entries newest first, one per line.
func Render(entries []Entry, loc *time.Location) string {
	if len(entries) == 0 {
		return "(no transcript yet)"
	}
	if loc == nil {
		loc = time.Local
	}
	var b strings.Builder
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		at := time.UnixMilli(e.At).In(loc).Format("15:04:05")
		fmt.Fprintf(&b, "[%s] %s: %s", at, strings.ToUpper(e.Type), e.Text)
		if i > 0 {
			b.WriteByte('\n')
		}
	}
	return b.String()
}
