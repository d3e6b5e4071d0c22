// Package document models the editing surface the assistant works against:
// an ordered list of block-level lines, a live selection, and change events.
package document

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// PlaceholderPrefix marks the starter text of an empty document.
const PlaceholderPrefix = "start typing your document here"

// MaxPromptChars caps how much document text is forwarded in a prompt.
const MaxPromptChars = 4000

var ErrLineOutOfRange = errors.New("line index out of range")

// Line is one block-level text segment. Index is positional and only valid
// until the next structural change. Ref is an opaque surface-specific handle.
type Line struct {
	Index int
	Text  string
	Ref   any
}

// Range addresses a span inside a line, in runes of the normalized line text.
type Range struct {
	LineIndex int `json:"lineIndex"`
	Start     int `json:"start"`
	End       int `json:"end"`
}

func (r Range) Collapsed() bool { return r.Start >= r.End }

// Selection is the live selection reported by a surface.
type Selection struct {
	Text  string
	Range Range
}

type EventKind string

const (
	EventContentChanged   EventKind = "content-changed"
	EventSelectionChanged EventKind = "selection-changed"
	EventSaved            EventKind = "saved"
	EventLoaded           EventKind = "loaded"
	EventAutosaved        EventKind = "autosaved"
	EventRenamed          EventKind = "renamed"
)

// Event is delivered to subscribers. Name is set for EventRenamed.
type Event struct {
	Kind EventKind
	At   time.Time
	Name string
}

type Handler func(Event)

// Surface is the narrow capability the assistant core is given instead of
// direct handles into the editor.
type Surface interface {
	Lines() []Line
	Text() string
	Selection() (Selection, bool)
	ReplaceLineText(index int, text string) error
	On(kind EventKind, h Handler) func()
}

// Editable is a Surface whose whole content can be loaded and serialized.
type Editable interface {
	Surface
	Load(data []byte) error
	Bytes() ([]byte, error)
	Emit(Event)
}

// NormalizeText collapses whitespace runs to single spaces and trims.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// IsPlaceholder reports whether a line still holds the empty-document starter text.
func IsPlaceholder(text string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(text)), PlaceholderPrefix)
}

// PromptText returns the document text capped to MaxPromptChars runes.
func PromptText(s Surface) string {
	runes := []rune(s.Text())
	if len(runes) > MaxPromptChars {
		runes = runes[:MaxPromptChars]
	}
	return string(runes)
}

// ContextWindow renders lines idx-radius..idx+radius as "i: text".
func ContextWindow(lines []Line, idx int, ok bool, radius int) string {
	if len(lines) == 0 || !ok {
		return "(no context)"
	}
	start := idx - radius
	if start < 0 {
		start = 0
	}
	end := idx + radius + 1
	if end > len(lines) {
		end = len(lines)
	}
	if start >= end {
		return "(no context)"
	}
	parts := make([]string, 0, end-start)
	for _, line := range lines[start:end] {
		text := line.Text
		if text == "" {
			text = "(blank)"
		}
		parts = append(parts, fmt.Sprintf("%d: %s", line.Index, text))
	}
	return strings.Join(parts, "\n")
}

// Bus is a synchronous event fan-out. Handlers run on the emitting goroutine
// in subscription order.
type Bus struct {
	mu       sync.Mutex
	next     int
	handlers map[EventKind]map[int]Handler
}

func (b *Bus) On(kind EventKind, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.handlers == nil {
		b.handlers = make(map[EventKind]map[int]Handler)
	}
	if b.handlers[kind] == nil {
		b.handlers[kind] = make(map[int]Handler)
	}
	id := b.next
	b.next++
	b.handlers[kind][id] = h
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers[kind], id)
	}
}

func (b *Bus) Emit(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	b.mu.Lock()
	ids := make([]int, 0, len(b.handlers[e.Kind]))
	for id := range b.handlers[e.Kind] {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	hs := make([]Handler, 0, len(ids))
	for _, id := range ids {
		hs = append(hs, b.handlers[e.Kind][id])
	}
	b.mu.Unlock()

	for _, h := range hs {
		h(e)
	}
}

// selectIn builds a selection over normalized line text, clamping offsets.
func selectIn(lines []Line, lineIdx, start, end int) (Selection, error) {
	if lineIdx < 0 || lineIdx >= len(lines) {
		return Selection{}, fmt.Errorf("select line %d: %w", lineIdx, ErrLineOutOfRange)
	}
	runes := []rune(lines[lineIdx].Text)
	start = clamp(start, 0, len(runes))
	end = clamp(end, start, len(runes))
	return Selection{
		Text:  string(runes[start:end]),
		Range: Range{LineIndex: lineIdx, Start: start, End: end},
	}, nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
