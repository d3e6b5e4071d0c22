// Package anchor keeps pending-suggestion anchors outside the document. An
// anchor is a locator (line, span, content fingerprint) resolved lazily
// against the current lines instead of a marker spliced into the text.
package anchor

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/crypto/blake2b"

	"github.com/pariothan/cluppo-nextgen-wordprocessor/internal/document"
	"github.com/pariothan/cluppo-nextgen-wordprocessor/internal/util"
)

var ErrStale = errors.New("anchor no longer matches the document")

// Locator describes where an anchor sits. Start and End are rune offsets into
// the normalized line text.
type Locator struct {
	LineIndex   int    `json:"lineIndex"`
	Start       int    `json:"start"`
	End         int    `json:"end"`
	Text        string `json:"text"`
	LineText    string `json:"lineText"`
	Fingerprint string `json:"fingerprint"`
	WholeLine   bool   `json:"wholeLine"`
	// Copies is how many lines carried the same text when anchored and
	// Occurrence which of them (0-based, document order) this one was.
	Copies     int `json:"copies"`
	Occurrence int `json:"occurrence"`
}

// Fingerprint hashes line text so moved or edited lines can be told apart.
func Fingerprint(text string) string {
	sum := blake2b.Sum256([]byte(text))
	return hex.EncodeToString(sum[:16])
}

func newLocator(lines []document.Line, line document.Line, start, end int, whole bool) Locator {
	runes := []rune(line.Text)
	copies, occurrence := 0, 0
	for _, other := range lines {
		if other.Text != line.Text {
			continue
		}
		if other.Index < line.Index {
			occurrence++
		}
		copies++
	}
	return Locator{
		LineIndex:   line.Index,
		Start:       start,
		End:         end,
		Text:        string(runes[start:end]),
		LineText:    line.Text,
		Fingerprint: Fingerprint(line.Text),
		WholeLine:   whole,
		Copies:      copies,
		Occurrence:  occurrence,
	}
}

// ForLine anchors a whole line.
func ForLine(lines []document.Line, idx int) (Locator, bool) {
	if idx < 0 || idx >= len(lines) {
		return Locator{}, false
	}
	return newLocator(lines, lines[idx], 0, len([]rune(lines[idx].Text)), true), true
}

// ForRange anchors a span of a line. Offsets are clamped to the line.
func ForRange(lines []document.Line, r document.Range) (Locator, bool) {
	if r.LineIndex < 0 || r.LineIndex >= len(lines) {
		return Locator{}, false
	}
	n := len([]rune(lines[r.LineIndex].Text))
	start := clamp(r.Start, 0, n)
	end := clamp(r.End, start, n)
	return newLocator(lines, lines[r.LineIndex], start, end, false), true
}

// Search anchors the first case-insensitive occurrence of target.
func Search(lines []document.Line, target string) (Locator, bool) {
	if strings.TrimSpace(target) == "" {
		return Locator{}, false
	}
	for _, line := range lines {
		if start, end, ok := FindFold(line.Text, target); ok {
			return newLocator(lines, line, start, end, false), true
		}
	}
	return Locator{}, false
}

// EndOfDocument anchors a caret after the last line's text.
func EndOfDocument(lines []document.Line) (Locator, bool) {
	if len(lines) == 0 {
		return Locator{}, false
	}
	last := lines[len(lines)-1]
	n := len([]rune(last.Text))
	return newLocator(lines, last, n, n, false), true
}

// FindFold returns the rune span of the first case-insensitive match.
func FindFold(hay, needle string) (start, end int, ok bool) {
	h := []rune(strings.Map(unicode.ToLower, hay))
	n := []rune(strings.Map(unicode.ToLower, needle))
	if len(n) == 0 || len(n) > len(h) {
		return 0, 0, false
	}
outer:
	for i := 0; i+len(n) <= len(h); i++ {
		for j := range n {
			if h[i+j] != n[j] {
				continue outer
			}
		}
		return i, i + len(n), true
	}
	return 0, 0, false
}

// Index maps anchor ids to locators.
type Index struct {
	mu      sync.Mutex
	entries map[string]Locator
}

func NewIndex() *Index {
	return &Index{entries: make(map[string]Locator)}
}

// Put stores loc under a fresh id.
func (ix *Index) Put(loc Locator) string {
	id := util.NewID("anchor")
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.entries[id] = loc
	return id
}

func (ix *Index) Get(id string) (Locator, bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	loc, ok := ix.entries[id]
	return loc, ok
}

func (ix *Index) Remove(id string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	delete(ix.entries, id)
}

func (ix *Index) Len() int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return len(ix.entries)
}

// Resolve finds the anchor in the current lines: in place if its line is
// unchanged, on the one other line carrying the same content, or, for span
// anchors, wherever the anchored text now appears. When the anchored line
// had identical copies it only moves if the same copies are all still there;
// otherwise it is stale. The stored locator follows the move.
func (ix *Index) Resolve(id string, lines []document.Line) (Locator, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	loc, ok := ix.entries[id]
	if !ok {
		return Locator{}, fmt.Errorf("resolve %s: %w", id, ErrStale)
	}

	if loc.LineIndex >= 0 && loc.LineIndex < len(lines) && Fingerprint(lines[loc.LineIndex].Text) == loc.Fingerprint {
		return loc, nil
	}

	var matches []int
	for _, line := range lines {
		if Fingerprint(line.Text) == loc.Fingerprint {
			matches = append(matches, line.Index)
		}
	}
	switch {
	case len(matches) > 0 && len(matches) == loc.Copies && loc.Occurrence < len(matches):
		// same set of identical lines, shifted
		loc.LineIndex = matches[loc.Occurrence]
		ix.entries[id] = loc
		return loc, nil
	case len(matches) == 1 && loc.Copies <= 1:
		loc.LineIndex = matches[0]
		ix.entries[id] = loc
		return loc, nil
	case len(matches) > 0:
		return Locator{}, fmt.Errorf("resolve %s: ambiguous move: %w", id, ErrStale)
	}

	if !loc.WholeLine && strings.TrimSpace(loc.Text) != "" {
		if moved, ok := Search(lines, loc.Text); ok {
			ix.entries[id] = moved
			return moved, nil
		}
	}
	return Locator{}, fmt.Errorf("resolve %s: %w", id, ErrStale)
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
