// Package selection tracks which line the assistant is working on.
package selection

import (
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/pariothan/cluppo-nextgen-wordprocessor/internal/document"
)

// Rand is the randomness used to pick lines. *rand.Rand satisfies it.
type Rand interface {
	Intn(n int) int
}

// NewRand returns a seeded source; seed 0 seeds from the clock.
func NewRand(seed int64) Rand {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return rand.New(rand.NewSource(seed))
}

// Snapshot is the last useful selection seen inside the surface.
type Snapshot struct {
	Text  string
	Range document.Range
}

// Tracker maps selections to line indices and keeps the cached active line.
type Tracker struct {
	surface document.Surface
	rng     Rand

	mu       sync.Mutex
	snapshot *Snapshot
	cached   *int
}

func NewTracker(surface document.Surface, rng Rand) *Tracker {
	if rng == nil {
		rng = NewRand(0)
	}
	return &Tracker{surface: surface, rng: rng}
}

// Capture reads the live selection. A non-empty selection always replaces the
// snapshot; an empty one is only stored when nothing was captured before.
func (t *Tracker) Capture() {
	sel, ok := t.surface.Selection()
	if !ok {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	text := strings.TrimSpace(sel.Text)
	if text != "" {
		t.snapshot = &Snapshot{Text: text, Range: sel.Range}
		t.cacheLocked(t.selectionLineLocked(t.surface.Lines()))
		return
	}
	if sel.Range.Collapsed() && t.snapshot == nil {
		t.snapshot = &Snapshot{Range: sel.Range}
		t.cacheLocked(t.selectionLineLocked(t.surface.Lines()))
	}
}

// Revalidate collapses the snapshot range once the text under it no longer
// matches the captured text, so later anchoring falls back to searching. The
// captured text itself is kept for prompts.
func (t *Tracker) Revalidate() {
	lines := t.surface.Lines()
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.snapshot == nil || t.snapshot.Range.Collapsed() {
		return
	}
	if RangeText(lines, t.snapshot.Range) == t.snapshot.Text {
		return
	}
	r := t.snapshot.Range
	t.snapshot.Range = document.Range{LineIndex: r.LineIndex, Start: r.Start, End: r.Start}
}

// RangeText is the trimmed text r currently covers, or "" when r is out of
// range.
func RangeText(lines []document.Line, r document.Range) string {
	if r.LineIndex < 0 || r.LineIndex >= len(lines) {
		return ""
	}
	runes := []rune(lines[r.LineIndex].Text)
	start := min(max(r.Start, 0), len(runes))
	end := min(max(r.End, start), len(runes))
	return strings.TrimSpace(string(runes[start:end]))
}

// Snapshot returns the captured snapshot, if any.
func (t *Tracker) Snapshot() (Snapshot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.snapshot == nil {
		return Snapshot{}, false
	}
	return *t.snapshot, true
}

// SelectionText prefers the live selection and falls back to the snapshot.
func (t *Tracker) SelectionText() string {
	if sel, ok := t.surface.Selection(); ok {
		if text := strings.TrimSpace(sel.Text); text != "" {
			t.mu.Lock()
			if t.snapshot == nil {
				t.snapshot = &Snapshot{Range: sel.Range}
			}
			t.snapshot.Text = text
			t.mu.Unlock()
			return text
		}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.snapshot == nil {
		return ""
	}
	return t.snapshot.Text
}

// SelectionLineIndex resolves the snapshot range, else the live range, to a
// line. With lines but no usable range it reports line 0.
func (t *Tracker) SelectionLineIndex() (int, bool) {
	lines := t.surface.Lines()
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.selectionLineLocked(lines)
}

func (t *Tracker) selectionLineLocked(lines []document.Line) (int, bool) {
	var rng *document.Range
	if t.snapshot != nil {
		r := t.snapshot.Range
		rng = &r
	} else if sel, ok := t.surface.Selection(); ok {
		r := sel.Range
		rng = &r
	}
	if rng == nil {
		return 0, false
	}
	if rng.LineIndex >= 0 && rng.LineIndex < len(lines) {
		return lines[rng.LineIndex].Index, true
	}
	if len(lines) > 0 {
		return 0, true
	}
	return 0, false
}

// ActiveLineIndex picks the line to work on.
//
// forceRandom picks uniformly among non-placeholder lines (or all lines when
// every line is placeholder) and caches the pick. Otherwise the cached index
// wins unless it now points at a placeholder while real text exists, in which
// case it is dropped; then the selection's line; then a random pick.
func (t *Tracker) ActiveLineIndex(forceRandom bool) (int, bool) {
	lines := t.surface.Lines()
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.activeLocked(lines, forceRandom)
}

func (t *Tracker) activeLocked(lines []document.Line, forceRandom bool) (int, bool) {
	if len(lines) == 0 {
		return 0, false
	}
	if forceRandom {
		return t.pickRandomLocked(lines), true
	}
	if t.cached != nil {
		idx := *t.cached
		inRange := idx >= 0 && idx < len(lines)
		if inRange && !document.IsPlaceholder(lines[idx].Text) {
			return idx, true
		}
		if !inRange || hasRealText(lines) {
			t.cached = nil
		} else {
			return idx, true
		}
	}
	if idx, ok := t.selectionLineLocked(lines); ok {
		t.cacheLocked(idx, true)
		return idx, true
	}
	return t.pickRandomLocked(lines), true
}

func (t *Tracker) pickRandomLocked(lines []document.Line) int {
	pool := make([]document.Line, 0, len(lines))
	for _, line := range lines {
		if !document.IsPlaceholder(line.Text) {
			pool = append(pool, line)
		}
	}
	if len(pool) == 0 {
		pool = lines
	}
	idx := pool[t.rng.Intn(len(pool))].Index
	t.cached = &idx
	return idx
}

func hasRealText(lines []document.Line) bool {
	for _, line := range lines {
		if !document.IsPlaceholder(line.Text) {
			return true
		}
	}
	return false
}

func (t *Tracker) cacheLocked(idx int, ok bool) {
	if !ok {
		t.cached = nil
		return
	}
	t.cached = &idx
}

// Cached returns the cached active line index.
func (t *Tracker) Cached() (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cached == nil {
		return 0, false
	}
	return *t.cached, true
}

// SetCached pins the active line.
func (t *Tracker) SetCached(idx int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cached = &idx
}

// ClearCache forgets the active line so the next pick is fresh.
func (t *Tracker) ClearCache() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cached = nil
}

// Reset forgets the snapshot and the cached line.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snapshot = nil
	t.cached = nil
}
