package document

import (
	"fmt"
	"strings"
	"sync"
)

// PlainText is a surface where every newline-separated line is a block.
type PlainText struct {
	Bus

	mu    sync.RWMutex
	lines []string
	sel   *Selection
}

func NewPlainText(content string) *PlainText {
	return &PlainText{lines: splitLines(content)}
}

func splitLines(content string) []string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	return strings.Split(content, "\n")
}

func (p *PlainText) Lines() []Line {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Line, len(p.lines))
	for i, raw := range p.lines {
		out[i] = Line{Index: i, Text: NormalizeText(raw), Ref: i}
	}
	return out
}

func (p *PlainText) Text() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return strings.Join(p.lines, "\n")
}

func (p *PlainText) Selection() (Selection, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.sel == nil {
		return Selection{}, false
	}
	return *p.sel, true
}

// Select sets the live selection to runes [start,end) of a line. start == end
// places a caret.
func (p *PlainText) Select(lineIdx, start, end int) error {
	sel, err := selectIn(p.Lines(), lineIdx, start, end)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.sel = &sel
	p.mu.Unlock()
	p.Emit(Event{Kind: EventSelectionChanged})
	return nil
}

// ClearSelection drops the live selection, as when focus leaves the editor.
func (p *PlainText) ClearSelection() {
	p.mu.Lock()
	p.sel = nil
	p.mu.Unlock()
	p.Emit(Event{Kind: EventSelectionChanged})
}

func (p *PlainText) ReplaceLineText(index int, text string) error {
	p.mu.Lock()
	if index < 0 || index >= len(p.lines) {
		p.mu.Unlock()
		return fmt.Errorf("replace line %d: %w", index, ErrLineOutOfRange)
	}
	p.lines[index] = strings.ReplaceAll(text, "\n", " ")
	if p.sel != nil && p.sel.Range.LineIndex == index {
		p.sel = nil
	}
	p.mu.Unlock()
	p.Emit(Event{Kind: EventContentChanged})
	return nil
}

func (p *PlainText) Load(data []byte) error {
	p.mu.Lock()
	p.lines = splitLines(string(data))
	p.sel = nil
	p.mu.Unlock()
	p.Emit(Event{Kind: EventContentChanged})
	return nil
}

func (p *PlainText) Bytes() ([]byte, error) {
	return []byte(p.Text()), nil
}
