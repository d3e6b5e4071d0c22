package document

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// blockTypes are the ProseMirror nodes that form one line each. A block's
// descendants are never split into further lines.
var blockTypes = map[string]bool{
	"paragraph":  true,
	"heading":    true,
	"listItem":   true,
	"blockquote": true,
	"codeBlock":  true,
}

const emptyProseMirrorDoc = `{"type":"doc","content":[{"type":"paragraph"}]}`

// ProseMirror is a surface over a ProseMirror JSON document tree.
type ProseMirror struct {
	Bus

	mu  sync.RWMutex
	doc map[string]any
	sel *Selection
}

func NewProseMirror(data []byte) (*ProseMirror, error) {
	p := &ProseMirror{}
	doc, err := parseProseMirror(data)
	if err != nil {
		return nil, err
	}
	p.doc = doc
	return p, nil
}

func parseProseMirror(data []byte) (map[string]any, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		data = []byte(emptyProseMirrorDoc)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse prosemirror doc: %w", err)
	}
	if t, _ := doc["type"].(string); t != "doc" {
		return nil, fmt.Errorf("parse prosemirror doc: root type %q is not doc", t)
	}
	return doc, nil
}

// blocks walks the tree in document order and returns the line nodes.
func (p *ProseMirror) blocks() []map[string]any {
	var out []map[string]any
	var walk func(node map[string]any)
	walk = func(node map[string]any) {
		for _, child := range children(node) {
			nodeType, _ := child["type"].(string)
			if blockTypes[nodeType] {
				out = append(out, child)
				continue
			}
			walk(child)
		}
	}
	walk(p.doc)
	if len(out) == 0 {
		return []map[string]any{p.doc}
	}
	return out
}

func children(node map[string]any) []map[string]any {
	items, ok := node["content"].([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if child, ok := item.(map[string]any); ok {
			out = append(out, child)
		}
	}
	return out
}

// nodeText flattens a subtree. Non-text children are padded with spaces so
// adjacent blocks do not run together; NormalizeText removes the excess.
func nodeText(node map[string]any) string {
	switch nodeType, _ := node["type"].(string); nodeType {
	case "text":
		text, _ := node["text"].(string)
		return text
	case "hardBreak":
		return " "
	}
	var b strings.Builder
	for _, child := range children(node) {
		if t, _ := child["type"].(string); t == "text" {
			b.WriteString(nodeText(child))
			continue
		}
		b.WriteString(" ")
		b.WriteString(nodeText(child))
		b.WriteString(" ")
	}
	return b.String()
}

func (p *ProseMirror) Lines() []Line {
	p.mu.RLock()
	defer p.mu.RUnlock()
	blocks := p.blocks()
	out := make([]Line, len(blocks))
	for i, block := range blocks {
		out[i] = Line{Index: i, Text: NormalizeText(nodeText(block)), Ref: block}
	}
	return out
}

func (p *ProseMirror) Text() string {
	lines := p.Lines()
	parts := make([]string, len(lines))
	for i, line := range lines {
		parts[i] = line.Text
	}
	return strings.Join(parts, "\n")
}

func (p *ProseMirror) Selection() (Selection, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.sel == nil {
		return Selection{}, false
	}
	return *p.sel, true
}

func (p *ProseMirror) Select(lineIdx, start, end int) error {
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

func (p *ProseMirror) ClearSelection() {
	p.mu.Lock()
	p.sel = nil
	p.mu.Unlock()
	p.Emit(Event{Kind: EventSelectionChanged})
}

// ReplaceLineText keeps the block's inline structure where it can: a single
// text node is replaced directly; with several, the first receives the whole
// text and the others are removed along with their marks.
func (p *ProseMirror) ReplaceLineText(index int, text string) error {
	p.mu.Lock()
	blocks := p.blocks()
	if index < 0 || index >= len(blocks) {
		p.mu.Unlock()
		return fmt.Errorf("replace line %d: %w", index, ErrLineOutOfRange)
	}
	replaceBlockText(blocks[index], strings.ReplaceAll(text, "\n", " "))
	if p.sel != nil && p.sel.Range.LineIndex == index {
		p.sel = nil
	}
	p.mu.Unlock()
	p.Emit(Event{Kind: EventContentChanged})
	return nil
}

func replaceBlockText(block map[string]any, text string) {
	var textNodes []map[string]any
	var collect func(node map[string]any)
	collect = func(node map[string]any) {
		for _, child := range children(node) {
			if t, _ := child["type"].(string); t == "text" {
				textNodes = append(textNodes, child)
				continue
			}
			collect(child)
		}
	}
	collect(block)

	if len(textNodes) == 0 {
		if text == "" {
			return
		}
		target := firstTextBlock(block)
		target["content"] = []any{map[string]any{"type": "text", "text": text}}
		return
	}

	textNodes[0]["text"] = text
	for _, node := range textNodes[1:] {
		node["text"] = ""
	}
	pruneEmptyText(block)
}

// firstTextBlock finds the innermost first node that may hold inline text.
func firstTextBlock(node map[string]any) map[string]any {
	switch t, _ := node["type"].(string); t {
	case "paragraph", "heading", "codeBlock":
		return node
	}
	for _, child := range children(node) {
		if found := firstTextBlock(child); found != nil {
			return found
		}
	}
	if t, _ := node["type"].(string); t == "doc" || blockTypes[t] {
		para := map[string]any{"type": "paragraph"}
		items, _ := node["content"].([]any)
		node["content"] = append(items, para)
		return para
	}
	return nil
}

func pruneEmptyText(node map[string]any) {
	items, ok := node["content"].([]any)
	if !ok {
		return
	}
	kept := items[:0]
	for _, item := range items {
		child, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if t, _ := child["type"].(string); t == "text" {
			if s, _ := child["text"].(string); s == "" {
				continue
			}
		}
		pruneEmptyText(child)
		kept = append(kept, child)
	}
	if len(kept) == 0 {
		delete(node, "content")
		return
	}
	node["content"] = kept
}

func (p *ProseMirror) Load(data []byte) error {
	doc, err := parseProseMirror(data)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.doc = doc
	p.sel = nil
	p.mu.Unlock()
	p.Emit(Event{Kind: EventContentChanged})
	return nil
}

func (p *ProseMirror) Bytes() ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return json.MarshalIndent(p.doc, "", "  ")
}
