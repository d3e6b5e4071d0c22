package document

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeText(t *testing.T) {
	assert.Equal(t, "a b c", NormalizeText("  a \t b\n\nc  "))
	assert.Equal(t, "", NormalizeText(" \n "))
}

func TestIsPlaceholder(t *testing.T) {
	assert.True(t, IsPlaceholder("  Start typing your document here..."))
	assert.False(t, IsPlaceholder("Dear diary"))
}

func TestPlainTextLinesAreIdempotent(t *testing.T) {
	p := NewPlainText("First   line\n\n  third line ")
	first := p.Lines()
	second := p.Lines()
	require.Len(t, first, 3)
	assert.Equal(t, first, second)
	assert.Equal(t, "First line", first[0].Text)
	assert.Equal(t, "", first[1].Text)
	assert.Equal(t, "third line", first[2].Text)
}

func TestPlainTextEmptyDocumentIsOneLine(t *testing.T) {
	lines := NewPlainText("").Lines()
	require.Len(t, lines, 1)
	assert.Equal(t, 0, lines[0].Index)
}

func TestPlainTextReplaceLineEmitsContentChanged(t *testing.T) {
	p := NewPlainText("one\ntwo")
	var got []EventKind
	unsubscribe := p.On(EventContentChanged, func(e Event) { got = append(got, e.Kind) })

	require.NoError(t, p.ReplaceLineText(1, "TWO"))
	assert.Equal(t, "one\nTWO", p.Text())
	assert.Equal(t, []EventKind{EventContentChanged}, got)

	unsubscribe()
	require.NoError(t, p.ReplaceLineText(0, "ONE"))
	assert.Len(t, got, 1)

	err := p.ReplaceLineText(5, "nope")
	assert.ErrorIs(t, err, ErrLineOutOfRange)
}

func TestPlainTextSelectClampsOffsets(t *testing.T) {
	p := NewPlainText("hello world")
	require.NoError(t, p.Select(0, 6, 99))
	sel, ok := p.Selection()
	require.True(t, ok)
	assert.Equal(t, "world", sel.Text)
	assert.Equal(t, Range{LineIndex: 0, Start: 6, End: 11}, sel.Range)

	p.ClearSelection()
	_, ok = p.Selection()
	assert.False(t, ok)
}

func TestContextWindow(t *testing.T) {
	lines := NewPlainText("a\n\nc\nd").Lines()
	assert.Equal(t, "0: a\n1: (blank)", ContextWindow(lines, 0, true, 1))
	assert.Equal(t, "1: (blank)\n2: c\n3: d", ContextWindow(lines, 2, true, 1))
	assert.Equal(t, "(no context)", ContextWindow(lines, 0, false, 1))
	assert.Equal(t, "(no context)", ContextWindow(nil, 0, true, 1))
}

func TestPromptTextIsCapped(t *testing.T) {
	p := NewPlainText(strings.Repeat("x", MaxPromptChars+10))
	assert.Len(t, PromptText(p), MaxPromptChars)
}

const sampleDoc = `{
  "type": "doc",
  "content": [
    {"type": "heading", "attrs": {"level": 1}, "content": [{"type": "text", "text": "Title"}]},
    {"type": "paragraph", "content": [
      {"type": "text", "text": "Plain "},
      {"type": "text", "text": "bold", "marks": [{"type": "bold"}]},
      {"type": "text", "text": " tail"}
    ]},
    {"type": "bulletList", "content": [
      {"type": "listItem", "content": [{"type": "paragraph", "content": [{"type": "text", "text": "item one"}]}]},
      {"type": "listItem", "content": [{"type": "paragraph"}]}
    ]},
    {"type": "blockquote", "content": [
      {"type": "paragraph", "content": [{"type": "text", "text": "quoted"}]},
      {"type": "paragraph", "content": [{"type": "text", "text": "twice"}]}
    ]}
  ]
}`

func TestProseMirrorLinesStopAtBlocks(t *testing.T) {
	p, err := NewProseMirror([]byte(sampleDoc))
	require.NoError(t, err)

	lines := p.Lines()
	texts := make([]string, len(lines))
	for i, l := range lines {
		texts[i] = l.Text
	}
	assert.Equal(t, []string{"Title", "Plain bold tail", "item one", "", "quoted twice"}, texts)
}

func TestProseMirrorReplaceCollapsesIntoFirstTextNode(t *testing.T) {
	p, err := NewProseMirror([]byte(sampleDoc))
	require.NoError(t, err)

	require.NoError(t, p.ReplaceLineText(1, "Entirely new"))
	assert.Equal(t, "Entirely new", p.Lines()[1].Text)

	block := p.blocks()[1]
	nodes := children(block)
	require.Len(t, nodes, 1)
	assert.Equal(t, "Entirely new", nodes[0]["text"])
}

func TestProseMirrorReplaceFillsEmptyBlock(t *testing.T) {
	p, err := NewProseMirror([]byte(sampleDoc))
	require.NoError(t, err)

	require.NoError(t, p.ReplaceLineText(3, "item two"))
	assert.Equal(t, "item two", p.Lines()[3].Text)
	assert.Len(t, p.Lines(), 5)
}

func TestProseMirrorWithoutBlocksIsOneLine(t *testing.T) {
	p, err := NewProseMirror([]byte(`{"type":"doc","content":[{"type":"text","text":"loose  text"}]}`))
	require.NoError(t, err)
	lines := p.Lines()
	require.Len(t, lines, 1)
	assert.Equal(t, "loose text", lines[0].Text)
}

func TestProseMirrorRejectsNonDoc(t *testing.T) {
	_, err := NewProseMirror([]byte(`{"type":"paragraph"}`))
	assert.Error(t, err)
}

func TestFileSurfaceSaveAndReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("alpha\nbeta"), 0o644))

	f, err := OpenFile(path, FormatText)
	require.NoError(t, err)
	assert.Equal(t, "notes", f.Name())

	var kinds []EventKind
	record := func(e Event) { kinds = append(kinds, e.Kind) }
	f.On(EventSaved, record)
	f.On(EventLoaded, record)
	f.On(EventRenamed, record)

	require.NoError(t, f.ReplaceLineText(0, "ALPHA"))
	require.NoError(t, f.Save())
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "ALPHA\nbeta", string(data))

	// our own write is not reported as a reload
	require.NoError(t, f.Reload())
	assert.Equal(t, []EventKind{EventSaved}, kinds)

	require.NoError(t, os.WriteFile(path, []byte("gamma"), 0o644))
	require.NoError(t, f.Reload())
	assert.Equal(t, "gamma", f.Text())

	f.Rename("Quarterly Report")
	assert.Equal(t, []EventKind{EventSaved, EventLoaded, EventRenamed}, kinds)
	assert.Equal(t, "Quarterly Report", f.Name())
}

func TestFileSurfaceWatchPicksUpExternalWrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "draft.txt")
	require.NoError(t, os.WriteFile(path, []byte("before"), 0o644))

	f, err := OpenFile(path, FormatText)
	require.NoError(t, err)
	loaded := make(chan struct{}, 1)
	f.On(EventLoaded, func(Event) {
		select {
		case loaded <- struct{}{}:
		default:
		}
	})
	require.NoError(t, f.Watch())
	defer f.Close()

	require.NoError(t, os.WriteFile(path, []byte("after"), 0o644))
	select {
	case <-loaded:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
	assert.Equal(t, "after", f.Text())
}
