package suggest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFencedLineSuggestion(t *testing.T) {
	text := "Behold my genius.\n```json\n{\"type\":\"line\",\"lineNumber\":2,\"newLine\":\"Hello there\",\"rationale\":\"clarity\"}\n```"
	parsed := Parse(text)
	require.NotNil(t, parsed.Raw)
	assert.False(t, parsed.Heuristic)
	assert.Equal(t, "Behold my genius.", parsed.Remainder)

	s := Normalize(parsed.Raw, time.Now())
	assert.Equal(t, TypeLine, s.Type)
	require.NotNil(t, s.NewLine)
	assert.Equal(t, "Hello there", *s.NewLine)
	require.NotNil(t, s.LineNumber)
	assert.Equal(t, 2, *s.LineNumber)
	assert.Equal(t, "clarity", s.Rationale)
	assert.Equal(t, After, s.Position)
	assert.NotEmpty(t, s.ID)
}

func TestParseSeparatesMoodBlock(t *testing.T) {
	text := "Fixed it.\n```JSON\n{\"type\":\"replace\",\"target\":\"a\",\"suggestion\":\"b\"}\n```\nAlso:\n```json\n{\"mood\":\"excited\",\"reason\":\"chaos\",\"opinion\":\"commas are optional\"}\n```"
	parsed := Parse(text)
	require.NotNil(t, parsed.Raw)
	require.NotNil(t, parsed.Mood)
	assert.Equal(t, "excited", parsed.Mood.Mood)
	assert.Equal(t, "chaos", parsed.Mood.Reason)
	assert.Equal(t, "commas are optional", parsed.Mood.Opinion)
	assert.Equal(t, "Fixed it.\n\nAlso:", parsed.Remainder)
}

func TestParseMoodOnly(t *testing.T) {
	parsed := Parse("Nice weather.\n```json\n{\"mood\":\"happy\"}\n```")
	assert.Nil(t, parsed.Raw)
	require.NotNil(t, parsed.Mood)
	assert.Equal(t, "Nice weather.", parsed.Remainder)
}

func TestParseBareObjects(t *testing.T) {
	parsed := Parse(`Try {"type":"line","newLine":"use {braces} \"here\"","rationale":"x"} now {"mood":"annoyed"}`)
	require.NotNil(t, parsed.Raw)
	assert.Equal(t, `use {braces} "here"`, parsed.Raw["newLine"])
	require.NotNil(t, parsed.Mood)
	assert.Equal(t, "annoyed", parsed.Mood.Mood)
	assert.Equal(t, "Try  now", parsed.Remainder)
}

func TestParseIgnoresInvalidJSON(t *testing.T) {
	parsed := Parse("```json\n{not json}\n```\nJust vibes.")
	assert.Nil(t, parsed.Raw)
	assert.Nil(t, parsed.Mood)
	assert.Contains(t, parsed.Remainder, "Just vibes.")
}

func TestHeuristicReplace(t *testing.T) {
	parsed := Parse("I think you should replace 'cat' with 'dog' here")
	require.NotNil(t, parsed.Raw)
	assert.True(t, parsed.Heuristic)

	s := Normalize(parsed.Raw, time.Now())
	assert.Equal(t, TypeReplace, s.Type)
	assert.Equal(t, "cat", s.Target)
	assert.Equal(t, "dog", s.Text())
	assert.Equal(t, HeuristicRationale, s.Rationale)
	assert.Equal(t, "I think you should  'cat' with 'dog' here", parsed.Remainder)
}

func TestHeuristicPriorityAndForms(t *testing.T) {
	cases := []struct {
		text   string
		typ    string
		target string
		sug    string
	}{
		{`Please Remove "very" from the intro`, "delete", "very", ""},
		{`drop fluff`, "delete", "fluff", ""},
		{`You should add sparkle.`, "add", "", "sparkle"},
		{`insert “a little drama” somewhere`, "add", "", "a little drama"},
		{`Add more, then replace Bob with Alice`, "replace", "Bob", "Alice"},
	}
	for _, tc := range cases {
		raw, ok := Heuristic(tc.text)
		require.True(t, ok, tc.text)
		assert.Equal(t, tc.typ, raw["type"], tc.text)
		assert.Equal(t, tc.target, raw["target"], tc.text)
		assert.Equal(t, tc.sug, raw["suggestion"], tc.text)
	}

	_, ok := Heuristic("The address is fine.")
	assert.False(t, ok)
}

func TestNormalizeDefaults(t *testing.T) {
	s := Normalize(map[string]any{"line": "3", "suggestionText": "New text"}, time.UnixMilli(42))
	assert.Equal(t, TypeLine, s.Type)
	require.NotNil(t, s.LineNumber)
	assert.Equal(t, 3, *s.LineNumber)
	require.NotNil(t, s.NewLine)
	assert.Equal(t, "New text", *s.NewLine)
	assert.Equal(t, "New text", s.Text())
	assert.Equal(t, int64(42), s.CreatedAt)

	s = Normalize(map[string]any{"type": "bogus", "suggestion": "x", "position": "BEFORE"}, time.Now())
	assert.Equal(t, TypeReplace, s.Type)
	assert.Equal(t, Before, s.Position)
	assert.Equal(t, "x", s.SuggestionText)
	assert.Nil(t, s.LineNumber)
	assert.False(t, s.LineBased())
}

func TestFallback(t *testing.T) {
	raw := Fallback(4, "The quarterly numbers", "")
	s := Normalize(raw, time.Now())
	assert.Equal(t, TypeLine, s.Type)
	assert.Equal(t, "The quarterly numbers (ruined by Cluppo)", *s.NewLine)
	assert.Equal(t, FallbackRationale, s.Rationale)

	assert.Equal(t, "picked (ruined by Cluppo)", Fallback(0, "", "picked")["newLine"])
	assert.Equal(t, FallbackBase+FallbackMarker, Fallback(0, "", "")["newLine"])
}
