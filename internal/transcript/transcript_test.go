package transcript

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendDropsOldestFirst(t *testing.T) {
	var entries []Entry
	for i := 0; i < ClientCap+5; i++ {
		entries = Append(entries, Entry{Type: "ai", Text: string(rune('a' + i%26)), At: int64(i)}, ClientCap)
	}
	require.Len(t, entries, ClientCap)
	assert.Equal(t, int64(5), entries[0].At)
	assert.Equal(t, int64(ClientCap+4), entries[len(entries)-1].At)
}

func TestAppendDoesNotAliasInput(t *testing.T) {
	base := []Entry{{Type: "a"}, {Type: "b"}}
	out := Append(base, Entry{Type: "c"}, 2)
	assert.Equal(t, "a", base[0].Type)
	assert.Equal(t, []string{"b", "c"}, []string{out[0].Type, out[1].Type})
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "héll", Truncate("héllo", 4))
	assert.Equal(t, "hi", Truncate("hi", 10))
}

func TestRenderNewestFirst(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	entries := []Entry{
		NewEntry("deny", "first", nil, at),
		NewEntry("ai", "second", nil, at.Add(time.Second)),
	}
	out := Render(entries, time.UTC)
	lines := strings.Split(out, "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "[03:04:06] AI: second", lines[0])
	assert.Equal(t, "[03:04:05] DENY: first", lines[1])
	assert.Equal(t, "(no transcript yet)", Render(nil, time.UTC))
}
