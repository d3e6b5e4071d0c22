package suggest

import (
	"strings"
	"unicode"
)

// padSuggestionText keeps the target's leading and trailing whitespace
// around the replacement.
func padSuggestionText(target, text string) string {
	trimmedLeft := strings.TrimLeftFunc(target, unicode.IsSpace)
	before := target[:len(target)-len(trimmedLeft)]
	after := ""
	if trimmedLeft != "" {
		trimmed := strings.TrimRightFunc(target, unicode.IsSpace)
		after = target[len(trimmed):]
	}
	return before + text + after
}

func isSpaceOrPunct(r rune) bool {
	return unicode.IsSpace(r) || strings.ContainsRune(",.;:!?", r)
}

// buildInsert adds a separating space on either side of text when the
// neighbouring rune is not whitespace and text does not already start or
// end with whitespace or punctuation. A zero rune means no neighbour.
func buildInsert(prev, next rune, text string) string {
	if text == "" {
		return text
	}
	runes := []rune(text)
	insert := text
	if prev != 0 && !unicode.IsSpace(prev) && !isSpaceOrPunct(runes[0]) {
		insert = " " + insert
	}
	if next != 0 && !unicode.IsSpace(next) && !isSpaceOrPunct(runes[len(runes)-1]) {
		insert = insert + " "
	}
	return insert
}

// spliceSpan applies a span suggestion to line. start and end are rune
// offsets of the anchored span.
func spliceSpan(line string, start, end int, s Suggestion) string {
	runes := []rune(line)
	start = clampInt(start, 0, len(runes))
	end = clampInt(end, start, len(runes))
	before, span, after := string(runes[:start]), string(runes[start:end]), string(runes[end:])

	switch s.Type {
	case TypeDelete:
		if strings.HasSuffix(before, " ") && strings.HasPrefix(after, " ") {
			after = after[1:]
		}
		if before == "" {
			after = strings.TrimLeft(after, " ")
		}
		if after == "" {
			before = strings.TrimRight(before, " ")
		}
		return before + after
	case TypeAdd:
		at := end
		if s.Position == Before {
			at = start
		}
		var prev, next rune
		if at > 0 {
			prev = runes[at-1]
		}
		if at < len(runes) {
			next = runes[at]
		}
		return string(runes[:at]) + buildInsert(prev, next, s.Text()) + string(runes[at:])
	default:
		return before + padSuggestionText(span, s.Text()) + after
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
