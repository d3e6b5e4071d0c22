package suggest

import (
	"encoding/json"
	"regexp"
	"strings"
)

// MoodUpdate is the emotion block the model appends to a reply.
type MoodUpdate struct {
	Mood    string `json:"mood"`
	Reason  string `json:"reason,omitempty"`
	Opinion string `json:"opinion,omitempty"`
}

// Parsed is the structured view of one model response.
type Parsed struct {
	Raw       map[string]any
	Mood      *MoodUpdate
	Remainder string
	Heuristic bool
}

var fenceRE = regexp.MustCompile("(?is)```json(.*?)```")

type block struct {
	raw    string
	parsed map[string]any
}

// Parse extracts a suggestion object and a mood update from text. Fenced
// ```json blocks are preferred; without any, bare balanced objects are
// considered. The first object carrying type plus suggestion or rationale is
// the suggestion, the first other object carrying mood is the mood update,
// and both are cut from the remainder. Without a structured suggestion the
// edit-verb heuristic is tried on what is left.
func Parse(text string) Parsed {
	out := Parsed{Remainder: text}
	if text == "" {
		return out
	}

	cleaned := text
	for _, b := range extractBlocks(text) {
		_, hasType := b.parsed["type"]
		_, hasSug := b.parsed["suggestion"]
		_, hasWhy := b.parsed["rationale"]
		switch {
		case out.Raw == nil && hasType && (hasSug || hasWhy):
			out.Raw = b.parsed
			cleaned = strings.TrimSpace(strings.Replace(cleaned, b.raw, "", 1))
		case out.Mood == nil && str(b.parsed["mood"]) != "":
			out.Mood = &MoodUpdate{
				Mood:    str(b.parsed["mood"]),
				Reason:  str(b.parsed["reason"]),
				Opinion: str(b.parsed["opinion"]),
			}
			cleaned = strings.TrimSpace(strings.Replace(cleaned, b.raw, "", 1))
		}
	}
	out.Remainder = cleaned

	if out.Raw == nil {
		if raw, ok := Heuristic(cleaned); ok {
			out.Raw = raw
			out.Heuristic = true
			out.Remainder = HeuristicRemainder(cleaned)
		}
	}
	return out
}

func extractBlocks(text string) []block {
	var blocks []block
	for _, m := range fenceRE.FindAllStringSubmatch(text, -1) {
		var parsed map[string]any
		if err := json.Unmarshal([]byte(strings.TrimSpace(m[1])), &parsed); err == nil && parsed != nil {
			blocks = append(blocks, block{raw: m[0], parsed: parsed})
		}
	}
	if len(blocks) > 0 {
		return blocks
	}
	for _, raw := range bareObjects(text) {
		var parsed map[string]any
		if err := json.Unmarshal([]byte(raw), &parsed); err == nil && parsed != nil {
			blocks = append(blocks, block{raw: raw, parsed: parsed})
		}
	}
	return blocks
}

// bareObjects returns the top-level balanced {...} spans of text, skipping
// braces inside JSON strings.
func bareObjects(text string) []string {
	var out []string
	depth, start := 0, -1
	inString, escaped := false, false
	for i := 0; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 {
				out = append(out, text[start:i+1])
				start = -1
			}
		}
	}
	return out
}

const term = `(?:"([^"]+)"|'([^']+)'|“([^”]+)”|([^\s"'“”.,;:!?]+))`

var (
	replaceRE = regexp.MustCompile(`(?i)\breplace\s+` + term + `\s+with\s+` + term)
	deleteRE  = regexp.MustCompile(`(?i)\b(?:delete|remove|drop)\s+` + term)
	addRE     = regexp.MustCompile(`(?i)\b(?:add|insert|include)\s+` + term)
	verbRE    = regexp.MustCompile(`(?i)\b(?:replace|delete|remove|drop|add|insert|include)\b`)
)

// firstGroup returns the first non-empty capture among groups[from:from+4].
func firstGroup(groups []string, from int) string {
	for i := from; i < from+4 && i < len(groups); i++ {
		if groups[i] != "" {
			return strings.TrimSpace(groups[i])
		}
	}
	return ""
}

// Heuristic recognizes "replace X with Y", "delete|remove|drop X" and
// "add|insert|include X" in prose, in that priority order. X and Y are
// either quoted or a single word.
func Heuristic(text string) (map[string]any, bool) {
	if m := replaceRE.FindStringSubmatch(text); m != nil {
		return map[string]any{
			"type":       string(TypeReplace),
			"target":     firstGroup(m, 1),
			"suggestion": firstGroup(m, 5),
			"rationale":  HeuristicRationale,
		}, true
	}
	if m := deleteRE.FindStringSubmatch(text); m != nil {
		return map[string]any{
			"type":       string(TypeDelete),
			"target":     firstGroup(m, 1),
			"suggestion": "",
			"rationale":  HeuristicRationale,
		}, true
	}
	if m := addRE.FindStringSubmatch(text); m != nil {
		return map[string]any{
			"type":       string(TypeAdd),
			"target":     "",
			"suggestion": firstGroup(m, 1),
			"rationale":  HeuristicRationale,
		}, true
	}
	return nil, false
}

// HeuristicRemainder is text with its first edit verb removed.
func HeuristicRemainder(text string) string {
	loc := verbRE.FindStringIndex(text)
	if loc == nil {
		return strings.TrimSpace(text)
	}
	return strings.TrimSpace(text[:loc[0]] + text[loc[1]:])
}
