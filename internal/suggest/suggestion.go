// Package suggest turns model output into reviewable edits and drives their
// lifecycle against a document surface.
package suggest

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	TypeLine    Type = "line"
	TypeReplace Type = "replace"
	TypeDelete  Type = "delete"
	TypeAdd     Type = "add"
)

type Position string

const (
	Before Position = "before"
	After  Position = "after"
)

const (
	FallbackMarker     = " (ruined by Cluppo)"
	FallbackBase       = "Write something sharper here."
	FallbackRationale  = "Quick fallback suggestion so you always get an edit."
	HeuristicRationale = "Heuristic suggestion parsed from message."
)

// Suggestion is one proposed change. LineNumber and NewLine are only set for
// line suggestions; AnchorID refers to the engine's anchor index.
type Suggestion struct {
	ID             string   `json:"id"`
	Type           Type     `json:"type"`
	LineNumber     *int     `json:"lineNumber,omitempty"`
	NewLine        *string  `json:"newLine,omitempty"`
	Target         string   `json:"target,omitempty"`
	Suggestion     *string  `json:"suggestion,omitempty"`
	SuggestionText string   `json:"suggestionText"`
	Position       Position `json:"position"`
	Rationale      string   `json:"rationale,omitempty"`
	AnchorID       string   `json:"anchorId,omitempty"`
	OriginalText   string   `json:"originalText,omitempty"`
	CreatedAt      int64    `json:"createdAt"`
}

// LineBased reports whether the suggestion rewrites a whole line.
func (s Suggestion) LineBased() bool {
	return s.Type == TypeLine || s.LineNumber != nil
}

// Text is the replacement content for span suggestions.
func (s Suggestion) Text() string {
	if s.Suggestion != nil {
		return *s.Suggestion
	}
	return s.SuggestionText
}

// Replacement is the new text for a line suggestion; current is used when
// the model supplied nothing.
func (s Suggestion) Replacement(current string) string {
	switch {
	case s.NewLine != nil:
		return *s.NewLine
	case s.Suggestion != nil:
		return *s.Suggestion
	case s.SuggestionText != "":
		return s.SuggestionText
	default:
		return current
	}
}

func (s Suggestion) JSON() string {
	data, err := json.Marshal(s)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// Normalize fills defaults on a raw suggestion object: lineNumber falls back
// to line, newLine to suggestionText, and the type is inferred from the
// presence of a line number when missing or unknown.
func Normalize(raw map[string]any, now time.Time) Suggestion {
	lineNumber, hasLine := intField(raw, "lineNumber")
	if !hasLine {
		lineNumber, hasLine = intField(raw, "line")
	}
	newLine, hasNewLine := stringField(raw, "newLine")
	suggestionText, hasText := stringField(raw, "suggestionText")
	if !hasNewLine && hasText {
		newLine, hasNewLine = suggestionText, true
	}
	sug, hasSug := stringField(raw, "suggestion")
	if !hasSug && hasText {
		sug, hasSug = suggestionText, true
	}
	if !hasText {
		switch {
		case hasSug && sug != "":
			suggestionText = sug
		case hasNewLine:
			suggestionText = newLine
		}
	}

	typ := Type(strings.ToLower(str(raw["type"])))
	switch typ {
	case TypeLine, TypeReplace, TypeDelete, TypeAdd:
	default:
		if hasLine {
			typ = TypeLine
		} else {
			typ = TypeReplace
		}
	}

	pos := Position(strings.ToLower(str(raw["position"])))
	if pos != Before {
		pos = After
	}

	out := Suggestion{
		ID:             str(raw["id"]),
		Type:           typ,
		Target:         str(raw["target"]),
		SuggestionText: suggestionText,
		Position:       pos,
		Rationale:      str(raw["rationale"]),
		CreatedAt:      now.UnixMilli(),
	}
	if out.ID == "" {
		out.ID = uuid.NewString()
	}
	if hasLine {
		out.LineNumber = &lineNumber
	}
	if hasNewLine {
		out.NewLine = &newLine
	}
	if hasSug {
		out.Suggestion = &sug
	}
	return out
}

// Fallback synthesizes the line suggestion used when one was promised but
// none could be parsed: the line's text with a fixed marker appended.
func Fallback(lineIndex int, lineText, selectionText string) map[string]any {
	base := lineText
	if base == "" {
		base = selectionText
	}
	if base == "" {
		base = FallbackBase
	}
	return map[string]any{
		"type":       string(TypeLine),
		"lineNumber": lineIndex,
		"newLine":    base + FallbackMarker,
		"rationale":  FallbackRationale,
	}
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func stringField(raw map[string]any, key string) (string, bool) {
	v, ok := raw[key]
	if !ok || v == nil {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(t), true
	}
	return "", false
}

func intField(raw map[string]any, key string) (int, bool) {
	v, ok := raw[key]
	if !ok || v == nil {
		return 0, false
	}
	switch t := v.(type) {
	case int:
		return t, true
	case float64:
		return int(t), true
	case json.Number:
		n, err := t.Int64()
		return int(n), err == nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		return n, err == nil
	}
	return 0, false
}
