package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/pariothan/cluppo-nextgen-wordprocessor/internal/persona"
	"github.com/pariothan/cluppo-nextgen-wordprocessor/internal/suggest"
)

var (
	dim     = color.New(color.Faint)
	warn    = color.New(color.FgYellow)
	failure = color.New(color.FgRed, color.Bold)
	accent  = color.New(color.FgCyan, color.Bold)
)

func moodColor(m persona.Mood) *color.Color {
	switch m {
	case persona.Hostile:
		return color.New(color.FgRed, color.Bold)
	case persona.Annoyed, persona.Defensive:
		return color.New(color.FgRed)
	case persona.Concerned:
		return color.New(color.FgYellow)
	case persona.Happy, persona.Pleased, persona.Excited:
		return color.New(color.FgGreen)
	case persona.Helpful, persona.Engaged:
		return color.New(color.FgCyan)
	case persona.Curious:
		return color.New(color.FgMagenta)
	default:
		return color.New(color.FgWhite)
	}
}

// termView prints engine output as coloured lines.
type termView struct {
	out io.Writer
}

func (v termView) Loading() {
	dim.Fprintln(v.out, "Cluppo is thinking...")
}

func (v termView) Say(message string, expression persona.Mood) {
	moodColor(expression).Fprintf(v.out, "Cluppo (%s): ", expression)
	fmt.Fprintln(v.out, message)
}

func (v termView) ShowSuggestion(s suggest.Suggestion) {
	accent.Fprintln(v.out, "Suggestion")
	if s.LineBased() && s.LineNumber != nil {
		fmt.Fprintf(v.out, "  line %d: %s\n", *s.LineNumber, s.OriginalText)
		fmt.Fprintf(v.out, "       -> %s\n", s.Replacement(s.OriginalText))
	} else {
		target := s.Target
		if target == "" {
			target = s.OriginalText
		}
		fmt.Fprintf(v.out, "  %s %q: %s\n", s.Type, target, s.Text())
	}
	if s.Rationale != "" {
		dim.Fprintf(v.out, "  why: %s\n", s.Rationale)
	}
	dim.Fprintln(v.out, "  apply | deny | dispute")
}

func (v termView) HideSuggestion() {}

func (v termView) Offline(reason string) {
	if reason == "" {
		dim.Fprintln(v.out, "Gateway reachable again.")
		return
	}
	warn.Fprintf(v.out, "Offline: %s\n", reason)
}

func (v termView) OpenReply(placeholder string) {
	dim.Fprintf(v.out, "reply <text>  (%s)\n", strings.TrimSpace(placeholder))
}
