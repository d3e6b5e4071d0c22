package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pariothan/cluppo-nextgen-wordprocessor/internal/document"
	"github.com/pariothan/cluppo-nextgen-wordprocessor/internal/persona"
	"github.com/pariothan/cluppo-nextgen-wordprocessor/internal/selection"
	"github.com/pariothan/cluppo-nextgen-wordprocessor/internal/suggest"
	"github.com/pariothan/cluppo-nextgen-wordprocessor/internal/transcript"
)

const helpText = `commands:
  suggest [prompt]     ask for a suggestion on the active line
  force [prompt]       ask for an edit, no chatter allowed
  nudge                pick a random line and suggest
  more                 ask for more detail on the active line
  apply | deny | dispute
  reply <text>         answer after a dispute
  select <line> [start end]
  unselect             clear the selection
  lines                list document lines
  transcript           local transcript
  server-transcript    transcript kept by the gateway
  clear-transcript
  mood                 mood, sabotage and escalation
  dials <hostility> <sabotage>
  persist on|off       share memory across documents
  reset                wipe persona memory
  rename <name>        switch the document session
  export <file> | import <file>
  save | quit`

type selectable interface {
	Select(lineIdx, start, end int) error
	ClearSelection()
}

// transcriptSource is the gateway's read side.
type transcriptSource interface {
	Transcript(ctx context.Context, sessionID string) ([]transcript.Entry, error)
}

type repl struct {
	doc     *document.FileSurface
	tracker *selection.Tracker
	engine  *suggest.Engine
	persona *persona.Manager
	server  transcriptSource
	out     io.Writer
}

func (r *repl) run(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(r.out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(r.out)
			return scanner.Err()
		}
		if quit := r.exec(ctx, scanner.Text()); quit {
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// exec runs one command line and reports whether the loop should stop.
func (r *repl) exec(ctx context.Context, line string) bool {
	cmd, rest, _ := strings.Cut(strings.TrimSpace(line), " ")
	rest = strings.TrimSpace(rest)
	args := strings.Fields(rest)

	switch strings.ToLower(cmd) {
	case "":
	case "help", "?":
		fmt.Fprintln(r.out, helpText)
	case "quit", "exit":
		return true
	case "suggest":
		r.report(r.engine.RequestSuggestion(ctx, rest, false))
	case "force":
		r.report(r.engine.Suggest(ctx, rest))
	case "nudge":
		r.report(r.engine.Nudge(ctx))
	case "more":
		r.report(r.engine.ShowMoreInfo(ctx))
	case "reply":
		if rest == "" {
			warn.Fprintln(r.out, "usage: reply <text>")
			return false
		}
		r.report(r.engine.Reply(ctx, rest))
	case "apply":
		r.apply()
	case "deny":
		r.engine.Deny()
	case "dispute":
		r.engine.Dispute()
	case "select":
		r.selectCmd(args)
	case "unselect":
		if s, ok := r.doc.Editable.(selectable); ok {
			s.ClearSelection()
		}
	case "lines":
		r.printLines()
	case "transcript":
		fmt.Fprintln(r.out, transcript.Render(r.persona.State().Transcript, nil))
	case "server-transcript":
		entries, err := r.server.Transcript(ctx, r.persona.SessionKey())
		if err != nil {
			failure.Fprintf(r.out, "gateway: %v\n", err)
			return false
		}
		fmt.Fprintln(r.out, transcript.Render(entries, nil))
	case "clear-transcript":
		r.persona.ClearTranscript()
	case "mood":
		st := r.persona.State()
		moodColor(st.Mood).Fprintf(r.out, "%s", st.Mood)
		fmt.Fprintf(r.out, "  sabotage %d/%d  escalation %d  intensity %.2f\n",
			st.SabotageMeter, persona.MaxSabotage, st.EscalationLevel, r.persona.Intensity())
	case "dials":
		r.dials(args)
	case "persist":
		switch strings.ToLower(rest) {
		case "on":
			r.persona.TogglePersistMemory(true)
		case "off":
			r.persona.TogglePersistMemory(false)
		default:
			warn.Fprintln(r.out, "usage: persist on|off")
		}
	case "reset":
		r.engine.ResetMemory()
		dim.Fprintln(r.out, "Memory wiped.")
	case "rename":
		if rest == "" {
			warn.Fprintln(r.out, "usage: rename <name>")
			return false
		}
		r.doc.Rename(rest)
	case "export":
		r.export(rest)
	case "import":
		r.importFile(rest)
	case "save":
		if err := r.doc.Save(); err != nil {
			failure.Fprintf(r.out, "save: %v\n", err)
		}
	default:
		warn.Fprintf(r.out, "unknown command %q, try help\n", cmd)
	}
	return false
}

func (r *repl) report(o suggest.Outcome) {
	switch {
	case o.Skipped:
		dim.Fprintln(r.out, "Still working on the last one.")
	case o.RateLimited:
		warn.Fprintf(r.out, "Rate limited, retry in %ds.\n", o.RetryIn)
	case o.Stale:
		dim.Fprintln(r.out, "(late reply discarded)")
	}
}

func (r *repl) apply() {
	applied, err := r.engine.Apply()
	switch {
	case errors.Is(err, suggest.ErrStaleSuggestion), errors.Is(err, suggest.ErrNotApplicable):
		return
	case err != nil:
		failure.Fprintf(r.out, "apply: %v\n", err)
	case !applied:
		dim.Fprintln(r.out, "Nothing to apply.")
	default:
		if err := r.doc.Autosave(); err != nil {
			failure.Fprintf(r.out, "autosave: %v\n", err)
		}
	}
}

func (r *repl) selectCmd(args []string) {
	s, ok := r.doc.Editable.(selectable)
	if !ok {
		warn.Fprintln(r.out, "this document does not support selection")
		return
	}
	if len(args) != 1 && len(args) != 3 {
		warn.Fprintln(r.out, "usage: select <line> [start end]")
		return
	}
	nums := make([]int, len(args))
	for i, a := range args {
		n, err := strconv.Atoi(a)
		if err != nil {
			warn.Fprintf(r.out, "not a number: %q\n", a)
			return
		}
		nums[i] = n
	}
	idx, start, end := nums[0], 0, -1
	if len(nums) == 3 {
		start, end = nums[1], nums[2]
	} else {
		lines := r.doc.Lines()
		if idx >= 0 && idx < len(lines) {
			end = len([]rune(lines[idx].Text))
		}
	}
	if err := s.Select(idx, start, end); err != nil {
		failure.Fprintf(r.out, "select: %v\n", err)
	}
}

func (r *repl) printLines() {
	active, hasActive := r.tracker.Cached()
	for _, l := range r.doc.Lines() {
		marker := " "
		if hasActive && l.Index == active {
			marker = "*"
		}
		fmt.Fprintf(r.out, "%s%3d  %s\n", marker, l.Index, l.Text)
	}
}

func (r *repl) dials(args []string) {
	if len(args) != 2 {
		warn.Fprintln(r.out, "usage: dials <hostility> <sabotage>")
		return
	}
	h, err1 := strconv.ParseFloat(args[0], 64)
	s, err2 := strconv.ParseFloat(args[1], 64)
	if err1 != nil || err2 != nil {
		warn.Fprintln(r.out, "dials must be numbers")
		return
	}
	o := r.persona.SetOverrides(h, s)
	fmt.Fprintf(r.out, "hostility x%.2f, sabotage x%.2f\n", o.Hostility, o.Sabotage)
}

func (r *repl) export(path string) {
	if path == "" {
		warn.Fprintln(r.out, "usage: export <file>")
		return
	}
	data, err := r.persona.Export()
	if err != nil {
		failure.Fprintf(r.out, "export: %v\n", err)
		return
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		failure.Fprintf(r.out, "export: %v\n", err)
		return
	}
	fmt.Fprintf(r.out, "Exported to %s\n", path)
}

func (r *repl) importFile(path string) {
	if path == "" {
		warn.Fprintln(r.out, "usage: import <file>")
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		failure.Fprintf(r.out, "import: %v\n", err)
		return
	}
	if err := r.persona.Import(data, path); err != nil {
		failure.Fprintf(r.out, "import: %v\n", err)
		return
	}
	fmt.Fprintf(r.out, "Imported %s\n", path)
}
