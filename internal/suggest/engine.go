package suggest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pariothan/cluppo-nextgen-wordprocessor/internal/anchor"
	"github.com/pariothan/cluppo-nextgen-wordprocessor/internal/document"
	"github.com/pariothan/cluppo-nextgen-wordprocessor/internal/gateway"
	"github.com/pariothan/cluppo-nextgen-wordprocessor/internal/logger"
	"github.com/pariothan/cluppo-nextgen-wordprocessor/internal/persona"
	"github.com/pariothan/cluppo-nextgen-wordprocessor/internal/selection"
)

const module = "suggest"

var (
	// ErrStaleSuggestion means the anchored line or span no longer exists.
	ErrStaleSuggestion = errors.New("suggestion is stale")
	// ErrNotApplicable means the pending suggestion has no usable anchor.
	ErrNotApplicable = errors.New("suggestion cannot be applied")
)

const (
	msgSpeechless    = "Cluppo is speechless."
	msgDrafted       = "I drafted a quick change for you."
	msgReview        = "I have a change you can review."
	msgNoAnchor      = "Could not anchor that suggestion."
	msgOfflineQueued = "Offline sabotage suggestion queued."
	msgApplied       = "Applied that change."
	msgCannotApply   = "That suggestion cannot be applied right now."
	msgStale         = "That suggestion can't be applied anymore (the text moved or changed)."

	DisputePlaceholder = "Explain what you want changed..."

	denySabotage         = 6
	disputeSabotage      = 10
	hostileReplySabotage = 12
)

// Client sends a prompt to the gateway. *gateway.Client satisfies it.
type Client interface {
	Ask(ctx context.Context, req gateway.AIRequest) (gateway.AIResponse, error)
}

// View receives everything the engine wants shown. Implementations must not
// call back into the engine.
type View interface {
	Loading()
	Say(message string, expression persona.Mood)
	ShowSuggestion(s Suggestion)
	HideSuggestion()
	Offline(reason string)
	OpenReply(placeholder string)
}

type NopView struct{}

func (NopView) Loading() {}
func (NopView) Say(string, persona.Mood) {}
func (NopView) ShowSuggestion(Suggestion) {}
func (NopView) HideSuggestion() {}
func (NopView) Offline(string) {}
func (NopView) OpenReply(string) {}

// Outcome reports what a request ended up showing.
type Outcome struct {
	Text        string
	Suggestion  *Suggestion
	Offline     bool
	RateLimited bool
	RetryIn     int
	// Stale is set when the response arrived after a dismiss or document
	// switch; it only updated persisted mood and transcript.
	Stale bool
	// Skipped is set when another request was already in flight.
	Skipped bool
}

type Option func(*Engine)

func WithView(v View) Option {
	return func(e *Engine) { e.view = v }
}

func WithLogger(l logger.Logger) Option {
	return func(e *Engine) { e.log = l }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithRand(r selection.Rand) Option {
	return func(e *Engine) { e.rng = r }
}

func WithContextRadius(n int) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.radius = n
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// Engine owns the pending suggestion and talks to the gateway. One request
// runs at a time; a second caller is turned away rather than queued.
type Engine struct {
	surface document.Surface
	tracker *selection.Tracker
	persona *persona.Manager
	client  Client
	anchors *anchor.Index

	view    View
	log     logger.Logger
	now     func() time.Time
	rng     selection.Rand
	radius  int
	timeout time.Duration

	mu         sync.Mutex
	generating bool
	generation uint64
	pending    *Suggestion
	disputed   *Suggestion
	offline    string

	unsubscribe []func()
}

func NewEngine(surface document.Surface, tracker *selection.Tracker, p *persona.Manager, client Client, opts ...Option) *Engine {
	e := &Engine{
		surface: surface,
		tracker: tracker,
		persona: p,
		client:  client,
		anchors: anchor.NewIndex(),
		view:    NopView{},
		log:     logger.Nop(),
		now:     time.Now,
		radius:  1,
		timeout: 60 * time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.rng == nil {
		e.rng = selection.NewRand(0)
	}
	e.unsubscribe = []func(){
		surface.On(document.EventSelectionChanged, func(document.Event) { e.tracker.Capture() }),
		surface.On(document.EventContentChanged, func(document.Event) { e.tracker.Revalidate() }),
		surface.On(document.EventSaved, e.logDocumentEvent),
		surface.On(document.EventLoaded, e.logDocumentEvent),
		surface.On(document.EventAutosaved, e.logDocumentEvent),
		surface.On(document.EventRenamed, func(ev document.Event) { e.SetDocumentContext(ev.Name) }),
	}
	return e
}

// Close detaches the engine from the surface's events.
func (e *Engine) Close() {
	for _, un := range e.unsubscribe {
		un()
	}
	e.unsubscribe = nil
}

func (e *Engine) logDocumentEvent(ev document.Event) {
	at := ev.At
	if at.IsZero() {
		at = e.now()
	}
	e.persona.LogTranscript("document", fmt.Sprintf("Document %s at %s", ev.Kind, at.Format("15:04:05")), map[string]any{"kind": string(ev.Kind)})
}

// Pending returns the suggestion awaiting a decision.
func (e *Engine) Pending() (Suggestion, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pending == nil {
		return Suggestion{}, false
	}
	return *e.pending, true
}

// Disputed returns the suggestion retained for a follow-up reply.
func (e *Engine) Disputed() (Suggestion, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disputed == nil {
		return Suggestion{}, false
	}
	return *e.disputed, true
}

// Offline returns the last failure reason, or "" once a call succeeded.
func (e *Engine) Offline() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.offline
}

func (e *Engine) Generating() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.generating
}

func (e *Engine) begin() (uint64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.generating {
		return 0, false
	}
	e.generating = true
	return e.generation, true
}

func (e *Engine) end() {
	e.mu.Lock()
	e.generating = false
	e.mu.Unlock()
}

func (e *Engine) isStale(gen uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return gen != e.generation
}

func (e *Engine) bumpGeneration() {
	e.mu.Lock()
	e.generation++
	e.mu.Unlock()
}

type lineContext struct {
	lines  []document.Line
	idx    int
	ok     bool
	text   string
	window string
}

func (e *Engine) lineContext(forceRandom bool) lineContext {
	lines := e.surface.Lines()
	idx, ok := e.tracker.ActiveLineIndex(forceRandom)
	lc := lineContext{lines: lines, idx: idx, ok: ok}
	if ok && idx >= 0 && idx < len(lines) {
		lc.text = lines[idx].Text
	}
	lc.window = document.ContextWindow(lines, idx, ok, e.radius)
	return lc
}

// RequestSuggestion asks for a line edit on a freshly picked random line.
// customPrompt is added to the built prompt as the user's own request. force
// synthesizes a fallback edit when the model returns none.
func (e *Engine) RequestSuggestion(ctx context.Context, customPrompt string, force bool) Outcome {
	return e.requestWith(ctx, force, func(lc lineContext, sel string) string {
		lines := suggestLines(lc, sel)
		if custom := strings.TrimSpace(customPrompt); custom != "" {
			lines = append(lines, "User request: "+custom)
		}
		return persona.BuildPrompt(lines, e.persona.Overrides())
	})
}

// Nudge is the proactive "say something about a random line" request.
func (e *Engine) Nudge(ctx context.Context) Outcome {
	return e.requestWith(ctx, false, func(lc lineContext, sel string) string {
		return persona.BuildPrompt(nudgeLines(lc, sel), e.persona.Overrides())
	})
}

// Suggest is the explicit user request: the old suggestion's anchor is torn
// down, and an edit is always produced.
func (e *Engine) Suggest(ctx context.Context, customPrompt string) Outcome {
	if e.Generating() {
		return Outcome{Skipped: true}
	}
	e.dismiss(false)
	e.persona.SetMood(persona.Helpful, "User requested suggestion")
	e.persona.LogTranscript("ask", "User explicitly asked for a suggestion", nil)
	return e.RequestSuggestion(ctx, customPrompt, true)
}

func (e *Engine) requestWith(ctx context.Context, force bool, build func(lineContext, string) string) Outcome {
	gen, ok := e.begin()
	if !ok {
		return Outcome{Skipped: true}
	}
	defer e.end()

	e.tracker.ClearCache()
	lc := e.lineContext(true)
	prompt := build(lc, e.tracker.SelectionText())
	return e.ask(ctx, gen, askParams{
		prompt:   prompt,
		intent:   "suggest",
		fallback: func() string { return persona.ComposeReply("No suggestion right now", e.rng.Intn) },
		expect:   true,
		force:    force,
	})
}

// ShowMoreInfo lets the model pick between a comment, a question, a
// conversation opener or a suggestion for a random line.
func (e *Engine) ShowMoreInfo(ctx context.Context) Outcome {
	gen, ok := e.begin()
	if !ok {
		return Outcome{Skipped: true}
	}
	defer e.end()
	return e.showMoreInfo(ctx, gen)
}

func (e *Engine) showMoreInfo(ctx context.Context, gen uint64) Outcome {
	e.tracker.ClearCache()
	lc := e.lineContext(true)
	prompt := persona.BuildPrompt(moreInfoLines(lc, e.tracker.SelectionText()), e.persona.Overrides())
	e.persona.SetMood(persona.Curious, "Asked for more info")
	return e.ask(ctx, gen, askParams{
		prompt:   prompt,
		intent:   "suggest",
		fallback: func() string { return persona.ComposeReply("Tell me more", e.rng.Intn) },
	})
}

// Reply sends the user's free text. Empty text asks for more info instead.
// Any disputed suggestion is included as context and cleared afterwards.
func (e *Engine) Reply(ctx context.Context, text string) Outcome {
	gen, ok := e.begin()
	if !ok {
		return Outcome{Skipped: true}
	}
	defer e.end()

	text = strings.TrimSpace(text)
	if text == "" {
		return e.showMoreInfo(ctx, gen)
	}
	e.dismiss(false)
	e.persona.LogTranscript("reply", text, nil)

	hostile := persona.IsHostileText(text)
	if hostile {
		e.persona.SetMood(persona.Hostile, "User hostility detected")
		e.persona.BumpSabotage(hostileReplySabotage)
	}

	e.mu.Lock()
	disputed, pending := e.disputed, e.pending
	e.mu.Unlock()

	in := replyInput{
		text:      text,
		selection: e.tracker.SelectionText(),
		hostile:   hostile,
		sabotage:  persona.SabotageInstruction(e.persona.Overrides()),
		disputed:  disputed,
		pending:   pending,
		document:  document.PromptText(e.surface),
	}
	if disputed != nil {
		if idx, ok := e.tracker.Cached(); ok {
			lines := e.surface.Lines()
			if idx >= 0 && idx < len(lines) {
				in.targetLine = fmt.Sprintf("Target line (%d): %s", idx, lines[idx].Text)
			}
		}
	}
	prompt := persona.BuildPrompt(replyLines(in), e.persona.Overrides())

	e.persona.SetMood(persona.Engaged, "Reply sent")
	out := e.ask(ctx, gen, askParams{
		prompt:   prompt,
		intent:   "chat",
		fallback: func() string { return persona.ComposeReply(text, e.rng.Intn) },
	})

	e.mu.Lock()
	e.disputed = nil
	e.mu.Unlock()
	return out
}

type askParams struct {
	prompt   string
	intent   string
	fallback func() string
	expect   bool
	force    bool
}

func (e *Engine) ask(ctx context.Context, gen uint64, p askParams) Outcome {
	e.view.Loading()
	e.persona.SetMood(persona.Curious, "Loading response")

	lc := e.lineContext(false)
	sel := e.tracker.SelectionText()
	target := sel
	if target == "" {
		target = lc.text
	}
	req := gateway.AIRequest{
		Prompt:    p.prompt,
		Intent:    p.intent,
		Selection: sel,
		Content:   fmt.Sprintf("Active line (%s): %s\nContext (read-only):\n%s", lc.label(), target, lc.window),
		SessionID: e.persona.SessionKey(),
	}
	if lc.ok {
		n := lc.idx
		req.LineNumber = &n
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	resp, err := e.client.Ask(callCtx, req)
	cancel()
	if err != nil {
		return e.handleFailure(gen, err, p)
	}
	return e.handleResponse(gen, resp, p)
}

func (e *Engine) handleResponse(gen uint64, resp gateway.AIResponse, p askParams) Outcome {
	text := resp.Text
	if text == "" {
		text = msgSpeechless
	}
	parsed := Parse(text)
	raw, remainder := parsed.Raw, parsed.Remainder
	if raw == nil && p.force {
		raw = e.fallback()
		remainder = msgDrafted
	}

	if e.isStale(gen) {
		shown := remainder
		if shown == "" {
			shown = text
		}
		e.applyMood(parsed.Mood)
		e.persona.LogTranscript("ai", shown, map[string]any{"stale": true})
		return Outcome{Text: shown, Stale: true}
	}

	e.setOffline("")
	var out Outcome
	if raw != nil {
		if s, ok := e.Anchor(Normalize(raw, e.now())); ok {
			e.render(s)
			msg := remainder
			if msg == "" {
				msg = msgReview
			}
			e.say(msg, persona.Excited)
			e.persona.LogTranscript("ai", msg, map[string]any{"suggestion": s})
			out = Outcome{Text: msg, Suggestion: &s}
		} else {
			e.dismiss(true)
			e.say(msgNoAnchor, persona.Concerned)
			out = Outcome{Text: msgNoAnchor}
		}
	} else {
		e.dismiss(true)
		msg := remainder
		if msg == "" {
			msg = text
		}
		e.say(msg, persona.Excited)
		e.persona.LogTranscript("ai", msg, nil)
		out = Outcome{Text: msg}
	}
	e.applyMood(parsed.Mood)
	return out
}

func (e *Engine) handleFailure(gen uint64, err error, p askParams) Outcome {
	stale := e.isStale(gen)
	if retry, ok := gateway.IsRateLimited(err); ok {
		msg := fmt.Sprintf("Cluppo is catching his breath. Try again in %ds.", retry)
		e.persona.LogTranscript("ratelimit", msg, map[string]any{"retryInSeconds": retry})
		if !stale {
			e.view.Say(msg, persona.Concerned)
		}
		return Outcome{Text: msg, RateLimited: true, RetryIn: retry, Stale: stale}
	}

	reason := err.Error()
	e.log.Warn(module, "AI request failed", map[string]interface{}{"error": reason, "stale": stale})
	if stale {
		e.persona.LogTranscript("offline", "AI unavailable: "+reason, map[string]any{"stale": true})
		return Outcome{Text: "AI unavailable: " + reason, Offline: true, Stale: true}
	}

	e.setOffline(reason)
	var raw map[string]any
	if p.expect || p.force {
		raw = e.fallback()
	}
	text := ""
	if p.fallback != nil {
		text = p.fallback()
	}
	if text == "" {
		if raw != nil {
			text = msgOfflineQueued
		} else {
			text = "AI unavailable: " + reason
		}
	}

	if raw != nil {
		if s, ok := e.Anchor(Normalize(raw, e.now())); ok {
			e.render(s)
			e.say(text, persona.Concerned)
			e.persona.LogTranscript("offline", text, map[string]any{"suggestion": s})
			return Outcome{Text: text, Suggestion: &s, Offline: true}
		}
	}
	e.dismiss(true)
	e.say(text, persona.Concerned)
	e.persona.LogTranscript("offline", text, nil)
	return Outcome{Text: text, Offline: true}
}

func (e *Engine) applyMood(m *MoodUpdate) {
	if m == nil || m.Mood == "" {
		return
	}
	reason := m.Reason
	if reason == "" {
		reason = "AI mood update"
	}
	e.persona.SetMood(persona.Mood(strings.ToLower(m.Mood)), reason)
	if m.Opinion != "" {
		e.persona.RememberOpinion(m.Opinion)
	}
}

func (e *Engine) setOffline(reason string) {
	e.mu.Lock()
	changed := e.offline != reason
	e.offline = reason
	e.mu.Unlock()
	if changed {
		e.view.Offline(reason)
	}
}

func (e *Engine) say(message string, expression persona.Mood) {
	e.view.Say(message, expression)
	e.persona.Remember("Said: " + message)
}

// fallback builds the promised edit from the active line.
func (e *Engine) fallback() map[string]any {
	lines := e.surface.Lines()
	idx, ok := e.tracker.ActiveLineIndex(false)
	if !ok || idx < 0 || idx >= len(lines) {
		return Fallback(0, "", e.tracker.SelectionText())
	}
	return Fallback(lines[idx].Index, lines[idx].Text, e.tracker.SelectionText())
}

// Anchor pins s to the document. Line suggestions always land on the
// tracker's cached active line, whatever line number the model claimed. Span
// suggestions prefer the captured selection, then the target text, then the
// live selection, then the end of the document. It reports false when no
// anchor point exists.
func (e *Engine) Anchor(s Suggestion) (Suggestion, bool) {
	e.mu.Lock()
	if e.pending != nil && e.pending.AnchorID != "" {
		e.anchors.Remove(e.pending.AnchorID)
	}
	e.mu.Unlock()

	snap, hasSnap := e.tracker.Snapshot()
	if s.Target == "" && hasSnap {
		s.Target = snap.Text
	}
	lines := e.surface.Lines()

	if s.LineBased() {
		idx, ok := e.tracker.Cached()
		if !ok {
			idx, ok = e.tracker.ActiveLineIndex(false)
		}
		if !ok {
			return s, false
		}
		loc, ok := anchor.ForLine(lines, idx)
		if !ok {
			return s, false
		}
		n := loc.LineIndex
		s.Type = TypeLine
		s.LineNumber = &n
		s.OriginalText = loc.LineText
		s.AnchorID = e.anchors.Put(loc)
		return s, true
	}

	var (
		loc   anchor.Locator
		found bool
	)
	if hasSnap && !snap.Range.Collapsed() {
		loc, found = rangeMatching(lines, snap.Range, snap.Text)
	}
	if !found && s.Target != "" {
		loc, found = anchor.Search(lines, s.Target)
	}
	if !found {
		if sel, ok := e.surface.Selection(); ok && !sel.Range.Collapsed() {
			loc, found = rangeMatching(lines, sel.Range, strings.TrimSpace(sel.Text))
		}
	}
	if !found && strings.TrimSpace(e.surface.Text()) != "" {
		loc, found = anchor.EndOfDocument(lines)
	}
	if !found {
		return s, false
	}
	s.AnchorID = e.anchors.Put(loc)
	s.OriginalText = loc.Text
	return s, true
}

// rangeMatching anchors r only while it still covers text.
func rangeMatching(lines []document.Line, r document.Range, text string) (anchor.Locator, bool) {
	if text == "" || !strings.EqualFold(selection.RangeText(lines, r), text) {
		return anchor.Locator{}, false
	}
	return anchor.ForRange(lines, r)
}

func (e *Engine) render(s Suggestion) {
	e.mu.Lock()
	e.pending = &s
	e.mu.Unlock()

	e.persona.SetMood(persona.Helpful, "Prepared a suggestion")
	e.view.ShowSuggestion(s)

	where := s.Target
	if s.Type == TypeLine && s.LineNumber != nil {
		where = fmt.Sprintf("line %d", *s.LineNumber)
	} else if where == "" {
		where = "(selection)"
	}
	meta := map[string]any{
		"suggestion": s.Text(),
		"rationale":  s.Rationale,
		"position":   string(s.Position),
	}
	if s.LineNumber != nil {
		meta["lineNumber"] = *s.LineNumber
		meta["suggestion"] = s.Replacement("")
	}
	e.persona.LogTranscript("suggest", fmt.Sprintf("%s | %s", s.Type, where), meta)
}

// Apply performs the pending suggestion. With nothing pending it does
// nothing. A suggestion whose anchor no longer resolves is discarded and
// ErrStaleSuggestion is returned.
func (e *Engine) Apply() (bool, error) {
	e.mu.Lock()
	p := e.pending
	e.mu.Unlock()
	if p == nil {
		return false, nil
	}
	if p.AnchorID == "" {
		e.dismiss(true)
		e.say(msgCannotApply, persona.Concerned)
		return false, ErrNotApplicable
	}

	lines := e.surface.Lines()
	loc, err := e.anchors.Resolve(p.AnchorID, lines)
	if err != nil {
		return false, e.stale(err)
	}

	var next string
	if p.LineBased() {
		next = p.Replacement(lines[loc.LineIndex].Text)
	} else {
		next = spliceSpan(lines[loc.LineIndex].Text, loc.Start, loc.End, *p)
	}
	if err := e.surface.ReplaceLineText(loc.LineIndex, next); err != nil {
		return false, e.stale(err)
	}

	e.dismiss(true)
	e.persona.SetMood(persona.Pleased, "Suggestion approved")
	e.say(msgApplied, persona.Happy)
	if p.LineBased() {
		e.persona.LogTranscript("apply", "Applied line suggestion", map[string]any{"lineNumber": loc.LineIndex})
	} else {
		e.persona.LogTranscript("apply", fmt.Sprintf("Applied %s suggestion", p.Type), map[string]any{"anchorId": p.AnchorID, "position": string(p.Position)})
	}
	return true, nil
}

func (e *Engine) stale(cause error) error {
	e.dismiss(true)
	e.say(msgStale, persona.Concerned)
	return fmt.Errorf("%w: %v", ErrStaleSuggestion, cause)
}

// Dismiss tears down the pending suggestion's anchor. With clearState the
// suggestion and the cached active line are dropped too, and any response
// still in flight will not be shown.
func (e *Engine) Dismiss(clearState bool) {
	e.dismiss(clearState)
	if clearState {
		e.bumpGeneration()
	}
}

func (e *Engine) dismiss(clearState bool) {
	e.mu.Lock()
	if e.pending != nil && e.pending.AnchorID != "" {
		e.anchors.Remove(e.pending.AnchorID)
	}
	if clearState {
		e.pending = nil
	}
	e.mu.Unlock()
	if clearState {
		e.tracker.ClearCache()
	}
	e.view.HideSuggestion()
}

// Deny rejects the pending suggestion.
func (e *Engine) Deny() {
	e.persona.SetMood(persona.Annoyed, "Suggestion denied")
	e.Dismiss(true)
	e.persona.BumpSabotage(denySabotage)
	e.persona.LogTranscript("deny", "User denied a suggestion", nil)
}

// Dispute keeps the pending suggestion as context for the next Reply and
// keeps the active line cached so the follow-up targets the same line.
func (e *Engine) Dispute() {
	e.mu.Lock()
	if e.pending != nil {
		d := *e.pending
		e.disputed = &d
	} else {
		e.disputed = nil
	}
	e.mu.Unlock()

	e.dismiss(false)
	e.view.OpenReply(DisputePlaceholder)
	e.persona.SetMood(persona.Defensive, "User disputed a suggestion")
	e.persona.BumpSabotage(disputeSabotage)
	e.persona.LogTranscript("dispute", "User disputed a suggestion", nil)
}

// SetDocumentContext switches persona state to another document. Responses
// still in flight are not shown.
func (e *Engine) SetDocumentContext(name string) {
	e.Dismiss(true)
	e.persona.SetDocumentContext(name)
}

// ResetMemory wipes persona state and forgets the selection.
func (e *Engine) ResetMemory() {
	e.Dismiss(true)
	e.mu.Lock()
	e.disputed = nil
	e.mu.Unlock()
	e.tracker.Reset()
	e.persona.ResetMemory()
}
