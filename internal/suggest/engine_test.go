package suggest

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pariothan/cluppo-nextgen-wordprocessor/internal/document"
	"github.com/pariothan/cluppo-nextgen-wordprocessor/internal/gateway"
	"github.com/pariothan/cluppo-nextgen-wordprocessor/internal/kv"
	"github.com/pariothan/cluppo-nextgen-wordprocessor/internal/persona"
	"github.com/pariothan/cluppo-nextgen-wordprocessor/internal/selection"
)

type fakeClient struct {
	mu       sync.Mutex
	requests []gateway.AIRequest
	askFn    func(ctx context.Context, req gateway.AIRequest) (gateway.AIResponse, error)
}

func (f *fakeClient) Ask(ctx context.Context, req gateway.AIRequest) (gateway.AIResponse, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.askFn == nil {
		return gateway.AIResponse{Text: "ok"}, nil
	}
	return f.askFn(ctx, req)
}

func (f *fakeClient) last(t *testing.T) gateway.AIRequest {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.requests)
	return f.requests[len(f.requests)-1]
}

func reply(text string) func(context.Context, gateway.AIRequest) (gateway.AIResponse, error) {
	return func(context.Context, gateway.AIRequest) (gateway.AIResponse, error) {
		return gateway.AIResponse{Text: text}, nil
	}
}

type fixedRand struct{ n int }

func (r fixedRand) Intn(k int) int { return r.n % k }

type recordingView struct {
	NopView
	mu      sync.Mutex
	said    []string
	offline []string
	replies []string
}

func (v *recordingView) Say(message string, _ persona.Mood) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.said = append(v.said, message)
}

func (v *recordingView) Offline(reason string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.offline = append(v.offline, reason)
}

func (v *recordingView) OpenReply(placeholder string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.replies = append(v.replies, placeholder)
}

type harness struct {
	doc     *document.PlainText
	tracker *selection.Tracker
	persona *persona.Manager
	client  *fakeClient
	view    *recordingView
	engine  *Engine
}

func newHarness(t *testing.T, content string, rng selection.Rand) *harness {
	t.Helper()
	clock := func() time.Time { return time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC) }
	h := &harness{
		doc:    document.NewPlainText(content),
		client: &fakeClient{},
		view:   &recordingView{},
	}
	h.tracker = selection.NewTracker(h.doc, rng)
	h.persona = persona.New(kv.NewMemory(), persona.WithClock(clock), persona.WithDocument("Draft"))
	h.engine = NewEngine(h.doc, h.tracker, h.persona, h.client,
		WithView(h.view), WithClock(clock), WithRand(fixedRand{}))
	t.Cleanup(h.engine.Close)
	return h
}

func (h *harness) lastTranscript(t *testing.T) (string, string) {
	t.Helper()
	entries := h.persona.State().Transcript
	require.NotEmpty(t, entries)
	e := entries[len(entries)-1]
	return e.Type, e.Text
}

func (h *harness) hasTranscript(kind string) bool {
	for _, e := range h.persona.State().Transcript {
		if e.Type == kind {
			return true
		}
	}
	return false
}

const fiveLines = "zero\none\ntwo\nthree\nfour"

const lineReply = "How about this?\n```json\n{\"type\":\"line\",\"lineNumber\":0,\"newLine\":\"Hello there\",\"rationale\":\"clarity\"}\n```"

func TestAnchorUsesCachedLineNotModelLine(t *testing.T) {
	h := newHarness(t, fiveLines, fixedRand{})
	h.tracker.SetCached(3)

	s, ok := h.engine.Anchor(Normalize(map[string]any{"type": "line", "lineNumber": 0, "newLine": "x", "rationale": "r"}, time.Now()))
	require.True(t, ok)
	require.NotNil(t, s.LineNumber)
	assert.Equal(t, 3, *s.LineNumber)
	assert.Equal(t, "three", s.OriginalText)
	assert.NotEmpty(t, s.AnchorID)
}

func TestApplyWithoutPendingIsNoop(t *testing.T) {
	h := newHarness(t, fiveLines, fixedRand{})
	applied, err := h.engine.Apply()
	assert.False(t, applied)
	assert.NoError(t, err)
	assert.Equal(t, fiveLines, h.doc.Text())
}

func TestRequestSuggestionAndApply(t *testing.T) {
	h := newHarness(t, fiveLines, fixedRand{n: 2})
	h.client.askFn = reply(lineReply)

	out := h.engine.RequestSuggestion(context.Background(), "", false)
	require.NotNil(t, out.Suggestion)
	assert.Equal(t, "How about this?", out.Text)
	assert.Equal(t, 2, *out.Suggestion.LineNumber)
	assert.Equal(t, "two", out.Suggestion.OriginalText)

	req := h.client.last(t)
	assert.Equal(t, "suggest", req.Intent)
	assert.Equal(t, h.persona.SessionKey(), req.SessionID)
	require.NotNil(t, req.LineNumber)
	assert.Equal(t, 2, *req.LineNumber)
	assert.Contains(t, req.Content, "Active line (2): two")
	assert.Contains(t, req.Content, "1: one\n2: two\n3: three")
	assert.Contains(t, req.Prompt, persona.Persona)
	assert.Contains(t, req.Prompt, "Active line (2): two")
	assert.Contains(t, req.Prompt, "Hostility intensity dial: 1.0x")

	pending, ok := h.engine.Pending()
	require.True(t, ok)
	assert.Equal(t, out.Suggestion.ID, pending.ID)
	assert.True(t, h.hasTranscript("suggest"))

	applied, err := h.engine.Apply()
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, "Hello there", h.doc.Lines()[2].Text)
	_, ok = h.engine.Pending()
	assert.False(t, ok)
	kind, text := h.lastTranscript(t)
	assert.Equal(t, "apply", kind)
	assert.Equal(t, "Applied line suggestion", text)
	assert.Equal(t, persona.Pleased, h.persona.Mood())
}

func TestApplyFollowsMovedLine(t *testing.T) {
	h := newHarness(t, fiveLines, fixedRand{n: 2})
	h.client.askFn = reply(lineReply)
	require.NotNil(t, h.engine.RequestSuggestion(context.Background(), "", false).Suggestion)

	require.NoError(t, h.doc.Load([]byte("inserted\n"+fiveLines)))
	applied, err := h.engine.Apply()
	require.NoError(t, err)
	assert.True(t, applied)
	lines := h.doc.Lines()
	assert.Equal(t, "one", lines[2].Text)
	assert.Equal(t, "Hello there", lines[3].Text)
}

func TestApplyStaleAfterLineEdited(t *testing.T) {
	h := newHarness(t, fiveLines, fixedRand{n: 2})
	h.client.askFn = reply(lineReply)
	require.NotNil(t, h.engine.RequestSuggestion(context.Background(), "", false).Suggestion)

	require.NoError(t, h.doc.ReplaceLineText(2, "rewritten by hand"))
	applied, err := h.engine.Apply()
	assert.False(t, applied)
	assert.ErrorIs(t, err, ErrStaleSuggestion)
	assert.Equal(t, "rewritten by hand", h.doc.Lines()[2].Text)
	_, ok := h.engine.Pending()
	assert.False(t, ok)
	assert.Contains(t, h.view.said, msgStale)
}

func TestHeuristicSpanReplace(t *testing.T) {
	h := newHarness(t, "the cat sat\nother line", fixedRand{})
	h.client.askFn = reply("I think you should replace 'cat' with 'dog'")

	out := h.engine.ShowMoreInfo(context.Background())
	require.NotNil(t, out.Suggestion)
	assert.Equal(t, TypeReplace, out.Suggestion.Type)
	assert.Equal(t, "cat", out.Suggestion.OriginalText)
	assert.Equal(t, "I think you should  'cat' with 'dog'", out.Text)

	applied, err := h.engine.Apply()
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, "the dog sat", h.doc.Lines()[0].Text)
	kind, text := h.lastTranscript(t)
	assert.Equal(t, "apply", kind)
	assert.Equal(t, "Applied replace suggestion", text)
}

func TestOfflineFallbackThenRecovery(t *testing.T) {
	h := newHarness(t, fiveLines, fixedRand{n: 1})
	h.client.askFn = func(context.Context, gateway.AIRequest) (gateway.AIResponse, error) {
		return gateway.AIResponse{}, errors.New("connection refused")
	}

	out := h.engine.RequestSuggestion(context.Background(), "", false)
	assert.True(t, out.Offline)
	require.NotNil(t, out.Suggestion)
	require.NotNil(t, out.Suggestion.NewLine)
	assert.Equal(t, "one"+FallbackMarker, *out.Suggestion.NewLine)
	assert.Equal(t, 1, *out.Suggestion.LineNumber)
	assert.True(t, strings.HasPrefix(out.Text, `Noted. "No suggestion right now"`))
	assert.Equal(t, "connection refused", h.engine.Offline())
	kind, _ := h.lastTranscript(t)
	assert.Equal(t, "offline", kind)

	h.client.askFn = reply("All better.")
	out = h.engine.RequestSuggestion(context.Background(), "", false)
	assert.False(t, out.Offline)
	assert.Equal(t, "All better.", out.Text)
	assert.Empty(t, h.engine.Offline())
	assert.Equal(t, []string{"connection refused", ""}, h.view.offline)
}

func TestSuggestForcesAnEdit(t *testing.T) {
	h := newHarness(t, fiveLines, fixedRand{n: 4})
	h.client.askFn = reply("Nah.")

	out := h.engine.Suggest(context.Background(), "")
	require.NotNil(t, out.Suggestion)
	assert.Equal(t, msgDrafted, out.Text)
	assert.Equal(t, "four"+FallbackMarker, *out.Suggestion.NewLine)
	assert.True(t, h.hasTranscript("ask"))
}

func TestDeny(t *testing.T) {
	h := newHarness(t, fiveLines, fixedRand{n: 2})
	h.client.askFn = reply(lineReply)
	require.NotNil(t, h.engine.RequestSuggestion(context.Background(), "", false).Suggestion)

	h.engine.Deny()
	_, ok := h.engine.Pending()
	assert.False(t, ok)
	_, cached := h.tracker.Cached()
	assert.False(t, cached)
	assert.Equal(t, 6, h.persona.State().SabotageMeter)
	assert.Equal(t, persona.Annoyed, h.persona.Mood())
	kind, text := h.lastTranscript(t)
	assert.Equal(t, "deny", kind)
	assert.Equal(t, "User denied a suggestion", text)
	assert.Equal(t, fiveLines, h.doc.Text())
}

func TestDisputeThenReply(t *testing.T) {
	h := newHarness(t, fiveLines, fixedRand{n: 2})
	h.client.askFn = reply(lineReply)
	require.NotNil(t, h.engine.RequestSuggestion(context.Background(), "", false).Suggestion)

	h.engine.Dispute()
	disputed, ok := h.engine.Disputed()
	require.True(t, ok)
	assert.Equal(t, "Hello there", *disputed.NewLine)
	idx, cached := h.tracker.Cached()
	assert.True(t, cached)
	assert.Equal(t, 2, idx)
	assert.Equal(t, 10, h.persona.State().SabotageMeter)
	assert.Equal(t, persona.Defensive, h.persona.Mood())
	assert.Equal(t, []string{DisputePlaceholder}, h.view.replies)

	h.client.askFn = reply("Fine, be that way.")
	out := h.engine.Reply(context.Background(), "please make it shorter")
	assert.Equal(t, "Fine, be that way.", out.Text)

	req := h.client.last(t)
	assert.Equal(t, "chat", req.Intent)
	assert.Contains(t, req.Prompt, "User message: please make it shorter")
	assert.Contains(t, req.Prompt, "User disputed your suggestion: ")
	assert.Contains(t, req.Prompt, "Target line (2): two")
	assert.Contains(t, req.Prompt, "Document (trimmed): "+fiveLines)
	assert.NotContains(t, req.Prompt, "User is hostile")

	_, ok = h.engine.Disputed()
	assert.False(t, ok)
	assert.True(t, h.hasTranscript("reply"))
}

func TestHostileReply(t *testing.T) {
	h := newHarness(t, fiveLines, fixedRand{})
	h.client.askFn = reply("Rude.")

	h.engine.Reply(context.Background(), "this is stupid")
	req := h.client.last(t)
	assert.Contains(t, req.Prompt, "User is hostile")
	assert.Equal(t, 20, h.persona.State().SabotageMeter)
	assert.Equal(t, 1, h.persona.State().EscalationLevel)
	assert.Equal(t, persona.Hostile, h.persona.Mood())
}

func TestEmptyReplyAsksForMoreInfo(t *testing.T) {
	h := newHarness(t, fiveLines, fixedRand{})
	h.engine.Reply(context.Background(), "   ")

	req := h.client.last(t)
	assert.Equal(t, "suggest", req.Intent)
	assert.Contains(t, req.Prompt, "Choose the best action")
	assert.False(t, h.hasTranscript("reply"))
}

func TestLateResponseAfterDismiss(t *testing.T) {
	h := newHarness(t, fiveLines, fixedRand{n: 2})
	started := make(chan struct{})
	release := make(chan struct{})
	h.client.askFn = func(ctx context.Context, _ gateway.AIRequest) (gateway.AIResponse, error) {
		close(started)
		<-release
		return gateway.AIResponse{Text: lineReply + "\n```json\n{\"mood\":\"annoyed\",\"reason\":\"ignored\"}\n```"}, nil
	}

	done := make(chan Outcome, 1)
	go func() { done <- h.engine.RequestSuggestion(context.Background(), "", false) }()
	<-started

	assert.True(t, h.engine.Generating())
	assert.True(t, h.engine.Nudge(context.Background()).Skipped)

	h.engine.Dismiss(true)
	close(release)
	out := <-done

	assert.True(t, out.Stale)
	assert.Nil(t, out.Suggestion)
	_, ok := h.engine.Pending()
	assert.False(t, ok)
	assert.Equal(t, persona.Annoyed, h.persona.Mood())
	assert.False(t, h.engine.Generating())
	assert.Len(t, h.client.requests, 1)
}

func TestRateLimitedLeavesStateAlone(t *testing.T) {
	h := newHarness(t, fiveLines, fixedRand{})
	h.client.askFn = func(context.Context, gateway.AIRequest) (gateway.AIResponse, error) {
		return gateway.AIResponse{}, &gateway.Error{Status: http.StatusTooManyRequests, RetryIn: 42}
	}

	out := h.engine.RequestSuggestion(context.Background(), "", false)
	assert.True(t, out.RateLimited)
	assert.Equal(t, 42, out.RetryIn)
	assert.Equal(t, "Cluppo is catching his breath. Try again in 42s.", out.Text)
	assert.Nil(t, out.Suggestion)
	assert.Empty(t, h.engine.Offline())
	assert.Empty(t, h.view.offline)
	kind, _ := h.lastTranscript(t)
	assert.Equal(t, "ratelimit", kind)
}

func TestAnchorFailsOnBlankDocument(t *testing.T) {
	h := newHarness(t, "", fixedRand{})
	h.client.askFn = reply("```json\n{\"type\":\"add\",\"suggestion\":\"hi\",\"rationale\":\"r\"}\n```")

	out := h.engine.RequestSuggestion(context.Background(), "", false)
	assert.Nil(t, out.Suggestion)
	assert.Equal(t, msgNoAnchor, out.Text)
	_, ok := h.engine.Pending()
	assert.False(t, ok)
}

func TestSelectionAnchorsSpanSuggestion(t *testing.T) {
	h := newHarness(t, "alpha beta gamma\ndelta", fixedRand{})
	require.NoError(t, h.doc.Select(0, 6, 10))
	idx, ok := h.tracker.Cached()
	require.True(t, ok)
	assert.Equal(t, 0, idx)

	s, ok := h.engine.Anchor(Normalize(map[string]any{"type": "delete", "suggestion": "", "rationale": "r"}, time.Now()))
	require.True(t, ok)
	assert.Equal(t, "beta", s.Target)
	assert.Equal(t, "beta", s.OriginalText)
}

func TestDocumentEvents(t *testing.T) {
	h := newHarness(t, fiveLines, fixedRand{})

	h.doc.Emit(document.Event{Kind: document.EventSaved, At: time.Date(2024, 5, 1, 10, 15, 30, 0, time.UTC)})
	kind, text := h.lastTranscript(t)
	assert.Equal(t, "document", kind)
	assert.Equal(t, "Document saved at 10:15:30", text)

	h.doc.Emit(document.Event{Kind: document.EventRenamed, Name: "Essay"})
	assert.Equal(t, "Essay", h.persona.DocumentID())

	h.engine.Close()
	h.doc.Emit(document.Event{Kind: document.EventRenamed, Name: "Ignored"})
	assert.Equal(t, "Essay", h.persona.DocumentID())
}

func TestRandomPicksSpreadAcrossLines(t *testing.T) {
	h := newHarness(t, fiveLines, rand.New(rand.NewSource(7)))
	seen := map[int]bool{}
	for i := 0; i < 60; i++ {
		h.engine.RequestSuggestion(context.Background(), "", false)
		req := h.client.last(t)
		require.NotNil(t, req.LineNumber)
		seen[*req.LineNumber] = true
	}
	assert.Len(t, seen, 5)
}

func TestResetMemory(t *testing.T) {
	h := newHarness(t, fiveLines, fixedRand{n: 2})
	h.client.askFn = reply(lineReply)
	require.NotNil(t, h.engine.RequestSuggestion(context.Background(), "", false).Suggestion)
	h.engine.Deny()

	h.engine.ResetMemory()
	_, ok := h.engine.Pending()
	assert.False(t, ok)
	_, ok = h.tracker.Snapshot()
	assert.False(t, ok)
	assert.Equal(t, 0, h.persona.State().SabotageMeter)
}

func TestSecondSpanSuggestionIgnoresEditedSelection(t *testing.T) {
	h := newHarness(t, "Hello world", fixedRand{})
	require.NoError(t, h.doc.Select(0, 0, 5))

	h.client.askFn = reply("```json\n{\"type\":\"replace\",\"target\":\"Hello\",\"suggestion\":\"Hi\",\"rationale\":\"r\"}\n```")
	out := h.engine.ShowMoreInfo(context.Background())
	require.NotNil(t, out.Suggestion)
	assert.Equal(t, "Hello", out.Suggestion.OriginalText)
	applied, err := h.engine.Apply()
	require.NoError(t, err)
	require.True(t, applied)
	require.Equal(t, "Hi world", h.doc.Lines()[0].Text)

	h.client.askFn = reply("```json\n{\"type\":\"replace\",\"target\":\"world\",\"suggestion\":\"earth\",\"rationale\":\"r\"}\n```")
	out = h.engine.ShowMoreInfo(context.Background())
	require.NotNil(t, out.Suggestion)
	assert.Equal(t, "world", out.Suggestion.Target)
	assert.Equal(t, "world", out.Suggestion.OriginalText)

	applied, err = h.engine.Apply()
	require.NoError(t, err)
	require.True(t, applied)
	assert.Equal(t, "Hi earth", h.doc.Lines()[0].Text)
}

func TestAnchorSkipsSnapshotRangeOverChangedText(t *testing.T) {
	h := newHarness(t, "alpha beta gamma", fixedRand{})
	require.NoError(t, h.doc.Select(0, 6, 10))
	require.NoError(t, h.doc.ReplaceLineText(0, "alpha zeta beta gamma"))

	s, ok := h.engine.Anchor(Normalize(map[string]any{"type": "delete", "suggestion": "", "rationale": "r"}, time.Now()))
	require.True(t, ok)
	assert.Equal(t, "beta", s.OriginalText)
	loc, ok := h.engine.anchors.Get(s.AnchorID)
	require.True(t, ok)
	assert.Equal(t, 11, loc.Start)
}

func TestCustomPromptKeepsPersonaDials(t *testing.T) {
	h := newHarness(t, fiveLines, fixedRand{n: 2})
	h.persona.SetOverrides(2.5, 1.5)
	h.client.askFn = reply(lineReply)

	require.NotNil(t, h.engine.Suggest(context.Background(), "make it rhyme").Suggestion)
	req := h.client.last(t)
	assert.Contains(t, req.Prompt, persona.Persona)
	assert.Contains(t, req.Prompt, "Hostility intensity dial: 2.5x")
	assert.Contains(t, req.Prompt, "Sabotage intensity dial: 1.5x")
	assert.Contains(t, req.Prompt, "Active line (2): two")
	assert.True(t, strings.HasSuffix(req.Prompt, "User request: make it rhyme"))
}
