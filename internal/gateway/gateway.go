// Package gateway holds the /api/ai wire contract shared by the HTTP service
// and its clients, plus the server-side session rules.
package gateway

import (
	"errors"
	"fmt"
	"time"

	"github.com/pariothan/cluppo-nextgen-wordprocessor/internal/transcript"
)

const (
	HostilityStep      = 5
	MaxHostility       = 100
	DefaultHelpfulness = 10

	// SessionTTL applies to state and transcript and is refreshed on every touch.
	SessionTTL = 24 * time.Hour

	DefaultRateLimit  = 20
	DefaultRateWindow = 60 * time.Second
)

var ErrRateLimited = errors.New("rate limited")

// AIRequest is the POST /api/ai body.
type AIRequest struct {
	Prompt     string `json:"prompt"`
	Intent     string `json:"intent,omitempty"`
	Selection  string `json:"selection,omitempty"`
	Content    string `json:"content,omitempty"`
	SessionID  string `json:"sessionId" validate:"required,max=200"`
	LineNumber *int   `json:"lineNumber,omitempty" validate:"omitempty,min=0"`
}

// AIResponse is the POST /api/ai success body.
type AIResponse struct {
	Text       string             `json:"text"`
	State      *SessionState      `json:"state,omitempty"`
	Transcript []transcript.Entry `json:"transcript,omitempty"`
}

// TranscriptResponse is the GET /api/transcript body.
type TranscriptResponse struct {
	Transcript []transcript.Entry `json:"transcript"`
}

// ErrorBody is the error shape written by the service.
type ErrorBody struct {
	Code           string `json:"code,omitempty"`
	Message        string `json:"error"`
	Details        any    `json:"details,omitempty"`
	Detail         string `json:"detail,omitempty"`
	RetryInSeconds int    `json:"retryInSeconds,omitempty"`
}

// SessionState is the server's per-session persona counters.
type SessionState struct {
	Mood             string `json:"mood"`
	SabotageScore    int    `json:"sabotageScore"`
	HostilityLevel   int    `json:"hostilityLevel"`
	HelpfulnessLevel int    `json:"helpfulnessLevel"`
	SuggestionsTotal int    `json:"suggestionsTotal"`
	LastLine         *int   `json:"lastLine"`
}

func DefaultSessionState() SessionState {
	return SessionState{Mood: "playful", HelpfulnessLevel: DefaultHelpfulness}
}

// MoodFor derives the session mood from the hostility level.
func MoodFor(hostility int) string {
	switch {
	case hostility >= 70:
		return "hostile"
	case hostility >= 40:
		return "annoyed"
	default:
		return "playful"
	}
}

// Advance records one successful completion.
func (s SessionState) Advance(lineNumber *int) SessionState {
	s.SuggestionsTotal++
	s.SabotageScore++
	s.HostilityLevel += HostilityStep
	if s.HostilityLevel > MaxHostility {
		s.HostilityLevel = MaxHostility
	}
	if s.HostilityLevel < 0 {
		s.HostilityLevel = 0
	}
	s.Mood = MoodFor(s.HostilityLevel)
	if lineNumber != nil {
		n := *lineNumber
		s.LastLine = &n
	}
	return s
}

// Describe renders the numeric state for the system message.
func (s SessionState) Describe() string {
	last := "none"
	if s.LastLine != nil {
		last = fmt.Sprintf("%d", *s.LastLine)
	}
	return fmt.Sprintf("Session state: mood=%s, hostility=%d/100, sabotage=%d, helpfulness=%d, suggestions=%d, lastLine=%s.",
		s.Mood, s.HostilityLevel, s.SabotageScore, s.HelpfulnessLevel, s.SuggestionsTotal, last)
}

// NewTranscriptEntry builds the server-side log entry for a completion.
func NewTranscriptEntry(intent, text string, lineNumber *int, at time.Time) transcript.Entry {
	kind := intent
	if kind == "" {
		kind = "chat"
	}
	var line any
	if lineNumber != nil {
		line = *lineNumber
	}
	return transcript.NewEntry(kind, transcript.Truncate(text, transcript.ServerTextLimit), map[string]any{"lineNumber": line}, at)
}

// Window identifies a fixed rate-limit window.
func Window(now time.Time, window time.Duration) int64 {
	secs := int64(window / time.Second)
	if secs <= 0 {
		secs = 1
	}
	return now.Unix() / secs
}

// RetryIn is the number of whole seconds until the current window ends.
func RetryIn(now time.Time, window time.Duration) int {
	secs := int64(window / time.Second)
	if secs <= 0 {
		secs = 1
	}
	remaining := secs - now.Unix()%secs
	if remaining <= 0 {
		remaining = 1
	}
	return int(remaining)
}

// RateDecision is the outcome of counting a request against its window.
type RateDecision struct {
	Allowed bool
	Count   int64
	RetryIn int
}
