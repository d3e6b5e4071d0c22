// Package persona owns the assistant's mood, escalation, sabotage meter,
// memories and transcript, persisted per document session and, when the user
// opts in, across documents.
package persona

import (
	"regexp"
	"strings"

	"github.com/pariothan/cluppo-nextgen-wordprocessor/internal/transcript"
)

type Mood string

const (
	Neutral   Mood = "neutral"
	Curious   Mood = "curious"
	Helpful   Mood = "helpful"
	Happy     Mood = "happy"
	Excited   Mood = "excited"
	Pleased   Mood = "pleased"
	Engaged   Mood = "engaged"
	Defensive Mood = "defensive"
	Annoyed   Mood = "annoyed"
	Concerned Mood = "concerned"
	Hostile   Mood = "hostile"
)

const (
	SchemaVersion = 1

	GlobalKey           = "cluppo_state_global_v1"
	SessionPrefix       = "cluppo_state_v1_"
	DefaultDocumentName = "Untitled Document"

	MemoryCap       = 30
	GlobalMemoryCap = 50
	OpinionCap      = 20
	MaxSabotage     = 100

	HostileSabotageBump = 8
)

type Memory struct {
	Event string `json:"event"`
	At    int64  `json:"at"`
}

// Overrides are the persona dials forwarded into every prompt.
type Overrides struct {
	Hostility float64 `json:"hostility"`
	Sabotage  float64 `json:"sabotage"`
}

func DefaultOverrides() Overrides { return Overrides{Hostility: 1, Sabotage: 1} }

// State is the per-document-session persona state. Timestamps are epoch ms.
type State struct {
	Version          int                `json:"version"`
	Mood             Mood               `json:"mood"`
	Memories         []Memory           `json:"memories"`
	Opinions         []string           `json:"opinions"`
	LastUpdated      int64              `json:"lastUpdated"`
	EscalationLevel  int                `json:"escalationLevel"`
	SabotageMeter    int                `json:"sabotageMeter"`
	Transcript       []transcript.Entry `json:"transcript"`
	PersonaOverrides Overrides          `json:"personaOverrides"`
	PersistMemory    bool               `json:"persistMemory"`
}

// GlobalState is shared across documents when PersistMemory is on.
type GlobalState struct {
	Version         int      `json:"version"`
	EscalationLevel int      `json:"escalationLevel"`
	Memories        []Memory `json:"memories"`
	Opinions        []string `json:"opinions"`
}

func DefaultState(now int64) State {
	return State{
		Version:          SchemaVersion,
		Mood:             Neutral,
		Memories:         []Memory{},
		Opinions:         []string{},
		LastUpdated:      now,
		Transcript:       []transcript.Entry{},
		PersonaOverrides: DefaultOverrides(),
	}
}

func DefaultGlobal() GlobalState {
	return GlobalState{Version: SchemaVersion, Memories: []Memory{}, Opinions: []string{}}
}

func (s State) clone() State {
	out := s
	out.Memories = append([]Memory{}, s.Memories...)
	out.Opinions = append([]string{}, s.Opinions...)
	out.Transcript = append([]transcript.Entry{}, s.Transcript...)
	return out
}

func (g GlobalState) clone() GlobalState {
	out := g
	out.Memories = append([]Memory{}, g.Memories...)
	out.Opinions = append([]string{}, g.Opinions...)
	return out
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// SessionKey derives the storage key for a document name: lowercased, runs of
// non [a-z0-9] collapsed to "_", cut to 80 characters.
func SessionKey(name string) string {
	if name == "" {
		name = "untitled"
	}
	safe := nonAlnum.ReplaceAllString(strings.ToLower(name), "_")
	if len(safe) > 80 {
		safe = safe[:80]
	}
	if safe == "" {
		safe = "untitled"
	}
	return SessionPrefix + safe
}

func tailMemories(m []Memory, limit int) []Memory {
	if len(m) > limit {
		return append([]Memory{}, m[len(m)-limit:]...)
	}
	return m
}

func tailStrings(s []string, limit int) []string {
	if len(s) > limit {
		return append([]string{}, s[len(s)-limit:]...)
	}
	return s
}
