package persona

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/pariothan/cluppo-nextgen-wordprocessor/internal/kv"
	"github.com/pariothan/cluppo-nextgen-wordprocessor/internal/logger"
	"github.com/pariothan/cluppo-nextgen-wordprocessor/internal/transcript"
)

const module = "persona"

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithLogger(l logger.Logger) Option {
	return func(m *Manager) { m.log = l }
}

func WithDocument(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.documentID = name
		}
	}
}

// Manager owns the live persona state for the current document session.
// Persistence is best effort: storage failures are logged and swallowed.
type Manager struct {
	mu         sync.Mutex
	store      kv.Store
	log        logger.Logger
	now        func() time.Time
	documentID string
	state      State
	global     GlobalState
}

func New(store kv.Store, opts ...Option) *Manager {
	m := &Manager{
		store:      store,
		log:        logger.Nop(),
		now:        time.Now,
		documentID: DefaultDocumentName,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.state = DefaultState(m.nowMs())
	m.global = DefaultGlobal()
	m.mu.Lock()
	m.loadLocked()
	m.mu.Unlock()
	return m
}

func (m *Manager) nowMs() int64 { return m.now().UnixMilli() }

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.clone()
}

func (m *Manager) Global() GlobalState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.global.clone()
}

func (m *Manager) Mood() Mood {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Mood
}

func (m *Manager) Overrides() Overrides {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.PersonaOverrides
}

func (m *Manager) DocumentID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.documentID
}

func (m *Manager) SessionKey() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return SessionKey(m.documentID)
}

// SetMood records a mood change. Once the session has escalated, any request
// resolves to hostile. Asking for hostile escalates the session (and the
// global mirror when opted in) and bumps the sabotage meter.
func (m *Manager) SetMood(mood Mood, reason string) Mood {
	m.mu.Lock()
	defer m.mu.Unlock()

	if mood == "" {
		mood = Neutral
	}
	requested := mood
	if m.state.EscalationLevel > 0 && mood != Hostile {
		mood = Hostile
	}
	if requested == Hostile {
		m.state.EscalationLevel++
		if m.state.PersistMemory {
			m.global.EscalationLevel++
		}
		m.bumpLocked(HostileSabotageBump)
	}

	m.state.Mood = mood
	m.state.LastUpdated = m.nowMs()
	if reason != "" {
		m.rememberLocked(fmt.Sprintf("%s (mood:%s, escalations:%d)", reason, mood, m.state.EscalationLevel))
	}
	m.saveLocked()
	return mood
}

// Remember appends to the bounded memory log.
func (m *Manager) Remember(event string) {
	if event == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rememberLocked(event)
	m.saveLocked()
}

// RememberOpinion stores a model-volunteered opinion.
func (m *Manager) RememberOpinion(opinion string) {
	if opinion == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Opinions = tailStrings(append(m.state.Opinions, opinion), OpinionCap)
	if m.state.PersistMemory {
		m.global.Opinions = tailStrings(append(m.global.Opinions, opinion), OpinionCap)
	}
	m.rememberLocked("Opinion: " + opinion)
	m.saveLocked()
}

func (m *Manager) rememberLocked(event string) {
	entry := Memory{Event: event, At: m.nowMs()}
	m.state.Memories = tailMemories(append(m.state.Memories, entry), MemoryCap)
	if m.state.PersistMemory {
		m.global.Memories = tailMemories(append(m.global.Memories, entry), GlobalMemoryCap)
	}
}

// BumpSabotage adds amount to the meter, clamped to [0,100], and returns the
// new value. Negative amounts are ignored so the meter never decreases.
func (m *Manager) BumpSabotage(amount int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bumpLocked(amount)
	m.saveLocked()
	return m.state.SabotageMeter
}

func (m *Manager) bumpLocked(amount int) {
	if amount < 0 {
		amount = 0
	}
	next := m.state.SabotageMeter + amount
	if next > MaxSabotage || next < m.state.SabotageMeter {
		next = MaxSabotage
	}
	m.state.SabotageMeter = clampSabotage(next)
}

// SetOverrides updates the persona dials; invalid values reset to 1.
func (m *Manager) SetOverrides(hostility, sabotage float64) Overrides {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.PersonaOverrides = normalizeOverrides(Overrides{Hostility: hostility, Sabotage: sabotage})
	m.saveLocked()
	return m.state.PersonaOverrides
}

// LogTranscript appends an entry; empty text is ignored.
func (m *Manager) LogTranscript(kind, text string, meta map[string]any) {
	if text == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logLocked(kind, text, meta)
	m.saveLocked()
}

func (m *Manager) logLocked(kind, text string, meta map[string]any) {
	if meta == nil {
		meta = map[string]any{}
	}
	m.state.Transcript = transcript.Append(m.state.Transcript, transcript.NewEntry(kind, text, meta, m.now()), transcript.ClientCap)
}

func (m *Manager) ClearTranscript() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Transcript = []transcript.Entry{}
	m.saveLocked()
}

// TogglePersistMemory opts in or out of cross-document memory. Opting out
// deletes the stored global state and resets it in memory.
func (m *Manager) TogglePersistMemory(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.PersistMemory = enabled
	if enabled {
		m.global = m.readGlobalLocked()
	} else {
		if err := m.store.Delete(GlobalKey); err != nil {
			m.log.Warn(module, "failed to clear global state", map[string]interface{}{"error": err.Error()})
		}
		m.global = DefaultGlobal()
	}
	state := "DISABLED"
	if enabled {
		state = "ENABLED"
	}
	m.logLocked("config", fmt.Sprintf("Memory persistence %s (experimental)", state), nil)
	m.saveLocked()
}

// ResetMemory wipes the session and global blobs and starts over from
// factory defaults.
func (m *Manager) ResetMemory() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range []string{SessionKey(m.documentID), GlobalKey} {
		if err := m.store.Delete(key); err != nil {
			m.log.Warn(module, "failed to delete state", map[string]interface{}{"key": key, "error": err.Error()})
		}
	}
	m.state = DefaultState(m.nowMs())
	m.global = DefaultGlobal()
	m.logLocked("config", "Memory reset to factory settings.", nil)
	m.saveLocked()
}

// SetDocumentContext saves the current session, switches to name's session
// key and loads it. A document without saved state starts from defaults but
// keeps the user's dial and memory preferences.
func (m *Manager) SetDocumentContext(name string) {
	if name == "" {
		name = DefaultDocumentName
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveLocked()
	m.documentID = name
	m.loadLocked()
}

func (m *Manager) loadLocked() {
	prefs := m.state
	next := DefaultState(m.nowMs())
	next.PersonaOverrides = prefs.PersonaOverrides
	next.PersistMemory = prefs.PersistMemory

	key := SessionKey(m.documentID)
	data, err := m.store.Get(key)
	switch {
	case err == nil:
		loaded, derr := DecodeState(data, m.nowMs())
		if derr != nil {
			m.log.Warn(module, "discarding unreadable session state", map[string]interface{}{"key": key, "error": derr.Error()})
		} else {
			next = loaded
		}
	case errors.Is(err, kv.ErrNotFound):
	default:
		m.log.Warn(module, "failed to read session state", map[string]interface{}{"key": key, "error": err.Error()})
	}
	m.state = next

	if m.state.PersistMemory {
		m.global = m.readGlobalLocked()
	} else {
		m.global = DefaultGlobal()
	}
}

func (m *Manager) readGlobalLocked() GlobalState {
	data, err := m.store.Get(GlobalKey)
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			m.log.Warn(module, "failed to read global state", map[string]interface{}{"error": err.Error()})
		}
		return DefaultGlobal()
	}
	g, err := DecodeGlobal(data)
	if err != nil {
		m.log.Warn(module, "discarding unreadable global state", map[string]interface{}{"error": err.Error()})
		return DefaultGlobal()
	}
	return g
}

func (m *Manager) saveLocked() {
	key := SessionKey(m.documentID)
	if data, err := json.Marshal(m.state); err == nil {
		if err := m.store.Set(key, data); err != nil {
			m.log.Warn(module, "failed to persist session state", map[string]interface{}{"key": key, "error": err.Error()})
		}
	}
	if !m.state.PersistMemory {
		return
	}
	if data, err := json.Marshal(m.global); err == nil {
		if err := m.store.Set(GlobalKey, data); err != nil {
			m.log.Warn(module, "failed to persist global state", map[string]interface{}{"error": err.Error()})
		}
	}
}

// ExportPayload is the portable snapshot of a session.
type ExportPayload struct {
	Session    State       `json:"session"`
	Global     GlobalState `json:"global"`
	DocumentID string      `json:"documentId"`
	ExportedAt string      `json:"exportedAt"`
}

func (m *Manager) Export() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	payload := ExportPayload{
		Session:    m.state.clone(),
		Global:     m.global.clone(),
		DocumentID: m.documentID,
		ExportedAt: m.now().UTC().Format("2006-01-02T15:04:05.000Z"),
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal export: %w", err)
	}
	m.logLocked("export", "Exported haunting state", nil)
	m.saveLocked()
	return data, nil
}

// Import merges an exported payload over the live state. Nothing changes if
// either part fails validation. Escalation levels never drop below the live
// ones. source names where the payload came from.
func (m *Manager) Import(data []byte, source string) error {
	var payload struct {
		Session json.RawMessage `json:"session"`
		Global  json.RawMessage `json:"global"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("malformed import: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	state := m.state
	global := m.global
	if len(payload.Session) > 0 && string(payload.Session) != "null" {
		merged, err := mergeState(m.state, payload.Session)
		if err != nil {
			return err
		}
		state = merged
	}
	if len(payload.Global) > 0 && string(payload.Global) != "null" {
		merged, err := mergeGlobal(m.global, payload.Global)
		if err != nil {
			return err
		}
		global = merged
	}
	// escalation only ever grows
	state.EscalationLevel = max(state.EscalationLevel, m.state.EscalationLevel)
	global.EscalationLevel = max(global.EscalationLevel, m.global.EscalationLevel)
	m.state = normalizeState(state)
	m.global = global
	if source == "" {
		source = "import"
	}
	m.logLocked("import", "Imported haunting from "+source, nil)
	m.saveLocked()
	return nil
}

// Intensity scales the escalation visuals: 1 + 0.12 per effective escalation,
// capped at 2.5. Global escalation beyond the session's counts half.
func (m *Manager) Intensity() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	combined := float64(m.state.EscalationLevel)
	if m.state.PersistMemory {
		combined += math.Max(0, float64(m.global.EscalationLevel-m.state.EscalationLevel)) * 0.5
	}
	return math.Min(1+combined*0.12, 2.5)
}
