package persona

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/pariothan/cluppo-nextgen-wordprocessor/internal/transcript"
)

//go:embed schema/*.json
var schemaFS embed.FS

var (
	stateSchema  = mustCompile("schema/state.json")
	globalSchema = mustCompile("schema/global.json")
)

var ErrUnsupportedVersion = errors.New("unsupported state version")

func mustCompile(name string) *jsonschema.Schema {
	data, err := schemaFS.ReadFile(name)
	if err != nil {
		panic(fmt.Sprintf("read %s: %v", name, err))
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, bytes.NewReader(data)); err != nil {
		panic(fmt.Sprintf("add schema resource %s: %v", name, err))
	}
	schema, err := compiler.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("compile schema %s: %v", name, err))
	}
	return schema
}

var stateFields = map[string]bool{
	"version": true, "mood": true, "memories": true, "opinions": true,
	"lastUpdated": true, "escalationLevel": true, "sabotageMeter": true,
	"transcript": true, "personaOverrides": true, "persistMemory": true,
}

var globalFields = map[string]bool{
	"version": true, "escalationLevel": true, "memories": true, "opinions": true,
}

// migrate upgrades a raw blob in place: unversioned blobs written before the
// schema existed become version 1 and unknown top-level fields are dropped.
func migrate(raw map[string]any, known map[string]bool) error {
	v, ok := raw["version"]
	if !ok {
		raw["version"] = SchemaVersion
	} else if n, ok := v.(float64); ok && int(n) > SchemaVersion {
		return fmt.Errorf("%w: %v", ErrUnsupportedVersion, n)
	}
	for key := range raw {
		if !known[key] {
			delete(raw, key)
		}
	}
	return nil
}

func decodeRaw(data []byte, known map[string]bool, schema *jsonschema.Schema) ([]byte, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("malformed state: %w", err)
	}
	if raw == nil {
		return nil, errors.New("malformed state: not an object")
	}
	if err := migrate(raw, known); err != nil {
		return nil, err
	}
	if err := schema.Validate(raw); err != nil {
		return nil, fmt.Errorf("invalid state: %w", err)
	}
	return json.Marshal(raw)
}

// DecodeState validates a persisted session blob and merges it over defaults.
func DecodeState(data []byte, now int64) (State, error) {
	return mergeState(DefaultState(now), data)
}

func mergeState(base State, data []byte) (State, error) {
	clean, err := decodeRaw(data, stateFields, stateSchema)
	if err != nil {
		return State{}, err
	}
	out := base.clone()
	if err := json.Unmarshal(clean, &out); err != nil {
		return State{}, fmt.Errorf("invalid state: %w", err)
	}
	return normalizeState(out), nil
}

// DecodeGlobal validates a persisted global blob and merges it over defaults.
func DecodeGlobal(data []byte) (GlobalState, error) {
	return mergeGlobal(DefaultGlobal(), data)
}

func mergeGlobal(base GlobalState, data []byte) (GlobalState, error) {
	clean, err := decodeRaw(data, globalFields, globalSchema)
	if err != nil {
		return GlobalState{}, err
	}
	out := base.clone()
	if err := json.Unmarshal(clean, &out); err != nil {
		return GlobalState{}, fmt.Errorf("invalid global state: %w", err)
	}
	return normalizeGlobal(out), nil
}

func normalizeState(s State) State {
	s.Version = SchemaVersion
	if s.Mood == "" {
		s.Mood = Neutral
	}
	if s.EscalationLevel < 0 {
		s.EscalationLevel = 0
	}
	if s.EscalationLevel > 0 {
		s.Mood = Hostile
	}
	s.SabotageMeter = clampSabotage(s.SabotageMeter)
	s.PersonaOverrides = normalizeOverrides(s.PersonaOverrides)
	if s.Memories == nil {
		s.Memories = []Memory{}
	}
	if s.Opinions == nil {
		s.Opinions = []string{}
	}
	if s.Transcript == nil {
		s.Transcript = []transcript.Entry{}
	}
	s.Memories = tailMemories(s.Memories, MemoryCap)
	s.Opinions = tailStrings(s.Opinions, OpinionCap)
	if len(s.Transcript) > transcript.ClientCap {
		s.Transcript = append([]transcript.Entry{}, s.Transcript[len(s.Transcript)-transcript.ClientCap:]...)
	}
	return s
}

func normalizeGlobal(g GlobalState) GlobalState {
	g.Version = SchemaVersion
	if g.EscalationLevel < 0 {
		g.EscalationLevel = 0
	}
	if g.Memories == nil {
		g.Memories = []Memory{}
	}
	if g.Opinions == nil {
		g.Opinions = []string{}
	}
	g.Memories = tailMemories(g.Memories, GlobalMemoryCap)
	g.Opinions = tailStrings(g.Opinions, OpinionCap)
	return g
}

func normalizeOverrides(o Overrides) Overrides {
	if o.Hostility <= 0 || math.IsNaN(o.Hostility) || math.IsInf(o.Hostility, 0) {
		o.Hostility = 1
	}
	if o.Sabotage <= 0 || math.IsNaN(o.Sabotage) || math.IsInf(o.Sabotage, 0) {
		o.Sabotage = 1
	}
	return o
}

func clampSabotage(v int) int {
	if v < 0 {
		return 0
	}
	if v > MaxSabotage {
		return MaxSabotage
	}
	return v
}
