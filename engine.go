package synthtext

import (
	"fmt"
	"strconv"
	"strings"
)

// EngineDefinition identifies a hosted model and its maximum context
// length. It is either one of the presets or a custom id/max pair.
// The zero value is not a valid definition.
type EngineDefinition struct {
	id        string
	maxTokens int
	custom    bool
}

// Preset engine definitions.
var (
	GPTJ6B        = EngineDefinition{id: "gptj_6B", maxTokens: 2048}
	Boris6B       = EngineDefinition{id: "boris_6B", maxTokens: 2048}
	FairseqGPT13B = EngineDefinition{id: "fairseq_gpt_13B", maxTokens: 1024}
)

// presetAliases maps every accepted preset spelling, lower-cased, to its
// definition.
var presetAliases = map[string]EngineDefinition{
	"gptj_6b":         GPTJ6B,
	"gptj6b":          GPTJ6B,
	"gpt6jb":          GPTJ6B,
	"boris_6b":        Boris6B,
	"boris6b":         Boris6B,
	"fairseq_gpt_13b": FairseqGPT13B,
	"fairseqgpt13b":   FairseqGPT13B,
}

// Presets returns the preset engine definitions.
func Presets() []EngineDefinition {
	return []EngineDefinition{GPTJ6B, Boris6B, FairseqGPT13B}
}

// DefaultEngineDefinition is used when configuration names no engine.
func DefaultEngineDefinition() EngineDefinition {
	return GPTJ6B
}

// NewCustomEngineDefinition describes an engine that is not a preset.
func NewCustomEngineDefinition(id string, maxTokens int) (EngineDefinition, error) {
	if strings.TrimSpace(id) == "" {
		return EngineDefinition{}, &ValidationError{Parameter: "engine id", Value: strconv.Quote(id), Message: "must not be empty"}
	}
	if maxTokens <= 0 {
		return EngineDefinition{}, &ValidationError{Parameter: "engine max_tokens", Value: maxTokens, Message: "must be greater than 0"}
	}
	return EngineDefinition{id: id, maxTokens: maxTokens, custom: true}, nil
}

// ID returns the engine identifier used in API paths.
func (d EngineDefinition) ID() string { return d.id }

// MaxTokens returns the engine's maximum context length.
func (d EngineDefinition) MaxTokens() int { return d.maxTokens }

// IsCustom reports whether d was created by NewCustomEngineDefinition.
func (d EngineDefinition) IsCustom() bool { return d.custom }

// IsZero reports whether d is the zero value.
func (d EngineDefinition) IsZero() bool { return d.id == "" }

// String returns the text form accepted by ParseEngineDefinition.
func (d EngineDefinition) String() string {
	if d.custom {
		return d.id + "," + strconv.Itoa(d.maxTokens)
	}
	return d.id
}

// ParseEngineDefinition parses a preset name (for example "gptj_6B" or
// "boris6b") or a custom "id,max_tokens" pair.
func ParseEngineDefinition(s string) (EngineDefinition, error) {
	s = strings.TrimSpace(s)
	id, max, hasMax := strings.Cut(s, ",")
	if !hasMax {
		if def, ok := presetAliases[strings.ToLower(s)]; ok {
			return def, nil
		}
		return EngineDefinition{}, &ValidationError{
			Parameter: "engine",
			Value:     strconv.Quote(s),
			Message:   "unknown preset; expected delimiter ',' to separate id and max tokens",
		}
	}
	n, err := strconv.Atoi(strings.TrimSpace(max))
	if err != nil {
		return EngineDefinition{}, &ValidationError{
			Parameter: "engine max_tokens",
			Value:     strconv.Quote(max),
			Message:   "max tokens must be a valid number",
		}
	}
	return NewCustomEngineDefinition(strings.TrimSpace(id), n)
}

// MarshalText implements encoding.TextMarshaler.
func (d EngineDefinition) MarshalText() ([]byte, error) {
	if d.IsZero() {
		return nil, fmt.Errorf("synthtext: cannot marshal empty engine definition")
	}
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *EngineDefinition) UnmarshalText(text []byte) error {
	def, err := ParseEngineDefinition(string(text))
	if err != nil {
		return err
	}
	*d = def
	return nil
}
