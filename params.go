package synthtext

import (
	"math"
	"strconv"
	"strings"
)

const (
	// MaxTopK is the largest accepted TopK value.
	MaxTopK = 1000
	// MaxStopSequences is the largest number of stop sequences per request.
	MaxStopSequences = 5
)

// TopK selects the next token among the k most likely ones.
type TopK int

// NewTopK validates that 0 <= k <= MaxTopK.
func NewTopK(k int) (TopK, error) {
	if k < 0 || k > MaxTopK {
		return 0, &ValidationError{
			Parameter: "top_k",
			Value:     k,
			Message:   "must be in the range 0..=1000",
		}
	}
	return TopK(k), nil
}

// Int returns the wrapped value.
func (k TopK) Int() int { return int(k) }

// TopP selects the next token among the most probable ones whose
// cumulative probability exceeds p.
type TopP float64

// NewTopP validates that 0.0 <= p <= 1.0.
func NewTopP(p float64) (TopP, error) {
	if math.IsNaN(p) || p < 0 || p > 1 {
		return 0, &ValidationError{
			Parameter: "top_p",
			Value:     p,
			Message:   "must be in the range 0.0..=1.0",
		}
	}
	return TopP(p), nil
}

// Float64 returns the wrapped value.
func (p TopP) Float64() float64 { return float64(p) }

// The API puts no bound on temperature, but NaN and infinities cannot be
// encoded as JSON.
func checkTemperature(t float64) error {
	if math.IsNaN(t) || math.IsInf(t, 0) {
		return &ValidationError{
			Parameter: "temperature",
			Value:     t,
			Message:   "must be a finite number",
		}
	}
	return nil
}

// MaxTokens is a generation length validated against one engine's
// context length.
type MaxTokens struct {
	n int
}

// NewMaxTokens validates that 1 <= n <= def.MaxTokens(). The same n may
// be valid for one engine and invalid for another.
func NewMaxTokens(n int, def EngineDefinition) (MaxTokens, error) {
	if err := checkMaxTokens(n, def); err != nil {
		return MaxTokens{}, err
	}
	return MaxTokens{n: n}, nil
}

func checkMaxTokens(n int, def EngineDefinition) error {
	if n < 1 || n > def.MaxTokens() {
		return &ValidationError{
			Parameter: "max_tokens",
			Value:     n,
			Message:   "must be in the range 1..=" + strconv.Itoa(def.MaxTokens()) + " for engine " + def.ID(),
		}
	}
	return nil
}

// Int returns the wrapped value.
func (m MaxTokens) Int() int { return m.n }

// NonEmptyString is a string with at least one byte.
type NonEmptyString struct {
	s string
}

// NewNonEmptyString rejects the empty string.
func NewNonEmptyString(s string) (NonEmptyString, error) {
	if s == "" {
		return NonEmptyString{}, &ValidationError{
			Parameter: "string",
			Value:     strconv.Quote(s),
			Message:   "must not be empty",
		}
	}
	return NonEmptyString{s: s}, nil
}

// String returns the wrapped value.
func (s NonEmptyString) String() string { return s.s }

// Stop is an ordered set of at most MaxStopSequences stop sequences.
// Generation halts before the first occurrence of any member.
type Stop struct {
	seqs []string
}

// NewStop validates the length of seqs. Members are not inspected.
func NewStop(seqs []string) (Stop, error) {
	if len(seqs) > MaxStopSequences {
		return Stop{}, &ValidationError{
			Parameter: "stop",
			Value:     len(seqs),
			Message:   "expected at most 5 stop sequences",
		}
	}
	return Stop{seqs: append([]string(nil), seqs...)}, nil
}

// Sequences returns a copy of the stop sequences.
func (s Stop) Sequences() []string {
	return append([]string(nil), s.seqs...)
}

// Len returns the number of stop sequences.
func (s Stop) Len() int { return len(s.seqs) }

// ParseTopK parses and validates a TopK from text.
func ParseTopK(s string) (TopK, error) {
	k, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, &ValidationError{Parameter: "top_k", Value: strconv.Quote(s), Message: "not a valid integer"}
	}
	return NewTopK(k)
}

// ParseTopP parses and validates a TopP from text.
func ParseTopP(s string) (TopP, error) {
	p, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, &ValidationError{Parameter: "top_p", Value: strconv.Quote(s), Message: "not a valid float"}
	}
	return NewTopP(p)
}

// ParseMaxTokens parses and validates a MaxTokens for def from text.
func ParseMaxTokens(s string, def EngineDefinition) (MaxTokens, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return MaxTokens{}, &ValidationError{Parameter: "max_tokens", Value: strconv.Quote(s), Message: "not a valid integer"}
	}
	return NewMaxTokens(n, def)
}
