// Package adaptive implements an adaptive iteration controller: it watches a
// scalar metric epoch by epoch, raises an iteration budget when the metric
// stagnates, and signals early stopping.
package adaptive

import (
	"math"

	"github.com/copyleftdev/adaiter/internal/optimization"
)

// Mode is the optimization direction.
type Mode string

const (
	// Min treats lower metric values as better.
	Min Mode = "min"
	// Max treats higher metric values as better.
	Max Mode = "max"
)

// ThresholdMode selects how the improvement threshold is interpreted.
type ThresholdMode string

const (
	// Relative measures improvement as a fraction of the current best.
	Relative ThresholdMode = "rel"
	// Absolute measures improvement as a fixed additive margin.
	Absolute ThresholdMode = "abs"
)

// Valid reports whether m is a recognised mode.
func (m Mode) Valid() bool {
	return m == Min || m == Max
}

func (m Mode) String() string { return string(m) }

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Unknown values are
// accepted here and rejected when a controller is built from them.
func (m *Mode) UnmarshalText(text []byte) error {
	*m = Mode(text)
	return nil
}

// Valid reports whether t is a recognised threshold mode.
func (t ThresholdMode) Valid() bool {
	return t == Relative || t == Absolute
}

func (t ThresholdMode) String() string { return string(t) }

// MarshalText implements encoding.TextMarshaler.
func (t ThresholdMode) MarshalText() ([]byte, error) {
	return []byte(t), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *ThresholdMode) UnmarshalText(text []byte) error {
	*t = ThresholdMode(text)
	return nil
}

// WorstValue validates the mode pair and returns the sentinel that any real
// observation improves on: +Inf for Min, -Inf for Max.
func WorstValue(mode Mode, thresholdMode ThresholdMode) (float64, error) {
	if !mode.Valid() {
		return 0, optimization.InvalidConfigurationf("mode %q is unknown", string(mode)).
			WithComponent("adaptive")
	}
	if !thresholdMode.Valid() {
		return 0, optimization.InvalidConfigurationf("threshold mode %q is unknown", string(thresholdMode)).
			WithComponent("adaptive")
	}
	if mode == Min {
		return math.Inf(1), nil
	}
	return math.Inf(-1), nil
}

// IsBetter reports whether candidate improves on best by more than threshold.
// Any comparison involving NaN is false.
func IsBetter(candidate, best float64, mode Mode, thresholdMode ThresholdMode, threshold float64) bool {
	switch {
	case mode == Min && thresholdMode == Relative:
		return candidate < best*(1-threshold)
	case mode == Min && thresholdMode == Absolute:
		return candidate < best-threshold
	case mode == Max && thresholdMode == Relative:
		return candidate > best*(1+threshold)
	default:
		return candidate > best+threshold
	}
}
