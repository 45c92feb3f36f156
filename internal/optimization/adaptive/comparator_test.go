package adaptive

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/adaiter/internal/optimization"
)

func TestIsBetter(t *testing.T) {
	tests := []struct {
		name          string
		candidate     float64
		best          float64
		mode          Mode
		thresholdMode ThresholdMode
		threshold     float64
		want          bool
	}{
		{"min rel improves", 0.8, 1.0, Min, Relative, 0.1, true},
		{"min rel too small", 0.95, 1.0, Min, Relative, 0.1, false},
		{"min rel equal", 1.0, 1.0, Min, Relative, 0.1, false},
		{"min abs improves", 0.85, 1.0, Min, Absolute, 0.1, true},
		{"min abs too small", 0.95, 1.0, Min, Absolute, 0.1, false},
		{"max rel improves", 1.2, 1.0, Max, Relative, 0.1, true},
		{"max rel too small", 1.05, 1.0, Max, Relative, 0.1, false},
		{"max abs improves", 1.2, 1.0, Max, Absolute, 0.1, true},
		{"max abs worse", 0.5, 1.0, Max, Absolute, 0.1, false},
		{"min rel against sentinel", 1e300, math.Inf(1), Min, Relative, 1e-3, true},
		{"max rel against sentinel", -1e300, math.Inf(-1), Max, Relative, 1e-3, true},
		{"min abs against sentinel", 5, math.Inf(1), Min, Absolute, 1, true},
		{"max abs against sentinel", -5, math.Inf(-1), Max, Absolute, 1, true},
		{"nan candidate", math.NaN(), 1.0, Min, Relative, 0.1, false},
		{"nan against sentinel", math.NaN(), math.Inf(-1), Max, Absolute, 0.1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsBetter(tt.candidate, tt.best, tt.mode, tt.thresholdMode, tt.threshold)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIsBetterMatchesFormulas(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 2000; i++ {
		a := rng.NormFloat64() * 10
		best := rng.NormFloat64() * 10
		threshold := rng.Float64()

		assert.Equal(t, a < best*(1-threshold), IsBetter(a, best, Min, Relative, threshold))
		assert.Equal(t, a < best-threshold, IsBetter(a, best, Min, Absolute, threshold))
		assert.Equal(t, a > best*(1+threshold), IsBetter(a, best, Max, Relative, threshold))
		assert.Equal(t, a > best+threshold, IsBetter(a, best, Max, Absolute, threshold))
	}
}

func TestWorstValue(t *testing.T) {
	worst, err := WorstValue(Min, Relative)
	require.NoError(t, err)
	assert.True(t, math.IsInf(worst, 1))

	worst, err = WorstValue(Max, Absolute)
	require.NoError(t, err)
	assert.True(t, math.IsInf(worst, -1))

	invalid := []struct {
		name          string
		mode          Mode
		thresholdMode ThresholdMode
	}{
		{"unknown mode", Mode("median"), Relative},
		{"empty mode", Mode(""), Absolute},
		{"unknown threshold mode", Min, ThresholdMode("pct")},
		{"case sensitive", Mode("MIN"), Relative},
	}
	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			_, err := WorstValue(tt.mode, tt.thresholdMode)
			require.Error(t, err)
			assert.True(t, errors.Is(err, optimization.ErrInvalidConfiguration))
		})
	}
}

func TestModeText(t *testing.T) {
	var m Mode
	require.NoError(t, m.UnmarshalText([]byte("max")))
	assert.Equal(t, Max, m)
	assert.True(t, m.Valid())

	text, err := Relative.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "rel", string(text))

	var tm ThresholdMode
	require.NoError(t, tm.UnmarshalText([]byte("bogus")))
	assert.False(t, tm.Valid())
}
