package domain

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMultiplier_Valid(t *testing.T) {
	m, ok := Multiplier(1.0, 2.5)
	assert.True(t, ok)
	assert.InDelta(t, 2.5, m, 1e-9)

	m, ok = Multiplier(4.0, 0)
	assert.True(t, ok)
	assert.Equal(t, 0.0, m)
}

func TestMultiplier_Undefined(t *testing.T) {
	for _, entry := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		_, ok := Multiplier(entry, 1)
		assert.False(t, ok, "entry=%v", entry)
	}
	_, ok := Multiplier(1, -0.5)
	assert.False(t, ok)
}

func TestCategorize_Threshold(t *testing.T) {
	win, cat := Categorize(2.0)
	assert.True(t, win)
	assert.Equal(t, CategoryWinner, cat)

	win, cat = Categorize(1.999)
	assert.False(t, win)
	assert.Equal(t, CategoryLoser, cat)
}

func TestCategorize_Deterministic(t *testing.T) {
	for _, m := range []float64{0.1, 1, 1.5, 2, 7.3} {
		w1, c1 := Categorize(m)
		w2, c2 := Categorize(m)
		assert.Equal(t, w1, w2)
		assert.Equal(t, c1, c2)
		assert.Equal(t, c1 == CategoryWinner, w1)
	}
}

// Entrada $1.00, checkpoint 24h a $2.50 → 2.5x winner.
func TestScenario_WinnerAt24h(t *testing.T) {
	m, ok := Multiplier(1.00, 2.50)
	assert.True(t, ok)
	win, cat := Categorize(m)
	assert.True(t, win)
	assert.Equal(t, CategoryWinner, cat)
}

func TestPeakTimingAndTrajectory(t *testing.T) {
	assert.Equal(t, EarlyPeaker, ClassifyPeakTiming(5))
	assert.Equal(t, EarlyPeaker, ClassifyPeakTiming(7))
	assert.Equal(t, LatePeaker, ClassifyPeakTiming(7.01))

	assert.Equal(t, TrajectoryCrashed, ClassifyTrajectory(3.0, 1.5))
	assert.Equal(t, TrajectoryImproved, ClassifyTrajectory(1.5, 1.5))
	assert.Equal(t, TrajectoryImproved, ClassifyTrajectory(1.2, 4))
}

func TestClassifyMarketTier(t *testing.T) {
	assert.Equal(t, TierUnknown, ClassifyMarketTier(0))
	assert.Equal(t, TierMicro, ClassifyMarketTier(999_999))
	assert.Equal(t, TierSmall, ClassifyMarketTier(1_000_000))
	assert.Equal(t, TierMid, ClassifyMarketTier(10_000_000))
	assert.Equal(t, TierLarge, ClassifyMarketTier(100_000_000))
}
