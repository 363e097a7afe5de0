package domain

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTierFor_LowerInclusive(t *testing.T) {
	cases := map[float64]ReputationTier{
		0:     TierUnproven,
		34.99: TierUnproven,
		35:    TierEmerging,
		50:    TierReliable,
		64.9:  TierReliable,
		65:    TierStrong,
		80:    TierElite,
		100:   TierElite,
	}
	for score, want := range cases {
		assert.Equal(t, want, TierFor(score), "score=%v", score)
	}
	assert.Less(t, TierEmerging.Rank(), TierElite.Rank())
}

func TestReward_LogScaleSaturates(t *testing.T) {
	assert.Equal(t, 0.0, Reward(0.5, 10))
	assert.Equal(t, 0.0, Reward(1.0, 10))
	assert.InDelta(t, 100*math.Log(2)/math.Log(10), Reward(2, 10), 1e-9)
	assert.Equal(t, 100.0, Reward(10, 10))
	assert.Equal(t, 100.0, Reward(500, 10))
}

func TestSpeedScore(t *testing.T) {
	assert.Equal(t, 0.0, SpeedScore(2, 0.9))
	assert.Equal(t, 100.0, SpeedScore(0, 3))
	assert.InDelta(t, 50.0, SpeedScore(15, 3), 1e-9)
	assert.Equal(t, 0.0, SpeedScore(45, 3))
}

// Score 50, α=0.1, R=90 → 54.
func TestApply_TDStep(t *testing.T) {
	r := NewChannelReputation("alpha", 50)
	next := r.Apply(Outcome{ATHMultiplier: 3, IsWinner: true}, 0.1, 90, t0)

	assert.InDelta(t, 54.0, next.Score, 1e-9)
	assert.Equal(t, TierReliable, next.Tier)
	assert.Equal(t, 1, next.TotalSignals)
	assert.Equal(t, 1, next.Wins)
	assert.Equal(t, 50.0, r.Score, "receiver must not change")
}

func TestApply_WelfordMatchesBatch(t *testing.T) {
	values := []float64{1.0, 2.5, 0.8, 4.0, 1.2}
	r := NewChannelReputation("alpha", 50)
	for _, v := range values {
		r = r.Apply(Outcome{ATHMultiplier: v}, 0.1, 0, t0)
	}

	var mean float64
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	var ss float64
	for _, v := range values {
		ss += (v - mean) * (v - mean)
	}
	variance := ss / float64(len(values)-1)

	assert.InDelta(t, mean, r.ROIMean, 1e-9)
	assert.InDelta(t, variance, r.ROIVariance(), 1e-9)

	sharpe, ok := r.Sharpe(3)
	assert.True(t, ok)
	assert.InDelta(t, (mean-1)/math.Sqrt(variance), sharpe, 1e-9)
}

func TestSharpe_MinSamplesGuard(t *testing.T) {
	r := NewChannelReputation("alpha", 50)
	r = r.Apply(Outcome{ATHMultiplier: 2}, 0.5, 50, t0)
	r = r.Apply(Outcome{ATHMultiplier: 3}, 0.5, 50, t0)

	_, ok := r.Sharpe(3)
	assert.False(t, ok)

	same := NewChannelReputation("flat", 50)
	for i := 0; i < 4; i++ {
		same = same.Apply(Outcome{ATHMultiplier: 1.5}, 0.5, 50, t0)
	}
	_, ok = same.Sharpe(3)
	assert.False(t, ok, "zero dispersion is undefined")
}

func TestApply_ScoreStaysInRange(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	r := NewChannelReputation("fuzz", 50)
	for i := 0; i < 500; i++ {
		alpha := rng.Float64()
		reward := rng.Float64() * 100
		r = r.Apply(Outcome{ATHMultiplier: rng.Float64() * 20}, alpha, reward, t0)
		assert.GreaterOrEqual(t, r.Score, 0.0)
		assert.LessOrEqual(t, r.Score, 100.0)
		assert.Equal(t, TierFor(r.Score), r.Tier)
	}
}
