package domain

import (
	"math"
	"time"
)

// ReputationTier es la etiqueta ordenada derivada del score.
type ReputationTier string

const (
	TierUnproven ReputationTier = "Unproven"
	TierEmerging ReputationTier = "Emerging"
	TierReliable ReputationTier = "Reliable"
	TierStrong   ReputationTier = "Strong"
	TierElite    ReputationTier = "Elite"
)

// tierFloors son los límites inferiores (inclusivos), de mayor a menor.
var tierFloors = []struct {
	floor float64
	tier  ReputationTier
}{
	{80, TierElite},
	{65, TierStrong},
	{50, TierReliable},
	{35, TierEmerging},
	{0, TierUnproven},
}

// TierFor devuelve el tier de un score. Función pura, rangos no solapados.
func TierFor(score float64) ReputationTier {
	for _, t := range tierFloors {
		if score >= t.floor {
			return t.tier
		}
	}
	return TierUnproven
}

// Rank devuelve la posición ordinal del tier (0 = Unproven).
func (t ReputationTier) Rank() int {
	for i, tf := range tierFloors {
		if tf.tier == t {
			return len(tierFloors) - 1 - i
		}
	}
	return 0
}

// Reward mapea un multiplicador ATH a [0,100] en escala logarítmica,
// saturando en ceiling (p.ej. 10x → 100). ATH ≤ 1 → 0.
func Reward(athMultiplier, ceiling float64) float64 {
	if ceiling <= 1 {
		ceiling = 10
	}
	if athMultiplier <= 1 || math.IsNaN(athMultiplier) {
		return 0
	}
	return ClampScore(100 * math.Log(athMultiplier) / math.Log(ceiling))
}

// SpeedScore puntúa lo rápido que una señal llegó a terreno positivo.
// ATH en el instante de entrada → 100, a 30 días o más → 0. Sin ganancia → 0.
func SpeedScore(daysToATH, athMultiplier float64) float64 {
	if athMultiplier <= 1 {
		return 0
	}
	horizon := TrackingHorizon.Hours() / 24
	d := math.Min(math.Max(daysToATH, 0), horizon)
	return 100 * (1 - d/horizon)
}

// ClampScore acota a [0,100].
func ClampScore(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Min(100, math.Max(0, v))
}

// ChannelReputation es el estado de reputación de un canal.
// Se actualiza incrementalmente; nunca se recalcula desde el histórico completo.
type ChannelReputation struct {
	Channel      string
	TotalSignals int
	Wins         int

	// Welford sobre el multiplicador ATH de cada señal.
	ROIMean float64
	ROIM2   float64

	AvgDaysToATH float64
	SpeedScore   float64 // media móvil de SpeedScore por señal

	Score     float64 // [0,100]
	Tier      ReputationTier
	UpdatedAt time.Time
}

// NewChannelReputation crea el estado inicial de un canal.
func NewChannelReputation(channel string, initialScore float64) ChannelReputation {
	score := ClampScore(initialScore)
	return ChannelReputation{Channel: channel, Score: score, Tier: TierFor(score)}
}

// WinRate devuelve wins/total (0 sin señales).
func (r ChannelReputation) WinRate() float64 {
	if r.TotalSignals == 0 {
		return 0
	}
	return float64(r.Wins) / float64(r.TotalSignals)
}

// ROIVariance devuelve la varianza muestral (0 con menos de 2 señales).
func (r ChannelReputation) ROIVariance() float64 {
	if r.TotalSignals < 2 {
		return 0
	}
	return r.ROIM2 / float64(r.TotalSignals-1)
}

// ROIStdDev devuelve la desviación estándar muestral.
func (r ChannelReputation) ROIStdDev() float64 {
	return math.Sqrt(r.ROIVariance())
}

// Sharpe devuelve (media - 1) / stddev sobre multiplicadores: el exceso sobre
// el break-even por unidad de dispersión. ok=false con menos de minSamples
// señales o dispersión nula.
func (r ChannelReputation) Sharpe(minSamples int) (float64, bool) {
	if minSamples < 2 {
		minSamples = 2
	}
	if r.TotalSignals < minSamples {
		return 0, false
	}
	sd := r.ROIStdDev()
	if sd == 0 {
		return 0, false
	}
	return (r.ROIMean - 1) / sd, true
}

// Apply aplica un outcome al estado: V' = V + α(R − V) más los agregados
// incrementales. Devuelve el nuevo estado; el receptor no cambia.
func (r ChannelReputation) Apply(o Outcome, alpha, reward float64, now time.Time) ChannelReputation {
	next := r
	n := float64(r.TotalSignals + 1)
	next.TotalSignals++
	if o.IsWinner {
		next.Wins++
	}

	delta := o.ATHMultiplier - r.ROIMean
	next.ROIMean = r.ROIMean + delta/n
	next.ROIM2 = r.ROIM2 + delta*(o.ATHMultiplier-next.ROIMean)

	next.AvgDaysToATH = r.AvgDaysToATH + (o.DaysToATH-r.AvgDaysToATH)/n
	next.SpeedScore = r.SpeedScore + (SpeedScore(o.DaysToATH, o.ATHMultiplier)-r.SpeedScore)/n

	alpha = math.Min(1, math.Max(0, alpha))
	next.Score = ClampScore(r.Score + alpha*(ClampScore(reward)-r.Score))
	next.Tier = TierFor(next.Score)
	next.UpdatedAt = now.UTC()
	return next
}
