package domain

import "math"

// Umbrales fijos de clasificación.
const (
	WinnerThreshold = 2.0 // ATH ≥ 2x → winner
	EarlyPeakDays   = 7.0 // ATH alcanzado en ≤ 7 días → early_peaker
)

// OutcomeCategory es la clasificación final de una señal.
// No hay banda de break-even: solo winner/loser en la línea de 2x.
type OutcomeCategory string

const (
	CategoryWinner OutcomeCategory = "winner"
	CategoryLoser  OutcomeCategory = "loser"
)

// PeakTiming clasifica cuándo llegó el ATH.
type PeakTiming string

const (
	EarlyPeaker PeakTiming = "early_peaker"
	LatePeaker  PeakTiming = "late_peaker"
)

// Trajectory compara el multiplicador del día 7 con el del día 30.
type Trajectory string

const (
	TrajectoryImproved Trajectory = "improved"
	TrajectoryCrashed  Trajectory = "crashed"
)

// Multiplier devuelve later/entry. El segundo valor es false cuando el resultado
// no está definido (entry ≤ 0, NaN o Inf); nunca hace panic.
func Multiplier(entry, later float64) (float64, bool) {
	if entry <= 0 || math.IsNaN(entry) || math.IsInf(entry, 0) {
		return 0, false
	}
	if later < 0 || math.IsNaN(later) || math.IsInf(later, 0) {
		return 0, false
	}
	return later / entry, true
}

// Categorize clasifica a partir del multiplicador ATH.
func Categorize(athMultiplier float64) (bool, OutcomeCategory) {
	if athMultiplier >= WinnerThreshold {
		return true, CategoryWinner
	}
	return false, CategoryLoser
}

// ClassifyPeakTiming devuelve early_peaker si el ATH llegó en ≤ 7 días.
func ClassifyPeakTiming(daysToATH float64) PeakTiming {
	if daysToATH <= EarlyPeakDays {
		return EarlyPeaker
	}
	return LatePeaker
}

// ClassifyTrajectory compara los multiplicadores del día 7 y del día 30.
func ClassifyTrajectory(day7, day30 float64) Trajectory {
	if day30 >= day7 {
		return TrajectoryImproved
	}
	return TrajectoryCrashed
}

// MarketTier agrupa tokens por market cap al momento de la mención.
type MarketTier string

const (
	TierUnknown MarketTier = "unknown"
	TierMicro   MarketTier = "micro"
	TierSmall   MarketTier = "small"
	TierMid     MarketTier = "mid"
	TierLarge   MarketTier = "large"
)

// ClassifyMarketTier devuelve el tier para un market cap en USD (0 = desconocido).
func ClassifyMarketTier(marketCapUSD float64) MarketTier {
	switch {
	case marketCapUSD <= 0:
		return TierUnknown
	case marketCapUSD < 1_000_000:
		return TierMicro
	case marketCapUSD < 10_000_000:
		return TierSmall
	case marketCapUSD < 100_000_000:
		return TierMid
	default:
		return TierLarge
	}
}
