package pricefeed

import (
	"sort"
	"time"

	"github.com/alejandrodnm/calltracker/internal/domain"
)

func sortCandles(cs []domain.Candle) {
	sort.Slice(cs, func(i, j int) bool { return cs[i].Time.Before(cs[j].Time) })
}

// closestAtOrBefore devuelve el cierre de la última vela con Time ≤ at,
// siempre que no esté más lejos que maxAge.
func closestAtOrBefore(sorted []domain.Candle, at time.Time, maxAge time.Duration) (float64, bool) {
	for i := len(sorted) - 1; i >= 0; i-- {
		c := sorted[i]
		if c.Time.After(at) {
			continue
		}
		if at.Sub(c.Time) > maxAge || c.Close <= 0 {
			return 0, false
		}
		return c.Close, true
	}
	return 0, false
}
