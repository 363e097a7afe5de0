package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Candle es una vela OHLC. Time es el inicio del intervalo, siempre en UTC.
type Candle struct {
	Time   time.Time `json:"t"`
	Open   float64   `json:"o"`
	High   float64   `json:"h"`
	Low    float64   `json:"l"`
	Close  float64   `json:"c"`
	Volume float64   `json:"v"`
}

// CandleSeries es lo que devuelve un proveedor: velas más su granularidad.
type CandleSeries struct {
	Candles  []Candle
	Interval time.Duration
}

// HistoricalPriceWindow es la trayectoria de precio a partir de un ancla.
// Inmutable una vez construida: los métodos devuelven copias.
type HistoricalPriceWindow struct {
	Symbol        string        `json:"symbol"`
	Anchor        time.Time     `json:"anchor"`
	PriceAtAnchor float64       `json:"price_at_anchor"`
	ATHPrice      float64       `json:"ath_price"`
	ATHAt         time.Time     `json:"ath_at"`
	DaysToATH     float64       `json:"days_to_ath"`
	Candles       []Candle      `json:"candles"`
	Interval      time.Duration `json:"interval"`
	Provider      string        `json:"provider"`
	Cached        bool          `json:"-"`
}

// NewWindow construye una ventana a partir de velas crudas de un proveedor.
// Normaliza a UTC, ordena por tiempo, descarta velas sin precio y deduplica timestamps.
// Solo cuentan las velas que cubren el ancla o son posteriores a ella.
func NewWindow(symbol string, anchor time.Time, series CandleSeries, provider string) HistoricalPriceWindow {
	anchor = anchor.UTC()
	interval := series.Interval
	if interval <= 0 {
		interval = inferInterval(series.Candles)
	}

	candles := make([]Candle, 0, len(series.Candles))
	for _, c := range series.Candles {
		if c.High <= 0 && c.Close <= 0 {
			continue
		}
		c.Time = c.Time.UTC()
		if c.Time.Add(interval).After(anchor) {
			candles = append(candles, c)
		}
	}
	sort.SliceStable(candles, func(i, j int) bool { return candles[i].Time.Before(candles[j].Time) })
	candles = dedupCandles(candles)

	w := HistoricalPriceWindow{
		Symbol:   symbol,
		Anchor:   anchor,
		Candles:  candles,
		Interval: interval,
		Provider: provider,
	}
	if len(candles) == 0 {
		return w
	}

	if p, _, ok := w.PriceAt(anchor); ok {
		w.PriceAtAnchor = p
	} else {
		w.PriceAtAnchor = candles[0].Open
	}
	w.ATHPrice, w.ATHAt = athOf(candles)
	w.DaysToATH = DaysBetween(anchor, w.ATHAt)
	return w
}

// Rebase devuelve una nueva ventana anclada en otro instante, reutilizando las
// velas que empiezan antes de until (until cero = sin corte). Se usa para
// servir una ventana cacheada por día a un entry concreto: el ATH queda
// limitado a [anchor, until).
func (w HistoricalPriceWindow) Rebase(anchor, until time.Time) HistoricalPriceWindow {
	candles := w.Candles
	if !until.IsZero() {
		idx := sort.Search(len(candles), func(i int) bool { return !candles[i].Time.Before(until) })
		candles = candles[:idx]
	}
	out := NewWindow(w.Symbol, anchor, CandleSeries{Candles: candles, Interval: w.Interval}, w.Provider)
	out.Cached = w.Cached
	return out
}

// Empty devuelve true si la ventana no tiene velas utilizables.
func (w HistoricalPriceWindow) Empty() bool {
	return len(w.Candles) == 0
}

// CoverageEnd es el final del último intervalo con datos.
func (w HistoricalPriceWindow) CoverageEnd() time.Time {
	if len(w.Candles) == 0 {
		return time.Time{}
	}
	return w.Candles[len(w.Candles)-1].Time.Add(w.Interval)
}

// PriceAt devuelve el cierre de la última vela con timestamp ≤ t.
// ok=false si no hay vela anterior o si t cae fuera de la cobertura de datos:
// un checkpoint más allá de los datos no se reporta como 0.
func (w HistoricalPriceWindow) PriceAt(t time.Time) (float64, time.Time, bool) {
	t = t.UTC()
	if len(w.Candles) == 0 || t.After(w.CoverageEnd()) {
		return 0, time.Time{}, false
	}
	idx := sort.Search(len(w.Candles), func(i int) bool { return w.Candles[i].Time.After(t) })
	if idx == 0 {
		return 0, time.Time{}, false
	}
	c := w.Candles[idx-1]
	return c.Close, c.Time, true
}

// CheckpointPrice es PriceAt(entry + offset).
func (w HistoricalPriceWindow) CheckpointPrice(entry time.Time, offset time.Duration) (float64, time.Time, bool) {
	return w.PriceAt(entry.UTC().Add(offset))
}

// ATHBefore devuelve el máximo high entre las velas que empiezan antes de until.
// En empate gana la más temprana.
func (w HistoricalPriceWindow) ATHBefore(until time.Time) (float64, time.Time, bool) {
	idx := sort.Search(len(w.Candles), func(i int) bool { return !w.Candles[i].Time.Before(until) })
	price, at := athOf(w.Candles[:idx])
	return price, at, price > 0
}

// Clone devuelve una copia profunda.
func (w HistoricalPriceWindow) Clone() HistoricalPriceWindow {
	out := w
	out.Candles = append([]Candle(nil), w.Candles...)
	return out
}

// athOf devuelve max(high); en empate gana la vela más temprana.
func athOf(candles []Candle) (float64, time.Time) {
	var best float64
	var at time.Time
	for _, c := range candles {
		high := c.High
		if high <= 0 {
			high = c.Close
		}
		if high > best {
			best = high
			at = c.Time
		}
	}
	return best, at
}

// DaysBetween devuelve (to - from) en días fraccionales, ambos en UTC. Nunca negativo.
func DaysBetween(from, to time.Time) float64 {
	d := to.UTC().Sub(from.UTC()).Hours() / 24
	if d < 0 {
		return 0
	}
	return d
}

func inferInterval(candles []Candle) time.Duration {
	var best time.Duration
	for i := 1; i < len(candles); i++ {
		d := candles[i].Time.Sub(candles[i-1].Time)
		if d < 0 {
			d = -d
		}
		if d > 0 && (best == 0 || d < best) {
			best = d
		}
	}
	if best == 0 {
		return time.Hour
	}
	return best
}

func dedupCandles(sorted []Candle) []Candle {
	if len(sorted) < 2 {
		return sorted
	}
	out := sorted[:1]
	for _, c := range sorted[1:] {
		if c.Time.Equal(out[len(out)-1].Time) {
			out[len(out)-1] = c
			continue
		}
		out = append(out, c)
	}
	return out
}

// CacheKey identifica una ventana en la caché de precios.
type CacheKey struct {
	Symbol string // símbolo canónico (ver TokenRef.CacheSymbol)
	Date   string // bucket diario YYYY-MM-DD en UTC
	Days   int
}

// NewCacheKey construye la clave para una ventana que empieza en at.
func NewCacheKey(symbol string, at time.Time, days int) CacheKey {
	return CacheKey{Symbol: symbol, Date: DayBucket(at).Format(time.DateOnly), Days: days}
}

// String devuelve la forma serializada usada por los backends key-value.
func (k CacheKey) String() string {
	return fmt.Sprintf("%s|%s|%d", k.Symbol, k.Date, k.Days)
}

// DayBucket trunca al inicio del día UTC.
func DayBucket(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}

// TokenRef identifica un token frente a los proveedores de precio.
type TokenRef struct {
	Address string
	Chain   string
	Symbol  string
}

// CacheSymbol devuelve el componente "símbolo" de la clave de caché.
// Se cualifica con la dirección para que dos tokens con el mismo ticker no colisionen.
func (r TokenRef) CacheSymbol() string {
	sym := strings.ToUpper(strings.TrimSpace(r.Symbol))
	if r.Address == "" {
		return sym
	}
	return sym + "@" + r.Chain + ":" + r.Address
}
