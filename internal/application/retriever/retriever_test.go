package retriever_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/calltracker/internal/adapters/storage"
	"github.com/alejandrodnm/calltracker/internal/application/pricecache"
	"github.com/alejandrodnm/calltracker/internal/application/retriever"
	"github.com/alejandrodnm/calltracker/internal/domain"
	"github.com/alejandrodnm/calltracker/internal/ports"
)

var (
	t0  = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	ref = domain.TokenRef{Address: "0x6982508145454ce325ddbe47a25d4ec3d2311933", Chain: "ethereum", Symbol: "PEPE"}
)

// fakeProvider responde con funciones configurables y cuenta llamadas.
type fakeProvider struct {
	name    string
	point   func(ctx context.Context, q ports.PriceQuery, at time.Time) (float64, error)
	candles func(ctx context.Context, q ports.PriceQuery, start time.Time, days int) (domain.CandleSeries, error)

	pointCalls  atomic.Int32
	candleCalls atomic.Int32
	mu          sync.Mutex
	lastQuery   ports.PriceQuery
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) PointPrice(ctx context.Context, q ports.PriceQuery, at time.Time) (float64, error) {
	f.pointCalls.Add(1)
	f.mu.Lock()
	f.lastQuery = q
	f.mu.Unlock()
	if f.point == nil {
		return 0, domain.ErrUnsupported
	}
	return f.point(ctx, q, at)
}

func (f *fakeProvider) Candles(ctx context.Context, q ports.PriceQuery, start time.Time, days int) (domain.CandleSeries, error) {
	f.candleCalls.Add(1)
	f.mu.Lock()
	f.lastQuery = q
	f.mu.Unlock()
	if f.candles == nil {
		return domain.CandleSeries{}, domain.ErrUnsupported
	}
	return f.candles(ctx, q, start, days)
}

func hangs(ctx context.Context, _ ports.PriceQuery, _ time.Time) (float64, error) {
	<-ctx.Done()
	return 0, ctx.Err()
}

func fixed(price float64) func(context.Context, ports.PriceQuery, time.Time) (float64, error) {
	return func(context.Context, ports.PriceQuery, time.Time) (float64, error) { return price, nil }
}

// hourlySeries genera velas horarias desde start con high creciente hasta peakAt.
func hourlySeries(start time.Time, hours int, peakAt time.Time, peak float64) domain.CandleSeries {
	candles := make([]domain.Candle, hours)
	for i := range candles {
		ts := start.Add(time.Duration(i) * time.Hour)
		c := domain.Candle{Time: ts, Open: 1, High: 1.1, Low: 0.9, Close: 1}
		if ts.Equal(peakAt) {
			c.High = peak
			c.Close = peak * 0.9
		}
		candles[i] = c
	}
	return domain.CandleSeries{Candles: candles, Interval: time.Hour}
}

func newRetriever(now time.Time, cache *pricecache.Cache, providers ...ports.PriceProvider) *retriever.Retriever {
	return retriever.New(retriever.Config{
		Timeout:       50 * time.Millisecond,
		MaxConcurrent: 4,
		Now:           func() time.Time { return now },
	}, providers, cache, nil, nil)
}

// recorder es un Observer en memoria.
type recorder struct {
	mu       sync.Mutex
	attempts []string
	hits     int
	misses   int
}

func (r *recorder) ObserveAttempt(provider, op, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, fmt.Sprintf("%s/%s/%s", provider, op, outcome))
}

func (r *recorder) ObserveCache(hit bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if hit {
		r.hits++
	} else {
		r.misses++
	}
}

func TestClosestPrice_TimeoutFallsThroughToNextProvider(t *testing.T) {
	a := &fakeProvider{name: "A", point: hangs}
	b := &fakeProvider{name: "B", point: fixed(3.00)}
	rec := &recorder{}
	r := newRetriever(t0, nil, a, b)
	r.SetObserver(rec)

	price, provider, err := r.ClosestPrice(context.Background(), ref, t0)
	require.NoError(t, err)
	assert.Equal(t, 3.00, price)
	assert.Equal(t, "B", provider)
	assert.Equal(t, []string{"A/point/timeout", "B/point/ok"}, rec.attempts)
}

func TestClosestPrice_SoftFailuresThenNotFound(t *testing.T) {
	unsupported := &fakeProvider{name: "dex"}
	broken := &fakeProvider{name: "api", point: func(context.Context, ports.PriceQuery, time.Time) (float64, error) {
		return 0, errors.New("502 bad gateway")
	}}
	empty := &fakeProvider{name: "chain", point: fixed(0)}

	r := newRetriever(t0, nil, unsupported, broken, empty)
	_, _, err := r.ClosestPrice(context.Background(), ref, t0)
	assert.ErrorIs(t, err, domain.ErrPriceNotFound)
	assert.Equal(t, int32(1), unsupported.pointCalls.Load())
	assert.Equal(t, int32(1), broken.pointCalls.Load())
	assert.Equal(t, int32(1), empty.pointCalls.Load())
}

func TestClosestPrice_CancelledContextIsNotNotFound(t *testing.T) {
	r := newRetriever(t0, nil, &fakeProvider{name: "B", point: fixed(1)})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := r.ClosestPrice(ctx, ref, t0)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, domain.ErrPriceNotFound)
}

func TestClosestPrice_UsesProviderSymbolMapping(t *testing.T) {
	mapper := storage.NewMemoryStorage()
	require.NoError(t, mapper.SaveProviderSymbol(context.Background(), ref.Address, "cc", "PEPE2"))

	cc := &fakeProvider{name: "cc", point: fixed(1)}
	other := &fakeProvider{name: "other", point: fixed(1)}
	r := retriever.New(retriever.Config{}, []ports.PriceProvider{cc}, nil, mapper, nil)

	_, _, err := r.ClosestPrice(context.Background(), ref, t0)
	require.NoError(t, err)
	assert.Equal(t, "PEPE2", cc.lastQuery.Symbol)

	r = retriever.New(retriever.Config{}, []ports.PriceProvider{other}, nil, mapper, nil)
	_, _, err = r.ClosestPrice(context.Background(), ref, t0)
	require.NoError(t, err)
	assert.Equal(t, "PEPE", other.lastQuery.Symbol)
}

func TestClosestPrice_BreakerSkipsFailingProvider(t *testing.T) {
	failing := &fakeProvider{name: "flaky", point: func(context.Context, ports.PriceQuery, time.Time) (float64, error) {
		return 0, errors.New("connection refused")
	}}
	backup := &fakeProvider{name: "backup", point: fixed(2)}
	r := retriever.New(retriever.Config{BreakerFailures: 2, BreakerCooldown: time.Hour},
		[]ports.PriceProvider{failing, backup}, nil, nil, nil)

	for i := 0; i < 5; i++ {
		_, provider, err := r.ClosestPrice(context.Background(), ref, t0)
		require.NoError(t, err)
		assert.Equal(t, "backup", provider)
	}
	assert.Equal(t, int32(2), failing.pointCalls.Load(), "breaker must open after 2 consecutive failures")
}

func TestClosestPrice_UnsupportedDoesNotTripBreaker(t *testing.T) {
	dex := &fakeProvider{name: "dex"}
	backup := &fakeProvider{name: "backup", point: fixed(2)}
	r := retriever.New(retriever.Config{BreakerFailures: 1}, []ports.PriceProvider{dex, backup}, nil, nil, nil)

	for i := 0; i < 3; i++ {
		_, _, err := r.ClosestPrice(context.Background(), ref, t0)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(3), dex.pointCalls.Load())
}

func TestForwardWindow_ComputesATHAndCachesCompletedRange(t *testing.T) {
	peak := t0.Add(50 * time.Hour)
	gecko := &fakeProvider{name: "gecko", candles: func(_ context.Context, _ ports.PriceQuery, start time.Time, days int) (domain.CandleSeries, error) {
		assert.Equal(t, domain.DayBucket(t0), start)
		assert.Equal(t, 8, days)
		return hourlySeries(start, days*24, peak, 5.0), nil
	}}

	cache := pricecache.New(storage.NewMemoryStorage(), 100)
	now := t0.Add(40 * 24 * time.Hour)
	rec := &recorder{}
	r := newRetriever(now, cache, gecko)
	r.SetObserver(rec)

	w, err := r.ForwardWindow(context.Background(), ref, t0, 7)
	require.NoError(t, err)
	assert.False(t, w.Cached)
	assert.Equal(t, "gecko", w.Provider)
	assert.True(t, w.Anchor.Equal(t0))
	assert.Equal(t, 5.0, w.ATHPrice)
	assert.True(t, w.ATHAt.Equal(peak))
	assert.InDelta(t, 50.0/24.0, w.DaysToATH, 1e-9)

	// segundo pedido: cache, cero llamadas a proveedores
	again, err := r.ForwardWindow(context.Background(), ref, t0, 7)
	require.NoError(t, err)
	assert.True(t, again.Cached)
	assert.Equal(t, int32(1), gecko.candleCalls.Load())
	assert.Equal(t, w.ATHPrice, again.ATHPrice)
	assert.True(t, w.ATHAt.Equal(again.ATHAt))
	assert.Equal(t, w.Candles, again.Candles)
	assert.Equal(t, 1, rec.hits)
	assert.Equal(t, 1, rec.misses)
}

func TestForwardWindow_IgnoresPeakAfterWindowEnd(t *testing.T) {
	end := t0.Add(7 * 24 * time.Hour)
	lateInBucket := end.Add(6 * time.Hour)
	gecko := &fakeProvider{name: "gecko", candles: func(_ context.Context, _ ports.PriceQuery, start time.Time, days int) (domain.CandleSeries, error) {
		series := hourlySeries(start, days*24, t0.Add(30*time.Hour), 4.0)
		for i := range series.Candles {
			if series.Candles[i].Time.Equal(lateInBucket) {
				series.Candles[i].High = 9.0
			}
		}
		return series, nil
	}}
	cache := pricecache.New(storage.NewMemoryStorage(), 100)
	r := newRetriever(t0.Add(40*24*time.Hour), cache, gecko)

	for i := 0; i < 2; i++ {
		w, err := r.ForwardWindow(context.Background(), ref, t0, 7)
		require.NoError(t, err)
		assert.Equal(t, 4.0, w.ATHPrice)
		assert.True(t, w.ATHAt.Equal(t0.Add(30*time.Hour)))
		assert.InDelta(t, 30.0/24.0, w.DaysToATH, 1e-9)
		require.NotEmpty(t, w.Candles)
		assert.True(t, w.Candles[len(w.Candles)-1].Time.Before(end))
	}
	assert.Equal(t, int32(1), gecko.candleCalls.Load(), "second read served from cache")
}

func TestForwardWindow_PartialRangeIsNotCached(t *testing.T) {
	gecko := &fakeProvider{name: "gecko", candles: func(_ context.Context, _ ports.PriceQuery, start time.Time, _ int) (domain.CandleSeries, error) {
		return hourlySeries(start, 48, start.Add(30*time.Hour), 2), nil
	}}
	r := newRetriever(t0.Add(36*time.Hour), pricecache.New(nil, 10), gecko)

	for i := 0; i < 2; i++ {
		w, err := r.ForwardWindow(context.Background(), ref, t0, 30)
		require.NoError(t, err)
		assert.False(t, w.Cached)
	}
	assert.Equal(t, int32(2), gecko.candleCalls.Load())
}

func TestForwardWindow_FallsBackAndArchives(t *testing.T) {
	empty := &fakeProvider{name: "gecko", candles: func(context.Context, ports.PriceQuery, time.Time, int) (domain.CandleSeries, error) {
		return domain.CandleSeries{}, nil
	}}
	cg := &fakeProvider{name: "coingecko", candles: func(_ context.Context, _ ports.PriceQuery, start time.Time, _ int) (domain.CandleSeries, error) {
		return hourlySeries(start, 24, start.Add(13*time.Hour), 3), nil
	}}
	archive := &archiveSpy{}
	r := retriever.New(retriever.Config{Now: func() time.Time { return t0.Add(60 * 24 * time.Hour) }},
		[]ports.PriceProvider{empty, cg}, nil, nil, archive)

	w, err := r.ForwardWindow(context.Background(), ref, t0, 1)
	require.NoError(t, err)
	assert.Equal(t, "coingecko", w.Provider)
	assert.Equal(t, 3.0, w.ATHPrice)
	assert.Equal(t, []string{"coingecko"}, archive.providers)
}

func TestForwardWindow_AllProvidersExhausted(t *testing.T) {
	r := newRetriever(t0, nil, &fakeProvider{name: "dex"}, &fakeProvider{name: "chain"})
	_, err := r.ForwardWindow(context.Background(), ref, t0, 30)
	assert.ErrorIs(t, err, domain.ErrPriceNotFound)
}

func TestRetriever_BoundsInFlightFetches(t *testing.T) {
	var inFlight, peak atomic.Int32
	slow := &fakeProvider{name: "slow", point: func(ctx context.Context, _ ports.PriceQuery, _ time.Time) (float64, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
		return 1, nil
	}}
	r := retriever.New(retriever.Config{MaxConcurrent: 2}, []ports.PriceProvider{slow}, nil, nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := r.ClosestPrice(context.Background(), ref, t0)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

type archiveSpy struct {
	mu        sync.Mutex
	providers []string
}

func (a *archiveSpy) ArchiveCandles(_ context.Context, _ domain.TokenRef, provider string, _ domain.CandleSeries) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.providers = append(a.providers, provider)
	return nil
}
