package pricefeed

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/alejandrodnm/calltracker/internal/domain"
	"github.com/alejandrodnm/calltracker/internal/ports"
)

const defaultGeckoTerminalBase = "https://api.geckoterminal.com/api/v2"

var geckoTerminalNetworks = networkIDs{
	"ethereum": "eth",
	"bsc":      "bsc",
	"base":     "base",
	"arbitrum": "arbitrum",
	"polygon":  "polygon_pos",
	"optimism": "optimism",
	"solana":   "solana",
}

// GeckoTerminal sirve OHLCV on-chain de DEX por dirección de token.
// Usa el pool con más liquidez del token.
type GeckoTerminal struct {
	c     *client
	mu    sync.Mutex
	pools map[string]string // network:address → pool
}

var _ ports.PriceProvider = (*GeckoTerminal)(nil)

// NewGeckoTerminal crea el proveedor. La API pública permite ~30 req/min.
func NewGeckoTerminal(opts Options) *GeckoTerminal {
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = 0.5
	}
	return &GeckoTerminal{
		c:     newClient("geckoterminal", defaultGeckoTerminalBase, opts),
		pools: make(map[string]string),
	}
}

func (g *GeckoTerminal) Name() string { return "geckoterminal" }

type gtPoolsResponse struct {
	Data []struct {
		Attributes struct {
			Address      string `json:"address"`
			ReserveInUSD string `json:"reserve_in_usd"`
		} `json:"attributes"`
	} `json:"data"`
}

type gtOHLCVResponse struct {
	Data struct {
		Attributes struct {
			OHLCVList [][]float64 `json:"ohlcv_list"`
		} `json:"attributes"`
	} `json:"data"`
}

// Candles devuelve velas horarias (o diarias para ventanas > 40 días).
func (g *GeckoTerminal) Candles(ctx context.Context, q ports.PriceQuery, start time.Time, days int) (domain.CandleSeries, error) {
	network, pool, err := g.resolvePool(ctx, q)
	if err != nil {
		return domain.CandleSeries{}, err
	}

	timeframe, interval, limit := "hour", time.Hour, days*24+1
	if days > 40 {
		timeframe, interval, limit = "day", 24*time.Hour, days+1
	}
	if limit > 1000 {
		limit = 1000
	}
	end := start.Add(time.Duration(days) * 24 * time.Hour)

	candles, err := g.ohlcv(ctx, network, pool, q.Address, timeframe, end, limit)
	if err != nil {
		return domain.CandleSeries{}, err
	}
	out := candles[:0]
	for _, c := range candles {
		if !c.Time.Before(start.Add(-interval)) {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return domain.CandleSeries{}, fmt.Errorf("geckoterminal.Candles: %w", domain.ErrEmptyPayload)
	}
	return domain.CandleSeries{Candles: out, Interval: interval}, nil
}

// PointPrice devuelve el cierre de la vela horaria que contiene at.
func (g *GeckoTerminal) PointPrice(ctx context.Context, q ports.PriceQuery, at time.Time) (float64, error) {
	network, pool, err := g.resolvePool(ctx, q)
	if err != nil {
		return 0, err
	}
	candles, err := g.ohlcv(ctx, network, pool, q.Address, "hour", at.Add(time.Hour), 3)
	if err != nil {
		return 0, err
	}
	price, ok := closestAtOrBefore(candles, at, 2*time.Hour)
	if !ok {
		return 0, fmt.Errorf("geckoterminal.PointPrice: %w", domain.ErrEmptyPayload)
	}
	return price, nil
}

func (g *GeckoTerminal) resolvePool(ctx context.Context, q ports.PriceQuery) (string, string, error) {
	network, ok := geckoTerminalNetworks.lookup(q.Chain)
	if !ok || q.Address == "" {
		return "", "", fmt.Errorf("geckoterminal: chain %q: %w", q.Chain, domain.ErrUnsupported)
	}
	key := network + ":" + q.Address

	g.mu.Lock()
	pool, cached := g.pools[key]
	g.mu.Unlock()
	if cached {
		return network, pool, nil
	}

	var resp gtPoolsResponse
	u := fmt.Sprintf("%s/networks/%s/tokens/%s/pools?page=1", g.c.base, network, url.PathEscape(q.Address))
	if err := g.c.get(ctx, u, &resp); err != nil {
		return "", "", fmt.Errorf("geckoterminal.resolvePool: %w", err)
	}
	if len(resp.Data) == 0 || resp.Data[0].Attributes.Address == "" {
		return "", "", fmt.Errorf("geckoterminal.resolvePool: no pools: %w", domain.ErrEmptyPayload)
	}
	// La API ya ordena por liquidez; el primero es el pool principal.
	pool = resp.Data[0].Attributes.Address

	g.mu.Lock()
	g.pools[key] = pool
	g.mu.Unlock()
	return network, pool, nil
}

func (g *GeckoTerminal) ohlcv(ctx context.Context, network, pool, token, timeframe string, before time.Time, limit int) ([]domain.Candle, error) {
	params := url.Values{}
	params.Set("aggregate", "1")
	params.Set("before_timestamp", fmt.Sprint(before.Unix()))
	params.Set("limit", fmt.Sprint(limit))
	params.Set("currency", "usd")
	params.Set("token", token)
	u := fmt.Sprintf("%s/networks/%s/pools/%s/ohlcv/%s?%s", g.c.base, network, url.PathEscape(pool), timeframe, params.Encode())

	var resp gtOHLCVResponse
	if err := g.c.get(ctx, u, &resp); err != nil {
		return nil, fmt.Errorf("geckoterminal.ohlcv: %w", err)
	}

	rows := resp.Data.Attributes.OHLCVList
	candles := make([]domain.Candle, 0, len(rows))
	for _, r := range rows {
		if len(r) < 5 {
			continue
		}
		c := domain.Candle{
			Time:  time.Unix(int64(r[0]), 0).UTC(),
			Open:  r[1],
			High:  r[2],
			Low:   r[3],
			Close: r[4],
		}
		if len(r) > 5 {
			c.Volume = r[5]
		}
		candles = append(candles, c)
	}
	if len(candles) == 0 {
		return nil, fmt.Errorf("geckoterminal.ohlcv: %w", domain.ErrEmptyPayload)
	}
	sortCandles(candles)
	return candles, nil
}
