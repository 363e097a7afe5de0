package pricefeed

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/alejandrodnm/calltracker/internal/domain"
	"github.com/alejandrodnm/calltracker/internal/ports"
)

const defaultCoinGeckoBase = "https://api.coingecko.com/api/v3"

var coinGeckoPlatforms = networkIDs{
	"ethereum": "ethereum",
	"bsc":      "binance-smart-chain",
	"base":     "base",
	"arbitrum": "arbitrum-one",
	"polygon":  "polygon-pos",
	"optimism": "optimistic-ethereum",
	"solana":   "solana",
}

// CoinGecko sirve histórico general por contrato. Solo devuelve precios,
// así que las velas tienen O=H=L=C.
type CoinGecko struct {
	c *client
}

var _ ports.PriceProvider = (*CoinGecko)(nil)

// NewCoinGecko crea el proveedor. Con API key usa el header demo.
func NewCoinGecko(opts Options) *CoinGecko {
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = 0.4
	}
	c := newClient("coingecko", defaultCoinGeckoBase, opts)
	if opts.APIKey != "" {
		c.headers["x-cg-demo-api-key"] = opts.APIKey
	}
	return &CoinGecko{c: c}
}

func (g *CoinGecko) Name() string { return "coingecko" }

type cgMarketChartResponse struct {
	Prices [][]float64 `json:"prices"`
}

// Candles devuelve una serie de precios entre start y start+days.
// CoinGecko da granularidad horaria para rangos de 1 a 90 días.
func (g *CoinGecko) Candles(ctx context.Context, q ports.PriceQuery, start time.Time, days int) (domain.CandleSeries, error) {
	end := start.Add(time.Duration(days) * 24 * time.Hour)
	candles, err := g.marketChart(ctx, q, start, end)
	if err != nil {
		return domain.CandleSeries{}, err
	}
	interval := time.Hour
	if days > 90 {
		interval = 24 * time.Hour
	}
	return domain.CandleSeries{Candles: candles, Interval: interval}, nil
}

// PointPrice devuelve el último punto ≤ at en un rango de dos horas.
func (g *CoinGecko) PointPrice(ctx context.Context, q ports.PriceQuery, at time.Time) (float64, error) {
	candles, err := g.marketChart(ctx, q, at.Add(-2*time.Hour), at.Add(time.Minute))
	if err != nil {
		return 0, err
	}
	price, ok := closestAtOrBefore(candles, at, 2*time.Hour)
	if !ok {
		return 0, fmt.Errorf("coingecko.PointPrice: %w", domain.ErrEmptyPayload)
	}
	return price, nil
}

func (g *CoinGecko) marketChart(ctx context.Context, q ports.PriceQuery, from, to time.Time) ([]domain.Candle, error) {
	platform, ok := coinGeckoPlatforms.lookup(q.Chain)
	if !ok || q.Address == "" {
		return nil, fmt.Errorf("coingecko: chain %q: %w", q.Chain, domain.ErrUnsupported)
	}

	params := url.Values{}
	params.Set("vs_currency", "usd")
	params.Set("from", fmt.Sprint(from.Unix()))
	params.Set("to", fmt.Sprint(to.Unix()))
	u := fmt.Sprintf("%s/coins/%s/contract/%s/market_chart/range?%s",
		g.c.base, platform, url.PathEscape(q.Address), params.Encode())

	var resp cgMarketChartResponse
	if err := g.c.get(ctx, u, &resp); err != nil {
		return nil, fmt.Errorf("coingecko.marketChart: %w", err)
	}

	candles := make([]domain.Candle, 0, len(resp.Prices))
	for _, p := range resp.Prices {
		if len(p) < 2 || p[1] <= 0 {
			continue
		}
		candles = append(candles, domain.Candle{
			Time:  time.UnixMilli(int64(p[0])).UTC(),
			Open:  p[1],
			High:  p[1],
			Low:   p[1],
			Close: p[1],
		})
	}
	if len(candles) == 0 {
		return nil, fmt.Errorf("coingecko.marketChart: %w", domain.ErrEmptyPayload)
	}
	sortCandles(candles)
	return candles, nil
}
