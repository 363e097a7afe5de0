package pricefeed

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/alejandrodnm/calltracker/internal/domain"
	"github.com/alejandrodnm/calltracker/internal/ports"
)

const (
	defaultDexScreenerBase = "https://api.dexscreener.com"

	// DexScreener solo da precio actual: se acepta para consultas cercanas a now.
	dexScreenerFreshness = 15 * time.Minute
)

var dexScreenerChains = networkIDs{
	"ethereum": "ethereum",
	"bsc":      "bsc",
	"base":     "base",
	"arbitrum": "arbitrum",
	"polygon":  "polygon",
	"optimism": "optimism",
	"solana":   "solana",
}

// DexScreener sirve el precio spot on-chain de un token. No tiene histórico.
type DexScreener struct {
	c   *client
	now func() time.Time
}

var _ ports.PriceProvider = (*DexScreener)(nil)

// NewDexScreener crea el proveedor (límite documentado 300 req/min).
func NewDexScreener(opts Options) *DexScreener {
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = 3
	}
	return &DexScreener{c: newClient("dexscreener", defaultDexScreenerBase, opts), now: opts.clock()}
}

func (d *DexScreener) Name() string { return "dexscreener" }

type dsTokensResponse struct {
	Pairs []struct {
		ChainID   string `json:"chainId"`
		PriceUSD  string `json:"priceUsd"`
		BaseToken struct {
			Address string `json:"address"`
		} `json:"baseToken"`
		Liquidity struct {
			USD float64 `json:"usd"`
		} `json:"liquidity"`
	} `json:"pairs"`
}

// PointPrice devuelve el priceUsd del par con más liquidez en la cadena pedida.
func (d *DexScreener) PointPrice(ctx context.Context, q ports.PriceQuery, at time.Time) (float64, error) {
	chainID, ok := dexScreenerChains.lookup(q.Chain)
	if !ok || q.Address == "" {
		return 0, fmt.Errorf("dexscreener: chain %q: %w", q.Chain, domain.ErrUnsupported)
	}
	if age := d.now().Sub(at); age > dexScreenerFreshness || age < -dexScreenerFreshness {
		return 0, fmt.Errorf("dexscreener: historical price at %s: %w", at.UTC().Format(time.RFC3339), domain.ErrUnsupported)
	}

	var resp dsTokensResponse
	u := fmt.Sprintf("%s/latest/dex/tokens/%s", d.c.base, url.PathEscape(q.Address))
	if err := d.c.get(ctx, u, &resp); err != nil {
		return 0, fmt.Errorf("dexscreener.PointPrice: %w", err)
	}

	var best, bestLiq float64
	for _, p := range resp.Pairs {
		if p.ChainID != chainID {
			continue
		}
		price, err := strconv.ParseFloat(p.PriceUSD, 64)
		if err != nil || price <= 0 {
			continue
		}
		if best == 0 || p.Liquidity.USD > bestLiq {
			best, bestLiq = price, p.Liquidity.USD
		}
	}
	if best == 0 {
		return 0, fmt.Errorf("dexscreener.PointPrice: %w", domain.ErrEmptyPayload)
	}
	return best, nil
}

func (d *DexScreener) Candles(context.Context, ports.PriceQuery, time.Time, int) (domain.CandleSeries, error) {
	return domain.CandleSeries{}, fmt.Errorf("dexscreener: candles: %w", domain.ErrUnsupported)
}
