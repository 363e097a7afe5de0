package pricefeed

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/alejandrodnm/calltracker/internal/domain"
	"github.com/alejandrodnm/calltracker/internal/ports"
)

const defaultCryptoCompareBase = "https://min-api.cryptocompare.com"

// CryptoCompare sirve OHLC general por símbolo. Es el proveedor donde más
// importa el mapeo de símbolos: no conoce direcciones.
type CryptoCompare struct {
	c *client
}

var _ ports.PriceProvider = (*CryptoCompare)(nil)

// NewCryptoCompare crea el proveedor.
func NewCryptoCompare(opts Options) *CryptoCompare {
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = 5
	}
	c := newClient("cryptocompare", defaultCryptoCompareBase, opts)
	if opts.APIKey != "" {
		c.headers["authorization"] = "Apikey " + opts.APIKey
	}
	return &CryptoCompare{c: c}
}

func (c *CryptoCompare) Name() string { return "cryptocompare" }

type ccHistoResponse struct {
	Response string `json:"Response"`
	Message  string `json:"Message"`
	Data     struct {
		Data []struct {
			Time       int64   `json:"time"`
			Open       float64 `json:"open"`
			High       float64 `json:"high"`
			Low        float64 `json:"low"`
			Close      float64 `json:"close"`
			VolumeFrom float64 `json:"volumefrom"`
		} `json:"Data"`
	} `json:"Data"`
}

// Candles usa histohour hasta 2000 velas y histoday para ventanas mayores.
func (c *CryptoCompare) Candles(ctx context.Context, q ports.PriceQuery, start time.Time, days int) (domain.CandleSeries, error) {
	endpoint, interval, limit := "histohour", time.Hour, days*24
	if limit > 2000 {
		endpoint, interval, limit = "histoday", 24*time.Hour, days
	}
	end := start.Add(time.Duration(days) * 24 * time.Hour)

	candles, err := c.histo(ctx, q, endpoint, end, limit)
	if err != nil {
		return domain.CandleSeries{}, err
	}
	return domain.CandleSeries{Candles: candles, Interval: interval}, nil
}

// PointPrice devuelve el cierre de la vela horaria que contiene at.
func (c *CryptoCompare) PointPrice(ctx context.Context, q ports.PriceQuery, at time.Time) (float64, error) {
	candles, err := c.histo(ctx, q, "histohour", at, 2)
	if err != nil {
		return 0, err
	}
	price, ok := closestAtOrBefore(candles, at, 2*time.Hour)
	if !ok {
		return 0, fmt.Errorf("cryptocompare.PointPrice: %w", domain.ErrEmptyPayload)
	}
	return price, nil
}

func (c *CryptoCompare) histo(ctx context.Context, q ports.PriceQuery, endpoint string, to time.Time, limit int) ([]domain.Candle, error) {
	sym := strings.ToUpper(strings.TrimSpace(q.Symbol))
	if sym == "" {
		return nil, fmt.Errorf("cryptocompare: empty symbol: %w", domain.ErrUnsupported)
	}

	params := url.Values{}
	params.Set("fsym", sym)
	params.Set("tsym", "USD")
	params.Set("limit", fmt.Sprint(limit))
	params.Set("toTs", fmt.Sprint(to.Unix()))
	u := fmt.Sprintf("%s/data/v2/%s?%s", c.c.base, endpoint, params.Encode())

	var resp ccHistoResponse
	if err := c.c.get(ctx, u, &resp); err != nil {
		return nil, fmt.Errorf("cryptocompare.histo: %w", err)
	}
	// CryptoCompare devuelve 200 con Response=Error para símbolos desconocidos.
	if resp.Response != "Success" {
		return nil, fmt.Errorf("cryptocompare.histo: %s: %w", resp.Message, domain.ErrEmptyPayload)
	}

	candles := make([]domain.Candle, 0, len(resp.Data.Data))
	for _, d := range resp.Data.Data {
		// Rellena con ceros antes del listado del token.
		if d.Open == 0 && d.High == 0 && d.Close == 0 {
			continue
		}
		candles = append(candles, domain.Candle{
			Time:   time.Unix(d.Time, 0).UTC(),
			Open:   d.Open,
			High:   d.High,
			Low:    d.Low,
			Close:  d.Close,
			Volume: d.VolumeFrom,
		})
	}
	if len(candles) == 0 {
		return nil, fmt.Errorf("cryptocompare.histo: %w", domain.ErrEmptyPayload)
	}
	sortCandles(candles)
	return candles, nil
}
