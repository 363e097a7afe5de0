package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/calltracker/internal/domain"
)

// PriceQuery es lo que recibe un proveedor: la dirección y el símbolo ya
// resuelto para ese proveedor.
type PriceQuery struct {
	Address string
	Chain   string
	Symbol  string
}

// PriceProvider es la interfaz única de capacidades de un proveedor upstream.
// Un proveedor que no soporta una operación devuelve domain.ErrUnsupported.
type PriceProvider interface {
	// Name identifica al proveedor (proveniencia y mapeo de símbolos).
	Name() string

	// PointPrice devuelve el precio en USD más cercano a at.
	PointPrice(ctx context.Context, q PriceQuery, at time.Time) (float64, error)

	// Candles devuelve velas OHLC desde start durante days días.
	Candles(ctx context.Context, q PriceQuery, start time.Time, days int) (domain.CandleSeries, error)
}

// SymbolMapper resuelve el símbolo correcto de un token para cada proveedor.
type SymbolMapper interface {
	// ProviderSymbol devuelve el símbolo guardado para (address, provider).
	ProviderSymbol(ctx context.Context, address, provider string) (string, bool, error)

	// SaveProviderSymbol persiste el mapeo.
	SaveProviderSymbol(ctx context.Context, address, provider, symbol string) error
}

// WindowStore es el backend persistente de la caché de ventanas.
type WindowStore interface {
	LoadWindow(ctx context.Context, key domain.CacheKey) (domain.HistoricalPriceWindow, bool, error)
	SaveWindows(ctx context.Context, windows map[domain.CacheKey]domain.HistoricalPriceWindow) error
}

// CandleArchive guarda velas ya descargadas como fuente autoritativa para back-fill.
type CandleArchive interface {
	ArchiveCandles(ctx context.Context, ref domain.TokenRef, provider string, series domain.CandleSeries) error
}
