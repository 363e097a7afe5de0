package retriever

// retriever.go — precio puntual y ventanas OHLC con fallback entre proveedores.
//
// Cada llamada recorre los proveedores en orden de prioridad. Un intento falla
// de forma "blanda" (log + siguiente proveedor) ante error de red, status != 200,
// payload vacío, capacidad no soportada o timeout. Solo cuando se agotan todos
// se devuelve domain.ErrPriceNotFound; el reintento es cosa del llamador.
//
// Cada proveedor tiene su circuit breaker: tras N fallos de transporte
// consecutivos se salta durante un cooldown. ErrUnsupported y ErrEmptyPayload
// no cuentan como fallos (el proveedor respondió bien, solo no tiene el dato).
//
// Las ventanas se piden desde el inicio del día UTC de la entrada y se cachean
// por (símbolo, día, días); al leer se re-anclan a la entrada exacta y se
// cortan en entry+days. Solo se
// cachean ventanas cuyo rango ya había transcurrido al descargarlas: una
// ventana parcial cacheada ocultaría los datos que lleguen después.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/sync/semaphore"

	"github.com/alejandrodnm/calltracker/internal/application/pricecache"
	"github.com/alejandrodnm/calltracker/internal/domain"
	"github.com/alejandrodnm/calltracker/internal/ports"
)

// Defaults.
const (
	DefaultTimeout         = 12 * time.Second
	DefaultMaxConcurrent   = 8
	DefaultBreakerFailures = 5
	DefaultBreakerCooldown = time.Minute
)

// Resultados de un intento, para logs y métricas.
const (
	OutcomeOK          = "ok"
	OutcomeError       = "error"
	OutcomeTimeout     = "timeout"
	OutcomeUnsupported = "unsupported"
	OutcomeEmpty       = "empty"
	OutcomeOpen        = "breaker_open"
)

// Operaciones.
const (
	OpPoint  = "point"
	OpWindow = "window"
)

// Observer recibe cada intento y cada consulta a la caché.
type Observer interface {
	ObserveAttempt(provider, op, outcome string, elapsed time.Duration)
	ObserveCache(hit bool)
}

type noopObserver struct{}

func (noopObserver) ObserveAttempt(string, string, string, time.Duration) {}
func (noopObserver) ObserveCache(bool)                                    {}

// Config contiene la configuración del retriever.
type Config struct {
	Timeout         time.Duration // por intento
	MaxConcurrent   int           // fetches simultáneos contra upstream
	BreakerFailures uint32        // fallos consecutivos para abrir el breaker
	BreakerCooldown time.Duration // tiempo en estado abierto
	Now             func() time.Time
}

func (c *Config) setDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = DefaultMaxConcurrent
	}
	if c.BreakerFailures == 0 {
		c.BreakerFailures = DefaultBreakerFailures
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = DefaultBreakerCooldown
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Retriever es seguro para uso concurrente.
type Retriever struct {
	cfg       Config
	providers []ports.PriceProvider
	breakers  map[string]*gobreaker.CircuitBreaker
	cache     *pricecache.Cache
	symbols   ports.SymbolMapper // opcional
	archive   ports.CandleArchive
	sem       *semaphore.Weighted
	observer  Observer
}

// New crea el retriever. symbols y archive pueden ser nil.
func New(
	cfg Config,
	providers []ports.PriceProvider,
	cache *pricecache.Cache,
	symbols ports.SymbolMapper,
	archive ports.CandleArchive,
) *Retriever {
	cfg.setDefaults()
	if cache == nil {
		cache = pricecache.New(nil, 0)
	}

	r := &Retriever{
		cfg:       cfg,
		providers: providers,
		breakers:  make(map[string]*gobreaker.CircuitBreaker, len(providers)),
		cache:     cache,
		symbols:   symbols,
		archive:   archive,
		sem:       semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		observer:  noopObserver{},
	}
	for _, p := range providers {
		r.breakers[p.Name()] = newBreaker(p.Name(), cfg)
	}
	return r
}

func newBreaker(name string, cfg Config) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("provider breaker state change", "provider", name, "from", from.String(), "to", to.String())
		},
	})
}

// SetObserver registra el observador de métricas.
func (r *Retriever) SetObserver(o Observer) {
	if o == nil {
		o = noopObserver{}
	}
	r.observer = o
}

// Providers devuelve los nombres en orden de prioridad.
func (r *Retriever) Providers() []string {
	names := make([]string, len(r.providers))
	for i, p := range r.providers {
		names[i] = p.Name()
	}
	return names
}

// Flush persiste las ventanas pendientes de la caché.
func (r *Retriever) Flush(ctx context.Context) error {
	return r.cache.Flush(ctx)
}

// ClosestPrice devuelve el precio más cercano a at y el proveedor que lo dio.
func (r *Retriever) ClosestPrice(ctx context.Context, ref domain.TokenRef, at time.Time) (float64, string, error) {
	at = at.UTC()
	for _, p := range r.providers {
		if err := ctx.Err(); err != nil {
			return 0, "", fmt.Errorf("retriever.ClosestPrice: %w", err)
		}

		q := r.query(ctx, ref, p.Name())
		res, err := r.attempt(ctx, p, OpPoint, func(ctx context.Context) (any, error) {
			price, err := p.PointPrice(ctx, q, at)
			if err == nil && price <= 0 {
				err = fmt.Errorf("non-positive price %v: %w", price, domain.ErrEmptyPayload)
			}
			return price, err
		})
		if err != nil {
			if ctx.Err() != nil {
				return 0, "", fmt.Errorf("retriever.ClosestPrice: %w", ctx.Err())
			}
			continue
		}
		return res.(float64), p.Name(), nil
	}
	return 0, "", fmt.Errorf("retriever.ClosestPrice: %s at %s: %w", ref.Address, at.Format(time.RFC3339), domain.ErrPriceNotFound)
}

// ForwardWindow devuelve la trayectoria desde entry durante days días.
func (r *Retriever) ForwardWindow(ctx context.Context, ref domain.TokenRef, entry time.Time, days int) (domain.HistoricalPriceWindow, error) {
	entry = entry.UTC()
	if days <= 0 {
		days = int(domain.TrackingHorizon.Hours() / 24)
	}

	key := domain.NewCacheKey(ref.CacheSymbol(), entry, days)
	end := entry.Add(time.Duration(days) * 24 * time.Hour)
	if w, ok := r.cache.Get(ctx, key); ok {
		r.observer.ObserveCache(true)
		return w.Rebase(entry, end), nil
	}
	r.observer.ObserveCache(false)

	// Un día extra para cubrir entry+days desde el inicio del bucket.
	start := domain.DayBucket(entry)
	fetchDays := days + 1
	fetchEnd := start.Add(time.Duration(fetchDays) * 24 * time.Hour)

	for _, p := range r.providers {
		if err := ctx.Err(); err != nil {
			return domain.HistoricalPriceWindow{}, fmt.Errorf("retriever.ForwardWindow: %w", err)
		}

		q := r.query(ctx, ref, p.Name())
		res, err := r.attempt(ctx, p, OpWindow, func(ctx context.Context) (any, error) {
			series, err := p.Candles(ctx, q, start, fetchDays)
			if err != nil {
				return nil, err
			}
			w := domain.NewWindow(ref.CacheSymbol(), start, series, p.Name())
			if w.Empty() {
				return nil, fmt.Errorf("no candles after %s: %w", start.Format(time.DateOnly), domain.ErrEmptyPayload)
			}
			return fetched{series: series, window: w}, nil
		})
		if err != nil {
			if ctx.Err() != nil {
				return domain.HistoricalPriceWindow{}, fmt.Errorf("retriever.ForwardWindow: %w", ctx.Err())
			}
			continue
		}

		f := res.(fetched)
		if !r.cfg.Now().Before(fetchEnd) {
			r.cache.Put(ctx, key, f.window)
		}
		r.archiveCandles(ctx, ref, p.Name(), f.series)
		return f.window.Rebase(entry, end), nil
	}
	return domain.HistoricalPriceWindow{}, fmt.Errorf("retriever.ForwardWindow: %s from %s: %w",
		ref.Address, entry.Format(time.RFC3339), domain.ErrPriceNotFound)
}

type fetched struct {
	series domain.CandleSeries
	window domain.HistoricalPriceWindow
}

// softMiss envuelve errores que no deben abrir el breaker.
type softMiss struct{ err error }

// attempt ejecuta una llamada con semáforo, timeout y breaker. Los fallos son
// blandos: se loguean y se devuelven para que el llamador pruebe el siguiente.
func (r *Retriever) attempt(ctx context.Context, p ports.PriceProvider, op string, fn func(context.Context) (any, error)) (any, error) {
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer r.sem.Release(1)

	callCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	started := time.Now()
	res, err := r.breakers[p.Name()].Execute(func() (interface{}, error) {
		v, err := fn(callCtx)
		if errors.Is(err, domain.ErrUnsupported) || errors.Is(err, domain.ErrEmptyPayload) {
			return softMiss{err: err}, nil
		}
		return v, err
	})
	if miss, ok := res.(softMiss); ok && err == nil {
		err = miss.err
	}
	elapsed := time.Since(started)

	outcome := classify(callCtx, err)
	r.observer.ObserveAttempt(p.Name(), op, outcome, elapsed)

	switch outcome {
	case OutcomeOK:
		return res, nil
	case OutcomeUnsupported, OutcomeEmpty, OutcomeOpen:
		slog.Debug("provider skipped", "provider", p.Name(), "op", op, "outcome", outcome, "err", err)
	default:
		slog.Warn("provider attempt failed", "provider", p.Name(), "op", op, "outcome", outcome,
			"elapsed", elapsed, "err", err)
	}
	return nil, err
}

func classify(callCtx context.Context, err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return OutcomeOpen
	case errors.Is(err, domain.ErrUnsupported):
		return OutcomeUnsupported
	case errors.Is(err, domain.ErrEmptyPayload):
		return OutcomeEmpty
	case errors.Is(err, context.DeadlineExceeded), errors.Is(callCtx.Err(), context.DeadlineExceeded):
		return OutcomeTimeout
	default:
		return OutcomeError
	}
}

// query resuelve el símbolo del token para el proveedor. Sin mapeo usa el
// símbolo del llamador.
func (r *Retriever) query(ctx context.Context, ref domain.TokenRef, provider string) ports.PriceQuery {
	q := ports.PriceQuery{Address: ref.Address, Chain: ref.Chain, Symbol: ref.Symbol}
	if r.symbols == nil {
		return q
	}
	sym, ok, err := r.symbols.ProviderSymbol(ctx, ref.Address, provider)
	if err != nil {
		slog.Debug("symbol mapping lookup failed", "address", ref.Address, "provider", provider, "err", err)
		return q
	}
	if ok && sym != "" {
		q.Symbol = sym
	}
	return q
}

// archiveCandles guarda las velas descargadas. Best-effort: un fallo solo se loguea.
func (r *Retriever) archiveCandles(ctx context.Context, ref domain.TokenRef, provider string, series domain.CandleSeries) {
	if r.archive == nil || provider == "archive" {
		return
	}
	if err := r.archive.ArchiveCandles(ctx, ref, provider, series); err != nil {
		slog.Warn("candle archive failed", "address", ref.Address, "provider", provider, "err", err)
	}
}
