package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alejandrodnm/calltracker/internal/domain"
	"github.com/alejandrodnm/calltracker/internal/ports"
)

// DefaultStaleHorizon es la edad a partir de la cual CompleteStale cierra una
// señal sin consultar precios: horizonte de tracking más un día de gracia.
const DefaultStaleHorizon = domain.TrackingHorizon + 24*time.Hour

// PriceSource es lo que el tracker necesita del retriever.
type PriceSource interface {
	ClosestPrice(ctx context.Context, ref domain.TokenRef, at time.Time) (float64, string, error)
	ForwardWindow(ctx context.Context, ref domain.TokenRef, entry time.Time, days int) (domain.HistoricalPriceWindow, error)
}

// CompletionHandler recibe el outcome de cada señal completada (el motor de reputación).
type CompletionHandler interface {
	OnSignalCompleted(ctx context.Context, o domain.Outcome) (domain.ChannelReputation, error)
}

// Config contiene la configuración del tracker.
type Config struct {
	Workers      int           // señales evaluadas en paralelo (0 = NumCPU*2)
	StaleHorizon time.Duration // 0 = DefaultStaleHorizon
	Now          func() time.Time
}

// entry es el estado en memoria de una señal. mu es la sección exclusiva por señal.
type entry struct {
	mu  sync.Mutex
	sig domain.Signal

	// dirty: el último SaveSignal falló; se reintenta en el próximo ciclo.
	dirty bool
	// notifyPending: la señal se completó pero el outcome aún no llegó al
	// CompletionHandler (se entrega solo después de persistir).
	notifyPending bool
}

// Tracker es el único que muta señales.
type Tracker struct {
	cfg        Config
	prices     PriceSource
	repo       ports.SignalRepository
	events     ports.EventPublisher
	onComplete CompletionHandler

	mu      sync.RWMutex
	signals map[string]*entry // address → entry
}

// New crea un Tracker. events y onComplete pueden ser nil.
func New(cfg Config, prices PriceSource, repo ports.SignalRepository, events ports.EventPublisher, onComplete CompletionHandler) *Tracker {
	if cfg.StaleHorizon <= 0 {
		cfg.StaleHorizon = DefaultStaleHorizon
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Tracker{
		cfg:        cfg,
		prices:     prices,
		repo:       repo,
		events:     events,
		onComplete: onComplete,
		signals:    make(map[string]*entry),
	}
}

// Load carga el estado persistido. Un fallo de lectura no es fatal: se
// arranca con estado vacío y se loguea como error.
func (t *Tracker) Load(ctx context.Context) {
	loaded, err := t.repo.LoadSignals(ctx)
	if err != nil {
		slog.Error("tracker: load signals failed, starting with empty state", "err", err)
		loaded = nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.signals = make(map[string]*entry, len(loaded))
	tracking := 0
	for addr, sig := range loaded {
		t.signals[addr] = &entry{sig: sig}
		if !sig.IsComplete() {
			tracking++
		}
	}
	slog.Info("tracker: state loaded", "signals", len(loaded), "tracking", tracking)
}

// Get devuelve una copia de la señal de una dirección.
func (t *Tracker) Get(address string) (domain.Signal, bool) {
	e := t.lookup(address)
	if e == nil {
		return domain.Signal{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sig.Clone(), true
}

// Snapshot devuelve copias de todas las señales, ordenadas por entrada.
func (t *Tracker) Snapshot() []domain.Signal {
	entries := t.entries()
	out := make([]domain.Signal, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.sig.Clone())
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntryAt.Before(out[j].EntryAt) })
	return out
}

// Active devuelve cuántas señales están en TRACKING.
func (t *Tracker) Active() int {
	n := 0
	for _, e := range t.entries() {
		e.mu.Lock()
		if !e.sig.IsComplete() {
			n++
		}
		e.mu.Unlock()
	}
	return n
}

func (t *Tracker) lookup(address string) *entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.signals[address]
}

func (t *Tracker) entries() []*entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*entry, 0, len(t.signals))
	for _, e := range t.signals {
		out = append(out, e)
	}
	return out
}

func (t *Tracker) addresses() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.signals))
	for addr := range t.signals {
		out = append(out, addr)
	}
	sort.Strings(out)
	return out
}

// persist guarda la señal. Debe llamarse con e.mu tomado.
func (t *Tracker) persist(ctx context.Context, e *entry) error {
	if err := t.repo.SaveSignal(ctx, e.sig); err != nil {
		e.dirty = true
		return fmt.Errorf("tracker: save %s: %w", e.sig.Address, err)
	}
	e.dirty = false
	return nil
}

func (t *Tracker) publish(ctx context.Context, events []domain.Event) {
	if t.events == nil {
		return
	}
	for _, ev := range events {
		t.events.Publish(ctx, ev)
	}
}

// deliver entrega el outcome al CompletionHandler. Se llama sin e.mu tomado.
func (t *Tracker) deliver(ctx context.Context, o domain.Outcome) {
	if t.onComplete == nil {
		return
	}
	if _, err := t.onComplete.OnSignalCompleted(ctx, o); err != nil {
		slog.Error("tracker: completion handler failed", "address", o.Address, "channel", o.Channel, "err", err)
	}
}
