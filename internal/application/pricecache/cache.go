package pricecache

// cache.go — caché write-behind de ventanas de precio.
//
// Lecturas: memoria primero, luego el backend persistente (el hit se sube a memoria).
// Escrituras: Put solo toca memoria y marca la clave como dirty; las dirty se
// escriben en un único SaveWindows al llegar a flushBatch, en cada tick del
// scheduler y al apagar. Una clave vuelve a quedar dirty si se reescribe
// mientras su flush estaba en curso.

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alejandrodnm/calltracker/internal/domain"
	"github.com/alejandrodnm/calltracker/internal/ports"
)

// DefaultFlushBatch es el tamaño de lote por defecto.
const DefaultFlushBatch = 25

// Cache es segura para uso concurrente. store puede ser nil (solo memoria).
type Cache struct {
	store      ports.WindowStore
	flushBatch int

	mu      sync.RWMutex
	entries map[domain.CacheKey]domain.HistoricalPriceWindow
	dirty   map[domain.CacheKey]uint64 // clave → generación del último Put
	gen     uint64

	flushMu sync.Mutex // un flush a la vez
}

// New crea la caché sobre un backend persistente.
func New(store ports.WindowStore, flushBatch int) *Cache {
	if flushBatch <= 0 {
		flushBatch = DefaultFlushBatch
	}
	return &Cache{
		store:      store,
		flushBatch: flushBatch,
		entries:    make(map[domain.CacheKey]domain.HistoricalPriceWindow),
		dirty:      make(map[domain.CacheKey]uint64),
	}
}

// Get devuelve la ventana con Cached=true. Un error del backend se trata como miss.
func (c *Cache) Get(ctx context.Context, key domain.CacheKey) (domain.HistoricalPriceWindow, bool) {
	c.mu.RLock()
	w, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		out := w.Clone()
		out.Cached = true
		return out, true
	}

	if c.store == nil {
		return domain.HistoricalPriceWindow{}, false
	}
	w, ok, err := c.store.LoadWindow(ctx, key)
	if err != nil {
		slog.Warn("price cache load failed", "key", key.String(), "err", err)
		return domain.HistoricalPriceWindow{}, false
	}
	if !ok {
		return domain.HistoricalPriceWindow{}, false
	}

	c.mu.Lock()
	if _, exists := c.entries[key]; !exists {
		c.entries[key] = w.Clone()
	}
	c.mu.Unlock()

	w.Cached = true
	return w, true
}

// Put guarda la ventana en memoria y la marca para el próximo flush.
// Si el lote dirty alcanza flushBatch, escribe en el backend.
func (c *Cache) Put(ctx context.Context, key domain.CacheKey, w domain.HistoricalPriceWindow) {
	w = w.Clone()
	w.Cached = false

	c.mu.Lock()
	c.gen++
	c.entries[key] = w
	c.dirty[key] = c.gen
	pending := len(c.dirty)
	c.mu.Unlock()

	if pending >= c.flushBatch {
		if err := c.Flush(ctx); err != nil {
			slog.Warn("price cache flush failed", "pending", pending, "err", err)
		}
	}
}

// Flush escribe todas las entradas dirty en un solo lote.
// Si falla, las entradas siguen dirty para el próximo intento.
func (c *Cache) Flush(ctx context.Context) error {
	if c.store == nil {
		c.mu.Lock()
		clear(c.dirty)
		c.mu.Unlock()
		return nil
	}

	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	c.mu.RLock()
	batch := make(map[domain.CacheKey]domain.HistoricalPriceWindow, len(c.dirty))
	gens := make(map[domain.CacheKey]uint64, len(c.dirty))
	for k, g := range c.dirty {
		batch[k] = c.entries[k]
		gens[k] = g
	}
	c.mu.RUnlock()

	if len(batch) == 0 {
		return nil
	}
	if err := c.store.SaveWindows(ctx, batch); err != nil {
		return fmt.Errorf("pricecache.Flush: %w", err)
	}

	c.mu.Lock()
	for k, g := range gens {
		if c.dirty[k] == g {
			delete(c.dirty, k)
		}
	}
	c.mu.Unlock()

	slog.Debug("price cache flushed", "windows", len(batch))
	return nil
}

// Pending devuelve cuántas entradas esperan flush.
func (c *Cache) Pending() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.dirty)
}

// Len devuelve cuántas ventanas hay en memoria.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
