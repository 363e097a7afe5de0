// Package rediscache implementa la caché de ventanas de precio sobre Redis,
// para compartirla entre varias instancias del tracker.
package rediscache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/alejandrodnm/calltracker/internal/domain"
	"github.com/alejandrodnm/calltracker/internal/ports"
)

// DefaultPrefix es el prefijo de las claves de ventana.
const DefaultPrefix = "calltracker:window:"

// WindowStore implementa ports.WindowStore. Cada ventana es un JSON bajo
// prefix + CacheKey.String(), con TTL opcional (0 = sin expiración).
type WindowStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

var _ ports.WindowStore = (*WindowStore)(nil)

// New envuelve un cliente existente.
func New(client *redis.Client, prefix string, ttl time.Duration) *WindowStore {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &WindowStore{client: client, prefix: prefix, ttl: ttl}
}

// Dial conecta a addr y verifica la conexión.
func Dial(ctx context.Context, addr, password string, db int, ttl time.Duration) (*WindowStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     10,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("rediscache.Dial: ping %s: %w", addr, err)
	}
	return New(rdb, DefaultPrefix, ttl), nil
}

func (s *WindowStore) key(k domain.CacheKey) string {
	return s.prefix + k.String()
}

// LoadWindow lee una ventana. Un miss no es error.
func (s *WindowStore) LoadWindow(ctx context.Context, key domain.CacheKey) (domain.HistoricalPriceWindow, bool, error) {
	val, err := s.client.Get(ctx, s.key(key)).Result()
	if err == redis.Nil {
		return domain.HistoricalPriceWindow{}, false, nil
	}
	if err != nil {
		return domain.HistoricalPriceWindow{}, false, fmt.Errorf("rediscache.LoadWindow: get %s: %w", key, err)
	}

	var w domain.HistoricalPriceWindow
	if err := json.Unmarshal([]byte(val), &w); err != nil {
		return domain.HistoricalPriceWindow{}, false, fmt.Errorf("rediscache.LoadWindow: decode %s: %w", key, err)
	}
	return w, true, nil
}

// SaveWindows escribe el lote. Se detiene en el primer error.
func (s *WindowStore) SaveWindows(ctx context.Context, windows map[domain.CacheKey]domain.HistoricalPriceWindow) error {
	for k, w := range windows {
		raw, err := json.Marshal(w)
		if err != nil {
			return fmt.Errorf("rediscache.SaveWindows: marshal %s: %w", k, err)
		}
		if err := s.client.Set(ctx, s.key(k), string(raw), s.ttl).Err(); err != nil {
			return fmt.Errorf("rediscache.SaveWindows: set %s: %w", k, err)
		}
	}
	return nil
}

// Close cierra el cliente.
func (s *WindowStore) Close() error {
	return s.client.Close()
}
