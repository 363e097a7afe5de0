package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/alejandrodnm/calltracker/internal/domain"
	"github.com/alejandrodnm/calltracker/internal/ports"
)

// MemoryStorage es una implementación en memoria de todos los repositorios.
// Se usa en tests y en modo dry-run. Guarda y devuelve copias.
type MemoryStorage struct {
	mu          sync.RWMutex
	signals     map[string]domain.Signal
	reputations map[string]domain.ChannelReputation
	windows     map[domain.CacheKey]domain.HistoricalPriceWindow
	symbols     map[string]string // address|provider → symbol
}

var (
	_ ports.SignalRepository     = (*MemoryStorage)(nil)
	_ ports.ReputationRepository = (*MemoryStorage)(nil)
	_ ports.WindowStore          = (*MemoryStorage)(nil)
	_ ports.SymbolMapper         = (*MemoryStorage)(nil)
)

// NewMemoryStorage crea un almacenamiento vacío.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		signals:     make(map[string]domain.Signal),
		reputations: make(map[string]domain.ChannelReputation),
		windows:     make(map[domain.CacheKey]domain.HistoricalPriceWindow),
		symbols:     make(map[string]string),
	}
}

func (s *MemoryStorage) LoadSignals(_ context.Context) (map[string]domain.Signal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]domain.Signal, len(s.signals))
	for k, v := range s.signals {
		out[k] = v.Clone()
	}
	return out, nil
}

func (s *MemoryStorage) SaveSignal(_ context.Context, sig domain.Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signals[sig.Address] = sig.Clone()
	return nil
}

func (s *MemoryStorage) ListOutcomes(_ context.Context, channel string) ([]domain.Outcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Outcome
	for _, sig := range s.signals {
		if !sig.IsComplete() || (channel != "" && sig.Channel != channel) {
			continue
		}
		out = append(out, sig.Outcome())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CompletedAt.After(out[j].CompletedAt) })
	return out, nil
}

func (s *MemoryStorage) LoadReputations(_ context.Context) (map[string]domain.ChannelReputation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]domain.ChannelReputation, len(s.reputations))
	for k, v := range s.reputations {
		out[k] = v
	}
	return out, nil
}

func (s *MemoryStorage) SaveReputation(_ context.Context, r domain.ChannelReputation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reputations[r.Channel] = r
	return nil
}

func (s *MemoryStorage) LoadWindow(_ context.Context, key domain.CacheKey) (domain.HistoricalPriceWindow, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.windows[key]
	if !ok {
		return domain.HistoricalPriceWindow{}, false, nil
	}
	return w.Clone(), true, nil
}

func (s *MemoryStorage) SaveWindows(_ context.Context, windows map[domain.CacheKey]domain.HistoricalPriceWindow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, w := range windows {
		s.windows[k] = w.Clone()
	}
	return nil
}

func (s *MemoryStorage) ProviderSymbol(_ context.Context, address, provider string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sym, ok := s.symbols[address+"|"+provider]
	return sym, ok, nil
}

func (s *MemoryStorage) SaveProviderSymbol(_ context.Context, address, provider, symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.symbols[address+"|"+provider] = symbol
	return nil
}

func (s *MemoryStorage) Close() error { return nil }
