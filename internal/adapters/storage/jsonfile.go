package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/alejandrodnm/calltracker/internal/domain"
)

// fileState es el contenido completo del archivo JSON.
type fileState struct {
	Signals     map[string]domain.Signal            `json:"signals"`
	Reputations map[string]domain.ChannelReputation `json:"reputations"`
	Symbols     map[string]string                   `json:"symbols"`
	UpdatedAt   time.Time                           `json:"updated_at"`
}

// JSONFileStorage persiste señales, reputaciones y mapeos de símbolos en un
// único archivo JSON. Las ventanas de precio viven solo en memoria.
// Cada escritura reescribe el archivo completo (tmp + rename).
type JSONFileStorage struct {
	*MemoryStorage
	path string
}

// NewJSONFileStorage abre (o crea vacío) el archivo de estado.
func NewJSONFileStorage(path string) (*JSONFileStorage, error) {
	s := &JSONFileStorage{MemoryStorage: NewMemoryStorage(), path: path}

	state, err := loadFileState(path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewJSONFileStorage: %w", err)
	}
	for k, v := range state.Signals {
		s.signals[k] = v
	}
	for k, v := range state.Reputations {
		s.reputations[k] = v
	}
	for k, v := range state.Symbols {
		s.symbols[k] = v
	}
	return s, nil
}

// loadFileState lee el archivo. Si no existe devuelve un estado vacío.
func loadFileState(path string) (fileState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fileState{}, nil
		}
		return fileState{}, fmt.Errorf("read %s: %w", path, err)
	}
	var state fileState
	if err := json.Unmarshal(data, &state); err != nil {
		return fileState{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return state, nil
}

func (s *JSONFileStorage) SaveSignal(ctx context.Context, sig domain.Signal) error {
	if err := s.MemoryStorage.SaveSignal(ctx, sig); err != nil {
		return err
	}
	return s.flush()
}

func (s *JSONFileStorage) SaveReputation(ctx context.Context, r domain.ChannelReputation) error {
	if err := s.MemoryStorage.SaveReputation(ctx, r); err != nil {
		return err
	}
	return s.flush()
}

func (s *JSONFileStorage) SaveProviderSymbol(ctx context.Context, address, provider, symbol string) error {
	if err := s.MemoryStorage.SaveProviderSymbol(ctx, address, provider, symbol); err != nil {
		return err
	}
	return s.flush()
}

// flush serializa el estado bajo read-lock y lo escribe de forma atómica.
func (s *JSONFileStorage) flush() error {
	s.mu.RLock()
	state := fileState{
		Signals:     s.signals,
		Reputations: s.reputations,
		Symbols:     s.symbols,
		UpdatedAt:   time.Now().UTC(),
	}
	data, err := json.MarshalIndent(state, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("storage.flush: marshal: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("storage.flush: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("storage.flush: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("storage.flush: close: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("storage.flush: rename: %w", err)
	}
	return nil
}
