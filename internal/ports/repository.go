package ports

import (
	"context"

	"github.com/alejandrodnm/calltracker/internal/domain"
)

// SignalRepository persiste el estado de las señales, una por dirección
// (last-write-wins por dirección).
type SignalRepository interface {
	// LoadSignals devuelve todas las señales indexadas por dirección.
	LoadSignals(ctx context.Context) (map[string]domain.Signal, error)

	// SaveSignal hace upsert de la señal bajo su dirección.
	SaveSignal(ctx context.Context, s domain.Signal) error

	// ListOutcomes devuelve los outcomes de señales completas. channel="" = todos.
	ListOutcomes(ctx context.Context, channel string) ([]domain.Outcome, error)

	Close() error
}

// ReputationRepository persiste la reputación de cada canal.
type ReputationRepository interface {
	LoadReputations(ctx context.Context) (map[string]domain.ChannelReputation, error)
	SaveReputation(ctx context.Context, r domain.ChannelReputation) error
}

// EventSubscriber recibe notificaciones del core.
type EventSubscriber interface {
	Handle(ctx context.Context, e domain.Event)
}

// EventPublisher entrega eventos a los suscriptores registrados.
type EventPublisher interface {
	Publish(ctx context.Context, e domain.Event)
}
