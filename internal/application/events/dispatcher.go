package events

import (
	"context"
	"log/slog"

	"github.com/alejandrodnm/calltracker/internal/domain"
	"github.com/alejandrodnm/calltracker/internal/ports"
)

// Dispatcher entrega cada evento, en orden y de forma síncrona, a sus
// suscriptores. Un suscriptor que hace panic no corta la entrega al resto.
type Dispatcher struct {
	subscribers []ports.EventSubscriber
}

var _ ports.EventPublisher = (*Dispatcher)(nil)

// NewDispatcher crea un dispatcher con sus suscriptores. Los nil se ignoran.
func NewDispatcher(subscribers ...ports.EventSubscriber) *Dispatcher {
	d := &Dispatcher{}
	for _, s := range subscribers {
		if s != nil {
			d.subscribers = append(d.subscribers, s)
		}
	}
	return d
}

// Publish implementa ports.EventPublisher.
func (d *Dispatcher) Publish(ctx context.Context, e domain.Event) {
	for _, s := range d.subscribers {
		d.deliver(ctx, s, e)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, s ports.EventSubscriber, e domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("events: subscriber panicked", "kind", e.Kind(), "panic", r)
		}
	}()
	s.Handle(ctx, e)
}

// SubscriberFunc adapta una función a ports.EventSubscriber.
type SubscriberFunc func(ctx context.Context, e domain.Event)

// Handle implementa ports.EventSubscriber.
func (f SubscriberFunc) Handle(ctx context.Context, e domain.Event) { f(ctx, e) }
