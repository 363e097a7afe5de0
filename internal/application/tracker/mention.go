package tracker

import (
	"context"
	"log/slog"

	"github.com/alejandrodnm/calltracker/internal/domain"
)

// NewMention registra una mención y devuelve el id de la señal afectada.
//
// Política por dirección (last-write-wins):
//   - sin registro: crea la señal #1
//   - registro en TRACKING: lo extiende (MentionCount++), mismo id
//   - registro COMPLETE: lo reemplaza por una señal nueva; el número sigue
//     la secuencia si el canal es el mismo, si no vuelve a 1
//
// Un error de persistencia se devuelve junto al id: el estado en memoria ya
// cambió y el guardado se reintenta en el próximo ciclo.
func (t *Tracker) NewMention(ctx context.Context, m domain.Mention) (string, error) {
	m = m.Normalize()
	if err := m.Validate(); err != nil {
		return "", err
	}
	now := t.cfg.Now().UTC()

	t.mu.Lock()
	e, ok := t.signals[m.Address]
	if !ok {
		e = &entry{}
		t.signals[m.Address] = e
	}
	e.mu.Lock()
	t.mu.Unlock()

	var (
		started bool
		pending *domain.Outcome
	)
	switch {
	case !ok:
		e.sig = domain.NewSignal(m, 1, now)
		started = true
	case !e.sig.IsComplete():
		e.sig.MentionCount++
		e.sig.UpdatedAt = now
		slog.Debug("tracker: mention extends tracking signal",
			"address", m.Address, "channel", m.Channel, "mentions", e.sig.MentionCount)
	default:
		number := 1
		if e.sig.Channel == m.Channel {
			number = e.sig.SignalNumber + 1
		}
		if e.notifyPending {
			o := e.sig.Outcome()
			pending = &o
			e.notifyPending = false
		}
		e.sig = domain.NewSignal(m, number, now)
		started = true
	}

	if started {
		slog.Info("tracker: signal started",
			"address", m.Address, "chain", m.Chain, "symbol", m.Symbol,
			"channel", m.Channel, "signal_number", e.sig.SignalNumber, "entry_price", m.EntryPrice)
	}

	err := t.persist(ctx, e)
	id, snapshot := e.sig.ID, e.sig.Clone()
	e.mu.Unlock()

	if pending != nil {
		t.deliver(ctx, *pending)
	}
	if started {
		t.publish(ctx, []domain.Event{domain.SignalStarted{Signal: snapshot, At: now}})
	}
	return id, err
}
