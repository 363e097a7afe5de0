package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/calltracker/internal/domain"
)

// CycleStats resume un ciclo de evaluación.
type CycleStats struct {
	Evaluated  int // señales en TRACKING visitadas
	Reached    int // checkpoints alcanzados
	Completed  int
	NotFound   int // señales con algún precio no encontrado (se reintenta)
	SaveErrors int
}

type evalResult struct {
	evaluated bool
	reached   int
	completed bool
	notFound  bool
	err       error
}

// EvaluateDue evalúa todos los checkpoints vencidos de todas las señales.
// También reintenta los guardados y entregas pendientes de ciclos previos.
// Los errores de escritura se devuelven agregados; el ciclo no se interrumpe.
func (t *Tracker) EvaluateDue(ctx context.Context) (CycleStats, error) {
	now := t.cfg.Now().UTC()
	results := forEachSignal(ctx, t.addresses(), t.cfg.Workers, func(ctx context.Context, addr string) evalResult {
		return t.evaluate(ctx, addr, now)
	})

	var (
		stats CycleStats
		errs  []error
	)
	for _, r := range results {
		if r.evaluated {
			stats.Evaluated++
		}
		stats.Reached += r.reached
		if r.completed {
			stats.Completed++
		}
		if r.notFound {
			stats.NotFound++
		}
		if r.err != nil {
			stats.SaveErrors++
			errs = append(errs, r.err)
		}
	}

	slog.Info("tracker: evaluation cycle done",
		"evaluated", stats.Evaluated,
		"reached", stats.Reached,
		"completed", stats.Completed,
		"not_found", stats.NotFound,
		"save_errors", stats.SaveErrors,
	)
	if err := ctx.Err(); err != nil {
		errs = append(errs, err)
	}
	return stats, errors.Join(errs...)
}

// evaluate avanza una señal bajo su sección exclusiva.
func (t *Tracker) evaluate(ctx context.Context, addr string, now time.Time) evalResult {
	e := t.lookup(addr)
	if e == nil {
		return evalResult{}
	}

	e.mu.Lock()
	if e.sig.IsComplete() {
		res, outcome := t.retryCompleted(ctx, e)
		e.mu.Unlock()
		if outcome != nil {
			t.afterComplete(ctx, *outcome, now)
		}
		return res
	}

	res := evalResult{evaluated: true}
	changed := e.dirty
	ref := e.sig.Ref()
	var events []domain.Event

	// En orden creciente de tiempo; se corta en el primer precio no disponible.
	for _, i := range e.sig.DueCheckpoints(now) {
		at := e.sig.DueAt(i)
		price, provider, err := t.prices.ClosestPrice(ctx, ref, at)
		if err != nil {
			if errors.Is(err, domain.ErrPriceNotFound) {
				res.notFound = true
				slog.Debug("tracker: checkpoint price not found, retry next cycle",
					"address", addr, "checkpoint", e.sig.Checkpoints[i].Name)
			} else {
				slog.Warn("tracker: checkpoint price failed", "address", addr, "err", err)
			}
			break
		}

		recorded, raised := e.sig.RecordCheckpoint(i, price, at)
		if !recorded {
			continue
		}
		changed = true
		res.reached++
		cp := e.sig.Checkpoints[i]
		slog.Info("tracker: checkpoint reached",
			"address", addr, "channel", e.sig.Channel, "checkpoint", cp.Name,
			"roi", cp.ROI, "ath_multiplier", e.sig.ATHMultiplier, "provider", provider)
		events = append(events, domain.CheckpointReached{
			Address:       addr,
			Channel:       e.sig.Channel,
			Symbol:        e.sig.Symbol,
			Checkpoint:    cp,
			ATHMultiplier: e.sig.ATHMultiplier,
			ATHRaised:     raised,
			Provider:      provider,
			At:            now,
		})
	}

	// Se cierra al horizonte solo con el último checkpoint alcanzado; si su
	// precio falta, la señal sigue en TRACKING y CompleteStale la fuerza tras
	// la gracia.
	var outcome *domain.Outcome
	if e.sig.HorizonElapsed(now) && e.sig.Checkpoints[len(e.sig.Checkpoints)-1].Reached {
		o, err := t.completeLocked(ctx, e, now)
		res.completed = true
		if err != nil {
			res.err = err
		} else {
			outcome = &o
		}
	} else if changed {
		e.sig.UpdatedAt = now
		res.err = t.persist(ctx, e)
	}
	e.mu.Unlock()

	if res.err != nil {
		slog.Error("tracker: persist failed, will retry", "address", addr, "err", res.err)
	}
	t.publish(ctx, events)
	if outcome != nil {
		t.afterComplete(ctx, *outcome, now)
	}
	return res
}

// retryCompleted reintenta el guardado y la entrega de una señal ya completa.
// Con e.mu tomado. Devuelve el outcome a entregar, si corresponde.
func (t *Tracker) retryCompleted(ctx context.Context, e *entry) (evalResult, *domain.Outcome) {
	if e.dirty {
		if err := t.persist(ctx, e); err != nil {
			return evalResult{err: err}, nil
		}
	}
	if !e.notifyPending {
		return evalResult{}, nil
	}
	e.notifyPending = false
	o := e.sig.Outcome()
	return evalResult{}, &o
}

// completeLocked cierra y persiste la señal. Con e.mu tomado.
// Si el guardado falla, la entrega del outcome queda pendiente.
func (t *Tracker) completeLocked(ctx context.Context, e *entry, now time.Time) (domain.Outcome, error) {
	e.sig.Complete(now)
	e.sig.UpdatedAt = now
	o := e.sig.Outcome()
	if err := t.persist(ctx, e); err != nil {
		e.notifyPending = true
		return o, err
	}
	return o, nil
}

// afterComplete publica y entrega el outcome. Sin e.mu tomado.
func (t *Tracker) afterComplete(ctx context.Context, o domain.Outcome, now time.Time) {
	slog.Info("tracker: signal completed",
		"address", o.Address, "channel", o.Channel, "ath_multiplier", o.ATHMultiplier,
		"category", o.Category, "days_to_ath", o.DaysToATH)
	t.publish(ctx, []domain.Event{domain.SignalCompleted{Outcome: o, At: now}})
	t.deliver(ctx, o)
}

// Complete detiene el tracking de una señal (parada externa) y la cierra con
// el ATH que tenga.
func (t *Tracker) Complete(ctx context.Context, address string) (domain.Outcome, error) {
	e := t.lookup(address)
	if e == nil {
		return domain.Outcome{}, fmt.Errorf("tracker.Complete: %s: %w", address, domain.ErrSignalNotFound)
	}
	now := t.cfg.Now().UTC()

	e.mu.Lock()
	if e.sig.IsComplete() {
		e.mu.Unlock()
		return domain.Outcome{}, fmt.Errorf("tracker.Complete: %s: %w", address, domain.ErrSignalComplete)
	}
	o, err := t.completeLocked(ctx, e, now)
	e.mu.Unlock()

	if err != nil {
		return o, fmt.Errorf("tracker.Complete: %w", err)
	}
	t.afterComplete(ctx, o, now)
	return o, nil
}

// CompleteStale cierra, sin consultar precios, las señales en TRACKING cuya
// entrada es más antigua que StaleHorizon. Devuelve cuántas cerró.
func (t *Tracker) CompleteStale(ctx context.Context) (int, error) {
	now := t.cfg.Now().UTC()
	cutoff := now.Add(-t.cfg.StaleHorizon)

	var (
		closed int
		errs   []error
	)
	for _, e := range t.entries() {
		e.mu.Lock()
		if e.sig.IsComplete() || e.sig.EntryAt.After(cutoff) {
			e.mu.Unlock()
			continue
		}
		o, err := t.completeLocked(ctx, e, now)
		e.mu.Unlock()

		closed++
		if err != nil {
			errs = append(errs, err)
			continue
		}
		t.afterComplete(ctx, o, now)
	}

	if closed > 0 {
		slog.Info("tracker: stale signals completed", "count", closed, "horizon", t.cfg.StaleHorizon)
	}
	return closed, errors.Join(errs...)
}
