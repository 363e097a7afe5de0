package tracker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/alejandrodnm/calltracker/internal/domain"
)

// ReconcileStats resume una pasada de back-fill.
type ReconcileStats struct {
	Scanned    int
	Updated    int // señales con algún cambio
	Filled     int // checkpoints completados o corregidos
	NotFound   int
	SaveErrors int
}

type reconcileResult struct {
	scanned  bool
	updated  bool
	filled   int
	notFound bool
	err      error
}

// Reconcile recalcula checkpoints y ATH a partir de OHLC autoritativo.
//
// Sin correct solo completa checkpoints no alcanzados y sube el ATH: correrlo
// dos veces no cambia nada. Con correct reescribe checkpoints ya alcanzados y
// fija el ATH al de la ventana aunque sea menor (corrección de datos).
// Las señales completas se re-finalizan, pero el outcome no se vuelve a
// entregar a la reputación: el cambio solo se notifica con CheckpointUpdated.
func (t *Tracker) Reconcile(ctx context.Context, correct bool) (ReconcileStats, error) {
	now := t.cfg.Now().UTC()
	results := forEachSignal(ctx, t.addresses(), t.cfg.Workers, func(ctx context.Context, addr string) reconcileResult {
		return t.reconcile(ctx, addr, now, correct)
	})

	var (
		stats ReconcileStats
		errs  []error
	)
	for _, r := range results {
		if r.scanned {
			stats.Scanned++
		}
		if r.updated {
			stats.Updated++
		}
		stats.Filled += r.filled
		if r.notFound {
			stats.NotFound++
		}
		if r.err != nil {
			stats.SaveErrors++
			errs = append(errs, r.err)
		}
	}

	slog.Info("tracker: reconciliation done",
		"correct", correct,
		"scanned", stats.Scanned,
		"updated", stats.Updated,
		"filled", stats.Filled,
		"not_found", stats.NotFound,
		"save_errors", stats.SaveErrors,
	)
	return stats, errors.Join(errs...)
}

func (t *Tracker) reconcile(ctx context.Context, addr string, now time.Time, correct bool) reconcileResult {
	e := t.lookup(addr)
	if e == nil {
		return reconcileResult{}
	}

	e.mu.Lock()
	sig := &e.sig
	if now.Before(sig.DueAt(0)) {
		e.mu.Unlock()
		return reconcileResult{}
	}
	res := reconcileResult{scanned: true}

	days := int(domain.TrackingHorizon.Hours() / 24)
	w, err := t.prices.ForwardWindow(ctx, sig.Ref(), sig.EntryAt, days)
	if err != nil {
		e.mu.Unlock()
		res.notFound = errors.Is(err, domain.ErrPriceNotFound)
		slog.Debug("tracker: reconcile window unavailable", "address", addr, "err", err)
		return res
	}

	oldMult, oldCat := sig.ATHMultiplier, sig.Category
	var filled []domain.CheckpointName
	for i := range sig.Checkpoints {
		due := sig.DueAt(i)
		if due.After(now) {
			break
		}
		price, _, ok := w.CheckpointPrice(sig.EntryAt, sig.Checkpoints[i].Offset)
		if !ok {
			continue
		}
		if !sig.Checkpoints[i].Reached {
			if recorded, _ := sig.RecordCheckpoint(i, price, due); recorded {
				filled = append(filled, sig.Checkpoints[i].Name)
			}
			continue
		}
		if correct && sig.OverwriteCheckpoint(i, price, due) {
			filled = append(filled, sig.Checkpoints[i].Name)
		}
	}

	until := sig.EntryAt.Add(domain.TrackingHorizon)
	if now.Before(until) {
		until = now
	}
	athChanged := false
	if athPrice, athAt, ok := w.ATHBefore(until); ok {
		if correct {
			athChanged = sig.ResetATH(athPrice, athAt)
		} else {
			athChanged = sig.RaiseATH(athPrice, athAt)
		}
	}

	if len(filled) == 0 && !athChanged && sig.ATHMultiplier == oldMult {
		e.mu.Unlock()
		return res
	}

	sig.Refinalize()
	sig.UpdatedAt = now
	res.updated = true
	res.filled = len(filled)
	res.err = t.persist(ctx, e)
	event := domain.CheckpointUpdated{
		Address:          addr,
		Channel:          sig.Channel,
		Filled:           filled,
		OldATHMultiplier: oldMult,
		NewATHMultiplier: sig.ATHMultiplier,
		OldCategory:      oldCat,
		NewCategory:      sig.Category,
		Corrected:        correct,
		Provider:         w.Provider,
		At:               now,
	}
	e.mu.Unlock()

	if res.err != nil {
		slog.Error("tracker: persist failed, will retry", "address", addr, "err", res.err)
	}
	slog.Info("tracker: signal reconciled",
		"address", addr, "filled", len(filled),
		"old_ath_multiplier", oldMult, "new_ath_multiplier", event.NewATHMultiplier,
		"provider", w.Provider)
	t.publish(ctx, []domain.Event{event})
	return res
}
