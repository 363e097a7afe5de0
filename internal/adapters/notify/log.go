package notify

import (
	"context"
	"log/slog"

	"github.com/alejandrodnm/calltracker/internal/domain"
)

// LogSubscriber registra cada evento con slog, con atributos estructurados.
type LogSubscriber struct {
	logger *slog.Logger
}

// NewLogSubscriber usa logger, o el logger por defecto si es nil.
func NewLogSubscriber(logger *slog.Logger) *LogSubscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSubscriber{logger: logger}
}

// Handle implementa ports.EventSubscriber.
func (l *LogSubscriber) Handle(ctx context.Context, e domain.Event) {
	attrs := []any{"kind", e.Kind()}

	switch ev := e.(type) {
	case domain.SignalStarted:
		attrs = append(attrs,
			"address", ev.Signal.Address,
			"channel", ev.Signal.Channel,
			"signal_number", ev.Signal.SignalNumber,
			"entry_price", ev.Signal.EntryPrice,
		)
	case domain.CheckpointReached:
		attrs = append(attrs,
			"address", ev.Address,
			"checkpoint", ev.Checkpoint.Name,
			"roi", ev.Checkpoint.ROI,
			"ath_multiplier", ev.ATHMultiplier,
			"provider", ev.Provider,
		)
	case domain.CheckpointUpdated:
		attrs = append(attrs,
			"address", ev.Address,
			"filled", len(ev.Filled),
			"old_ath_multiplier", ev.OldATHMultiplier,
			"new_ath_multiplier", ev.NewATHMultiplier,
			"corrected", ev.Corrected,
		)
	case domain.SignalCompleted:
		attrs = append(attrs,
			"address", ev.Outcome.Address,
			"channel", ev.Outcome.Channel,
			"ath_multiplier", ev.Outcome.ATHMultiplier,
			"category", ev.Outcome.Category,
			"market_tier", ev.Outcome.MarketTier,
		)
	case domain.ReputationChanged:
		attrs = append(attrs,
			"channel", ev.Channel,
			"old_score", ev.OldScore,
			"new_score", ev.NewScore,
			"tier", ev.NewTier,
		)
	}

	l.logger.InfoContext(ctx, "event", attrs...)
}
