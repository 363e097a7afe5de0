package notify_test

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alejandrodnm/calltracker/internal/adapters/notify"
	"github.com/alejandrodnm/calltracker/internal/domain"
)

var t0 = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

const addr = "0x6982508145454ce325ddbe47a25d4ec3d2311933"

func fixedNow() time.Time { return t0 }

func TestConsole_HandleLifecycleLines(t *testing.T) {
	var buf bytes.Buffer
	c := notify.NewConsoleWriter(&buf, fixedNow)
	ctx := context.Background()

	sig := domain.NewSignal(domain.Mention{
		Address: addr, Chain: "ethereum", Symbol: "PEPE", EntryPrice: 0.00001, EntryAt: t0, Channel: "alpha",
	}, 1, t0)
	c.Handle(ctx, domain.SignalStarted{Signal: sig, At: t0})
	c.Handle(ctx, domain.CheckpointReached{
		Address: addr, Symbol: "PEPE",
		Checkpoint:    domain.CheckpointRecord{Name: domain.Checkpoint24h, ROI: 2.5},
		ATHMultiplier: 2.5, ATHRaised: true, Provider: "geckoterminal",
	})
	c.Handle(ctx, domain.SignalCompleted{Outcome: domain.Outcome{
		Address: addr, Symbol: "PEPE", Channel: "alpha", ATHMultiplier: 2.5,
		Category: domain.CategoryWinner, PeakTiming: domain.EarlyPeaker, DaysToATH: 1,
	}})
	c.Handle(ctx, domain.ReputationChanged{Channel: "alpha", OldScore: 50, NewScore: 54, NewTier: domain.TierReliable})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 4)
	assert.Contains(t, lines[0], "[12:00:00] START PEPE 0x6982…1933 ethereum by alpha #1")
	assert.Contains(t, lines[1], "CP 24h")
	assert.Contains(t, lines[1], "2.50x")
	assert.Contains(t, lines[1], "new ATH via geckoterminal")
	assert.Contains(t, lines[2], "DONE PEPE")
	assert.Contains(t, lines[2], "winner early_peaker 1.0d")
	assert.Contains(t, lines[3], "REP alpha 50.0→54.0 (Reliable)")
}

func TestConsole_HandleBackfillCorrection(t *testing.T) {
	var buf bytes.Buffer
	c := notify.NewConsoleWriter(&buf, fixedNow)

	c.Handle(context.Background(), domain.CheckpointUpdated{
		Address: addr, Filled: []domain.CheckpointName{domain.Checkpoint1h},
		OldATHMultiplier: 8, NewATHMultiplier: 1.8,
		OldCategory: domain.CategoryWinner, NewCategory: domain.CategoryLoser,
		Corrected: true,
	})

	out := buf.String()
	assert.Contains(t, out, "CORRECT 0x6982…1933 filled:1 ath 8.00x→1.80x winner→loser")
}

func TestConsole_PrintRanking(t *testing.T) {
	var buf bytes.Buffer
	c := notify.NewConsoleWriter(&buf, fixedNow)

	strong := domain.NewChannelReputation("alpha_calls", 72)
	strong.TotalSignals, strong.Wins, strong.ROIMean = 10, 6, 3.2
	fresh := domain.NewChannelReputation("new_channel_with_a_very_long_name", 50)

	c.PrintRanking([]domain.ChannelReputation{strong, fresh}, func(r domain.ChannelReputation) (float64, bool) {
		if r.TotalSignals < 3 {
			return 0, false
		}
		return 1.25, true
	})

	out := buf.String()
	assert.Contains(t, out, "alpha_calls")
	assert.Contains(t, out, "72.0")
	assert.Contains(t, out, "Strong")
	assert.Contains(t, out, "60%")
	assert.Contains(t, out, "1.25")
	assert.Contains(t, out, "...", "long channel names are truncated")
}

func TestConsole_PrintRankingEmpty(t *testing.T) {
	var buf bytes.Buffer
	notify.NewConsoleWriter(&buf, fixedNow).PrintRanking(nil, nil)
	assert.Contains(t, buf.String(), "No channels with completed signals yet.")
}

func TestConsole_PrintSignalsAndOutcomes(t *testing.T) {
	var buf bytes.Buffer
	c := notify.NewConsoleWriter(&buf, fixedNow)

	sig := domain.NewSignal(domain.Mention{
		Address: addr, Chain: "ethereum", Symbol: "PEPE", EntryPrice: 1, EntryAt: t0, Channel: "alpha",
	}, 2, t0)
	sig.RecordCheckpoint(0, 1.5, t0.Add(time.Hour))
	c.PrintSignals([]domain.Signal{sig})

	out := buf.String()
	assert.Contains(t, out, "TRACKING")
	assert.Contains(t, out, "1.50x")
	assert.Contains(t, out, "1h ·· ·· ·· ·· ··")

	buf.Reset()
	sig.Complete(t0.Add(31 * 24 * time.Hour))
	c.PrintOutcomes([]domain.Outcome{sig.Outcome()})
	out = buf.String()
	assert.Contains(t, out, "loser")
	assert.Contains(t, out, "early_peaker")
	assert.Contains(t, out, "unknown")
}

func TestLogSubscriber_WritesStructuredEvent(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	l := notify.NewLogSubscriber(logger)

	l.Handle(context.Background(), domain.SignalCompleted{Outcome: domain.Outcome{
		Address: addr, Channel: "alpha", ATHMultiplier: 3, Category: domain.CategoryWinner, MarketTier: domain.TierMicro,
	}})

	out := buf.String()
	assert.Contains(t, out, `"kind":"signal_completed"`)
	assert.Contains(t, out, `"category":"winner"`)
	assert.Contains(t, out, `"market_tier":"micro"`)
}
