package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/alejandrodnm/calltracker/internal/domain"
)

// Console imprime eventos en una línea y tablas de estado para el operador.
type Console struct {
	out io.Writer
	now func() time.Time
}

// NewConsole crea un notificador que escribe a stdout.
func NewConsole() *Console {
	return &Console{out: os.Stdout, now: time.Now}
}

// NewConsoleWriter crea un notificador sobre w (tests).
func NewConsoleWriter(w io.Writer, now func() time.Time) *Console {
	if now == nil {
		now = time.Now
	}
	return &Console{out: w, now: now}
}

// Handle implementa ports.EventSubscriber.
func (c *Console) Handle(_ context.Context, e domain.Event) {
	stamp := c.now().Format("15:04:05")

	switch ev := e.(type) {
	case domain.SignalStarted:
		s := ev.Signal
		fmt.Fprintf(c.out, "[%s] START %s %s by %s #%d @ %s\n",
			stamp, tokenLabel(s.Symbol, s.Address), s.Chain, s.Channel, s.SignalNumber, priceLabel(s.EntryPrice))
	case domain.CheckpointReached:
		mark := ""
		if ev.ATHRaised {
			mark = " new ATH"
		}
		fmt.Fprintf(c.out, "[%s] CP %-3s %s %s (ath %s)%s via %s\n",
			stamp, ev.Checkpoint.Name, tokenLabel(ev.Symbol, ev.Address),
			multLabel(ev.Checkpoint.ROI), multLabel(ev.ATHMultiplier), mark, ev.Provider)
	case domain.CheckpointUpdated:
		mode := "BACKFILL"
		if ev.Corrected {
			mode = "CORRECT"
		}
		fmt.Fprintf(c.out, "[%s] %s %s filled:%d ath %s→%s",
			stamp, mode, shortAddress(ev.Address), len(ev.Filled),
			multLabel(ev.OldATHMultiplier), multLabel(ev.NewATHMultiplier))
		if ev.OldCategory != ev.NewCategory && ev.NewCategory != "" {
			fmt.Fprintf(c.out, " %s→%s", categoryLabel(ev.OldCategory), ev.NewCategory)
		}
		fmt.Fprintln(c.out)
	case domain.SignalCompleted:
		o := ev.Outcome
		fmt.Fprintf(c.out, "[%s] DONE %s by %s %s %s %s %.1fd\n",
			stamp, tokenLabel(o.Symbol, o.Address), o.Channel, multLabel(o.ATHMultiplier),
			o.Category, o.PeakTiming, o.DaysToATH)
	case domain.ReputationChanged:
		fmt.Fprintf(c.out, "[%s] REP %s %.1f→%.1f (%s)\n",
			stamp, ev.Channel, ev.OldScore, ev.NewScore, ev.NewTier)
	}
}

// PrintRanking imprime la reputación de los canales, ya ordenada.
func (c *Console) PrintRanking(reps []domain.ChannelReputation, sharpe func(domain.ChannelReputation) (float64, bool)) {
	if len(reps) == 0 {
		fmt.Fprintln(c.out, "No channels with completed signals yet.")
		return
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("#", "Channel", "Score", "Tier", "Signals", "Win%", "Avg ATH", "Sharpe", "Avg days", "Speed")
	for i, r := range reps {
		sharpeLabel := "-"
		if sharpe != nil {
			if v, ok := sharpe(r); ok {
				sharpeLabel = fmt.Sprintf("%.2f", v)
			}
		}
		table.Append(
			fmt.Sprintf("%d", i+1),
			truncate(r.Channel, 24),
			fmt.Sprintf("%.1f", r.Score),
			string(r.Tier),
			fmt.Sprintf("%d", r.TotalSignals),
			fmt.Sprintf("%.0f%%", r.WinRate()*100),
			multLabel(r.ROIMean),
			sharpeLabel,
			fmt.Sprintf("%.1f", r.AvgDaysToATH),
			fmt.Sprintf("%.0f", r.SpeedScore),
		)
	}
	table.Render()
	fmt.Fprintln(c.out, "  Score = TD(0) over log-scaled ATH reward | Sharpe = (mean ATH - 1) / stddev")
}

// PrintSignals imprime el estado de las señales.
func (c *Console) PrintSignals(signals []domain.Signal) {
	if len(signals) == 0 {
		fmt.Fprintln(c.out, "No signals tracked.")
		return
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("Token", "Chain", "Channel", "#", "Status", "Entry", "Entered", "ATH", "Cat", "Checkpoints")
	for _, s := range signals {
		category := "-"
		if s.IsComplete() {
			category = string(s.Category)
		}
		table.Append(
			tokenLabel(s.Symbol, s.Address),
			s.Chain,
			truncate(s.Channel, 20),
			fmt.Sprintf("%d", s.SignalNumber),
			string(s.Status),
			priceLabel(s.EntryPrice),
			s.EntryAt.Format("01-02 15:04"),
			multLabel(s.ATHMultiplier),
			category,
			checkpointsLabel(s.Checkpoints),
		)
	}
	table.Render()
}

// PrintOutcomes imprime los registros de cierre.
func (c *Console) PrintOutcomes(outcomes []domain.Outcome) {
	if len(outcomes) == 0 {
		fmt.Fprintln(c.out, "No completed signals.")
		return
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("Token", "Channel", "Completed", "ATH", "Days", "Cat", "Peak", "Trajectory", "Tier")
	for _, o := range outcomes {
		trajectory := string(o.Trajectory)
		if trajectory == "" {
			trajectory = "-"
		}
		table.Append(
			tokenLabel(o.Symbol, o.Address),
			truncate(o.Channel, 20),
			o.CompletedAt.Format("2006-01-02"),
			multLabel(o.ATHMultiplier),
			fmt.Sprintf("%.1f", o.DaysToATH),
			string(o.Category),
			string(o.PeakTiming),
			trajectory,
			string(o.MarketTier),
		)
	}
	table.Render()
}

// --- helpers ---

func tokenLabel(symbol, address string) string {
	if symbol == "" {
		return shortAddress(address)
	}
	return truncate(symbol, 12) + " " + shortAddress(address)
}

func shortAddress(a string) string {
	if len(a) <= 12 {
		return a
	}
	return a[:6] + "…" + a[len(a)-4:]
}

func checkpointsLabel(cps []domain.CheckpointRecord) string {
	parts := make([]string, len(cps))
	for i, cp := range cps {
		if cp.Reached {
			parts[i] = string(cp.Name)
		} else {
			parts[i] = "··"
		}
	}
	return strings.Join(parts, " ")
}

func categoryLabel(c domain.OutcomeCategory) string {
	if c == "" {
		return "-"
	}
	return string(c)
}

func multLabel(m float64) string {
	return fmt.Sprintf("%.2fx", m)
}

func priceLabel(p float64) string {
	switch {
	case p >= 1:
		return fmt.Sprintf("$%.4f", p)
	case p >= 0.0001:
		return fmt.Sprintf("$%.6f", p)
	default:
		return fmt.Sprintf("$%.3g", p)
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
