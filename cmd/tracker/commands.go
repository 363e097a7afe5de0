package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/alejandrodnm/calltracker/internal/application/scheduler"
	"github.com/alejandrodnm/calltracker/internal/domain"
)

// withApp carga la configuración, cablea la app y la cierra al terminar.
func withApp(fn func(ctx context.Context, a *app) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		a, err := buildApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.close()
		return fn(ctx, a)
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the scheduler (evaluate, stale completion, back-fill, cache flush) and the metrics endpoint",
		RunE: withApp(func(ctx context.Context, a *app) error {
			sched := scheduler.New(ctx, a.metrics)
			specs := scheduler.Specs{
				Evaluate:      a.cfg.Schedule.Evaluate,
				CompleteStale: a.cfg.Schedule.CompleteStale,
				Backfill:      a.cfg.Schedule.Backfill,
				FlushCache:    a.cfg.Schedule.FlushCache,
			}
			if err := sched.Register(scheduler.TrackerJobs(specs, a.tracker, a.retriever)...); err != nil {
				return err
			}

			var srv *http.Server
			if a.cfg.Metrics.Listen != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", a.metrics.Handler())
				srv = &http.Server{Addr: a.cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
				go func() {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						slog.Error("metrics server failed", "err", err)
					}
				}()
				slog.Info("metrics listening", "addr", a.cfg.Metrics.Listen)
			}

			// Primer ciclo inmediato: no esperar al primer tick.
			_ = sched.RunNow(ctx, scheduler.JobEvaluate)

			sched.Start()
			<-ctx.Done()
			slog.Info("shutting down")
			sched.Stop()

			if srv != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}
			slog.Info("calltracker stopped cleanly")
			return nil
		}),
	}
}

func mentionCmd() *cobra.Command {
	var (
		m        domain.Mention
		at       string
		evaluate bool
	)
	cmd := &cobra.Command{
		Use:   "mention",
		Short: "Register a token mention from a channel",
		RunE: withApp(func(ctx context.Context, a *app) error {
			m.EntryAt = time.Now().UTC()
			if at != "" {
				t, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("mention: --at: %w", err)
				}
				m.EntryAt = t
			}

			addr, err := a.tracker.NewMention(ctx, m)
			if err != nil {
				if addr == "" {
					return err
				}
				slog.Warn("mention registered but not persisted", "address", addr, "err", err)
			}

			if evaluate {
				if _, err := a.tracker.EvaluateDue(ctx); err != nil {
					slog.Warn("evaluation had errors", "err", err)
				}
			}
			if sig, ok := a.tracker.Get(addr); ok {
				a.console.PrintSignals([]domain.Signal{sig})
			}
			return nil
		}),
	}
	f := cmd.Flags()
	f.StringVar(&m.Address, "address", "", "token contract address")
	f.StringVar(&m.Chain, "chain", "ethereum", "chain name")
	f.StringVar(&m.Symbol, "symbol", "", "token symbol (optional)")
	f.Float64Var(&m.EntryPrice, "price", 0, "entry price in USD")
	f.StringVar(&at, "at", "", "mention time, RFC3339 (default now)")
	f.StringVar(&m.Channel, "channel", "", "channel that called the token")
	f.StringVar(&m.MessageID, "message-id", "", "source message id")
	f.Float64Var(&m.MarketCapUSD, "mcap", 0, "market cap in USD at entry (optional)")
	f.BoolVar(&evaluate, "evaluate", false, "evaluate due checkpoints right after registering")
	_ = cmd.MarkFlagRequired("address")
	_ = cmd.MarkFlagRequired("price")
	_ = cmd.MarkFlagRequired("channel")
	return cmd
}

func evaluateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate every due checkpoint once",
		RunE: withApp(func(ctx context.Context, a *app) error {
			stats, err := a.tracker.EvaluateDue(ctx)
			slog.Info("evaluation done",
				"evaluated", stats.Evaluated,
				"reached", stats.Reached,
				"completed", stats.Completed,
				"not_found", stats.NotFound,
				"save_errors", stats.SaveErrors,
			)
			return err
		}),
	}
}

func backfillCmd() *cobra.Command {
	var correct bool
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Reconcile checkpoints and ATH from historical OHLC windows",
		RunE: withApp(func(ctx context.Context, a *app) error {
			stats, err := a.tracker.Reconcile(ctx, correct)
			slog.Info("back-fill done",
				"correct", correct,
				"scanned", stats.Scanned,
				"updated", stats.Updated,
				"filled", stats.Filled,
				"not_found", stats.NotFound,
				"save_errors", stats.SaveErrors,
			)
			return err
		}),
	}
	cmd.Flags().BoolVar(&correct, "correct", false, "overwrite reached checkpoints and allow the ATH to go down")
	return cmd
}

func completeStaleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "complete-stale",
		Short: "Close tracking signals older than the stale horizon without fetching prices",
		RunE: withApp(func(ctx context.Context, a *app) error {
			n, err := a.tracker.CompleteStale(ctx)
			slog.Info("stale signals closed", "count", n)
			return err
		}),
	}
}

func completeCmd() *cobra.Command {
	var chain string
	cmd := &cobra.Command{
		Use:   "complete <address>",
		Short: "Stop tracking a signal and close it with its current ATH",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				o, err := a.tracker.Complete(ctx, normalizeAddress(args[0], chain))
				if err != nil {
					return err
				}
				a.console.PrintOutcomes([]domain.Outcome{o})
				return nil
			})(cmd, args)
		},
	}
	cmd.Flags().StringVar(&chain, "chain", "ethereum", "chain name (for address normalization)")
	return cmd
}

func reputationCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reputation",
		Short: "Print the channel reputation ranking",
		RunE: withApp(func(_ context.Context, a *app) error {
			a.console.PrintRanking(a.reputation.Ranking(), a.reputation.Sharpe)
			return nil
		}),
	}
}

func signalsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "signals",
		Short: "Print every tracked signal",
		RunE: withApp(func(_ context.Context, a *app) error {
			a.console.PrintSignals(a.tracker.Snapshot())
			return nil
		}),
	}
}

func outcomesCmd() *cobra.Command {
	var channel string
	cmd := &cobra.Command{
		Use:   "outcomes",
		Short: "Print completed signal outcomes",
		RunE: withApp(func(ctx context.Context, a *app) error {
			outcomes, err := a.store.ListOutcomes(ctx, channel)
			if err != nil {
				return err
			}
			a.console.PrintOutcomes(outcomes)
			return nil
		}),
	}
	cmd.Flags().StringVar(&channel, "channel", "", "only this channel")
	return cmd
}

func mapSymbolCmd() *cobra.Command {
	var address, chain, provider, symbol string
	cmd := &cobra.Command{
		Use:   "map-symbol",
		Short: "Store the symbol a provider uses for a token",
		RunE: withApp(func(ctx context.Context, a *app) error {
			addr := normalizeAddress(address, chain)
			if err := a.store.SaveProviderSymbol(ctx, addr, provider, symbol); err != nil {
				return err
			}
			slog.Info("symbol mapped", "address", addr, "provider", provider, "symbol", symbol)
			return nil
		}),
	}
	f := cmd.Flags()
	f.StringVar(&address, "address", "", "token contract address")
	f.StringVar(&chain, "chain", "ethereum", "chain name")
	f.StringVar(&provider, "provider", "", "provider name (coingecko, cryptocompare, ...)")
	f.StringVar(&symbol, "symbol", "", "symbol or id the provider uses")
	_ = cmd.MarkFlagRequired("address")
	_ = cmd.MarkFlagRequired("provider")
	_ = cmd.MarkFlagRequired("symbol")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "calltracker", version)
		},
	}
}

func normalizeAddress(address, chain string) string {
	return domain.Mention{Address: address, Chain: chain}.Normalize().Address
}
