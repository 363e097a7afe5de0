package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/alejandrodnm/calltracker/config"
	"github.com/alejandrodnm/calltracker/internal/adapters/clickhouse"
	"github.com/alejandrodnm/calltracker/internal/adapters/notify"
	"github.com/alejandrodnm/calltracker/internal/adapters/onchain"
	"github.com/alejandrodnm/calltracker/internal/adapters/postgres"
	"github.com/alejandrodnm/calltracker/internal/adapters/pricefeed"
	"github.com/alejandrodnm/calltracker/internal/adapters/rediscache"
	"github.com/alejandrodnm/calltracker/internal/adapters/storage"
	"github.com/alejandrodnm/calltracker/internal/application/events"
	"github.com/alejandrodnm/calltracker/internal/application/pricecache"
	"github.com/alejandrodnm/calltracker/internal/application/reputation"
	"github.com/alejandrodnm/calltracker/internal/application/retriever"
	"github.com/alejandrodnm/calltracker/internal/application/tracker"
	"github.com/alejandrodnm/calltracker/internal/observability"
	"github.com/alejandrodnm/calltracker/internal/ports"
)

// store es lo que el tracker necesita del backend de persistencia.
type store interface {
	ports.SignalRepository
	ports.ReputationRepository
	ports.SymbolMapper
}

type closer interface{ Close() error }

// app agrupa los componentes ya cableados.
type app struct {
	cfg        *config.Config
	store      store
	retriever  *retriever.Retriever
	tracker    *tracker.Tracker
	reputation *reputation.Engine
	metrics    *observability.Metrics
	console    *notify.Console

	closers []closer
}

// buildApp abre los backends configurados, arma la cadena de proveedores y
// restaura el estado persistido.
func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg, console: notify.NewConsole()}

	st, err := openStore(ctx, cfg.Storage)
	if err != nil {
		a.close()
		return nil, err
	}
	a.store = st
	a.closers = append(a.closers, st)

	cache, err := a.openCache(ctx)
	if err != nil {
		a.close()
		return nil, err
	}

	var archive *clickhouse.Archive
	if cfg.Archive.DSN != "" {
		conn, err := clickhouse.NewConn(ctx, cfg.Archive.DSN)
		if err != nil {
			a.close()
			return nil, err
		}
		a.closers = append(a.closers, conn)
		if archive, err = clickhouse.NewArchive(ctx, conn); err != nil {
			a.close()
			return nil, err
		}
	}

	providers, err := buildProviders(ctx, cfg, archive)
	if err != nil {
		a.close()
		return nil, err
	}

	var candleArchive ports.CandleArchive
	if archive != nil {
		candleArchive = archive
	}

	a.metrics = observability.New(prometheus.NewRegistry())

	a.retriever = retriever.New(retriever.Config{
		Timeout:         cfg.ProviderTimeout(),
		MaxConcurrent:   cfg.Tracker.MaxConcurrentFetches,
		BreakerFailures: uint32(cfg.Tracker.BreakerFailures),
		BreakerCooldown: cfg.BreakerCooldown(),
	}, providers, cache, st, candleArchive)
	a.retriever.SetObserver(a.metrics)

	dispatcher := events.NewDispatcher(
		notify.NewLogSubscriber(slog.Default()),
		a.metrics,
		a.console,
	)

	a.reputation = reputation.New(reputation.Config{
		AlphaPolicy:      cfg.Reputation.AlphaPolicy,
		Alpha:            cfg.Reputation.Alpha,
		InitialScore:     cfg.Reputation.InitialScore,
		RewardCeiling:    cfg.Reputation.RewardCeiling,
		MaterialChange:   cfg.Reputation.MaterialChange,
		MinSharpeSamples: cfg.Reputation.MinSharpeSamples,
	}, st, dispatcher)

	a.tracker = tracker.New(tracker.Config{
		Workers:      cfg.Tracker.Workers,
		StaleHorizon: cfg.StaleHorizon(),
	}, a.retriever, st, dispatcher, a.reputation)

	a.reputation.Load(ctx)
	a.tracker.Load(ctx)
	a.metrics.SetActive(a.tracker.Active())
	a.metrics.SetReputations(a.reputation.Ranking())

	slog.Info("tracker ready",
		"storage", cfg.Storage.Driver,
		"cache", cfg.Cache.Backend,
		"providers", a.retriever.Providers(),
		"active_signals", a.tracker.Active(),
	)
	return a, nil
}

// close vacía la caché y cierra los backends en orden inverso.
func (a *app) close() {
	if a.retriever != nil {
		if err := a.retriever.Flush(context.Background()); err != nil {
			slog.Warn("cache flush on shutdown failed", "err", err)
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			slog.Warn("close failed", "err", err)
		}
	}
	a.closers = nil
}

func openStore(ctx context.Context, cfg config.StorageConfig) (store, error) {
	switch cfg.Driver {
	case "sqlite":
		return storage.NewSQLiteStorage(cfg.DSN)
	case "postgres":
		return postgres.Open(ctx, cfg.DSN)
	case "jsonfile":
		return storage.NewJSONFileStorage(cfg.DSN)
	case "memory":
		return storage.NewMemoryStorage(), nil
	}
	return nil, fmt.Errorf("openStore: unknown driver %q", cfg.Driver)
}

// openCache elige el backend de ventanas. Con backend sqlite y la misma ruta
// que el storage se reutiliza la misma conexión.
func (a *app) openCache(ctx context.Context) (*pricecache.Cache, error) {
	cfg := a.cfg.Cache
	switch cfg.Backend {
	case "memory":
		return pricecache.New(nil, cfg.FlushBatch), nil
	case "redis":
		ws, err := rediscache.Dial(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, a.cfg.CacheTTL())
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, ws)
		return pricecache.New(ws, cfg.FlushBatch), nil
	case "sqlite":
		if sq, ok := a.store.(*storage.SQLiteStorage); ok && cfg.Path == a.cfg.Storage.DSN {
			return pricecache.New(sq, cfg.FlushBatch), nil
		}
		sq, err := storage.NewSQLiteStorage(cfg.Path)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, sq)
		return pricecache.New(sq, cfg.FlushBatch), nil
	}
	return nil, fmt.Errorf("openCache: unknown backend %q", cfg.Backend)
}

// buildProviders respeta el orden configurado. archive y onchain se omiten si
// no tienen backend.
func buildProviders(ctx context.Context, cfg *config.Config, archive *clickhouse.Archive) ([]ports.PriceProvider, error) {
	var out []ports.PriceProvider
	for _, p := range cfg.Providers {
		if !p.IsEnabled() {
			continue
		}
		opts := pricefeed.Options{BaseURL: p.BaseURL, APIKey: p.APIKey, RatePerSecond: p.RatePerSecond}

		switch p.Name {
		case "archive":
			if archive == nil {
				slog.Debug("provider skipped: no archive dsn", "provider", p.Name)
				continue
			}
			out = append(out, archive)
		case "geckoterminal":
			out = append(out, pricefeed.NewGeckoTerminal(opts))
		case "dexscreener":
			out = append(out, pricefeed.NewDexScreener(opts))
		case "coingecko":
			out = append(out, pricefeed.NewCoinGecko(opts))
		case "cryptocompare":
			out = append(out, pricefeed.NewCryptoCompare(opts))
		case "onchain":
			chains := make([]onchain.ChainConfig, 0, len(cfg.Chains))
			for _, c := range cfg.Chains {
				if c.RPCURL != "" {
					chains = append(chains, onchain.ChainConfig{Name: c.Name, RPCURL: c.RPCURL, Factory: c.Factory, Quote: c.Quote})
				}
			}
			if len(chains) == 0 {
				slog.Debug("provider skipped: no rpc endpoints", "provider", p.Name)
				continue
			}
			pricer, err := onchain.Dial(ctx, chains)
			if err != nil {
				return nil, err
			}
			out = append(out, pricer)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("buildProviders: no usable price provider")
	}
	return out, nil
}
