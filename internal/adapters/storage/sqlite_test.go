package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/calltracker/internal/adapters/storage"
	"github.com/alejandrodnm/calltracker/internal/domain"
)

var t0 = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func makeSignal(address, channel string, price float64) domain.Signal {
	m := domain.Mention{
		Address:    address,
		Chain:      "ethereum",
		Symbol:     "PEPE",
		EntryPrice: price,
		EntryAt:    t0,
		Channel:    channel,
		MessageID:  "msg-1",
	}
	return domain.NewSignal(m, 1, t0)
}

func completed(address, channel string, ath float64, completedAt time.Time) domain.Signal {
	s := makeSignal(address, channel, 1.0)
	s.RecordCheckpoint(0, ath, t0.Add(time.Hour))
	s.Complete(completedAt)
	return s
}

func newSQLite(t *testing.T) *storage.SQLiteStorage {
	t.Helper()
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSQLiteStorage_SignalRoundTrip(t *testing.T) {
	db := newSQLite(t)
	ctx := context.Background()

	sig := makeSignal("0xaaa", "alpha", 2.0)
	recorded, raised := sig.RecordCheckpoint(0, 3.0, t0.Add(time.Hour))
	require.True(t, recorded)
	require.True(t, raised)
	require.NoError(t, db.SaveSignal(ctx, sig))

	loaded, err := db.LoadSignals(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)

	got := loaded["0xaaa"]
	assert.Equal(t, sig.ID, got.ID)
	assert.Equal(t, domain.StatusTracking, got.Status)
	assert.True(t, got.EntryAt.Equal(t0))
	assert.InDelta(t, 1.5, got.ATHMultiplier, 1e-12)
	require.Len(t, got.Checkpoints, len(domain.Schedule))
	assert.True(t, got.Checkpoints[0].Reached)
	assert.InDelta(t, 3.0, got.Checkpoints[0].Price, 1e-12)
	assert.False(t, got.Checkpoints[1].Reached)
	assert.True(t, got.CompletedAt.IsZero())
}

func TestSQLiteStorage_SaveSignalIsLastWriteWinsPerAddress(t *testing.T) {
	db := newSQLite(t)
	ctx := context.Background()

	first := makeSignal("0xaaa", "alpha", 1.0)
	require.NoError(t, db.SaveSignal(ctx, first))

	second := makeSignal("0xaaa", "beta", 4.0)
	require.NoError(t, db.SaveSignal(ctx, second))

	loaded, err := db.LoadSignals(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "beta", loaded["0xaaa"].Channel)
	assert.Equal(t, second.ID, loaded["0xaaa"].ID)
}

func TestSQLiteStorage_SaveSignalPersistsMutationAtSameInstant(t *testing.T) {
	db := newSQLite(t)
	ctx := context.Background()

	sig := makeSignal("0xaaa", "alpha", 1.0)
	require.NoError(t, db.SaveSignal(ctx, sig))
	// mismo UpdatedAt, contenido distinto
	sig.RecordCheckpoint(0, 5.0, t0.Add(time.Hour))
	require.NoError(t, db.SaveSignal(ctx, sig))

	loaded, err := db.LoadSignals(ctx)
	require.NoError(t, err)
	assert.True(t, loaded["0xaaa"].Checkpoints[0].Reached)
}

func TestSQLiteStorage_ListOutcomes(t *testing.T) {
	db := newSQLite(t)
	ctx := context.Background()

	require.NoError(t, db.SaveSignal(ctx, completed("0xaaa", "alpha", 3.0, t0.Add(31*24*time.Hour))))
	require.NoError(t, db.SaveSignal(ctx, completed("0xbbb", "alpha", 1.2, t0.Add(32*24*time.Hour))))
	require.NoError(t, db.SaveSignal(ctx, completed("0xccc", "beta", 2.5, t0.Add(31*24*time.Hour))))
	require.NoError(t, db.SaveSignal(ctx, makeSignal("0xddd", "alpha", 1.0)))

	all, err := db.ListOutcomes(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	alpha, err := db.ListOutcomes(ctx, "alpha")
	require.NoError(t, err)
	require.Len(t, alpha, 2)
	// más reciente primero
	assert.Equal(t, "0xbbb", alpha[0].Address)
	assert.False(t, alpha[0].IsWinner)
	assert.Equal(t, "0xaaa", alpha[1].Address)
	assert.True(t, alpha[1].IsWinner)
	assert.Equal(t, domain.CategoryWinner, alpha[1].Category)
	assert.Equal(t, domain.TierUnknown, alpha[1].MarketTier)
}

func TestSQLiteStorage_ReputationUpsert(t *testing.T) {
	db := newSQLite(t)
	ctx := context.Background()

	r := domain.NewChannelReputation("alpha", 50)
	require.NoError(t, db.SaveReputation(ctx, r))

	r = r.Apply(domain.Outcome{Channel: "alpha", ATHMultiplier: 3, IsWinner: true, DaysToATH: 2}, 0.5, 60, t0)
	require.NoError(t, db.SaveReputation(ctx, r))

	reps, err := db.LoadReputations(ctx)
	require.NoError(t, err)
	require.Len(t, reps, 1)
	got := reps["alpha"]
	assert.Equal(t, 1, got.TotalSignals)
	assert.Equal(t, 1, got.Wins)
	assert.InDelta(t, 55.0, got.Score, 1e-9)
	assert.Equal(t, domain.TierReliable, got.Tier)
	assert.InDelta(t, 3.0, got.ROIMean, 1e-12)
	assert.True(t, got.UpdatedAt.Equal(t0))
}

func TestSQLiteStorage_WindowsRoundTrip(t *testing.T) {
	db := newSQLite(t)
	ctx := context.Background()

	series := domain.CandleSeries{Interval: time.Hour, Candles: []domain.Candle{
		{Time: t0, Open: 1, High: 1.2, Low: 0.9, Close: 1.1},
		{Time: t0.Add(time.Hour), Open: 1.1, High: 2.4, Low: 1, Close: 2},
	}}
	w := domain.NewWindow("PEPE@ethereum:0xaaa", t0, series, "geckoterminal")
	key := domain.NewCacheKey(w.Symbol, t0, 30)

	_, ok, err := db.LoadWindow(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, db.SaveWindows(ctx, map[domain.CacheKey]domain.HistoricalPriceWindow{key: w}))

	got, ok, err := db.LoadWindow(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "geckoterminal", got.Provider)
	assert.InDelta(t, 2.4, got.ATHPrice, 1e-12)
	assert.True(t, got.ATHAt.Equal(t0.Add(time.Hour)))
	assert.Len(t, got.Candles, 2)
}

func TestSQLiteStorage_SaveWindowsEmpty(t *testing.T) {
	db := newSQLite(t)
	assert.NoError(t, db.SaveWindows(context.Background(), nil))
}

func TestSQLiteStorage_SymbolMapping(t *testing.T) {
	db := newSQLite(t)
	ctx := context.Background()

	_, ok, err := db.ProviderSymbol(ctx, "0xaaa", "cryptocompare")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, db.SaveProviderSymbol(ctx, "0xaaa", "cryptocompare", "PEPE2"))
	require.NoError(t, db.SaveProviderSymbol(ctx, "0xaaa", "cryptocompare", "PEPE"))

	sym, ok, err := db.ProviderSymbol(ctx, "0xaaa", "cryptocompare")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "PEPE", sym)
}
