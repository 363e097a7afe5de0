package rediscache_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/calltracker/internal/adapters/rediscache"
	"github.com/alejandrodnm/calltracker/internal/domain"
)

var t0 = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func window() (domain.CacheKey, domain.HistoricalPriceWindow) {
	series := domain.CandleSeries{Interval: time.Hour, Candles: []domain.Candle{
		{Time: t0, Open: 1, High: 1.5, Low: 1, Close: 1.2},
		{Time: t0.Add(time.Hour), Open: 1.2, High: 3, Low: 1.1, Close: 2.8},
	}}
	w := domain.NewWindow("PEPE@ethereum:0xaaa", t0, series, "geckoterminal")
	return domain.NewCacheKey(w.Symbol, t0, 30), w
}

func TestWindowStore_SaveThenLoad(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := rediscache.New(db, "", time.Hour)
	ctx := context.Background()

	key, w := window()
	raw, err := json.Marshal(w)
	require.NoError(t, err)
	redisKey := rediscache.DefaultPrefix + key.String()

	mock.ExpectSet(redisKey, string(raw), time.Hour).SetVal("OK")
	require.NoError(t, store.SaveWindows(ctx, map[domain.CacheKey]domain.HistoricalPriceWindow{key: w}))

	mock.ExpectGet(redisKey).SetVal(string(raw))
	got, ok, err := store.LoadWindow(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 3.0, got.ATHPrice, 1e-12)
	assert.Equal(t, "geckoterminal", got.Provider)
	assert.Len(t, got.Candles, 2)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWindowStore_MissIsNotError(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := rediscache.New(db, "test:", 0)

	key, _ := window()
	mock.ExpectGet("test:" + key.String()).RedisNil()

	_, ok, err := store.LoadWindow(context.Background(), key)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWindowStore_ErrorsAreWrapped(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := rediscache.New(db, "", 0)
	boom := errors.New("connection reset")

	key, w := window()
	raw, err := json.Marshal(w)
	require.NoError(t, err)

	mock.ExpectGet(rediscache.DefaultPrefix + key.String()).SetErr(boom)
	_, _, err = store.LoadWindow(context.Background(), key)
	assert.ErrorIs(t, err, boom)

	mock.ExpectSet(rediscache.DefaultPrefix+key.String(), string(raw), 0).SetErr(boom)
	err = store.SaveWindows(context.Background(), map[domain.CacheKey]domain.HistoricalPriceWindow{key: w})
	assert.ErrorIs(t, err, boom)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWindowStore_CorruptPayload(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := rediscache.New(db, "", 0)

	key, _ := window()
	mock.ExpectGet(rediscache.DefaultPrefix + key.String()).SetVal("{broken")

	_, ok, err := store.LoadWindow(context.Background(), key)
	assert.Error(t, err)
	assert.False(t, ok)
}
