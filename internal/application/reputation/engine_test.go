package reputation_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/calltracker/internal/adapters/storage"
	"github.com/alejandrodnm/calltracker/internal/application/reputation"
	"github.com/alejandrodnm/calltracker/internal/domain"
)

var t0 = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type failingRepo struct {
	*storage.MemoryStorage
	saveErr error
	loadErr error
}

func (r *failingRepo) SaveReputation(ctx context.Context, rep domain.ChannelReputation) error {
	if r.saveErr != nil {
		return r.saveErr
	}
	return r.MemoryStorage.SaveReputation(ctx, rep)
}

func (r *failingRepo) LoadReputations(ctx context.Context) (map[string]domain.ChannelReputation, error) {
	if r.loadErr != nil {
		return nil, r.loadErr
	}
	return r.MemoryStorage.LoadReputations(ctx)
}

type recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recorder) Publish(_ context.Context, e domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) all() []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Event(nil), r.events...)
}

func outcome(channel string, ath float64) domain.Outcome {
	won, cat := domain.Categorize(ath)
	return domain.Outcome{
		Address:       "0x6982508145454ce325ddbe47a25d4ec3d2311933",
		Channel:       channel,
		EntryPrice:    1,
		EntryAt:       t0,
		ATHMultiplier: ath,
		DaysToATH:     3,
		IsWinner:      won,
		Category:      cat,
	}
}

func newEngine(cfg reputation.Config) (*reputation.Engine, *storage.MemoryStorage, *recorder) {
	repo := storage.NewMemoryStorage()
	events := &recorder{}
	cfg.Now = func() time.Time { return t0 }
	return reputation.New(cfg, repo, events), repo, events
}

// Score 50, α=0.1, R=90 → 54.
func TestOnSignalCompleted_FixedAlphaStep(t *testing.T) {
	eng, repo, events := newEngine(reputation.Config{AlphaPolicy: reputation.AlphaFixed, Alpha: 0.1})

	rep, err := eng.OnSignalCompleted(context.Background(), outcome("alpha", math.Pow(10, 0.9)))
	require.NoError(t, err)
	assert.InDelta(t, 54.0, rep.Score, 1e-9)
	assert.Equal(t, domain.TierReliable, rep.Tier)
	assert.Equal(t, 1, rep.TotalSignals)
	assert.Equal(t, 1, rep.Wins)

	stored, err := repo.LoadReputations(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 54.0, stored["alpha"].Score, 1e-9)

	evs := events.all()
	require.Len(t, evs, 1)
	changed, ok := evs[0].(domain.ReputationChanged)
	require.True(t, ok)
	assert.Equal(t, 50.0, changed.OldScore)
	assert.InDelta(t, 54.0, changed.NewScore, 1e-9)
}

func TestOnSignalCompleted_DecayingAlphaIsRunningMean(t *testing.T) {
	eng, _, _ := newEngine(reputation.Config{})
	ctx := context.Background()

	rep, err := eng.OnSignalCompleted(ctx, outcome("alpha", 10))
	require.NoError(t, err)
	assert.InDelta(t, 100.0, rep.Score, 1e-9, "first outcome replaces the prior")
	assert.Equal(t, domain.TierElite, rep.Tier)

	rep, err = eng.OnSignalCompleted(ctx, outcome("alpha", 1))
	require.NoError(t, err)
	assert.InDelta(t, 50.0, rep.Score, 1e-9)

	rep, err = eng.OnSignalCompleted(ctx, outcome("alpha", math.Sqrt(10)))
	require.NoError(t, err)
	assert.InDelta(t, 50.0, rep.Score, 1e-9)
	assert.Equal(t, 3, rep.TotalSignals)
	assert.Equal(t, 2, rep.Wins)
	assert.InDelta(t, 2.0/3, rep.WinRate(), 1e-9)
}

func TestOnSignalCompleted_SmallChangeIsNotNotified(t *testing.T) {
	eng, _, events := newEngine(reputation.Config{AlphaPolicy: reputation.AlphaFixed, Alpha: 0.01})

	rep, err := eng.OnSignalCompleted(context.Background(), outcome("alpha", math.Pow(10, 0.51)))
	require.NoError(t, err)
	assert.InDelta(t, 50.01, rep.Score, 1e-9)
	assert.Empty(t, events.all())
}

func TestOnSignalCompleted_ChangeMustExceedThreshold(t *testing.T) {
	// 50 + 0.125×(100−50) = 56.25: Δ = 6.25 sin cambio de tier.
	eng, _, events := newEngine(reputation.Config{AlphaPolicy: reputation.AlphaFixed, Alpha: 0.125, MaterialChange: 6.25})
	rep, err := eng.OnSignalCompleted(context.Background(), outcome("alpha", 10))
	require.NoError(t, err)
	assert.InDelta(t, 56.25, rep.Score, 1e-9)
	assert.Equal(t, domain.TierReliable, rep.Tier)
	assert.Empty(t, events.all(), "a change equal to the threshold is not material")

	eng, _, events = newEngine(reputation.Config{AlphaPolicy: reputation.AlphaFixed, Alpha: 0.125, MaterialChange: 6})
	_, err = eng.OnSignalCompleted(context.Background(), outcome("alpha", 10))
	require.NoError(t, err)
	assert.Len(t, events.all(), 1)
}

func TestOnSignalCompleted_TierChangeIsAlwaysNotified(t *testing.T) {
	initial := 64.9
	eng, _, events := newEngine(reputation.Config{AlphaPolicy: reputation.AlphaFixed, Alpha: 0.01, InitialScore: &initial})

	rep, err := eng.OnSignalCompleted(context.Background(), outcome("alpha", 10))
	require.NoError(t, err)
	assert.InDelta(t, 65.251, rep.Score, 1e-9)
	assert.Equal(t, domain.TierStrong, rep.Tier)

	evs := events.all()
	require.Len(t, evs, 1)
	changed, ok := evs[0].(domain.ReputationChanged)
	require.True(t, ok)
	assert.Equal(t, domain.TierReliable, changed.OldTier)
	assert.Equal(t, domain.TierStrong, changed.NewTier)
}

func TestOnSignalCompleted_ZeroInitialScore(t *testing.T) {
	zero := 0.0
	eng, _, _ := newEngine(reputation.Config{AlphaPolicy: reputation.AlphaFixed, Alpha: 0.1, InitialScore: &zero})

	rep, err := eng.OnSignalCompleted(context.Background(), outcome("alpha", 10))
	require.NoError(t, err)
	assert.InDelta(t, 10.0, rep.Score, 1e-9, "0 + 0.1×(100−0)")
	assert.Equal(t, domain.TierUnproven, rep.Tier)
}

func TestOnSignalCompleted_RejectsMissingChannel(t *testing.T) {
	eng, _, _ := newEngine(reputation.Config{})
	_, err := eng.OnSignalCompleted(context.Background(), outcome("", 3))
	assert.ErrorIs(t, err, reputation.ErrMissingChannel)
	assert.Empty(t, eng.Ranking())
}

func TestOnSignalCompleted_SaveFailureKeepsMemoryState(t *testing.T) {
	repo := &failingRepo{MemoryStorage: storage.NewMemoryStorage(), saveErr: errors.New("disk full")}
	eng := reputation.New(reputation.Config{}, repo, nil)

	_, err := eng.OnSignalCompleted(context.Background(), outcome("alpha", 3))
	require.Error(t, err)

	rep, ok := eng.Get("alpha")
	require.True(t, ok)
	assert.Equal(t, 1, rep.TotalSignals)

	repo.saveErr = nil
	rep, err = eng.OnSignalCompleted(context.Background(), outcome("alpha", 3))
	require.NoError(t, err)
	stored, err := repo.LoadReputations(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stored["alpha"].TotalSignals)
	assert.Equal(t, rep.Score, stored["alpha"].Score)
}

func TestOnSignalCompleted_ConcurrentUpdatesSameChannel(t *testing.T) {
	eng, _, _ := newEngine(reputation.Config{})

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := eng.OnSignalCompleted(context.Background(), outcome("alpha", 10))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	rep, ok := eng.Get("alpha")
	require.True(t, ok)
	assert.Equal(t, n, rep.TotalSignals)
	assert.Equal(t, n, rep.Wins)
	assert.InDelta(t, 100.0, rep.Score, 1e-9)
	assert.InDelta(t, 10.0, rep.ROIMean, 1e-9)
}

func TestRanking_OrdersByScoreThenName(t *testing.T) {
	eng, _, _ := newEngine(reputation.Config{})
	ctx := context.Background()
	for _, o := range []domain.Outcome{outcome("gamma", 10), outcome("beta", 1), outcome("alpha", 10)} {
		_, err := eng.OnSignalCompleted(ctx, o)
		require.NoError(t, err)
	}

	ranking := eng.Ranking()
	require.Len(t, ranking, 3)
	assert.Equal(t, "alpha", ranking[0].Channel)
	assert.Equal(t, "gamma", ranking[1].Channel)
	assert.Equal(t, "beta", ranking[2].Channel)
}

func TestSharpe_RequiresMinSamples(t *testing.T) {
	eng, _, _ := newEngine(reputation.Config{MinSharpeSamples: 3})
	ctx := context.Background()

	var rep domain.ChannelReputation
	var err error
	for _, ath := range []float64{1, 2} {
		rep, err = eng.OnSignalCompleted(ctx, outcome("alpha", ath))
		require.NoError(t, err)
	}
	_, ok := eng.Sharpe(rep)
	assert.False(t, ok)

	rep, err = eng.OnSignalCompleted(ctx, outcome("alpha", 4))
	require.NoError(t, err)
	sharpe, ok := eng.Sharpe(rep)
	require.True(t, ok)
	assert.Greater(t, sharpe, 0.0)
}

func TestLoad_RestoresAndSurvivesReadFailure(t *testing.T) {
	repo := &failingRepo{MemoryStorage: storage.NewMemoryStorage()}
	seed := domain.NewChannelReputation("alpha", 72)
	seed.TotalSignals = 9
	require.NoError(t, repo.MemoryStorage.SaveReputation(context.Background(), seed))

	eng := reputation.New(reputation.Config{}, repo, nil)
	eng.Load(context.Background())
	rep, ok := eng.Get("alpha")
	require.True(t, ok)
	assert.Equal(t, 72.0, rep.Score)
	assert.Equal(t, domain.TierStrong, rep.Tier)

	// Con α decreciente la siguiente actualización pesa 1/10.
	rep, err := eng.OnSignalCompleted(context.Background(), outcome("alpha", 10))
	require.NoError(t, err)
	assert.InDelta(t, 72+0.1*(100-72), rep.Score, 1e-9)

	repo.loadErr = errors.New("corrupt")
	broken := reputation.New(reputation.Config{}, repo, nil)
	broken.Load(context.Background())
	assert.Empty(t, broken.Ranking())
}
