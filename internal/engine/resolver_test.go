package engine

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solcast/marketd/internal/commit"
	"github.com/solcast/marketd/internal/domain"
	"github.com/solcast/marketd/internal/payout"
)

type resolverEnv struct {
	store    *memStore
	bets     *memBets
	feed     *fakeFeed
	bus      *fakeBus
	ledger   *fakeLedger
	txs      *fakeTxStore
	balances *fakeBalances
	resolver *Resolver
	now      time.Time
}

func newResolverEnv(t *testing.T) *resolverEnv {
	t.Helper()
	env := &resolverEnv{
		store:    newMemStore(),
		bets:     &memBets{bets: map[string][]domain.Bet{}},
		feed:     &fakeFeed{candles: map[string]map[domain.Granularity][]domain.Candle{}},
		bus:      &fakeBus{},
		ledger:   &fakeLedger{balance: decimal.NewFromInt(1_000_000)},
		txs:      &fakeTxStore{},
		balances: &fakeBalances{},
		now:      time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	dist := payout.NewDistributor(env.ledger, env.txs, env.balances, 20, decimal.Zero, testLogger())
	env.resolver = NewResolver(env.store, env.store, env.bets, env.feed, dist, env.bus, nil, testLogger())
	env.resolver.now = func() time.Time { return env.now }
	return env
}

// seed inserts an active automated market and pending tracking row expiring
// at the given offset from env.now.
func (env *resolverEnv) seed(t *testing.T, mt domain.MarketType, target float64, expiresIn time.Duration) (domain.Market, domain.ResolutionTracking) {
	t.Helper()
	expiresAt := env.now.Add(expiresIn)
	m := domain.Market{
		ID:           "m1",
		Question:     "test market",
		Category:     string(mt),
		YesPool:      decimal.NewFromInt(60),
		NoPool:       decimal.NewFromInt(40),
		Status:       domain.MarketStatusActive,
		ExpiresAt:    &expiresAt,
		IsAutomated:  true,
		TokenAddress: "tokA",
	}
	tr := domain.ResolutionTracking{
		ID:           "t1",
		MarketID:     "m1",
		MarketType:   mt,
		TargetValue:  target,
		TokenAddress: "tokA",
		Status:       domain.TrackingPending,
	}
	if mt.IsBattle() {
		m.SecondToken = "tokB"
		tr.SecondToken = "tokB"
	}
	require.NoError(t, env.store.CreateWithTracking(context.Background(), m, tr))
	env.bets.bets["m1"] = []domain.Bet{
		{ID: "b1", MarketID: "m1", Wallet: "alice", Position: domain.OutcomeYes, Amount: decimal.NewFromInt(60)},
		{ID: "b2", MarketID: "m1", Wallet: "bob", Position: domain.OutcomeNo, Amount: decimal.NewFromInt(40)},
	}
	return m, tr
}

func (env *resolverEnv) sweep(t *testing.T) {
	t.Helper()
	require.NoError(t, env.resolver.RunSweep(context.Background()))
}

func TestResolver_YesAtTargetInsideWindow(t *testing.T) {
	env := newResolverEnv(t)
	env.seed(t, domain.TypeMarketCap, 750_000, 30*time.Second)
	env.feed.tokens = []domain.Token{{Address: "tokA", MarketCap: 750_000}} // inclusive boundary

	env.sweep(t)

	m := env.store.markets["m1"]
	assert.Equal(t, domain.MarketStatusResolved, m.Status)
	assert.Equal(t, domain.OutcomeYes, m.ResolvedOutcome)
	assert.Equal(t, domain.TrackingResolved, env.store.tracking["t1"].Status)
	// Winner takes the whole pool proportionally (sole yes bettor).
	assert.True(t, env.balances.credits["alice"].Equal(decimal.NewFromInt(100)))
	assert.Contains(t, env.bus.published, domain.EventMarketResolved)
}

func TestResolver_SkipsOutsideCheckWindow(t *testing.T) {
	env := newResolverEnv(t)
	_, tr := env.seed(t, domain.TypeMarketCap, 750_000, 2*time.Hour)
	env.feed.tokens = []domain.Token{{Address: "tokA", MarketCap: 900_000}}

	env.sweep(t)

	m := env.store.markets["m1"]
	assert.Equal(t, domain.MarketStatusActive, m.Status) // no API call this far out
	assert.Equal(t, domain.TrackingPending, env.store.tracking["t1"].Status)
	// lastChecked still advances on a no-action visit.
	assert.True(t, env.store.tracking["t1"].LastChecked.After(tr.LastChecked))
}

func TestResolver_BelowTargetBeforeExpiryStaysPending(t *testing.T) {
	env := newResolverEnv(t)
	env.seed(t, domain.TypeVolume, 500_000, 30*time.Second)
	env.feed.tokens = []domain.Token{{Address: "tokA", Volume24h: 400_000}}

	env.sweep(t)

	// A NO is only final after expiry; the condition could still be met.
	assert.Equal(t, domain.MarketStatusActive, env.store.markets["m1"].Status)
}

func TestResolver_NoWithinGraceWindow(t *testing.T) {
	env := newResolverEnv(t)
	env.seed(t, domain.TypeMarketCap, 750_000, -2*time.Minute)
	env.feed.tokens = []domain.Token{{Address: "tokA", MarketCap: 600_000}}

	env.sweep(t)

	m := env.store.markets["m1"]
	assert.Equal(t, domain.MarketStatusResolved, m.Status)
	assert.Equal(t, domain.OutcomeNo, m.ResolvedOutcome)
	assert.True(t, env.balances.credits["bob"].Equal(decimal.NewFromInt(100)))
}

func TestResolver_ExpiredBeyondGraceRefunds(t *testing.T) {
	env := newResolverEnv(t)
	env.seed(t, domain.TypeMarketCap, 750_000, -10*time.Minute)
	env.feed.tokens = []domain.Token{{Address: "tokA", MarketCap: 900_000}} // irrelevant, too late

	env.sweep(t)

	m := env.store.markets["m1"]
	assert.Equal(t, domain.MarketStatusResolved, m.Status)
	assert.Equal(t, domain.OutcomeRefunded, m.ResolvedOutcome)
	assert.True(t, m.YesPool.IsZero())
	assert.True(t, m.NoPool.IsZero())
	assert.Equal(t, domain.TrackingExpired, env.store.tracking["t1"].Status)
	// Both sides get their stakes back.
	assert.True(t, env.balances.credits["alice"].Equal(decimal.NewFromInt(60)))
	assert.True(t, env.balances.credits["bob"].Equal(decimal.NewFromInt(40)))
}

func TestResolver_SweepIsIdempotent(t *testing.T) {
	env := newResolverEnv(t)
	env.seed(t, domain.TypeMarketCap, 750_000, 30*time.Second)
	env.feed.tokens = []domain.Token{{Address: "tokA", MarketCap: 800_000}}

	env.sweep(t)
	firstCredits := env.balances.credits["alice"]
	firstBatches := len(env.ledger.batches)

	env.sweep(t) // second sweep must be a no-op

	assert.True(t, env.balances.credits["alice"].Equal(firstCredits))
	assert.Equal(t, firstBatches, len(env.ledger.batches))
	assert.Equal(t, domain.TrackingResolved, env.store.tracking["t1"].Status)
}

func TestResolver_CommitmentPublishedAndVerifiable(t *testing.T) {
	env := newResolverEnv(t)
	env.seed(t, domain.TypeMarketCap, 750_000, 30*time.Second)
	env.feed.tokens = []domain.Token{{Address: "tokA", MarketCap: 800_000}}

	env.sweep(t)

	m := env.store.markets["m1"]
	require.NotEmpty(t, m.CommitHash)
	require.NotEmpty(t, m.CommitSecret)
	assert.True(t, commit.Verify(m.CommitHash, m.ResolvedOutcome, m.CommitSecret, m.ID))
}

// --- battles ---

func (env *resolverEnv) setCandles(addr string, g domain.Granularity, candles []domain.Candle) {
	if env.feed.candles[addr] == nil {
		env.feed.candles[addr] = map[domain.Granularity][]domain.Candle{}
	}
	env.feed.candles[addr][g] = candles
}

func TestResolver_BattleEarlierTimestampWins(t *testing.T) {
	env := newResolverEnv(t)
	env.seed(t, domain.TypeBattleRace, 1_000_000, 24*time.Hour)
	// Token A qualifies at t=1000, token B at t=2000: A wins regardless of
	// how many buckets each series carries.
	env.setCandles("tokA", domain.GranularityCoarse, []domain.Candle{
		{Time: 500, High: 900_000}, {Time: 1000, High: 1_050_000},
	})
	env.setCandles("tokB", domain.GranularityCoarse, []domain.Candle{
		{Time: 500, High: 800_000}, {Time: 2000, High: 1_200_000}, {Time: 2300, High: 1_500_000},
	})

	env.sweep(t)

	m := env.store.markets["m1"]
	assert.Equal(t, domain.OutcomeYes, m.ResolvedOutcome)
	assert.Equal(t, domain.TrackingResolved, env.store.tracking["t1"].Status)
}

func TestResolver_BattleSoleQualifierWinsOutright(t *testing.T) {
	env := newResolverEnv(t)
	env.seed(t, domain.TypeBattleRace, 1_000_000, 24*time.Hour)
	env.setCandles("tokA", domain.GranularityCoarse, []domain.Candle{{Time: 1000, High: 900_000}})
	env.setCandles("tokB", domain.GranularityCoarse, []domain.Candle{{Time: 2000, High: 1_100_000}})

	env.sweep(t)

	assert.Equal(t, domain.OutcomeNo, env.store.markets["m1"].ResolvedOutcome)
}

func TestResolver_BattleNeitherQualifiesStaysPending(t *testing.T) {
	env := newResolverEnv(t)
	env.seed(t, domain.TypeBattleRace, 1_000_000, 24*time.Hour)
	env.setCandles("tokA", domain.GranularityCoarse, []domain.Candle{{Time: 1000, High: 900_000}})
	env.setCandles("tokB", domain.GranularityCoarse, []domain.Candle{{Time: 1000, High: 950_000}})

	env.sweep(t)

	assert.Equal(t, domain.MarketStatusActive, env.store.markets["m1"].Status)
	assert.Equal(t, domain.TrackingPending, env.store.tracking["t1"].Status)
}

func TestResolver_BattleTieBrokenAtFinerGranularity(t *testing.T) {
	env := newResolverEnv(t)
	env.seed(t, domain.TypeBattleRace, 1_000_000, 24*time.Hour)
	// Same coarse bucket; fine candles separate them.
	env.setCandles("tokA", domain.GranularityCoarse, []domain.Candle{{Time: 3000, High: 1_100_000}})
	env.setCandles("tokB", domain.GranularityCoarse, []domain.Candle{{Time: 3000, High: 1_200_000}})
	env.setCandles("tokA", domain.GranularityFine, []domain.Candle{{Time: 3060, High: 1_100_000}})
	env.setCandles("tokB", domain.GranularityFine, []domain.Candle{{Time: 3120, High: 1_200_000}})

	env.sweep(t)

	assert.Equal(t, domain.OutcomeYes, env.store.markets["m1"].ResolvedOutcome)
}

func TestResolver_BattleUnbreakableTieRefunds(t *testing.T) {
	env := newResolverEnv(t)
	env.seed(t, domain.TypeBattleRace, 1_000_000, 24*time.Hour)
	env.setCandles("tokA", domain.GranularityCoarse, []domain.Candle{{Time: 3000, High: 1_100_000}})
	env.setCandles("tokB", domain.GranularityCoarse, []domain.Candle{{Time: 3000, High: 1_200_000}})
	env.setCandles("tokA", domain.GranularityFine, []domain.Candle{{Time: 3060, High: 1_100_000}})
	env.setCandles("tokB", domain.GranularityFine, []domain.Candle{{Time: 3060, High: 1_200_000}})

	env.sweep(t)

	m := env.store.markets["m1"]
	assert.Equal(t, domain.OutcomeRefunded, m.ResolvedOutcome)
	assert.Equal(t, domain.TrackingExpired, env.store.tracking["t1"].Status)
}

func TestResolver_BattleDumpLowBoundary(t *testing.T) {
	env := newResolverEnv(t)
	env.seed(t, domain.TypeBattleDump, 500_000, 24*time.Hour)
	env.setCandles("tokA", domain.GranularityCoarse, []domain.Candle{{Time: 1000, Low: 600_000}})
	env.setCandles("tokB", domain.GranularityCoarse, []domain.Candle{{Time: 1500, Low: 500_000}}) // inclusive

	env.sweep(t)

	assert.Equal(t, domain.OutcomeNo, env.store.markets["m1"].ResolvedOutcome)
}

func TestResolver_BattleQualifierAfterExpiryRefunds(t *testing.T) {
	env := newResolverEnv(t)
	m, _ := env.seed(t, domain.TypeBattleRace, 1_000_000, -time.Hour)
	// The only qualifying bucket sits half an hour after the market closed;
	// a post-close spike must not decide the battle.
	env.setCandles("tokA", domain.GranularityCoarse, []domain.Candle{
		{Time: m.ExpiresAt.Add(-time.Hour).Unix(), High: 900_000},
		{Time: m.ExpiresAt.Add(30 * time.Minute).Unix(), High: 1_200_000},
	})
	env.setCandles("tokB", domain.GranularityCoarse, []domain.Candle{
		{Time: m.ExpiresAt.Add(-time.Hour).Unix(), High: 950_000},
	})

	env.sweep(t)

	res := env.store.markets["m1"]
	assert.Equal(t, domain.OutcomeRefunded, res.ResolvedOutcome)
	assert.Equal(t, domain.TrackingExpired, env.store.tracking["t1"].Status)
	// Refund, not a payout: both stakes come back.
	assert.True(t, env.balances.credits["alice"].Equal(decimal.NewFromInt(60)))
	assert.True(t, env.balances.credits["bob"].Equal(decimal.NewFromInt(40)))
}

func TestResolver_BattleIgnoresPreCreationCandles(t *testing.T) {
	env := newResolverEnv(t)
	m, _ := env.seed(t, domain.TypeBattleRace, 1_000_000, 24*time.Hour)
	created := env.now.Add(-24 * time.Hour)
	m.CreatedAt = created
	env.store.markets["m1"] = m
	// Token A spiked past the target before the market existed; token B
	// qualifies inside the battle window and wins.
	env.setCandles("tokA", domain.GranularityCoarse, []domain.Candle{
		{Time: created.Add(-2 * time.Hour).Unix(), High: 1_500_000},
		{Time: created.Add(time.Hour).Unix(), High: 900_000},
	})
	env.setCandles("tokB", domain.GranularityCoarse, []domain.Candle{
		{Time: created.Add(2 * time.Hour).Unix(), High: 1_100_000},
	})

	env.sweep(t)

	assert.Equal(t, domain.OutcomeNo, env.store.markets["m1"].ResolvedOutcome)
}

func TestResolver_ExpiredBattleWithoutWinnerRefunds(t *testing.T) {
	env := newResolverEnv(t)
	env.seed(t, domain.TypeBattleRace, 1_000_000, -time.Hour)
	env.setCandles("tokA", domain.GranularityCoarse, []domain.Candle{{Time: 1000, High: 900_000}})
	env.setCandles("tokB", domain.GranularityCoarse, []domain.Candle{{Time: 1000, High: 950_000}})

	env.sweep(t)

	m := env.store.markets["m1"]
	assert.Equal(t, domain.OutcomeRefunded, m.ResolvedOutcome)
	assert.Equal(t, domain.TrackingExpired, env.store.tracking["t1"].Status)
}
