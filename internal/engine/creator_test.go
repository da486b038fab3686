package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solcast/marketd/internal/domain"
	"github.com/solcast/marketd/internal/selection"
)

func newCreator(store *memStore, logs *memLogs, cfg *memAutoCfg, feed *fakeFeed, bus *fakeBus) *Creator {
	return NewCreator(store, logs, cfg, feed, nil, selection.NewSelector(logs), bus, nil, testLogger())
}

func TestRunCycle_DisabledWritesSingleLogEntry(t *testing.T) {
	store := newMemStore()
	logs := &memLogs{}
	cfg := &memAutoCfg{cfg: domain.AutomationConfig{Enabled: false}}
	c := newCreator(store, logs, cfg, &fakeFeed{}, &fakeBus{})

	err := c.RunCycle(context.Background())
	assert.ErrorIs(t, err, domain.ErrAutomationDisabled)

	require.Len(t, logs.entries, 1)
	assert.Equal(t, domain.LogTypeDisabled, logs.entries[0].QuestionType)
	assert.False(t, logs.entries[0].Success)
	assert.Empty(t, store.markets)
}

func TestRunCycle_CreatesMarketWithTracking(t *testing.T) {
	store := newMemStore()
	logs := &memLogs{}
	cfg := &memAutoCfg{cfg: domain.AutomationConfig{Enabled: true}}
	feed := &fakeFeed{tokens: []domain.Token{
		{Address: "tok1", Symbol: "WIF", MarketCap: 300_000, Volume24h: 100_000, Holders: 500, AgeSeconds: 3600},
	}}
	bus := &fakeBus{}
	c := newCreator(store, logs, cfg, feed, bus)

	require.NoError(t, c.RunCycle(context.Background()))

	require.Len(t, store.markets, 1)
	require.Len(t, store.tracking, 1)
	for _, m := range store.markets {
		assert.True(t, m.IsAutomated)
		assert.Equal(t, string(domain.TypeMarketCap), m.Category)
		assert.Equal(t, "tok1", m.TokenAddress)
		require.NotNil(t, m.ExpiresAt)
	}
	for _, tr := range store.tracking {
		assert.Equal(t, domain.TypeMarketCap, tr.MarketType)
		assert.Equal(t, 750_000.0, tr.TargetValue) // worked example: 2x300K rounds to 750K
		assert.Equal(t, domain.TrackingPending, tr.Status)
	}

	require.Len(t, logs.entries, 1)
	assert.True(t, logs.entries[0].Success)
	assert.Equal(t, string(domain.TypeMarketCap), logs.entries[0].QuestionType)
	assert.False(t, cfg.cfg.LastRun.IsZero())
	assert.Contains(t, bus.published, domain.EventMarketCreated)
}

func TestRunCycle_RotatesPastUnsatisfiableType(t *testing.T) {
	store := newMemStore()
	logs := &memLogs{}
	cfg := &memAutoCfg{cfg: domain.AutomationConfig{Enabled: true}}
	// Too small for a market-cap market, eligible for a volume market.
	feed := &fakeFeed{tokens: []domain.Token{
		{Address: "tok1", Symbol: "PEPE", MarketCap: 10_000, Volume24h: 60_000, Holders: 50, AgeSeconds: 3600},
	}}
	c := newCreator(store, logs, cfg, feed, &fakeBus{})

	require.NoError(t, c.RunCycle(context.Background()))

	require.Len(t, store.markets, 1)
	for _, tr := range store.tracking {
		assert.Equal(t, domain.TypeVolume, tr.MarketType)
	}

	// One failure row for the skipped type, one success row for the created one.
	require.Len(t, logs.entries, 2)
	assert.Equal(t, string(domain.TypeMarketCap), logs.entries[0].QuestionType)
	assert.False(t, logs.entries[0].Success)
	assert.Equal(t, string(domain.TypeVolume), logs.entries[1].QuestionType)
	assert.True(t, logs.entries[1].Success)
}

func TestRunCycle_AllTypesExhausted(t *testing.T) {
	store := newMemStore()
	logs := &memLogs{}
	cfg := &memAutoCfg{cfg: domain.AutomationConfig{Enabled: true}}
	c := newCreator(store, logs, cfg, &fakeFeed{}, &fakeBus{})

	err := c.RunCycle(context.Background())
	assert.ErrorIs(t, err, domain.ErrTypesExhausted)
	assert.Empty(t, store.markets)

	// One failure per type slot plus the terminal entry.
	require.Len(t, logs.entries, 5)
	last := logs.entries[len(logs.entries)-1]
	assert.Equal(t, domain.LogTypeError, last.QuestionType)
}

func TestRunCycle_SkipsTokensAlreadyInUse(t *testing.T) {
	store := newMemStore()
	logs := &memLogs{}
	cfg := &memAutoCfg{cfg: domain.AutomationConfig{Enabled: true}}
	feed := &fakeFeed{tokens: []domain.Token{
		{Address: "used", Symbol: "A", MarketCap: 300_000, Volume24h: 100_000, Holders: 500},
		{Address: "fresh", Symbol: "B", MarketCap: 400_000, Volume24h: 100_000, Holders: 500},
	}}
	c := newCreator(store, logs, cfg, feed, &fakeBus{})

	// Seed an active automated market already holding "used".
	require.NoError(t, store.CreateWithTracking(context.Background(),
		domain.Market{ID: "m0", IsAutomated: true, Status: domain.MarketStatusActive,
			Category: string(domain.TypeVolume), TokenAddress: "used"},
		domain.ResolutionTracking{ID: "t0", MarketID: "m0", Status: domain.TrackingPending},
	))

	require.NoError(t, c.RunCycle(context.Background()))

	var created domain.Market
	for _, m := range store.markets {
		if m.ID != "m0" {
			created = m
		}
	}
	assert.Equal(t, "fresh", created.TokenAddress)
}

func TestCreateForced_HardFailsWithoutFallback(t *testing.T) {
	store := newMemStore()
	logs := &memLogs{}
	cfg := &memAutoCfg{cfg: domain.AutomationConfig{Enabled: true}}
	// Eligible for volume, but holders is forced and unsatisfiable.
	feed := &fakeFeed{tokens: []domain.Token{
		{Address: "tok1", Symbol: "A", MarketCap: 10_000, Volume24h: 60_000, Holders: 50},
	}}
	c := newCreator(store, logs, cfg, feed, &fakeBus{})

	_, err := c.CreateForced(context.Background(), domain.TypeHolders)
	assert.ErrorIs(t, err, domain.ErrNoEligibleToken)
	assert.Empty(t, store.markets) // no rotation to another type

	require.Len(t, logs.entries, 1)
	assert.Equal(t, string(domain.TypeHolders), logs.entries[0].QuestionType)
	assert.False(t, logs.entries[0].Success)
}

func TestCreateForced_IgnoresDisabledFlag(t *testing.T) {
	store := newMemStore()
	logs := &memLogs{}
	cfg := &memAutoCfg{cfg: domain.AutomationConfig{Enabled: false}}
	feed := &fakeFeed{tokens: []domain.Token{
		{Address: "tok1", Symbol: "A", MarketCap: 300_000, Volume24h: 100_000, Holders: 500},
	}}
	c := newCreator(store, logs, cfg, feed, &fakeBus{})

	m, err := c.CreateForced(context.Background(), domain.TypeMarketCap)
	require.NoError(t, err)
	assert.Equal(t, "tok1", m.TokenAddress)
	require.Len(t, store.markets, 1)
}

func TestRunCycle_BattlePairing(t *testing.T) {
	store := newMemStore()
	logs := &memLogs{}
	cfg := &memAutoCfg{cfg: domain.AutomationConfig{Enabled: true}}
	feed := &fakeFeed{tokens: []domain.Token{
		{Address: "a", Symbol: "AAA", MarketCap: 1_000_000, Volume24h: 100_000, Holders: 500, AgeSeconds: 1000},
		{Address: "b", Symbol: "BBB", MarketCap: 1_100_000, Volume24h: 100_000, Holders: 500, AgeSeconds: 1100},
	}}
	c := newCreator(store, logs, cfg, feed, &fakeBus{})

	// Occupy the three single-token slots so rotation lands on battle.
	for i, mt := range []domain.MarketType{domain.TypeMarketCap, domain.TypeVolume, domain.TypeHolders} {
		require.NoError(t, store.CreateWithTracking(context.Background(),
			domain.Market{ID: string(rune('x' + i)), IsAutomated: true,
				Status: domain.MarketStatusActive, Category: string(mt), TokenAddress: "occ" + string(rune('0'+i))},
			domain.ResolutionTracking{ID: "tr" + string(rune('0'+i)), Status: domain.TrackingPending},
		))
	}

	require.NoError(t, c.RunCycle(context.Background()))

	var battle domain.ResolutionTracking
	for _, tr := range store.tracking {
		if tr.MarketType.IsBattle() {
			battle = tr
		}
	}
	require.NotEmpty(t, battle.ID)
	assert.Equal(t, domain.TypeBattleRace, battle.MarketType) // cold start picks race
	assert.Equal(t, "a", battle.TokenAddress)
	assert.Equal(t, "b", battle.SecondToken)
	// Weaker token doubled: 2M rounds onto the 2M rung.
	assert.Equal(t, 2_000_000.0, battle.TargetValue)
}
