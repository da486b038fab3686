package selection

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solcast/marketd/internal/domain"
)

func token(addr string, cap float64, holders int, age int64) domain.Token {
	return domain.Token{
		Address:    addr,
		Symbol:     addr,
		MarketCap:  cap,
		Volume24h:  cap / 2,
		Holders:    holders,
		AgeSeconds: age,
	}
}

func TestPickToken_FeedRankOrder(t *testing.T) {
	tokens := []domain.Token{
		token("below", 10_000, 50, 100), // under every bound
		token("first", 300_000, 500, 100),
		token("second", 400_000, 600, 100),
	}

	got, err := PickToken(domain.TypeMarketCap, tokens, nil)
	require.NoError(t, err)
	assert.Equal(t, "first", got.Address)
}

func TestPickToken_SkipsUsedTokens(t *testing.T) {
	tokens := []domain.Token{
		token("first", 300_000, 500, 100),
		token("second", 400_000, 600, 100),
	}
	used := map[string]bool{"first": true}

	got, err := PickToken(domain.TypeMarketCap, tokens, used)
	require.NoError(t, err)
	assert.Equal(t, "second", got.Address)
}

func TestPickToken_NoCandidate(t *testing.T) {
	tokens := []domain.Token{token("tiny", 1_000, 10, 100)}
	_, err := PickToken(domain.TypeHolders, tokens, nil)
	assert.ErrorIs(t, err, domain.ErrNoEligibleToken)
}

func TestUsedTokens_BothSidesOfBattles(t *testing.T) {
	markets := []domain.Market{
		{IsAutomated: true, TokenAddress: "a"},
		{IsAutomated: true, TokenAddress: "b", SecondToken: "c"},
		{IsAutomated: false, TokenAddress: "manual"},
	}

	used := UsedTokens(markets)
	assert.True(t, used["a"])
	assert.True(t, used["b"])
	assert.True(t, used["c"])
	assert.False(t, used["manual"])
}

func TestPickPair_FirstMatchWins(t *testing.T) {
	tokens := []domain.Token{
		token("a", 1_000_000, 500, 1000),
		token("b", 5_000_000, 500, 1000), // too far from a in size
		token("c", 1_100_000, 500, 1100), // within 30% of a on both axes
		token("d", 1_050_000, 500, 1050), // also matches, but c comes first
	}

	a, b, err := PickPair(domain.TypeBattleRace, tokens, nil)
	require.NoError(t, err)
	assert.Equal(t, "a", a.Address)
	assert.Equal(t, "c", b.Address)
}

func TestPickPair_AgeToleranceRejects(t *testing.T) {
	tokens := []domain.Token{
		token("young", 1_000_000, 500, 100),
		token("old", 1_000_000, 500, 1_000_000),
	}

	_, _, err := PickPair(domain.TypeBattleRace, tokens, nil)
	assert.ErrorIs(t, err, domain.ErrNoEligiblePair)
}

// --- rotation ---

type fakeLogStore struct {
	entries    []domain.AutomatedMarketLog
	lastBattle domain.MarketType
}

func (f *fakeLogStore) Append(_ context.Context, e domain.AutomatedMarketLog) error {
	f.entries = append(f.entries, e)
	return nil
}

func (f *fakeLogStore) List(context.Context, domain.ListOpts) ([]domain.AutomatedMarketLog, error) {
	return f.entries, nil
}

func (f *fakeLogStore) LastBattleType(context.Context) (domain.MarketType, error) {
	return f.lastBattle, nil
}

func (f *fakeLogStore) ListBefore(context.Context, time.Time, int) ([]domain.AutomatedMarketLog, error) {
	return nil, nil
}

func (f *fakeLogStore) DeleteBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func activeMarket(mt domain.MarketType) domain.Market {
	m := domain.Market{
		IsAutomated: true,
		Status:      domain.MarketStatusActive,
		Category:    string(mt),
	}
	if mt.IsBattle() {
		m.SecondToken = "other"
	}
	return m
}

func TestSelectNext_FirstFreeSlot(t *testing.T) {
	s := NewSelector(&fakeLogStore{})
	ctx := context.Background()

	mt, err := s.SelectNext(ctx, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.TypeMarketCap, mt)

	mt, err = s.SelectNext(ctx, []domain.Market{activeMarket(domain.TypeMarketCap)}, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.TypeVolume, mt)
}

func TestSelectNext_NeverPicksOccupiedType(t *testing.T) {
	s := NewSelector(&fakeLogStore{})
	active := []domain.Market{
		activeMarket(domain.TypeMarketCap),
		activeMarket(domain.TypeVolume),
		activeMarket(domain.TypeHolders),
	}

	mt, err := s.SelectNext(context.Background(), active, nil)
	require.NoError(t, err)
	assert.True(t, mt.IsBattle())
}

func TestSelectNext_BattleSubtypeAlternates(t *testing.T) {
	ctx := context.Background()
	active := []domain.Market{
		activeMarket(domain.TypeMarketCap),
		activeMarket(domain.TypeVolume),
		activeMarket(domain.TypeHolders),
	}

	// Cold start: race.
	s := NewSelector(&fakeLogStore{})
	mt, err := s.SelectNext(ctx, active, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.TypeBattleRace, mt)

	// After a race: dump.
	s = NewSelector(&fakeLogStore{lastBattle: domain.TypeBattleRace})
	mt, err = s.SelectNext(ctx, active, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.TypeBattleDump, mt)

	// After a dump: race again.
	s = NewSelector(&fakeLogStore{lastBattle: domain.TypeBattleDump})
	mt, err = s.SelectNext(ctx, active, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.TypeBattleRace, mt)
}

func TestSelectNext_ExcludedTypesRotatePast(t *testing.T) {
	s := NewSelector(&fakeLogStore{})
	excluded := map[domain.MarketType]bool{domain.TypeMarketCap: true}

	mt, err := s.SelectNext(context.Background(), nil, excluded)
	require.NoError(t, err)
	assert.Equal(t, domain.TypeVolume, mt)
}

func TestSelectNext_Exhausted(t *testing.T) {
	s := NewSelector(&fakeLogStore{})
	excluded := map[domain.MarketType]bool{
		domain.TypeMarketCap:  true,
		domain.TypeVolume:     true,
		domain.TypeHolders:    true,
		domain.TypeBattleRace: true, // excludes the whole battle slot
	}

	_, err := s.SelectNext(context.Background(), nil, excluded)
	assert.ErrorIs(t, err, domain.ErrTypesExhausted)
}
