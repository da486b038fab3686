package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/solcast/marketd/internal/domain"
)

// memStore is an in-memory MarketStore + TrackingStore mirroring the status
// guards of the postgres implementation.
type memStore struct {
	mu       sync.Mutex
	markets  map[string]domain.Market
	tracking map[string]domain.ResolutionTracking
}

func newMemStore() *memStore {
	return &memStore{
		markets:  map[string]domain.Market{},
		tracking: map[string]domain.ResolutionTracking{},
	}
}

func (s *memStore) CreateWithTracking(_ context.Context, m domain.Market, t domain.ResolutionTracking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.markets[m.ID]; ok {
		return domain.ErrAlreadyExists
	}
	s.markets[m.ID] = m
	s.tracking[t.ID] = t
	return nil
}

func (s *memStore) GetByID(_ context.Context, id string) (domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markets[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

func (s *memStore) ListActiveAutomated(context.Context) ([]domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Market
	for _, m := range s.markets {
		if m.IsAutomated && m.Status == domain.MarketStatusActive {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *memStore) SetCommitment(_ context.Context, id, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markets[id]
	if !ok || m.Status != domain.MarketStatusActive {
		return domain.ErrNotFound
	}
	m.CommitHash = hash
	s.markets[id] = m
	return nil
}

func (s *memStore) Resolve(_ context.Context, id string, outcome domain.Outcome, secret string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markets[id]
	if !ok || m.Status != domain.MarketStatusActive {
		return domain.ErrNotFound
	}
	m.Status = domain.MarketStatusResolved
	m.ResolvedOutcome = outcome
	m.CommitSecret = secret
	if outcome == domain.OutcomeRefunded {
		m.YesPool = decimal.Zero
		m.NoPool = decimal.Zero
	}
	s.markets[id] = m
	return nil
}

func (s *memStore) ListPending(context.Context) ([]domain.ResolutionTracking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.ResolutionTracking
	for _, t := range s.tracking {
		if t.Status == domain.TrackingPending {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *memStore) advance(id string, status domain.TrackingStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tracking[id]
	if !ok || t.Status != domain.TrackingPending {
		return domain.ErrNotFound
	}
	t.Status = status
	s.tracking[id] = t
	return nil
}

func (s *memStore) MarkResolved(_ context.Context, id string) error {
	return s.advance(id, domain.TrackingResolved)
}

func (s *memStore) MarkExpired(_ context.Context, id string) error {
	return s.advance(id, domain.TrackingExpired)
}

func (s *memStore) Touch(_ context.Context, id string, checked time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tracking[id]
	if !ok {
		return domain.ErrNotFound
	}
	t.LastChecked = checked
	s.tracking[id] = t
	return nil
}

// memLogs is an in-memory AutomationLogStore.
type memLogs struct {
	mu      sync.Mutex
	entries []domain.AutomatedMarketLog
}

func (l *memLogs) Append(_ context.Context, e domain.AutomatedMarketLog) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.ID = int64(len(l.entries) + 1)
	l.entries = append(l.entries, e)
	return nil
}

func (l *memLogs) List(context.Context, domain.ListOpts) ([]domain.AutomatedMarketLog, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.AutomatedMarketLog(nil), l.entries...), nil
}

func (l *memLogs) LastBattleType(context.Context) (domain.MarketType, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.entries) - 1; i >= 0; i-- {
		mt := domain.MarketType(l.entries[i].QuestionType)
		if mt.IsBattle() {
			return mt, nil
		}
	}
	return "", nil
}

func (l *memLogs) ListBefore(context.Context, time.Time, int) ([]domain.AutomatedMarketLog, error) {
	return nil, nil
}

func (l *memLogs) DeleteBefore(context.Context, time.Time) (int64, error) { return 0, nil }

// memAutoCfg is an in-memory AutomationConfigStore.
type memAutoCfg struct {
	cfg domain.AutomationConfig
}

func (c *memAutoCfg) Get(context.Context) (domain.AutomationConfig, error) { return c.cfg, nil }

func (c *memAutoCfg) SetLastRun(_ context.Context, at time.Time) error {
	c.cfg.LastRun = at
	return nil
}

// memBets is an in-memory BetStore.
type memBets struct {
	bets map[string][]domain.Bet
}

func (b *memBets) ListByMarket(_ context.Context, marketID string) ([]domain.Bet, error) {
	return b.bets[marketID], nil
}

// fakeFeed serves canned tokens and candles.
type fakeFeed struct {
	tokens  []domain.Token
	candles map[string]map[domain.Granularity][]domain.Candle
	listErr error
	getErr  error
}

func (f *fakeFeed) ListCandidateTokens(context.Context) ([]domain.Token, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.tokens, nil
}

func (f *fakeFeed) GetToken(_ context.Context, address string) (domain.Token, error) {
	if f.getErr != nil {
		return domain.Token{}, f.getErr
	}
	for _, t := range f.tokens {
		if t.Address == address {
			return t, nil
		}
	}
	return domain.Token{}, domain.ErrNotFound
}

func (f *fakeFeed) GetCandleHistory(_ context.Context, address string, g domain.Granularity, _ int) ([]domain.Candle, error) {
	byGran, ok := f.candles[address]
	if !ok {
		return nil, nil
	}
	return byGran[g], nil
}

// fakeBus records published events.
type fakeBus struct {
	published []string
	streamed  []string
}

func (b *fakeBus) Publish(_ context.Context, channel string, _ []byte) error {
	b.published = append(b.published, channel)
	return nil
}

func (b *fakeBus) StreamAppend(_ context.Context, stream string, _ []byte) error {
	b.streamed = append(b.streamed, stream)
	return nil
}

// fakeLedger / fakeTxStore / fakeBalances back the payout distributor.
type fakeLedger struct {
	balance decimal.Decimal
	batches [][]domain.TransferItem
}

func (f *fakeLedger) SubmitBatchTransfer(_ context.Context, items []domain.TransferItem) (string, error) {
	f.batches = append(f.batches, items)
	return fmt.Sprintf("sig-%d", len(f.batches)), nil
}

func (f *fakeLedger) TreasuryBalance(context.Context) (decimal.Decimal, error) {
	return f.balance, nil
}

type fakeTxStore struct {
	inserted []domain.Transaction
}

func (f *fakeTxStore) InsertBatch(_ context.Context, txs []domain.Transaction) error {
	f.inserted = append(f.inserted, txs...)
	return nil
}

func (f *fakeTxStore) ListFailed(context.Context, domain.ListOpts) ([]domain.Transaction, error) {
	return nil, nil
}

func (f *fakeTxStore) MarkCompleted(context.Context, string, string) error { return nil }
func (f *fakeTxStore) MarkFailed(context.Context, string, string) error    { return nil }

type fakeBalances struct {
	credits map[string]decimal.Decimal
}

func (f *fakeBalances) Credit(_ context.Context, wallet string, amount decimal.Decimal) error {
	if f.credits == nil {
		f.credits = map[string]decimal.Decimal{}
	}
	f.credits[wallet] = f.credits[wallet].Add(amount)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
