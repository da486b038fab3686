package payout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/solcast/marketd/internal/domain"
)

// DefaultBatchSize is the ledger's per-transaction instruction limit.
const DefaultBatchSize = 20

// Distributor submits settlement entries to the external ledger in maximal
// batches and reconciles each batch back into internal ledger rows. A batch
// succeeds or fails atomically on chain, so every entry in it shares one
// transfer reference or one error.
type Distributor struct {
	ledger     domain.Ledger
	txStore    domain.TransactionStore
	balances   domain.BalanceStore
	batchSize  int
	feeReserve decimal.Decimal
	logger     *slog.Logger
}

// NewDistributor creates a Distributor. batchSize falls back to
// DefaultBatchSize when non-positive.
func NewDistributor(
	ledger domain.Ledger,
	txStore domain.TransactionStore,
	balances domain.BalanceStore,
	batchSize int,
	feeReserve decimal.Decimal,
	logger *slog.Logger,
) *Distributor {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Distributor{
		ledger:     ledger,
		txStore:    txStore,
		balances:   balances,
		batchSize:  batchSize,
		feeReserve: feeReserve,
		logger:     logger.With(slog.String("component", "distributor")),
	}
}

// Distribute settles a resolved market: it computes entries, verifies the
// treasury can cover the full total plus a per-batch fee reserve, then
// submits batch by batch. Batch failures are independent; a failed batch is
// recorded as failed transactions for replay and does not stop later batches
// or the surrounding resolution. The returned error aggregates batch
// failures and is informational to the caller.
func (d *Distributor) Distribute(ctx context.Context, m domain.Market, bets []domain.Bet, outcome domain.Outcome) error {
	entries := Compute(m, bets, outcome)
	if len(entries) == 0 {
		return nil
	}

	batches := d.pack(entries)

	total := decimal.Zero
	for _, e := range entries {
		total = total.Add(e.Amount)
	}
	reserve := d.feeReserve.Mul(decimal.NewFromInt(int64(len(batches))))

	balance, err := d.ledger.TreasuryBalance(ctx)
	if err != nil {
		return fmt.Errorf("payout: treasury balance: %w", err)
	}
	if balance.LessThan(total.Add(reserve)) {
		d.logger.ErrorContext(ctx, "treasury cannot cover settlement",
			slog.String("market_id", m.ID),
			slog.String("required", total.Add(reserve).String()),
			slog.String("balance", balance.String()),
		)
		// No transfer fires, but every entry is recorded as failed so the
		// operator can top up the treasury and replay.
		if err := d.recordFailed(ctx, m.ID, entries, domain.ErrInsufficientTreasury.Error()); err != nil {
			return err
		}
		return fmt.Errorf("payout: market %s needs %s, treasury has %s: %w",
			m.ID, total.Add(reserve), balance, domain.ErrInsufficientTreasury)
	}

	var batchErrs []error
	for i, batch := range batches {
		if err := d.submit(ctx, m.ID, batch); err != nil {
			batchErrs = append(batchErrs, fmt.Errorf("batch %d/%d: %w", i+1, len(batches), err))
		}
	}

	d.logger.InfoContext(ctx, "settlement distributed",
		slog.String("market_id", m.ID),
		slog.String("outcome", string(outcome)),
		slog.Int("entries", len(entries)),
		slog.Int("batches", len(batches)),
		slog.Int("failed_batches", len(batchErrs)),
	)
	return errors.Join(batchErrs...)
}

// recordFailed writes every entry as a failed internal ledger row carrying
// the given error.
func (d *Distributor) recordFailed(ctx context.Context, marketID string, entries []Entry, errMsg string) error {
	now := time.Now().UTC()
	txs := make([]domain.Transaction, len(entries))
	for i, e := range entries {
		txs[i] = domain.Transaction{
			ID:        uuid.NewString(),
			MarketID:  marketID,
			Wallet:    e.Wallet,
			Type:      e.Type,
			Amount:    e.Amount,
			Status:    domain.TxStatusFailed,
			Error:     errMsg,
			CreatedAt: now,
		}
	}
	if err := d.txStore.InsertBatch(ctx, txs); err != nil {
		return fmt.Errorf("payout: record failed entries: %w", err)
	}
	return nil
}

// pack splits entries into maximal batches bounded by the instruction limit.
func (d *Distributor) pack(entries []Entry) [][]Entry {
	var batches [][]Entry
	for len(entries) > 0 {
		n := d.batchSize
		if n > len(entries) {
			n = len(entries)
		}
		batches = append(batches, entries[:n])
		entries = entries[n:]
	}
	return batches
}

// submit sends one batch and writes its internal ledger rows. On success all
// rows share the transfer reference and balances are credited; on failure all
// rows carry the batch error so an operator can replay them.
func (d *Distributor) submit(ctx context.Context, marketID string, batch []Entry) error {
	items := make([]domain.TransferItem, len(batch))
	for i, e := range batch {
		items[i] = domain.TransferItem{Recipient: e.Wallet, Amount: e.Amount}
	}

	ref, submitErr := d.ledger.SubmitBatchTransfer(ctx, items)

	now := time.Now().UTC()
	txs := make([]domain.Transaction, len(batch))
	for i, e := range batch {
		txs[i] = domain.Transaction{
			ID:        uuid.NewString(),
			MarketID:  marketID,
			Wallet:    e.Wallet,
			Type:      e.Type,
			Amount:    e.Amount,
			CreatedAt: now,
		}
		if submitErr != nil {
			txs[i].Status = domain.TxStatusFailed
			txs[i].Error = submitErr.Error()
		} else {
			txs[i].Status = domain.TxStatusCompleted
			txs[i].TransferRef = ref
		}
	}

	if err := d.txStore.InsertBatch(ctx, txs); err != nil {
		return fmt.Errorf("payout: record batch: %w", err)
	}

	if submitErr != nil {
		d.logger.ErrorContext(ctx, "batch transfer failed",
			slog.String("market_id", marketID),
			slog.Int("size", len(batch)),
			slog.String("error", submitErr.Error()),
		)
		return fmt.Errorf("payout: submit batch: %w", submitErr)
	}

	for _, e := range batch {
		if err := d.balances.Credit(ctx, e.Wallet, e.Amount); err != nil {
			return fmt.Errorf("payout: credit %s: %w", e.Wallet, err)
		}
	}
	return nil
}

// Replay resubmits previously failed settlement transactions in batches.
// Transactions that succeed are marked completed with the new transfer
// reference; the rest stay failed with the latest error.
func (d *Distributor) Replay(ctx context.Context, limit int) (int, error) {
	failed, err := d.txStore.ListFailed(ctx, domain.ListOpts{Limit: limit})
	if err != nil {
		return 0, fmt.Errorf("payout: list failed transactions: %w", err)
	}
	if len(failed) == 0 {
		return 0, nil
	}

	replayed := 0
	for start := 0; start < len(failed); start += d.batchSize {
		end := start + d.batchSize
		if end > len(failed) {
			end = len(failed)
		}
		batch := failed[start:end]

		items := make([]domain.TransferItem, len(batch))
		for i, tx := range batch {
			items[i] = domain.TransferItem{Recipient: tx.Wallet, Amount: tx.Amount}
		}

		ref, submitErr := d.ledger.SubmitBatchTransfer(ctx, items)
		if submitErr != nil {
			for _, tx := range batch {
				if err := d.txStore.MarkFailed(ctx, tx.ID, submitErr.Error()); err != nil {
					return replayed, fmt.Errorf("payout: mark failed %s: %w", tx.ID, err)
				}
			}
			d.logger.ErrorContext(ctx, "replay batch failed",
				slog.Int("size", len(batch)),
				slog.String("error", submitErr.Error()),
			)
			continue
		}

		for _, tx := range batch {
			if err := d.txStore.MarkCompleted(ctx, tx.ID, ref); err != nil {
				return replayed, fmt.Errorf("payout: mark completed %s: %w", tx.ID, err)
			}
			if err := d.balances.Credit(ctx, tx.Wallet, tx.Amount); err != nil {
				return replayed, fmt.Errorf("payout: credit %s: %w", tx.Wallet, err)
			}
			replayed++
		}
	}
	return replayed, nil
}
