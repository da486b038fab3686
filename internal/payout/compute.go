// Package payout computes settlement amounts for resolved markets and
// distributes them through the external ledger in batched transfers.
package payout

import (
	"github.com/shopspring/decimal"

	"github.com/solcast/marketd/internal/domain"
)

// amountScale is the decimal precision for computed payout amounts.
const amountScale = 9

// Entry is one computed settlement credit before it is submitted on-chain.
type Entry struct {
	Wallet string
	Amount decimal.Decimal
	Type   domain.TransactionType
}

// Compute derives the settlement entries for a market given its resolved
// outcome and bets. A refunded outcome, or an outcome with no winning bets,
// returns every stake to its bettor. Otherwise the whole pool is split across
// winners: evenly for winner-take-all markets, proportionally to stake for
// everything else.
func Compute(m domain.Market, bets []domain.Bet, outcome domain.Outcome) []Entry {
	if len(bets) == 0 {
		return nil
	}

	if outcome == domain.OutcomeRefunded {
		return refundAll(bets)
	}

	var winners []domain.Bet
	winningStake := decimal.Zero
	for _, b := range bets {
		if b.Position == outcome {
			winners = append(winners, b)
			winningStake = winningStake.Add(b.Amount)
		}
	}

	// Nobody picked the winning side: full refund of both sides rather than
	// the pool vanishing into the treasury.
	if len(winners) == 0 || winningStake.IsZero() {
		return refundAll(bets)
	}

	pool := m.YesPool.Add(m.NoPool)
	entries := make([]Entry, 0, len(winners))

	if m.WinnerTakeAll {
		share := pool.DivRound(decimal.NewFromInt(int64(len(winners))), amountScale)
		for _, w := range winners {
			entries = append(entries, Entry{Wallet: w.Wallet, Amount: share, Type: domain.TxPayout})
		}
		return entries
	}

	for _, w := range winners {
		amount := pool.Mul(w.Amount).DivRound(winningStake, amountScale)
		entries = append(entries, Entry{Wallet: w.Wallet, Amount: amount, Type: domain.TxPayout})
	}
	return entries
}

func refundAll(bets []domain.Bet) []Entry {
	entries := make([]Entry, 0, len(bets))
	for _, b := range bets {
		entries = append(entries, Entry{Wallet: b.Wallet, Amount: b.Amount, Type: domain.TxRefund})
	}
	return entries
}
