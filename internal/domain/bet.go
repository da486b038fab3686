package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Bet is a user's position on one side of a market. Bets are written by the
// wagering layer; the lifecycle engine only reads them at settlement.
type Bet struct {
	ID        string
	MarketID  string
	Wallet    string
	Position  Outcome // yes or no
	Amount    decimal.Decimal
	CreatedAt time.Time
}

// TransactionType classifies a settlement ledger entry.
type TransactionType string

const (
	TxPayout TransactionType = "payout"
	TxRefund TransactionType = "refund"
)

// TransactionStatus tracks the on-chain leg of a settlement entry.
type TransactionStatus string

const (
	TxStatusPending   TransactionStatus = "pending"
	TxStatusCompleted TransactionStatus = "completed"
	TxStatusFailed    TransactionStatus = "failed"
)

// Transaction is one internal ledger entry produced by settlement. Every
// entry in a transfer batch shares the batch's transfer reference on success,
// or the batch's error on failure.
type Transaction struct {
	ID          string
	MarketID    string
	Wallet      string
	Type        TransactionType
	Amount      decimal.Decimal
	Status      TransactionStatus
	TransferRef string
	Error       string
	CreatedAt   time.Time
}
