package domain

import (
	"context"
	"io"
	"time"

	"github.com/shopspring/decimal"
)

// TokenFeed is the external token-metrics service. Both calls are
// synchronous and rate-limited by the client.
type TokenFeed interface {
	// ListCandidateTokens returns the feed's current ranked candidate page.
	ListCandidateTokens(ctx context.Context) ([]Token, error)
	// GetToken returns a single token's current metrics.
	GetToken(ctx context.Context, address string) (Token, error)
	// GetCandleHistory returns up to limit candles in chronological order.
	GetCandleHistory(ctx context.Context, address string, g Granularity, limit int) ([]Candle, error)
}

// TransferItem is one recipient/amount pair inside a batch transfer.
type TransferItem struct {
	Recipient string
	Amount    decimal.Decimal
}

// Ledger is the external transfer service in front of the settlement chain.
// A batch succeeds or fails atomically; the returned reference covers every
// item in the batch.
type Ledger interface {
	SubmitBatchTransfer(ctx context.Context, items []TransferItem) (string, error)
	TreasuryBalance(ctx context.Context) (decimal.Decimal, error)
}

// SignalBus publishes fire-and-forget lifecycle events toward the UI layer.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	StreamAppend(ctx context.Context, stream string, payload []byte) error
}

// Event channels published by the engine.
const (
	EventMarketCreated  = "markets:created"
	EventMarketResolved = "markets:resolved"
)

// TokenCache holds the most recent candidate page so creation cycles and the
// websocket launch stream share one view of the feed.
type TokenCache interface {
	SetCandidates(ctx context.Context, tokens []Token) error
	// GetCandidates returns the cached page and whether a fresh entry existed.
	GetCandidates(ctx context.Context) ([]Token, bool, error)
}

// RateLimiter bounds calls to the external feed across processes.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// BlobWriter stores archived audit objects in cold storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}
