package notify

// Event types emitted by the lifecycle engine. Operators filter on these in
// the notify config section.
const (
	EventMarketCreated  = "market_created"
	EventMarketResolved = "market_resolved"
	EventRefundIssued   = "refund_issued"
	EventPayoutFailed   = "payout_failed"
	EventTreasuryLow    = "treasury_low"
)
