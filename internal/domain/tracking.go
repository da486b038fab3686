package domain

import "time"

// TrackingStatus is the state of a resolution-tracking row. Transitions only
// move forward: pending -> resolved or pending -> expired. Once non-pending
// the resolution checker treats the market as terminal.
type TrackingStatus string

const (
	TrackingPending  TrackingStatus = "pending"
	TrackingResolved TrackingStatus = "resolved"
	TrackingExpired  TrackingStatus = "expired"
)

// ResolutionTracking drives the polling resolution checker. One row exists
// per automated market, created atomically with it.
type ResolutionTracking struct {
	ID           string
	MarketID     string
	MarketType   MarketType
	TargetValue  float64
	TokenAddress string
	SecondToken  string // battle markets only
	Status       TrackingStatus
	LastChecked  time.Time
	CreatedAt    time.Time
}

// AutomatedMarketLog is an immutable audit record for one creation attempt.
// QuestionType holds the market type, or "error"/"disabled" for cycles that
// never reached type selection.
type AutomatedMarketLog struct {
	ID           int64
	QuestionType string
	Success      bool
	MarketID     string
	ErrorMessage string
	CreatedAt    time.Time
}

// Log question types that are not market types.
const (
	LogTypeError    = "error"
	LogTypeDisabled = "disabled"
)

// AutomationConfig is the singleton switch for the creation loop. It is read
// at the start of each cycle; a disabled cycle writes one log row and exits.
type AutomationConfig struct {
	Enabled   bool
	LastRun   time.Time
	UpdatedAt time.Time
}
