package domain

// Token is a candidate token from the external feed, ranked by the feed.
type Token struct {
	Address    string
	Name       string
	Symbol     string
	MarketCap  float64
	Volume24h  float64
	Holders    int
	AgeSeconds int64
	ImageURI   string
}

// Metric returns the token's current value for the given market type. Battle
// types race on market cap, so they read the same metric as TypeMarketCap.
func (t Token) Metric(mt MarketType) float64 {
	switch mt {
	case TypeVolume:
		return t.Volume24h
	case TypeHolders:
		return float64(t.Holders)
	default:
		return t.MarketCap
	}
}

// Granularity is a candle bucket size accepted by the feed's history API.
type Granularity string

const (
	GranularityCoarse Granularity = "5m"
	GranularityFine   Granularity = "1m"
)

// Candle is one OHLC bucket from the feed's history API. Only the fields the
// resolution checker reads are modeled.
type Candle struct {
	Time int64 // unix seconds, bucket open
	High float64
	Low  float64
}
