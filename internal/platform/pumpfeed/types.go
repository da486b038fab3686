package pumpfeed

import "github.com/solcast/marketd/internal/domain"

// APIToken is the feed's wire representation of a candidate token.
type APIToken struct {
	Address       string  `json:"address"`
	Name          string  `json:"name"`
	Symbol        string  `json:"symbol"`
	MarketCapUSD  float64 `json:"usd_market_cap"`
	VolumeUSD     float64 `json:"volume_24h"`
	HolderCount   int     `json:"holder_count"`
	CreatedAtUnix int64   `json:"created_timestamp"`
	ImageURI      string  `json:"image_uri"`
}

// ToDomainToken converts an APIToken to a domain.Token. nowUnix supplies the
// reference point for the token's age.
func (t APIToken) ToDomainToken(nowUnix int64) domain.Token {
	age := nowUnix - t.CreatedAtUnix
	if age < 0 {
		age = 0
	}
	return domain.Token{
		Address:    t.Address,
		Name:       t.Name,
		Symbol:     t.Symbol,
		MarketCap:  t.MarketCapUSD,
		Volume24h:  t.VolumeUSD,
		Holders:    t.HolderCount,
		AgeSeconds: age,
		ImageURI:   t.ImageURI,
	}
}

// APICandle is the feed's wire representation of one OHLC bucket.
type APICandle struct {
	Timestamp int64   `json:"timestamp"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
}

// ToDomainCandle converts an APICandle to a domain.Candle.
func (c APICandle) ToDomainCandle() domain.Candle {
	return domain.Candle{Time: c.Timestamp, High: c.High, Low: c.Low}
}
