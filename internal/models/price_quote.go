package models

import "time"

// PriceQuoteTTL is how long a quote stays valid after it is written.
// Rural market prices move daily; anything older must never be shown.
const PriceQuoteTTL = 24 * time.Hour

// PriceQuote represents a cached commodity price, keyed by commodity name.
type PriceQuote struct {
	Commodity    string  `db:"commodity" json:"commodity"`
	PricePerUnit float64 `db:"price_per_unit" json:"price_per_unit"`
	Unit         string  `db:"unit" json:"unit"`
	Currency     string  `db:"currency" json:"currency"`
	MarketName   string  `db:"market_name" json:"market_name"`
	WriteTime    int64   `db:"write_time" json:"write_time"`  // UnixNano
	ExpiresAt    int64   `db:"expires_at" json:"expires_at"`  // UnixNano, WriteTime + 24h
}

// TableName returns the table name for PriceQuote.
func (PriceQuote) TableName() string {
	return "price_quotes"
}

// ExpiresAtTime returns ExpiresAt as time.Time.
func (q *PriceQuote) ExpiresAtTime() time.Time {
	return time.Unix(0, q.ExpiresAt)
}
