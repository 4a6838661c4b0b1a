package models

import "time"

// TransactionRetention is how long a completed transaction stays in the
// local history before the background sweep removes it.
const TransactionRetention = 90 * 24 * time.Hour

// TransactionRecord represents a completed marketplace transaction.
type TransactionRecord struct {
	ID          UUID    `db:"id" json:"id"`
	BuyerID     string  `db:"buyer_id" json:"buyer_id"`
	SellerID    string  `db:"seller_id" json:"seller_id"`
	Commodity   string  `db:"commodity" json:"commodity"`
	Quantity    float64 `db:"quantity" json:"quantity"`
	Unit        string  `db:"unit" json:"unit"`
	AgreedPrice float64 `db:"agreed_price" json:"agreed_price"`
	Currency    string  `db:"currency" json:"currency"`
	CompletedAt int64   `db:"completed_at" json:"completed_at"` // UnixNano
}

// TableName returns the table name for TransactionRecord.
func (TransactionRecord) TableName() string {
	return "transaction_records"
}

// CompletedAtTime returns CompletedAt as time.Time.
func (t *TransactionRecord) CompletedAtTime() time.Time {
	return time.Unix(0, t.CompletedAt)
}
