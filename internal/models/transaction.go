package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	TransactionTypeBuy  = "BUY"
	TransactionTypeSell = "SELL"
)

// Transaction is one immutable ledger entry. Shares is signed:
// positive for a buy, negative for a sell. Rows are append-only
// and never updated once written.
type Transaction struct {
	gorm.Model
	UserID    uint            `gorm:"index;not null" json:"-"`
	Symbol    string          `gorm:"not null" json:"symbol"`
	Company   string          `json:"company"`
	Shares    int64           `gorm:"not null" json:"shares"`
	Price     decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"price"`
	Type      string          `gorm:"not null" json:"type"`
	Timestamp time.Time       `gorm:"not null" json:"timestamp"`
}
