package models

import (
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// User is a registered account holding a virtual cash balance.
// Cash is stored as an exact decimal so repeated buy/sell cycles
// never accumulate floating-point drift.
type User struct {
	gorm.Model
	Username     string          `gorm:"uniqueIndex;not null" json:"username"`
	PasswordHash string          `gorm:"not null" json:"-"`
	Cash         decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"cash"`
}
