package models

import "gorm.io/gorm"

// Holding is a user's current share count in one ticker symbol.
// One row per (user, symbol). A row is kept when shares drops to
// zero; views filter it out instead of deleting it.
type Holding struct {
	gorm.Model
	UserID  uint   `gorm:"uniqueIndex:idx_user_symbol;not null"`
	Symbol  string `gorm:"uniqueIndex:idx_user_symbol;not null" json:"symbol"`
	Company string `json:"company"`
	Shares  int64  `gorm:"not null" json:"shares"`
}
