package models

import (
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Currency is a tradable currency and its current prices.
// SellPrice is what a user pays when buying; BuyPrice is what a user receives when selling.
type Currency struct {
	gorm.Model
	Symbol    string          `gorm:"uniqueIndex;size:20;not null"`
	SellPrice decimal.Decimal `gorm:"type:text;not null"`
	BuyPrice  decimal.Decimal `gorm:"type:text;not null"`
}
