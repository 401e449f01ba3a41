package models

import (
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// PortfolioEntry is the quantity of one currency held by one user.
// There is exactly one row per (user, currency) pair.
type PortfolioEntry struct {
	gorm.Model
	UserID         uint            `gorm:"uniqueIndex:idx_user_currency;not null"`
	CurrencySymbol string          `gorm:"uniqueIndex:idx_user_currency;size:20;not null"`
	Quantity       decimal.Decimal `gorm:"type:text;not null"`
}
