package models

import (
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// User is a market participant holding a cash balance.
type User struct {
	gorm.Model
	Name string          `gorm:"size:100;not null"`
	Cash decimal.Decimal `gorm:"type:text;not null"`
}
