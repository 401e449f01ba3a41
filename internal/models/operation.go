package models

import (
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Action is the kind of trade recorded in the operation log.
type Action string

const (
	ActionBuy  Action = "buy"
	ActionSold Action = "sold"
)

// Operation represents a completed trade. Rows are append-only; insertion
// order (the primary key) is the order of execution per user.
type Operation struct {
	gorm.Model
	UserID         uint            `gorm:"index;not null" json:"user_id"`
	Action         Action          `gorm:"size:8;not null" json:"action"`
	CurrencySymbol string          `gorm:"size:20;not null" json:"currency"`
	Quantity       decimal.Decimal `gorm:"type:text;not null" json:"quantity"`
}
