// Package ledger is the durable store for users, portfolios, currencies and
// the operation log. Every method runs inside the transaction carried by ctx
// when there is one, so callers compose multi-row updates with Transaction.
package ledger

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"toy-exchange-go/internal/models"
)

var (
	// ErrNotFound is returned when the addressed row does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyExists is returned when creating a row whose unique key is taken.
	ErrAlreadyExists = errors.New("record already exists")
)

// PriceUpdate is the new pair of prices for one currency.
type PriceUpdate struct {
	Symbol    string
	SellPrice decimal.Decimal
	BuyPrice  decimal.Decimal
}

// Transactor runs fn inside one atomic unit of work. fn must use the ctx it
// receives; returning an error rolls everything back.
type Transactor interface {
	Transaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// UserStore holds users and their portfolio entries.
type UserStore interface {
	// CreateUser inserts a user and a zero-quantity portfolio entry for every existing currency.
	CreateUser(ctx context.Context, name string, cash decimal.Decimal) (*models.User, error)
	GetUser(ctx context.Context, id uint) (*models.User, error)
	UpdateUserCash(ctx context.Context, id uint, cash decimal.Decimal) error
	GetPortfolioEntry(ctx context.Context, userID uint, symbol string) (*models.PortfolioEntry, error)
	ListPortfolio(ctx context.Context, userID uint) ([]models.PortfolioEntry, error)
	UpdatePortfolioQuantity(ctx context.Context, userID uint, symbol string, quantity decimal.Decimal) error
}

// CurrencyStore holds the currencies and their prices.
type CurrencyStore interface {
	// CreateCurrency inserts a currency and a zero-quantity portfolio entry for every existing user.
	CreateCurrency(ctx context.Context, symbol string, sellPrice, buyPrice decimal.Decimal) (*models.Currency, error)
	GetCurrency(ctx context.Context, symbol string) (*models.Currency, error)
	ListCurrencies(ctx context.Context) ([]models.Currency, error)
	// UpdateCurrencyPrices applies all updates atomically; an unknown symbol fails the whole batch.
	UpdateCurrencyPrices(ctx context.Context, updates []PriceUpdate) error
}

// OperationStore is the append-only operation log.
type OperationStore interface {
	AppendOperation(ctx context.Context, userID uint, action models.Action, symbol string, quantity decimal.Decimal) error
	// ListOperations returns the user's operations in insertion order.
	ListOperations(ctx context.Context, userID uint) ([]models.Operation, error)
}

// Store is the full ledger.
type Store interface {
	Transactor
	UserStore
	CurrencyStore
	OperationStore
}
