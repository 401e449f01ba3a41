package trader

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"toy-exchange-go/internal/ledger"
	"toy-exchange-go/internal/market"
	"toy-exchange-go/internal/models"
	"toy-exchange-go/internal/money"
)

// TradeResult is the outcome of a buy or sell that passed validation.
// When OK is false, Reason says why and Cash/Quantity are the unchanged balances.
type TradeResult struct {
	OK       bool
	Reason   Reason
	Symbol   string
	Cash     decimal.Decimal
	Quantity decimal.Decimal
}

// Engine executes trades against users' cash and portfolios.
//
// Trades of one user are serialized by a per-user lock and applied in a single
// store transaction; trades of different users run in parallel.
type Engine struct {
	logger      *zap.Logger
	store       ledger.Store
	rates       *market.RateTable
	oplog       *OperationLog
	money       money.Context
	initialCash decimal.Decimal
	locks       *userLocks
}

// NewEngine creates a new trading engine.
func NewEngine(logger *zap.Logger, store ledger.Store, rates *market.RateTable, mc money.Context, initialCash decimal.Decimal) *Engine {
	return &Engine{
		logger:      logger.Named("engine"),
		store:       store,
		rates:       rates,
		oplog:       NewOperationLog(store, store),
		money:       mc,
		initialCash: initialCash,
		locks:       newUserLocks(),
	}
}

// Operations exposes the engine's operation log.
func (e *Engine) Operations() *OperationLog { return e.oplog }

// Register creates a user with the initial cash balance and an empty entry for
// every listed currency.
func (e *Engine) Register(ctx context.Context, name string) (*models.User, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidName
	}

	var user *models.User
	err := e.rates.WithCatalogLock(func() error {
		var err error
		user, err = e.store.CreateUser(ctx, name, e.initialCash)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("register %q: %w", name, err)
	}

	e.logger.Info("Registered user", zap.Uint("user_id", user.ID), zap.String("name", name))
	return user, nil
}

// Cash returns the user's cash balance.
func (e *Engine) Cash(ctx context.Context, userID uint) (decimal.Decimal, error) {
	user, err := e.getUser(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	return user.Cash, nil
}

// Portfolio returns the user's holdings keyed by currency symbol.
func (e *Engine) Portfolio(ctx context.Context, userID uint) (map[string]decimal.Decimal, error) {
	entries, err := e.store.ListPortfolio(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		if _, err := e.getUser(ctx, userID); err != nil {
			return nil, err
		}
	}
	out := make(map[string]decimal.Decimal, len(entries))
	for _, entry := range entries {
		out[entry.CurrencySymbol] = entry.Quantity
	}
	return out, nil
}

// Buy spends cash on quantity units of symbol at the current sell price.
func (e *Engine) Buy(ctx context.Context, userID uint, symbol, quantity string) (TradeResult, error) {
	return e.trade(ctx, userID, symbol, quantity, models.ActionBuy)
}

// Sell turns quantity units of symbol into cash at the current buy price.
func (e *Engine) Sell(ctx context.Context, userID uint, symbol, quantity string) (TradeResult, error) {
	return e.trade(ctx, userID, symbol, quantity, models.ActionSold)
}

func (e *Engine) trade(ctx context.Context, userID uint, symbol, rawQuantity string, action models.Action) (TradeResult, error) {
	qty, err := parseQuantity(e.money, rawQuantity)
	if err != nil {
		return TradeResult{}, err
	}

	// One snapshot of the price is used for the whole trade.
	rate, err := e.rates.Get(symbol)
	if err != nil {
		return TradeResult{}, err
	}

	l := e.logger.With(
		zap.Uint("user_id", userID),
		zap.String("action", string(action)),
		zap.String("symbol", symbol),
		zap.Stringer("quantity", qty),
	)

	unlock := e.locks.lock(userID)
	defer unlock()

	var result TradeResult
	err = e.store.Transaction(ctx, func(ctx context.Context) error {
		user, entry, err := e.getBalances(ctx, userID, symbol)
		if err != nil {
			return err
		}

		result = TradeResult{Symbol: symbol, Cash: user.Cash, Quantity: entry.Quantity}
		var newCash, newQty decimal.Decimal

		switch action {
		case models.ActionBuy:
			cost := e.money.Mul(rate.SellPrice, qty)
			if user.Cash.LessThan(cost) {
				result.Reason = ReasonInsufficientCash
				return nil
			}
			newCash = e.money.Sub(user.Cash, cost)
			newQty = e.money.Add(entry.Quantity, qty)
		case models.ActionSold:
			if entry.Quantity.LessThan(qty) {
				result.Reason = ReasonInsufficientCurrency
				return nil
			}
			proceeds := e.money.Mul(rate.BuyPrice, qty)
			newCash = e.money.Add(user.Cash, proceeds)
			newQty = e.money.Sub(entry.Quantity, qty)
		default:
			return fmt.Errorf("unknown action %q", action)
		}

		if err := e.store.UpdateUserCash(ctx, userID, newCash); err != nil {
			return err
		}
		if err := e.store.UpdatePortfolioQuantity(ctx, userID, symbol, newQty); err != nil {
			return err
		}
		if err := e.oplog.Record(ctx, userID, action, symbol, qty); err != nil {
			return err
		}

		result.OK = true
		result.Cash = newCash
		result.Quantity = newQty
		return nil
	})
	if err != nil {
		if !errors.Is(err, ErrUserNotFound) {
			l.Error("Trade failed", zap.Error(err))
		}
		return TradeResult{}, err
	}

	if result.OK {
		l.Info("Trade executed", zap.Stringer("cash", result.Cash), zap.Stringer("holding", result.Quantity))
	} else {
		l.Info("Trade declined", zap.String("reason", string(result.Reason)))
	}
	return result, nil
}

func (e *Engine) getUser(ctx context.Context, userID uint) (*models.User, error) {
	user, err := e.store.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}

func (e *Engine) getBalances(ctx context.Context, userID uint, symbol string) (*models.User, *models.PortfolioEntry, error) {
	user, err := e.getUser(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	entry, err := e.store.GetPortfolioEntry(ctx, userID, symbol)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return nil, nil, ErrUserNotFound
		}
		return nil, nil, err
	}
	return user, entry, nil
}

// parseQuantity accepts a decimal string not below zero and within mc's range.
// The value is kept exact.
func parseQuantity(mc money.Context, raw string) (decimal.Decimal, error) {
	qty, err := money.Parse(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrInvalidQuantity, err)
	}
	if err := mc.CheckRange(qty); err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrInvalidQuantity, err)
	}
	if qty.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrInvalidQuantity, raw)
	}
	return qty, nil
}
