package market

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"toy-exchange-go/internal/config"
	"toy-exchange-go/internal/ledger"
	"toy-exchange-go/internal/money"
)

var (
	ErrCurrencyNotFound = errors.New("currency not found")
	ErrInvalidPrice     = errors.New("sell price and buy price must be above zero")
	ErrCurrencyExists   = errors.New("currency already exists")
	ErrInvalidSymbol    = errors.New("currency symbol is required")
)

// Rate is the price pair of one currency at one moment.
type Rate struct {
	Symbol    string
	SellPrice decimal.Decimal // the user pays this per unit when buying
	BuyPrice  decimal.Decimal // the user receives this per unit when selling
}

// RateTable is the authoritative set of current prices. Reads are served from
// memory; every write is persisted to the ledger before it becomes visible.
//
// There are two writers, the fluctuation loop and AddCurrency, serialized by
// writeMu. Readers never wait on the store, only on the in-memory swap.
type RateTable struct {
	store  ledger.CurrencyStore
	money  money.Context
	logger *zap.Logger

	writeMu sync.Mutex
	// catalogMu orders currency listing against user registration so that
	// every user ends up with an entry for every currency.
	catalogMu sync.Mutex

	mu    sync.RWMutex
	rates map[string]Rate
}

// NewRateTable creates an empty table. Call Load or Seed before serving reads.
func NewRateTable(store ledger.CurrencyStore, mc money.Context, logger *zap.Logger) *RateTable {
	return &RateTable{
		store:  store,
		money:  mc,
		logger: logger.Named("rate-table"),
		rates:  make(map[string]Rate),
	}
}

// Load replaces the in-memory rates with what the store holds.
func (t *RateTable) Load(ctx context.Context) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	currencies, err := t.store.ListCurrencies(ctx)
	if err != nil {
		return fmt.Errorf("load rates: %w", err)
	}
	rates := make(map[string]Rate, len(currencies))
	for _, c := range currencies {
		rates[c.Symbol] = Rate{Symbol: c.Symbol, SellPrice: c.SellPrice, BuyPrice: c.BuyPrice}
	}

	t.mu.Lock()
	t.rates = rates
	t.mu.Unlock()

	t.logger.Info("Loaded exchange rates", zap.Int("count", len(rates)))
	return nil
}

// Seed creates every configured currency missing from the store, then loads the table.
// Currencies already present keep their current prices.
func (t *RateTable) Seed(ctx context.Context, seeds []config.CurrencySeed) error {
	for _, s := range seeds {
		sell, err := money.Parse(s.SellPrice)
		if err != nil {
			return fmt.Errorf("seed %s: %w", s.Symbol, err)
		}
		buy, err := money.Parse(s.BuyPrice)
		if err != nil {
			return fmt.Errorf("seed %s: %w", s.Symbol, err)
		}
		if _, err := t.store.CreateCurrency(ctx, s.Symbol, sell, buy); err != nil {
			if errors.Is(err, ledger.ErrAlreadyExists) {
				continue
			}
			return fmt.Errorf("seed %s: %w", s.Symbol, err)
		}
		t.logger.Info("Seeded currency",
			zap.String("symbol", s.Symbol),
			zap.Stringer("sell_price", sell),
			zap.Stringer("buy_price", buy))
	}
	return t.Load(ctx)
}

// Get returns the current rate of symbol.
func (t *RateTable) Get(symbol string) (Rate, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	r, ok := t.rates[symbol]
	if !ok {
		return Rate{}, fmt.Errorf("%w: %s", ErrCurrencyNotFound, symbol)
	}
	return r, nil
}

// All returns a consistent snapshot of every rate, ordered by symbol.
func (t *RateTable) All() []Rate {
	t.mu.RLock()
	out := make([]Rate, 0, len(t.rates))
	for _, r := range t.rates {
		out = append(out, r)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// AddCurrency lists a new currency. Every existing user gets a zero-quantity
// portfolio entry for it.
func (t *RateTable) AddCurrency(ctx context.Context, symbol string, sellPrice, buyPrice decimal.Decimal) (Rate, error) {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return Rate{}, ErrInvalidSymbol
	}
	if !sellPrice.IsPositive() || !buyPrice.IsPositive() {
		return Rate{}, ErrInvalidPrice
	}
	if t.money.CheckRange(sellPrice) != nil || t.money.CheckRange(buyPrice) != nil {
		return Rate{}, ErrInvalidPrice
	}

	t.catalogMu.Lock()
	defer t.catalogMu.Unlock()
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if _, err := t.store.CreateCurrency(ctx, symbol, sellPrice, buyPrice); err != nil {
		if errors.Is(err, ledger.ErrAlreadyExists) {
			return Rate{}, fmt.Errorf("%w: %s", ErrCurrencyExists, symbol)
		}
		return Rate{}, fmt.Errorf("add currency %s: %w", symbol, err)
	}

	r := Rate{Symbol: symbol, SellPrice: sellPrice, BuyPrice: buyPrice}
	t.mu.Lock()
	next := make(map[string]Rate, len(t.rates)+1)
	for k, v := range t.rates {
		next[k] = v
	}
	next[symbol] = r
	t.rates = next
	t.mu.Unlock()

	t.logger.Info("Added currency",
		zap.String("symbol", symbol),
		zap.Stringer("sell_price", sellPrice),
		zap.Stringer("buy_price", buyPrice))
	return r, nil
}

// WithCatalogLock runs fn while no currency can be added.
func (t *RateTable) WithCatalogLock(fn func() error) error {
	t.catalogMu.Lock()
	defer t.catalogMu.Unlock()
	return fn()
}

// Scale multiplies every price by m, rounded to the table's precision.
// The new prices are persisted in one batch and then swapped in together, so
// a reader sees either the old set or the new set. If persisting fails the
// table is left untouched.
func (t *RateTable) Scale(ctx context.Context, m decimal.Decimal) ([]Rate, error) {
	if !m.IsPositive() {
		return nil, fmt.Errorf("%w: multiplier %s", ErrInvalidPrice, m)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	t.mu.RLock()
	current := t.rates
	t.mu.RUnlock()

	next := make(map[string]Rate, len(current))
	updates := make([]ledger.PriceUpdate, 0, len(current))
	for sym, r := range current {
		nr := Rate{
			Symbol:    sym,
			SellPrice: t.money.Mul(r.SellPrice, m),
			BuyPrice:  t.money.Mul(r.BuyPrice, m),
		}
		next[sym] = nr
		updates = append(updates, ledger.PriceUpdate{Symbol: sym, SellPrice: nr.SellPrice, BuyPrice: nr.BuyPrice})
	}
	sort.Slice(updates, func(i, j int) bool { return updates[i].Symbol < updates[j].Symbol })

	if err := t.store.UpdateCurrencyPrices(ctx, updates); err != nil {
		return nil, fmt.Errorf("persist rates: %w", err)
	}

	t.mu.Lock()
	t.rates = next
	t.mu.Unlock()

	out := make([]Rate, 0, len(updates))
	for _, u := range updates {
		out = append(out, next[u.Symbol])
	}
	return out, nil
}
