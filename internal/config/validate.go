package config

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.RateLimit <= 0 {
		return errors.New("server.rate_limit must be > 0")
	}
	if c.Server.RateLimitBurst < 1 {
		return errors.New("server.rate_limit_burst must be >= 1")
	}

	if c.Database.DSN == "" {
		return errors.New("database.dsn is required")
	}
	if c.Database.MaxOpenConns < 1 {
		return errors.New("database.max_open_conns must be >= 1")
	}

	return c.Market.validate()
}

func (m *Market) validate() error {
	cash, err := decimal.NewFromString(m.InitialCash)
	if err != nil {
		return fmt.Errorf("market.initial_cash must be a decimal: %w", err)
	}
	if cash.IsNegative() {
		return errors.New("market.initial_cash must be >= 0")
	}
	if m.Precision < 1 {
		return errors.New("market.precision must be >= 1")
	}
	if m.TickInterval < 1 {
		return errors.New("market.tick_interval must be >= 1")
	}
	if m.MinMultiplier <= 0 {
		return errors.New("market.min_multiplier must be > 0")
	}
	if m.MinMultiplier > m.MaxMultiplier {
		return fmt.Errorf("market.min_multiplier (%v) cannot exceed market.max_multiplier (%v)", m.MinMultiplier, m.MaxMultiplier)
	}

	seen := make(map[string]struct{}, len(m.Currencies))
	for i, c := range m.Currencies {
		if c.Symbol == "" {
			return fmt.Errorf("market.currencies[%d].symbol is required", i)
		}
		if _, dup := seen[c.Symbol]; dup {
			return fmt.Errorf("market.currencies[%d]: duplicate symbol %q", i, c.Symbol)
		}
		seen[c.Symbol] = struct{}{}

		for field, raw := range map[string]string{"sell_price": c.SellPrice, "buy_price": c.BuyPrice} {
			p, err := decimal.NewFromString(raw)
			if err != nil || !p.IsPositive() {
				return fmt.Errorf("market.currencies[%d].%s must be a decimal > 0, got %q", i, field, raw)
			}
		}
	}
	return nil
}
