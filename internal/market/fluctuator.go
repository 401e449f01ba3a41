package market

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"toy-exchange-go/internal/config"
	"toy-exchange-go/internal/money"
)

// Fluctuator periodically shocks the whole market: on each tick it draws one
// multiplier and applies it to every price in the RateTable.
type Fluctuator struct {
	table    *RateTable
	money    money.Context
	logger   *zap.Logger
	interval time.Duration
	min, max float64
	draw     func() float64 // uniform in [0, 1)

	mu       sync.Mutex
	lastTick time.Time
	lastMult decimal.Decimal
	ticks    int64
}

// NewFluctuator creates a loop over table using the market configuration.
func NewFluctuator(table *RateTable, cfg *config.Market, logger *zap.Logger) *Fluctuator {
	return &Fluctuator{
		table:    table,
		money:    money.NewContext(cfg.Precision),
		logger:   logger.Named("fluctuator"),
		interval: time.Duration(cfg.TickInterval) * time.Second,
		min:      cfg.MinMultiplier,
		max:      cfg.MaxMultiplier,
		draw:     rand.Float64,
	}
}

// Run ticks until ctx is cancelled. A tick interrupted by cancellation is
// rolled back as a whole.
func (f *Fluctuator) Run(ctx context.Context) {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	f.logger.Info("Starting rate fluctuation loop", zap.Duration("interval", f.interval))

	for {
		select {
		case <-ctx.Done():
			f.logger.Info("Stopping rate fluctuation loop", zap.Int64("ticks", f.Stats().Ticks))
			return
		case <-ticker.C:
			if _, err := f.Tick(ctx); err != nil {
				if ctx.Err() != nil {
					f.logger.Info("Tick aborted by shutdown", zap.Error(err))
					continue
				}
				f.logger.Error("Rate fluctuation tick failed", zap.Error(err))
			}
		}
	}
}

// Multiplier draws the next market-wide multiplier, rounded to the market precision.
func (f *Fluctuator) Multiplier() decimal.Decimal {
	u := f.min + f.draw()*(f.max-f.min)
	return f.money.Round(decimal.NewFromFloat(u))
}

// Tick applies one multiplier to every currency and returns it.
func (f *Fluctuator) Tick(ctx context.Context) (decimal.Decimal, error) {
	m := f.Multiplier()
	rates, err := f.table.Scale(ctx, m)
	if err != nil {
		return decimal.Zero, err
	}

	f.mu.Lock()
	f.lastTick = time.Now()
	f.lastMult = m
	f.ticks++
	f.mu.Unlock()

	f.logger.Debug("Applied rate fluctuation",
		zap.Stringer("multiplier", m),
		zap.Int("currencies", len(rates)))
	return m, nil
}

// TickStats describes the loop's progress.
type TickStats struct {
	Ticks          int64
	LastTick       time.Time
	LastMultiplier decimal.Decimal
}

// Stats returns the loop's progress so far.
func (f *Fluctuator) Stats() TickStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return TickStats{Ticks: f.ticks, LastTick: f.lastTick, LastMultiplier: f.lastMult}
}
