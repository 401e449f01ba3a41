package market

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"toy-exchange-go/internal/config"
	"toy-exchange-go/internal/database"
	"toy-exchange-go/internal/ledger"
	"toy-exchange-go/internal/models"
	"toy-exchange-go/internal/money"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func setupTable(t *testing.T) (*RateTable, *ledger.GormStore) {
	t.Helper()
	db, err := database.NewDatabase(&config.Database{DSN: "file::memory:", MaxOpenConns: 1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })

	store := ledger.NewGormStore(db)
	table := NewRateTable(store, money.NewContext(5), zap.NewNop())
	require.NoError(t, table.Seed(context.Background(), config.DefaultCurrencies))
	return table, store
}

func newTestFluctuator(table *RateTable, draw float64) *Fluctuator {
	f := NewFluctuator(table, &config.Market{
		Precision:     5,
		TickInterval:  10,
		MinMultiplier: 0.9,
		MaxMultiplier: 1.1,
	}, zap.NewNop())
	f.draw = func() float64 { return draw }
	return f
}

func TestRateTable_SeedAndGet(t *testing.T) {
	table, _ := setupTable(t)

	r, err := table.Get("btc")
	require.NoError(t, err)
	assert.True(t, r.SellPrice.Equal(dec("10")))
	assert.True(t, r.BuyPrice.Equal(dec("12")))

	_, err = table.Get("doge")
	assert.ErrorIs(t, err, ErrCurrencyNotFound)

	all := table.All()
	require.Len(t, all, 5)
	assert.Equal(t, []string{"btc", "eth", "ltc", "trx", "xpr"}, symbols(all))
}

func TestRateTable_SeedKeepsExistingPrices(t *testing.T) {
	table, store := setupTable(t)
	ctx := context.Background()

	_, err := table.Scale(ctx, dec("2"))
	require.NoError(t, err)

	// a restart seeds again over the same database
	again := NewRateTable(store, money.NewContext(5), zap.NewNop())
	require.NoError(t, again.Seed(ctx, config.DefaultCurrencies))

	r, err := again.Get("btc")
	require.NoError(t, err)
	assert.True(t, r.SellPrice.Equal(dec("20")))
}

func TestRateTable_AllIsIdempotentBetweenTicks(t *testing.T) {
	table, _ := setupTable(t)
	assert.Equal(t, table.All(), table.All())
}

func TestRateTable_AddCurrency(t *testing.T) {
	ctx := context.Background()

	t.Run("InvalidPrice", func(t *testing.T) {
		table, _ := setupTable(t)
		for _, prices := range [][2]string{{"0", "1"}, {"1", "0"}, {"-1", "-1"}, {"1e-1000000", "1"}, {"1", "1e40"}} {
			_, err := table.AddCurrency(ctx, "new", dec(prices[0]), dec(prices[1]))
			assert.ErrorIs(t, err, ErrInvalidPrice)
		}
		_, err := table.Get("new")
		assert.ErrorIs(t, err, ErrCurrencyNotFound)
	})

	t.Run("Duplicate", func(t *testing.T) {
		table, _ := setupTable(t)
		_, err := table.AddCurrency(ctx, "btc", dec("1"), dec("1"))
		assert.ErrorIs(t, err, ErrCurrencyExists)
	})

	t.Run("EmptySymbol", func(t *testing.T) {
		table, _ := setupTable(t)
		for _, symbol := range []string{"", "   ", "\t"} {
			_, err := table.AddCurrency(ctx, symbol, dec("1"), dec("1"))
			assert.ErrorIs(t, err, ErrInvalidSymbol)
		}
		assert.Len(t, table.All(), 5)
	})

	t.Run("TrimsSymbol", func(t *testing.T) {
		table, _ := setupTable(t)
		r, err := table.AddCurrency(ctx, " new ", dec("1"), dec("2"))
		require.NoError(t, err)
		assert.Equal(t, "new", r.Symbol)
		_, err = table.Get("new")
		assert.NoError(t, err)
	})

	t.Run("CreatesEntryPerUser", func(t *testing.T) {
		table, store := setupTable(t)
		alice, err := store.CreateUser(ctx, "alice", dec("1000"))
		require.NoError(t, err)
		bob, err := store.CreateUser(ctx, "bob", dec("1000"))
		require.NoError(t, err)

		r, err := table.AddCurrency(ctx, "new", dec("1"), dec("1.5"))
		require.NoError(t, err)
		assert.Equal(t, "new", r.Symbol)

		got, err := table.Get("new")
		require.NoError(t, err)
		assert.True(t, got.BuyPrice.Equal(dec("1.5")))

		for _, id := range []uint{alice.ID, bob.ID} {
			entries, err := store.ListPortfolio(ctx, id)
			require.NoError(t, err)
			assert.Len(t, entries, 6)
			entry, err := store.GetPortfolioEntry(ctx, id, "new")
			require.NoError(t, err)
			assert.True(t, entry.Quantity.IsZero())
		}
	})
}

func TestFluctuator_TickAppliesOneMultiplier(t *testing.T) {
	table, store := setupTable(t)
	ctx := context.Background()
	before := table.All()

	f := newTestFluctuator(table, 0.25) // 0.9 + 0.25*0.2
	m, err := f.Tick(ctx)
	require.NoError(t, err)
	assert.True(t, m.Equal(dec("0.95")), "multiplier = %s", m)

	mc := money.NewContext(5)
	after := table.All()
	require.Len(t, after, len(before))
	for i, r := range after {
		assert.True(t, mc.Mul(before[i].SellPrice, m).Equal(r.SellPrice), "%s sell price", r.Symbol)
		assert.True(t, mc.Mul(before[i].BuyPrice, m).Equal(r.BuyPrice), "%s buy price", r.Symbol)
		assert.True(t, r.SellPrice.IsPositive())
		assert.True(t, r.BuyPrice.IsPositive())

		// the same values are persisted
		cur, err := store.GetCurrency(ctx, r.Symbol)
		require.NoError(t, err)
		assert.True(t, cur.SellPrice.Equal(r.SellPrice))
		assert.True(t, cur.BuyPrice.Equal(r.BuyPrice))
	}

	btc, err := table.Get("btc")
	require.NoError(t, err)
	assert.Equal(t, "9.5", btc.SellPrice.String())
	assert.Equal(t, "11.4", btc.BuyPrice.String())

	stats := f.Stats()
	assert.Equal(t, int64(1), stats.Ticks)
	assert.True(t, stats.LastMultiplier.Equal(m))
}

func TestFluctuator_MultiplierStaysInRange(t *testing.T) {
	table, _ := setupTable(t)
	f := newTestFluctuator(table, 0)
	assert.True(t, f.Multiplier().Equal(dec("0.9")))

	f.draw = func() float64 { return 0.999999999 }
	m := f.Multiplier()
	assert.True(t, m.LessThanOrEqual(dec("1.1")), "multiplier = %s", m)
	assert.True(t, m.GreaterThanOrEqual(dec("0.9")), "multiplier = %s", m)
}

// MockCurrencyStore is a mock implementation of ledger.CurrencyStore.
type MockCurrencyStore struct {
	mock.Mock
}

func (m *MockCurrencyStore) CreateCurrency(ctx context.Context, symbol string, sellPrice, buyPrice decimal.Decimal) (*models.Currency, error) {
	args := m.Called(ctx, symbol, sellPrice, buyPrice)
	c, _ := args.Get(0).(*models.Currency)
	return c, args.Error(1)
}

func (m *MockCurrencyStore) GetCurrency(ctx context.Context, symbol string) (*models.Currency, error) {
	args := m.Called(ctx, symbol)
	c, _ := args.Get(0).(*models.Currency)
	return c, args.Error(1)
}

func (m *MockCurrencyStore) ListCurrencies(ctx context.Context) ([]models.Currency, error) {
	args := m.Called(ctx)
	return args.Get(0).([]models.Currency), args.Error(1)
}

func (m *MockCurrencyStore) UpdateCurrencyPrices(ctx context.Context, updates []ledger.PriceUpdate) error {
	args := m.Called(ctx, updates)
	return args.Error(0)
}

func TestRateTable_ScaleStoreFailureLeavesRatesUntouched(t *testing.T) {
	ctx := context.Background()
	store := new(MockCurrencyStore)
	store.On("ListCurrencies", mock.Anything).Return([]models.Currency{
		{Symbol: "btc", SellPrice: dec("10"), BuyPrice: dec("12")},
	}, nil)
	store.On("UpdateCurrencyPrices", mock.Anything, mock.Anything).Return(errors.New("disk full"))

	table := NewRateTable(store, money.NewContext(5), zap.NewNop())
	require.NoError(t, table.Load(ctx))

	_, err := table.Scale(ctx, dec("1.1"))
	assert.Error(t, err)

	r, err := table.Get("btc")
	require.NoError(t, err)
	assert.True(t, r.SellPrice.Equal(dec("10")))
	store.AssertExpectations(t)
}

func TestRateTable_ReadersNeverSeeMixedTick(t *testing.T) {
	table, _ := setupTable(t)
	ctx := context.Background()

	// every tick doubles or halves all prices, so within one snapshot the
	// ratio ltc/btc sell price stays 5
	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			m := dec("2")
			if i%2 == 1 {
				m = dec("0.5")
			}
			_, err := table.Scale(ctx, m)
			assert.NoError(t, err)
		}
		close(stop)
	}()

	for done := false; !done; {
		select {
		case <-stop:
			done = true
		default:
		}
		rates := table.All()
		byName := make(map[string]Rate, len(rates))
		for _, r := range rates {
			byName[r.Symbol] = r
		}
		ratio := byName["ltc"].SellPrice.Div(byName["btc"].SellPrice)
		assert.True(t, ratio.Equal(dec("5")), "mixed snapshot: ratio %s", ratio)
	}
	wg.Wait()
}

func TestFluctuator_RunStopsOnCancel(t *testing.T) {
	table, _ := setupTable(t)
	f := newTestFluctuator(table, 0.5)
	f.interval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return f.Stats().Ticks >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	// multiplier 1.0 keeps prices unchanged
	r, err := table.Get("btc")
	require.NoError(t, err)
	assert.True(t, r.SellPrice.Equal(dec("10")))
}

func symbols(rates []Rate) []string {
	out := make([]string, 0, len(rates))
	for _, r := range rates {
		out = append(out, r.Symbol)
	}
	return out
}
