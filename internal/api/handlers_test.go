package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"toy-exchange-go/internal/config"
	"toy-exchange-go/internal/database"
	"toy-exchange-go/internal/ledger"
	"toy-exchange-go/internal/market"
	"toy-exchange-go/internal/money"
	"toy-exchange-go/internal/trader"
)

// setupServer creates an API server over a fresh in-memory market.
func setupServer(t *testing.T, limit float64, burst int) (*httptest.Server, *market.RateTable) {
	t.Helper()
	db, err := database.NewDatabase(&config.Database{DSN: "file::memory:", MaxOpenConns: 1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })

	store := ledger.NewGormStore(db)
	mc := money.NewContext(5)
	rates := market.NewRateTable(store, mc, zap.NewNop())
	require.NoError(t, rates.Seed(context.Background(), config.DefaultCurrencies))
	engine := trader.NewEngine(zap.NewNop(), store, rates, mc, decimal.NewFromInt(1000))

	srv := NewAPIServer(&config.Server{Port: 8080, RateLimit: limit, RateLimitBurst: burst}, engine, rates, nil, zap.NewNop())
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return ts, rates
}

func do(t *testing.T, ts *httptest.Server, method, path string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func register(t *testing.T, ts *httptest.Server) {
	t.Helper()
	status, body := do(t, ts, http.MethodPost, "/api/v1/users", map[string]string{"name": "username"})
	require.Equal(t, http.StatusCreated, status)
	require.Equal(t, "username", body["name"])
}

func TestRegister(t *testing.T) {
	ts, _ := setupServer(t, 1000, 1000)

	status, body := do(t, ts, http.MethodPost, "/api/v1/users", map[string]string{"name": "username"})
	assert.Equal(t, http.StatusCreated, status)
	assert.Equal(t, float64(1), body["id"])
	assert.Equal(t, "1000", body["cash"])

	status, body = do(t, ts, http.MethodPost, "/api/v1/users", map[string]string{"not name": "username"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, trader.ErrInvalidName.Error(), body["error"])
}

func TestUserNotFound(t *testing.T) {
	ts, _ := setupServer(t, 1000, 1000)

	for _, path := range []string{"/api/v1/users/1/cash", "/api/v1/users/1/portfolio", "/api/v1/users/1/operations"} {
		status, body := do(t, ts, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusNotFound, status, path)
		assert.Equal(t, "user not found", body["error"], path)
	}
	for _, path := range []string{"/api/v1/users/1/buy", "/api/v1/users/1/sell"} {
		status, body := do(t, ts, http.MethodPost, path, map[string]string{"currency": "btc", "quantity": "10"})
		assert.Equal(t, http.StatusNotFound, status, path)
		assert.Equal(t, "user not found", body["error"], path)
	}

	status, _ := do(t, ts, http.MethodGet, "/api/v1/users/abc/cash", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestCashAndPortfolio(t *testing.T) {
	ts, _ := setupServer(t, 1000, 1000)
	register(t, ts)

	status, body := do(t, ts, http.MethodGet, "/api/v1/users/1/cash", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "1000", body["cash"])

	status, body = do(t, ts, http.MethodGet, "/api/v1/users/1/portfolio", nil)
	assert.Equal(t, http.StatusOK, status)
	portfolio, ok := body["portfolio"].(map[string]interface{})
	require.True(t, ok)
	assert.Len(t, portfolio, 5)
	assert.Equal(t, "0", portfolio["btc"])
}

func TestRates(t *testing.T) {
	ts, _ := setupServer(t, 1000, 1000)

	status, body := do(t, ts, http.MethodGet, "/api/v1/rates", nil)
	assert.Equal(t, http.StatusOK, status)
	rates, ok := body["rates"].(map[string]interface{})
	require.True(t, ok)
	assert.Len(t, rates, 5)
	assert.Equal(t, map[string]interface{}{"sell_price": "10", "buy_price": "12"}, rates["btc"])

	_, again := do(t, ts, http.MethodGet, "/api/v1/rates", nil)
	assert.Equal(t, body, again)
}

func TestTrade(t *testing.T) {
	ts, _ := setupServer(t, 1000, 1000)
	register(t, ts)

	t.Run("BuySuccess", func(t *testing.T) {
		status, body := do(t, ts, http.MethodPost, "/api/v1/users/1/buy", map[string]string{"currency": "btc", "quantity": "10"})
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, "900", body["cash"])
		assert.Equal(t, "10", body["quantity"])
		assert.Equal(t, "btc", body["currency"])
	})

	t.Run("NumericQuantity", func(t *testing.T) {
		status, body := do(t, ts, http.MethodPost, "/api/v1/users/1/buy", map[string]interface{}{"currency": "btc", "quantity": 0.5})
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, "895", body["cash"])
		assert.Equal(t, "10.5", body["quantity"])
	})

	t.Run("SellSuccess", func(t *testing.T) {
		status, body := do(t, ts, http.MethodPost, "/api/v1/users/1/sell", map[string]string{"currency": "btc", "quantity": "10.5"})
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, "1021", body["cash"])
		assert.Equal(t, "0", body["quantity"])
	})

	t.Run("Declined", func(t *testing.T) {
		status, body := do(t, ts, http.MethodPost, "/api/v1/users/1/buy", map[string]string{"currency": "btc", "quantity": "100000"})
		assert.Equal(t, http.StatusConflict, status)
		assert.Equal(t, "insufficient cash", body["error"])
		assert.Equal(t, "1021", body["cash"])

		status, body = do(t, ts, http.MethodPost, "/api/v1/users/1/sell", map[string]string{"currency": "btc", "quantity": "100000"})
		assert.Equal(t, http.StatusConflict, status)
		assert.Equal(t, "insufficient currency", body["error"])
	})

	t.Run("BadRequest", func(t *testing.T) {
		status, body := do(t, ts, http.MethodPost, "/api/v1/users/1/buy", map[string]string{"currency": "btc", "quantity": "-1"})
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, trader.ErrInvalidQuantity.Error(), body["error"])

		status, _ = do(t, ts, http.MethodPost, "/api/v1/users/1/buy", map[string]string{"bad_name": "btc", "quantity": "1"})
		assert.Equal(t, http.StatusBadRequest, status)

		status, body = do(t, ts, http.MethodPost, "/api/v1/users/1/buy", map[string]string{"currency": "doge", "quantity": "1"})
		assert.Equal(t, http.StatusNotFound, status)
		assert.Equal(t, "currency not found", body["error"])
	})

	t.Run("Operations", func(t *testing.T) {
		status, body := do(t, ts, http.MethodGet, "/api/v1/users/1/operations", nil)
		assert.Equal(t, http.StatusOK, status)
		ops, ok := body["operations"].([]interface{})
		require.True(t, ok)
		require.Len(t, ops, 3)
		assert.Equal(t, map[string]interface{}{"action": "buy", "currency": "btc", "quantity": "10"}, ops[0])
		assert.Equal(t, map[string]interface{}{"action": "sold", "currency": "btc", "quantity": "10.5"}, ops[2])
	})
}

func TestAddCurrency(t *testing.T) {
	ts, rates := setupServer(t, 1000, 1000)
	register(t, ts)

	status, body := do(t, ts, http.MethodPost, "/api/v1/currencies", map[string]string{"symbol": "btc"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid request body", body["error"])

	status, body = do(t, ts, http.MethodPost, "/api/v1/currencies", map[string]interface{}{"symbol": "new", "sell_price": -1, "buy_price": -1})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, market.ErrInvalidPrice.Error(), body["error"])

	status, body = do(t, ts, http.MethodPost, "/api/v1/currencies", map[string]interface{}{"symbol": "   ", "sell_price": 1, "buy_price": 1})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, market.ErrInvalidSymbol.Error(), body["error"])
	assert.Len(t, rates.All(), 5)

	status, body = do(t, ts, http.MethodPost, "/api/v1/currencies", map[string]interface{}{"symbol": "new", "sell_price": 1, "buy_price": 1})
	assert.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "new", body["symbol"])
	assert.Equal(t, "1", body["sell_price"])
	assert.Equal(t, "1", body["buy_price"])

	_, err := rates.Get("new")
	assert.NoError(t, err)

	status, _ = do(t, ts, http.MethodPost, "/api/v1/currencies", map[string]interface{}{"symbol": "new", "sell_price": 1, "buy_price": 1})
	assert.Equal(t, http.StatusConflict, status)

	_, body = do(t, ts, http.MethodGet, "/api/v1/users/1/portfolio", nil)
	portfolio := body["portfolio"].(map[string]interface{})
	assert.Equal(t, "0", portfolio["new"])
}

func TestRateLimit(t *testing.T) {
	ts, _ := setupServer(t, 0.001, 2)

	for i := 0; i < 2; i++ {
		status, _ := do(t, ts, http.MethodGet, "/api/v1/rates", nil)
		assert.Equal(t, http.StatusOK, status)
	}
	status, body := do(t, ts, http.MethodGet, "/api/v1/rates", nil)
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, "too many requests", body["error"])
}

func TestStatusAndHealth(t *testing.T) {
	ts, _ := setupServer(t, 1000, 1000)

	status, body := do(t, ts, http.MethodGet, "/status", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.NotEmpty(t, body["uuid"])
	assert.Equal(t, float64(0), body["ticks"])

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
