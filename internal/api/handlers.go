package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"toy-exchange-go/internal/market"
	"toy-exchange-go/internal/money"
	"toy-exchange-go/internal/trader"
)

var errInvalidBody = errors.New("invalid request body")

// Handler holds dependencies for the API endpoints.
type Handler struct {
	log    *zap.Logger
	engine *trader.Engine
	rates  *market.RateTable
}

// NewHandler creates a new Handler.
func NewHandler(engine *trader.Engine, rates *market.RateTable, log *zap.Logger) *Handler {
	return &Handler{log: log.Named("handlers"), engine: engine, rates: rates}
}

// Register creates a user.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.fail(w, errInvalidBody)
		return
	}

	user, err := h.engine.Register(r.Context(), req.Name)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, userResponse{ID: user.ID, Name: user.Name, Cash: money.Format(user.Cash)})
}

// Cash returns a user's cash balance.
func (h *Handler) Cash(w http.ResponseWriter, r *http.Request) {
	id, ok := h.userID(w, r)
	if !ok {
		return
	}
	cash, err := h.engine.Cash(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"cash": money.Format(cash)})
}

// Portfolio returns a user's holdings.
func (h *Handler) Portfolio(w http.ResponseWriter, r *http.Request) {
	id, ok := h.userID(w, r)
	if !ok {
		return
	}
	holdings, err := h.engine.Portfolio(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	out := make(map[string]string, len(holdings))
	for sym, qty := range holdings {
		out[sym] = money.Format(qty)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"portfolio": out})
}

// Operations returns a user's trade history, oldest first.
func (h *Handler) Operations(w http.ResponseWriter, r *http.Request) {
	id, ok := h.userID(w, r)
	if !ok {
		return
	}
	ops, err := h.engine.Operations().ListForUser(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	out := make([]operationResponse, 0, len(ops))
	for _, op := range ops {
		out = append(out, operationResponse{
			Action:   string(op.Action),
			Currency: op.CurrencySymbol,
			Quantity: money.Format(op.Quantity),
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"operations": out})
}

// Buy executes a purchase for the user.
func (h *Handler) Buy(w http.ResponseWriter, r *http.Request) {
	h.trade(w, r, h.engine.Buy)
}

// Sell executes a sale for the user.
func (h *Handler) Sell(w http.ResponseWriter, r *http.Request) {
	h.trade(w, r, h.engine.Sell)
}

type tradeFunc func(ctx context.Context, userID uint, symbol, quantity string) (trader.TradeResult, error)

func (h *Handler) trade(w http.ResponseWriter, r *http.Request, do tradeFunc) {
	id, ok := h.userID(w, r)
	if !ok {
		return
	}
	var req tradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.fail(w, errInvalidBody)
		return
	}
	if req.Currency == "" {
		h.fail(w, errInvalidBody)
		return
	}

	res, err := do(r.Context(), id, req.Currency, string(req.Quantity))
	if err != nil {
		h.fail(w, err)
		return
	}

	body := tradeResponse{
		Currency: res.Symbol,
		Cash:     money.Format(res.Cash),
		Quantity: money.Format(res.Quantity),
	}
	status := http.StatusOK
	if !res.OK {
		body.Error = string(res.Reason)
		status = http.StatusConflict
	}
	writeJSON(w, status, body)
}

// Rates returns every currency's current prices.
func (h *Handler) Rates(w http.ResponseWriter, r *http.Request) {
	all := h.rates.All()
	out := make(map[string]rateResponse, len(all))
	for _, rt := range all {
		out[rt.Symbol] = rateResponse{SellPrice: money.Format(rt.SellPrice), BuyPrice: money.Format(rt.BuyPrice)}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"rates": out})
}

// AddCurrency lists a new currency.
func (h *Handler) AddCurrency(w http.ResponseWriter, r *http.Request) {
	var req currencyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.fail(w, errInvalidBody)
		return
	}
	if req.Symbol == "" || req.SellPrice == "" || req.BuyPrice == "" {
		h.fail(w, errInvalidBody)
		return
	}
	sell, err := money.Parse(string(req.SellPrice))
	if err != nil {
		h.fail(w, market.ErrInvalidPrice)
		return
	}
	buy, err := money.Parse(string(req.BuyPrice))
	if err != nil {
		h.fail(w, market.ErrInvalidPrice)
		return
	}

	rt, err := h.rates.AddCurrency(r.Context(), req.Symbol, sell, buy)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, currencyResponse{
		Symbol:    rt.Symbol,
		SellPrice: money.Format(rt.SellPrice),
		BuyPrice:  money.Format(rt.BuyPrice),
	})
}

func (h *Handler) userID(w http.ResponseWriter, r *http.Request) (uint, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 32)
	if err != nil || id == 0 {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return 0, false
	}
	return uint(id), true
}

// fail maps an engine error to a status code.
func (h *Handler) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, trader.ErrUserNotFound), errors.Is(err, market.ErrCurrencyNotFound):
		writeError(w, http.StatusNotFound, rootMessage(err))
	case errors.Is(err, errInvalidBody),
		errors.Is(err, trader.ErrInvalidQuantity),
		errors.Is(err, trader.ErrInvalidName),
		errors.Is(err, market.ErrInvalidPrice),
		errors.Is(err, market.ErrInvalidSymbol):
		writeError(w, http.StatusBadRequest, rootMessage(err))
	case errors.Is(err, market.ErrCurrencyExists):
		writeError(w, http.StatusConflict, rootMessage(err))
	default:
		h.log.Error("Request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// rootMessage returns the message of the sentinel at the bottom of err's chain.
func rootMessage(err error) string {
	for _, sentinel := range []error{
		trader.ErrUserNotFound, trader.ErrInvalidQuantity, trader.ErrInvalidName,
		market.ErrCurrencyNotFound, market.ErrInvalidPrice, market.ErrInvalidSymbol, market.ErrCurrencyExists,
		errInvalidBody,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return err.Error()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
