package api

import (
	"bytes"
	"encoding/json"
	"errors"
)

// decimalText accepts a JSON string or a JSON number and keeps its exact text,
// so amounts never pass through a float.
type decimalText string

func (d *decimalText) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*d = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*d = decimalText(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return errors.New("amount must be a string or a number")
	}
	*d = decimalText(n.String())
	return nil
}

type registerRequest struct {
	Name string `json:"name"`
}

type userResponse struct {
	ID   uint   `json:"id"`
	Name string `json:"name"`
	Cash string `json:"cash"`
}

type tradeRequest struct {
	Currency string      `json:"currency"`
	Quantity decimalText `json:"quantity"`
}

type tradeResponse struct {
	Currency string `json:"currency"`
	Cash     string `json:"cash"`
	Quantity string `json:"quantity"`
	Error    string `json:"error,omitempty"`
}

type currencyRequest struct {
	Symbol    string      `json:"symbol"`
	SellPrice decimalText `json:"sell_price"`
	BuyPrice  decimalText `json:"buy_price"`
}

type rateResponse struct {
	SellPrice string `json:"sell_price"`
	BuyPrice  string `json:"buy_price"`
}

type currencyResponse struct {
	Symbol    string `json:"symbol"`
	SellPrice string `json:"sell_price"`
	BuyPrice  string `json:"buy_price"`
}

type operationResponse struct {
	Action   string `json:"action"`
	Currency string `json:"currency"`
	Quantity string `json:"quantity"`
}

type errorResponse struct {
	Error string `json:"error"`
}
