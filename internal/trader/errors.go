package trader

import "errors"

var (
	ErrUserNotFound    = errors.New("user not found")
	ErrInvalidQuantity = errors.New("quantity must be a number not below zero")
	ErrInvalidName     = errors.New("user name is required")
)

// Reason explains why a trade was declined. Declines are normal outcomes,
// not errors: the trade was checked and nothing was changed.
type Reason string

const (
	ReasonNone                 Reason = ""
	ReasonInsufficientCash     Reason = "insufficient cash"
	ReasonInsufficientCurrency Reason = "insufficient currency"
)
