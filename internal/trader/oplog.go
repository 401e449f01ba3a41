package trader

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"toy-exchange-go/internal/ledger"
	"toy-exchange-go/internal/models"
)

// OperationLog is the append-only audit trail of executed trades.
type OperationLog struct {
	ops   ledger.OperationStore
	users ledger.UserStore
}

// NewOperationLog creates a log over the given stores.
func NewOperationLog(ops ledger.OperationStore, users ledger.UserStore) *OperationLog {
	return &OperationLog{ops: ops, users: users}
}

// Record appends one operation. It fails only when the store does.
func (l *OperationLog) Record(ctx context.Context, userID uint, action models.Action, symbol string, quantity decimal.Decimal) error {
	if err := l.ops.AppendOperation(ctx, userID, action, symbol, quantity); err != nil {
		return fmt.Errorf("record %s %s: %w", action, symbol, err)
	}
	return nil
}

// ListForUser returns the user's operations in execution order. An unknown
// user is ErrUserNotFound; a known user without trades gets an empty slice.
func (l *OperationLog) ListForUser(ctx context.Context, userID uint) ([]models.Operation, error) {
	if _, err := l.users.GetUser(ctx, userID); err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	ops, err := l.ops.ListOperations(ctx, userID)
	if err != nil {
		return nil, err
	}
	if ops == nil {
		ops = []models.Operation{}
	}
	return ops, nil
}
