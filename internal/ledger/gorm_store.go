package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"toy-exchange-go/internal/models"
)

type txKey struct{}

// GormStore implements Store on top of gorm.
type GormStore struct {
	db *gorm.DB
}

// ensure GormStore implements the interface
var _ Store = (*GormStore)(nil)

// NewGormStore wraps an open, migrated database.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Transaction runs fn in a database transaction. Nested calls join the outer transaction.
func (s *GormStore) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return fn(ctx)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

// conn returns the transaction carried by ctx, or the pool.
func (s *GormStore) conn(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx.WithContext(ctx)
	}
	return s.db.WithContext(ctx)
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func (s *GormStore) CreateUser(ctx context.Context, name string, cash decimal.Decimal) (*models.User, error) {
	user := &models.User{Name: name, Cash: cash}
	err := s.Transaction(ctx, func(ctx context.Context) error {
		db := s.conn(ctx)
		if err := db.Create(user).Error; err != nil {
			return fmt.Errorf("create user: %w", err)
		}

		var symbols []string
		if err := db.Model(&models.Currency{}).Order("symbol").Pluck("symbol", &symbols).Error; err != nil {
			return fmt.Errorf("list currencies: %w", err)
		}
		if len(symbols) == 0 {
			return nil
		}
		entries := make([]models.PortfolioEntry, 0, len(symbols))
		for _, sym := range symbols {
			entries = append(entries, models.PortfolioEntry{UserID: user.ID, CurrencySymbol: sym, Quantity: decimal.Zero})
		}
		if err := db.Create(&entries).Error; err != nil {
			return fmt.Errorf("create portfolio entries: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (s *GormStore) GetUser(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	if err := s.conn(ctx).First(&user, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

func (s *GormStore) UpdateUserCash(ctx context.Context, id uint, cash decimal.Decimal) error {
	res := s.conn(ctx).Model(&models.User{}).Where("id = ?", id).Update("cash", cash)
	if res.Error != nil {
		return fmt.Errorf("update cash for user %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) GetPortfolioEntry(ctx context.Context, userID uint, symbol string) (*models.PortfolioEntry, error) {
	var entry models.PortfolioEntry
	err := s.conn(ctx).
		Where("user_id = ? AND currency_symbol = ?", userID, symbol).
		First(&entry).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &entry, nil
}

func (s *GormStore) ListPortfolio(ctx context.Context, userID uint) ([]models.PortfolioEntry, error) {
	var entries []models.PortfolioEntry
	if err := s.conn(ctx).Where("user_id = ?", userID).Order("currency_symbol").Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("list portfolio for user %d: %w", userID, err)
	}
	return entries, nil
}

func (s *GormStore) UpdatePortfolioQuantity(ctx context.Context, userID uint, symbol string, quantity decimal.Decimal) error {
	res := s.conn(ctx).Model(&models.PortfolioEntry{}).
		Where("user_id = ? AND currency_symbol = ?", userID, symbol).
		Update("quantity", quantity)
	if res.Error != nil {
		return fmt.Errorf("update %s quantity for user %d: %w", symbol, userID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) CreateCurrency(ctx context.Context, symbol string, sellPrice, buyPrice decimal.Decimal) (*models.Currency, error) {
	cur := &models.Currency{Symbol: symbol, SellPrice: sellPrice, BuyPrice: buyPrice}
	err := s.Transaction(ctx, func(ctx context.Context) error {
		db := s.conn(ctx)

		var count int64
		if err := db.Model(&models.Currency{}).Where("symbol = ?", symbol).Count(&count).Error; err != nil {
			return fmt.Errorf("check currency %s: %w", symbol, err)
		}
		if count > 0 {
			return ErrAlreadyExists
		}
		if err := db.Create(cur).Error; err != nil {
			return fmt.Errorf("create currency %s: %w", symbol, err)
		}

		var userIDs []uint
		if err := db.Model(&models.User{}).Order("id").Pluck("id", &userIDs).Error; err != nil {
			return fmt.Errorf("list users: %w", err)
		}
		if len(userIDs) == 0 {
			return nil
		}
		entries := make([]models.PortfolioEntry, 0, len(userIDs))
		for _, id := range userIDs {
			entries = append(entries, models.PortfolioEntry{UserID: id, CurrencySymbol: symbol, Quantity: decimal.Zero})
		}
		if err := db.CreateInBatches(&entries, 500).Error; err != nil {
			return fmt.Errorf("create portfolio entries for %s: %w", symbol, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cur, nil
}

func (s *GormStore) GetCurrency(ctx context.Context, symbol string) (*models.Currency, error) {
	var cur models.Currency
	if err := s.conn(ctx).Where("symbol = ?", symbol).First(&cur).Error; err != nil {
		return nil, notFound(err)
	}
	return &cur, nil
}

func (s *GormStore) ListCurrencies(ctx context.Context) ([]models.Currency, error) {
	var currencies []models.Currency
	if err := s.conn(ctx).Order("symbol").Find(&currencies).Error; err != nil {
		return nil, fmt.Errorf("list currencies: %w", err)
	}
	return currencies, nil
}

func (s *GormStore) UpdateCurrencyPrices(ctx context.Context, updates []PriceUpdate) error {
	return s.Transaction(ctx, func(ctx context.Context) error {
		db := s.conn(ctx)
		for _, u := range updates {
			res := db.Model(&models.Currency{}).Where("symbol = ?", u.Symbol).Updates(map[string]interface{}{
				"sell_price": u.SellPrice,
				"buy_price":  u.BuyPrice,
			})
			if res.Error != nil {
				return fmt.Errorf("update prices for %s: %w", u.Symbol, res.Error)
			}
			if res.RowsAffected == 0 {
				return fmt.Errorf("update prices for %s: %w", u.Symbol, ErrNotFound)
			}
		}
		return nil
	})
}

func (s *GormStore) AppendOperation(ctx context.Context, userID uint, action models.Action, symbol string, quantity decimal.Decimal) error {
	op := models.Operation{UserID: userID, Action: action, CurrencySymbol: symbol, Quantity: quantity}
	if err := s.conn(ctx).Create(&op).Error; err != nil {
		return fmt.Errorf("append operation for user %d: %w", userID, err)
	}
	return nil
}

func (s *GormStore) ListOperations(ctx context.Context, userID uint) ([]models.Operation, error) {
	var ops []models.Operation
	if err := s.conn(ctx).Where("user_id = ?", userID).Order("id").Find(&ops).Error; err != nil {
		return nil, fmt.Errorf("list operations for user %d: %w", userID, err)
	}
	return ops, nil
}
