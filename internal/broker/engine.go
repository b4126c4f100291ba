package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tradesim/internal/models"
	"tradesim/internal/quotes"
)

// Engine validates and executes trades against the ledger store and
// recomputes portfolio views from live quotes. Every operation takes the
// acting user's resolved ID; there is no ambient session state.
type Engine struct {
	logger *zap.Logger
	db     *gorm.DB
	quotes quotes.RestClientInterface
}

// NewEngine creates a new trade engine.
func NewEngine(logger *zap.Logger, db *gorm.DB, quoteClient quotes.RestClientInterface) *Engine {
	return &Engine{
		logger: logger,
		db:     db,
		quotes: quoteClient,
	}
}

// busyRetries bounds the optimistic retry loop around a trade's store
// transaction.
const busyRetries = 5

// tradeTx runs fn inside a store transaction, retrying with backoff when
// the transaction loses SQLite's write lock to a concurrent trade. Each
// retry re-executes fn from the top, so the funds/shares guards are
// re-validated against fresh row state every attempt. When retries are
// exhausted the trade fails with ErrStoreBusy: nothing was booked and
// the caller may safely retry.
func (e *Engine) tradeTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	var err error
	for attempt := 0; attempt < busyRetries; attempt++ {
		err = e.db.WithContext(ctx).Transaction(fn)
		if !isBusy(err) {
			return err
		}

		wait := time.Duration(attempt+1) * 5 * time.Millisecond
		e.logger.Warn("Trade transaction lost the write lock, retrying...",
			zap.Int("attempt", attempt+1),
			zap.Duration("retry_after", wait),
		)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("%w: %v", ErrStoreBusy, err)
}

// isBusy reports whether err is SQLite refusing a write because another
// transaction holds the lock.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.Code == sqlite3.ErrBusy || serr.Code == sqlite3.ErrLocked
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "table is locked")
}

// TradeReceipt describes a completed trade for display. Monetary fields
// are pre-formatted currency strings.
type TradeReceipt struct {
	Symbol    string `json:"symbol"`
	Company   string `json:"company"`
	Shares    int64  `json:"shares"`
	UnitPrice string `json:"unit_price"`
	Total     string `json:"total"`
	Cash      string `json:"cash"`
}

// ExecuteBuy purchases shares of a symbol at the live quoted price.
// The funds check and all mutations run in one store transaction, so two
// concurrent buys for the same user cannot both pass against a stale
// cash figure.
func (e *Engine) ExecuteBuy(ctx context.Context, userID uint, symbol string, shares int64) (*TradeReceipt, error) {
	if shares <= 0 {
		return nil, ErrInvalidInput
	}

	quote, err := e.quotes.Lookup(ctx, symbol)
	if err != nil {
		if errors.Is(err, quotes.ErrSymbolNotFound) {
			return nil, ErrInvalidSymbol
		}
		return nil, err
	}

	cost := quote.Price.Mul(decimal.NewFromInt(shares))

	var remaining decimal.Decimal
	err = e.tradeTx(ctx, func(tx *gorm.DB) error {
		var user models.User
		if err := tx.First(&user, userID).Error; err != nil {
			return fmt.Errorf("could not load user %d: %w", userID, err)
		}

		// Funds check happens inside the transaction, against the same
		// row state the mutations below will see.
		if cost.GreaterThan(user.Cash) {
			return ErrInsufficientFunds
		}

		record := models.Transaction{
			UserID:    userID,
			Symbol:    quote.Symbol,
			Company:   quote.Name,
			Shares:    shares,
			Price:     quote.Price,
			Type:      models.TransactionTypeBuy,
			Timestamp: time.Now(),
		}
		if err := tx.Create(&record).Error; err != nil {
			return fmt.Errorf("could not record transaction: %w", err)
		}

		remaining = user.Cash.Sub(cost)
		if err := tx.Model(&user).Update("cash", remaining).Error; err != nil {
			return fmt.Errorf("could not debit cash: %w", err)
		}

		// Single idempotent upsert instead of read-then-branch.
		holding := models.Holding{
			UserID:  userID,
			Symbol:  quote.Symbol,
			Company: quote.Name,
			Shares:  shares,
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}, {Name: "symbol"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"shares":     gorm.Expr("shares + ?", shares),
				"updated_at": time.Now(),
			}),
		}).Create(&holding).Error; err != nil {
			return fmt.Errorf("could not upsert holding: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("Executed buy",
		zap.Uint("user_id", userID),
		zap.String("symbol", quote.Symbol),
		zap.Int64("shares", shares),
		zap.String("price", quote.Price.String()),
	)

	return &TradeReceipt{
		Symbol:    quote.Symbol,
		Company:   quote.Name,
		Shares:    shares,
		UnitPrice: usd(quote.Price),
		Total:     usd(cost),
		Cash:      usd(remaining),
	}, nil
}

// ExecuteSell sells shares of a currently held symbol at the live quoted
// price. The holding row is kept even when its share count reaches zero.
// A missing holding counts as zero held shares.
func (e *Engine) ExecuteSell(ctx context.Context, userID uint, symbol string, shares int64) (*TradeReceipt, error) {
	if shares <= 0 {
		return nil, ErrInvalidInput
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	// Fail fast before the quote call; the authoritative check is
	// repeated inside the transaction below.
	held, err := e.heldShares(ctx, userID, symbol)
	if err != nil {
		return nil, err
	}
	if shares > held {
		return nil, ErrInsufficientShares
	}

	// Price is required to book the transaction, so a lookup failure is
	// fatal for the sell.
	quote, err := e.quotes.Lookup(ctx, symbol)
	if err != nil {
		if errors.Is(err, quotes.ErrSymbolNotFound) {
			return nil, ErrInvalidSymbol
		}
		return nil, err
	}

	proceeds := quote.Price.Mul(decimal.NewFromInt(shares))

	var updated decimal.Decimal
	err = e.tradeTx(ctx, func(tx *gorm.DB) error {
		var holding models.Holding
		err := tx.Where("user_id = ? AND symbol = ?", userID, symbol).First(&holding).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrInsufficientShares
		}
		if err != nil {
			return fmt.Errorf("could not load holding: %w", err)
		}
		// Re-validate now that the transaction owns the row.
		if shares > holding.Shares {
			return ErrInsufficientShares
		}

		record := models.Transaction{
			UserID:    userID,
			Symbol:    holding.Symbol,
			Company:   quote.Name,
			Shares:    -shares,
			Price:     quote.Price,
			Type:      models.TransactionTypeSell,
			Timestamp: time.Now(),
		}
		if err := tx.Create(&record).Error; err != nil {
			return fmt.Errorf("could not record transaction: %w", err)
		}

		if err := tx.Model(&holding).Update("shares", gorm.Expr("shares - ?", shares)).Error; err != nil {
			return fmt.Errorf("could not decrement holding: %w", err)
		}

		var user models.User
		if err := tx.First(&user, userID).Error; err != nil {
			return fmt.Errorf("could not load user %d: %w", userID, err)
		}
		updated = user.Cash.Add(proceeds)
		if err := tx.Model(&user).Update("cash", updated).Error; err != nil {
			return fmt.Errorf("could not credit cash: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("Executed sell",
		zap.Uint("user_id", userID),
		zap.String("symbol", symbol),
		zap.Int64("shares", shares),
		zap.String("price", quote.Price.String()),
	)

	return &TradeReceipt{
		Symbol:    symbol,
		Company:   quote.Name,
		Shares:    shares,
		UnitPrice: usd(quote.Price),
		Total:     usd(proceeds),
		Cash:      usd(updated),
	}, nil
}

func (e *Engine) heldShares(ctx context.Context, userID uint, symbol string) (int64, error) {
	var holding models.Holding
	err := e.db.WithContext(ctx).Where("user_id = ? AND symbol = ?", userID, symbol).First(&holding).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("could not load holding: %w", err)
	}
	return holding.Shares, nil
}
