package broker

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"tradesim/internal/models"
	"tradesim/internal/quotes"
)

// MockQuoteClient is a mock implementation of quotes.RestClientInterface.
type MockQuoteClient struct {
	mock.Mock
}

func (m *MockQuoteClient) Lookup(ctx context.Context, symbol string) (*quotes.Quote, error) {
	args := m.Called(symbol)
	if q := args.Get(0); q != nil {
		return q.(*quotes.Quote), args.Error(1)
	}
	return nil, args.Error(1)
}

func quoteFor(symbol, name string, price float64) *quotes.Quote {
	return &quotes.Quote{Symbol: symbol, Name: name, Price: decimal.NewFromFloat(price)}
}

// setupTest creates a full test environment with a mock client, an
// in-memory database and one funded user.
func setupTest(t *testing.T) (*Engine, *gorm.DB, *MockQuoteClient, uint) {
	// Use a new, non-shared in-memory database for each test to ensure isolation.
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	assert.NoError(t, err)

	err = db.AutoMigrate(&models.User{}, &models.Holding{}, &models.Transaction{})
	assert.NoError(t, err)

	user := models.User{Username: "alice", PasswordHash: "x", Cash: decimal.NewFromInt(10000)}
	assert.NoError(t, db.Create(&user).Error)

	mockClient := new(MockQuoteClient)
	engine := NewEngine(zap.NewNop(), db, mockClient)

	return engine, db, mockClient, user.ID
}

func cashOf(t *testing.T, db *gorm.DB, userID uint) decimal.Decimal {
	var user models.User
	assert.NoError(t, db.First(&user, userID).Error)
	return user.Cash
}

func holdingOf(t *testing.T, db *gorm.DB, userID uint, symbol string) (models.Holding, bool) {
	var holding models.Holding
	err := db.Where("user_id = ? AND symbol = ?", userID, symbol).First(&holding).Error
	if err != nil {
		return models.Holding{}, false
	}
	return holding, true
}

func transactionCount(t *testing.T, db *gorm.DB, userID uint) int64 {
	var count int64
	assert.NoError(t, db.Model(&models.Transaction{}).Where("user_id = ?", userID).Count(&count).Error)
	return count
}

func TestExecuteBuy_Success(t *testing.T) {
	// Arrange
	engine, db, mockClient, userID := setupTest(t)
	mockClient.On("Lookup", "X").Return(quoteFor("X", "X Corp", 100.00), nil)

	// Act
	receipt, err := engine.ExecuteBuy(context.Background(), userID, "X", 5)

	// Assert
	assert.NoError(t, err)
	assert.Equal(t, "X Corp", receipt.Company)
	assert.Equal(t, int64(5), receipt.Shares)
	assert.Equal(t, "$100.00", receipt.UnitPrice)
	assert.Equal(t, "$500.00", receipt.Total)
	assert.Equal(t, "$9,500.00", receipt.Cash)

	assert.True(t, cashOf(t, db, userID).Equal(decimal.NewFromInt(9500)))
	holding, ok := holdingOf(t, db, userID, "X")
	assert.True(t, ok)
	assert.Equal(t, int64(5), holding.Shares)
	assert.Equal(t, "X Corp", holding.Company)

	var record models.Transaction
	assert.NoError(t, db.Where("user_id = ?", userID).First(&record).Error)
	assert.Equal(t, int64(5), record.Shares)
	assert.Equal(t, models.TransactionTypeBuy, record.Type)
	assert.Equal(t, int64(1), transactionCount(t, db, userID))
	mockClient.AssertExpectations(t)
}

func TestExecuteBuy_AddsToExistingHolding(t *testing.T) {
	engine, db, mockClient, userID := setupTest(t)
	assert.NoError(t, db.Create(&models.Holding{UserID: userID, Symbol: "X", Company: "X Corp", Shares: 5}).Error)
	mockClient.On("Lookup", "X").Return(quoteFor("X", "X Corp", 100.00), nil)

	_, err := engine.ExecuteBuy(context.Background(), userID, "X", 3)

	assert.NoError(t, err)
	holding, ok := holdingOf(t, db, userID, "X")
	assert.True(t, ok)
	assert.Equal(t, int64(8), holding.Shares)
}

func TestExecuteBuy_InsufficientFunds(t *testing.T) {
	// Arrange
	engine, db, mockClient, userID := setupTest(t)
	mockClient.On("Lookup", "X").Return(quoteFor("X", "X Corp", 3000.00), nil)

	// Act
	receipt, err := engine.ExecuteBuy(context.Background(), userID, "X", 4)

	// Assert: rejection leaves zero state change.
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Nil(t, receipt)
	assert.True(t, cashOf(t, db, userID).Equal(decimal.NewFromInt(10000)))
	_, ok := holdingOf(t, db, userID, "X")
	assert.False(t, ok)
	assert.Equal(t, int64(0), transactionCount(t, db, userID))
}

func TestExecuteBuy_InvalidSymbol(t *testing.T) {
	engine, _, mockClient, userID := setupTest(t)
	mockClient.On("Lookup", "NOSUCH").Return(nil, quotes.ErrSymbolNotFound)

	receipt, err := engine.ExecuteBuy(context.Background(), userID, "NOSUCH", 1)

	assert.ErrorIs(t, err, ErrInvalidSymbol)
	assert.Nil(t, receipt)
}

func TestExecuteBuy_InvalidShareCount(t *testing.T) {
	engine, _, mockClient, userID := setupTest(t)

	for _, shares := range []int64{0, -3} {
		receipt, err := engine.ExecuteBuy(context.Background(), userID, "X", shares)
		assert.ErrorIs(t, err, ErrInvalidInput)
		assert.Nil(t, receipt)
	}
	// Rejected before any lookup.
	mockClient.AssertNotCalled(t, "Lookup", mock.Anything)
}

func TestExecuteBuy_QuoteUnavailable(t *testing.T) {
	engine, db, mockClient, userID := setupTest(t)
	mockClient.On("Lookup", "X").Return(nil, quotes.ErrQuoteUnavailable)

	receipt, err := engine.ExecuteBuy(context.Background(), userID, "X", 1)

	assert.ErrorIs(t, err, quotes.ErrQuoteUnavailable)
	assert.Nil(t, receipt)
	assert.Equal(t, int64(0), transactionCount(t, db, userID))
}

func TestExecuteSell_Success(t *testing.T) {
	// Arrange: buy 5 at 100, then sell 5 at 110.
	engine, db, mockClient, userID := setupTest(t)
	mockClient.On("Lookup", "X").Return(quoteFor("X", "X Corp", 100.00), nil).Once()
	_, err := engine.ExecuteBuy(context.Background(), userID, "X", 5)
	assert.NoError(t, err)
	assert.True(t, cashOf(t, db, userID).Equal(decimal.NewFromInt(9500)))

	mockClient.On("Lookup", "X").Return(quoteFor("X", "X Corp", 110.00), nil)

	// Act
	receipt, err := engine.ExecuteSell(context.Background(), userID, "X", 5)

	// Assert
	assert.NoError(t, err)
	assert.Equal(t, "$110.00", receipt.UnitPrice)
	assert.Equal(t, "$550.00", receipt.Total)
	assert.Equal(t, "$10,050.00", receipt.Cash)

	assert.True(t, cashOf(t, db, userID).Equal(decimal.NewFromInt(10050)))

	// The holding row is retained at zero shares, not deleted.
	holding, ok := holdingOf(t, db, userID, "X")
	assert.True(t, ok)
	assert.Equal(t, int64(0), holding.Shares)

	assert.Equal(t, int64(2), transactionCount(t, db, userID))
	var record models.Transaction
	assert.NoError(t, db.Where("user_id = ? AND type = ?", userID, models.TransactionTypeSell).First(&record).Error)
	assert.Equal(t, int64(-5), record.Shares)
}

func TestExecuteSell_InsufficientShares(t *testing.T) {
	// Arrange
	engine, db, mockClient, userID := setupTest(t)
	assert.NoError(t, db.Create(&models.Holding{UserID: userID, Symbol: "X", Company: "X Corp", Shares: 2}).Error)

	// Act
	receipt, err := engine.ExecuteSell(context.Background(), userID, "X", 5)

	// Assert: rejected before the quote call, zero state change.
	assert.ErrorIs(t, err, ErrInsufficientShares)
	assert.Nil(t, receipt)
	assert.True(t, cashOf(t, db, userID).Equal(decimal.NewFromInt(10000)))
	holding, _ := holdingOf(t, db, userID, "X")
	assert.Equal(t, int64(2), holding.Shares)
	assert.Equal(t, int64(0), transactionCount(t, db, userID))
	mockClient.AssertNotCalled(t, "Lookup", mock.Anything)
}

func TestExecuteSell_NoHolding(t *testing.T) {
	// A missing holding row counts as zero held shares.
	engine, _, _, userID := setupTest(t)

	receipt, err := engine.ExecuteSell(context.Background(), userID, "X", 1)

	assert.ErrorIs(t, err, ErrInsufficientShares)
	assert.Nil(t, receipt)
}

func TestExecuteSell_QuoteUnavailable(t *testing.T) {
	engine, db, mockClient, userID := setupTest(t)
	assert.NoError(t, db.Create(&models.Holding{UserID: userID, Symbol: "X", Company: "X Corp", Shares: 5}).Error)
	mockClient.On("Lookup", "X").Return(nil, quotes.ErrQuoteUnavailable)

	receipt, err := engine.ExecuteSell(context.Background(), userID, "X", 5)

	assert.ErrorIs(t, err, quotes.ErrQuoteUnavailable)
	assert.Nil(t, receipt)
	assert.True(t, cashOf(t, db, userID).Equal(decimal.NewFromInt(10000)))
	holding, _ := holdingOf(t, db, userID, "X")
	assert.Equal(t, int64(5), holding.Shares)
	assert.Equal(t, int64(0), transactionCount(t, db, userID))
}

func TestExecuteBuy_ConcurrentSameUser(t *testing.T) {
	// Arrange: a shared named in-memory database so every pooled
	// connection sees the same rows, the way a real file database would.
	db, err := gorm.Open(sqlite.Open("file:concurrent_buys?mode=memory&cache=shared"), &gorm.Config{})
	assert.NoError(t, err)
	assert.NoError(t, db.AutoMigrate(&models.User{}, &models.Holding{}, &models.Transaction{}))

	user := models.User{Username: "alice", PasswordHash: "x", Cash: decimal.NewFromInt(10000)}
	assert.NoError(t, db.Create(&user).Error)

	mockClient := new(MockQuoteClient)
	mockClient.On("Lookup", "X").Return(quoteFor("X", "X Corp", 1000.00), nil)
	engine := NewEngine(zap.NewNop(), db, mockClient)

	// Act: 20 parallel one-share buys at $1,000 against $10,000 cash.
	// At most 10 can succeed; the rest must fail cleanly.
	const workers = 20
	results := make(chan error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.ExecuteBuy(context.Background(), user.ID, "X", 1)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var successes int64
	for err := range results {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, ErrInsufficientFunds):
			// Lost the funds check against up-to-date cash; fine.
		case errors.Is(err, ErrStoreBusy):
			// Lost the write lock past the retry budget; also fine —
			// nothing was booked and the client may retry.
		default:
			t.Errorf("unexpected error from concurrent buy: %v", err)
		}
	}

	// Assert: no lost update and no double-spend. Cash moved by exactly
	// $1,000 per booked trade and never went negative, and the ledger
	// holds exactly one transaction row per success.
	assert.Greater(t, successes, int64(0), "no buy made it through the retry loop")
	cash := cashOf(t, db, user.ID)
	assert.True(t, cash.Equal(decimal.NewFromInt(10000-1000*successes)),
		"cash was %s after %d successful buys", cash.String(), successes)
	assert.False(t, cash.IsNegative())
	assert.Equal(t, successes, transactionCount(t, db, user.ID))

	holding, ok := holdingOf(t, db, user.ID, "X")
	assert.True(t, ok)
	assert.Equal(t, successes, holding.Shares)
}

func TestBuySellRoundTrip(t *testing.T) {
	// At an unchanged price, buying N then selling N restores cash exactly.
	engine, db, mockClient, userID := setupTest(t)
	mockClient.On("Lookup", "X").Return(quoteFor("X", "X Corp", 123.45), nil)

	_, err := engine.ExecuteBuy(context.Background(), userID, "X", 7)
	assert.NoError(t, err)
	_, err = engine.ExecuteSell(context.Background(), userID, "X", 7)
	assert.NoError(t, err)

	assert.True(t, cashOf(t, db, userID).Equal(decimal.NewFromInt(10000)),
		"cash was %s", cashOf(t, db, userID).String())
}
