package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"tradesim/internal/models"
	"tradesim/internal/quotes"
)

// PortfolioEntry is one held position priced at the live quote.
type PortfolioEntry struct {
	Symbol      string `json:"symbol"`
	Company     string `json:"company"`
	Shares      int64  `json:"shares"`
	Price       string `json:"price"`
	MarketValue string `json:"market_value"`
}

// PortfolioView is a user's current positions plus cash and net worth.
type PortfolioView struct {
	Holdings []PortfolioEntry `json:"holdings"`
	Cash     string           `json:"cash"`
	NetWorth string           `json:"net_worth"`
}

// Portfolio builds the current portfolio view for a user: all holdings
// with a non-zero share count, each priced at a live quote, plus cash.
// Any quote lookup failure fails the whole view; a net worth computed
// from partial prices would be silently wrong.
func (e *Engine) Portfolio(ctx context.Context, userID uint) (*PortfolioView, error) {
	var user models.User
	if err := e.db.WithContext(ctx).First(&user, userID).Error; err != nil {
		return nil, fmt.Errorf("could not load user %d: %w", userID, err)
	}

	var holdings []models.Holding
	if err := e.db.WithContext(ctx).
		Where("user_id = ? AND shares <> 0", userID).
		Order("symbol asc").
		Find(&holdings).Error; err != nil {
		return nil, fmt.Errorf("could not load holdings: %w", err)
	}

	view := PortfolioView{
		Holdings: make([]PortfolioEntry, 0, len(holdings)),
		Cash:     usd(user.Cash),
	}

	netWorth := user.Cash
	for _, h := range holdings {
		quote, err := e.quotes.Lookup(ctx, h.Symbol)
		if err != nil {
			// A held symbol the provider cannot price right now is a
			// provider outage from the user's point of view.
			return nil, fmt.Errorf("%w: no price for held symbol %s", quotes.ErrQuoteUnavailable, h.Symbol)
		}

		value := quote.Price.Mul(decimal.NewFromInt(h.Shares))
		netWorth = netWorth.Add(value)

		view.Holdings = append(view.Holdings, PortfolioEntry{
			Symbol:      h.Symbol,
			Company:     h.Company,
			Shares:      h.Shares,
			Price:       usd(quote.Price),
			MarketValue: usd(value),
		})
	}

	view.NetWorth = usd(netWorth)
	return &view, nil
}

// HistoryEntry is one past transaction formatted for display.
type HistoryEntry struct {
	Symbol    string    `json:"symbol"`
	Company   string    `json:"company"`
	Shares    int64     `json:"shares"`
	Price     string    `json:"price"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// History returns all of a user's transactions, newest first.
func (e *Engine) History(ctx context.Context, userID uint) ([]HistoryEntry, error) {
	var records []models.Transaction
	if err := e.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("timestamp desc, id desc").
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("could not load transactions: %w", err)
	}

	entries := make([]HistoryEntry, 0, len(records))
	for _, r := range records {
		entries = append(entries, HistoryEntry{
			Symbol:    r.Symbol,
			Company:   r.Company,
			Shares:    r.Shares,
			Price:     usd(r.Price),
			Type:      r.Type,
			Timestamp: r.Timestamp,
		})
	}
	return entries, nil
}

// QuoteView is a live quote formatted for display.
type QuoteView struct {
	Symbol  string `json:"symbol"`
	Company string `json:"company"`
	Price   string `json:"price"`
}

// Quote looks up the live quote for a symbol.
func (e *Engine) Quote(ctx context.Context, symbol string) (*QuoteView, error) {
	quote, err := e.quotes.Lookup(ctx, symbol)
	if err != nil {
		return nil, err
	}
	return &QuoteView{
		Symbol:  quote.Symbol,
		Company: quote.Name,
		Price:   usd(quote.Price),
	}, nil
}
