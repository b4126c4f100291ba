package quotes

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"tradesim/internal/config"
)

var (
	// ErrSymbolNotFound means the provider does not know the requested symbol.
	ErrSymbolNotFound = errors.New("symbol not found")
	// ErrQuoteUnavailable means the provider could not be reached in time.
	// A trade must never be booked against a stale or defaulted price, so
	// callers surface this to the user instead of guessing.
	ErrQuoteUnavailable = errors.New("quote provider unavailable")
)

// Quote is a live price/name snapshot for a ticker symbol.
type Quote struct {
	Symbol string          `json:"symbol"`
	Name   string          `json:"companyName"`
	Price  decimal.Decimal `json:"latestPrice"`
}

// RestClientInterface defines the interface for the quote provider client.
type RestClientInterface interface {
	Lookup(ctx context.Context, symbol string) (*Quote, error)
}

// RestClient is a client for an IEX-style quote REST API.
// It implements the RestClientInterface.
type RestClient struct {
	client    *resty.Client
	apiKey    string
	logger    *zap.Logger
	limiter   *rate.Limiter
	timeout   time.Duration
	retryWait time.Duration
}

// ensure RestClient implements the interface
var _ RestClientInterface = (*RestClient)(nil)

// NewRestClient creates a new quote provider client.
func NewRestClient(cfg *config.Quotes, logger *zap.Logger) *RestClient {
	client := resty.New().SetBaseURL(cfg.BaseURL)

	// Initialize the rate limiter
	// rate.Limit is requests per second.
	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst)

	return &RestClient{
		client:    client,
		apiKey:    cfg.ApiKey,
		logger:    logger,
		limiter:   limiter,
		timeout:   cfg.Timeout,
		retryWait: time.Second,
	}
}

// Lookup fetches the current quote for a ticker symbol. Symbols are
// case-insensitive; an unknown symbol yields ErrSymbolNotFound and any
// transport or provider failure yields ErrQuoteUnavailable.
func (c *RestClient) Lookup(ctx context.Context, symbol string) (*Quote, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, ErrSymbolNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req := c.client.R().
		SetContext(ctx).
		SetResult(&Quote{}).
		SetQueryParam("token", c.apiKey).
		SetHeader("Accept", "application/json")

	resp, err := c.doRequest(ctx, "GET", fmt.Sprintf("/stock/%s/quote", symbol), req)
	if err != nil {
		if errors.Is(err, ErrSymbolNotFound) {
			return nil, ErrSymbolNotFound
		}
		c.logger.Error("Failed to look up quote", zap.String("symbol", symbol), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrQuoteUnavailable, err)
	}

	quote := resp.Result().(*Quote)
	if quote.Symbol == "" || !quote.Price.IsPositive() {
		// The provider answered but not with a usable quote.
		return nil, ErrSymbolNotFound
	}
	return quote, nil
}

// doRequest handles the actual request execution with rate limiting and retry logic.
func (c *RestClient) doRequest(ctx context.Context, method, url string, req *resty.Request) (*resty.Response, error) {
	var resp *resty.Response
	var err error
	const maxRetries = 3

	for i := 0; i < maxRetries; i++ {
		// Wait for the rate limiter
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait failed: %w", err)
		}

		c.logger.Debug("Executing request", zap.String("method", method), zap.String("url", c.client.BaseURL+url))
		resp, err = req.Execute(method, url)

		if err == nil && !resp.IsError() {
			return resp, nil // Success
		}

		// Analyze error and decide whether to retry
		shouldRetry := false
		var retryAfter time.Duration

		if err == nil {
			statusCode := resp.StatusCode()
			switch {
			case statusCode == http.StatusNotFound:
				// Unknown symbol, retrying will not help.
				return nil, ErrSymbolNotFound
			case statusCode == http.StatusTooManyRequests:
				shouldRetry = true
				retryAfterHeader := resp.Header().Get("Retry-After")
				if seconds, err := strconv.Atoi(retryAfterHeader); err == nil {
					retryAfter = time.Duration(seconds) * time.Second
				}
			case statusCode >= 500: // Server errors
				shouldRetry = true
			}
		} else { // Network or other client-side errors
			shouldRetry = true
		}

		if !shouldRetry {
			return nil, fmt.Errorf("request failed with status %s: %s", resp.Status(), resp.String())
		}

		// If we should retry, calculate wait time
		if retryAfter == 0 {
			// Exponential backoff: wait, 2*wait, 4*wait
			retryAfter = c.retryWait << i
		}

		c.logger.Warn("Request failed, retrying...",
			zap.Int("attempt", i+1),
			zap.Duration("retry_after", retryAfter),
			zap.Error(err),
		)

		select {
		case <-time.After(retryAfter):
			continue
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if err == nil && resp != nil {
		return nil, fmt.Errorf("request failed after %d attempts with status %s", maxRetries, resp.Status())
	}
	return nil, fmt.Errorf("request failed after %d attempts: %w", maxRetries, err)
}
