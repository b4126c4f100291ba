package broker

import "errors"

// Domain errors returned by the trade engine. Handlers map these to
// user-displayable responses; anything else is an internal failure.
var (
	ErrInvalidInput       = errors.New("share count must be a positive whole number")
	ErrInvalidSymbol      = errors.New("invalid stock symbol")
	ErrInsufficientFunds  = errors.New("not enough cash for this purchase")
	ErrInsufficientShares = errors.New("not enough shares to sell")
	// ErrStoreBusy means the trade lost the write lock too many times in
	// a row. The trade was not booked; the request is safe to retry.
	ErrStoreBusy = errors.New("the ledger is busy, please try again")
)
