package broker

import (
	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

var centsPerDollar = decimal.NewFromInt(100)

// usd renders an exact decimal amount as a display string with a
// currency symbol and two decimal places, e.g. "$9,500.00".
func usd(amount decimal.Decimal) string {
	cents := amount.Round(2).Mul(centsPerDollar).IntPart()
	return money.New(cents, money.USD).Display()
}
