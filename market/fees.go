/*
fees.go - Fixed fee schedule

PURPOSE:
  The platform charges a 5% buyer fee on top of the listing price and
  retains 5% of the buyer total from the seller payout. Both sides round
  down, so the retained spread on a full lifecycle is slightly above 10%
  of the price. This is hard-coded policy, not configuration.

PRECISION:
  Prices and amounts are int64 minor units. Rates are applied with
  decimal arithmetic and floored, never with floats, so the numbers are
  identical on every platform.

EXAMPLE:
  price 1000 -> buyer total 1050 -> seller payout 997 -> spread 53
*/
package market

import "github.com/shopspring/decimal"

var (
	buyerRate  = decimal.RequireFromString("1.05")
	payoutRate = decimal.RequireFromString("0.95")
)

// BuyerTotal returns the buyer-facing total for a listing price:
// floor(price * 1.05).
func BuyerTotal(price int64) int64 {
	return decimal.NewFromInt(price).Mul(buyerRate).Floor().IntPart()
}

// SellerPayout returns the seller credit for a paid deal amount:
// floor(amount * 0.95).
func SellerPayout(amount int64) int64 {
	return decimal.NewFromInt(amount).Mul(payoutRate).Floor().IntPart()
}

// Spread returns what the platform retains when a deal with the given
// buyer total completes.
func Spread(amount int64) int64 {
	return amount - SellerPayout(amount)
}
