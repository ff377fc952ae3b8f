// Package core provides the domain model and money handling utilities.
//
// This file contains the Toman/USD conversions used to assist input. Stored
// expenses keep whatever amounts the user confirmed; nothing here is applied
// to persisted rows after the fact.
package core

import (
	"errors"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidRate      = errors.New("exchange rate must be positive")
	ErrAmountOutOfRange = errors.New("amount does not fit in a whole Toman value")
)

var (
	maxToman = decimal.NewFromInt(math.MaxInt64)
	minToman = decimal.NewFromInt(math.MinInt64)
)

// WholeToman converts an integral decimal to int64, rejecting values that
// would wrap.
func WholeToman(d decimal.Decimal) (int64, error) {
	if d.GreaterThan(maxToman) || d.LessThan(minToman) {
		return 0, ErrAmountOutOfRange
	}
	return d.IntPart(), nil
}

// TomanToUSD converts a Toman amount to USD at rate Toman per dollar,
// rounded to cents.
//
// Examples:
//
//	TomanToUSD(1_000_000, 50_000) -> 20.00
//	TomanToUSD(10, 3)             -> 3.33
func TomanToUSD(toman int64, rate decimal.Decimal) (decimal.Decimal, error) {
	if !rate.IsPositive() {
		return decimal.Zero, ErrInvalidRate
	}
	return decimal.NewFromInt(toman).Div(rate).Round(2), nil
}

// USDToToman converts a USD amount to whole Toman at rate Toman per dollar.
//
// The two conversions are not inverses: TomanToUSD rounds to cents, so
// USDToToman(TomanToUSD(x)) can differ from x by up to rate/200.
func USDToToman(usd decimal.Decimal, rate decimal.Decimal) (int64, error) {
	if !rate.IsPositive() {
		return 0, ErrInvalidRate
	}
	return WholeToman(usd.Mul(rate).Round(0))
}

// ParseRate parses a provider rate such as "60250" or "60,250".
func ParseRate(s string) (decimal.Decimal, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return decimal.Zero, ErrInvalidRate
	}
	rate, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidRate
	}
	if !rate.IsPositive() {
		return decimal.Zero, ErrInvalidRate
	}
	return rate, nil
}
