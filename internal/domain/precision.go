package domain

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

const (
	// AmountPrecision is the number of fractional digits a trade quantity may carry.
	AmountPrecision = 18
	// PricePrecision is the number of fractional digits a unit price may carry (cents).
	PricePrecision = 2
	// CostPrecision is the scale used for cost basis: amount * price is exact at this scale.
	CostPrecision = AmountPrecision + PricePrecision

	// maxIntegerDigits bounds whole-unit digits: uint256 range scaled down by 1e18.
	maxIntegerDigits = 60
	maxSymbolLength  = 32
)

// ValidateAmount checks that amount is positive and fits AmountPrecision.
func ValidateAmount(amount decimal.Decimal) error {
	if err := checkMagnitude(amount, AmountPrecision); err != nil {
		return errors.Wrapf(ErrInvalidAmount, "amount %s", err)
	}
	if !amount.IsPositive() {
		return errors.Wrap(ErrInvalidAmount, "amount must be greater than zero")
	}

	return nil
}

// ValidatePrice checks that price is non-negative and fits PricePrecision.
// A zero price is legal.
func ValidatePrice(price decimal.Decimal) error {
	if err := checkMagnitude(price, PricePrecision); err != nil {
		return errors.Wrapf(ErrInvalidPrice, "price %s", err)
	}
	if price.IsNegative() {
		return errors.Wrap(ErrInvalidPrice, "price must not be negative")
	}

	return nil
}

// NormalizeSymbol trims and upper-cases a token symbol and validates its length.
func NormalizeSymbol(symbol string) (string, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return "", errors.Wrap(ErrInvalidSymbol, "symbol is required")
	}
	if len(symbol) > maxSymbolLength {
		return "", errors.Wrapf(ErrInvalidSymbol, "symbol longer than %d characters", maxSymbolLength)
	}

	return symbol, nil
}

// checkMagnitude looks only at the exponent and coefficient length, so it is
// cheap for any parsed value.
func checkMagnitude(d decimal.Decimal, places int32) error {
	if d.Exponent() < -places {
		return errors.Errorf("has more than %d fractional digits", places)
	}
	if int64(d.Exponent())+int64(d.NumDigits()) > maxIntegerDigits {
		return errors.Errorf("has more than %d integer digits", maxIntegerDigits)
	}

	return nil
}
