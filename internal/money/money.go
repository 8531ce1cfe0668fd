// Package money holds the fixed-point rules shared by every monetary path.
package money

import (
	"github.com/shopspring/decimal"

	"github.com/ruralpay/walletcore/internal/apperr"
)

// Scale is the number of decimal digits stored for every amount.
const Scale = 2

// Round2 rounds half away from zero to two decimal digits.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(Scale)
}

// HasScale reports whether d carries no more than two decimal digits.
func HasScale(d decimal.Decimal) bool {
	return d.Equal(d.Round(Scale))
}

// ValidatePositive rejects amounts that are not strictly positive with at most two decimals.
func ValidatePositive(field string, d decimal.Decimal) error {
	if !d.IsPositive() {
		return apperr.New(apperr.KindValidation, "%s must be greater than zero", field).With("field", field)
	}
	if !HasScale(d) {
		return apperr.New(apperr.KindValidation, "%s must have at most %d decimal digits", field, Scale).With("field", field)
	}
	return nil
}

// Parse reads a decimal string and validates it as a positive amount.
func Parse(field, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, apperr.Wrap(apperr.KindValidation, err, "%s is not a valid amount", field).With("field", field)
	}
	if err := ValidatePositive(field, d); err != nil {
		return decimal.Zero, err
	}
	return d, nil
}
