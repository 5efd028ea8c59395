package domain

import (
	"fmt"
	"math"
)

// Money is a value in minor units (cents) of a single currency.
// Normalizing to minor units keeps arithmetic exact at two decimal places.
type Money struct {
	Amount   int64  `json:"amount"` // minor units
	Currency string `json:"currency"`
}

// supportedCurrencies is the ISO-4217 set the platform settles in.
var supportedCurrencies = map[string]struct{}{
	"USD": {}, "EUR": {}, "GBP": {}, "INR": {}, "JPY": {},
	"AUD": {}, "CAD": {}, "SGD": {}, "CHF": {}, "AED": {},
}

// IsSupportedCurrency reports whether code is a settlement currency.
func IsSupportedCurrency(code string) bool {
	_, ok := supportedCurrencies[code]
	return ok
}

// NewMoney creates a Money from minor units.
func NewMoney(minorUnits int64, currency string) (Money, error) {
	if minorUnits < 0 {
		return Money{}, fmt.Errorf("money amount must be non-negative, got %d", minorUnits)
	}
	if !IsSupportedCurrency(currency) {
		return Money{}, fmt.Errorf("unsupported currency %q", currency)
	}
	return Money{Amount: minorUnits, Currency: currency}, nil
}

// NewMoneyFromFloat creates a Money from a major-unit value, rounding
// half-up to two decimal places.
func NewMoneyFromFloat(value float64, currency string) (Money, error) {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return Money{}, fmt.Errorf("money amount must be finite")
	}
	if value < 0 {
		return Money{}, fmt.Errorf("money amount must be non-negative, got %f", value)
	}
	minor := int64(math.Floor(value*100 + 0.5))
	return NewMoney(minor, currency)
}

// Float64 returns the value in major units.
func (m Money) Float64() float64 {
	return float64(m.Amount) / 100
}

// IsZero reports whether the amount is zero.
func (m Money) IsZero() bool {
	return m.Amount == 0
}

// Add returns the sum. Cross-currency arithmetic is rejected.
func (m Money) Add(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, fmt.Errorf("cannot add %s to %s", other.Currency, m.Currency)
	}
	return Money{Amount: m.Amount + other.Amount, Currency: m.Currency}, nil
}

// Subtract returns the difference. Negative results are rejected.
func (m Money) Subtract(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, fmt.Errorf("cannot subtract %s from %s", other.Currency, m.Currency)
	}
	if other.Amount > m.Amount {
		return Money{}, fmt.Errorf("subtraction would produce a negative amount")
	}
	return Money{Amount: m.Amount - other.Amount, Currency: m.Currency}, nil
}

// LessThan compares amounts of the same currency.
func (m Money) LessThan(other Money) (bool, error) {
	if m.Currency != other.Currency {
		return false, fmt.Errorf("cannot compare %s with %s", m.Currency, other.Currency)
	}
	return m.Amount < other.Amount, nil
}

func (m Money) String() string {
	return fmt.Sprintf("%d.%02d %s", m.Amount/100, m.Amount%100, m.Currency)
}
