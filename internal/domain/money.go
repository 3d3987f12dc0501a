package domain

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// MoneyScale is the number of fractional digits an amount may carry.
const MoneyScale = 2

var (
	ErrCurrencyMismatch = &Error{Code: EINVALIDCURRENCY, Message: "Currency does not match"}
	ErrInvalidCurrency  = &Error{Code: EINVALIDCURRENCY, Message: "Currency must be a 3-letter uppercase ISO code"}
)

// Money is an immutable amount in a single currency.
type Money struct {
	Amount   decimal.Decimal
	Currency string
}

// ValidateCurrency checks that code is a 3-letter uppercase ISO 4217 style code.
func ValidateCurrency(code string) error {
	if len(code) != 3 {
		return ErrInvalidCurrency
	}
	for i := 0; i < len(code); i++ {
		if code[i] < 'A' || code[i] > 'Z' {
			return ErrInvalidCurrency
		}
	}
	return nil
}

// NewMoney builds a Money value, rejecting malformed currencies and amounts
// with more than MoneyScale fractional digits.
func NewMoney(amount decimal.Decimal, currency string) (Money, error) {
	if err := ValidateCurrency(currency); err != nil {
		return Money{}, err
	}
	if !HasMoneyScale(amount) {
		return Money{}, Errorf(EINVALIDAMOUNT, "money.new", "Amount %s has more than %d decimal places", amount, MoneyScale)
	}
	return Money{Amount: amount, Currency: currency}, nil
}

// ParseMoney parses a decimal string such as "25.00".
func ParseMoney(amount, currency string) (Money, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return Money{}, Errorf(EINVALIDAMOUNT, "money.parse", "Amount %q is not a number", amount)
	}
	return NewMoney(d, currency)
}

// MustMoney is ParseMoney for literals known to be valid.
func MustMoney(amount, currency string) Money {
	m, err := ParseMoney(amount, currency)
	if err != nil {
		panic(err)
	}
	return m
}

// ZeroMoney returns a zero amount in currency.
func ZeroMoney(currency string) Money {
	return Money{Amount: decimal.Zero, Currency: currency}
}

// HasMoneyScale reports whether d has at most MoneyScale fractional digits.
func HasMoneyScale(d decimal.Decimal) bool {
	return d.Equal(d.Round(MoneyScale))
}

func (m Money) IsZero() bool     { return m.Amount.IsZero() }
func (m Money) IsPositive() bool { return m.Amount.IsPositive() }
func (m Money) IsNegative() bool { return m.Amount.IsNegative() }

// Add returns m + o. Both values must share a currency.
func (m Money) Add(o Money) (Money, error) {
	if m.Currency != o.Currency {
		return Money{}, ErrCurrencyMismatch
	}
	return Money{Amount: m.Amount.Add(o.Amount), Currency: m.Currency}, nil
}

// Sub returns m - o. Both values must share a currency.
func (m Money) Sub(o Money) (Money, error) {
	if m.Currency != o.Currency {
		return Money{}, ErrCurrencyMismatch
	}
	return Money{Amount: m.Amount.Sub(o.Amount), Currency: m.Currency}, nil
}

// Mul multiplies the amount by an integer quantity.
func (m Money) Mul(qty int) Money {
	return Money{Amount: m.Amount.Mul(decimal.NewFromInt(int64(qty))), Currency: m.Currency}
}

// Cmp compares amounts; currencies are assumed equal.
func (m Money) Cmp(o Money) int {
	return m.Amount.Cmp(o.Amount)
}

// Equal reports whether both amount and currency match.
func (m Money) Equal(o Money) bool {
	return m.Currency == o.Currency && m.Amount.Equal(o.Amount)
}

func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.Amount.StringFixed(MoneyScale), m.Currency)
}

type moneyJSON struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

// MarshalJSON encodes the amount as a fixed two-decimal string.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(moneyJSON{Amount: m.Amount.StringFixed(MoneyScale), Currency: m.Currency})
}

// UnmarshalJSON decodes {"amount": "...", "currency": "..."}.
func (m *Money) UnmarshalJSON(data []byte) error {
	var raw moneyJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	d, err := decimal.NewFromString(raw.Amount)
	if err != nil {
		return fmt.Errorf("invalid money amount %q: %w", raw.Amount, err)
	}
	m.Amount = d
	m.Currency = raw.Currency
	return nil
}
