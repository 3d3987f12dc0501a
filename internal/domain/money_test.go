package domain

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateCurrency(t *testing.T) {
	for _, code := range []string{"USD", "EUR", "JPY"} {
		assert.NoError(t, ValidateCurrency(code), code)
	}
	for _, code := range []string{"", "usd", "US", "USDT", "U5D", "Us$"} {
		assert.ErrorIs(t, ValidateCurrency(code), ErrInvalidCurrency, code)
	}
}

func TestNewMoney(t *testing.T) {
	m, err := NewMoney(decimal.RequireFromString("12.5"), "USD")
	require.NoError(t, err)
	assert.Equal(t, "12.50 USD", m.String())

	_, err = NewMoney(decimal.RequireFromString("0.001"), "USD")
	assert.Equal(t, EINVALIDAMOUNT, ErrorCode(err))

	_, err = ParseMoney("abc", "USD")
	assert.Equal(t, EINVALIDAMOUNT, ErrorCode(err))
}

func TestMoney_Arithmetic(t *testing.T) {
	a := MustMoney("20.00", "USD")
	b := MustMoney("15.00", "USD")

	sum, err := a.Add(b)
	require.NoError(t, err)
	assert.True(t, sum.Equal(MustMoney("35", "USD")))

	diff, err := a.Sub(b)
	require.NoError(t, err)
	assert.True(t, diff.Equal(MustMoney("5.00", "USD")))

	assert.True(t, b.Mul(3).Equal(MustMoney("45.00", "USD")))

	_, err = a.Add(MustMoney("1.00", "EUR"))
	assert.ErrorIs(t, err, ErrCurrencyMismatch)
}

func TestMoney_JSON(t *testing.T) {
	b, err := json.Marshal(MustMoney("25", "USD"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"amount":"25.00","currency":"USD"}`, string(b))

	var m Money
	require.NoError(t, json.Unmarshal([]byte(`{"amount":"7.25","currency":"EUR"}`), &m))
	assert.True(t, m.Equal(MustMoney("7.25", "EUR")))
}
