package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Basic Money Operations Tests
// ============================================================================

func TestNew(t *testing.T) {
	tests := []struct {
		name     string
		cents    int64
		currency string
		want     int64
	}{
		{"positive cents", 1234, USD, 1234},
		{"zero", 0, USD, 0},
		{"negative cents", -5000, USD, -5000},
		{"euro", 1000, EUR, 1000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New(tt.cents, tt.currency)
			assert.Equal(t, tt.want, m.Amount())
			assert.Equal(t, tt.currency, m.Currency())
		})
	}
}

func TestNewFromDecimal(t *testing.T) {
	m := NewFromDecimal(decimal.RequireFromString("12.345"), USD)
	assert.Equal(t, int64(1235), m.Amount())

	m = NewFromDecimal(decimal.RequireFromString("-45.30"), USD)
	assert.Equal(t, int64(-4530), m.Amount())
}

func TestAdd(t *testing.T) {
	a := New(1000, USD)
	b := New(-250, USD)

	sum, err := a.Add(b)
	require.NoError(t, err)
	assert.Equal(t, int64(750), sum.Amount())

	_, err = a.Add(New(100, EUR))
	assert.Error(t, err)
}

func TestDisplay(t *testing.T) {
	assert.Equal(t, "$1,234.56", New(123456, USD).Display())
	assert.Equal(t, "1234.56", New(123456, USD).String())
	assert.Equal(t, "-45.30", New(-4530, USD).String())
}

func TestNilSafety(t *testing.T) {
	var m *Money
	assert.Equal(t, int64(0), m.Amount())
	assert.Equal(t, "", m.Currency())
	assert.Equal(t, "$0.00", m.Display())
	assert.True(t, m.ToDecimal().IsZero())
}

// ============================================================================
// Statement Amount Parsing Tests
// ============================================================================

func TestParseCents(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		format NumberFormat
		want   int64
	}{
		{"us grouped", "1,234.56", FormatUS, 123456},
		{"european grouped", "1.234,56", FormatEuropean, 123456},
		{"us plain", "45.30", FormatUS, 4530},
		{"european plain", "49,44", FormatEuropean, 4944},
		{"leading minus", "-45.30", FormatUS, -4530},
		{"trailing minus", "45.30-", FormatUS, -4530},
		{"parentheses", "(1,000.00)", FormatUS, -100000},
		{"credit marker", "120.00CR", FormatUS, 12000},
		{"credit marker with space", "120,00 CR", FormatEuropean, 12000},
		{"debit marker", "120.00 DB", FormatUS, -12000},
		{"dollar symbol", "$904.70", FormatUS, 90470},
		{"us dollar prefix", "US$ 1.234,56", FormatEuropean, 123456},
		{"usd suffix", "12.00 USD", FormatUS, 1200},
		{"whole number", "1,000", FormatUS, 100000},
		{"one decimal", "3.5", FormatUS, 350},
		{"millions european", "1.234.567,89", FormatEuropean, 123456789},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCents(tt.raw, tt.format)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseCentsInvalid(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		format NumberFormat
	}{
		{"empty", "", FormatUS},
		{"letters", "abc", FormatUS},
		{"european token in us format", "1.234,56", FormatUS},
		{"us token in european format", "1,234.56", FormatEuropean},
		{"three decimals", "1.234", FormatUS},
		{"bad grouping", "12,34,56.00", FormatUS},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCents(tt.raw, tt.format)
			assert.ErrorIs(t, err, ErrInvalidAmount)
		})
	}
}

func TestParseMarked(t *testing.T) {
	_, marker, err := ParseMarked("10.00CR", FormatUS)
	require.NoError(t, err)
	assert.Equal(t, MarkerCredit, marker)

	_, marker, err = ParseMarked("10.00-", FormatUS)
	require.NoError(t, err)
	assert.Equal(t, MarkerDebit, marker)

	_, marker, err = ParseMarked("-10.00", FormatUS)
	require.NoError(t, err)
	assert.Equal(t, MarkerNone, marker)
}

func TestIsAmountToken(t *testing.T) {
	assert.True(t, IsAmountToken("-45.30", FormatUS))
	assert.True(t, IsAmountToken("904.70", FormatUS))
	assert.True(t, IsAmountToken("1.234,56", FormatEuropean))
	assert.True(t, IsAmountToken("US$49,44", FormatEuropean))

	assert.False(t, IsAmountToken("XYZ", FormatUS))
	assert.False(t, IsAmountToken("2024", FormatUS))
	assert.False(t, IsAmountToken("05/03", FormatUS))
	assert.False(t, IsAmountToken("45.30", FormatEuropean))
}

func TestFormatCents(t *testing.T) {
	assert.Equal(t, "-45.30", FormatCents(-4530, FormatUS))
	assert.Equal(t, "1234,56", FormatCents(123456, FormatEuropean))
	assert.Equal(t, "0.05", FormatCents(5, FormatUS))
}
