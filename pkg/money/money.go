// Package money provides currency-safe financial arithmetic using integer cents
// and locale-aware parsing of statement amounts.
package money

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// Common currency codes (ISO-4217)
const (
	USD = "USD" // US Dollar
	CLP = "CLP" // Chilean Peso
	EUR = "EUR" // Euro
)

// NumberFormat declares which separator a statement uses for decimals.
type NumberFormat int

const (
	// FormatUS is 1,234.56
	FormatUS NumberFormat = iota
	// FormatEuropean is 1.234,56
	FormatEuropean
)

func (f NumberFormat) String() string {
	if f == FormatEuropean {
		return "european"
	}
	return "us"
}

// SignMarker records an explicit debit/credit marker found next to an amount.
type SignMarker int

const (
	MarkerNone SignMarker = iota
	MarkerCredit
	MarkerDebit
)

// ErrInvalidAmount is returned when a token is not a number in the declared format
var ErrInvalidAmount = errors.New("invalid amount")

var (
	usAmountRe       = regexp.MustCompile(`^(?:\d{1,3}(?:,\d{3})+|\d+)(?:\.\d{1,2})?$`)
	europeanAmountRe = regexp.MustCompile(`^(?:\d{1,3}(?:\.\d{3})+|\d+)(?:,\d{1,2})?$`)
	usTokenRe        = regexp.MustCompile(`^(?:\d{1,3}(?:,\d{3})+|\d+)\.\d{2}$`)
	europeanTokenRe  = regexp.MustCompile(`^(?:\d{1,3}(?:\.\d{3})+|\d+),\d{2}$`)
)

var currencySymbols = []string{"US$", "USD", "€", "$"}

// Money represents a monetary value with currency.
type Money struct {
	m *money.Money
}

// New creates a new Money value from cents (minor units) and currency code.
func New(amountCents int64, currencyCode string) *Money {
	return &Money{m: money.New(amountCents, currencyCode)}
}

// NewFromDecimal creates Money from a decimal.Decimal value.
func NewFromDecimal(amount decimal.Decimal, currencyCode string) *Money {
	currency := money.GetCurrency(currencyCode)
	if currency == nil {
		currency = money.GetCurrency(USD)
	}

	multiplier := decimal.New(1, int32(currency.Fraction))
	cents := amount.Mul(multiplier).Round(0).IntPart()

	return New(cents, currencyCode)
}

// Amount returns the amount in minor units (cents)
func (m *Money) Amount() int64 {
	if m == nil || m.m == nil {
		return 0
	}
	return m.m.Amount()
}

// Currency returns the ISO-4217 currency code
func (m *Money) Currency() string {
	if m == nil || m.m == nil {
		return ""
	}
	return m.m.Currency().Code
}

// Add adds two Money values. Returns error if currencies don't match.
func (m *Money) Add(other *Money) (*Money, error) {
	if m == nil || m.m == nil {
		return other, nil
	}
	if other == nil || other.m == nil {
		return m, nil
	}
	result, err := m.m.Add(other.m)
	if err != nil {
		return nil, err
	}
	return &Money{m: result}, nil
}

// Display returns a formatted string for display (e.g., "$1,234.56")
func (m *Money) Display() string {
	if m == nil || m.m == nil {
		return "$0.00"
	}
	return m.m.Display()
}

// String returns the amount as a decimal string (e.g., "1234.56")
func (m *Money) String() string {
	if m == nil || m.m == nil {
		return "0.00"
	}
	return m.ToDecimal().StringFixed(int32(m.m.Currency().Fraction))
}

// ToDecimal converts to decimal.Decimal for precise calculations
func (m *Money) ToDecimal() decimal.Decimal {
	if m == nil || m.m == nil {
		return decimal.Zero
	}
	currency := m.m.Currency()
	return decimal.New(m.m.Amount(), -int32(currency.Fraction))
}

// ToFloat64 converts to float64 (use with caution for display only)
func (m *Money) ToFloat64() float64 {
	return m.ToDecimal().InexactFloat64()
}

// CentsToDecimal converts USD cents to a decimal value.
func CentsToDecimal(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

// FormatCents renders cents using the given number format without grouping,
// e.g. -4530 -> "-45.30" (US) or "-45,30" (European).
func FormatCents(cents int64, format NumberFormat) string {
	s := CentsToDecimal(cents).StringFixed(2)
	if format == FormatEuropean {
		s = strings.Replace(s, ".", ",", 1)
	}
	return s
}

// IsAmountToken reports whether a whitespace-delimited token is a statement
// amount with exactly two decimals in the given format. Sign markers and
// currency symbols are allowed around the number.
func IsAmountToken(token string, format NumberFormat) bool {
	body, _, _ := stripDecorations(token)
	if format == FormatEuropean {
		return europeanTokenRe.MatchString(body)
	}
	return usTokenRe.MatchString(body)
}

// ParseCents parses an amount written in the declared format into signed cents.
// "1,234.56" (FormatUS) and "1.234,56" (FormatEuropean) both yield 123456.
func ParseCents(raw string, format NumberFormat) (int64, error) {
	cents, _, err := ParseMarked(raw, format)
	return cents, err
}

// ParseMarked is ParseCents that also reports an explicit CR/DB marker.
// A CR marker forces a positive value, DB or a trailing minus a negative one.
func ParseMarked(raw string, format NumberFormat) (int64, SignMarker, error) {
	body, negative, marker := stripDecorations(raw)
	if body == "" {
		return 0, MarkerNone, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}

	var normalized string
	if format == FormatEuropean {
		if !europeanAmountRe.MatchString(body) {
			return 0, MarkerNone, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
		}
		normalized = strings.ReplaceAll(body, ".", "")
		normalized = strings.ReplaceAll(normalized, ",", ".")
	} else {
		if !usAmountRe.MatchString(body) {
			return 0, MarkerNone, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
		}
		normalized = strings.ReplaceAll(body, ",", "")
	}

	d, err := decimal.NewFromString(normalized)
	if err != nil {
		return 0, MarkerNone, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	cents := d.Shift(2).Round(0).IntPart()

	switch marker {
	case MarkerCredit:
		if cents < 0 {
			cents = -cents
		}
	case MarkerDebit:
		if cents > 0 {
			cents = -cents
		}
	default:
		if negative {
			cents = -cents
		}
	}
	return cents, marker, nil
}

// stripDecorations removes currency symbols, sign characters and CR/DB markers,
// returning the bare number.
func stripDecorations(raw string) (body string, negative bool, marker SignMarker) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	s = strings.ReplaceAll(s, " ", "")

	switch {
	case strings.HasSuffix(s, "CR"):
		marker = MarkerCredit
		s = strings.TrimSuffix(s, "CR")
	case strings.HasSuffix(s, "DB"):
		marker = MarkerDebit
		s = strings.TrimSuffix(s, "DB")
	}

	for _, sym := range currencySymbols {
		s = strings.ReplaceAll(s, sym, "")
	}

	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = strings.TrimSuffix(strings.TrimPrefix(s, "("), ")")
	}
	if strings.HasPrefix(s, "-") {
		negative = true
		s = strings.TrimPrefix(s, "-")
	} else if strings.HasPrefix(s, "+") {
		s = strings.TrimPrefix(s, "+")
	}
	if strings.HasSuffix(s, "-") {
		negative = true
		if marker == MarkerNone {
			marker = MarkerDebit
		}
		s = strings.TrimSuffix(s, "-")
	}
	return s, negative, marker
}
