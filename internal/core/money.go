// Package core provides money parsing and handling utilities.
//
// Amounts are decimals tagged with a currency code. Amounts in different
// currencies are never added together; see Totals.
package core

import (
	"sort"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// Money is an amount in a single currency.
type Money struct {
	Amount   decimal.Decimal
	Currency string
}

// currencyAliases maps symbols and words users type to currency codes.
var currencyAliases = map[string]string{
	"€":       "EUR",
	"eur":     "EUR",
	"euro":    "EUR",
	"euros":   "EUR",
	"$":       "USD",
	"usd":     "USD",
	"dollar":  "USD",
	"dollars": "USD",
	"£":       "GBP",
	"gbp":     "GBP",
	"pound":   "GBP",
	"pounds":  "GBP",
	"¥":       "JPY",
	"jpy":     "JPY",
	"yen":     "JPY",
	"cny":     "CNY",
	"rmb":     "CNY",
	"yuan":    "CNY",
	"元":       "CNY",
	"chf":     "CHF",
	"fr":      "CHF",
	"cad":     "CAD",
	"aud":     "AUD",
	"sek":     "SEK",
	"nok":     "NOK",
	"dkk":     "DKK",
	"pln":     "PLN",
	"czk":     "CZK",
	"huf":     "HUF",
	"inr":     "INR",
	"₹":       "INR",
	"krw":     "KRW",
	"₩":       "KRW",
	"hkd":     "HKD",
	"sgd":     "SGD",
	"twd":     "TWD",
	"thb":     "THB",
	"brl":     "BRL",
	"mxn":     "MXN",
}

// NormalizeCurrency maps a currency token to its code. The second return is
// false when the token is not a known currency.
func NormalizeCurrency(token string) (string, bool) {
	t := strings.ToLower(strings.TrimSpace(token))
	if t == "" {
		return "", false
	}
	if code, ok := currencyAliases[t]; ok {
		return code, true
	}
	return "", false
}

// ParseAmount parses a positive decimal with either dot or comma as the
// decimal separator. Thousands separators are not accepted.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return decimal.Zero, ErrInvalidAmount
	}
	if strings.Count(s, ".") > 1 {
		return decimal.Zero, ErrInvalidAmount
	}
	for _, r := range s {
		if r != '.' && !unicode.IsDigit(r) {
			return decimal.Zero, ErrInvalidAmount
		}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	if !d.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	return d.Round(2), nil
}

// ParseMoney parses an amount and a currency token, falling back to
// defaultCurrency when the token is empty.
func ParseMoney(amount, currency, defaultCurrency string) (Money, error) {
	d, err := ParseAmount(amount)
	if err != nil {
		return Money{}, err
	}
	code := defaultCurrency
	if strings.TrimSpace(currency) != "" {
		c, ok := NormalizeCurrency(currency)
		if !ok {
			c = strings.ToUpper(strings.TrimSpace(currency))
		}
		code = c
	}
	return Money{Amount: d, Currency: code}, nil
}

func (m Money) Validate() error {
	if !m.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	if strings.TrimSpace(m.Currency) == "" {
		return ErrInvalidAmount
	}
	return nil
}

// String renders the money as "15.00 EUR".
func (m Money) String() string {
	return m.Amount.StringFixed(2) + " " + m.Currency
}

// Totals accumulates amounts per currency.
type Totals map[string]decimal.Decimal

// Add adds m to the subtotal of its currency.
func (t Totals) Add(m Money) {
	t[m.Currency] = t[m.Currency].Add(m.Amount)
}

// Currencies returns the currency codes in sorted order.
func (t Totals) Currencies() []string {
	out := make([]string, 0, len(t))
	for c := range t {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Equal compares two totals currency by currency.
func (t Totals) Equal(o Totals) bool {
	if len(t) != len(o) {
		return false
	}
	for c, v := range t {
		ov, ok := o[c]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// String renders "20.00 EUR + 5.00 USD".
func (t Totals) String() string {
	parts := make([]string, 0, len(t))
	for _, c := range t.Currencies() {
		parts = append(parts, t[c].StringFixed(2)+" "+c)
	}
	return strings.Join(parts, " + ")
}
