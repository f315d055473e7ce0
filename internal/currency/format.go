package currency

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/RaikyD/cardpay-service/internal/domain"
)

type style struct {
	symbol  string
	suffix  bool
	spaced  bool
	group   string
	decimal string
	digits  int32
}

// Franc zones use French conventions; the rest follow English ones.
var styles = map[string]style{
	"XAF": {symbol: "FCFA", suffix: true, spaced: true, group: " ", decimal: ",", digits: 0},
	"XOF": {symbol: "CFA", suffix: true, spaced: true, group: " ", decimal: ",", digits: 0},
	"NGN": {symbol: "₦", group: ",", decimal: ".", digits: 2},
	"GHS": {symbol: "GH₵", group: ",", decimal: ".", digits: 2},
	"KES": {symbol: "KSh", spaced: true, group: ",", decimal: ".", digits: 2},
	"UGX": {symbol: "USh", spaced: true, group: ",", decimal: ".", digits: 0},
	"TZS": {symbol: "TSh", spaced: true, group: ",", decimal: ".", digits: 2},
	"USD": {symbol: "$", group: ",", decimal: ".", digits: 2},
}

// ResolveCode maps a two-letter country or a three-letter currency code
// to a currency code. Unknown countries come back unchanged.
func ResolveCode(countryOrCode string) string {
	code := strings.ToUpper(strings.TrimSpace(countryOrCode))
	if len(code) == 2 {
		if c, ok := domain.Countries[code]; ok {
			return c.CurrencyCode
		}
	}
	return code
}

// Format renders amount in the conventions of the resolved currency.
// Unknown currencies fall back to "<CODE> <amount with 2 decimals>".
func Format(amount decimal.Decimal, countryOrCode string) string {
	code := ResolveCode(countryOrCode)
	st, ok := styles[code]
	if !ok {
		return fmt.Sprintf("%s %s", code, amount.StringFixed(2))
	}

	sign := ""
	if amount.IsNegative() {
		sign = "-"
		amount = amount.Neg()
	}
	fixed := amount.StringFixed(st.digits)
	intPart, frac, _ := strings.Cut(fixed, ".")
	number := groupDigits(intPart, st.group)
	if frac != "" {
		number += st.decimal + frac
	}

	sep := ""
	if st.spaced {
		sep = " "
	}
	if st.suffix {
		return sign + number + sep + st.symbol
	}
	return sign + st.symbol + sep + number
}

func groupDigits(digits, sep string) string {
	if len(digits) <= 3 {
		return digits
	}
	var b strings.Builder
	lead := len(digits) % 3
	if lead > 0 {
		b.WriteString(digits[:lead])
	}
	for i := lead; i < len(digits); i += 3 {
		if b.Len() > 0 {
			b.WriteString(sep)
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}
