package domain

import (
	"regexp"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// PhoneRule normalizes a raw phone number for one country and reports
// whether the result is acceptable.
type PhoneRule func(raw string) (string, bool)

// Country is one row of the closed set of supported countries.
type Country struct {
	Code          string
	Name          string
	CurrencyCode  string
	DefaultRate   decimal.Decimal
	Methods       []PaymentMethod
	DefaultMethod PaymentMethod
	Phone         PhoneRule
}

func (c Country) Allows(m PaymentMethod) bool {
	for _, allowed := range c.Methods {
		if allowed == m {
			return true
		}
	}
	return false
}

var redirectOnly = []PaymentMethod{MethodRedirectCheckout}

// Countries is keyed by ISO alpha-2 code. Cameroon is the only country
// where the customer may pick between both rails.
var Countries = map[string]Country{
	"CM": {
		Code:          "CM",
		Name:          "Cameroon",
		CurrencyCode:  "XAF",
		DefaultRate:   decimal.NewFromInt(620),
		Methods:       []PaymentMethod{MethodDirectCollection, MethodRedirectCheckout},
		DefaultMethod: MethodDirectCollection,
		Phone:         prefixedPhone("237", 9),
	},
	"NG": {Code: "NG", Name: "Nigeria", CurrencyCode: "NGN", DefaultRate: decimal.NewFromInt(1500), Methods: redirectOnly, DefaultMethod: MethodRedirectCheckout, Phone: plainPhone},
	"GH": {Code: "GH", Name: "Ghana", CurrencyCode: "GHS", DefaultRate: decimal.NewFromInt(15), Methods: redirectOnly, DefaultMethod: MethodRedirectCheckout, Phone: plainPhone},
	"KE": {Code: "KE", Name: "Kenya", CurrencyCode: "KES", DefaultRate: decimal.NewFromInt(130), Methods: redirectOnly, DefaultMethod: MethodRedirectCheckout, Phone: plainPhone},
	"CI": {Code: "CI", Name: "Côte d'Ivoire", CurrencyCode: "XOF", DefaultRate: decimal.NewFromInt(620), Methods: redirectOnly, DefaultMethod: MethodRedirectCheckout, Phone: plainPhone},
	"SN": {Code: "SN", Name: "Senegal", CurrencyCode: "XOF", DefaultRate: decimal.NewFromInt(620), Methods: redirectOnly, DefaultMethod: MethodRedirectCheckout, Phone: plainPhone},
	"UG": {Code: "UG", Name: "Uganda", CurrencyCode: "UGX", DefaultRate: decimal.NewFromInt(3700), Methods: redirectOnly, DefaultMethod: MethodRedirectCheckout, Phone: plainPhone},
	"TZ": {Code: "TZ", Name: "Tanzania", CurrencyCode: "TZS", DefaultRate: decimal.NewFromInt(2600), Methods: redirectOnly, DefaultMethod: MethodRedirectCheckout, Phone: plainPhone},
}

func LookupCountry(code string) (Country, bool) {
	c, ok := Countries[strings.ToUpper(strings.TrimSpace(code))]
	return c, ok
}

// CountryForCurrency returns the first supported country (by code) using
// the given currency.
func CountryForCurrency(currency string) (Country, bool) {
	currency = strings.ToUpper(currency)
	codes := CountryCodes()
	for _, code := range codes {
		if c := Countries[code]; c.CurrencyCode == currency {
			return c, true
		}
	}
	return Country{}, false
}

func CountryCodes() []string {
	codes := make([]string, 0, len(Countries))
	for code := range Countries {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// ResolveMethod picks the rail for a country. An empty requested method
// means the country default.
func (c Country) ResolveMethod(requested PaymentMethod) (PaymentMethod, error) {
	if requested == "" {
		return c.DefaultMethod, nil
	}
	if !c.Allows(requested) {
		return "", ErrMethodNotAllowed
	}
	return requested, nil
}

func digitsOnly(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// prefixedPhone accepts either the local subscriber number or the full
// country-prefixed form and always returns the prefixed form.
func prefixedPhone(prefix string, localDigits int) PhoneRule {
	return func(raw string) (string, bool) {
		d := digitsOnly(raw)
		if len(d) == localDigits {
			d = prefix + d
		}
		if len(d) != len(prefix)+localDigits || !strings.HasPrefix(d, prefix) {
			return "", false
		}
		return d, true
	}
}

func plainPhone(raw string) (string, bool) {
	d := digitsOnly(raw)
	if len(d) < 6 || len(d) > 15 {
		return "", false
	}
	return d, true
}

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

func ValidEmail(email string) bool {
	return emailPattern.MatchString(strings.TrimSpace(email))
}
