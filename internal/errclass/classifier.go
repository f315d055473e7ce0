// Package errclass turns raw failures into one of four user-facing
// categories plus a suggested next step. Everything here is pure.
package errclass

import (
	"errors"
	"net/http"
	"strings"
	"unicode"
)

type Type string

const (
	TypeNetwork    Type = "NETWORK"
	TypeValidation Type = "VALIDATION"
	TypePayment    Type = "PAYMENT"
	TypeServer     Type = "SERVER"
)

type Action string

const (
	ActionRetry        Action = "retry"
	ActionEdit         Action = "edit"
	ActionChangeMethod Action = "change_method"
)

// Failure is the raw input to Classify.
type Failure struct {
	Offline    bool
	StatusCode int
	// Rejected is set when the provider explicitly refused the transaction.
	Rejected bool
	Field    string
	Message  string
}

type Classification struct {
	Type       Type   `json:"type"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion"`
	Action     Action `json:"action"`
	Field      string `json:"field,omitempty"`
}

var fieldHints = []struct {
	field    string
	keywords []string
	hint     string
}{
	{"phone", []string{"phone", "msisdn", "telephone"}, "Enter a valid phone number for the selected country."},
	{"email", []string{"email", "e-mail"}, "Enter a valid email address, for example name@example.com."},
	{"name", []string{"name"}, "Enter the card holder's full name."},
	{"amount", []string{"amount"}, "Enter an amount greater than zero."},
	{"card_id", []string{"card_id", "cardid", "card id"}, "Select the card you want to top up."},
	{"country", []string{"country"}, "Select a supported country."},
	{"payment_method", []string{"payment_method", "paymentmethod", "payment method"}, "Select a payment method available in your country."},
}

var paymentWords = []string{"insufficient", "declined", "rejected", "denied", "payment failed", "not allowed", "limit exceeded", "cancelled", "canceled"}

var networkWords = []string{"network", "timeout", "timed out", "connection", "unreachable", "offline", "no such host"}

// Classify applies, in order: the offline flag, the status code and
// rejection flag, then message heuristics.
func Classify(f Failure) Classification {
	if f.Offline {
		return network()
	}

	field := f.Field
	if field == "" {
		field = fieldFromMessage(f.Message)
	}

	if f.StatusCode > 0 {
		switch {
		case f.StatusCode == http.StatusRequestTimeout:
			return network()
		case f.StatusCode == http.StatusPaymentRequired:
			return payment(field)
		case f.StatusCode >= 500:
			return server()
		case f.Rejected:
			return payment(field)
		case f.StatusCode == http.StatusBadRequest || f.StatusCode == http.StatusUnprocessableEntity:
			if containsAny(f.Message, paymentWords) {
				return payment(field)
			}
			return validation(field)
		case f.StatusCode >= 400:
			return server()
		}
	}

	if f.Rejected {
		return payment(field)
	}
	if field != "" {
		return validation(field)
	}
	if containsAny(f.Message, paymentWords) {
		return payment("")
	}
	if containsAny(f.Message, networkWords) {
		return network()
	}
	return server()
}

type fieldError interface {
	InvalidField() string
}

type statusError interface {
	HTTPStatus() int
}

type rejection interface {
	Rejected() bool
}

type networkError interface {
	NetworkFailure() bool
}

// FromError builds a Failure from err using the small interfaces above
// and classifies it.
func FromError(err error, offline bool) Classification {
	if err == nil {
		return Classification{}
	}
	f := Failure{Offline: offline, Message: err.Error()}

	var ne networkError
	if errors.As(err, &ne) && ne.NetworkFailure() {
		f.Offline = true
	}
	var fe fieldError
	if errors.As(err, &fe) {
		f.Field = fe.InvalidField()
		// Local validation never has a status code; force the field path.
		return Classify(f)
	}
	var se statusError
	if errors.As(err, &se) {
		f.StatusCode = se.HTTPStatus()
	}
	var re rejection
	if errors.As(err, &re) {
		f.Rejected = re.Rejected()
	}
	return Classify(f)
}

func network() Classification {
	return Classification{
		Type:       TypeNetwork,
		Message:    "You appear to be offline.",
		Suggestion: "Check your internet connection and try again.",
		Action:     ActionRetry,
	}
}

func validation(field string) Classification {
	c := Classification{
		Type:       TypeValidation,
		Message:    "Some of the information entered is missing or invalid.",
		Suggestion: "Check the form and correct the highlighted fields.",
		Action:     ActionEdit,
		Field:      field,
	}
	for _, h := range fieldHints {
		if h.field == field {
			c.Suggestion = h.hint
			break
		}
	}
	return c
}

func payment(field string) Classification {
	return Classification{
		Type:       TypePayment,
		Message:    "The payment provider declined this transaction.",
		Suggestion: "Try another payment method.",
		Action:     ActionChangeMethod,
		Field:      field,
	}
}

func server() Classification {
	return Classification{
		Type:       TypeServer,
		Message:    "Something went wrong on our side.",
		Suggestion: "Please try again in a moment.",
		Action:     ActionRetry,
	}
}

func fieldFromMessage(msg string) string {
	lower := strings.ToLower(msg)
	for _, h := range fieldHints {
		for _, kw := range h.keywords {
			if containsWord(lower, kw) {
				return h.field
			}
		}
	}
	return ""
}

// containsWord matches kw only as a whole word, so "name" does not fire
// on "hostname" or "username".
func containsWord(s, kw string) bool {
	for from := 0; from <= len(s)-len(kw); {
		i := strings.Index(s[from:], kw)
		if i < 0 {
			return false
		}
		start, end := from+i, from+i+len(kw)
		if (start == 0 || !wordByte(s[start-1])) && (end == len(s) || !wordByte(s[end])) {
			return true
		}
		from = start + 1
	}
	return false
}

func wordByte(b byte) bool {
	return b == '_' || b >= 0x80 || unicode.IsLetter(rune(b)) || unicode.IsDigit(rune(b))
}

func containsAny(msg string, words []string) bool {
	lower := strings.ToLower(msg)
	for _, w := range words {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}
