package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNext(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		from    Status
		event   Event
		want    Status
		changed bool
		err     error
	}{
		{"accepted", StatusCreated, EventAccepted, StatusAwaitingProvider, true, nil},
		{"handle issued", StatusAwaitingProvider, EventHandleIssued, StatusPendingConfirmation, true, nil},
		{"success", StatusPendingConfirmation, EventSucceeded, StatusSuccessful, true, nil},
		{"failure", StatusPendingConfirmation, EventFailed, StatusFailed, true, nil},
		{"timeout", StatusPendingConfirmation, EventAttemptsExhausted, StatusTimedOut, true, nil},
		{"rejected on submit", StatusCreated, EventRejected, StatusFailed, true, nil},
		{"rejected while awaiting", StatusAwaitingProvider, EventRejected, StatusFailed, true, nil},
		{"success before handle", StatusCreated, EventSucceeded, StatusCreated, false, ErrInvalidTransition},
		{"terminal absorbs success", StatusSuccessful, EventSucceeded, StatusSuccessful, false, nil},
		{"terminal absorbs failure", StatusSuccessful, EventFailed, StatusSuccessful, false, nil},
		{"timed out absorbs success", StatusTimedOut, EventSucceeded, StatusTimedOut, false, nil},
		{"failed absorbs exhaustion", StatusFailed, EventAttemptsExhausted, StatusFailed, false, nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, changed, err := Next(tc.from, tc.event)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.changed, changed)
		})
	}
}

func TestCountryPhoneRules(t *testing.T) {
	t.Parallel()

	cm, ok := LookupCountry("cm")
	require.True(t, ok)

	phone, ok := cm.Phone("670000000")
	require.True(t, ok)
	assert.Equal(t, "237670000000", phone)

	phone, ok = cm.Phone("+237 670 000 000")
	require.True(t, ok)
	assert.Equal(t, "237670000000", phone)

	_, ok = cm.Phone("1234")
	assert.False(t, ok)

	_, ok = cm.Phone("244670000000")
	assert.False(t, ok)

	ng, _ := LookupCountry("NG")
	phone, ok = ng.Phone("0803-123-4567")
	require.True(t, ok)
	assert.Equal(t, "08031234567", phone)
}

func TestCountryMethods(t *testing.T) {
	t.Parallel()

	cm := Countries["CM"]
	m, err := cm.ResolveMethod("")
	require.NoError(t, err)
	assert.Equal(t, MethodDirectCollection, m)

	m, err = cm.ResolveMethod(MethodRedirectCheckout)
	require.NoError(t, err)
	assert.Equal(t, MethodRedirectCheckout, m)

	for _, code := range CountryCodes() {
		if code == "CM" {
			continue
		}
		c := Countries[code]
		m, err := c.ResolveMethod("")
		require.NoError(t, err, code)
		assert.Equal(t, MethodRedirectCheckout, m, code)

		_, err = c.ResolveMethod(MethodDirectCollection)
		assert.ErrorIs(t, err, ErrMethodNotAllowed, code)
	}
}

func TestLocalAmount(t *testing.T) {
	t.Parallel()

	got := LocalAmount(decimal.NewFromInt(10), decimal.NewFromInt(620))
	assert.True(t, got.Equal(decimal.NewFromInt(6200)), got.String())

	got = LocalAmount(decimal.RequireFromString("7.49"), decimal.RequireFromString("130.2"))
	assert.Equal(t, "975", got.String())
}

func TestCountryForCurrency(t *testing.T) {
	t.Parallel()

	c, ok := CountryForCurrency("xof")
	require.True(t, ok)
	assert.Equal(t, "CI", c.Code)

	_, ok = CountryForCurrency("EUR")
	assert.False(t, ok)
}

func TestValidEmail(t *testing.T) {
	t.Parallel()

	assert.True(t, ValidEmail("ada@example.com"))
	assert.False(t, ValidEmail("ada@example"))
	assert.False(t, ValidEmail("ada example.com"))
	assert.False(t, ValidEmail(""))
}
