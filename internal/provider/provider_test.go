package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RaikyD/cardpay-service/internal/domain"
	"github.com/RaikyD/cardpay-service/internal/errclass"
)

type fakeTokens struct {
	mu          sync.Mutex
	tokens      []string
	invalidated int
	err         error
}

func (f *fakeTokens) Token(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	return f.tokens[f.invalidated], nil
}

func (f *fakeTokens) Invalidate() {
	f.mu.Lock()
	f.invalidated++
	f.mu.Unlock()
}

func testOrder(kind domain.OrderKind, method domain.PaymentMethod) *domain.Order {
	return &domain.Order{
		ID:            uuid.MustParse("8b5c2f7e-0d1a-4a57-9a0e-2f0c6a3f9a11"),
		Kind:          kind,
		CardID:        "card-42",
		AmountBaseUSD: decimal.NewFromInt(10),
		ExchangeRate:  decimal.NewFromInt(620),
		AmountLocal:   decimal.NewFromInt(6200),
		CurrencyCode:  "XAF",
		Country:       "CM",
		PaymentMethod: method,
		Customer:      domain.Customer{Name: "Awa N.", Email: "awa@example.com", Phone: "237670000000"},
		Status:        domain.StatusCreated,
	}
}

func TestDirectSubmit(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/orders", r.URL.Path)
		assert.Equal(t, "Bearer tok-a", r.Header.Get("Authorization"))
		assert.Equal(t, "8b5c2f7e-0d1a-4a57-9a0e-2f0c6a3f9a11", r.Header.Get("Idempotency-Key"))

		var body map[string]interface{}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, float64(6200), body["amount"])
		assert.Equal(t, "XAF", body["currency"])
		assert.Equal(t, "direct_collection", body["paymentMethod"])
		assert.Equal(t, "237670000000", body["phone"])
		_, hasCard := body["cardId"]
		assert.True(t, hasCard)

		_, _ = w.Write([]byte(`{"ussd_code":"*126*1*6200#","operator":"MTN","reference":"col-1"}`))
	}))
	defer srv.Close()

	a := NewDirectCollectionAdapter(srv.URL, &fakeTokens{tokens: []string{"tok-a"}}, nil)
	h, err := a.Submit(context.Background(), testOrder(domain.KindNewCard, domain.MethodDirectCollection))
	require.NoError(t, err)
	assert.Equal(t, "col-1", h.Reference)
	assert.Equal(t, "*126*1*6200#", h.DialCode, "dial codes are passed through verbatim")
	assert.Equal(t, "MTN", h.Operator)
	assert.Equal(t, domain.MethodDirectCollection, h.Method)
}

func TestDirectSubmitTopUpPath(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/top-up-orders", r.URL.Path)
		_, _ = w.Write([]byte(`{"payment_url":"https://pay.example/x","reference":"col-2"}`))
	}))
	defer srv.Close()

	a := NewDirectCollectionAdapter(srv.URL, &fakeTokens{tokens: []string{"t"}}, nil)
	h, err := a.Submit(context.Background(), testOrder(domain.KindTopUp, domain.MethodDirectCollection))
	require.NoError(t, err)
	assert.Equal(t, "https://pay.example/x", h.PaymentURL)
}

func TestDirectRetriesOnceWithFreshToken(t *testing.T) {
	t.Parallel()

	var (
		mu   sync.Mutex
		seen []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.Header.Get("Authorization"))
		mu.Unlock()
		if r.Header.Get("Authorization") == "Bearer stale" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"status":"SUCCESSFUL"}`))
	}))
	defer srv.Close()

	tokens := &fakeTokens{tokens: []string{"stale", "fresh"}}
	a := NewDirectCollectionAdapter(srv.URL, tokens, nil)
	st, err := a.CheckStatus(context.Background(), "col-1")
	require.NoError(t, err)
	assert.Equal(t, RemoteSuccessful, st)
	mu.Lock()
	assert.Equal(t, []string{"Bearer stale", "Bearer fresh"}, seen)
	mu.Unlock()
	assert.Equal(t, 1, tokens.invalidated)
}

func TestDirectErrorKinds(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		status int
		body   string
		kind   Kind
		class  errclass.Type
	}{
		{"rejected", http.StatusBadRequest, `{"message":"insufficient funds"}`, KindRejected, errclass.TypePayment},
		{"server", http.StatusBadGateway, `upstream`, KindServer, errclass.TypeServer},
		{"bad shape", http.StatusOK, `not json`, KindServer, errclass.TypeServer},
		{"missing reference", http.StatusOK, `{"ussd_code":"*1#"}`, KindServer, errclass.TypeServer},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			a := NewDirectCollectionAdapter(srv.URL, &fakeTokens{tokens: []string{"t"}}, nil)
			_, err := a.Submit(context.Background(), testOrder(domain.KindNewCard, domain.MethodDirectCollection))
			var pe *Error
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tc.kind, pe.Kind)
			assert.Equal(t, tc.class, errclass.FromError(err, false).Type)
		})
	}
}

func TestNetworkFailureIsClassifiedAsNetwork(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	a := NewRedirectCheckoutAdapter(url, nil)
	_, err := a.Submit(context.Background(), testOrder(domain.KindNewCard, domain.MethodRedirectCheckout))
	require.Error(t, err)
	assert.True(t, IsNetwork(err))
	assert.Equal(t, errclass.TypeNetwork, errclass.FromError(err, false).Type)
}

func TestBrokerFailureKeepsTaxonomy(t *testing.T) {
	t.Parallel()

	a := NewDirectCollectionAdapter("http://unused", &fakeTokens{err: errors.New("boom")}, nil)
	_, err := a.Submit(context.Background(), testOrder(domain.KindNewCard, domain.MethodDirectCollection))
	var pe *Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, KindServer, pe.Kind)
}

func TestRedirectSubmitAndVerify(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/orders":
			assert.Empty(t, r.Header.Get("Authorization"))
			_, _ = w.Write([]byte(`{"public_key":"pk_test","tx_ref":"tx-9","order_id":"p-1"}`))
		case "/verify-payment":
			var body verifyRequest
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "tx-9", body.TxRef)
			_, _ = w.Write([]byte(`{"status":"pending"}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	a := NewRedirectCheckoutAdapter(srv.URL, nil)
	h, err := a.Submit(context.Background(), testOrder(domain.KindNewCard, domain.MethodRedirectCheckout))
	require.NoError(t, err)
	assert.Equal(t, Handle{Method: domain.MethodRedirectCheckout, Reference: "tx-9", PublicKey: "pk_test", ProviderOrderID: "p-1"}, h)

	st, err := a.CheckStatus(context.Background(), "tx-9")
	require.NoError(t, err)
	assert.Equal(t, RemotePending, st)
}

func TestParseRemoteStatus(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]RemoteStatus{
		"PENDING": RemotePending, "successful": RemoteSuccessful, "Success": RemoteSuccessful,
		"FAILED": RemoteFailed, "cancelled": RemoteFailed,
	} {
		got, err := ParseRemoteStatus(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseRemoteStatus("weird")
	assert.Error(t, err)
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	r := NewRegistry(NewRedirectCheckoutAdapter("http://x", nil))
	a, err := r.For(domain.MethodRedirectCheckout)
	require.NoError(t, err)
	assert.Equal(t, domain.MethodRedirectCheckout, a.Method())

	_, err = r.For(domain.MethodDirectCollection)
	assert.ErrorIs(t, err, domain.ErrNoAdapter)
}

func TestCheckoutSessionResolvesOnce(t *testing.T) {
	t.Parallel()

	s := NewCheckoutSession()
	_, ok := s.Result()
	assert.False(t, ok)

	assert.False(t, s.Complete("tx", RemotePending), "pending does not resolve")
	assert.True(t, s.Complete("tx-1", RemoteSuccessful))
	assert.False(t, s.Close(), "close after success is ignored")

	<-s.Done()
	out, ok := s.Result()
	require.True(t, ok)
	assert.Equal(t, CheckoutOutcome{Status: RemoteSuccessful, TransactionID: "tx-1"}, out)
}

func TestCheckoutSessionClosedFirstFails(t *testing.T) {
	t.Parallel()

	s := NewCheckoutSession()
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); s.Close() }()
	go func() { defer wg.Done(); s.Close() }()
	wg.Wait()

	assert.False(t, s.Complete("tx-1", RemoteSuccessful))
	out, ok := s.Result()
	require.True(t, ok)
	assert.Equal(t, RemoteFailed, out.Status)
	assert.True(t, out.Closed)
}
