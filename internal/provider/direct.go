package provider

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/RaikyD/cardpay-service/internal/domain"
	"github.com/RaikyD/cardpay-service/internal/logger"
)

// TokenSource hands out broker access tokens.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Invalidate()
}

type directResponse struct {
	USSDCode   string `json:"ussd_code"`
	Operator   string `json:"operator"`
	Reference  string `json:"reference"`
	PaymentURL string `json:"payment_url"`
}

// DirectCollectionAdapter asks the provider to collect from the customer's
// mobile-money account. Requests are authenticated with a broker token.
type DirectCollectionAdapter struct {
	api    apiClient
	tokens TokenSource
}

func NewDirectCollectionAdapter(baseURL string, tokens TokenSource, client *http.Client) *DirectCollectionAdapter {
	return &DirectCollectionAdapter{api: newAPIClient(baseURL, client), tokens: tokens}
}

func (a *DirectCollectionAdapter) Method() domain.PaymentMethod {
	return domain.MethodDirectCollection
}

func (a *DirectCollectionAdapter) Submit(ctx context.Context, o *domain.Order) (Handle, error) {
	var resp directResponse
	err := a.authorized(ctx, func(h http.Header) error {
		h.Set("Idempotency-Key", o.ID.String())
		return a.api.doJSON(ctx, http.MethodPost, ordersPath(o), h, newOrderRequest(o), &resp)
	})
	if err != nil {
		return Handle{}, err
	}
	if resp.Reference == "" || (resp.USSDCode == "" && resp.PaymentURL == "") {
		return Handle{}, &Error{Kind: KindServer, Message: "collection response missing reference or payment instructions"}
	}

	return Handle{
		Method:     domain.MethodDirectCollection,
		Reference:  resp.Reference,
		DialCode:   resp.USSDCode,
		Operator:   resp.Operator,
		PaymentURL: resp.PaymentURL,
	}, nil
}

func (a *DirectCollectionAdapter) CheckStatus(ctx context.Context, reference string) (RemoteStatus, error) {
	var resp statusResponse
	err := a.authorized(ctx, func(h http.Header) error {
		return a.api.doJSON(ctx, http.MethodGet, "/payment-status/"+url.PathEscape(reference), h, nil, &resp)
	})
	if err != nil {
		return "", err
	}
	return ParseRemoteStatus(resp.Status)
}

// authorized runs call with a bearer token, retrying once with a fresh
// token if the provider answers 401.
func (a *DirectCollectionAdapter) authorized(ctx context.Context, call func(h http.Header) error) error {
	for attempt := 0; ; attempt++ {
		tok, err := a.tokens.Token(ctx)
		if err != nil {
			return tokenError(err)
		}
		h := http.Header{}
		h.Set("Authorization", "Bearer "+tok)

		err = call(h)
		var pe *Error
		if attempt == 0 && errors.As(err, &pe) && pe.Status == http.StatusUnauthorized {
			logger.Warn("provider rejected broker token, refreshing")
			a.tokens.Invalidate()
			continue
		}
		return err
	}
}

// tokenError keeps the provider error taxonomy for broker failures: an
// unreachable broker is a network problem, anything else is ours.
func tokenError(err error) error {
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	var se interface{ HTTPStatus() int }
	if errors.As(err, &se) {
		return &Error{Kind: KindServer, Status: se.HTTPStatus(), Message: "credential broker refused token request", Err: err}
	}
	var ue *url.Error
	if errors.As(err, &ue) {
		return &Error{Kind: KindNetwork, Message: "credential broker unreachable", Err: err}
	}
	return &Error{Kind: KindServer, Message: "credential broker", Err: err}
}
