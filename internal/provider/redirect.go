package provider

import (
	"context"
	"net/http"

	"github.com/RaikyD/cardpay-service/internal/domain"
)

type redirectResponse struct {
	PublicKey string `json:"public_key"`
	TxRef     string `json:"tx_ref"`
	OrderID   string `json:"order_id"`
}

type verifyRequest struct {
	TxRef string `json:"tx_ref"`
}

// RedirectCheckoutAdapter registers the order with the hosted checkout and
// returns what the client SDK needs to open it. Completion arrives later
// through the checkout callbacks and the verify endpoint.
type RedirectCheckoutAdapter struct {
	api apiClient
}

func NewRedirectCheckoutAdapter(baseURL string, client *http.Client) *RedirectCheckoutAdapter {
	return &RedirectCheckoutAdapter{api: newAPIClient(baseURL, client)}
}

func (a *RedirectCheckoutAdapter) Method() domain.PaymentMethod {
	return domain.MethodRedirectCheckout
}

func (a *RedirectCheckoutAdapter) Submit(ctx context.Context, o *domain.Order) (Handle, error) {
	h := http.Header{}
	h.Set("Idempotency-Key", o.ID.String())

	var resp redirectResponse
	if err := a.api.doJSON(ctx, http.MethodPost, ordersPath(o), h, newOrderRequest(o), &resp); err != nil {
		return Handle{}, err
	}
	if resp.TxRef == "" || resp.PublicKey == "" {
		return Handle{}, &Error{Kind: KindServer, Message: "checkout response missing tx_ref or public_key"}
	}

	return Handle{
		Method:          domain.MethodRedirectCheckout,
		Reference:       resp.TxRef,
		PublicKey:       resp.PublicKey,
		ProviderOrderID: resp.OrderID,
	}, nil
}

func (a *RedirectCheckoutAdapter) CheckStatus(ctx context.Context, reference string) (RemoteStatus, error) {
	var resp statusResponse
	if err := a.api.doJSON(ctx, http.MethodPost, "/verify-payment", nil, verifyRequest{TxRef: reference}, &resp); err != nil {
		return "", err
	}
	return ParseRemoteStatus(resp.Status)
}
