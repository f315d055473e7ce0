package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/RaikyD/cardpay-service/internal/domain"
)

type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(baseURL string, client *http.Client) apiClient {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return apiClient{baseURL: strings.TrimRight(baseURL, "/"), http: client}
}

type errorBody struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

// doJSON sends in (when non-nil) and decodes a 2xx body into out. Every
// failure comes back as *Error.
func (c apiClient) doJSON(ctx context.Context, method, path string, header http.Header, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return &Error{Kind: KindServer, Message: "encode request", Err: err}
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return &Error{Kind: KindServer, Message: "build request", Err: err}
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &Error{Kind: KindNetwork, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &Error{Kind: KindNetwork, Status: resp.StatusCode, Err: err}
	}

	switch {
	case resp.StatusCode >= 500:
		return &Error{Kind: KindServer, Status: resp.StatusCode, Message: errorMessage(raw)}
	case resp.StatusCode >= 400:
		return &Error{Kind: KindRejected, Status: resp.StatusCode, Message: errorMessage(raw)}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return &Error{Kind: KindServer, Status: resp.StatusCode, Message: "unexpected status"}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &Error{Kind: KindServer, Status: resp.StatusCode, Message: "unexpected response shape", Err: err}
	}
	return nil
}

func errorMessage(raw []byte) string {
	var eb errorBody
	if err := json.Unmarshal(raw, &eb); err == nil {
		if eb.Message != "" {
			return eb.Message
		}
		if eb.Error != "" {
			return eb.Error
		}
	}
	s := strings.TrimSpace(string(raw))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

// orderRequest is the body both rails accept on /orders and /top-up-orders.
type orderRequest struct {
	Amount        json.Number          `json:"amount"`
	Currency      string               `json:"currency"`
	PaymentMethod domain.PaymentMethod `json:"paymentMethod"`
	Country       string               `json:"country"`
	Name          string               `json:"name"`
	Email         string               `json:"email"`
	Phone         string               `json:"phone"`
	CardID        string               `json:"cardId,omitempty"`
	Description   string               `json:"description,omitempty"`
	OrderID       string               `json:"orderId"`
}

func newOrderRequest(o *domain.Order) orderRequest {
	return orderRequest{
		Amount:        json.Number(o.AmountLocal.String()),
		Currency:      o.CurrencyCode,
		PaymentMethod: o.PaymentMethod,
		Country:       o.Country,
		Name:          o.Customer.Name,
		Email:         o.Customer.Email,
		Phone:         o.Customer.Phone,
		CardID:        o.CardID,
		Description:   describe(o),
		OrderID:       o.ID.String(),
	}
}

func describe(o *domain.Order) string {
	if o.Kind == domain.KindTopUp {
		return fmt.Sprintf("Card top-up %s USD", o.AmountBaseUSD.StringFixed(2))
	}
	return fmt.Sprintf("Virtual card purchase %s USD", o.AmountBaseUSD.StringFixed(2))
}

func ordersPath(o *domain.Order) string {
	if o.Kind == domain.KindTopUp {
		return "/top-up-orders"
	}
	return "/orders"
}

type statusResponse struct {
	Status string `json:"status"`
}
