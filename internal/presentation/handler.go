package presentation

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/RaikyD/cardpay-service/internal/application"
	"github.com/RaikyD/cardpay-service/internal/broker"
	"github.com/RaikyD/cardpay-service/internal/currency"
	"github.com/RaikyD/cardpay-service/internal/domain"
	"github.com/RaikyD/cardpay-service/internal/logger"
	"github.com/RaikyD/cardpay-service/internal/offline"
	"github.com/RaikyD/cardpay-service/internal/presentation/helpers"
	"github.com/RaikyD/cardpay-service/internal/provider"
)

// QueueAdmin is the part of the offline queue exposed over HTTP.
type QueueAdmin interface {
	List() ([]offline.Item, error)
	Drain(ctx context.Context) (offline.DrainReport, error)
}

type Deps struct {
	Orders        *application.Submitter
	Reconciler    *application.Reconciler
	Rates         *currency.Converter
	Queue         QueueAdmin
	WebhookSecret string
}

type PaymentsHandler struct {
	orders        *application.Submitter
	rec           *application.Reconciler
	rates         *currency.Converter
	queue         QueueAdmin
	webhookSecret string
}

func NewPaymentsHandler(d Deps) *PaymentsHandler {
	return &PaymentsHandler{
		orders:        d.Orders,
		rec:           d.Reconciler,
		rates:         d.Rates,
		queue:         d.Queue,
		webhookSecret: d.WebhookSecret,
	}
}

func (h *PaymentsHandler) Register(r chi.Router) {
	r.Get("/health", h.Health)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/orders", h.placeOrder(domain.KindNewCard))
		r.Post("/top-up-orders", h.placeOrder(domain.KindTopUp))
		r.Get("/orders/{id}", h.GetOrder)
		r.Post("/orders/{id}/checkout/callback", h.CheckoutCallback)
		r.Post("/orders/{id}/checkout/closed", h.CheckoutClosed)
		// Unsigned webhooks could settle any order, so without a secret the
		// route does not exist.
		if h.webhookSecret != "" {
			r.Post("/webhooks/collection", h.CollectionWebhook)
		} else {
			logger.Warn("WEBHOOK_SECRET not set, collection webhook disabled")
		}
		r.Get("/exchange-rates", h.ExchangeRates)
		r.Post("/exchange-rates/refresh", h.RefreshRates)
		r.Get("/queue", h.ListQueue)
		r.Post("/queue/drain", h.DrainQueue)
	})
}

type orderView struct {
	domain.Order
	AmountLocalFormatted string `json:"amount_local_formatted"`
	Message              string `json:"message"`
}

func (h *PaymentsHandler) view(o domain.Order) orderView {
	return orderView{
		Order:                o,
		AmountLocalFormatted: currency.Format(o.AmountLocal, o.CurrencyCode),
		Message:              application.UserMessage(o.Status),
	}
}

type placeResponse struct {
	Order  orderView        `json:"order"`
	Handle *provider.Handle `json:"handle,omitempty"`
	Queued bool             `json:"queued"`
}

func (h *PaymentsHandler) placeOrder(kind domain.OrderKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in application.OrderInput
		if err := helpers.DecodeJSON(r.Body, &in); err != nil {
			helpers.HttpError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
			return
		}
		in.Kind = kind

		res, err := h.orders.Place(r.Context(), in)
		if err != nil {
			id := ""
			if res.Order.ID != uuid.Nil {
				id = res.Order.ID.String()
			}
			writeError(w, err, id)
			return
		}

		if res.Queued {
			helpers.WriteJSON(w, http.StatusAccepted, placeResponse{Order: h.view(res.Order), Queued: true})
			return
		}
		helpers.WriteJSON(w, http.StatusCreated, placeResponse{Order: h.view(res.Order), Handle: &res.Handle})
	}
}

func (h *PaymentsHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := helpers.UUIDParam(r, "id")
	if !ok {
		helpers.HttpError(w, http.StatusBadRequest, "invalid order id")
		return
	}
	o, err := h.orders.Order(r.Context(), id)
	if err != nil {
		writeError(w, err, "")
		return
	}
	helpers.WriteJSON(w, http.StatusOK, h.view(*o))
}

type checkoutCallback struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
}

func (h *PaymentsHandler) CheckoutCallback(w http.ResponseWriter, r *http.Request) {
	id, ok := helpers.UUIDParam(r, "id")
	if !ok {
		helpers.HttpError(w, http.StatusBadRequest, "invalid order id")
		return
	}
	var cb checkoutCallback
	if err := helpers.DecodeJSON(r.Body, &cb); err != nil {
		helpers.HttpError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	o, err := h.rec.CheckoutCompleted(r.Context(), id, cb.TransactionID, cb.Status)
	if err != nil {
		writeError(w, err, id.String())
		return
	}
	helpers.WriteJSON(w, http.StatusOK, h.view(o))
}

func (h *PaymentsHandler) CheckoutClosed(w http.ResponseWriter, r *http.Request) {
	id, ok := helpers.UUIDParam(r, "id")
	if !ok {
		helpers.HttpError(w, http.StatusBadRequest, "invalid order id")
		return
	}
	o, err := h.rec.CheckoutClosed(r.Context(), id)
	if err != nil {
		writeError(w, err, id.String())
		return
	}
	helpers.WriteJSON(w, http.StatusOK, h.view(o))
}

func (h *PaymentsHandler) CollectionWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := helpers.ReadBody(r)
	if err != nil {
		helpers.HttpError(w, http.StatusBadRequest, "cannot read body")
		return
	}
	if !broker.VerifySignature(body, r.Header.Get(broker.SignatureHeader), h.webhookSecret) {
		logger.Warn("webhook signature mismatch", "remote", r.RemoteAddr)
		helpers.HttpError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	var ev application.WebhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		helpers.HttpError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	o, changed, err := h.rec.HandleWebhook(r.Context(), ev)
	if err != nil {
		writeError(w, err, "")
		return
	}
	resp := map[string]any{"applied": changed}
	if o.ID != uuid.Nil {
		resp["order_id"] = o.ID
		resp["status"] = o.Status
	}
	helpers.WriteJSON(w, http.StatusOK, resp)
}

type rateView struct {
	Country      string          `json:"country"`
	CurrencyCode string          `json:"currency_code"`
	RateToUSD    decimal.Decimal `json:"rate_to_usd"`
	// OneUSD is the formatted local price of one US dollar.
	OneUSD string `json:"one_usd"`
}

type ratesResponse struct {
	FetchedAt *time.Time `json:"fetched_at,omitempty"`
	Rates     []rateView `json:"rates"`
}

func (h *PaymentsHandler) ratesView() ratesResponse {
	snap := h.rates.Snapshot()
	out := ratesResponse{Rates: make([]rateView, 0, len(snap.Rates))}
	if !snap.FetchedAt.IsZero() {
		t := snap.FetchedAt
		out.FetchedAt = &t
	}
	for country, rate := range snap.Rates {
		out.Rates = append(out.Rates, rateView{
			Country:      country,
			CurrencyCode: rate.CurrencyCode,
			RateToUSD:    rate.RateToUSD,
			OneUSD:       currency.Format(rate.RateToUSD, rate.CurrencyCode),
		})
	}
	sort.Slice(out.Rates, func(i, j int) bool { return out.Rates[i].Country < out.Rates[j].Country })
	return out
}

func (h *PaymentsHandler) ExchangeRates(w http.ResponseWriter, r *http.Request) {
	helpers.WriteJSON(w, http.StatusOK, h.ratesView())
}

func (h *PaymentsHandler) RefreshRates(w http.ResponseWriter, r *http.Request) {
	if err := h.rates.RefreshRates(r.Context()); err != nil {
		logger.Warn("manual rate refresh failed", "err", err)
		helpers.HttpError(w, http.StatusBadGateway, "rate refresh failed, cached table kept: "+err.Error())
		return
	}
	helpers.WriteJSON(w, http.StatusOK, h.ratesView())
}

func (h *PaymentsHandler) ListQueue(w http.ResponseWriter, r *http.Request) {
	if h.queue == nil {
		helpers.HttpError(w, http.StatusNotFound, "offline queue disabled")
		return
	}
	items, err := h.queue.List()
	if err != nil {
		helpers.HttpError(w, http.StatusInternalServerError, "failed to read queue")
		return
	}
	helpers.WriteJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

func (h *PaymentsHandler) DrainQueue(w http.ResponseWriter, r *http.Request) {
	if h.queue == nil {
		helpers.HttpError(w, http.StatusNotFound, "offline queue disabled")
		return
	}
	report, err := h.queue.Drain(r.Context())
	if err != nil {
		helpers.HttpError(w, http.StatusInternalServerError, "drain failed: "+err.Error())
		return
	}
	helpers.WriteJSON(w, http.StatusOK, report)
}

func (h *PaymentsHandler) Health(w http.ResponseWriter, r *http.Request) {
	helpers.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
