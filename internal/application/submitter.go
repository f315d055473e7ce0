package application

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/RaikyD/cardpay-service/internal/clock"
	"github.com/RaikyD/cardpay-service/internal/currency"
	"github.com/RaikyD/cardpay-service/internal/domain"
	"github.com/RaikyD/cardpay-service/internal/logger"
	"github.com/RaikyD/cardpay-service/internal/provider"
	"github.com/RaikyD/cardpay-service/internal/repository"
)

// OrderInput is the form state collected by the UI.
type OrderInput struct {
	Kind          domain.OrderKind     `json:"kind"`
	AmountUSD     decimal.Decimal      `json:"amount"`
	Country       string               `json:"country"`
	PaymentMethod domain.PaymentMethod `json:"payment_method,omitempty"`
	Name          string               `json:"name"`
	Email         string               `json:"email"`
	Phone         string               `json:"phone"`
	CardID        string               `json:"card_id,omitempty"`
}

type RateConverter interface {
	ToLocal(amountUSD decimal.Decimal, country string) (currency.Conversion, error)
}

// Dispatcher sends a built order onwards, possibly deferring it. The
// offline queue implements it.
type Dispatcher interface {
	Submit(ctx context.Context, o *domain.Order) (h provider.Handle, queued bool, err error)
}

type PlaceResult struct {
	Order  domain.Order    `json:"order"`
	Handle provider.Handle `json:"handle"`
	Queued bool            `json:"queued"`
}

type Submitter struct {
	repo       repository.OrderRepo
	adapters   *provider.Registry
	rates      RateConverter
	reconciler *Reconciler
	clock      clock.Clock
	dispatch   Dispatcher
}

func NewSubmitter(repo repository.OrderRepo, adapters *provider.Registry, rates RateConverter, rec *Reconciler, clk clock.Clock) *Submitter {
	return &Submitter{repo: repo, adapters: adapters, rates: rates, reconciler: rec, clock: clk}
}

// UseDispatcher routes Place through d instead of submitting directly.
func (s *Submitter) UseDispatcher(d Dispatcher) {
	s.dispatch = d
}

// Build validates the input and freezes the FX snapshot. It never touches
// the network.
func (s *Submitter) Build(in OrderInput) (*domain.Order, error) {
	if !in.Kind.Valid() {
		return nil, domain.NewValidationError("kind", "must be new_card or top_up")
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, domain.NewValidationError("name", "required")
	}
	email := strings.TrimSpace(in.Email)
	if !domain.ValidEmail(email) {
		return nil, domain.NewValidationError("email", "malformed address")
	}
	if !in.AmountUSD.IsPositive() {
		return nil, domain.NewValidationError("amount", "must be greater than zero")
	}
	if !in.AmountUSD.Equal(in.AmountUSD.Round(2)) {
		return nil, domain.NewValidationError("amount", "at most 2 decimal places")
	}
	if in.Kind == domain.KindTopUp && strings.TrimSpace(in.CardID) == "" {
		return nil, domain.NewValidationError("card_id", "required for top-up")
	}

	country, ok := domain.LookupCountry(in.Country)
	if !ok {
		return nil, &domain.ValidationError{Field: "country", Reason: "not supported", Err: domain.ErrUnsupportedCountry}
	}
	method, err := country.ResolveMethod(in.PaymentMethod)
	if err != nil {
		return nil, &domain.ValidationError{Field: "payment_method", Reason: fmt.Sprintf("%s is not available in %s", in.PaymentMethod, country.Name), Err: err}
	}
	phone, ok := country.Phone(in.Phone)
	if !ok {
		return nil, domain.NewValidationError("phone", "malformed number for "+country.Name)
	}

	conv, err := s.rates.ToLocal(in.AmountUSD, country.Code)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	return &domain.Order{
		ID:               uuid.New(),
		Kind:             in.Kind,
		CardID:           strings.TrimSpace(in.CardID),
		AmountBaseUSD:    in.AmountUSD,
		ExchangeRate:     conv.Rate,
		AmountLocal:      conv.AmountLocal,
		CurrencyCode:     conv.CurrencyCode,
		Country:          country.Code,
		PaymentMethod:    method,
		Customer:         domain.Customer{Name: name, Email: email, Phone: phone},
		Status:           domain.StatusCreated,
		CreatedAt:        now,
		LastTransitionAt: now,
	}, nil
}

// Submit sends o to its rail and hands it to the reconciler. Orders that
// already left CREATED are refused with ErrAlreadySubmitted so a replay can
// never charge twice.
func (s *Submitter) Submit(ctx context.Context, o *domain.Order) (provider.Handle, error) {
	adapter, err := s.adapters.For(o.PaymentMethod)
	if err != nil {
		return provider.Handle{}, err
	}

	stored, err := s.repo.GetOrderByID(ctx, o.ID)
	switch {
	case errors.Is(err, domain.ErrOrderNotFound):
		if err := s.repo.AddOrder(ctx, o); err != nil && !errors.Is(err, domain.ErrOrderAlreadyExists) {
			return provider.Handle{}, err
		}
		stored = o
	case err != nil:
		return provider.Handle{}, err
	}
	if stored.Status != domain.StatusCreated {
		return provider.Handle{}, fmt.Errorf("order %s is %s: %w", o.ID, stored.Status, domain.ErrAlreadySubmitted)
	}

	h, err := adapter.Submit(ctx, stored)

	// The provider has answered. Recording that answer must not depend on
	// the caller still waiting for it.
	bg := context.WithoutCancel(ctx)
	if err != nil {
		if provider.IsRejected(err) {
			if _, _, aerr := s.reconciler.Apply(bg, o.ID, domain.EventRejected, ""); aerr != nil {
				logger.Warn("mark rejected order failed", "order_id", o.ID, "err", aerr)
			}
		}
		logger.Warn("provider submission failed", "order_id", o.ID, "method", o.PaymentMethod, "err", err)
		return provider.Handle{}, err
	}

	if _, _, err := s.reconciler.Apply(bg, o.ID, domain.EventAccepted, h.Reference); err != nil {
		return h, err
	}
	cur, _, err := s.reconciler.Apply(bg, o.ID, domain.EventHandleIssued, "")
	if err != nil {
		return h, err
	}
	if err := s.reconciler.Track(cur, h); err != nil {
		return h, err
	}
	return h, nil
}

// Abandon fails an order whose queued submission was given up on, so the
// customer is told instead of waiting on CREATED. Orders that already left
// CREATED belong to the reconciler and are left alone.
func (s *Submitter) Abandon(ctx context.Context, o *domain.Order, cause error) error {
	if errors.Is(cause, domain.ErrAlreadySubmitted) {
		return nil
	}
	stored, err := s.repo.GetOrderByID(ctx, o.ID)
	if err != nil {
		return err
	}
	if stored.Status != domain.StatusCreated {
		return nil
	}
	cur, changed, err := s.reconciler.Apply(ctx, o.ID, domain.EventRejected, "")
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			return nil
		}
		return err
	}
	if changed {
		logger.Warn("queued order abandoned", "order_id", o.ID, "status", cur.Status, "cause", cause)
	}
	return nil
}

// Place builds, stores and submits an order. With a dispatcher installed
// the submission may be queued instead.
func (s *Submitter) Place(ctx context.Context, in OrderInput) (PlaceResult, error) {
	o, err := s.Build(in)
	if err != nil {
		return PlaceResult{}, err
	}
	if err := s.repo.AddOrder(ctx, o); err != nil {
		return PlaceResult{}, err
	}
	logger.Info("order created", "order_id", o.ID, "country", o.Country, "method", o.PaymentMethod, "amount_local", o.AmountLocal.String(), "currency", o.CurrencyCode)

	var (
		h      provider.Handle
		queued bool
	)
	if s.dispatch != nil {
		h, queued, err = s.dispatch.Submit(ctx, o)
	} else {
		h, err = s.Submit(ctx, o)
	}

	res := PlaceResult{Handle: h, Queued: queued}
	if cur, gerr := s.repo.GetOrderByID(ctx, o.ID); gerr == nil {
		res.Order = *cur
	} else {
		res.Order = *o
	}
	return res, err
}

func (s *Submitter) Order(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return s.repo.GetOrderByID(ctx, id)
}
