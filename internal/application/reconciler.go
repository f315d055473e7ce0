package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/RaikyD/cardpay-service/internal/clock"
	"github.com/RaikyD/cardpay-service/internal/domain"
	"github.com/RaikyD/cardpay-service/internal/logger"
	"github.com/RaikyD/cardpay-service/internal/provider"
	"github.com/RaikyD/cardpay-service/internal/repository"
)

// Notifier hears about every status change that was actually applied.
type Notifier interface {
	OrderStatusChanged(ctx context.Context, o domain.Order) error
}

const (
	WebhookCollectionSuccessful = "collection.successful"
	WebhookCollectionFailed     = "collection.failed"
)

type WebhookEvent struct {
	Event string      `json:"event"`
	Data  WebhookData `json:"data"`
}

type WebhookData struct {
	Reference string `json:"reference"`
	TxRef     string `json:"tx_ref,omitempty"`
	Status    string `json:"status,omitempty"`
}

func (d WebhookData) ref() string {
	if d.Reference != "" {
		return d.Reference
	}
	return d.TxRef
}

type ReconcilerOptions struct {
	PollInterval time.Duration
	MaxAttempts  int
}

func DefaultReconcilerOptions() ReconcilerOptions {
	return ReconcilerOptions{PollInterval: 5 * time.Second, MaxAttempts: 20}
}

// maxCASRetries bounds Apply's reload loop. Status only moves forward, so a
// handful of lost races always ends in a terminal state.
const maxCASRetries = 5

// Reconciler owns an order from submission to a terminal status. Poll
// results, webhooks and checkout callbacks all go through Apply, which
// changes status with a compare-and-set so the first resolving signal wins.
type Reconciler struct {
	repo     repository.OrderRepo
	adapters *provider.Registry
	notifier Notifier
	clock    clock.Clock
	opts     ReconcilerOptions

	base context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	mu       sync.Mutex
	polls    map[uuid.UUID]*pollLoop
	sessions map[uuid.UUID]*provider.CheckoutSession
}

func NewReconciler(repo repository.OrderRepo, adapters *provider.Registry, notifier Notifier, clk clock.Clock, opts ReconcilerOptions) *Reconciler {
	def := DefaultReconcilerOptions()
	if opts.PollInterval <= 0 {
		opts.PollInterval = def.PollInterval
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = def.MaxAttempts
	}
	base, stop := context.WithCancel(context.Background())
	return &Reconciler{
		repo:     repo,
		adapters: adapters,
		notifier: notifier,
		clock:    clk,
		opts:     opts,
		base:     base,
		stop:     stop,
		polls:    make(map[uuid.UUID]*pollLoop),
		sessions: make(map[uuid.UUID]*provider.CheckoutSession),
	}
}

// Apply feeds ev to the order's state machine. changed is false when the
// order was already terminal.
func (r *Reconciler) Apply(ctx context.Context, id uuid.UUID, ev domain.Event, reference string) (domain.Order, bool, error) {
	for i := 0; i < maxCASRetries; i++ {
		o, err := r.repo.GetOrderByID(ctx, id)
		if err != nil {
			return domain.Order{}, false, err
		}

		to, ok, err := domain.Next(o.Status, ev)
		if err != nil {
			return *o, false, fmt.Errorf("order %s: %s on %s: %w", id, ev, o.Status, err)
		}
		if !ok {
			logger.Debug("event ignored, order already terminal", "order_id", id, "event", ev, "status", o.Status)
			return *o, false, nil
		}

		now := r.clock.Now()
		swapped, err := r.repo.CompareAndSetStatus(ctx, id, o.Status, to, reference, now)
		if err != nil {
			return *o, false, err
		}
		if !swapped {
			continue
		}

		from := o.Status
		o.Status = to
		o.LastTransitionAt = now
		if o.ProviderReference == "" {
			o.ProviderReference = reference
		}
		logger.Info("order status changed", "order_id", id, "from", from, "to", to, "event", ev)
		r.afterTransition(ctx, *o)
		return *o, true, nil
	}
	return domain.Order{}, false, fmt.Errorf("order %s: status kept changing under %s", id, ev)
}

func (r *Reconciler) afterTransition(ctx context.Context, o domain.Order) {
	if o.Terminal() {
		r.release(o.ID)
	}
	if r.notifier == nil {
		return
	}
	// The caller may be the poll loop whose context release just cancelled.
	if err := r.notifier.OrderStatusChanged(context.WithoutCancel(ctx), o); err != nil {
		logger.Warn("status notification failed", "order_id", o.ID, "err", err)
	}
}

func (r *Reconciler) release(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.polls[id]; ok {
		p.cancel()
		delete(r.polls, id)
	}
	delete(r.sessions, id)
}

// Track starts the poll loop for an order that is waiting on the customer.
// Loops run on the reconciler's own context and stop when the order turns
// terminal or Shutdown is called.
func (r *Reconciler) Track(o domain.Order, h provider.Handle) error {
	if o.Terminal() {
		return nil
	}
	ref := h.Reference
	if ref == "" {
		ref = o.ProviderReference
	}
	if ref == "" {
		return fmt.Errorf("order %s: cannot track without provider reference", o.ID)
	}
	adapter, err := r.adapters.For(o.PaymentMethod)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.base.Err() != nil {
		return r.base.Err()
	}
	if _, ok := r.polls[o.ID]; ok {
		return nil
	}
	ctx, cancel := context.WithCancel(r.base)
	// The ticker starts here so the first interval counts from Track.
	loop := &pollLoop{cancel: cancel, ticker: r.clock.NewTicker(r.opts.PollInterval)}
	r.polls[o.ID] = loop
	if o.PaymentMethod == domain.MethodRedirectCheckout {
		if _, ok := r.sessions[o.ID]; !ok {
			r.sessions[o.ID] = provider.NewCheckoutSession()
		}
	}

	r.wg.Add(1)
	go r.poll(ctx, loop, o.ID, ref, adapter)
	logger.Info("tracking order", "order_id", o.ID, "reference", ref, "method", o.PaymentMethod)
	return nil
}

// pollLoop is one running poll goroutine. Its pointer identifies the
// loop, so a finished loop only unregisters itself.
type pollLoop struct {
	cancel context.CancelFunc
	ticker clock.Ticker
}

func (r *Reconciler) poll(ctx context.Context, loop *pollLoop, id uuid.UUID, ref string, adapter provider.Adapter) {
	defer r.wg.Done()
	defer r.unregister(id, loop)
	defer loop.ticker.Stop()

	for attempt := 1; attempt <= r.opts.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-loop.ticker.C():
		}

		if !r.stillPending(ctx, id) {
			return
		}

		st, err := adapter.CheckStatus(ctx, ref)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			logger.Warn("status poll failed", "order_id", id, "attempt", attempt, "err", err)
			continue
		}

		var ev domain.Event
		switch st {
		case provider.RemoteSuccessful:
			ev = domain.EventSucceeded
		case provider.RemoteFailed:
			ev = domain.EventFailed
		default:
			continue
		}
		if _, _, err := r.Apply(ctx, id, ev, ""); err != nil {
			// The status write failed, not the payment. Ask again next tick.
			logger.Warn("apply poll result failed", "order_id", id, "attempt", attempt, "err", err)
			continue
		}
		return
	}

	if !r.stillPending(ctx, id) {
		return
	}
	logger.Warn("poll budget exhausted", "order_id", id, "attempts", r.opts.MaxAttempts)
	if _, _, err := r.Apply(ctx, id, domain.EventAttemptsExhausted, ""); err != nil {
		logger.Warn("time out order failed", "order_id", id, "err", err)
	}
}

func (r *Reconciler) unregister(id uuid.UUID, loop *pollLoop) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.polls[id] == loop {
		loop.cancel()
		delete(r.polls, id)
	}
}

// stillPending is checked before every request fires.
func (r *Reconciler) stillPending(ctx context.Context, id uuid.UUID) bool {
	if ctx.Err() != nil {
		return false
	}
	o, err := r.repo.GetOrderByID(ctx, id)
	if err != nil {
		// A read failure is not a reason to give up on the order.
		return ctx.Err() == nil
	}
	return !o.Terminal()
}

// HandleWebhook applies a collection event forwarded by the broker.
// Duplicate deliveries are no-ops.
func (r *Reconciler) HandleWebhook(ctx context.Context, ev WebhookEvent) (domain.Order, bool, error) {
	var e domain.Event
	switch ev.Event {
	case WebhookCollectionSuccessful:
		e = domain.EventSucceeded
	case WebhookCollectionFailed:
		e = domain.EventFailed
	default:
		logger.Debug("ignoring webhook event", "event", ev.Event)
		return domain.Order{}, false, nil
	}

	ref := ev.Data.ref()
	if ref == "" {
		return domain.Order{}, false, domain.NewValidationError("reference", "missing")
	}
	o, err := r.repo.GetOrderByReference(ctx, ref)
	if err != nil {
		return domain.Order{}, false, fmt.Errorf("webhook for %s: %w", ref, err)
	}
	return r.Apply(ctx, o.ID, e, "")
}

// CheckoutCompleted records the hosted checkout's completion callback.
// The callback comes from the customer's browser, so a reported success is
// only applied once the provider's verify endpoint confirms it.
func (r *Reconciler) CheckoutCompleted(ctx context.Context, id uuid.UUID, txID, status string) (domain.Order, error) {
	st, err := provider.ParseRemoteStatus(status)
	if err != nil {
		return domain.Order{}, domain.NewValidationError("status", err.Error())
	}
	o, s, err := r.checkoutSession(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	if o.Terminal() {
		return *o, nil
	}

	if st == provider.RemoteSuccessful {
		verified, err := r.verifyCheckout(ctx, o)
		if err != nil {
			return domain.Order{}, err
		}
		if verified != provider.RemoteSuccessful {
			logger.Warn("checkout success not confirmed by provider", "order_id", id, "tx_id", txID, "provider_status", verified)
		}
		st = verified
	}
	s.Complete(txID, st)
	return r.applyCheckout(ctx, id, s)
}

func (r *Reconciler) verifyCheckout(ctx context.Context, o *domain.Order) (provider.RemoteStatus, error) {
	if o.ProviderReference == "" {
		return "", fmt.Errorf("order %s has no provider reference yet: %w", o.ID, domain.ErrInvalidTransition)
	}
	adapter, err := r.adapters.For(o.PaymentMethod)
	if err != nil {
		return "", err
	}
	return adapter.CheckStatus(ctx, o.ProviderReference)
}

// CheckoutClosed records that the customer left the hosted checkout. It
// fails the order unless a successful result was recorded first.
func (r *Reconciler) CheckoutClosed(ctx context.Context, id uuid.UUID) (domain.Order, error) {
	_, s, err := r.checkoutSession(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	s.Close()
	return r.applyCheckout(ctx, id, s)
}

func (r *Reconciler) checkoutSession(ctx context.Context, id uuid.UUID) (*domain.Order, *provider.CheckoutSession, error) {
	o, err := r.repo.GetOrderByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if o.PaymentMethod != domain.MethodRedirectCheckout {
		return nil, nil, fmt.Errorf("order %s uses %s: %w", id, o.PaymentMethod, domain.ErrMethodNotAllowed)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		// Not tracked by this process (restart, or already terminal). The
		// stored status still decides who wins.
		s = provider.NewCheckoutSession()
		if !o.Terminal() {
			r.sessions[id] = s
		}
	}
	return o, s, nil
}

// applyCheckout applies whichever outcome resolved the session first.
func (r *Reconciler) applyCheckout(ctx context.Context, id uuid.UUID, s *provider.CheckoutSession) (domain.Order, error) {
	out, ok := s.Result()
	if !ok {
		o, err := r.repo.GetOrderByID(ctx, id)
		if err != nil {
			return domain.Order{}, err
		}
		return *o, nil
	}
	ev := domain.EventFailed
	if out.Status == provider.RemoteSuccessful {
		ev = domain.EventSucceeded
	}
	o, _, err := r.Apply(ctx, id, ev, "")
	return o, err
}

// Resume restarts tracking for orders left pending by a previous process.
func (r *Reconciler) Resume(ctx context.Context, limit int) (int, error) {
	pending, err := r.repo.ListPending(ctx, limit)
	if err != nil {
		return 0, err
	}

	resumed := 0
	for _, o := range pending {
		cur := *o
		if cur.Status == domain.StatusAwaitingProvider {
			cur, _, err = r.Apply(ctx, o.ID, domain.EventHandleIssued, "")
			if err != nil {
				logger.Warn("resume: cannot advance order", "order_id", o.ID, "err", err)
				continue
			}
		}
		if err := r.Track(cur, provider.Handle{Method: cur.PaymentMethod, Reference: cur.ProviderReference}); err != nil {
			logger.Warn("resume: cannot track order", "order_id", o.ID, "err", err)
			continue
		}
		resumed++
	}
	logger.Info("pending orders resumed", "count", resumed)
	return resumed, nil
}

// Tracking reports whether a poll loop is running for id.
func (r *Reconciler) Tracking(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.polls[id]
	return ok
}

// Shutdown stops every poll loop and waits for them to exit.
func (r *Reconciler) Shutdown() {
	r.mu.Lock()
	r.stop()
	r.mu.Unlock()
	r.wg.Wait()
}

// UserMessage is the text shown next to an order status.
func UserMessage(s domain.Status) string {
	switch s {
	case domain.StatusCreated, domain.StatusAwaitingProvider:
		return "Your order is being submitted."
	case domain.StatusPendingConfirmation:
		return "Complete the payment on your phone or in the checkout window."
	case domain.StatusSuccessful:
		return "Payment received."
	case domain.StatusFailed:
		return "The payment did not go through. Try again or use another payment method."
	case domain.StatusTimedOut:
		return "We could not confirm your payment yet. It may still complete, so check your transaction history before paying again."
	}
	return ""
}

// IsInvalidTransition helps callers that treat late or out-of-order
// signals as informational.
func IsInvalidTransition(err error) bool {
	return errors.Is(err, domain.ErrInvalidTransition)
}
