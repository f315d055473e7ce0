// Package offline queues order submissions made while the provider API is
// unreachable and replays them, one at a time, once it comes back.
package offline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/RaikyD/cardpay-service/internal/clock"
	"github.com/RaikyD/cardpay-service/internal/domain"
	"github.com/RaikyD/cardpay-service/internal/logger"
	"github.com/RaikyD/cardpay-service/internal/provider"
)

type Action string

const ActionSubmitOrder Action = "submit_order"

type Item struct {
	Seq         uint64          `json:"seq"`
	ID          uuid.UUID       `json:"id"`
	Action      Action          `json:"action"`
	Payload     json.RawMessage `json:"payload"`
	EnqueuedAt  time.Time       `json:"enqueued_at"`
	RetryCount  int             `json:"retry_count"`
	NextRetryAt time.Time       `json:"next_retry_at"`
	LastError   string          `json:"last_error,omitempty"`
}

// Store keeps items durably in enqueue order.
type Store interface {
	Append(item Item) (Item, error)
	List() ([]Item, error)
	Put(item Item) error
	Delete(seq uint64) error
}

type Submitter interface {
	Submit(ctx context.Context, o *domain.Order) (provider.Handle, error)
}

// Abandoner is implemented by submitters that want to hear about orders
// the queue gave up on.
type Abandoner interface {
	Abandon(ctx context.Context, o *domain.Order, cause error) error
}

type Connectivity interface {
	Online(ctx context.Context) bool
}

type Options struct {
	// BaseDelay is multiplied by 2^RetryCount to get the next retry time.
	BaseDelay  time.Duration
	MaxRetries int
}

func DefaultOptions() Options {
	return Options{BaseDelay: time.Second, MaxRetries: 3}
}

type DrainReport struct {
	Delivered int      `json:"delivered"`
	Retrying  int      `json:"retrying"`
	Dropped   int      `json:"dropped"`
	Waiting   int      `json:"waiting"`
	Errors    []string `json:"errors,omitempty"`
}

type Queue struct {
	store     Store
	submitter Submitter
	conn      Connectivity
	clock     clock.Clock
	opts      Options

	// drainMu keeps exactly one item in flight.
	drainMu sync.Mutex
}

func NewQueue(store Store, submitter Submitter, conn Connectivity, clk clock.Clock, opts Options) *Queue {
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	return &Queue{store: store, submitter: submitter, conn: conn, clock: clk, opts: opts}
}

// Submit sends o straight to the provider when online. Offline, or on a
// network failure, the order is queued instead and queued is true.
func (q *Queue) Submit(ctx context.Context, o *domain.Order) (h provider.Handle, queued bool, err error) {
	if q.conn != nil && !q.conn.Online(ctx) {
		if _, err := q.Enqueue(o); err != nil {
			return provider.Handle{}, false, err
		}
		return provider.Handle{}, true, nil
	}

	h, err = q.submitter.Submit(ctx, o)
	if err != nil && provider.IsNetwork(err) {
		logger.Warn("provider unreachable, queueing order", "order_id", o.ID, "err", err)
		if _, qerr := q.Enqueue(o); qerr != nil {
			return provider.Handle{}, false, errors.Join(err, qerr)
		}
		return provider.Handle{}, true, nil
	}
	return h, false, err
}

func (q *Queue) Enqueue(o *domain.Order) (Item, error) {
	payload, err := json.Marshal(o)
	if err != nil {
		return Item{}, fmt.Errorf("encode queued order: %w", err)
	}
	now := q.clock.Now()
	it, err := q.store.Append(Item{
		ID:          uuid.New(),
		Action:      ActionSubmitOrder,
		Payload:     payload,
		EnqueuedAt:  now,
		NextRetryAt: now,
	})
	if err != nil {
		return Item{}, fmt.Errorf("enqueue order %s: %w", o.ID, err)
	}
	logger.Info("order queued for later submission", "order_id", o.ID, "seq", it.Seq)
	return it, nil
}

func (q *Queue) List() ([]Item, error) {
	return q.store.List()
}

// Drain walks the queue front to back. An item that is not due yet, or one
// that just failed and was rescheduled, ends the pass so later items never
// overtake it.
func (q *Queue) Drain(ctx context.Context) (DrainReport, error) {
	q.drainMu.Lock()
	defer q.drainMu.Unlock()

	var report DrainReport
	items, err := q.store.List()
	if err != nil {
		return report, err
	}

	for i, it := range items {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		now := q.clock.Now()
		if it.NextRetryAt.After(now) {
			report.Waiting = len(items) - i
			break
		}

		err := q.process(ctx, it)
		if err == nil {
			if err := q.store.Delete(it.Seq); err != nil {
				return report, err
			}
			report.Delivered++
			continue
		}

		report.Errors = append(report.Errors, err.Error())
		if !provider.IsNetwork(err) {
			logger.Warn("dropping queued item, not retryable", "seq", it.Seq, "err", err)
			if err := q.store.Delete(it.Seq); err != nil {
				return report, err
			}
			q.abandon(ctx, it, err)
			report.Dropped++
			continue
		}

		it.RetryCount++
		it.LastError = err.Error()
		if it.RetryCount >= q.opts.MaxRetries {
			logger.Warn("dropping queued item after retries", "seq", it.Seq, "retries", it.RetryCount, "err", err)
			if err := q.store.Delete(it.Seq); err != nil {
				return report, err
			}
			q.abandon(ctx, it, err)
			report.Dropped++
			continue
		}

		it.NextRetryAt = now.Add(q.backoff(it.RetryCount))
		if err := q.store.Put(it); err != nil {
			return report, err
		}
		report.Retrying++
		report.Waiting = len(items) - i - 1
		logger.Info("queued item rescheduled", "seq", it.Seq, "retry", it.RetryCount, "next_retry_at", it.NextRetryAt)
		break
	}
	return report, nil
}

func (q *Queue) backoff(retry int) time.Duration {
	return q.opts.BaseDelay * time.Duration(1<<uint(retry))
}

func (q *Queue) abandon(ctx context.Context, it Item, cause error) {
	a, ok := q.submitter.(Abandoner)
	if !ok || it.Action != ActionSubmitOrder {
		return
	}
	var o domain.Order
	if err := json.Unmarshal(it.Payload, &o); err != nil {
		return
	}
	if err := a.Abandon(ctx, &o, cause); err != nil {
		logger.Warn("abandon dropped order failed", "order_id", o.ID, "err", err)
	}
}

func (q *Queue) process(ctx context.Context, it Item) error {
	switch it.Action {
	case ActionSubmitOrder:
		var o domain.Order
		if err := json.Unmarshal(it.Payload, &o); err != nil {
			return fmt.Errorf("decode queued order: %w", err)
		}
		_, err := q.submitter.Submit(ctx, &o)
		return err
	default:
		return fmt.Errorf("unknown queued action %q", it.Action)
	}
}

// Run probes connectivity every interval and drains whenever the API is
// reachable. It returns when ctx is done.
func (q *Queue) Run(ctx context.Context, interval time.Duration) {
	if q.conn == nil || interval <= 0 {
		return
	}
	t := q.clock.NewTicker(interval)
	defer t.Stop()

	online := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C():
		}

		now := q.conn.Online(ctx)
		if now != online {
			logger.Info("connectivity changed", "online", now)
			online = now
		}
		if !online {
			continue
		}
		report, err := q.Drain(ctx)
		if err != nil && ctx.Err() == nil {
			logger.Warn("queue drain failed", "err", err)
			continue
		}
		if report.Delivered+report.Dropped+report.Retrying > 0 {
			logger.Info("queue drained", "delivered", report.Delivered, "dropped", report.Dropped, "retrying", report.Retrying, "waiting", report.Waiting)
		}
	}
}
