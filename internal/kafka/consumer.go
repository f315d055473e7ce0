package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/RaikyD/cardpay-service/internal/application"
	"github.com/RaikyD/cardpay-service/internal/domain"
	"github.com/RaikyD/cardpay-service/internal/logger"
)

type ConsumerConfig struct {
	Brokers string
	Topic   string
	GroupID string
}

type WebhookHandler interface {
	HandleWebhook(ctx context.Context, ev application.WebhookEvent) (domain.Order, bool, error)
}

// StartConsumer reads collection events forwarded by the broker and feeds
// them to the reconciler. A message is committed once it has been handled
// or found to be unusable.
func StartConsumer(ctx context.Context, h WebhookHandler, cfg ConsumerConfig) (*kafka.Reader, error) {
	brokers := strings.Split(cfg.Brokers, ",")

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:         brokers,
		GroupID:         cfg.GroupID,
		Topic:           cfg.Topic,
		MinBytes:        1,
		MaxBytes:        10e6,
		CommitInterval:  0,
		StartOffset:     kafka.FirstOffset,
		ReadLagInterval: -1,
	})

	logger.Info("kafka consumer starting", "brokers", cfg.Brokers, "topic", cfg.Topic, "group", cfg.GroupID)

	go func() {
		defer r.Close()

		backoff := time.Millisecond * 300
		for {
			m, err := r.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.Warn("kafka fetch error", "err", err)
				time.Sleep(backoff)
				continue
			}
			logger.Debug("collection event fetched", "partition", m.Partition, "offset", m.Offset)

			for {
				retry, err := handleMessage(ctx, h, m.Value)
				if !retry {
					if err != nil {
						logger.Warn("collection event skipped", "offset", m.Offset, "err", err)
					}
					break
				}
				logger.Warn("collection event failed, will retry", "offset", m.Offset, "err", err)
				select {
				case <-ctx.Done():
					return
				case <-time.After(backoff):
				}
			}

			if err := r.CommitMessages(ctx, m); err != nil {
				logger.Warn("[kafka] commit failed", "err", err)
			}
		}
	}()
	return r, nil
}

// handleMessage reports retry=true only for failures that may go away on
// their own, such as a database outage.
func handleMessage(ctx context.Context, h WebhookHandler, value []byte) (retry bool, err error) {
	var ev application.WebhookEvent
	if err := json.Unmarshal(value, &ev); err != nil {
		return false, err
	}

	o, changed, err := h.HandleWebhook(ctx, ev)
	switch {
	case err == nil:
		if changed {
			logger.Info("collection event applied", "order_id", o.ID, "status", o.Status)
		}
		return false, nil
	case errors.Is(err, domain.ErrOrderNotFound),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrMethodNotAllowed):
		return false, err
	}
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		return false, err
	}
	return true, err
}
