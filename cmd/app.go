package main

import (
	"context"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/RaikyD/cardpay-service/internal/application"
	"github.com/RaikyD/cardpay-service/internal/broker"
	"github.com/RaikyD/cardpay-service/internal/clock"
	"github.com/RaikyD/cardpay-service/internal/config"
	"github.com/RaikyD/cardpay-service/internal/currency"
	"github.com/RaikyD/cardpay-service/internal/kafka"
	"github.com/RaikyD/cardpay-service/internal/localstore"
	"github.com/RaikyD/cardpay-service/internal/logger"
	"github.com/RaikyD/cardpay-service/internal/offline"
	"github.com/RaikyD/cardpay-service/internal/provider"
	"github.com/RaikyD/cardpay-service/internal/repository"
)

// app is everything the subcommands share.
type app struct {
	cfg        *config.Config
	store      *localstore.Store
	rates      *currency.Converter
	reconciler *application.Reconciler
	submitter  *application.Submitter
	queue      *offline.Queue
	producer   *kafka.Producer

	closers []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}
	clk := clock.NewSystem()

	// DB pool
	var repo repository.OrderRepo
	if cfg.DB_STRING != "" {
		pool, err := pgxpool.New(ctx, cfg.DB_STRING)
		if err != nil {
			return nil, err
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		logger.Info("db connected")
		a.closers = append(a.closers, pool.Close)
		repo = repository.NewOrderRepository(pool)
	} else {
		logger.Warn("DB_STRING not set, orders are kept in memory")
		repo = repository.NewMemoryOrderRepository()
	}

	store, err := localstore.New(cfg.BOLT_PATH)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.store = store
	a.closers = append(a.closers, func() { _ = store.Close() })

	client := &http.Client{Timeout: cfg.HTTP_TIMEOUT}

	a.rates = currency.NewConverter(currency.NewHTTPSource(cfg.API_BASE_URL, client), store, clk)
	if err := a.rates.Load(); err != nil {
		logger.Warn("restore exchange rates failed", "err", err)
	}

	tokens := broker.NewTokenSource(cfg.BROKER_BASE_URL, broker.Credentials{
		Username: cfg.BROKER_USERNAME,
		Password: cfg.BROKER_PASSWORD,
	}, client, clk)
	adapters := provider.NewRegistry(
		provider.NewDirectCollectionAdapter(cfg.API_BASE_URL, tokens, client),
		provider.NewRedirectCheckoutAdapter(cfg.API_BASE_URL, client),
	)

	var notifier application.Notifier
	if cfg.KAFKA_BROKERS != "" {
		a.producer = kafka.NewProducer(cfg.KAFKA_BROKERS, cfg.KAFKA_STATUS_TOPIC)
		a.closers = append(a.closers, func() { _ = a.producer.Close() })
		notifier = a.producer
	}

	a.reconciler = application.NewReconciler(repo, adapters, notifier, clk, application.ReconcilerOptions{
		PollInterval: cfg.POLL_INTERVAL,
		MaxAttempts:  cfg.POLL_MAX_ATTEMPTS,
	})
	a.closers = append(a.closers, a.reconciler.Shutdown)

	a.submitter = application.NewSubmitter(repo, adapters, a.rates, a.reconciler, clk)
	a.queue = offline.NewQueue(store.Queue(), a.submitter, offline.NewHTTPProbe(cfg.API_BASE_URL, cfg.PROBE_TIMEOUT), clk, offline.Options{
		BaseDelay:  cfg.QUEUE_BASE_DELAY,
		MaxRetries: cfg.QUEUE_MAX_RETRIES,
	})
	a.submitter.UseDispatcher(a.queue)

	return a, nil
}
