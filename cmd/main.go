package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/RaikyD/cardpay-service/internal/config"
	"github.com/RaikyD/cardpay-service/internal/currency"
	"github.com/RaikyD/cardpay-service/internal/kafka"
	"github.com/RaikyD/cardpay-service/internal/logger"
	"github.com/RaikyD/cardpay-service/internal/migrate"
	"github.com/RaikyD/cardpay-service/internal/presentation"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "cardpay",
	Short:         "Virtual card purchase and top-up payment service",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, poll loops, offline queue and Kafka consumer",
	RunE:  runServe,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE:  runMigrate,
}

var ratesCmd = &cobra.Command{
	Use:   "rates",
	Short: "Refresh and print the exchange rate table",
	RunE:  runRates,
}

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect the offline request queue",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print queued requests",
	RunE:  runQueueList,
}

var queueDrainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Deliver due queued requests now",
	RunE:  runQueueDrain,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default ./config.yaml)")
	queueCmd.AddCommand(queueListCmd, queueDrainCmd)
	rootCmd.AddCommand(serveCmd, migrateCmd, ratesCmd, queueCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger.Error("command failed", "err", err)
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("config load failed: %w", err)
	}
	logger.Init(cfg.ENV)
	return cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.DB_STRING != "" {
		if err := migrate.Up(ctx, cfg.DB_STRING); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	// Pick up orders a previous process left waiting on the customer.
	if _, err := a.reconciler.Resume(ctx, 1000); err != nil {
		logger.Warn("resume pending orders failed", "err", err)
	}

	go a.rates.RunRefresher(ctx, cfg.FX_REFRESH_INTERVAL)
	go func() {
		if err := a.rates.RefreshRates(ctx); err != nil {
			logger.Warn("initial rate refresh failed, using cached table", "err", err)
		}
	}()
	go a.queue.Run(ctx, cfg.QUEUE_INTERVAL)

	// Kafka consumer for collection events forwarded by the backend
	if cfg.KAFKA_BROKERS != "" {
		if _, err := kafka.StartConsumer(ctx, a.reconciler, kafka.ConsumerConfig{
			Brokers: cfg.KAFKA_BROKERS,
			Topic:   cfg.KAFKA_EVENTS_TOPIC,
			GroupID: cfg.KAFKA_GROUP_ID,
		}); err != nil {
			return err
		}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// API
	h := presentation.NewPaymentsHandler(presentation.Deps{
		Orders:        a.submitter,
		Reconciler:    a.reconciler,
		Rates:         a.rates,
		Queue:         a.queue,
		WebhookSecret: cfg.WEBHOOK_SECRET,
	})
	h.Register(r)

	srv := &http.Server{Addr: ":" + cfg.HTTP_PORT, Handler: r}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting http", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server crashed: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown failed", "err", err)
		}
	}
	return nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.DB_STRING == "" {
		return errors.New("DB_STRING is not set")
	}
	return migrate.Up(cmd.Context(), cfg.DB_STRING)
}

func runRates(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.rates.RefreshRates(cmd.Context()); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "refresh failed, showing cached rates: %v\n", err)
	}

	snap := a.rates.Snapshot()
	codes := make([]string, 0, len(snap.Rates))
	for code := range snap.Rates {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	out := cmd.OutOrStdout()
	if !snap.FetchedAt.IsZero() {
		fmt.Fprintf(out, "fetched at %s\n", snap.FetchedAt.Format(time.RFC3339))
	}
	for _, code := range codes {
		r := snap.Rates[code]
		fmt.Fprintf(out, "%s  %s  1 USD = %s\n", code, r.CurrencyCode, currency.Format(r.RateToUSD, r.CurrencyCode))
	}
	return nil
}

func runQueueList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	items, err := a.queue.List()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, it := range items {
		fmt.Fprintf(out, "#%d %s %s retries=%d next=%s %s\n",
			it.Seq, it.ID, it.Action, it.RetryCount, it.NextRetryAt.Format(time.RFC3339), it.LastError)
	}
	fmt.Fprintf(out, "%d queued\n", len(items))
	return nil
}

func runQueueDrain(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.queue.Drain(cmd.Context())
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
