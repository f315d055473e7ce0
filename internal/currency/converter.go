package currency

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/RaikyD/cardpay-service/internal/clock"
	"github.com/RaikyD/cardpay-service/internal/domain"
	"github.com/RaikyD/cardpay-service/internal/logger"
)

var (
	ErrEmptyRateTable = errors.New("empty rate table")
	ErrInvalidRate    = errors.New("invalid exchange rate")
)

type Rate struct {
	RateToUSD    decimal.Decimal `json:"rate_to_usd"`
	CurrencyCode string          `json:"currency_code"`
}

// Table is an immutable snapshot. Callers never mutate a Table after it
// has been published through the Converter.
type Table struct {
	Rates     map[string]Rate `json:"rates"`
	FetchedAt time.Time       `json:"fetched_at"`
}

// RemoteRate is one row of the GET /exchange-rates response.
type RemoteRate struct {
	Country   string          `json:"country"`
	RateToUSD decimal.Decimal `json:"rateToUSD"`
}

type RateSource interface {
	FetchRates(ctx context.Context) ([]RemoteRate, error)
}

// SnapshotStore persists the last good table across restarts.
type SnapshotStore interface {
	SaveRates(t Table) error
	LoadRates() (*Table, error)
}

type Conversion struct {
	AmountLocal  decimal.Decimal
	CurrencyCode string
	Rate         decimal.Decimal
}

// DefaultTable holds the baked-in fallback rates for every supported country.
func DefaultTable() *Table {
	t := &Table{Rates: make(map[string]Rate, len(domain.Countries))}
	for code, c := range domain.Countries {
		t.Rates[code] = Rate{RateToUSD: c.DefaultRate, CurrencyCode: c.CurrencyCode}
	}
	return t
}

type Converter struct {
	source RateSource
	store  SnapshotStore
	clock  clock.Clock
	table  atomic.Pointer[Table]
}

func NewConverter(source RateSource, store SnapshotStore, clk clock.Clock) *Converter {
	c := &Converter{source: source, store: store, clock: clk}
	c.table.Store(DefaultTable())
	return c
}

func (c *Converter) Snapshot() *Table {
	return c.table.Load()
}

// Load restores the persisted table, if any. Countries missing from the
// stored copy keep their defaults.
func (c *Converter) Load() error {
	if c.store == nil {
		return nil
	}
	stored, err := c.store.LoadRates()
	if err != nil {
		return fmt.Errorf("load rates: %w", err)
	}
	if stored == nil {
		return nil
	}
	next := DefaultTable()
	for code, r := range stored.Rates {
		if _, ok := domain.Countries[code]; !ok || !r.RateToUSD.IsPositive() {
			continue
		}
		next.Rates[code] = Rate{RateToUSD: r.RateToUSD, CurrencyCode: domain.Countries[code].CurrencyCode}
	}
	next.FetchedAt = stored.FetchedAt
	c.table.Store(next)
	return nil
}

// RefreshRates publishes a new table or nothing. Countries the response
// leaves out keep the rate they had.
func (c *Converter) RefreshRates(ctx context.Context) error {
	if c.source == nil {
		return errors.New("no rate source configured")
	}
	remote, err := c.source.FetchRates(ctx)
	if err != nil {
		return fmt.Errorf("fetch rates: %w", err)
	}
	next, err := buildTable(c.table.Load(), remote)
	if err != nil {
		return err
	}
	next.FetchedAt = c.clock.Now()
	c.table.Store(next)

	if c.store != nil {
		if err := c.store.SaveRates(*next); err != nil {
			logger.Warn("persist exchange rates failed", "err", err)
		}
	}
	logger.Info("exchange rates refreshed", "countries", len(remote))
	return nil
}

// buildTable overlays remote on a copy of cur.
func buildTable(cur *Table, remote []RemoteRate) (*Table, error) {
	if len(remote) == 0 {
		return nil, ErrEmptyRateTable
	}
	next := &Table{Rates: make(map[string]Rate, len(cur.Rates))}
	for code, r := range cur.Rates {
		next.Rates[code] = r
	}
	for _, r := range remote {
		code := strings.ToUpper(strings.TrimSpace(r.Country))
		country, ok := domain.Countries[code]
		if !ok {
			logger.Debug("ignoring rate for unsupported country", "country", r.Country)
			continue
		}
		if !r.RateToUSD.IsPositive() {
			return nil, fmt.Errorf("%w: %s %s", ErrInvalidRate, code, r.RateToUSD)
		}
		next.Rates[code] = Rate{RateToUSD: r.RateToUSD, CurrencyCode: country.CurrencyCode}
	}
	return next, nil
}

// ToLocal converts against the current snapshot without touching the network.
func (c *Converter) ToLocal(amountUSD decimal.Decimal, country string) (Conversion, error) {
	code := strings.ToUpper(strings.TrimSpace(country))
	r, ok := c.table.Load().Rates[code]
	if !ok {
		return Conversion{}, domain.ErrUnsupportedCountry
	}
	return Conversion{
		AmountLocal:  domain.LocalAmount(amountUSD, r.RateToUSD),
		CurrencyCode: r.CurrencyCode,
		Rate:         r.RateToUSD,
	}, nil
}

func (c *Converter) Format(amount decimal.Decimal, countryOrCode string) string {
	return Format(amount, countryOrCode)
}

// RunRefresher refreshes on every tick until ctx is done. Failures keep
// the previous table.
func (c *Converter) RunRefresher(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	t := c.clock.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C():
			if err := c.RefreshRates(ctx); err != nil && ctx.Err() == nil {
				logger.Warn("exchange rate refresh failed, keeping cached table", "err", err)
			}
		}
	}
}
