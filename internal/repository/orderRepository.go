package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/RaikyD/cardpay-service/internal/domain"
	"github.com/RaikyD/cardpay-service/internal/logger"
)

type OrderRepo interface {
	AddOrder(ctx context.Context, o *domain.Order) error
	GetOrderByID(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	GetOrderByReference(ctx context.Context, reference string) (*domain.Order, error)
	// CompareAndSetStatus moves the order from -> to only if it is still in
	// from. A non-empty reference is stored unless one is already set.
	CompareAndSetStatus(ctx context.Context, id uuid.UUID, from, to domain.Status, reference string, at time.Time) (bool, error)
	// ListPending returns non-terminal orders that already have a provider
	// reference, oldest first.
	ListPending(ctx context.Context, limit int) ([]*domain.Order, error)
}

type OrderRepository struct {
	pool *pgxpool.Pool
}

func NewOrderRepository(p *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: p}
}

const orderColumns = `id, kind, card_id, amount_base_usd::text, exchange_rate::text, amount_local::text,
	currency_code, country, payment_method, customer_name, customer_email, customer_phone,
	COALESCE(provider_reference, ''), status, created_at, last_transition_at`

func (p *OrderRepository) AddOrder(ctx context.Context, o *domain.Order) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO cardpay.orders
			(id, kind, card_id, amount_base_usd, exchange_rate, amount_local,
			 currency_code, country, payment_method, customer_name, customer_email, customer_phone,
			 provider_reference, status, created_at, last_transition_at)
		VALUES
			($1, $2, $3, $4::numeric, $5::numeric, $6::numeric,
			 $7, $8, $9, $10, $11, $12,
			 NULLIF($13, ''), $14, $15, $16)
	`,
		o.ID,
		string(o.Kind),
		o.CardID,
		o.AmountBaseUSD.String(),
		o.ExchangeRate.String(),
		o.AmountLocal.String(),
		o.CurrencyCode,
		o.Country,
		string(o.PaymentMethod),
		o.Customer.Name,
		o.Customer.Email,
		o.Customer.Phone,
		o.ProviderReference,
		string(o.Status),
		o.CreatedAt,
		o.LastTransitionAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrOrderAlreadyExists
		}
		logger.Warn("insert order failed", "order_id", o.ID, "err", err)
		return err
	}
	return nil
}

func (p *OrderRepository) GetOrderByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM cardpay.orders WHERE id = $1`, id)
	return scanOrder(row)
}

func (p *OrderRepository) GetOrderByReference(ctx context.Context, reference string) (*domain.Order, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM cardpay.orders WHERE provider_reference = $1`, reference)
	return scanOrder(row)
}

func (p *OrderRepository) CompareAndSetStatus(ctx context.Context, id uuid.UUID, from, to domain.Status, reference string, at time.Time) (bool, error) {
	tag, err := p.pool.Exec(ctx, `
		UPDATE cardpay.orders
		SET status = $3,
		    provider_reference = COALESCE(provider_reference, NULLIF($4, '')),
		    last_transition_at = $5
		WHERE id = $1 AND status = $2
	`, id, string(from), string(to), reference, at)
	if err != nil {
		return false, fmt.Errorf("update order status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (p *OrderRepository) ListPending(ctx context.Context, limit int) ([]*domain.Order, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT `+orderColumns+`
		FROM cardpay.orders
		WHERE status IN ('AWAITING_PROVIDER', 'PENDING_CONFIRMATION')
		  AND provider_reference IS NOT NULL
		ORDER BY created_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*domain.Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var (
		o                          domain.Order
		kind, method, status       string
		baseUSD, rate, amountLocal string
	)
	err := row.Scan(
		&o.ID, &kind, &o.CardID, &baseUSD, &rate, &amountLocal,
		&o.CurrencyCode, &o.Country, &method, &o.Customer.Name, &o.Customer.Email, &o.Customer.Phone,
		&o.ProviderReference, &status, &o.CreatedAt, &o.LastTransitionAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, err
	}

	o.Kind = domain.OrderKind(kind)
	o.PaymentMethod = domain.PaymentMethod(method)
	o.Status = domain.Status(status)
	if o.AmountBaseUSD, err = decimal.NewFromString(baseUSD); err != nil {
		return nil, fmt.Errorf("order %s amount_base_usd: %w", o.ID, err)
	}
	if o.ExchangeRate, err = decimal.NewFromString(rate); err != nil {
		return nil, fmt.Errorf("order %s exchange_rate: %w", o.ID, err)
	}
	if o.AmountLocal, err = decimal.NewFromString(amountLocal); err != nil {
		return nil, fmt.Errorf("order %s amount_local: %w", o.ID, err)
	}
	o.CreatedAt = o.CreatedAt.UTC()
	o.LastTransitionAt = o.LastTransitionAt.UTC()
	return &o, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
