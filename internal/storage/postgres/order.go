package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/scanbill/internal/domain/order"
)

const (
	idempotencyKeyIndex = "orders_idempotency_key_idx"

	orderColumns = `id, user_id, store_id, customer_name, customer_mobile, customer_email,
		subtotal, tax, discount, total, currency, status,
		payment_method, payment_provider_txn_id, payment_status,
		COALESCE(idempotency_key, ''), receipt_url, created_at`

	createOrderSQL = `INSERT INTO orders (id, user_id, store_id, customer_name, customer_mobile, customer_email,
		subtotal, tax, discount, total, currency, status,
		payment_method, payment_provider_txn_id, payment_status,
		idempotency_key, receipt_url, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, NULLIF($16, ''), $17, $18)`

	getOrderByIDSQL  = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	getOrderByKeySQL = `SELECT ` + orderColumns + ` FROM orders WHERE idempotency_key = $1`

	listOrdersByStoreSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE store_id = $1 ORDER BY created_at DESC, id`

	listOrderItemsSQL = `SELECT order_id, serial_number, product_id, name, price, quantity
		FROM order_items WHERE order_id = ANY($1) ORDER BY order_id, position`

	orderedSerialsSQL = `SELECT oi.serial_number FROM order_items oi
		JOIN orders o ON o.id = oi.order_id
		WHERE o.user_id = $1 AND oi.serial_number = ANY($2)
		ORDER BY oi.serial_number`

	updatePaymentSQL = `UPDATE orders
		SET status = $2, payment_method = $3, payment_provider_txn_id = $4, payment_status = $5, receipt_url = $6
		WHERE id = $1 AND status <> 'PAID'`

	orderExistsSQL = `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`
)

var orderItemColumns = []string{"serial_number", "order_id", "position", "product_id", "name", "price", "quantity"}

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL. Order
// lines live in order_items keyed by serial number, so a unit can never be
// part of two orders.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists the order and its lines in one transaction. A taken
// idempotency key yields order.ErrDuplicateIdempotencyKey.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, createOrderSQL,
			o.ID, o.UserID, o.StoreID, o.Customer.Name, o.Customer.Mobile, o.Customer.Email,
			o.Subtotal, o.Tax, o.Discount, o.Total, o.Currency, string(o.Status),
			string(o.Payment.Method), o.Payment.ProviderTxnID, string(o.Payment.Status),
			o.IdempotencyKey, o.ReceiptURL, o.CreatedAt,
		)
		if err != nil {
			return err
		}

		_, err = tx.CopyFrom(ctx, pgx.Identifier{"order_items"}, orderItemColumns,
			pgx.CopyFromSlice(len(o.Items), func(i int) ([]any, error) {
				it := o.Items[i]
				return []any{it.SerialNumber, o.ID, i, it.ProductID, it.Name, it.Price, it.Quantity}, nil
			}),
		)
		return err
	})
	if err != nil {
		if isUniqueViolation(err, idempotencyKeyIndex) {
			return order.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}
	return nil
}

// GetByID returns the order with the given id.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	return r.getOne(ctx, getOrderByIDSQL, id)
}

// FindByKey returns the order created under the idempotency key.
func (r *OrderRepository) FindByKey(ctx context.Context, key string) (*order.Order, error) {
	return r.getOne(ctx, getOrderByKeySQL, key)
}

func (r *OrderRepository) getOne(ctx context.Context, query, arg string) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", arg, err)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", arg, err)
	}

	orders := []order.Order{o}
	if err := r.loadItems(ctx, orders); err != nil {
		return nil, err
	}
	return &orders[0], nil
}

// ListByStore returns the orders of a store, newest first.
func (r *OrderRepository) ListByStore(ctx context.Context, storeID string) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, listOrdersByStoreSQL, storeID)
	if err != nil {
		return nil, fmt.Errorf("listing orders of store %q: %w", storeID, err)
	}

	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, fmt.Errorf("listing orders of store %q: %w", storeID, err)
	}
	if err := r.loadItems(ctx, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *OrderRepository) loadItems(ctx context.Context, orders []order.Order) error {
	if len(orders) == 0 {
		return nil
	}

	ids := make([]string, len(orders))
	index := make(map[string]int, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
		index[o.ID] = i
	}

	rows, err := r.pool.Query(ctx, listOrderItemsSQL, ids)
	if err != nil {
		return fmt.Errorf("listing order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			orderID string
			it      order.Item
		)
		if err := rows.Scan(&orderID, &it.SerialNumber, &it.ProductID, &it.Name, &it.Price, &it.Quantity); err != nil {
			return fmt.Errorf("scanning order item: %w", err)
		}
		i := index[orderID]
		orders[i].Items = append(orders[i].Items, it)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("listing order items: %w", err)
	}
	return nil
}

// OrderedSerials returns the serials that already belong to orders of userID.
func (r *OrderRepository) OrderedSerials(ctx context.Context, userID string, serials []string) ([]string, error) {
	if len(serials) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, orderedSerialsSQL, userID, serials)
	if err != nil {
		return nil, fmt.Errorf("looking up ordered serials: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// UpdatePayment changes the status, payment and receipt fields of an order
// unless it is already paid.
func (r *OrderRepository) UpdatePayment(ctx context.Context, id string, status order.Status, p order.Payment, receiptURL string) error {
	tag, err := r.pool.Exec(ctx, updatePaymentSQL,
		id, string(status), string(p.Method), p.ProviderTxnID, string(p.Status), receiptURL,
	)
	if err != nil {
		return fmt.Errorf("updating payment of order %q: %w", id, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, orderExistsSQL, id).Scan(&exists); err != nil {
		return fmt.Errorf("checking order %q: %w", id, err)
	}
	if exists {
		return order.ErrAlreadyPaid
	}
	return order.ErrNotFound
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o                           order.Order
		status, method, paymentStat string
	)
	err := row.Scan(
		&o.ID, &o.UserID, &o.StoreID, &o.Customer.Name, &o.Customer.Mobile, &o.Customer.Email,
		&o.Subtotal, &o.Tax, &o.Discount, &o.Total, &o.Currency, &status,
		&method, &o.Payment.ProviderTxnID, &paymentStat,
		&o.IdempotencyKey, &o.ReceiptURL, &o.CreatedAt,
	)
	o.Status = order.Status(status)
	o.Payment.Method = order.PaymentMethod(method)
	o.Payment.Status = order.PaymentStatus(paymentStat)
	return o, err
}
