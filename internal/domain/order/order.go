package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when no order matches the lookup.
	ErrNotFound = errors.New("order not found")
	// ErrDuplicateIdempotencyKey is returned by Repository.Create when another
	// order already holds the idempotency key. Callers resolve it by loading
	// the existing order; it is never surfaced to clients.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
	// ErrAlreadyPaid is returned by Repository.UpdatePayment for an order that
	// is already PAID. A paid order is never changed again.
	ErrAlreadyPaid = errors.New("order already paid")
)

// Status is the lifecycle state of an order.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusPaid    Status = "PAID"
	StatusFailed  Status = "FAILED"
)

// PaymentMethod identifies how the shopper pays.
type PaymentMethod string

const (
	PaymentCash     PaymentMethod = "CASH"
	PaymentCard     PaymentMethod = "CARD"
	PaymentRazorpay PaymentMethod = "RAZORPAY"
)

// Settled reports whether the method is settled at the counter, so the order
// is paid as soon as it is created.
func (m PaymentMethod) Settled() bool {
	return m == PaymentCash
}

// Valid reports whether m is a known method.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentCard, PaymentRazorpay:
		return true
	default:
		return false
	}
}

// PaymentStatus is the state of the payment attached to an order.
type PaymentStatus string

const (
	PaymentInitiated PaymentStatus = "INITIATED"
	PaymentSuccess   PaymentStatus = "SUCCESS"
	PaymentFailed    PaymentStatus = "FAILED"
)

// Payment is the payment sub-state of an order.
type Payment struct {
	Method        PaymentMethod
	ProviderTxnID string
	Status        PaymentStatus
}

// Customer holds the contact details captured at checkout.
type Customer struct {
	Name   string
	Mobile string
	Email  string
}

// Item is an order line copied from the cart at checkout.
type Item struct {
	SerialNumber string          `json:"serial_number"`
	ProductID    string          `json:"product_id"`
	Name         string          `json:"name"`
	Price        decimal.Decimal `json:"price"`
	Quantity     int             `json:"quantity"`
}

// Order is the record of a completed checkout. Items and amounts never change
// after creation; only status, payment and receipt fields do.
type Order struct {
	ID             string
	UserID         string
	StoreID        string
	Customer       Customer
	Items          []Item
	Subtotal       decimal.Decimal
	Tax            decimal.Decimal
	Discount       decimal.Decimal
	Total          decimal.Decimal
	Currency       string
	Status         Status
	Payment        Payment
	IdempotencyKey string
	ReceiptURL     string
	CreatedAt      time.Time
}

// Serials returns the serial numbers of all order items.
func (o *Order) Serials() []string {
	out := make([]string, len(o.Items))
	for i, it := range o.Items {
		out[i] = it.SerialNumber
	}
	return out
}

// Repository defines persistence operations for orders. The idempotency key
// is unique across orders when non-empty, and Create stores the order, its
// lines and its key atomically.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, id string) (*Order, error)
	FindByKey(ctx context.Context, key string) (*Order, error)
	ListByStore(ctx context.Context, storeID string) ([]Order, error)
	OrderedSerials(ctx context.Context, userID string, serials []string) ([]string, error)
	UpdatePayment(ctx context.Context, id string, status Status, p Payment, receiptURL string) error
}
