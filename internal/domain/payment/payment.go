// Package payment applies payment provider outcomes to orders. Provider
// signature verification happens before these calls.
package payment

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/scanbill/internal/domain/order"
)

var (
	// ErrAlreadyPaid is returned when a payment is started or confirmed with a
	// different transaction for an order that is already paid.
	ErrAlreadyPaid = order.ErrAlreadyPaid
	// ErrMissingTransaction is returned when a confirmation carries no
	// provider transaction id.
	ErrMissingTransaction = errors.New("provider transaction id required")
)

// Intent is what the client needs to start a provider payment.
type Intent struct {
	OrderID     string
	AmountMinor int64
	Currency    string
	Customer    order.Customer
	Description string
}

// Service records payment progress on orders.
type Service struct {
	orders    order.Repository
	publisher order.Publisher
	method    order.PaymentMethod
}

// NewService creates a payment Service for the given online method.
func NewService(orders order.Repository, publisher order.Publisher, method order.PaymentMethod) *Service {
	if publisher == nil {
		publisher = order.NopPublisher{}
	}
	return &Service{orders: orders, publisher: publisher, method: method}
}

// Initiate marks the order payment as INITIATED and returns the amount in
// minor currency units.
func (s *Service) Initiate(ctx context.Context, orderID string) (*Intent, error) {
	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, errors.Wrapf(err, "get order %s", orderID)
	}
	if o.Status == order.StatusPaid {
		return nil, ErrAlreadyPaid
	}

	p := order.Payment{Method: s.method, Status: order.PaymentInitiated}
	if err := s.orders.UpdatePayment(ctx, o.ID, order.StatusPending, p, o.ReceiptURL); err != nil {
		return nil, errors.Wrap(err, "update payment")
	}

	return &Intent{
		OrderID:     o.ID,
		AmountMinor: o.Total.Shift(2).Round(0).IntPart(),
		Currency:    o.Currency,
		Customer:    o.Customer,
		Description: fmt.Sprintf("Order #%s", o.ID),
	}, nil
}

// Confirm applies the provider outcome. A successful payment marks the order
// PAID and assigns its receipt URL; replaying the same transaction returns
// the order unchanged.
func (s *Service) Confirm(ctx context.Context, orderID, providerTxnID string, success bool) (*order.Order, error) {
	if providerTxnID == "" {
		return nil, ErrMissingTransaction
	}
	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, errors.Wrapf(err, "get order %s", orderID)
	}
	if o.Status == order.StatusPaid {
		if o.Payment.ProviderTxnID == providerTxnID {
			return o, nil
		}
		return nil, ErrAlreadyPaid
	}

	method := o.Payment.Method
	if method == "" {
		method = s.method
	}

	status, event := order.StatusFailed, order.EventPaymentFailed
	p := order.Payment{Method: method, ProviderTxnID: providerTxnID, Status: order.PaymentFailed}
	receipt := o.ReceiptURL
	if success {
		status, event = order.StatusPaid, order.EventPaid
		p.Status = order.PaymentSuccess
		receipt = ReceiptURL(o.ID)
	}

	switch err := s.orders.UpdatePayment(ctx, o.ID, status, p, receipt); {
	case errors.Is(err, order.ErrAlreadyPaid):
		// A concurrent confirmation paid the order after it was read.
		return s.paidBy(ctx, o.ID, providerTxnID)
	case err != nil:
		return nil, errors.Wrap(err, "update payment")
	}
	o.Status, o.Payment, o.ReceiptURL = status, p, receipt

	if err := s.publisher.Publish(ctx, order.NewEvent(event, o)); err != nil {
		zctx.From(ctx).Warn("Publish payment event", zap.String("order_id", o.ID), zap.Error(err))
	}
	return o, nil
}

// paidBy returns the paid order when providerTxnID is the transaction that
// paid it, and ErrAlreadyPaid otherwise.
func (s *Service) paidBy(ctx context.Context, orderID, providerTxnID string) (*order.Order, error) {
	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, errors.Wrapf(err, "get order %s", orderID)
	}
	if o.Status == order.StatusPaid && o.Payment.ProviderTxnID == providerTxnID {
		return o, nil
	}
	return nil, ErrAlreadyPaid
}

// ReceiptURL returns the receipt path of an order.
func ReceiptURL(orderID string) string {
	return "/receipt/" + orderID
}
