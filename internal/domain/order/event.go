package order

import (
	"context"
	"time"
)

// EventType names an order lifecycle event.
type EventType string

const (
	EventCreated       EventType = "order.created"
	EventPaid          EventType = "order.paid"
	EventPaymentFailed EventType = "order.payment_failed"
)

// Event is published after an order changes state.
type Event struct {
	Type       EventType
	Order      *Order
	OccurredAt time.Time
}

// NewEvent returns an event of type t for o stamped with the current time.
func NewEvent(t EventType, o *Order) Event {
	return Event{Type: t, Order: o, OccurredAt: time.Now().UTC()}
}

// Publisher delivers order events. Delivery is best-effort: the order is
// already durable when an event is published.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// NopPublisher discards events.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(context.Context, Event) error { return nil }
