// Package kafka publishes order lifecycle events to a Kafka topic.
package kafka

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/xenking/scanbill/internal/domain/order"
)

// MessageWriter is the part of *kafka.Writer used by Publisher.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

var _ order.Publisher = (*Publisher)(nil)

// Publisher writes order events keyed by order id, so all events of one
// order land on the same partition in order.
type Publisher struct {
	w MessageWriter
}

// NewWriter returns a kafka.Writer for the comma separated broker list.
func NewWriter(brokersCSV, topic string) (*kafka.Writer, error) {
	var brokers []string
	for _, b := range strings.Split(brokersCSV, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	if len(brokers) == 0 {
		return nil, errors.New("no kafka brokers")
	}
	if topic == "" {
		return nil, errors.New("no kafka topic")
	}
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		WriteTimeout: 10 * time.Second,
	}, nil
}

// NewPublisher creates a Publisher on top of w.
func NewPublisher(w MessageWriter) *Publisher {
	return &Publisher{w: w}
}

// Publish implements order.Publisher.
func (p *Publisher) Publish(ctx context.Context, e order.Event) error {
	if e.Order == nil {
		return errors.New("event without order")
	}

	id := uuid.New().String()
	msg := kafka.Message{
		Key:   []byte(e.Order.ID),
		Value: EncodeEvent(id, e),
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(e.Type)},
			{Key: "event_id", Value: []byte(id)},
		},
		Time: e.OccurredAt,
	}

	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return errors.Wrapf(err, "write %s event", e.Type)
	}

	zctx.From(ctx).Debug("Event published",
		zap.String("event_id", id),
		zap.String("event_type", string(e.Type)),
		zap.String("order_id", e.Order.ID),
	)
	return nil
}

// Close flushes pending messages and closes the writer.
func (p *Publisher) Close() error {
	return p.w.Close()
}

// EncodeEvent returns the JSON form of an order event.
func EncodeEvent(id string, ev order.Event) []byte {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(id) })
		e.Field("type", func(e *jx.Encoder) { e.Str(string(ev.Type)) })
		e.Field("occurred_at", func(e *jx.Encoder) { e.Str(ev.OccurredAt.UTC().Format(time.RFC3339Nano)) })
		e.Field("order", func(e *jx.Encoder) { encodeOrder(e, ev.Order) })
	})
	return e.Bytes()
}

func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(o.ID) })
		e.Field("user_id", func(e *jx.Encoder) { e.Str(o.UserID) })
		e.Field("store_id", func(e *jx.Encoder) { e.Str(o.StoreID) })
		e.Field("status", func(e *jx.Encoder) { e.Str(string(o.Status)) })
		e.Field("subtotal", func(e *jx.Encoder) { e.Str(o.Subtotal.StringFixed(2)) })
		e.Field("tax", func(e *jx.Encoder) { e.Str(o.Tax.StringFixed(2)) })
		e.Field("discount", func(e *jx.Encoder) { e.Str(o.Discount.StringFixed(2)) })
		e.Field("total", func(e *jx.Encoder) { e.Str(o.Total.StringFixed(2)) })
		e.Field("currency", func(e *jx.Encoder) { e.Str(o.Currency) })
		e.Field("payment", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field("method", func(e *jx.Encoder) { e.Str(string(o.Payment.Method)) })
				e.Field("status", func(e *jx.Encoder) { e.Str(string(o.Payment.Status)) })
				if o.Payment.ProviderTxnID != "" {
					e.Field("provider_txn_id", func(e *jx.Encoder) { e.Str(o.Payment.ProviderTxnID) })
				}
			})
		})
		e.Field("items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, it := range o.Items {
					e.Obj(func(e *jx.Encoder) {
						e.Field("serial_number", func(e *jx.Encoder) { e.Str(it.SerialNumber) })
						e.Field("product_id", func(e *jx.Encoder) { e.Str(it.ProductID) })
						e.Field("name", func(e *jx.Encoder) { e.Str(it.Name) })
						e.Field("price", func(e *jx.Encoder) { e.Str(it.Price.StringFixed(2)) })
						e.Field("quantity", func(e *jx.Encoder) { e.Int(it.Quantity) })
					})
				}
			})
		})
		e.Field("created_at", func(e *jx.Encoder) { e.Str(o.CreatedAt.UTC().Format(time.RFC3339Nano)) })
	})
}
