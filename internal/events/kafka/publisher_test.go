package kafka

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/scanbill/internal/domain/order"
)

type mockWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (m *mockWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if m.err != nil {
		return m.err
	}
	m.msgs = append(m.msgs, msgs...)
	return nil
}

func (m *mockWriter) Close() error {
	m.closed = true
	return nil
}

func testOrder() *order.Order {
	return &order.Order{
		ID:      "o1",
		UserID:  "U1",
		StoreID: "T1",
		Items: []order.Item{
			{SerialNumber: "S1", ProductID: "p1", Name: "Jacket", Price: decimal.RequireFromString("45"), Quantity: 1},
		},
		Subtotal:  decimal.RequireFromString("45"),
		Total:     decimal.RequireFromString("45"),
		Currency:  "INR",
		Status:    order.StatusPaid,
		Payment:   order.Payment{Method: order.PaymentCash, Status: order.PaymentSuccess},
		CreatedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestPublisher_Publish(t *testing.T) {
	w := &mockWriter{}
	p := NewPublisher(w)

	ev := order.NewEvent(order.EventCreated, testOrder())
	require.NoError(t, p.Publish(context.Background(), ev))

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "o1", string(msg.Key))
	require.Len(t, msg.Headers, 2)
	assert.Equal(t, "event_type", msg.Headers[0].Key)
	assert.Equal(t, "order.created", string(msg.Headers[0].Value))

	fields := map[string]string{}
	var items int
	err := jx.DecodeBytes(msg.Value).Obj(func(d *jx.Decoder, key string) error {
		if key != "order" {
			v, err := d.Str()
			fields[key] = v
			return err
		}
		return d.Obj(func(d *jx.Decoder, key string) error {
			switch key {
			case "total", "status", "store_id":
				v, err := d.Str()
				fields["order."+key] = v
				return err
			case "items":
				return d.Arr(func(d *jx.Decoder) error {
					items++
					return d.Skip()
				})
			default:
				return d.Skip()
			}
		})
	})
	require.NoError(t, err)

	assert.Equal(t, string(msg.Headers[1].Value), fields["id"])
	assert.Equal(t, "order.created", fields["type"])
	assert.Equal(t, "45.00", fields["order.total"])
	assert.Equal(t, "PAID", fields["order.status"])
	assert.Equal(t, "T1", fields["order.store_id"])
	assert.Equal(t, 1, items)
}

func TestPublisher_WriteError(t *testing.T) {
	w := &mockWriter{err: errors.New("leader not available")}
	p := NewPublisher(w)

	err := p.Publish(context.Background(), order.NewEvent(order.EventPaid, testOrder()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "order.paid")

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestPublisher_RejectsEmptyEvent(t *testing.T) {
	p := NewPublisher(&mockWriter{})
	require.Error(t, p.Publish(context.Background(), order.Event{Type: order.EventCreated}))
}

func TestNewWriter(t *testing.T) {
	w, err := NewWriter(" broker-1:9092, ,broker-2:9092", "orders")
	require.NoError(t, err)
	assert.Equal(t, "orders", w.Topic)

	_, err = NewWriter("", "orders")
	require.Error(t, err)
	_, err = NewWriter("broker:9092", "")
	require.Error(t, err)
}
